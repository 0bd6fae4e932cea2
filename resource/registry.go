package resource

import (
	"runtime/debug"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-resources/types"
)

// Factory builds a fresh resource instance for one request.
type Factory func(ctx *Context) (Resource, error)

type registration struct {
	factory Factory
	dynamic bool
}

type RegisterOption func(*registration)

// Dynamic marks a resource as constructible from a request path without
// being listed as allowed.
func Dynamic() RegisterOption {
	return func(r *registration) {
		r.dynamic = true
	}
}

// Registry maps resource names to factories. A registered name is only
// constructed for a request when it is dynamic, explicitly allowed, or has a
// marker file in a classpath directory.
type Registry struct {
	logger    types.Logger
	locations Locations
	entries   map[string]registration
	allowed   map[string]struct{}
	mu        sync.RWMutex
}

func NewRegistry(logger types.Logger, locations Locations) *Registry {
	return &Registry{
		logger:    logger,
		locations: locations,
		entries:   make(map[string]registration),
		allowed:   make(map[string]struct{}),
	}
}

func (r *Registry) Register(name string, factory Factory, opts ...RegisterOption) error {
	if name == "" {
		return types.ErrResourceNameEmpty
	}
	if factory == nil {
		return types.Errorf(types.ErrInvalidParameter, "factory for %s is nil", name)
	}

	reg := registration{factory: factory}
	for _, opt := range opts {
		opt(&reg)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; exists {
		return types.Errorf(types.ErrResourceExists, "name: %s", name)
	}

	r.entries[name] = reg

	r.logger.Debug("Resource registered", zap.String("name", name), zap.Bool("dynamic", reg.dynamic))
	return nil
}

func (r *Registry) MarkAllowed(names ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range names {
		if name != "" {
			r.allowed[name] = struct{}{}
		}
	}
}

func (r *Registry) IsRegistered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.entries[name]
	return exists
}

func (r *Registry) IsAllowed(name string) bool {
	r.mu.RLock()
	reg, exists := r.entries[name]
	_, allowed := r.allowed[name]
	r.mu.RUnlock()

	if !exists {
		return false
	}

	return reg.dynamic || allowed || r.locations.HasMarker(name)
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create builds the named resource. Unknown names return ErrResourceNotFound,
// names without a dynamic marker ErrResourceNotAllowed, and factories that
// fail or panic ErrResourceCreateFailed.
func (r *Registry) Create(ctx *Context, name string) (Resource, error) {
	r.mu.RLock()
	reg, exists := r.entries[name]
	r.mu.RUnlock()

	if !exists {
		return nil, types.Errorf(types.ErrResourceNotFound, "name: %s", name)
	}

	if !r.IsAllowed(name) {
		return nil, types.Errorf(types.ErrResourceNotAllowed, "name: %s", name)
	}

	res, err := r.construct(ctx, name, reg.factory)
	if err != nil {
		return nil, err
	}

	res.SetResourceName(name)
	return res, nil
}

func (r *Registry) construct(ctx *Context, name string, factory Factory) (res Resource, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Debug("Resource factory panicked",
				zap.String("name", name),
				zap.String("stack", string(debug.Stack())))
			res, err = nil, types.Errorf(types.ErrResourceCreateFailed, "%s: panic: %v", name, rec)
		}
	}()

	res, err = factory(ctx)
	if err != nil {
		return nil, types.Errorf(types.ErrResourceCreateFailed, "%s: %v", name, err)
	}
	if res == nil {
		return nil, types.Errorf(types.ErrResourceCreateFailed, "%s: factory returned no resource", name)
	}

	return res, nil
}
