package types

import (
	"strconv"
	"time"
)

// Cache is a named store of resource snapshots keyed by resource key.
// A zero expires value means the entry is only bounded by capacity.
type Cache interface {
	LifecycleManager
	Get(key string) (interface{}, bool, error)
	Put(key string, value interface{}, expires time.Time) error
	// PutIfAbsent stores value unless a live entry exists and returns the
	// value that is visible after the call together with whether it was stored.
	PutIfAbsent(key string, value interface{}, expires time.Time) (interface{}, bool, error)
	Remove(key string) error
}

// Sweeper is implemented by caches that can drop expired entries eagerly.
type Sweeper interface {
	Sweep() (int, error)
}

type CacheFactory interface {
	Name() string
	CreateCache(env CacheEnv) (Cache, error)
}

type CacheFactoryFunc func(env CacheEnv) (Cache, error)

// CacheEnv carries the parameters a factory is created with.
type CacheEnv map[string]interface{}

func (e CacheEnv) String(key string) string {
	if e == nil {
		return ""
	}

	switch v := e[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

func (e CacheEnv) Section(key string) interface{} {
	if e == nil {
		return nil
	}
	return e[key]
}

func (e CacheEnv) Clone() CacheEnv {
	clone := make(CacheEnv, len(e))
	for k, v := range e {
		clone[k] = v
	}
	return clone
}

type CacheStats struct {
	Size        int    `json:"size"`
	Capacity    int    `json:"capacity"`
	Hits        uint64 `json:"hits"`
	Misses      uint64 `json:"misses"`
	Evictions   uint64 `json:"evictions"`
	Expirations uint64 `json:"expirations"`
}
