package resource

import "time"

// Resource is the identity every servable artifact exposes. The remaining
// capabilities are optional and discovered with type assertions.
type Resource interface {
	ResourceName() string
	SetResourceName(name string)
	LibraryName() string
	SetLibraryName(name string)
	ContentType() string
}

type ByteProducer interface {
	Produce(ctx *Context) ([]byte, error)
}

// Cacheable resources control the caching headers of their responses. A zero
// LastModified falls back to the handler start time; a zero Expires and a
// non-positive TimeToLive select the default TTL.
type Cacheable interface {
	IsCacheable(ctx *Context) bool
	LastModified(ctx *Context) time.Time
	Expires(ctx *Context) time.Time
	TimeToLive(ctx *Context) int
}

// Sized resources know their length in bytes up front; -1 means unknown.
type Sized interface {
	ContentLength(ctx *Context) int
}

// Tagged resources compute their own entity tag instead of the default
// length and modification time based one.
type Tagged interface {
	EntityTag(ctx *Context) string
}

type Versioned interface {
	Version() string
}

// StatefulConstruction resources carry construction state in their request
// path. The resource owns the byte layout; the handler passes the bytes
// through untouched. A path with an object payload restores from the packed
// msgpack document, so a resource that saves msgpack reads both forms.
type StatefulConstruction interface {
	SaveState(ctx *Context) ([]byte, error)
	RestoreState(ctx *Context, state []byte) error
	IsTransient() bool
}

// UpdateChecker overrides the conditional request evaluation.
type UpdateChecker interface {
	UserAgentNeedsUpdate(ctx *Context) bool
}

// ParameterAware resources receive the parameters appended to their name
// ("name?key=value") when they are created.
type ParameterAware interface {
	PopulateParameters(params map[string]string)
}

// HeaderProvider resources supply their response headers directly.
type HeaderProvider interface {
	ResponseHeaders(ctx *Context) map[string]string
}
