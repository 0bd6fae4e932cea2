package resource

import (
	"mime"
	"path"
	"time"
)

const defaultContentType = "application/octet-stream"

// Base carries the attributes most resources share. The zero value is a
// cacheable resource whose content type is derived from its name.
type Base struct {
	name         string
	library      string
	contentType  string
	version      string
	notCacheable bool
	ttl          int
	expires      time.Time
	lastModified time.Time
}

func NewBase(contentType string) Base {
	return Base{contentType: contentType}
}

func (b *Base) ResourceName() string {
	return b.name
}

func (b *Base) SetResourceName(name string) {
	b.name = name
}

func (b *Base) LibraryName() string {
	return b.library
}

func (b *Base) SetLibraryName(name string) {
	b.library = name
}

func (b *Base) ContentType() string {
	if b.contentType != "" {
		return b.contentType
	}
	if ct := mime.TypeByExtension(path.Ext(b.name)); ct != "" {
		return ct
	}
	return defaultContentType
}

func (b *Base) SetContentType(contentType string) {
	b.contentType = contentType
}

func (b *Base) Version() string {
	return b.version
}

func (b *Base) SetVersion(version string) {
	b.version = version
}

func (b *Base) IsCacheable(*Context) bool {
	return !b.notCacheable
}

func (b *Base) SetCacheable(cacheable bool) {
	b.notCacheable = !cacheable
}

func (b *Base) LastModified(ctx *Context) time.Time {
	if b.lastModified.IsZero() {
		return ctx.StartTime()
	}
	return b.lastModified
}

func (b *Base) SetLastModified(t time.Time) {
	b.lastModified = t
}

func (b *Base) Expires(*Context) time.Time {
	return b.expires
}

func (b *Base) SetExpires(t time.Time) {
	b.expires = t
}

// TimeToLive is in seconds.
func (b *Base) TimeToLive(*Context) int {
	return b.ttl
}

func (b *Base) SetTimeToLive(seconds int) {
	b.ttl = seconds
}

func (b *Base) ContentLength(*Context) int {
	return -1
}
