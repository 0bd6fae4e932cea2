package resource

import (
	"time"

	"github.com/saiset-co/sai-resources/types"
)

// CachedResource is an immutable snapshot of a resource taken once when it
// enters the cache. Its fields are exported so that caches living outside
// the process can serialize it.
type CachedResource struct {
	Name       string            `msgpack:"name"`
	Library    string            `msgpack:"library"`
	Type       string            `msgpack:"content_type"`
	Body       []byte            `msgpack:"body"`
	Headers    map[string]string `msgpack:"headers"`
	Cache      bool              `msgpack:"cacheable"`
	Modified   time.Time         `msgpack:"last_modified"`
	Tag        string            `msgpack:"entity_tag"`
	Expiration time.Time         `msgpack:"expiration"`
}

// NewCachedResource produces the resource body and captures its response
// headers. Only the Date header is recomputed when the snapshot is served.
func NewCachedResource(ctx *Context, r Resource) (*CachedResource, error) {
	producer, ok := r.(ByteProducer)
	if !ok {
		return nil, types.Errorf(types.ErrResourceCreateFailed, "%s produces no content", r.ResourceName())
	}

	body, err := producer.Produce(ctx)
	if err != nil {
		return nil, types.WrapError(err, "failed to produce "+r.ResourceName())
	}
	if body == nil {
		body = []byte{}
	}

	d := describe(ctx, r, len(body))
	headers := d.headers(ctx.Now())
	delete(headers, HeaderDate)

	return &CachedResource{
		Name:       r.ResourceName(),
		Library:    r.LibraryName(),
		Type:       d.contentType,
		Body:       body,
		Headers:    headers,
		Cache:      d.cacheable,
		Modified:   d.lastModified,
		Tag:        d.tag,
		Expiration: d.expiration(ctx.Now()),
	}, nil
}

func (c *CachedResource) ResourceName() string {
	return c.Name
}

// SetResourceName is ignored; a snapshot never changes.
func (c *CachedResource) SetResourceName(string) {}

func (c *CachedResource) LibraryName() string {
	return c.Library
}

func (c *CachedResource) SetLibraryName(string) {}

func (c *CachedResource) ContentType() string {
	return c.Type
}

func (c *CachedResource) Produce(*Context) ([]byte, error) {
	return c.Body, nil
}

func (c *CachedResource) IsCacheable(*Context) bool {
	return c.Cache
}

func (c *CachedResource) LastModified(*Context) time.Time {
	return c.Modified
}

func (c *CachedResource) Expires(*Context) time.Time {
	return c.Expiration
}

func (c *CachedResource) TimeToLive(*Context) int {
	return 0
}

func (c *CachedResource) ContentLength(*Context) int {
	return len(c.Body)
}

func (c *CachedResource) EntityTag(*Context) string {
	return c.Tag
}

func (c *CachedResource) ResponseHeaders(ctx *Context) map[string]string {
	headers := make(map[string]string, len(c.Headers)+1)
	for k, v := range c.Headers {
		headers[k] = v
	}
	headers[HeaderDate] = FormatHTTPDate(ctx.Now())
	return headers
}
