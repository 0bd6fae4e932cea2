package resource

import (
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-resources/utils"
)

// DefaultTTL is the max-age in seconds of cacheable resources that declare
// neither a TTL nor an expiration date.
const DefaultTTL = 86400

const (
	HeaderContentType     = "Content-Type"
	HeaderContentLength   = "Content-Length"
	HeaderLastModified    = "Last-Modified"
	HeaderExpires         = "Expires"
	HeaderCacheControl    = "Cache-Control"
	HeaderPragma          = "Pragma"
	HeaderETag            = "ETag"
	HeaderDate            = "Date"
	HeaderIfModifiedSince = "If-Modified-Since"
	HeaderIfNoneMatch     = "If-None-Match"
)

const (
	noCacheControl = "max-age=0, no-store, no-cache"
	weakTagPrefix  = "W/"

	// If-Modified-Since only carries whole seconds.
	modificationTolerance = 1000 * time.Millisecond
)

// cacheControl is everything the protocol needs to know about a resource,
// resolved once so the snapshot and the live resource are treated alike.
type cacheControl struct {
	cacheable    bool
	contentType  string
	length       int
	lastModified time.Time
	expires      time.Time
	ttl          int
	tag          string
}

func describe(ctx *Context, r Resource, length int) cacheControl {
	d := cacheControl{
		contentType:  r.ContentType(),
		length:       length,
		lastModified: ctx.StartTime(),
	}

	if c, ok := r.(Cacheable); ok {
		d.cacheable = c.IsCacheable(ctx)
		d.expires = c.Expires(ctx)
		d.ttl = c.TimeToLive(ctx)
		if lm := c.LastModified(ctx); !lm.IsZero() {
			d.lastModified = lm
		}
	}

	if t, ok := r.(Tagged); ok {
		d.tag = t.EntityTag(ctx)
	} else if length >= 0 {
		d.tag = FormatWeakTag(strconv.Itoa(length) + "-" + strconv.FormatInt(d.lastModified.UnixMilli(), 10))
	}

	return d
}

func (d cacheControl) expiration(now time.Time) time.Time {
	switch {
	case d.ttl > 0:
		return now.Add(time.Duration(d.ttl) * time.Second)
	case !d.expires.IsZero():
		return d.expires
	default:
		return now.Add(DefaultTTL * time.Second)
	}
}

func (d cacheControl) maxAge(now time.Time) int64 {
	switch {
	case d.ttl > 0:
		return int64(d.ttl)
	case !d.expires.IsZero():
		return d.expires.Sub(now).Milliseconds() / 1000
	default:
		return DefaultTTL
	}
}

func (d cacheControl) headers(now time.Time) map[string]string {
	headers := make(map[string]string, 8)

	if d.length >= 0 {
		headers[HeaderContentLength] = strconv.Itoa(d.length)
	}
	if d.contentType != "" {
		headers[HeaderContentType] = d.contentType
	}
	headers[HeaderLastModified] = FormatHTTPDate(d.lastModified)

	if d.cacheable {
		headers[HeaderExpires] = FormatHTTPDate(d.expiration(now))
		if maxAge := d.maxAge(now); maxAge > 0 {
			headers[HeaderCacheControl] = "max-age=" + strconv.FormatInt(maxAge, 10)
		}
		if d.tag != "" {
			headers[HeaderETag] = d.tag
		}
	} else {
		headers[HeaderExpires] = "0"
		headers[HeaderCacheControl] = noCacheControl
		headers[HeaderPragma] = "no-cache"
	}

	headers[HeaderDate] = FormatHTTPDate(now)
	return headers
}

// needsUpdate requires every validator the client sent to match. A request
// without validators always gets the full response.
func (d cacheControl) needsUpdate(ctx *Context) bool {
	if !d.cacheable {
		return true
	}

	hasModified := ctx.HasHeader(HeaderIfModifiedSince)
	hasMatch := ctx.HasHeader(HeaderIfNoneMatch)

	if !hasModified && !hasMatch {
		return true
	}

	if hasMatch && (d.tag == "" || !MatchTag(d.tag, ctx.Header(HeaderIfNoneMatch))) {
		return true
	}

	if hasModified && !isUserCopyActual(d.lastModified, ctx.Header(HeaderIfModifiedSince)) {
		return true
	}

	return false
}

func isUserCopyActual(lastModified time.Time, modifiedSince string) bool {
	since, err := ParseHTTPDate(modifiedSince)
	if err != nil {
		return false
	}
	return lastModified.Sub(since) <= modificationTolerance
}

func contentLength(ctx *Context, r Resource) int {
	if s, ok := r.(Sized); ok {
		return s.ContentLength(ctx)
	}
	return -1
}

// NeedsUpdate reports whether the client has to receive the resource body.
func NeedsUpdate(ctx *Context, r Resource) bool {
	if u, ok := r.(UpdateChecker); ok {
		return u.UserAgentNeedsUpdate(ctx)
	}
	return DefaultNeedsUpdate(ctx, r)
}

// DefaultNeedsUpdate evaluates If-None-Match and If-Modified-Since without
// consulting UpdateChecker; overrides call it to fall back.
func DefaultNeedsUpdate(ctx *Context, r Resource) bool {
	return describe(ctx, r, contentLength(ctx, r)).needsUpdate(ctx)
}

func ResponseHeaders(ctx *Context, r Resource) map[string]string {
	if p, ok := r.(HeaderProvider); ok {
		return p.ResponseHeaders(ctx)
	}
	return describe(ctx, r, contentLength(ctx, r)).headers(ctx.Now())
}

// EntityTag returns the resource's entity tag or an empty string when none
// can be derived.
func EntityTag(ctx *Context, r Resource) string {
	return describe(ctx, r, contentLength(ctx, r)).tag
}

// ExpirationDate is the moment a cached copy of the resource goes stale.
func ExpirationDate(ctx *Context, r Resource) time.Time {
	return describe(ctx, r, contentLength(ctx, r)).expiration(ctx.Now())
}

func IsCacheable(ctx *Context, r Resource) bool {
	c, ok := r.(Cacheable)
	return ok && c.IsCacheable(ctx)
}

func FormatWeakTag(value string) string {
	return weakTagPrefix + `"` + value + `"`
}

// MatchTag reports whether tag matches any entry of an If-None-Match list
// using weak comparison.
func MatchTag(tag, header string) bool {
	want := strings.TrimPrefix(tag, weakTagPrefix)

	for _, candidate := range utils.SplitList(header) {
		if candidate == "*" {
			return true
		}
		if strings.TrimPrefix(candidate, weakTagPrefix) == want {
			return true
		}
	}

	return false
}

func FormatHTTPDate(t time.Time) string {
	return string(fasthttp.AppendHTTPDate(nil, t))
}

func ParseHTTPDate(value string) (time.Time, error) {
	return fasthttp.ParseHTTPDate([]byte(value))
}
