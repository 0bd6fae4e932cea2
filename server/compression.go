package server

import (
	"bytes"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-resources/types"
)

const (
	AlgorithmGzip   = "gzip"
	AlgorithmBrotli = "br"

	DefaultCompressionLevel     = 6
	DefaultCompressionThreshold = 1024
	MinCompressionRatio         = 0.05
)

var defaultCompressibleTypes = []string{
	"text/*",
	"application/javascript",
	"application/json",
	"application/xml",
	"image/svg+xml",
}

type compression struct {
	logger       types.Logger
	algorithm    string
	level        int
	threshold    int
	allowedTypes []string
	bufferPool   sync.Pool
}

// Compression encodes successful responses with the configured algorithm
// when the client accepts it. Bodies below the threshold and bodies that do
// not shrink are sent unchanged.
func Compression(logger types.Logger, config *types.CompressionConfig) types.Middleware {
	c := &compression{
		logger:       logger,
		algorithm:    AlgorithmBrotli,
		level:        DefaultCompressionLevel,
		threshold:    DefaultCompressionThreshold,
		allowedTypes: defaultCompressibleTypes,
		bufferPool: sync.Pool{
			New: func() interface{} { return new(bytes.Buffer) },
		},
	}

	if config != nil {
		if config.Algorithm != "" {
			c.algorithm = config.Algorithm
		}
		if config.Level > 0 {
			c.level = config.Level
		}
		if config.Threshold > 0 {
			c.threshold = config.Threshold
		}
		if len(config.AllowedTypes) > 0 {
			c.allowedTypes = config.AllowedTypes
		}
	}

	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			next(ctx)

			if !c.accepts(ctx.Request.Header.Peek(fasthttp.HeaderAcceptEncoding)) {
				return
			}
			if ctx.Response.StatusCode() != fasthttp.StatusOK || ctx.IsHead() {
				return
			}
			if len(ctx.Response.Header.Peek(fasthttp.HeaderContentEncoding)) > 0 {
				return
			}
			if !c.compressible(ctx.Response.Header.ContentType()) {
				return
			}

			c.compress(ctx)
		}
	}
}

func (c *compression) accepts(acceptEncoding []byte) bool {
	return len(acceptEncoding) > 0 && bytes.Contains(acceptEncoding, []byte(c.algorithm))
}

func (c *compression) compressible(contentType []byte) bool {
	ct := string(contentType)
	if semicolon := strings.IndexByte(ct, ';'); semicolon >= 0 {
		ct = ct[:semicolon]
	}
	ct = strings.TrimSpace(strings.ToLower(ct))
	if ct == "" {
		return false
	}

	for _, allowed := range c.allowedTypes {
		if allowed == ct {
			return true
		}
		if prefix, ok := strings.CutSuffix(allowed, "*"); ok && strings.HasPrefix(ct, prefix) {
			return true
		}
	}
	return false
}

func (c *compression) compress(ctx *fasthttp.RequestCtx) {
	body := ctx.Response.Body()
	if len(body) < c.threshold {
		return
	}

	buf := c.bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer c.bufferPool.Put(buf)

	if err := c.encode(buf, body); err != nil {
		c.logger.Warn("Response compression failed", zap.String("algorithm", c.algorithm), zap.Error(err))
		return
	}

	if 1.0-float64(buf.Len())/float64(len(body)) < MinCompressionRatio {
		return
	}

	ctx.Response.Header.Set(fasthttp.HeaderContentEncoding, c.algorithm)
	ctx.Response.SetBody(buf.Bytes())
	ctx.Response.Header.SetContentLength(buf.Len())
	addVary(ctx, fasthttp.HeaderAcceptEncoding)
}

func (c *compression) encode(buf *bytes.Buffer, body []byte) error {
	switch c.algorithm {
	case AlgorithmGzip:
		_, err := fasthttp.WriteGzipLevel(buf, body, c.level)
		return err
	case AlgorithmBrotli:
		w := brotli.NewWriterLevel(buf, c.level)
		if _, err := w.Write(body); err != nil {
			return err
		}
		return w.Close()
	default:
		return types.Errorf(types.ErrNotSupported, "compression algorithm %q", c.algorithm)
	}
}

func addVary(ctx *fasthttp.RequestCtx, header string) {
	existing := string(ctx.Response.Header.Peek(fasthttp.HeaderVary))
	switch {
	case existing == "":
		ctx.Response.Header.Set(fasthttp.HeaderVary, header)
	case !strings.Contains(existing, header):
		ctx.Response.Header.Set(fasthttp.HeaderVary, existing+", "+header)
	}
}
