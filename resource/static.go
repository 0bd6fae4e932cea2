package resource

import (
	"bytes"
	"os"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-resources/types"
)

// DefaultHandler is the next handler in a resource handler chain.
type DefaultHandler interface {
	IsResourceRequest(ctx *fasthttp.RequestCtx) bool
	HandleResourceRequest(ctx *fasthttp.RequestCtx) error
	CreateResource(ctx *Context, name, library, contentType string) (Resource, bool)
	LibraryExists(library string) bool
}

// StaticHandler serves plain files below its prefix from the configured
// locations. It terminates a handler chain.
type StaticHandler struct {
	logger        types.Logger
	prefix        []byte
	mappingSuffix []byte
	locations     Locations
	handlers      []fasthttp.RequestHandler
}

func NewStaticHandler(logger types.Logger, prefix, mappingSuffix string, locations Locations) *StaticHandler {
	h := &StaticHandler{
		logger:        logger,
		prefix:        []byte(prefix),
		mappingSuffix: []byte(mappingSuffix),
		locations:     locations,
	}

	for _, root := range locations.roots() {
		fs := &fasthttp.FS{
			Root:               root,
			PathRewrite:        h.rewritePath,
			AcceptByteRange:    true,
			GenerateIndexPages: false,
			CacheDuration:      10 * time.Second,
			PathNotFound: func(ctx *fasthttp.RequestCtx) {
				ctx.SetStatusCode(fasthttp.StatusNotFound)
			},
		}
		h.handlers = append(h.handlers, fs.NewRequestHandler())
	}

	return h
}

// rewritePath maps /<prefix>/<name><suffix>?ln=<library> to /<library>/<name>.
func (h *StaticHandler) rewritePath(ctx *fasthttp.RequestCtx) []byte {
	path := bytes.TrimPrefix(ctx.Path(), bytes.TrimSuffix(h.prefix, []byte("/")))
	if len(h.mappingSuffix) > 0 {
		path = bytes.TrimSuffix(path, h.mappingSuffix)
	}

	rewritten := make([]byte, 0, len(path)+16)
	if library := ctx.QueryArgs().Peek(paramLibraryName); len(library) > 0 {
		rewritten = append(rewritten, '/')
		rewritten = append(rewritten, library...)
	}
	return append(rewritten, path...)
}

func (h *StaticHandler) IsResourceRequest(ctx *fasthttp.RequestCtx) bool {
	return len(h.prefix) > 0 && bytes.HasPrefix(ctx.Path(), h.prefix)
}

func (h *StaticHandler) HandleResourceRequest(ctx *fasthttp.RequestCtx) error {
	if h.IsResourceRequest(ctx) {
		for _, handler := range h.handlers {
			ctx.Response.Reset()
			handler(ctx)
			if ctx.Response.StatusCode() != fasthttp.StatusNotFound {
				return nil
			}
		}
	}

	h.logger.Debug("Static resource not found", zap.ByteString("path", ctx.Path()))

	ctx.Response.Reset()
	ctx.SetStatusCode(fasthttp.StatusNotFound)
	return nil
}

func (h *StaticHandler) CreateResource(_ *Context, name, library, contentType string) (Resource, bool) {
	path := name
	if library != "" {
		path = library + "/" + name
	}

	file, info, ok := h.locations.Find(path)
	if !ok {
		return nil, false
	}

	r := &FileResource{
		Base: NewBase(contentType),
		file: file,
		size: info.Size(),
	}
	r.SetResourceName(name)
	r.SetLibraryName(library)
	r.SetLastModified(info.ModTime())
	return r, true
}

func (h *StaticHandler) LibraryExists(library string) bool {
	return library != "" && h.locations.FindDir(library)
}

// FileResource is a static file found in one of the resource locations.
type FileResource struct {
	Base
	file string
	size int64
}

func (f *FileResource) Produce(*Context) ([]byte, error) {
	data, err := os.ReadFile(f.file)
	if err != nil {
		return nil, types.WrapError(err, "failed to read "+f.ResourceName())
	}
	return data, nil
}

func (f *FileResource) ContentLength(*Context) int {
	return int(f.size)
}
