package resource

import (
	"strings"

	"github.com/valyala/fasthttp"
)

const (
	paramVersion     = "v"
	paramDataBytes   = "db"
	paramDataObject  = "do"
	paramLibraryName = "ln"
)

// DefaultCodec keeps the resource name as the path and carries version and
// data in query parameters: name?v=<version>&db=<bytes> or &do=<object>.
type DefaultCodec struct{}

func NewDefaultCodec() *DefaultCodec {
	return &DefaultCodec{}
}

func (c *DefaultCodec) EncodeResource(name string, data interface{}, version string) (string, error) {
	var encoded string
	var isBytes bool

	if data != nil {
		var err error
		encoded, isBytes, err = encodeData(data)
		if err != nil {
			return "", err
		}
	}

	return buildDefaultPath(name, version, encoded, data != nil, isBytes), nil
}

func buildDefaultPath(name, version, data string, hasData, isBytes bool) string {
	args := fasthttp.AcquireArgs()
	defer fasthttp.ReleaseArgs(args)

	if version != "" {
		args.Add(paramVersion, version)
	}

	if hasData {
		if isBytes {
			args.Add(paramDataBytes, data)
		} else {
			args.Add(paramDataObject, data)
		}
	}

	if args.Len() == 0 {
		return name
	}
	return name + "?" + args.String()
}

func (c *DefaultCodec) DecodeResourceName(requestPath string) string {
	name, _ := splitQuery(requestPath)
	return name
}

func (c *DefaultCodec) DecodeResourceData(requestPath string) (interface{}, error) {
	args := parseQuery(requestPath)
	defer fasthttp.ReleaseArgs(args)

	if args.Has(paramDataBytes) {
		return decodeBytesData(string(args.Peek(paramDataBytes)))
	}
	if args.Has(paramDataObject) {
		return decodeObjectData(string(args.Peek(paramDataObject)))
	}
	return nil, nil
}

func (c *DefaultCodec) DecodeResourceVersion(requestPath string) string {
	args := parseQuery(requestPath)
	defer fasthttp.ReleaseArgs(args)

	return string(args.Peek(paramVersion))
}

func (c *DefaultCodec) DecodeLibraryName(requestPath string) string {
	args := parseQuery(requestPath)
	defer fasthttp.ReleaseArgs(args)

	return string(args.Peek(paramLibraryName))
}

// GetResourceKey rebuilds the path from the parameters the codec knows, so
// parameter order and unrelated parameters do not split the cache.
func (c *DefaultCodec) GetResourceKey(requestPath string) string {
	args := parseQuery(requestPath)
	defer fasthttp.ReleaseArgs(args)

	name, _ := splitQuery(requestPath)
	version := string(args.Peek(paramVersion))

	switch {
	case args.Has(paramDataBytes):
		return buildDefaultPath(name, version, string(args.Peek(paramDataBytes)), true, true)
	case args.Has(paramDataObject):
		return buildDefaultPath(name, version, string(args.Peek(paramDataObject)), true, false)
	default:
		return buildDefaultPath(name, version, "", false, false)
	}
}

func splitQuery(requestPath string) (string, string) {
	if i := strings.IndexByte(requestPath, '?'); i >= 0 {
		return requestPath[:i], requestPath[i+1:]
	}
	return requestPath, ""
}

// parseQuery returns pooled args; callers release them.
func parseQuery(requestPath string) *fasthttp.Args {
	args := fasthttp.AcquireArgs()
	if _, query := splitQuery(requestPath); query != "" {
		args.Parse(query)
	}
	return args
}
