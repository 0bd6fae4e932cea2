package resource

import (
	"strings"

	"github.com/valyala/fasthttp"
)

const (
	legacyVersionMarker = "/VER/"
	legacyBytesMarker   = "/DATB/"
	legacyObjectMarker  = "/DATA/"
)

// LegacyCodec encodes version and data as path segments:
// name/VER/<version>/DATB/<bytes> or name/VER/<version>/DATA/<object>.
// The whole request path is the cache key.
type LegacyCodec struct{}

func NewLegacyCodec() *LegacyCodec {
	return &LegacyCodec{}
}

func (c *LegacyCodec) EncodeResource(name string, data interface{}, version string) (string, error) {
	var sb strings.Builder
	sb.WriteString(name)

	if version != "" {
		sb.WriteString(legacyVersionMarker)
		sb.Write(fasthttp.AppendQuotedArg(nil, []byte(version)))
	}

	if data != nil {
		encoded, isBytes, err := encodeData(data)
		if err != nil {
			return "", err
		}

		if isBytes {
			sb.WriteString(legacyBytesMarker)
		} else {
			sb.WriteString(legacyObjectMarker)
		}
		sb.WriteString(encoded)
	}

	return sb.String(), nil
}

type legacyPath struct {
	name      string
	version   string
	data      string
	hasData   bool
	bytesData bool
}

func parseLegacyPath(requestPath string) legacyPath {
	path, _ := splitQuery(requestPath)

	var p legacyPath

	if i := strings.Index(path, legacyBytesMarker); i >= 0 {
		p.data, p.hasData, p.bytesData = path[i+len(legacyBytesMarker):], true, true
		path = path[:i]
	} else if i := strings.Index(path, legacyObjectMarker); i >= 0 {
		p.data, p.hasData = path[i+len(legacyObjectMarker):], true
		path = path[:i]
	}

	if i := strings.Index(path, legacyVersionMarker); i >= 0 {
		p.version = string(fasthttp.AppendUnquotedArg(nil, []byte(path[i+len(legacyVersionMarker):])))
		path = path[:i]
	}

	p.name = path
	return p
}

func (c *LegacyCodec) DecodeResourceName(requestPath string) string {
	return parseLegacyPath(requestPath).name
}

func (c *LegacyCodec) DecodeResourceData(requestPath string) (interface{}, error) {
	p := parseLegacyPath(requestPath)

	switch {
	case !p.hasData:
		return nil, nil
	case p.bytesData:
		return decodeBytesData(p.data)
	default:
		return decodeObjectData(p.data)
	}
}

func (c *LegacyCodec) DecodeResourceVersion(requestPath string) string {
	return parseLegacyPath(requestPath).version
}

// DecodeLibraryName always returns an empty string; the legacy format has
// no library segment.
func (c *LegacyCodec) DecodeLibraryName(string) string {
	return ""
}

func (c *LegacyCodec) GetResourceKey(requestPath string) string {
	return requestPath
}
