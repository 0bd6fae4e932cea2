package resource

import (
	"os"
	"regexp"
	"strings"

	"github.com/saiset-co/sai-resources/types"
)

const (
	ECSSSuffix = ".ecss"

	stylesheetContentType = "text/css"
)

var skinReference = regexp.MustCompile(`#\{\s*(?:richSkin|a4jSkin)\.([A-Za-z0-9_]+)\s*\}`)

// CompiledCSS serves a stylesheet template with skin parameter references
// replaced by their values. The skin hash is its state so a skin change
// yields a new request path.
type CompiledCSS struct {
	Base
	path      string
	locations Locations
}

func NewCompiledCSS(path string, locations Locations) *CompiledCSS {
	css := &CompiledCSS{
		Base:      NewBase(stylesheetContentType),
		path:      path,
		locations: locations,
	}
	css.SetResourceName(path)
	return css
}

func IsCompiledCSS(name string) bool {
	return strings.HasSuffix(name, ECSSSuffix)
}

// sourcePath cuts anything following the .ecss extension.
func (c *CompiledCSS) sourcePath() (string, bool) {
	i := strings.LastIndex(c.path, ECSSSuffix)
	if i < 0 {
		return "", false
	}
	return c.path[:i+len(ECSSSuffix)], true
}

func (c *CompiledCSS) Produce(ctx *Context) ([]byte, error) {
	source, ok := c.sourcePath()
	if !ok {
		return nil, types.Errorf(types.ErrResourceNotFound, "%s is not a compiled stylesheet", c.path)
	}

	file, info, ok := c.locations.Find(source)
	if !ok {
		return nil, types.Errorf(types.ErrResourceNotFound, "stylesheet %s", source)
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return nil, types.WrapError(err, "failed to read stylesheet "+source)
	}

	if c.Base.lastModified.IsZero() {
		c.SetLastModified(info.ModTime())
	}

	skin := ctx.Skin()
	return skinReference.ReplaceAllFunc(data, func(ref []byte) []byte {
		name := skinReference.FindSubmatch(ref)[1]
		value, _ := skin.Parameter(string(name))
		return []byte(value)
	}), nil
}

// IsCacheable is false in development so template edits show up at once.
func (c *CompiledCSS) IsCacheable(ctx *Context) bool {
	return !ctx.IsDevelopment() && c.Base.IsCacheable(ctx)
}

func (c *CompiledCSS) UserAgentNeedsUpdate(ctx *Context) bool {
	if ctx.IsDevelopment() {
		return true
	}
	return DefaultNeedsUpdate(ctx, c)
}

// SaveState writes the skin hash as a little-endian int.
func (c *CompiledCSS) SaveState(ctx *Context) ([]byte, error) {
	return NewNumericDataOutput().WriteInt(int32(ctx.Skin().HashCode())).Bytes(), nil
}

// RestoreState ignores the state; the current skin is always used.
func (c *CompiledCSS) RestoreState(*Context, []byte) error {
	return nil
}

func (c *CompiledCSS) IsTransient() bool {
	return false
}
