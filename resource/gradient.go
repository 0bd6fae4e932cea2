package resource

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"strconv"
	"strings"

	"github.com/saiset-co/sai-resources/types"
)

const (
	GradientResourceName = "org.richfaces.images.HeaderGradient"

	gradientWidth  = 20
	gradientHeight = 150

	defaultGradientColor = "#d4cfc7"
)

// GradientImage paints a diagonal gradient from white to the skin's header
// gradient color. The color is its construction state, so a request path
// pins the image regardless of later skin changes.
type GradientImage struct {
	Base
	color color.RGBA
}

// NewGradientImage is a Factory reading the color from the request skin.
func NewGradientImage(ctx *Context) (Resource, error) {
	value, ok := ctx.Skin().Parameter(SkinHeaderGradientColor)
	if !ok {
		value = defaultGradientColor
	}

	c, err := ParseColor(value)
	if err != nil {
		return nil, err
	}

	g := &GradientImage{
		Base:  NewBase("image/png"),
		color: c,
	}
	g.SetVersion(ctx.Version())
	return g, nil
}

func (g *GradientImage) Color() color.RGBA {
	return g.color
}

// SaveState writes the color as three little-endian bytes.
func (g *GradientImage) SaveState(*Context) ([]byte, error) {
	return NewNumericDataOutput().WriteColor(g.color).Bytes(), nil
}

func (g *GradientImage) RestoreState(_ *Context, state []byte) error {
	c, err := NewNumericDataInput(state).ReadColor()
	if err != nil {
		return err
	}

	g.color = c
	return nil
}

func (g *GradientImage) IsTransient() bool {
	return false
}

func (g *GradientImage) EntityTag(*Context) string {
	rgb := uint32(g.color.R)<<16 | uint32(g.color.G)<<8 | uint32(g.color.B)
	return FormatWeakTag(strconv.FormatUint(uint64(rgb), 16))
}

func (g *GradientImage) Produce(*Context) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, gradientWidth, gradientHeight))

	// Project every pixel onto the diagonal from (0,0) to (w,h).
	const w, h = float64(gradientWidth), float64(gradientHeight)
	const norm = w*w + h*h

	for y := 0; y < gradientHeight; y++ {
		for x := 0; x < gradientWidth; x++ {
			t := (float64(x)*w + float64(y)*h) / norm
			img.SetRGBA(x, y, blend(color.RGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF}, g.color, t))
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, types.WrapError(err, "failed to encode gradient")
	}
	return buf.Bytes(), nil
}

func blend(from, to color.RGBA, t float64) color.RGBA {
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}

	mix := func(a, b uint8) uint8 {
		return uint8(float64(a) + (float64(b)-float64(a))*t + 0.5)
	}

	return color.RGBA{R: mix(from.R, to.R), G: mix(from.G, to.G), B: mix(from.B, to.B), A: 0xFF}
}

// ParseColor accepts #rrggbb and #rgb.
func ParseColor(value string) (color.RGBA, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(value), "#")

	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return color.RGBA{}, types.Errorf(types.ErrInvalidParameter, "color %q", value)
	}

	rgb, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, types.Errorf(types.ErrInvalidParameter, "color %q: %v", value, err)
	}

	return color.RGBA{R: uint8(rgb >> 16), G: uint8(rgb >> 8), B: uint8(rgb), A: 0xFF}, nil
}
