package render

import (
	"fmt"
	"image/color"
	"math"
	"strings"

	"gonum.org/v1/plot/palette"
)

// stop is one control point of a gradient at position pos in [0, 1].
type stop struct {
	pos float64
	c   color.NRGBA
}

func rgb(hex uint32) color.NRGBA {
	return color.NRGBA{R: uint8(hex >> 16), G: uint8(hex >> 8), B: uint8(hex), A: 255}
}

func even(hexes ...uint32) []stop {
	out := make([]stop, len(hexes))
	for i, h := range hexes {
		out[i] = stop{pos: float64(i) / float64(len(hexes)-1), c: rgb(h)}
	}
	return out
}

var gradients = map[string][]stop{
	"viridis": even(0x440154, 0x482878, 0x3e4989, 0x31688e, 0x26828e, 0x1f9e89, 0x35b779, 0x6ece58, 0xb5de2b, 0xfde725),
	"mako":    even(0x0b0405, 0x2e1e3c, 0x413d7b, 0x37659e, 0x348fa7, 0x40b7ad, 0x8bdab2, 0xdef5e5),
	"terrain": {
		{0, rgb(0x333399)},
		{0.15, rgb(0x0099ff)},
		{0.25, rgb(0x00cc66)},
		{0.5, rgb(0xffff99)},
		{0.75, rgb(0x805c54)},
		{1, rgb(0xffffff)},
	},
	"greys": even(0xffffff, 0x000000),
}

// Colormap returns the named gradient as a gonum ColorMap. A "_r" suffix
// reverses it, matching the usual matplotlib naming.
func Colormap(name string) (palette.ColorMap, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	reversed := strings.HasSuffix(key, "_r")
	key = strings.TrimSuffix(key, "_r")
	stops, ok := gradients[key]
	if !ok {
		return nil, fmt.Errorf("unknown colormap %q", name)
	}
	if reversed {
		rev := make([]stop, len(stops))
		for i, s := range stops {
			rev[len(stops)-1-i] = stop{pos: 1 - s.pos, c: s.c}
		}
		stops = rev
	}
	return &gradient{stops: stops, min: 0, max: 1, alpha: 1}, nil
}

var _ palette.ColorMap = (*gradient)(nil)

// gradient is a piecewise-linear palette.ColorMap over RGB stops.
type gradient struct {
	stops    []stop
	min, max float64
	alpha    float64
}

func (g *gradient) At(v float64) (color.Color, error) {
	switch {
	case math.IsNaN(v):
		return nil, palette.ErrNaN
	case v < g.min:
		return nil, palette.ErrUnderflow
	case v > g.max:
		return nil, palette.ErrOverflow
	}
	t := 0.0
	if g.max > g.min {
		t = (v - g.min) / (g.max - g.min)
	}
	return g.at(t), nil
}

func (g *gradient) at(t float64) color.Color {
	s := g.stops
	if t <= s[0].pos {
		return g.withAlpha(s[0].c)
	}
	for i := 1; i < len(s); i++ {
		if t <= s[i].pos {
			f := (t - s[i-1].pos) / (s[i].pos - s[i-1].pos)
			return g.withAlpha(color.NRGBA{
				R: lerp(s[i-1].c.R, s[i].c.R, f),
				G: lerp(s[i-1].c.G, s[i].c.G, f),
				B: lerp(s[i-1].c.B, s[i].c.B, f),
				A: 255,
			})
		}
	}
	return g.withAlpha(s[len(s)-1].c)
}

func (g *gradient) withAlpha(c color.NRGBA) color.Color {
	c.A = uint8(math.Round(g.alpha * 255))
	return c
}

func lerp(a, b uint8, f float64) uint8 {
	return uint8(math.Round(float64(a) + (float64(b)-float64(a))*f))
}

func (g *gradient) Max() float64       { return g.max }
func (g *gradient) Min() float64       { return g.min }
func (g *gradient) SetMax(v float64)   { g.max = v }
func (g *gradient) SetMin(v float64)   { g.min = v }
func (g *gradient) Alpha() float64     { return g.alpha }
func (g *gradient) SetAlpha(a float64) { g.alpha = a }

// Palette samples n evenly spaced colors.
func (g *gradient) Palette(n int) palette.Palette {
	cols := make([]color.Color, n)
	for i := range cols {
		t := 0.0
		if n > 1 {
			t = float64(i) / float64(n-1)
		}
		cols[i] = g.at(t)
	}
	return colors(cols)
}

type colors []color.Color

func (c colors) Colors() []color.Color { return c }
