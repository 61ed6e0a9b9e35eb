package sitemap

import (
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"github.com/paulmach/orb"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

const staticTitle = "Site Locations in the St. Vrain Watershed"

var (
	streamColor    = color.NRGBA{B: 255, A: 255}
	watershedColor = color.NRGBA{G: 255, B: 255, A: 128}
	siteColors     = []color.Color{
		color.NRGBA{R: 0xd6, G: 0x27, B: 0x28, A: 255},
		color.NRGBA{R: 0xff, G: 0x7f, B: 0x0e, A: 255},
		color.NRGBA{R: 0x94, G: 0x67, B: 0xbd, A: 255},
		color.NRGBA{R: 0x2c, G: 0xa0, B: 0x2c, A: 255},
		color.NRGBA{R: 0x8c, G: 0x56, B: 0x4b, A: 255},
	}
)

// RenderStatic draws the watershed, its streams and the site markers to a
// PNG at path.
func RenderStatic(path string, watershed orb.MultiPolygon, streams orb.MultiLineString, sites []Site) error {
	p := plot.New()
	p.Title.Text = staticTitle
	p.Title.TextStyle.Font.Size = vg.Points(16)
	p.Title.Padding = vg.Points(20)
	p.HideAxes()
	p.Legend.Top = true
	p.Legend.Left = false

	for _, poly := range watershed {
		rings := make([]plotter.XYer, 0, len(poly))
		for _, r := range poly {
			rings = append(rings, pointXYs(r))
		}
		pg, err := plotter.NewPolygon(rings...)
		if err != nil {
			return fmt.Errorf("watershed polygon: %w", err)
		}
		pg.Color = watershedColor
		pg.LineStyle.Width = 0
		p.Add(pg)
	}

	for _, ls := range streams {
		l, err := plotter.NewLine(pointXYs(ls))
		if err != nil {
			return fmt.Errorf("stream line: %w", err)
		}
		l.LineStyle.Color = streamColor
		l.LineStyle.Width = vg.Points(0.8)
		p.Add(l)
	}

	for i, s := range sites {
		sc, err := plotter.NewScatter(plotter.XYs{{X: s.Lon, Y: s.Lat}})
		if err != nil {
			return fmt.Errorf("site %s: %w", s.Name, err)
		}
		sc.GlyphStyle = draw.GlyphStyle{
			Color:  siteColors[i%len(siteColors)],
			Radius: vg.Points(8),
			Shape:  starGlyph{},
		}
		p.Add(sc)
		p.Legend.Add(s.Display, sc)
	}

	c := vgimg.New(8*vg.Inch, 10*vg.Inch)
	p.Draw(draw.New(c))

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := (vgimg.PngCanvas{Canvas: c}).WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("write site map: %w", err)
	}
	return f.Close()
}

func pointXYs[T ~[]orb.Point](pts T) plotter.XYs {
	xys := make(plotter.XYs, len(pts))
	for i, p := range pts {
		xys[i] = plotter.XY{X: p[0], Y: p[1]}
	}
	return xys
}

// starGlyph is a filled five-pointed star.
type starGlyph struct{}

func (starGlyph) DrawGlyph(c *draw.Canvas, sty draw.GlyphStyle, pt vg.Point) {
	const points = 5
	inner := sty.Radius * 0.45
	pts := make([]vg.Point, 0, 2*points)
	for i := 0; i < 2*points; i++ {
		r := sty.Radius
		if i%2 == 1 {
			r = inner
		}
		a := math.Pi/2 + float64(i)*math.Pi/points
		pts = append(pts, vg.Point{
			X: pt.X + r*vg.Length(math.Cos(a)),
			Y: pt.Y + r*vg.Length(math.Sin(a)),
		})
	}
	c.FillPolygon(sty.Color, pts)
}
