// Package render draws elevation rasters, histograms and flood animations.
package render

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/couchcryptid/watershed-rem/internal/domain"
)

const (
	figWidth      = 10 * vg.Inch
	figHeight     = 6 * vg.Inch
	colorbarWidth = 1.4 * vg.Inch
	paletteSize   = 255

	// Robust color limits ignore the extreme 2% at either end.
	robustLow  = 0.02
	robustHigh = 0.98
)

// Style controls a raster plot.
type Style struct {
	Title         string
	Colormap      string
	ColorbarLabel string
	CoarsenX      int
	CoarsenY      int
}

// HistStyle controls a histogram.
type HistStyle struct {
	Title string
	Color color.Color
	Bins  int
}

// RenderRaster draws r as a heatmap with a labelled colorbar. The raster is
// block-averaged first when the style asks for coarsening. The image format
// follows the extension of path (.png, .jpg).
func RenderRaster(path string, r *domain.Raster, st Style) error {
	if r == nil || r.Size() == 0 {
		return errors.New("render: empty raster")
	}
	if st.CoarsenX > 1 || st.CoarsenY > 1 {
		r = r.Coarsen(st.CoarsenX, st.CoarsenY)
		if r.Size() == 0 {
			return fmt.Errorf("render: coarsening %dx%d leaves no cells", st.CoarsenX, st.CoarsenY)
		}
	}

	cm, err := Colormap(st.Colormap)
	if err != nil {
		return err
	}
	lo, hi := robustRange(r)
	cm.SetMin(lo)
	cm.SetMax(hi)

	pal := cm.Palette(paletteSize)
	hm := plotter.NewHeatMap(rasterGrid{r}, pal)
	hm.Min, hm.Max = lo, hi
	cols := pal.Colors()
	hm.Underflow = cols[0]
	hm.Overflow = cols[len(cols)-1]
	hm.NaN = color.Transparent

	p := plot.New()
	p.Title.Text = st.Title
	p.Title.TextStyle.Font.Size = vg.Points(18)
	p.HideAxes()
	p.Add(hm)

	bar := plot.New()
	bar.HideX()
	bar.Y.Label.Text = st.ColorbarLabel
	bar.Y.Label.TextStyle.Font.Size = vg.Points(16)
	bar.Y.Padding = 0
	bar.Add(&plotter.ColorBar{ColorMap: cm, Vertical: true})

	c := vgimg.New(figWidth, figHeight)
	dc := draw.New(c)
	p.Draw(draw.Crop(dc, 0, -colorbarWidth, 0, 0))
	bar.Draw(draw.Crop(dc, figWidth-colorbarWidth, 0, vg.Inch/2, -vg.Inch/2))

	return saveCanvas(path, c)
}

// RenderHistogram draws the distribution of r's data values.
func RenderHistogram(path string, r *domain.Raster, st HistStyle) error {
	if r == nil {
		return errors.New("render: histogram of nil raster")
	}
	vals := r.Valid()
	if len(vals) == 0 {
		return errors.New("render: histogram of empty raster")
	}
	bins := st.Bins
	if bins <= 0 {
		bins = 20
	}
	h, err := plotter.NewHist(plotter.Values(vals), bins)
	if err != nil {
		return fmt.Errorf("render: histogram: %w", err)
	}
	if st.Color != nil {
		h.FillColor = st.Color
	}

	p := plot.New()
	p.Title.Text = st.Title
	p.Title.TextStyle.Font.Size = vg.Points(16)
	p.X.Label.Text = "Elevation (m)"
	p.Y.Label.Text = "Frequency"
	p.Add(h)

	c := vgimg.New(figWidth, figHeight)
	p.Draw(draw.New(c))
	return saveCanvas(path, c)
}

// robustRange returns the 2nd and 98th percentiles, widened when degenerate.
func robustRange(r *domain.Raster) (lo, hi float64) {
	q, ok := r.Quantiles(robustLow, robustHigh)
	if !ok {
		return 0, 1
	}
	lo, hi = q[0], q[1]
	if hi <= lo {
		lo, hi = lo-0.5, lo+0.5
	}
	return lo, hi
}

func saveCanvas(path string, c *vgimg.Canvas) error {
	var w io.WriterTo
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		w = vgimg.PngCanvas{Canvas: c}
	case ".jpg", ".jpeg":
		w = vgimg.JpegCanvas{Canvas: c}
	default:
		return fmt.Errorf("render: unsupported image format %q", filepath.Ext(path))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := w.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("render: write %s: %w", path, err)
	}
	return f.Close()
}

// rasterGrid adapts a Raster to plotter.GridXYZ. Grid row 0 is the southern
// edge so Y increases with the row index.
type rasterGrid struct {
	r *domain.Raster
}

func (g rasterGrid) Dims() (c, r int) { return g.r.Cols, g.r.Rows }

func (g rasterGrid) Z(c, r int) float64 { return g.r.At(g.r.Rows-1-r, c) }

func (g rasterGrid) X(c int) float64 {
	x, _ := g.r.CellCenter(0, c)
	return x
}

func (g rasterGrid) Y(r int) float64 {
	_, y := g.r.CellCenter(g.r.Rows-1-r, 0)
	return y
}
