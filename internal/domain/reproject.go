package domain

import (
	"fmt"
	"math"
	"strings"
)

// Transformer converts coordinates between two fixed CRSs.
type Transformer interface {
	Forward(x, y float64) (float64, float64, error)
	Inverse(x, y float64) (float64, float64, error)
	Close() error
}

// Projector builds transformers. Source and target are any CRS string the
// implementation understands ("EPSG:4326", WKT from a .prj sidecar).
type Projector interface {
	Transformer(source, target string) (Transformer, error)
}

// SameCRS compares two CRS strings. An empty CRS is unknown and matches
// anything, since there is nothing to transform from.
func SameCRS(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return true
	}
	return strings.EqualFold(a, b)
}

// edgeSamples is the number of points sampled along each grid edge when
// computing the target extent.
const edgeSamples = 32

// Reproject resamples src into the target CRS of t. The target grid keeps the
// source dimensions; its extent is the bounding box of the transformed grid
// edges. Each target cell takes the nearest source cell found by inverse
// transforming its centre. Points that fail to transform become nodata.
func Reproject(src *Raster, t Transformer, targetCRS string) (*Raster, error) {
	west, south, east, north := src.Bounds()

	tw, ts := math.Inf(1), math.Inf(1)
	te, tn := math.Inf(-1), math.Inf(-1)
	for i := 0; i <= edgeSamples; i++ {
		f := float64(i) / edgeSamples
		x := west + f*(east-west)
		y := south + f*(north-south)
		for _, p := range [][2]float64{{x, south}, {x, north}, {west, y}, {east, y}} {
			px, py, err := t.Forward(p[0], p[1])
			if err != nil {
				return nil, fmt.Errorf("reproject extent: %w", err)
			}
			tw, te = math.Min(tw, px), math.Max(te, px)
			ts, tn = math.Min(ts, py), math.Max(tn, py)
		}
	}
	if !(te > tw) || !(tn > ts) {
		return nil, fmt.Errorf("reproject extent: degenerate target bounds [%g %g %g %g]", tw, ts, te, tn)
	}

	gt := GeoTransform{
		West:       tw,
		North:      tn,
		CellWidth:  (te - tw) / float64(src.Cols),
		CellHeight: (tn - ts) / float64(src.Rows),
	}
	out := NewRaster(src.Rows, src.Cols, gt, targetCRS)
	for row := 0; row < out.Rows; row++ {
		for col := 0; col < out.Cols; col++ {
			x, y := out.CellCenter(row, col)
			sx, sy, err := t.Inverse(x, y)
			if err != nil {
				continue
			}
			if r, c, ok := src.CellIndex(sx, sy); ok {
				out.Set(row, col, src.At(r, c))
			}
		}
	}
	return out, nil
}
