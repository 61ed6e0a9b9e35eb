package domain

import (
	"math"
	"slices"
)

// GeoTransform places a north-up grid in its CRS.
type GeoTransform struct {
	West       float64
	North      float64
	CellWidth  float64
	CellHeight float64 // positive; rows advance southward
}

// Raster is an immutable-by-convention elevation grid. Transformations return
// new rasters; nothing mutates a raster after it is handed to another stage.
type Raster struct {
	Rows      int
	Cols      int
	Values    []float64 // row-major, NaN = nodata
	Transform GeoTransform
	CRS       string
}

// NewRaster allocates a rows x cols raster filled with nodata.
func NewRaster(rows, cols int, gt GeoTransform, crs string) *Raster {
	vals := make([]float64, rows*cols)
	for i := range vals {
		vals[i] = math.NaN()
	}
	return &Raster{Rows: rows, Cols: cols, Values: vals, Transform: gt, CRS: crs}
}

func (r *Raster) At(row, col int) float64 {
	return r.Values[row*r.Cols+col]
}

func (r *Raster) Set(row, col int, v float64) {
	r.Values[row*r.Cols+col] = v
}

// Size is the total number of cells, nodata included.
func (r *Raster) Size() int {
	return r.Rows * r.Cols
}

// CellCenter returns the CRS coordinates of the centre of cell (row, col).
func (r *Raster) CellCenter(row, col int) (x, y float64) {
	t := r.Transform
	return t.West + (float64(col)+0.5)*t.CellWidth, t.North - (float64(row)+0.5)*t.CellHeight
}

// Bounds returns the outer edges of the grid.
func (r *Raster) Bounds() (west, south, east, north float64) {
	t := r.Transform
	return t.West, t.North - float64(r.Rows)*t.CellHeight, t.West + float64(r.Cols)*t.CellWidth, t.North
}

// CellIndex maps a coordinate to the cell containing it. ok is false outside the grid.
func (r *Raster) CellIndex(x, y float64) (row, col int, ok bool) {
	t := r.Transform
	c := math.Floor((x - t.West) / t.CellWidth)
	rw := math.Floor((t.North - y) / t.CellHeight)
	if c < 0 || rw < 0 || c >= float64(r.Cols) || rw >= float64(r.Rows) {
		return 0, 0, false
	}
	return int(rw), int(c), true
}

// ValidCount is the number of cells holding data.
func (r *Raster) ValidCount() int {
	n := 0
	for _, v := range r.Values {
		if !math.IsNaN(v) {
			n++
		}
	}
	return n
}

// Valid returns the non-nodata values in row-major order.
func (r *Raster) Valid() []float64 {
	out := make([]float64, 0, len(r.Values))
	for _, v := range r.Values {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

// Clone returns a deep copy.
func (r *Raster) Clone() *Raster {
	out := *r
	out.Values = slices.Clone(r.Values)
	return &out
}

// Where keeps cells for which keep returns true and sets the rest to nodata.
func (r *Raster) Where(keep func(v float64) bool) *Raster {
	out := r.Clone()
	for i, v := range out.Values {
		if math.IsNaN(v) || !keep(v) {
			out.Values[i] = math.NaN()
		}
	}
	return out
}

// Range returns the minimum and maximum data values. ok is false when every
// cell is nodata.
func (r *Raster) Range() (lo, hi float64, ok bool) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range r.Values {
		if math.IsNaN(v) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
		ok = true
	}
	return lo, hi, ok
}

// Quantiles returns the q-th quantile for each q in qs (0..1) using linear
// interpolation between sorted data values. ok is false for an empty raster.
func (r *Raster) Quantiles(qs ...float64) ([]float64, bool) {
	vals := r.Valid()
	if len(vals) == 0 {
		return nil, false
	}
	slices.Sort(vals)
	out := make([]float64, len(qs))
	for i, q := range qs {
		pos := q * float64(len(vals)-1)
		lo := int(math.Floor(pos))
		hi := int(math.Ceil(pos))
		frac := pos - float64(lo)
		out[i] = vals[lo] + (vals[hi]-vals[lo])*frac
	}
	return out, true
}

// Coarsen block-averages bx columns by by rows into one cell. Nodata cells are
// skipped; a block with no data becomes nodata. Partial blocks at the
// southern and eastern edges are trimmed.
func (r *Raster) Coarsen(bx, by int) *Raster {
	if bx <= 1 && by <= 1 {
		return r.Clone()
	}
	bx = max(bx, 1)
	by = max(by, 1)
	rows, cols := r.Rows/by, r.Cols/bx
	gt := r.Transform
	gt.CellWidth *= float64(bx)
	gt.CellHeight *= float64(by)
	out := NewRaster(rows, cols, gt, r.CRS)
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			sum, n := 0.0, 0
			for dy := 0; dy < by; dy++ {
				for dx := 0; dx < bx; dx++ {
					v := r.At(row*by+dy, col*bx+dx)
					if math.IsNaN(v) {
						continue
					}
					sum += v
					n++
				}
			}
			if n > 0 {
				out.Set(row, col, sum/float64(n))
			}
		}
	}
	return out
}

// SameGrid reports whether two rasters share shape, placement and CRS.
func SameGrid(a, b *Raster) bool {
	const eps = 1e-9
	return a.Rows == b.Rows && a.Cols == b.Cols && SameCRS(a.CRS, b.CRS) &&
		math.Abs(a.Transform.West-b.Transform.West) < eps &&
		math.Abs(a.Transform.North-b.Transform.North) < eps &&
		math.Abs(a.Transform.CellWidth-b.Transform.CellWidth) < eps &&
		math.Abs(a.Transform.CellHeight-b.Transform.CellHeight) < eps
}
