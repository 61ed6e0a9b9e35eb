package domain

import "math"

// ClipToBoundary masks r to b: a cell keeps its value only when its centre
// falls inside the boundary. The grid extent is unchanged. b must already be
// in r's CRS.
func ClipToBoundary(r *Raster, b Boundary) *Raster {
	out := r.Clone()
	bound := b.Bound()
	for row := 0; row < r.Rows; row++ {
		for col := 0; col < r.Cols; col++ {
			x, y := r.CellCenter(row, col)
			if x < bound.Min[0] || x > bound.Max[0] || y < bound.Min[1] || y > bound.Max[1] || !b.Contains(x, y) {
				out.Set(row, col, math.NaN())
			}
		}
	}
	return out
}
