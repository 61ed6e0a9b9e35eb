package domain

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Boundary is a site's bounding multipolygon in a known CRS. The first ring of
// each polygon is the exterior; the rest are holes.
type Boundary struct {
	Name     string
	CRS      string
	Polygons orb.MultiPolygon
}

// Contains reports whether (x, y) lies inside any polygon and outside its holes.
func (b Boundary) Contains(x, y float64) bool {
	return planar.MultiPolygonContains(b.Polygons, orb.Point{x, y})
}

// Bound is the boundary's bounding box.
func (b Boundary) Bound() orb.Bound {
	return b.Polygons.Bound()
}

// Transform returns a copy of b with every vertex passed through
// t.Forward and its CRS set to target.
func (b Boundary) Transform(t Transformer, target string) (Boundary, error) {
	out := Boundary{Name: b.Name, CRS: target, Polygons: make(orb.MultiPolygon, len(b.Polygons))}
	for i, poly := range b.Polygons {
		np := make(orb.Polygon, len(poly))
		for j, ring := range poly {
			nr := make(orb.Ring, len(ring))
			for k, p := range ring {
				x, y, err := t.Forward(p[0], p[1])
				if err != nil {
					return Boundary{}, fmt.Errorf("transform boundary %s: %w", b.Name, err)
				}
				nr[k] = orb.Point{x, y}
			}
			np[j] = nr
		}
		out.Polygons[i] = np
	}
	return out, nil
}
