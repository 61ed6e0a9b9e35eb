package sitemap

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/couchcryptid/watershed-rem/internal/domain"
)

// ClipLines keeps the parts of lines that lie inside area. A line that
// leaves the area is split there; only vertices inside are kept, and runs
// shorter than two vertices are dropped.
func ClipLines(lines orb.MultiLineString, area orb.MultiPolygon) orb.MultiLineString {
	bound := area.Bound()
	var out orb.MultiLineString
	for _, ls := range lines {
		var run orb.LineString
		for _, p := range ls {
			if bound.Contains(p) && planar.MultiPolygonContains(area, p) {
				run = append(run, p)
				continue
			}
			if len(run) >= 2 {
				out = append(out, run)
			}
			run = nil
		}
		if len(run) >= 2 {
			out = append(out, run)
		}
	}
	return out
}

// TransformLines passes every vertex through t.Forward.
func TransformLines(lines orb.MultiLineString, t domain.Transformer) (orb.MultiLineString, error) {
	out := make(orb.MultiLineString, len(lines))
	for i, ls := range lines {
		nl := make(orb.LineString, len(ls))
		for j, p := range ls {
			x, y, err := t.Forward(p[0], p[1])
			if err != nil {
				return nil, fmt.Errorf("transform line %d: %w", i, err)
			}
			nl[j] = orb.Point{x, y}
		}
		out[i] = nl
	}
	return out, nil
}
