// Package shapefile reads and writes ESRI shapefiles as orb geometries.
package shapefile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	shp "github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/couchcryptid/watershed-rem/internal/domain"
)

// Feature is one record with its attributes.
type Feature struct {
	Attrs    map[string]string
	Polygons orb.MultiPolygon // polygon shapes
	Lines    orb.MultiLineString
}

// Layer is the content of one shapefile.
type Layer struct {
	CRS      string // WKT from the .prj sidecar, "" when absent
	Features []Feature
}

// Read loads every record of the shapefile at path.
func Read(path string) (*Layer, error) {
	r, err := shp.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open shapefile %s: %w", path, err)
	}
	defer r.Close()

	fields := r.Fields()
	layer := &Layer{CRS: readPrj(path)}
	for r.Next() {
		n, shape := r.Shape()
		f := Feature{Attrs: make(map[string]string, len(fields))}
		for i, field := range fields {
			f.Attrs[strings.ToLower(field.String())] = strings.TrimSpace(strings.TrimRight(r.ReadAttribute(n, i), "\x00"))
		}
		switch s := shape.(type) {
		case *shp.Polygon:
			f.Polygons = polygons(s.Parts, s.Points)
		case *shp.PolygonZ:
			f.Polygons = polygons(s.Parts, s.Points)
		case *shp.PolyLine:
			f.Lines = lines(s.Parts, s.Points)
		case *shp.PolyLineZ:
			f.Lines = lines(s.Parts, s.Points)
		default:
			continue
		}
		layer.Features = append(layer.Features, f)
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("read shapefile %s: %w", path, err)
	}
	return layer, nil
}

// ReadBoundary loads a site's bounding polygon. A missing or unreadable file,
// or one with no polygons, yields *domain.BoundaryNotFoundError.
func ReadBoundary(site, path string) (domain.Boundary, error) {
	if _, err := os.Stat(path); err != nil {
		return domain.Boundary{}, &domain.BoundaryNotFoundError{Site: site, Path: path, Err: err}
	}
	layer, err := Read(path)
	if err != nil {
		return domain.Boundary{}, &domain.BoundaryNotFoundError{Site: site, Path: path, Err: err}
	}
	b := layer.Boundary(site, nil)
	if len(b.Polygons) == 0 {
		return domain.Boundary{}, &domain.BoundaryNotFoundError{Site: site, Path: path, Err: errors.New("no polygons")}
	}
	return b, nil
}

// Boundary merges the polygons of features accepted by keep (all when nil).
func (l *Layer) Boundary(name string, keep func(attrs map[string]string) bool) domain.Boundary {
	b := domain.Boundary{Name: name, CRS: l.CRS}
	for _, f := range l.Features {
		if keep != nil && !keep(f.Attrs) {
			continue
		}
		b.Polygons = append(b.Polygons, f.Polygons...)
	}
	return b
}

// Lines merges the line parts of every feature.
func (l *Layer) Lines() orb.MultiLineString {
	var out orb.MultiLineString
	for _, f := range l.Features {
		out = append(out, f.Lines...)
	}
	return out
}

// polygons groups shapefile rings: clockwise rings start a polygon and
// counter-clockwise rings are holes of the polygon containing them.
func polygons(parts []int32, pts []shp.Point) orb.MultiPolygon {
	var out orb.MultiPolygon
	var holes []orb.Ring
	for _, ring := range splitParts(parts, pts) {
		r := orb.Ring(ring)
		if len(r) < 4 {
			continue
		}
		if r.Orientation() == orb.CW {
			out = append(out, orb.Polygon{r})
		} else {
			holes = append(holes, r)
		}
	}
	for _, h := range holes {
		placed := false
		for i := range out {
			if planar.RingContains(out[i][0], h[0]) {
				out[i] = append(out[i], h)
				placed = true
				break
			}
		}
		if !placed {
			// Some writers ignore winding; treat an orphan as an exterior.
			out = append(out, orb.Polygon{reverse(h)})
		}
	}
	return out
}

func lines(parts []int32, pts []shp.Point) orb.MultiLineString {
	var out orb.MultiLineString
	for _, part := range splitParts(parts, pts) {
		if len(part) >= 2 {
			out = append(out, orb.LineString(part))
		}
	}
	return out
}

func splitParts(parts []int32, pts []shp.Point) [][]orb.Point {
	out := make([][]orb.Point, 0, len(parts))
	for i, start := range parts {
		end := int32(len(pts))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		if start < 0 || start > end || int(end) > len(pts) {
			continue
		}
		seg := make([]orb.Point, 0, end-start)
		for _, p := range pts[start:end] {
			seg = append(seg, orb.Point{p.X, p.Y})
		}
		out = append(out, seg)
	}
	return out
}

func reverse(r orb.Ring) orb.Ring {
	out := make(orb.Ring, len(r))
	for i, p := range r {
		out[len(r)-1-i] = p
	}
	return out
}

func readPrj(path string) string {
	data, err := os.ReadFile(strings.TrimSuffix(path, filepath.Ext(path)) + ".prj")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
