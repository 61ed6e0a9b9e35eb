package shapefile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	shp "github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
)

// WritePolygons writes one polygon record per named polygon, with a "name"
// attribute and a .prj sidecar holding crs. Exterior rings are written
// clockwise and holes counter-clockwise.
func WritePolygons(path, crs string, names []string, polys []orb.Polygon) error {
	if len(names) != len(polys) {
		return fmt.Errorf("write shapefile: %d names for %d polygons", len(names), len(polys))
	}
	return writeShapes(path, crs, shp.POLYGON, func(w *shp.Writer) error {
		for i, poly := range polys {
			parts := make([][]shp.Point, 0, len(poly))
			for j, ring := range poly {
				want := orb.CW
				if j > 0 {
					want = orb.CCW
				}
				if ring.Orientation() != want {
					ring = reverse(ring)
				}
				parts = append(parts, shpPoints(ring))
			}
			shape := shp.Polygon(*shp.NewPolyLine(parts))
			row := w.Write(&shape)
			if err := w.WriteAttribute(int(row), 0, names[i]); err != nil {
				return fmt.Errorf("shapefile attribute: %w", err)
			}
		}
		return nil
	})
}

// WriteLines writes one polyline record per line string.
func WriteLines(path, crs string, lines orb.MultiLineString) error {
	return writeShapes(path, crs, shp.POLYLINE, func(w *shp.Writer) error {
		for i, ls := range lines {
			row := w.Write(shp.NewPolyLine([][]shp.Point{shpPoints(ls)}))
			if err := w.WriteAttribute(int(row), 0, fmt.Sprintf("line %d", i)); err != nil {
				return fmt.Errorf("shapefile attribute: %w", err)
			}
		}
		return nil
	})
}

// writeShapes creates the .shp/.shx/.dbf triple with a single "name" field,
// lets fill add the records, then writes the .prj sidecar.
func writeShapes(path, crs string, kind shp.ShapeType, fill func(w *shp.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("write shapefile: %w", err)
	}
	w, err := shp.Create(path, kind)
	if err != nil {
		return fmt.Errorf("create shapefile %s: %w", path, err)
	}
	// Close would retry the failed dbf creation and panic on the nil file.
	if err := w.SetFields([]shp.Field{shp.StringField("name", 64)}); err != nil {
		return fmt.Errorf("shapefile fields: %w", err)
	}
	fillErr := fill(w)
	w.Close()
	if fillErr != nil {
		return fillErr
	}

	// go-shp names the attribute table "<base>dbf", without the dot.
	base := strings.TrimSuffix(path, filepath.Ext(path))
	if err := os.Rename(base+"dbf", base+".dbf"); err != nil {
		return fmt.Errorf("rename dbf: %w", err)
	}
	if crs != "" {
		if err := os.WriteFile(base+".prj", []byte(crs), 0o644); err != nil {
			return fmt.Errorf("write prj: %w", err)
		}
	}
	return nil
}

func shpPoints[T ~[]orb.Point](pts T) []shp.Point {
	out := make([]shp.Point, len(pts))
	for i, p := range pts {
		out[i] = shp.Point{X: p[0], Y: p[1]}
	}
	return out
}
