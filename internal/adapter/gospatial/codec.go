// Package gospatial reads and writes elevation rasters (GeoTIFF, ArcGIS ASCII
// grid) through the go-spatial raster library.
package gospatial

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jblindsay/go-spatial/geospatialfiles/raster"

	"github.com/couchcryptid/watershed-rem/internal/domain"
)

// NoData is the sentinel written for nodata cells.
const NoData = -32768.0

// Codec converts between files and domain rasters.
type Codec struct {
	logger *slog.Logger
}

func NewCodec(logger *slog.Logger) *Codec {
	return &Codec{logger: logger}
}

// Read parses a raster file. Files the library does not recognise, including
// HTML error pages saved by a failed download, yield
// *domain.UnsupportedFormatError.
func (c *Codec) Read(path string) (*domain.Raster, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("read raster: %w", err)
	}
	kind, err := raster.DetermineRasterFormat(path)
	if kind == raster.RT_UnknownRaster || err != nil {
		if err == nil {
			err = raster.UnsupportedRasterFormatError
		}
		return nil, &domain.UnsupportedFormatError{Path: path, Err: err}
	}

	rin, err := raster.CreateRasterFromFile(path)
	if err != nil {
		return nil, &domain.UnsupportedFormatError{Path: path, Err: err}
	}
	if rin.Rows <= 0 || rin.Columns <= 0 {
		return nil, &domain.UnsupportedFormatError{Path: path, Err: errors.New("empty grid")}
	}

	gt := domain.GeoTransform{
		West:       rin.West,
		North:      rin.North,
		CellWidth:  (rin.East - rin.West) / float64(rin.Columns),
		CellHeight: (rin.North - rin.South) / float64(rin.Rows),
	}
	cfg := rin.GetRasterConfig()
	crs := crsString(cfg.EPSGCode, cfg.CoordinateRefSystemWKT)
	if crs == "" {
		crs = readPrj(path)
	}

	out := domain.NewRaster(rin.Rows, rin.Columns, gt, crs)
	// The GDAL_NODATA tag written by go-spatial loses its last digit, so the
	// codec's own sentinel counts as nodata whatever the tag says.
	nodata := rin.NoDataValue
	for row := 0; row < rin.Rows; row++ {
		for col := 0; col < rin.Columns; col++ {
			v := rin.Value(row, col)
			if v == nodata || v == NoData || math.IsNaN(v) {
				continue
			}
			out.Set(row, col, v)
		}
	}
	c.logger.Debug("raster read", "path", path, "rows", out.Rows, "cols", out.Cols, "crs", shortCRS(crs))
	return out, nil
}

// Write saves r to path as 64-bit floats. The format follows the file
// extension. NaN cells are written as NoData.
func (c *Codec) Write(path string, r *domain.Raster) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("write raster: %w", err)
	}
	// The library refuses to overwrite some formats in place.
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("write raster: %w", err)
	}

	config := raster.NewDefaultRasterConfig()
	config.DataType = raster.DT_FLOAT64
	config.NoDataValue = NoData
	config.InitialValue = NoData
	if code, ok := epsgCode(r.CRS); ok {
		config.EPSGCode = code
	} else {
		config.CoordinateRefSystemWKT = r.CRS
	}

	west, south, east, north := r.Bounds()
	rout, err := raster.CreateNewRaster(path, r.Rows, r.Cols, north, south, east, west, config)
	if err != nil {
		return fmt.Errorf("create raster %s: %w", path, err)
	}
	for row := 0; row < r.Rows; row++ {
		for col := 0; col < r.Cols; col++ {
			if v := r.At(row, col); !math.IsNaN(v) {
				rout.SetValue(row, col, v)
			}
		}
	}
	rout.AddMetadataEntry("Created by watershed-rem")
	rout.SetRasterConfig(config)
	if err := rout.Save(); err != nil {
		return fmt.Errorf("save raster %s: %w", path, err)
	}

	if fi, err := os.Stat(path); err != nil || fi.Size() == 0 {
		if err == nil {
			err = errors.New("empty output")
		}
		return fmt.Errorf("save raster %s: %w", path, err)
	}
	// ASCII grids have no header field for the CRS.
	if strings.EqualFold(filepath.Ext(path), ".asc") && r.CRS != "" {
		prj := strings.TrimSuffix(path, filepath.Ext(path)) + ".prj"
		if err := os.WriteFile(prj, []byte(r.CRS), 0o644); err != nil {
			return fmt.Errorf("write prj: %w", err)
		}
	}
	c.logger.Debug("raster written", "path", path, "rows", r.Rows, "cols", r.Cols)
	return nil
}

func crsString(code int, wkt string) string {
	if code > 0 {
		return "EPSG:" + strconv.Itoa(code)
	}
	return strings.TrimSpace(wkt)
}

func epsgCode(crs string) (int, bool) {
	s := strings.TrimSpace(crs)
	if len(s) < 5 || !strings.EqualFold(s[:5], "EPSG:") {
		return 0, false
	}
	n, err := strconv.Atoi(s[5:])
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// readPrj returns the CRS from a ".prj" sidecar, or "".
func readPrj(path string) string {
	data, err := os.ReadFile(strings.TrimSuffix(path, filepath.Ext(path)) + ".prj")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func shortCRS(crs string) string {
	if len(crs) > 40 {
		return crs[:40] + "..."
	}
	return crs
}
