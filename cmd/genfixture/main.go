// Command genfixture writes synthetic survey data for local runs: per site a
// drone DTM GeoTIFF, an airborne LiDAR zip holding an ASCII grid in UTM, and a
// shared shapefiles.zip with each site's bounding polygon. With -serve the
// directory is served over HTTP so rempipeline can fetch it.
//
// Usage:
//
//	go run ./cmd/genfixture -out data/fixture -sites HM,LEG1 -serve :9000
//
//	DRONE_URL_TEMPLATE=http://localhost:9000/{site}_uav_dtm.tif \
//	AIRBORNE_URL_TEMPLATE=http://localhost:9000/{site}_lidar.zip \
//	BOUNDARY_URL=http://localhost:9000/shapefiles.zip \
//	FETCH_PUBLISHED_REM=false SITES=HM,LEG1 go run ./cmd/rempipeline
package main

import (
	"archive/zip"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/couchcryptid/watershed-rem/internal/adapter/gospatial"
	"github.com/couchcryptid/watershed-rem/internal/adapter/proj"
	"github.com/couchcryptid/watershed-rem/internal/adapter/shapefile"
	"github.com/couchcryptid/watershed-rem/internal/domain"
)

const utm13N = "EPSG:32613"

// siteCentres places the fixtures near the real survey sites.
var siteCentres = map[string]orb.Point{
	"HM":   {-105.20, 40.10},
	"LEG1": {-105.27, 40.17},
	"AV":   {-105.30, 40.20},
	"VV":   {-105.25, 40.15},
	"HW93": {-105.23, 40.03},
}

// valley describes the synthetic terrain: a channel running north-south
// with banks rising linearly away from it and a gentle down-valley slope.
type valley struct {
	base      float64 // channel elevation at the southern edge, m
	slope     float64 // m per m northward
	bankGrade float64 // m per m away from the channel
}

func (v valley) z(dx, dy float64) float64 {
	return v.base + v.slope*dy + v.bankGrade*math.Abs(dx)
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "data/fixture", "output directory")
	sites := flag.String("sites", "HM", "comma-separated site names")
	droneCells := flag.Int("drone-cells", 200, "drone DTM rows and columns")
	airborneCells := flag.Int("airborne-cells", 60, "airborne DTM rows and columns")
	serve := flag.String("serve", "", "serve the output directory on this address")
	flag.Parse()

	names := strings.Split(*sites, ",")
	codec := gospatial.NewCodec(slog.New(slog.NewTextHandler(io.Discard, nil)))
	toUTM, err := proj.Projector{}.Transformer(domain.EPSG4326, utm13N)
	if err != nil {
		return err
	}
	defer toUTM.Close()

	v := valley{base: 1600, slope: 0.002, bankGrade: 0.05}
	stage := filepath.Join(*out, ".stage")
	var polys []orb.Polygon
	for _, raw := range names {
		site := strings.TrimSpace(raw)
		centre, ok := siteCentres[site]
		if !ok {
			return fmt.Errorf("no fixture location for site %q", site)
		}
		// Roughly 100 m across at this latitude.
		const halfDeg = 0.0006
		if err := writeDrone(codec, *out, site, centre, halfDeg, *droneCells, v); err != nil {
			return err
		}
		if err := writeAirborne(codec, toUTM, *out, stage, site, centre, halfDeg*1.5, *airborneCells, v); err != nil {
			return err
		}
		inner := halfDeg * 0.8
		polys = append(polys, orb.Polygon{{
			{centre[0] - inner, centre[1] - inner},
			{centre[0] + inner, centre[1] - inner},
			{centre[0] + inner, centre[1] + inner},
			{centre[0] - inner, centre[1] + inner},
			{centre[0] - inner, centre[1] - inner},
		}})
		log.Printf("%s: drone %dx%d, airborne %dx%d", site, *droneCells, *droneCells, *airborneCells, *airborneCells)
	}

	shpRoot := filepath.Join(stage, "shapefiles")
	for i, raw := range names {
		site := strings.TrimSpace(raw)
		path := filepath.Join(shpRoot, site+"_bounding_polygon", "Bounding_Polygon.shp")
		if err := shapefile.WritePolygons(path, domain.EPSG4326, []string{site}, polys[i:i+1]); err != nil {
			return err
		}
	}
	if err := zipTree(stage, "shapefiles", filepath.Join(*out, "shapefiles.zip")); err != nil {
		return err
	}
	if err := os.RemoveAll(stage); err != nil {
		return err
	}
	log.Printf("wrote fixtures to %s", *out)

	if *serve == "" {
		return nil
	}
	srv := &http.Server{
		Addr:              *serve,
		Handler:           http.FileServer(http.Dir(*out)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Printf("serving %s on %s", *out, *serve)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeDrone(codec *gospatial.Codec, out, site string, c orb.Point, half float64, cells int, v valley) error {
	cell := 2 * half / float64(cells)
	r := domain.NewRaster(cells, cells, domain.GeoTransform{
		West: c[0] - half, North: c[1] + half, CellWidth: cell, CellHeight: cell,
	}, domain.EPSG4326)
	// Degrees to metres near 40°N.
	const mPerDegLat, mPerDegLon = 111_000.0, 85_000.0
	for row := 0; row < cells; row++ {
		for col := 0; col < cells; col++ {
			x, y := r.CellCenter(row, col)
			r.Set(row, col, v.z((x-c[0])*mPerDegLon, (y-(c[1]-half))*mPerDegLat))
		}
	}
	return codec.Write(filepath.Join(out, site+"_uav_dtm.tif"), r)
}

func writeAirborne(codec *gospatial.Codec, toUTM domain.Transformer, out, stage, site string, c orb.Point, half float64, cells int, v valley) error {
	cx, cy, err := toUTM.Forward(c[0], c[1])
	if err != nil {
		return err
	}
	sx, sy, err := toUTM.Forward(c[0]-half, c[1]-half)
	if err != nil {
		return err
	}
	halfM := math.Max(cx-sx, cy-sy)
	cell := 2 * halfM / float64(cells)
	r := domain.NewRaster(cells, cells, domain.GeoTransform{
		West: cx - halfM, North: cy + halfM, CellWidth: cell, CellHeight: cell,
	}, utm13N)
	for row := 0; row < cells; row++ {
		for col := 0; col < cells; col++ {
			x, y := r.CellCenter(row, col)
			r.Set(row, col, v.z(x-cx, y-(cy-halfM)))
		}
	}
	dir := site + "_lidar"
	if err := codec.Write(domain.AirborneMember(stage, site), r); err != nil {
		return err
	}
	return zipTree(stage, dir, filepath.Join(out, site+"_lidar.zip"))
}

// zipTree packs root/sub into zipPath, keeping paths relative to root.
func zipTree(root, sub, zipPath string) error {
	if err := os.MkdirAll(filepath.Dir(zipPath), 0o755); err != nil {
		return err
	}
	f, err := os.Create(zipPath)
	if err != nil {
		return err
	}
	zw := zip.NewWriter(f)
	walkErr := filepath.Walk(filepath.Join(root, sub), func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(w, src)
		return err
	})
	closeErr := zw.Close()
	if err := f.Close(); err != nil && closeErr == nil {
		closeErr = err
	}
	if walkErr != nil {
		return fmt.Errorf("zip %s: %w", zipPath, walkErr)
	}
	return closeErr
}
