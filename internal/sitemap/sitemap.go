package sitemap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb"

	"github.com/couchcryptid/watershed-rem/internal/adapter/shapefile"
	"github.com/couchcryptid/watershed-rem/internal/domain"
)

// Fetcher resolves a remote resource to a local cached path.
type Fetcher interface {
	Fetch(ctx context.Context, res domain.CachedResource) (string, error)
}

// ExtractFunc unpacks a zip archive under destDir.
type ExtractFunc func(zipPath, destDir string) ([]string, error)

// Config names the inputs and outputs of a site map build.
type Config struct {
	Dir            string // output and cache directory
	SitesCSVURL    string
	WBDURL         string
	StreamsURL     string
	WatershedMatch string
	SiteRows       []int
	TileURL        string
	Override       bool
}

const (
	wbdName     = "water-boundary-dataset-hu10"
	streamsName = "co_streams"
)

// Result lists what a build produced.
type Result struct {
	Sites       []Site
	StreamParts int
	StaticPath  string
	HTMLPath    string
}

// Mapper builds the site maps.
type Mapper struct {
	fetcher   Fetcher
	extract   ExtractFunc
	projector domain.Projector
	cfg       Config
	logger    *slog.Logger
}

func NewMapper(f Fetcher, extract ExtractFunc, projector domain.Projector, cfg Config, logger *slog.Logger) *Mapper {
	return &Mapper{fetcher: f, extract: extract, projector: projector, cfg: cfg, logger: logger}
}

// Build downloads the site table and the watershed and stream bundles, then
// writes site_map.png and site_map.html under the configured directory.
func (m *Mapper) Build(ctx context.Context) (Result, error) {
	sites, err := m.sites(ctx)
	if err != nil {
		return Result{}, err
	}
	watershed, err := m.watershed(ctx)
	if err != nil {
		return Result{}, err
	}
	streams, err := m.streams(ctx)
	if err != nil {
		return Result{}, err
	}
	clipped := ClipLines(streams, watershed)
	m.logger.Info("streams clipped to watershed", "parts_in", len(streams), "parts_out", len(clipped))

	res := Result{
		Sites:       sites,
		StreamParts: len(clipped),
		StaticPath:  filepath.Join(m.cfg.Dir, "site_map.png"),
		HTMLPath:    filepath.Join(m.cfg.Dir, "site_map.html"),
	}
	if err := RenderStatic(res.StaticPath, watershed, clipped, sites); err != nil {
		return Result{}, err
	}
	if err := RenderInteractive(res.HTMLPath, m.cfg.TileURL, watershed, clipped, sites); err != nil {
		return Result{}, err
	}
	m.logger.Info("site maps written", "png", res.StaticPath, "html", res.HTMLPath, "sites", len(sites))
	return res, nil
}

func (m *Mapper) sites(ctx context.Context) ([]Site, error) {
	path, err := m.fetcher.Fetch(ctx, domain.CachedResource{
		URL:      m.cfg.SitesCSVURL,
		Path:     filepath.Join(m.cfg.Dir, "UAV_gps_coords.csv"),
		Override: m.cfg.Override,
	})
	if err != nil {
		return nil, fmt.Errorf("site table: %w", err)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseSites(f, m.cfg.SiteRows)
}

// watershed selects the HUC8 units whose name contains the configured match.
func (m *Mapper) watershed(ctx context.Context) (orb.MultiPolygon, error) {
	dir, err := m.bundle(ctx, wbdName, m.cfg.WBDURL)
	if err != nil {
		return nil, fmt.Errorf("watershed boundary: %w", err)
	}
	layer, err := shapefile.Read(filepath.Join(dir, "Shape", "WBDHU8.shp"))
	if err != nil {
		return nil, err
	}
	b := layer.Boundary(m.cfg.WatershedMatch, func(attrs map[string]string) bool {
		return strings.Contains(attrs["name"], m.cfg.WatershedMatch)
	})
	if len(b.Polygons) == 0 {
		return nil, fmt.Errorf("no watershed named like %q", m.cfg.WatershedMatch)
	}
	if domain.SameCRS(b.CRS, domain.EPSG4326) {
		return b.Polygons, nil
	}
	t, err := m.projector.Transformer(b.CRS, domain.EPSG4326)
	if err != nil {
		return nil, err
	}
	defer t.Close()
	out, err := b.Transform(t, domain.EPSG4326)
	if err != nil {
		return nil, err
	}
	return out.Polygons, nil
}

func (m *Mapper) streams(ctx context.Context) (orb.MultiLineString, error) {
	dir, err := m.bundle(ctx, streamsName, m.cfg.StreamsURL)
	if err != nil {
		return nil, fmt.Errorf("streams: %w", err)
	}
	shp, err := firstShapefile(dir)
	if err != nil {
		return nil, err
	}
	layer, err := shapefile.Read(shp)
	if err != nil {
		return nil, err
	}
	lines := layer.Lines()
	if domain.SameCRS(layer.CRS, domain.EPSG4326) {
		return lines, nil
	}
	t, err := m.projector.Transformer(layer.CRS, domain.EPSG4326)
	if err != nil {
		return nil, err
	}
	defer t.Close()
	return TransformLines(lines, t)
}

// bundle caches <dir>/<name>/<name>.zip and extracts it next to itself. The
// extraction runs only when the marker of a previous one is missing.
func (m *Mapper) bundle(ctx context.Context, name, url string) (string, error) {
	dir := filepath.Join(m.cfg.Dir, name)
	marker := filepath.Join(dir, ".extracted")
	zipPath, err := m.fetcher.Fetch(ctx, domain.CachedResource{
		URL:      url,
		Path:     filepath.Join(dir, name+".zip"),
		Override: m.cfg.Override,
	})
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(marker); err == nil && !m.cfg.Override {
		return dir, nil
	}
	files, err := m.extract(zipPath, dir)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", zipPath, err)
	}
	if err := os.WriteFile(marker, nil, 0o644); err != nil {
		return "", err
	}
	m.logger.Info("bundle extracted", "bundle", name, "files", len(files))
	return dir, nil
}

var errNoShapefile = errors.New("no shapefile in bundle")

func firstShapefile(dir string) (string, error) {
	var found string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".shp") {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if found == "" {
		return "", fmt.Errorf("%w: %s", errNoShapefile, dir)
	}
	return found, nil
}
