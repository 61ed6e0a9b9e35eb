package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/couchcryptid/watershed-rem/internal/domain"
)

// BoundarySource serves site polygons out of the shared shapefile bundle.
// When url is empty the bundle is expected to be extracted already.
type BoundarySource struct {
	fetcher  Fetcher
	extract  ExtractFunc
	read     BoundaryReaderFunc
	layout   domain.Layout
	url      string
	override bool
	logger   *slog.Logger

	mu        sync.Mutex
	extracted bool
}

func NewBoundarySource(f Fetcher, extract ExtractFunc, read BoundaryReaderFunc, layout domain.Layout, url string, override bool, logger *slog.Logger) *BoundarySource {
	return &BoundarySource{
		fetcher:  f,
		extract:  extract,
		read:     read,
		layout:   layout,
		url:      url,
		override: override,
		logger:   logger,
	}
}

// Boundary returns the polygon at shapefiles/<site>_bounding_polygon.
func (b *BoundarySource) Boundary(ctx context.Context, site string) (domain.Boundary, error) {
	if err := b.ensureBundle(ctx); err != nil {
		return domain.Boundary{}, err
	}
	return b.read(site, b.layout.BoundaryShapefile(site))
}

// ensureBundle downloads and extracts the bundle once per process.
func (b *BoundarySource) ensureBundle(ctx context.Context) error {
	if b.url == "" {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.extracted {
		return nil
	}

	path, err := b.fetcher.Fetch(ctx, domain.CachedResource{URL: b.url, Path: b.layout.BoundaryArchive(), Override: b.override})
	if err != nil {
		return fmt.Errorf("boundary bundle: %w", err)
	}
	files, err := b.extract(path, b.layout.BaseDir)
	if err != nil {
		return fmt.Errorf("boundary bundle: %w", err)
	}
	b.logger.Info("boundary bundle extracted", "archive", path, "files", len(files))
	b.extracted = true
	return nil
}

// ClipResult is a clipped raster and where it was written.
type ClipResult struct {
	Raster *domain.Raster
	Path   string
}

// Clipper restricts rasters to a site boundary and persists the result.
type Clipper struct {
	projector domain.Projector
	writer    RasterWriter
	layout    domain.Layout
	logger    *slog.Logger
}

func NewClipper(p domain.Projector, w RasterWriter, layout domain.Layout, logger *slog.Logger) *Clipper {
	return &Clipper{projector: p, writer: w, layout: layout, logger: logger}
}

// Clip masks r to b. Airborne rasters are first reprojected to EPSG:4326. A
// boundary in another CRS is transformed into the raster's CRS. The extent is
// kept; cells outside the boundary become nodata.
func (c *Clipper) Clip(ctx context.Context, site string, r *domain.Raster, b domain.Boundary, src domain.Source) (ClipResult, error) {
	if err := ctx.Err(); err != nil {
		return ClipResult{}, err
	}
	if r == nil {
		return ClipResult{}, errors.New("clip: nil raster")
	}

	if src == domain.SourceAirborne && !domain.SameCRS(r.CRS, domain.EPSG4326) {
		reprojected, err := c.reproject(r, domain.EPSG4326)
		if err != nil {
			return ClipResult{}, fmt.Errorf("clip %s %s: %w", site, src, err)
		}
		r = reprojected
	}

	if !domain.SameCRS(b.CRS, r.CRS) {
		t, err := c.projector.Transformer(b.CRS, r.CRS)
		if err != nil {
			return ClipResult{}, fmt.Errorf("clip %s %s: boundary crs: %w", site, src, err)
		}
		b, err = b.Transform(t, r.CRS)
		t.Close()
		if err != nil {
			return ClipResult{}, fmt.Errorf("clip %s %s: %w", site, src, err)
		}
	}

	clipped := domain.ClipToBoundary(r, b)
	valid := clipped.ValidCount()
	if valid == 0 {
		c.logger.Warn("boundary does not overlap raster", "site", site, "source", src)
	}

	path := c.layout.Clipped(site, src)
	if err := os.MkdirAll(c.layout.SiteDir(site), 0o755); err != nil {
		return ClipResult{}, fmt.Errorf("clip %s %s: %w", site, src, err)
	}
	if err := c.writer.Write(path, clipped); err != nil {
		return ClipResult{}, fmt.Errorf("clip %s %s: %w", site, src, err)
	}
	c.logger.Info("raster clipped", "site", site, "source", src, "path", path,
		"valid_cells", valid, "total_cells", clipped.Size())
	return ClipResult{Raster: clipped, Path: path}, nil
}

func (c *Clipper) reproject(r *domain.Raster, target string) (*domain.Raster, error) {
	t, err := c.projector.Transformer(r.CRS, target)
	if err != nil {
		return nil, err
	}
	defer t.Close()
	return domain.Reproject(r, t, target)
}
