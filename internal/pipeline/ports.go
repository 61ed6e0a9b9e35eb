package pipeline

import (
	"context"

	"github.com/couchcryptid/watershed-rem/internal/domain"
)

// Fetcher resolves a remote resource to a local cached path.
type Fetcher interface {
	Fetch(ctx context.Context, res domain.CachedResource) (string, error)
}

// Normalizer turns a cached payload into the path of a single raster.
type Normalizer interface {
	Normalize(site, path string) (string, error)
}

// RasterReader decodes a raster file.
type RasterReader interface {
	Read(path string) (*domain.Raster, error)
}

// RasterWriter encodes a raster to a file, choosing the format by extension.
type RasterWriter interface {
	Write(path string, r *domain.Raster) error
}

// Generator runs the external REM generator for one job.
type Generator interface {
	Generate(ctx context.Context, job domain.REMJob) error
}

// Ledger remembers which input fingerprint produced each REM output.
type Ledger interface {
	Lookup(ctx context.Context, output string) (domain.LedgerEntry, bool, error)
	Record(ctx context.Context, e domain.LedgerEntry) error
}

// BoundaryProvider returns the clip polygon of a site.
type BoundaryProvider interface {
	Boundary(ctx context.Context, site string) (domain.Boundary, error)
}

// Visualizer renders a site's figures and flood animation, returning the
// path of the animation.
type Visualizer interface {
	RenderSite(ctx context.Context, site string, figs domain.FigureSet) (string, error)
}

// SummaryPublisher ships per-site flood summaries downstream.
type SummaryPublisher interface {
	Publish(ctx context.Context, summaries []domain.FloodSummary) error
}

// ExtractFunc unpacks a zip archive under destDir.
type ExtractFunc func(zipPath, destDir string) ([]string, error)

// BoundaryReaderFunc reads a site polygon from a shapefile.
type BoundaryReaderFunc func(site, path string) (domain.Boundary, error)
