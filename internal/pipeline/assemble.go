package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/watershed-rem/internal/domain"
)

// Assembler downloads and decodes the drone and airborne terrain rasters of
// each site.
type Assembler struct {
	fetcher     Fetcher
	normalizer  Normalizer
	reader      RasterReader
	layout      domain.Layout
	templates   domain.SiteTemplates
	override    bool
	concurrency int
	logger      *slog.Logger
}

// AssemblerConfig holds the Assembler's settings.
type AssemblerConfig struct {
	Layout      domain.Layout
	Templates   domain.SiteTemplates
	Override    bool
	Concurrency int
}

func NewAssembler(f Fetcher, n Normalizer, r RasterReader, cfg AssemblerConfig, logger *slog.Logger) *Assembler {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Assembler{
		fetcher:     f,
		normalizer:  n,
		reader:      r,
		layout:      cfg.Layout,
		templates:   cfg.Templates,
		override:    cfg.Override,
		concurrency: cfg.Concurrency,
		logger:      logger,
	}
}

// Assemble builds a record per name. Sites are fetched concurrently; the
// result order matches names. The first failure cancels the rest.
func (a *Assembler) Assemble(ctx context.Context, names []string) ([]domain.SiteRecord, error) {
	out := make([]domain.SiteRecord, len(names))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, name := range names {
		g.Go(func() error {
			rec, err := a.AssembleSite(ctx, name)
			if err != nil {
				return fmt.Errorf("site %s: %w", name, err)
			}
			out[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// AssembleSite fetches, normalizes and decodes one site's rasters. The
// published drone REM is optional; failing to load it only logs a warning.
func (a *Assembler) AssembleSite(ctx context.Context, name string) (domain.SiteRecord, error) {
	rec := domain.SiteRecord{Site: a.templates.Site(name)}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		path, r, err := a.load(gctx, name, rec.Site.DroneURL, a.layout.DroneDTM(name))
		if err != nil {
			return fmt.Errorf("drone dtm: %w", err)
		}
		rec.DronePath, rec.Drone = path, r
		return nil
	})
	g.Go(func() error {
		path, r, err := a.load(gctx, name, rec.Site.AirborneURL, a.layout.AirborneArchive(name))
		if err != nil {
			return fmt.Errorf("airborne dtm: %w", err)
		}
		rec.AirbornePath, rec.Airborne = path, r
		return nil
	})
	if rec.Site.PublishedREMURL != "" {
		g.Go(func() error {
			path, r, err := a.load(gctx, name, rec.Site.PublishedREMURL, a.layout.PublishedREM(name))
			if err != nil {
				a.logger.Warn("published rem unavailable", "site", name, "error", err)
				return nil
			}
			rec.PublishedREMPath, rec.PublishedREM = path, r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.SiteRecord{}, err
	}

	a.logger.Info("site assembled", "site", name,
		"drone", rec.DronePath, "drone_rows", rec.Drone.Rows, "drone_cols", rec.Drone.Cols,
		"airborne", rec.AirbornePath, "airborne_rows", rec.Airborne.Rows, "airborne_cols", rec.Airborne.Cols)
	return rec, nil
}

func (a *Assembler) load(ctx context.Context, site, url, path string) (string, *domain.Raster, error) {
	cached, err := a.fetcher.Fetch(ctx, domain.CachedResource{URL: url, Path: path, Override: a.override})
	if err != nil {
		return "", nil, err
	}
	rasterPath, err := a.normalizer.Normalize(site, cached)
	if err != nil {
		return "", nil, err
	}
	r, err := a.reader.Read(rasterPath)
	if err != nil {
		return "", nil, err
	}
	return rasterPath, r, nil
}
