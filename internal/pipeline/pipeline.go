package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	sharedretry "github.com/couchcryptid/storm-data-shared/retry"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/watershed-rem/internal/domain"
	"github.com/couchcryptid/watershed-rem/internal/observability"
)

// Stages are the collaborators a Pipeline drives. Publisher may be nil.
type Stages struct {
	Assembler  *Assembler
	Boundaries BoundaryProvider
	Clipper    *Clipper
	Invoker    *Invoker
	Reader     RasterReader
	Visualizer Visualizer
	Publisher  SummaryPublisher
}

// Settings tune a run.
type Settings struct {
	Layout          domain.Layout
	Params          domain.REMParams
	Thresholds      []float64
	Areas           domain.PixelAreas
	Override        bool
	SiteConcurrency int
	PublishRetries  int
}

// Pipeline carries every site from download to flood summary.
type Pipeline struct {
	stages   Stages
	settings Settings
	logger   *slog.Logger
	metrics  *observability.Metrics
	ready    atomic.Bool

	mu        sync.Mutex
	summaries []domain.FloodSummary
}

// New creates a Pipeline with the given stages and observability.
func New(stages Stages, settings Settings, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	if settings.SiteConcurrency < 1 {
		settings.SiteConcurrency = 1
	}
	return &Pipeline{stages: stages, settings: settings, logger: logger, metrics: metrics}
}

// CheckReadiness returns nil once at least one site has completed, or an
// error describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not completed any site yet")
	}
	return nil
}

// Summaries returns the flood summaries of the last finished run.
func (p *Pipeline) Summaries() []domain.FloodSummary {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.summaries)
}

// Run processes every site. A failing site does not stop the others; all
// failures are joined into the returned error. Summaries of successful sites
// are published even when some sites failed.
func (p *Pipeline) Run(ctx context.Context, sites []string) error {
	runID := uuid.NewString()
	logger := p.logger.With("run_id", runID)
	logger.Info("pipeline started", "sites", len(sites), "site_concurrency", p.settings.SiteConcurrency)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	results := make([]*domain.FloodSummary, len(sites))
	errs := make([]error, len(sites))

	var g errgroup.Group
	g.SetLimit(p.settings.SiteConcurrency)
	for i, site := range sites {
		g.Go(func() error {
			start := time.Now()
			summary, err := p.processSite(ctx, logger.With("site", site), runID, site)
			if err != nil {
				p.metrics.SitesProcessed.WithLabelValues("error").Inc()
				logger.Error("site failed", "site", site, "error", err)
				errs[i] = fmt.Errorf("site %s: %w", site, err)
				return nil
			}
			p.metrics.SitesProcessed.WithLabelValues("success").Inc()
			p.metrics.SiteDuration.Observe(time.Since(start).Seconds())
			p.ready.Store(true)
			results[i] = &summary
			return nil
		})
	}
	_ = g.Wait()

	var summaries []domain.FloodSummary
	for _, s := range results {
		if s != nil {
			summaries = append(summaries, *s)
		}
	}
	p.mu.Lock()
	p.summaries = summaries
	p.mu.Unlock()

	if err := p.publish(ctx, logger, summaries); err != nil {
		errs = append(errs, err)
	}

	err := errors.Join(errs...)
	logger.Info("pipeline finished", "succeeded", len(summaries), "failed", len(sites)-len(summaries))
	return err
}

func (p *Pipeline) processSite(ctx context.Context, logger *slog.Logger, runID, site string) (domain.FloodSummary, error) {
	st, set := p.stages, p.settings

	rec, err := st.Assembler.AssembleSite(ctx, site)
	if err != nil {
		return domain.FloodSummary{}, err
	}
	boundary, err := st.Boundaries.Boundary(ctx, site)
	if err != nil {
		return domain.FloodSummary{}, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := st.Clipper.Clip(gctx, site, rec.Drone, boundary, domain.SourceDrone)
		rec.ClippedDrone, rec.ClippedDronePath = res.Raster, res.Path
		return err
	})
	g.Go(func() error {
		res, err := st.Clipper.Clip(gctx, site, rec.Airborne, boundary, domain.SourceAirborne)
		rec.ClippedAirborne, rec.ClippedAirbornePath = res.Raster, res.Path
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.FloodSummary{}, err
	}

	for _, src := range []domain.Source{domain.SourceDrone, domain.SourceAirborne} {
		job := REMJob(set.Layout, site, src, set.Params, set.Override)
		outcome, err := st.Invoker.Invoke(ctx, job)
		if err != nil {
			return domain.FloodSummary{}, fmt.Errorf("rem %s: %w", src, err)
		}
		rem, err := st.Reader.Read(job.Output)
		if err != nil {
			return domain.FloodSummary{}, fmt.Errorf("rem %s: %w", src, err)
		}
		logger.Info("rem ready", "source", src, "outcome", outcome, "path", job.Output)
		if src == domain.SourceDrone {
			rec.DroneREMPath, rec.DroneREM = job.Output, rem
		} else {
			rec.AirborneREMPath, rec.AirborneREM = job.Output, rem
		}
	}

	rec.Levels, err = Sweep(ctx, set.Thresholds, rec.DroneREM, rec.AirborneREM, set.Areas)
	if err != nil {
		return domain.FloodSummary{}, err
	}

	rec.FloodGIF, err = st.Visualizer.RenderSite(ctx, site, rec.Figures())
	if err != nil {
		return domain.FloodSummary{}, fmt.Errorf("render: %w", err)
	}

	summary := domain.Summarize(runID, site, rec.Levels)
	summary.DroneREM = rec.DroneREMPath
	summary.AirborneREM = rec.AirborneREMPath
	summary.FloodGIF = rec.FloodGIF
	logger.Info("site complete", "levels", len(rec.Levels), "flood_gif", rec.FloodGIF)
	return summary, nil
}

// publish sends summaries, retrying with exponential backoff: start at
// 200ms, double each retry, cap at 5s.
func (p *Pipeline) publish(ctx context.Context, logger *slog.Logger, summaries []domain.FloodSummary) error {
	if p.stages.Publisher == nil || len(summaries) == 0 {
		return nil
	}
	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second

	for attempt := 0; ; attempt++ {
		err := p.stages.Publisher.Publish(ctx, summaries)
		if err == nil {
			p.metrics.SummariesPublished.Add(float64(len(summaries)))
			return nil
		}
		if attempt >= p.settings.PublishRetries || !backoffOrStop(ctx, &backoff, maxBackoff) {
			return err
		}
		logger.Warn("publish failed, retrying", "error", err, "attempt", attempt+1)
	}
}

// backoffOrStop checks for context cancellation, sleeps with the current backoff,
// and advances the backoff. Returns false if the caller should stop.
func backoffOrStop(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !sharedretry.SleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = sharedretry.NextBackoff(*backoff, maxBackoff)
	return true
}
