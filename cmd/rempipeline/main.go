// Command rempipeline downloads the drone and airborne DTMs of each site,
// clips them to the site polygon, generates relative elevation models,
// sweeps flood thresholds and renders the figures and flood animation.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/joho/godotenv"

	"github.com/couchcryptid/watershed-rem/internal/adapter/archive"
	"github.com/couchcryptid/watershed-rem/internal/adapter/fetch"
	"github.com/couchcryptid/watershed-rem/internal/adapter/gospatial"
	httpadapter "github.com/couchcryptid/watershed-rem/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/watershed-rem/internal/adapter/kafka"
	"github.com/couchcryptid/watershed-rem/internal/adapter/proj"
	"github.com/couchcryptid/watershed-rem/internal/adapter/remmaker"
	"github.com/couchcryptid/watershed-rem/internal/adapter/shapefile"
	"github.com/couchcryptid/watershed-rem/internal/adapter/sqlite"
	"github.com/couchcryptid/watershed-rem/internal/config"
	"github.com/couchcryptid/watershed-rem/internal/domain"
	"github.com/couchcryptid/watershed-rem/internal/observability"
	"github.com/couchcryptid/watershed-rem/internal/pipeline"
	"github.com/couchcryptid/watershed-rem/internal/render"
)

func main() {
	os.Exit(run())
}

func run() int {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}
	if err := cfg.RequireSites(); err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}

	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()
	layout := domain.Layout{BaseDir: cfg.BaseDir}

	if err := os.MkdirAll(cfg.BaseDir, 0o755); err != nil {
		logger.Error("create base dir", "dir", cfg.BaseDir, "error", err)
		return 1
	}

	fetchCfg := fetch.DefaultConfig()
	fetchCfg.Timeout = cfg.HTTPTimeout
	fetchCfg.MaxRetries = cfg.FetchMaxRetries
	fetchCfg.MaxBackoff = cfg.FetchMaxBackoff
	fetcher := fetch.New(fetchCfg, logger, metrics)
	defer fetcher.Close()

	codec := gospatial.NewCodec(logger)
	reader := gospatial.NewCachedReader(codec, cfg.RasterCacheSize, metrics)
	projector := proj.Projector{}

	ledger, err := sqlite.Open(layout.Ledger())
	if err != nil {
		logger.Error("open ledger", "path", layout.Ledger(), "error", err)
		return 1
	}
	defer ledger.Close()

	stages := pipeline.Stages{
		Assembler: pipeline.NewAssembler(fetcher, archive.NewNormalizer(logger), reader, pipeline.AssemblerConfig{
			Layout:      layout,
			Templates:   cfg.Templates,
			Override:    cfg.OverrideCache,
			Concurrency: cfg.SiteConcurrency,
		}, logger),
		Boundaries: pipeline.NewBoundarySource(fetcher, archive.Extract, shapefile.ReadBoundary, layout, cfg.BoundaryURL, cfg.OverrideCache, logger),
		Clipper:    pipeline.NewClipper(projector, codec, layout, logger),
		Invoker:    pipeline.NewInvoker(remmaker.NewRunner(cfg.REMCommand, cfg.REMTimeout, logger), ledger, logger, metrics),
		Reader:     reader,
		Visualizer: render.NewRenderer(render.Config{
			Layout:        layout,
			REMColormap:   cfg.REMColormap,
			CoarsenPixels: cfg.CoarsenPixels,
			FrameDelay:    cfg.GIFFrameDelay,
			Override:      cfg.OverrideCache,
		}, logger),
	}

	var publisher *kafkaadapter.Publisher
	if cfg.KafkaEnabled() {
		publisher = kafkaadapter.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		stages.Publisher = publisher
		logger.Info("kafka publishing enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	} else {
		logger.Info("kafka publishing disabled")
	}

	p := pipeline.New(stages, pipeline.Settings{
		Layout:          layout,
		Params:          cfg.REMParams(),
		Thresholds:      cfg.FloodThresholds,
		Areas:           cfg.PixelAreas(),
		Override:        cfg.OverrideCache,
		SiteConcurrency: cfg.SiteConcurrency,
		PublishRetries:  cfg.PublishRetries,
	}, logger, metrics)

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, p, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	runErr := p.Run(ctx, cfg.Sites)
	if runErr != nil {
		logger.Error("pipeline finished with errors", "error", runErr)
	}

	if !cfg.ExitOnComplete {
		logger.Info("run complete, serving until signalled")
		<-ctx.Done()
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Error("kafka publisher close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
	if runErr != nil {
		return 1
	}
	return 0
}
