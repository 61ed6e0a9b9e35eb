// Command sitemap draws the overview maps of the survey sites in the St. Vrain
// watershed: a static PNG and an interactive Leaflet page under
// $BASE_DIR/sitemap.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/joho/godotenv"

	"github.com/couchcryptid/watershed-rem/internal/adapter/archive"
	"github.com/couchcryptid/watershed-rem/internal/adapter/fetch"
	"github.com/couchcryptid/watershed-rem/internal/adapter/proj"
	"github.com/couchcryptid/watershed-rem/internal/config"
	"github.com/couchcryptid/watershed-rem/internal/observability"
	"github.com/couchcryptid/watershed-rem/internal/sitemap"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fetchCfg := fetch.DefaultConfig()
	fetchCfg.Timeout = cfg.HTTPTimeout
	fetchCfg.MaxRetries = cfg.FetchMaxRetries
	fetchCfg.MaxBackoff = cfg.FetchMaxBackoff
	fetcher := fetch.New(fetchCfg, logger, observability.NewMetrics())
	defer fetcher.Close()

	sm := cfg.SiteMap
	m := sitemap.NewMapper(fetcher, archive.Extract, proj.Projector{}, sitemap.Config{
		Dir:            filepath.Join(cfg.BaseDir, "sitemap"),
		SitesCSVURL:    sm.SitesCSVURL,
		WBDURL:         sm.WBDURL,
		StreamsURL:     sm.StreamsURL,
		WatershedMatch: sm.WatershedMatch,
		SiteRows:       sm.SiteRows,
		TileURL:        sm.TileURL,
		Override:       cfg.OverrideCache,
	}, logger)

	res, err := m.Build(ctx)
	if err != nil {
		logger.Error("site map failed", "error", err)
		stop()
		fetcher.Close()
		os.Exit(1)
	}
	for _, s := range res.Sites {
		logger.Info("site plotted", "name", s.Name, "display", s.Display, "lat", s.Lat, "lon", s.Lon)
	}
}
