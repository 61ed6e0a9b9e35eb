package config

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/go-playground/validator/v10"

	"github.com/couchcryptid/watershed-rem/internal/domain"
)

const (
	defaultDroneTemplate        = "https://zenodo.org/record/8218054/files/{site}_uav_dtm.tif?download=1"
	defaultPublishedREMTemplate = "https://zenodo.org/record/8218054/files/{site}_uav_rem.tif?download=1"
	defaultAirborneTemplate     = "https://github.com/lechipman/watershed-project/releases/download/v2.0.0/{site}_lidar.zip"

	defaultSitesCSVURL = "https://raw.githubusercontent.com/lechipman/watershed-project/master/UAV_gps_coords.csv"
	defaultWBDURL      = "https://prd-tnm.s3.amazonaws.com/StagedProducts/Hydrography/WBD/HU2/Shape/WBD_10_HU2_Shape.zip"
	defaultStreamsURL  = "https://geo.colorado.edu/apps/geolibrary/datasets/STREAMSx4.zip"
	defaultTileURL     = "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png"
)

// Config holds all settings, populated from environment variables. The env
// tag names the variable each field is read from; validation errors report it.
type Config struct {
	BaseDir           string   `env:"BASE_DIR" validate:"required"`
	Sites             []string `env:"SITES"`
	Templates         domain.SiteTemplates
	FetchPublishedREM bool   `env:"FETCH_PUBLISHED_REM"`
	BoundaryURL       string `env:"BOUNDARY_URL"`
	OverrideCache     bool   `env:"OVERRIDE_CACHE"`

	// Fetcher.
	HTTPTimeout     time.Duration `env:"HTTP_TIMEOUT"`
	FetchMaxRetries int           `env:"FETCH_MAX_RETRIES" validate:"gte=0,lte=10"`
	FetchMaxBackoff time.Duration `env:"FETCH_MAX_BACKOFF"`

	SiteConcurrency int `env:"SITE_CONCURRENCY" validate:"gte=1,lte=64"`
	RasterCacheSize int `env:"RASTER_CACHE_SIZE" validate:"gte=0"`

	// REM generator.
	REMCommand      []string      `env:"REM_COMMAND" validate:"min=1"`
	REMInterpPoints int           `env:"REM_INTERP_POINTS" validate:"gt=0"`
	REMK            int           `env:"REM_K" validate:"gt=0"`
	REMColormap     string        `env:"REM_COLORMAP" validate:"required"`
	REMTimeout      time.Duration `env:"REM_TIMEOUT"`

	// Flood sweep and figures.
	DroneGSD        float64       `env:"DRONE_GSD_M" validate:"gt=0"`
	AirborneGSD     float64       `env:"AIRBORNE_GSD_M" validate:"gt=0"`
	FloodThresholds []float64     `env:"FLOOD_THRESHOLDS" validate:"min=1"`
	CoarsenPixels   int           `env:"COARSEN_PIXELS" validate:"gte=1"`
	GIFFrameDelay   time.Duration `env:"GIF_FRAME_DELAY"`

	// Publishing; an empty broker list disables it.
	KafkaBrokers   []string `env:"KAFKA_BROKERS"`
	KafkaTopic     string   `env:"KAFKA_TOPIC" validate:"required"`
	PublishRetries int      `env:"PUBLISH_RETRIES" validate:"gte=0,lte=20"`

	HTTPAddr        string        `env:"HTTP_ADDR"`
	LogLevel        string        `env:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	LogFormat       string        `env:"LOG_FORMAT" validate:"oneof=json text"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT"`
	ExitOnComplete  bool          `env:"EXIT_ON_COMPLETE"`

	SiteMap SiteMapConfig
}

// SiteMapConfig configures the site map pipeline.
type SiteMapConfig struct {
	SitesCSVURL    string `env:"SITES_CSV_URL" validate:"required,url"`
	WBDURL         string `env:"WBD_URL" validate:"required,url"`
	StreamsURL     string `env:"STREAMS_URL" validate:"required,url"`
	WatershedMatch string `env:"WATERSHED_MATCH" validate:"required"`
	SiteRows       []int  `env:"SITE_ROWS" validate:"min=1"`
	TileURL        string `env:"MAP_TILE_URL" validate:"required"`
}

// PixelAreas derives per-cell ground areas from the configured GSDs.
func (c *Config) PixelAreas() domain.PixelAreas {
	return domain.PixelAreas{
		Drone:    domain.PixelAreaFromGSD(c.DroneGSD),
		Airborne: domain.PixelAreaFromGSD(c.AirborneGSD),
	}
}

// REMParams returns the REM generator tuning.
func (c *Config) REMParams() domain.REMParams {
	return domain.REMParams{InterpPoints: c.REMInterpPoints, K: c.REMK, Colormap: c.REMColormap}
}

// KafkaEnabled reports whether flood summaries should be published.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// RequireSites fails when no sites were configured.
func (c *Config) RequireSites() error {
	if len(c.Sites) == 0 {
		return errors.New("SITES is required")
	}
	return nil
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	var p parser
	cfg := &Config{
		BaseDir: sharedcfg.EnvOrDefault("BASE_DIR", "./data"),
		Sites:   splitList(sharedcfg.EnvOrDefault("SITES", "")),
		Templates: domain.SiteTemplates{
			Drone:    sharedcfg.EnvOrDefault("DRONE_URL_TEMPLATE", defaultDroneTemplate),
			Airborne: sharedcfg.EnvOrDefault("AIRBORNE_URL_TEMPLATE", defaultAirborneTemplate),
		},
		FetchPublishedREM: p.bool("FETCH_PUBLISHED_REM", true),
		BoundaryURL:       sharedcfg.EnvOrDefault("BOUNDARY_URL", ""),
		OverrideCache:     p.bool("OVERRIDE_CACHE", false),

		HTTPTimeout:     p.duration("HTTP_TIMEOUT", "5m"),
		FetchMaxRetries: p.int("FETCH_MAX_RETRIES", 3),
		FetchMaxBackoff: p.duration("FETCH_MAX_BACKOFF", "5s"),

		SiteConcurrency: p.int("SITE_CONCURRENCY", 2),
		RasterCacheSize: p.int("RASTER_CACHE_SIZE", 8),

		REMCommand:      strings.Fields(sharedcfg.EnvOrDefault("REM_COMMAND", "python3 -m riverrem.REMMaker")),
		REMInterpPoints: p.int("REM_INTERP_POINTS", 1000),
		REMK:            p.int("REM_K", 100),
		REMColormap:     sharedcfg.EnvOrDefault("REM_COLORMAP", "mako_r"),
		REMTimeout:      p.duration("REM_TIMEOUT", "2h"),

		DroneGSD:        p.float("DRONE_GSD_M", 0.02085),
		AirborneGSD:     p.float("AIRBORNE_GSD_M", 0.762),
		FloodThresholds: p.thresholds("FLOOD_THRESHOLDS"),
		CoarsenPixels:   p.int("COARSEN_PIXELS", 10),
		GIFFrameDelay:   p.duration("GIF_FRAME_DELAY", "300ms"),

		KafkaTopic:     sharedcfg.EnvOrDefault("KAFKA_TOPIC", "flood-inundation"),
		PublishRetries: p.int("PUBLISH_RETRIES", 5),

		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        strings.ToLower(sharedcfg.EnvOrDefault("LOG_LEVEL", "info")),
		LogFormat:       strings.ToLower(sharedcfg.EnvOrDefault("LOG_FORMAT", "json")),
		ShutdownTimeout: shutdownTimeout,
		ExitOnComplete:  p.bool("EXIT_ON_COMPLETE", true),

		SiteMap: SiteMapConfig{
			SitesCSVURL:    sharedcfg.EnvOrDefault("SITES_CSV_URL", defaultSitesCSVURL),
			WBDURL:         sharedcfg.EnvOrDefault("WBD_URL", defaultWBDURL),
			StreamsURL:     sharedcfg.EnvOrDefault("STREAMS_URL", defaultStreamsURL),
			WatershedMatch: sharedcfg.EnvOrDefault("WATERSHED_MATCH", "Vrain"),
			SiteRows:       p.ints("SITE_ROWS", "0,7,17,29,-1"),
			TileURL:        sharedcfg.EnvOrDefault("MAP_TILE_URL", defaultTileURL),
		},
	}
	if cfg.FetchPublishedREM {
		cfg.Templates.PublishedREM = sharedcfg.EnvOrDefault("PUBLISHED_REM_URL_TEMPLATE", defaultPublishedREMTemplate)
	}
	if brokers := sharedcfg.EnvOrDefault("KAFKA_BROKERS", ""); brokers != "" {
		cfg.KafkaBrokers = sharedcfg.ParseBrokers(brokers)
	}

	if p.err != nil {
		return nil, p.err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = func() func(any) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("env"); name != "" {
			return name
		}
		return f.Name
	})
	return func(s any) error {
		err := v.Struct(s)
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		msgs := make([]error, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Errorf("invalid %s: %v fails %q", fe.Field(), fe.Value(), tagWithParam(fe)))
		}
		return errors.Join(msgs...)
	}
}()

func tagWithParam(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}

// parser reads typed env vars, keeping the first error so Load can report it
// after building the whole struct.
type parser struct {
	err error
}

func (p *parser) fail(name, raw string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
}

func (p *parser) duration(name, def string) time.Duration {
	raw := sharedcfg.EnvOrDefault(name, def)
	d, err := time.ParseDuration(raw)
	if err != nil {
		p.fail(name, raw, err)
		return 0
	}
	if d <= 0 {
		p.fail(name, raw, errors.New("must be positive"))
	}
	return d
}

func (p *parser) int(name string, def int) int {
	raw := sharedcfg.EnvOrDefault(name, strconv.Itoa(def))
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		p.fail(name, raw, err)
	}
	return n
}

func (p *parser) float(name string, def float64) float64 {
	raw := sharedcfg.EnvOrDefault(name, strconv.FormatFloat(def, 'f', -1, 64))
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		p.fail(name, raw, err)
	}
	return f
}

func (p *parser) bool(name string, def bool) bool {
	raw := sharedcfg.EnvOrDefault(name, strconv.FormatBool(def))
	b, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		p.fail(name, raw, err)
	}
	return b
}

func (p *parser) ints(name, def string) []int {
	raw := sharedcfg.EnvOrDefault(name, def)
	var out []int
	for _, s := range splitList(raw) {
		n, err := strconv.Atoi(s)
		if err != nil {
			p.fail(name, raw, err)
			return nil
		}
		out = append(out, n)
	}
	return out
}

func (p *parser) thresholds(name string) []float64 {
	raw := sharedcfg.EnvOrDefault(name, "")
	if raw == "" {
		return domain.DefaultThresholds()
	}
	ts, err := domain.ParseThresholds(raw)
	if err != nil {
		p.fail(name, raw, err)
	}
	return ts
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
