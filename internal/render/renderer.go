package render

import (
	"context"
	"fmt"
	"image/color"
	"log/slog"
	"time"

	"github.com/couchcryptid/watershed-rem/internal/domain"
)

var (
	droneColor    = color.NRGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 255}
	airborneColor = color.NRGBA{R: 0xff, G: 0x7f, B: 0x0e, A: 255}
)

// Config holds the per-site figure settings.
type Config struct {
	Layout        domain.Layout
	REMColormap   string
	CoarsenPixels int
	FrameDelay    time.Duration
	Override      bool
}

// Renderer draws every figure of a site. It implements pipeline.Visualizer.
type Renderer struct {
	cfg    Config
	logger *slog.Logger
}

func NewRenderer(cfg Config, logger *slog.Logger) *Renderer {
	if _, err := Colormap(cfg.REMColormap); err != nil {
		logger.Warn("rem colormap not available for figures, using viridis", "colormap", cfg.REMColormap)
		cfg.REMColormap = "viridis"
	}
	return &Renderer{cfg: cfg, logger: logger}
}

type figure struct {
	name   string
	raster *domain.Raster
	style  Style
}

// RenderSite writes the DTM and REM plots and histograms under the site's
// figures directory, then the flood frames and animation. It returns the
// animation path.
func (r *Renderer) RenderSite(ctx context.Context, site string, figs domain.FigureSet) (string, error) {
	l := r.cfg.Layout
	n := r.cfg.CoarsenPixels
	plots := []figure{
		{"uav_dtm", figs.DroneDTM, Style{Title: site + " UAV DTM", Colormap: "terrain", ColorbarLabel: "Elevation (m)", CoarsenX: n, CoarsenY: n}},
		{"lidar_dtm", figs.AirborneDTM, Style{Title: site + " LiDAR DTM", Colormap: "terrain", ColorbarLabel: "Elevation (m)"}},
		{"uav_rem", figs.DroneREM, Style{Title: site + " UAV REM", Colormap: r.cfg.REMColormap, ColorbarLabel: "Relative Elevation (m)", CoarsenX: n, CoarsenY: n}},
		{"lidar_rem", figs.AirborneREM, Style{Title: site + " LiDAR REM", Colormap: r.cfg.REMColormap, ColorbarLabel: "Relative Elevation (m)"}},
		{"published_uav_rem", figs.PublishedREM, Style{Title: site + " Published UAV REM", Colormap: r.cfg.REMColormap, ColorbarLabel: "Relative Elevation (m)", CoarsenX: n, CoarsenY: n}},
	}
	for _, f := range plots {
		if f.raster == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := RenderRaster(l.Figure(site, f.name), f.raster, f.style); err != nil {
			return "", fmt.Errorf("%s: %w", f.name, err)
		}
	}

	hists := []struct {
		name   string
		raster *domain.Raster
		style  HistStyle
	}{
		{"uav_rem_hist", figs.DroneREM, HistStyle{Title: site + " UAV REM", Color: droneColor, Bins: 20}},
		{"lidar_rem_hist", figs.AirborneREM, HistStyle{Title: site + " LiDAR REM", Color: airborneColor, Bins: 20}},
	}
	for _, h := range hists {
		if h.raster == nil {
			continue
		}
		if err := RenderHistogram(l.Figure(site, h.name), h.raster, h.style); err != nil {
			return "", fmt.Errorf("%s: %w", h.name, err)
		}
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}
	frames, err := RenderFloodFrames(l.FrameDir(site), site, figs.Levels, r.cfg.Override)
	if err != nil {
		return "", err
	}
	gifPath := l.FloodGIF(site)
	count, err := AssembleGIF(l.FrameDir(site), gifPath, r.cfg.FrameDelay)
	if err != nil {
		return "", err
	}
	r.logger.Info("site figures rendered", "site", site, "frames", len(frames), "gif_frames", count, "gif", gifPath)
	return gifPath, nil
}
