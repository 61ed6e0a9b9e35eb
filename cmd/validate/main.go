// Command validate checks the on-disk cache left by rempipeline: downloaded
// and clipped rasters, REM outputs against the ledger, figures and the flood
// animation. It reads the same environment as rempipeline. Ledger entries
// whose REM output no longer exists are reported, and removed with -prune.
//
// Usage:
//
//	SITES=HM,LEG1 BASE_DIR=./data go run ./cmd/validate [-prune]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image/gif"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/couchcryptid/watershed-rem/internal/adapter/gospatial"
	"github.com/couchcryptid/watershed-rem/internal/adapter/sqlite"
	"github.com/couchcryptid/watershed-rem/internal/config"
	"github.com/couchcryptid/watershed-rem/internal/domain"
	"github.com/couchcryptid/watershed-rem/internal/pipeline"
)

var figureNames = []string{"uav_dtm", "lidar_dtm", "uav_rem", "lidar_rem", "uav_rem_hist", "lidar_rem_hist"}

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	_ = godotenv.Load()
	os.Exit(run())
}

func run() int {
	prune := flag.Bool("prune", false, "forget ledger entries whose REM output is missing")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load config: %v\n", err)
		return 1
	}
	if err := cfg.RequireSites(); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}
	layout := domain.Layout{BaseDir: cfg.BaseDir}
	codec := gospatial.NewCodec(slog.New(slog.NewTextHandler(io.Discard, nil)))

	ledger, err := sqlite.Open(layout.Ledger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: open ledger: %v\n", err)
		return 1
	}
	defer ledger.Close()

	fmt.Println("=== REM Cache Validation ===")
	fmt.Printf("Base dir: %s, sites: %v\n", cfg.BaseDir, cfg.Sites)

	phases := []*phase{
		validateDownloads(codec, layout, cfg.Sites),
		validateClipped(codec, layout, cfg.Sites),
		validateREMs(context.Background(), ledger, layout, cfg.Sites, cfg.REMParams()),
		validateLedger(context.Background(), ledger, *prune),
		validateFigures(layout, cfg.Sites),
		validateAnimation(layout, cfg.Sites, len(cfg.FloodThresholds)),
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// checkRaster reads path and reports a missing, unreadable or empty raster.
func checkRaster(p *phase, codec *gospatial.Codec, label, path string) *domain.Raster {
	r, err := codec.Read(path)
	if err != nil {
		p.errorf("%s: %v", label, err)
		return nil
	}
	if r.ValidCount() == 0 {
		p.errorf("%s: %s has no data cells", label, path)
	}
	return r
}

func validateDownloads(codec *gospatial.Codec, l domain.Layout, sites []string) *phase {
	p := &phase{name: "Phase 1: Downloaded DTMs"}
	for _, site := range sites {
		checkRaster(p, codec, site+" drone DTM", l.DroneDTM(site))
		checkRaster(p, codec, site+" airborne DTM", l.AirborneRaster(site))
	}
	return p
}

func validateClipped(codec *gospatial.Codec, l domain.Layout, sites []string) *phase {
	p := &phase{name: "Phase 2: Clipped DTMs"}
	for _, site := range sites {
		for _, src := range []domain.Source{domain.SourceDrone, domain.SourceAirborne} {
			r := checkRaster(p, codec, fmt.Sprintf("%s clipped %s", site, src), l.Clipped(site, src))
			if r != nil && !domain.SameCRS(r.CRS, domain.EPSG4326) {
				p.errorf("%s clipped %s: CRS %q, want %s", site, src, r.CRS, domain.EPSG4326)
			}
		}
	}
	return p
}

// validateREMs recomputes each input fingerprint and compares it with the
// ledger entry of the output.
func validateREMs(ctx context.Context, ledger *sqlite.Ledger, l domain.Layout, sites []string, params domain.REMParams) *phase {
	p := &phase{name: "Phase 3: REM outputs match ledger"}
	for _, site := range sites {
		for _, src := range []domain.Source{domain.SourceDrone, domain.SourceAirborne} {
			job := pipeline.REMJob(l, site, src, params, false)
			if _, err := os.Stat(job.Output); err != nil {
				p.errorf("%s %s REM: %v", site, src, err)
				continue
			}
			entry, ok, err := ledger.Lookup(ctx, job.Output)
			if err != nil {
				p.errorf("%s %s REM: ledger: %v", site, src, err)
				continue
			}
			if !ok {
				p.errorf("%s %s REM: no ledger entry for %s", site, src, job.Output)
				continue
			}
			f, err := os.Open(job.Input)
			if err != nil {
				p.errorf("%s %s REM: %v", site, src, err)
				continue
			}
			fp, err := domain.Fingerprint(f, params)
			f.Close()
			if err != nil {
				p.errorf("%s %s REM: %v", site, src, err)
				continue
			}
			if fp != entry.Fingerprint {
				p.errorf("%s %s REM: stale, input or parameters changed since %s", site, src, entry.CreatedAt.Format("2006-01-02 15:04"))
			}
		}
	}
	return p
}

// validateLedger reports entries whose output file is gone. With prune they
// are forgotten instead, so the next run recomputes them.
func validateLedger(ctx context.Context, ledger *sqlite.Ledger, prune bool) *phase {
	p := &phase{name: "Phase 4: Ledger entries have outputs"}
	entries, err := ledger.List(ctx)
	if err != nil {
		p.errorf("ledger: %v", err)
		return p
	}
	for _, e := range entries {
		_, err := os.Stat(e.OutputPath)
		if err == nil {
			continue
		}
		if !errors.Is(err, os.ErrNotExist) {
			p.errorf("%s: %v", e.OutputPath, err)
			continue
		}
		if !prune {
			p.errorf("%s: recorded %s but missing", e.OutputPath, e.CreatedAt.Format("2006-01-02 15:04"))
			continue
		}
		if err := ledger.Forget(ctx, e.OutputPath); err != nil {
			p.errorf("%s: %v", e.OutputPath, err)
			continue
		}
		fmt.Printf("pruned ledger entry %s\n", e.OutputPath)
	}
	return p
}

func validateFigures(l domain.Layout, sites []string) *phase {
	p := &phase{name: "Phase 5: Figures"}
	for _, site := range sites {
		for _, name := range figureNames {
			if _, err := os.Stat(l.Figure(site, name)); err != nil {
				p.errorf("%s %s: %v", site, name, err)
			}
		}
	}
	return p
}

func validateAnimation(l domain.Layout, sites []string, wantFrames int) *phase {
	p := &phase{name: "Phase 6: Flood animation"}
	for _, site := range sites {
		frames, err := filepath.Glob(filepath.Join(l.FrameDir(site), "*.jpg"))
		if err != nil {
			p.errorf("%s frames: %v", site, err)
			continue
		}
		if len(frames) != wantFrames {
			p.errorf("%s frames: %d, want one per threshold (%d)", site, len(frames), wantFrames)
		}
		f, err := os.Open(l.FloodGIF(site))
		if err != nil {
			p.errorf("%s gif: %v", site, err)
			continue
		}
		g, err := gif.DecodeAll(f)
		f.Close()
		if err != nil {
			p.errorf("%s gif: %v", site, err)
			continue
		}
		if len(g.Image) != len(frames) {
			p.errorf("%s gif: %d images for %d frames", site, len(g.Image), len(frames))
		}
	}
	return p
}
