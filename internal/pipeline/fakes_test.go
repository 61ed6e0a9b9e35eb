package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/paulmach/orb"
	"go.uber.org/goleak"

	"github.com/couchcryptid/watershed-rem/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- rasters ---

// gridRaster is a rows x cols raster of unit cells with values 0..n-1 and its
// north-west corner at (west, rows).
func gridRaster(rows, cols int, west float64, crs string) *domain.Raster {
	r := domain.NewRaster(rows, cols, domain.GeoTransform{West: west, North: float64(rows), CellWidth: 1, CellHeight: 1}, crs)
	for i := range r.Values {
		r.Values[i] = float64(i)
	}
	return r
}

func rectBoundary(crs string, minX, minY, maxX, maxY float64) domain.Boundary {
	ring := orb.Ring{{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}, {minX, minY}}
	return domain.Boundary{Name: "test", CRS: crs, Polygons: orb.MultiPolygon{{ring}}}
}

// --- raster store: reader and writer over one map ---

type memStore struct {
	mu      sync.Mutex
	rasters map[string]*domain.Raster
	writes  []string
}

func newMemStore() *memStore {
	return &memStore{rasters: map[string]*domain.Raster{}}
}

func (s *memStore) Read(path string) (*domain.Raster, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rasters[path]
	if !ok {
		return nil, &domain.UnsupportedFormatError{Path: path, Err: os.ErrNotExist}
	}
	return r, nil
}

// Write stores r and writes its values to disk so the file can be fingerprinted.
func (s *memStore) Write(path string, r *domain.Raster) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(fmt.Sprint(r.Values)), 0o644); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rasters[path] = r
	s.writes = append(s.writes, path)
	return nil
}

func (s *memStore) put(path string, r *domain.Raster) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rasters[path] = r
}

// --- fetcher and normalizer ---

type fakeFetcher struct {
	mu    sync.Mutex
	calls []domain.CachedResource
	fail  func(url string) bool
}

func (f *fakeFetcher) Fetch(_ context.Context, res domain.CachedResource) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, res)
	f.mu.Unlock()
	if f.fail != nil && f.fail(res.URL) {
		return "", &domain.FetchError{URL: res.URL, Path: res.Path, StatusCode: 404, Err: errors.New("not found")}
	}
	return res.Path, nil
}

func (f *fakeFetcher) paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.Path
	}
	return out
}

type fakeNormalizer struct{}

func (fakeNormalizer) Normalize(site, path string) (string, error) {
	if strings.HasSuffix(path, ".zip") {
		return domain.AirborneMember(filepath.Dir(path), site), nil
	}
	return path, nil
}

// --- projector ---

// shiftProjector moves x by dx regardless of the CRS pair and records the pairs asked for.
type shiftProjector struct {
	dx    float64
	mu    sync.Mutex
	pairs [][2]string
}

func (p *shiftProjector) Transformer(source, target string) (domain.Transformer, error) {
	p.mu.Lock()
	p.pairs = append(p.pairs, [2]string{source, target})
	p.mu.Unlock()
	return shift{dx: p.dx}, nil
}

type shift struct{ dx float64 }

func (s shift) Forward(x, y float64) (float64, float64, error) { return x + s.dx, y, nil }
func (s shift) Inverse(x, y float64) (float64, float64, error) { return x - s.dx, y, nil }
func (shift) Close() error                                     { return nil }

// --- REM generator and ledger ---

// fakeGenerator treats the clipped input itself as the REM.
type fakeGenerator struct {
	store  *memStore
	err    error
	during func() // runs inside Generate, e.g. to advance a fake clock
	mu     sync.Mutex
	jobs   []domain.REMJob
}

func (g *fakeGenerator) Generate(_ context.Context, job domain.REMJob) error {
	g.mu.Lock()
	g.jobs = append(g.jobs, job)
	g.mu.Unlock()
	if g.during != nil {
		g.during()
	}
	if g.err != nil {
		return g.err
	}
	in, err := g.store.Read(job.Input)
	if err != nil {
		return err
	}
	return g.store.Write(job.Output, in)
}

func (g *fakeGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.jobs)
}

type fakeLedger struct {
	mu      sync.Mutex
	entries map[string]domain.LedgerEntry
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{entries: map[string]domain.LedgerEntry{}}
}

func (l *fakeLedger) Lookup(_ context.Context, output string) (domain.LedgerEntry, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[output]
	return e, ok, nil
}

func (l *fakeLedger) Record(_ context.Context, e domain.LedgerEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[e.OutputPath] = e
	return nil
}

// --- boundary, visualizer, publisher ---

type fakeBoundaries struct {
	b domain.Boundary
}

func (f fakeBoundaries) Boundary(_ context.Context, site string) (domain.Boundary, error) {
	if site == "NOPOLY" {
		return domain.Boundary{}, &domain.BoundaryNotFoundError{Site: site, Path: "x", Err: os.ErrNotExist}
	}
	return f.b, nil
}

type fakeVisualizer struct {
	layout domain.Layout
	mu     sync.Mutex
	sites  []string
}

func (v *fakeVisualizer) RenderSite(_ context.Context, site string, figs domain.FigureSet) (string, error) {
	if figs.DroneREM == nil || figs.AirborneREM == nil || len(figs.Levels) == 0 {
		return "", errors.New("incomplete figure set")
	}
	v.mu.Lock()
	v.sites = append(v.sites, site)
	v.mu.Unlock()
	return v.layout.FloodGIF(site), nil
}

type fakePublisher struct {
	failures int
	calls    int
	got      []domain.FloodSummary
}

func (p *fakePublisher) Publish(_ context.Context, s []domain.FloodSummary) error {
	p.calls++
	if p.calls <= p.failures {
		return errors.New("broker unavailable")
	}
	p.got = append(p.got, s...)
	return nil
}
