package pipeline_test

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/watershed-rem/internal/adapter/gospatial"
	"github.com/couchcryptid/watershed-rem/internal/domain"
	"github.com/couchcryptid/watershed-rem/internal/observability"
	"github.com/couchcryptid/watershed-rem/internal/pipeline"
)

var testTemplates = domain.SiteTemplates{
	Drone:        "http://example.test/{site}_uav_dtm.tif",
	Airborne:     "http://example.test/{site}_lidar.zip",
	PublishedREM: "http://example.test/{site}_uav_rem.tif",
}

func seedSite(store *memStore, layout domain.Layout, site string) {
	store.put(layout.DroneDTM(site), gridRaster(4, 4, 0, domain.EPSG4326))
	store.put(layout.AirborneRaster(site), gridRaster(4, 4, 0, domain.EPSG4326))
	store.put(layout.PublishedREM(site), gridRaster(2, 2, 0, domain.EPSG4326))
}

func newAssembler(f *fakeFetcher, store *memStore, layout domain.Layout) *pipeline.Assembler {
	return pipeline.NewAssembler(f, fakeNormalizer{}, store, pipeline.AssemblerConfig{
		Layout:      layout,
		Templates:   testTemplates,
		Concurrency: 2,
	}, discard())
}

// --- Assembler ---

func TestAssembler_OrderAndPaths(t *testing.T) {
	layout := domain.Layout{BaseDir: t.TempDir()}
	store := newMemStore()
	seedSite(store, layout, "LEG1-GCP1")
	seedSite(store, layout, "HM")
	f := &fakeFetcher{}

	recs, err := newAssembler(f, store, layout).Assemble(context.Background(), []string{"LEG1-GCP1", "HM"})

	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "LEG1-GCP1", recs[0].Site.Name)
	assert.Equal(t, "HM", recs[1].Site.Name)
	assert.Equal(t, layout.DroneDTM("HM"), recs[1].DronePath)
	assert.Equal(t, layout.AirborneRaster("HM"), recs[1].AirbornePath)
	assert.NotNil(t, recs[1].PublishedREM)
	assert.ElementsMatch(t, []string{
		layout.DroneDTM("LEG1-GCP1"), layout.AirborneArchive("LEG1-GCP1"), layout.PublishedREM("LEG1-GCP1"),
		layout.DroneDTM("HM"), layout.AirborneArchive("HM"), layout.PublishedREM("HM"),
	}, f.paths())
}

func TestAssembler_PublishedREMIsOptional(t *testing.T) {
	layout := domain.Layout{BaseDir: t.TempDir()}
	store := newMemStore()
	seedSite(store, layout, "HM")
	f := &fakeFetcher{fail: func(url string) bool { return strings.Contains(url, "_uav_rem") }}

	rec, err := newAssembler(f, store, layout).AssembleSite(context.Background(), "HM")

	require.NoError(t, err)
	assert.Nil(t, rec.PublishedREM)
	assert.NotNil(t, rec.Drone)
}

func TestAssembler_FetchFailure(t *testing.T) {
	layout := domain.Layout{BaseDir: t.TempDir()}
	store := newMemStore()
	seedSite(store, layout, "HM")
	f := &fakeFetcher{fail: func(url string) bool { return strings.Contains(url, "_lidar") }}

	_, err := newAssembler(f, store, layout).Assemble(context.Background(), []string{"HM"})

	var fe *domain.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 404, fe.StatusCode)
	assert.Contains(t, err.Error(), "airborne dtm")
}

func TestAssembler_UnparseableRaster(t *testing.T) {
	layout := domain.Layout{BaseDir: t.TempDir()}
	f := &fakeFetcher{}

	_, err := newAssembler(f, newMemStore(), layout).AssembleSite(context.Background(), "HM")

	var ue *domain.UnsupportedFormatError
	require.ErrorAs(t, err, &ue)
}

// --- BoundarySource ---

func TestBoundarySource_FetchesBundleOnce(t *testing.T) {
	layout := domain.Layout{BaseDir: t.TempDir()}
	f := &fakeFetcher{}
	extracts := 0
	extract := func(zipPath, destDir string) ([]string, error) {
		extracts++
		assert.Equal(t, layout.BoundaryArchive(), zipPath)
		assert.Equal(t, layout.BaseDir, destDir)
		return []string{"a"}, nil
	}
	var readPaths []string
	read := func(site, path string) (domain.Boundary, error) {
		readPaths = append(readPaths, path)
		return domain.Boundary{Name: site}, nil
	}
	src := pipeline.NewBoundarySource(f, extract, read, layout, "http://example.test/shapefiles.zip", false, discard())

	for _, site := range []string{"HM", "VV GCP1"} {
		b, err := src.Boundary(context.Background(), site)
		require.NoError(t, err)
		assert.Equal(t, site, b.Name)
	}

	assert.Equal(t, 1, extracts)
	assert.Len(t, f.paths(), 1)
	assert.Equal(t, []string{layout.BoundaryShapefile("HM"), layout.BoundaryShapefile("VV GCP1")}, readPaths)
}

func TestBoundarySource_NoURLUsesExtractedBundle(t *testing.T) {
	layout := domain.Layout{BaseDir: t.TempDir()}
	f := &fakeFetcher{}
	extract := func(string, string) ([]string, error) { return nil, errors.New("unexpected extract") }
	read := func(site, path string) (domain.Boundary, error) {
		return domain.Boundary{}, &domain.BoundaryNotFoundError{Site: site, Path: path, Err: os.ErrNotExist}
	}
	src := pipeline.NewBoundarySource(f, extract, read, layout, "", false, discard())

	_, err := src.Boundary(context.Background(), "HM")

	var be *domain.BoundaryNotFoundError
	require.ErrorAs(t, err, &be)
	assert.Empty(t, f.paths())
}

// --- Clipper ---

func TestClipper_DroneLeftHalf(t *testing.T) {
	layout := domain.Layout{BaseDir: t.TempDir()}
	store := newMemStore()
	proj := &shiftProjector{}
	c := pipeline.NewClipper(proj, store, layout, discard())

	res, err := c.Clip(context.Background(), "HM", gridRaster(4, 4, 0, domain.EPSG4326),
		rectBoundary(domain.EPSG4326, 0, 0, 2, 4), domain.SourceDrone)

	require.NoError(t, err)
	assert.Equal(t, layout.Clipped("HM", domain.SourceDrone), res.Path)
	assert.Equal(t, 8, res.Raster.ValidCount())
	assert.Equal(t, 16, res.Raster.Size())
	assert.True(t, math.IsNaN(res.Raster.At(0, 3)))
	assert.InDelta(t, 0.0, res.Raster.At(0, 0), 1e-9)
	assert.FileExists(t, res.Path)
	assert.Empty(t, proj.pairs)
}

func TestClipper_WrittenFileMatchesResult(t *testing.T) {
	layout := domain.Layout{BaseDir: t.TempDir()}
	codec := gospatial.NewCodec(discard())
	c := pipeline.NewClipper(&shiftProjector{}, codec, layout, discard())

	r := gridRaster(4, 4, 0, domain.EPSG4326)
	for i := range r.Values {
		r.Values[i] = 1523.37 + 0.01*float64(i)
	}
	res, err := c.Clip(context.Background(), "HM", r, rectBoundary(domain.EPSG4326, 0, 0, 2, 4), domain.SourceDrone)
	require.NoError(t, err)

	disk, err := codec.Read(res.Path)
	require.NoError(t, err)
	require.Equal(t, res.Raster.Size(), disk.Size())
	assert.Equal(t, 8, disk.ValidCount())
	for i, v := range res.Raster.Values {
		if math.IsNaN(v) {
			assert.True(t, math.IsNaN(disk.Values[i]), "cell %d should be nodata, got %v", i, disk.Values[i])
			continue
		}
		assert.InDelta(t, v, disk.Values[i], 1e-9, "cell %d", i)
	}
}

func TestClipper_AirborneIsReprojected(t *testing.T) {
	layout := domain.Layout{BaseDir: t.TempDir()}
	store := newMemStore()
	proj := &shiftProjector{dx: 100}
	c := pipeline.NewClipper(proj, store, layout, discard())

	res, err := c.Clip(context.Background(), "HM", gridRaster(4, 4, 0, "EPSG:32613"),
		rectBoundary(domain.EPSG4326, 100, 0, 102, 4), domain.SourceAirborne)

	require.NoError(t, err)
	assert.Equal(t, domain.EPSG4326, res.Raster.CRS)
	assert.Equal(t, [][2]string{{"EPSG:32613", domain.EPSG4326}}, proj.pairs)
	assert.Equal(t, 8, res.Raster.ValidCount())
	assert.Equal(t, layout.Clipped("HM", domain.SourceAirborne), res.Path)
	assert.InDelta(t, 100.0, res.Raster.Transform.West, 1e-9)
}

func TestClipper_BoundaryTransformedToRasterCRS(t *testing.T) {
	layout := domain.Layout{BaseDir: t.TempDir()}
	proj := &shiftProjector{dx: -100}
	c := pipeline.NewClipper(proj, newMemStore(), layout, discard())

	res, err := c.Clip(context.Background(), "HM", gridRaster(4, 4, 0, domain.EPSG4326),
		rectBoundary("EPSG:32613", 100, 0, 102, 4), domain.SourceDrone)

	require.NoError(t, err)
	assert.Equal(t, [][2]string{{"EPSG:32613", domain.EPSG4326}}, proj.pairs)
	assert.Equal(t, 8, res.Raster.ValidCount())
}

func TestClipper_DisjointBoundaryLeavesNoData(t *testing.T) {
	c := pipeline.NewClipper(&shiftProjector{}, newMemStore(), domain.Layout{BaseDir: t.TempDir()}, discard())

	res, err := c.Clip(context.Background(), "HM", gridRaster(2, 2, 0, domain.EPSG4326),
		rectBoundary(domain.EPSG4326, 50, 50, 60, 60), domain.SourceDrone)

	require.NoError(t, err)
	assert.Equal(t, 0, res.Raster.ValidCount())
}

// --- Invoker ---

type invokerFixture struct {
	store   *memStore
	gen     *fakeGenerator
	ledger  *fakeLedger
	metrics *observability.Metrics
	inv     *pipeline.Invoker
	job     domain.REMJob
}

func newInvokerFixture(t *testing.T) *invokerFixture {
	t.Helper()
	layout := domain.Layout{BaseDir: t.TempDir()}
	store := newMemStore()
	require.NoError(t, store.Write(layout.Clipped("HM", domain.SourceDrone), gridRaster(2, 2, 0, domain.EPSG4326)))
	gen := &fakeGenerator{store: store}
	ledger := newFakeLedger()
	metrics := observability.NewMetricsForTesting()
	params := domain.REMParams{InterpPoints: 1000, K: 100, Colormap: "mako_r"}
	return &invokerFixture{
		store:   store,
		gen:     gen,
		ledger:  ledger,
		metrics: metrics,
		inv:     pipeline.NewInvoker(gen, ledger, discard(), metrics),
		job:     pipeline.REMJob(layout, "HM", domain.SourceDrone, params, false),
	}
}

func TestREMJob_Paths(t *testing.T) {
	layout := domain.Layout{BaseDir: "/data"}

	job := pipeline.REMJob(layout, "HM", domain.SourceAirborne, domain.REMParams{K: 100}, true)

	assert.Equal(t, filepath.Join("/data", "HM", "HM_lidar_clipped_dtm.tif"), job.Input)
	assert.Equal(t, filepath.Join("/data", "HM", "remmaker_lidar"), job.OutDir)
	assert.Equal(t, filepath.Join("/data", "HM", "remmaker_lidar", "HM_lidar_clipped_dtm_REM.tif"), job.Output)
	assert.Equal(t, filepath.Join("/data", "HM", "remmaker_lidar", "HM_lidar_clipped_dtm_REM_viz.png"), job.Viz)
	assert.True(t, job.Override)
}

func TestInvoker_ComputesThenSkips(t *testing.T) {
	fx := newInvokerFixture(t)
	ctx := context.Background()

	first, err := fx.inv.Invoke(ctx, fx.job)
	require.NoError(t, err)
	second, err := fx.inv.Invoke(ctx, fx.job)
	require.NoError(t, err)

	assert.Equal(t, pipeline.OutcomeComputed, first)
	assert.Equal(t, pipeline.OutcomeCached, second)
	assert.Equal(t, 1, fx.gen.calls())
	entry, ok, _ := fx.ledger.Lookup(ctx, fx.job.Output)
	require.True(t, ok)
	assert.Equal(t, fx.job.Params, entry.Params)
	assert.InDelta(t, 1.0, testutil.ToFloat64(fx.metrics.REMInvocations.WithLabelValues("computed")), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(fx.metrics.REMInvocations.WithLabelValues("cached")), 0)
}

func TestInvoker_DurationUsesClock(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, time.May, 4, 12, 0, 0, 0, time.UTC))
	domain.SetClock(clock)
	t.Cleanup(func() { domain.SetClock(nil) })

	fx := newInvokerFixture(t)
	fx.gen.during = func() { clock.Advance(90 * time.Second) }

	_, err := fx.inv.Invoke(context.Background(), fx.job)
	require.NoError(t, err)

	want := `
# HELP watershed_rem_rem_duration_seconds Duration of REM generator runs that were not served from cache.
# TYPE watershed_rem_rem_duration_seconds histogram
watershed_rem_rem_duration_seconds_bucket{le="1"} 0
watershed_rem_rem_duration_seconds_bucket{le="10"} 0
watershed_rem_rem_duration_seconds_bucket{le="60"} 0
watershed_rem_rem_duration_seconds_bucket{le="300"} 1
watershed_rem_rem_duration_seconds_bucket{le="900"} 1
watershed_rem_rem_duration_seconds_bucket{le="1800"} 1
watershed_rem_rem_duration_seconds_bucket{le="3600"} 1
watershed_rem_rem_duration_seconds_bucket{le="7200"} 1
watershed_rem_rem_duration_seconds_bucket{le="+Inf"} 1
watershed_rem_rem_duration_seconds_sum 90
watershed_rem_rem_duration_seconds_count 1
`
	require.NoError(t, testutil.CollectAndCompare(fx.metrics.REMDuration, strings.NewReader(want)))
	entry, ok, err := fx.ledger.Lookup(context.Background(), fx.job.Output)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, entry.CreatedAt.Equal(clock.Now()))
}

func TestInvoker_ChangedInputRecomputes(t *testing.T) {
	fx := newInvokerFixture(t)
	ctx := context.Background()
	_, err := fx.inv.Invoke(ctx, fx.job)
	require.NoError(t, err)

	changed := gridRaster(2, 2, 0, domain.EPSG4326)
	changed.Values[0] = 42
	require.NoError(t, fx.store.Write(fx.job.Input, changed))
	outcome, err := fx.inv.Invoke(ctx, fx.job)

	require.NoError(t, err)
	assert.Equal(t, pipeline.OutcomeComputed, outcome)
	assert.Equal(t, 2, fx.gen.calls())
}

func TestInvoker_ChangedParamsRecompute(t *testing.T) {
	fx := newInvokerFixture(t)
	ctx := context.Background()
	_, err := fx.inv.Invoke(ctx, fx.job)
	require.NoError(t, err)

	job := fx.job
	job.Params.K = 50
	outcome, err := fx.inv.Invoke(ctx, job)

	require.NoError(t, err)
	assert.Equal(t, pipeline.OutcomeComputed, outcome)
}

func TestInvoker_OutputWithoutLedgerEntryRecomputes(t *testing.T) {
	fx := newInvokerFixture(t)
	require.NoError(t, os.MkdirAll(fx.job.OutDir, 0o755))
	require.NoError(t, os.WriteFile(fx.job.Output, []byte("stale"), 0o644))

	outcome, err := fx.inv.Invoke(context.Background(), fx.job)

	require.NoError(t, err)
	assert.Equal(t, pipeline.OutcomeComputed, outcome)
	assert.Equal(t, 1, fx.gen.calls())
}

func TestInvoker_OverrideForcesRun(t *testing.T) {
	fx := newInvokerFixture(t)
	ctx := context.Background()
	_, err := fx.inv.Invoke(ctx, fx.job)
	require.NoError(t, err)

	job := fx.job
	job.Override = true
	outcome, err := fx.inv.Invoke(ctx, job)

	require.NoError(t, err)
	assert.Equal(t, pipeline.OutcomeComputed, outcome)
	assert.Equal(t, 2, fx.gen.calls())
}

func TestInvoker_GeneratorFailure(t *testing.T) {
	fx := newInvokerFixture(t)
	fx.gen.err = errors.New("exit status 1")

	_, err := fx.inv.Invoke(context.Background(), fx.job)

	require.Error(t, err)
	_, ok, _ := fx.ledger.Lookup(context.Background(), fx.job.Output)
	assert.False(t, ok)
	assert.InDelta(t, 1.0, testutil.ToFloat64(fx.metrics.REMInvocations.WithLabelValues("error")), 0)
}

func TestInvoker_MissingInput(t *testing.T) {
	fx := newInvokerFixture(t)
	fx.job.Input = filepath.Join(t.TempDir(), "missing.tif")

	_, err := fx.inv.Invoke(context.Background(), fx.job)

	require.ErrorIs(t, err, os.ErrNotExist)
	assert.Equal(t, 0, fx.gen.calls())
}

// --- Sweep ---

func TestSweep_OrderAndMonotonicity(t *testing.T) {
	drone := gridRaster(4, 4, 0, domain.EPSG4326)
	airborne := gridRaster(2, 2, 0, domain.EPSG4326)
	thresholds := []float64{0, 2, 1, 3, 8}
	areas := domain.PixelAreas{Drone: 0.25, Airborne: 1}

	levels, err := pipeline.Sweep(context.Background(), thresholds, drone, airborne, areas)

	require.NoError(t, err)
	require.Len(t, levels, len(thresholds))
	for i, l := range levels {
		assert.InDelta(t, thresholds[i], l.Threshold, 0)
	}
	// 0..15 above 0 leaves 15 valid drone cells; 0..3 above 0 leaves 3 airborne.
	assert.Equal(t, 15, levels[0].Drone.ValidCount)
	assert.InDelta(t, 0.25, levels[0].Drone.InundatedArea, 1e-9)
	assert.Equal(t, 3, levels[0].Airborne.ValidCount)
	assert.Equal(t, 0, levels[3].Airborne.ValidCount)
	assert.InDelta(t, 4.0, levels[3].Airborne.InundatedArea, 1e-9)

	sorted := []int{0, 2, 1, 3, 4}
	for k := 1; k < len(sorted); k++ {
		prev, cur := levels[sorted[k-1]], levels[sorted[k]]
		assert.LessOrEqual(t, cur.Drone.ValidCount, prev.Drone.ValidCount)
		assert.GreaterOrEqual(t, cur.Drone.InundatedArea, prev.Drone.InundatedArea)
	}
}

func TestSweep_EmptyThresholds(t *testing.T) {
	r := gridRaster(2, 2, 0, domain.EPSG4326)

	_, err := pipeline.Sweep(context.Background(), nil, r, r, domain.PixelAreas{})

	require.ErrorIs(t, err, domain.ErrEmptyThresholds)
}

func TestSweep_CancelledContext(t *testing.T) {
	r := gridRaster(2, 2, 0, domain.EPSG4326)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := pipeline.Sweep(ctx, []float64{1}, r, r, domain.PixelAreas{})

	require.ErrorIs(t, err, context.Canceled)
}
