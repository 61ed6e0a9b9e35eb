package domain

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stagedREM is a 4x4 raster where 10 cells exceed 0, 6 exceed 1 and 2 exceed 2.
func stagedREM() *Raster {
	r := NewRaster(4, 4, GeoTransform{West: 0, North: 4, CellWidth: 1, CellHeight: 1}, EPSG4326)
	vals := []float64{
		3, 3, 1.5, 1.5,
		1.5, 1.5, 0.5, 0.5,
		0.5, 0.5, -1, -1,
		-1, -1, -1, -1,
	}
	copy(r.Values, vals)
	return r
}

func TestInundate_Thresholds(t *testing.T) {
	rem := stagedREM()
	area := PixelAreaFromGSD(0.5)

	var got []FloodExtent
	for _, th := range []float64{0, 1, 2} {
		got = append(got, Inundate(rem, th, area))
	}

	assert.Equal(t, []int{10, 6, 2}, []int{got[0].ValidCount, got[1].ValidCount, got[2].ValidCount})
	assert.Equal(t, []float64{1.5, 2.5, 3.5}, []float64{got[0].InundatedArea, got[1].InundatedArea, got[2].InundatedArea})
	for i := 1; i < len(got); i++ {
		assert.LessOrEqual(t, got[i].ValidCount, got[i-1].ValidCount)
		assert.GreaterOrEqual(t, got[i].InundatedArea, got[i-1].InundatedArea)
	}
	for _, g := range got {
		assert.Equal(t, 16, g.TotalCount)
	}
	assert.Equal(t, 16, rem.ValidCount(), "source must not change")
}

func TestInundate_NodataCountsAsFlooded(t *testing.T) {
	rem := NewRaster(2, 2, GeoTransform{CellWidth: 1, CellHeight: 1}, "")
	rem.Set(0, 0, 10)

	got := Inundate(rem, 0, 1)

	assert.Equal(t, 1, got.ValidCount)
	assert.Equal(t, 3.0, got.InundatedArea)
}

func TestThresholds(t *testing.T) {
	assert.Equal(t, []float64{0, 0.5, 1, 1.5, 2, 2.5, 3, 3.5, 4, 4.5, 5}, DefaultThresholds())

	got, err := ParseThresholds(" 0, 1.5 ,2,")
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1.5, 2}, got)

	_, err = ParseThresholds(" , ")
	require.ErrorIs(t, err, ErrEmptyThresholds)

	_, err = ParseThresholds("1,deep")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deep")
}

func TestSortFrames(t *testing.T) {
	in := []string{"/f/step_10.jpg", "/f/step_1.jpg", "/f/step_2.jpg"}

	got := SortFrames(in)

	assert.Equal(t, []string{"/f/step_1.jpg", "/f/step_2.jpg", "/f/step_10.jpg"}, got)
	assert.Equal(t, "/f/step_10.jpg", in[0], "input must not be reordered")
}

func TestSummarize(t *testing.T) {
	fixed := time.Date(2023, 8, 1, 12, 0, 0, 0, time.UTC)
	SetClock(clockwork.NewFakeClockAt(fixed))
	t.Cleanup(func() { SetClock(nil) })

	rem := stagedREM()
	levels := []FloodLevel{{
		Threshold: 1,
		Drone:     Inundate(rem, 1, 1),
		Airborne:  Inundate(rem, 1, 2),
	}}

	s := Summarize("run-1", "HM", levels)

	assert.Equal(t, fixed, s.ProcessedAt)
	require.Len(t, s.Levels, 1)
	assert.Equal(t, 10.0, s.Levels[0].DroneInundatedArea)
	assert.Equal(t, 20.0, s.Levels[0].AirborneInundatedArea)

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"site":"HM"`)
	assert.Contains(t, string(data), `"threshold_m":1`)
}

func TestFingerprint(t *testing.T) {
	p := REMParams{InterpPoints: 1000, K: 100, Colormap: "mako_r"}

	a, err := Fingerprint(bytes.NewReader([]byte("dtm")), p)
	require.NoError(t, err)
	b, err := Fingerprint(bytes.NewReader([]byte("dtm")), p)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	p.K = 50
	c, err := Fingerprint(bytes.NewReader([]byte("dtm")), p)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	d, err := Fingerprint(bytes.NewReader([]byte("dtm2")), REMParams{InterpPoints: 1000, K: 100, Colormap: "mako_r"})
	require.NoError(t, err)
	assert.NotEqual(t, a, d)
}

func TestLayout(t *testing.T) {
	l := Layout{BaseDir: "/data"}

	assert.Equal(t, filepath.FromSlash("/data/HM/HM_dtm.tif"), l.DroneDTM("HM"))
	assert.Equal(t, filepath.FromSlash("/data/HM/HM_lidar/HM_lidar.asc"), l.AirborneRaster("HM"))
	assert.Equal(t, filepath.FromSlash("/data/HM/HM_lidar_clipped_dtm.tif"), l.Clipped("HM", SourceAirborne))
	assert.Equal(t, filepath.FromSlash("/data/HM/remmaker/HM_clipped_dtm_REM.tif"), l.REMOutput("HM", SourceDrone))
	assert.Equal(t, filepath.FromSlash("/data/HM/remmaker_lidar/HM_lidar_clipped_dtm_REM_viz.png"), l.REMViz("HM", SourceAirborne))
	assert.Equal(t, filepath.FromSlash("/data/HM_gif/HM_step_3.jpg"), l.FramePath("HM", 3))
	assert.Equal(t, filepath.FromSlash("/data/HM_flood.gif"), l.FloodGIF("HM"))
	assert.Equal(t, filepath.FromSlash("/data/shapefiles/HM_bounding_polygon/Bounding_Polygon.shp"), l.BoundaryShapefile("HM"))
}

func TestSiteTemplates(t *testing.T) {
	tmpl := SiteTemplates{
		Drone:    "https://example.org/{site}_uav_dtm.tif?download=1",
		Airborne: "https://example.org/{site}_lidar.zip",
	}

	s := tmpl.Site("AV GCP1")

	assert.Equal(t, "https://example.org/AV%20GCP1_uav_dtm.tif?download=1", s.DroneURL)
	assert.Equal(t, "https://example.org/AV%20GCP1_lidar.zip", s.AirborneURL)
	assert.Empty(t, s.PublishedREMURL)
}
