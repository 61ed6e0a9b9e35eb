package gospatial

import (
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/watershed-rem/internal/domain"
	"github.com/couchcryptid/watershed-rem/internal/observability"
)

func testCodec() *Codec {
	return NewCodec(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func sampleRaster() *domain.Raster {
	r := domain.NewRaster(4, 4, domain.GeoTransform{West: -105.5, North: 40.25, CellWidth: 0.25, CellHeight: 0.25}, domain.EPSG4326)
	for i := range r.Values {
		r.Values[i] = 1523.37 + 0.01*float64(i)
	}
	r.Set(1, 3, math.NaN())
	r.Set(2, 2, math.NaN())
	return r
}

func TestCodec_RoundTrip(t *testing.T) {
	for _, ext := range []string{".tif", ".asc"} {
		t.Run(ext, func(t *testing.T) {
			want := sampleRaster()
			path := filepath.Join(t.TempDir(), "HM_clipped_dtm"+ext)
			c := testCodec()

			require.NoError(t, c.Write(path, want))
			got, err := c.Read(path)
			require.NoError(t, err)

			require.Equal(t, want.Rows, got.Rows)
			require.Equal(t, want.Cols, got.Cols)
			ww, ws, we, wn := want.Bounds()
			gw, gs, ge, gn := got.Bounds()
			assert.InDeltaSlice(t, []float64{ww, ws, we, wn}, []float64{gw, gs, ge, gn}, 1e-6)
			assert.InDelta(t, want.Transform.CellWidth, got.Transform.CellWidth, 1e-9)
			assert.Equal(t, want.ValidCount(), got.ValidCount())
			for i, v := range want.Values {
				if math.IsNaN(v) {
					assert.True(t, math.IsNaN(got.Values[i]), "cell %d", i)
					continue
				}
				assert.InDelta(t, v, got.Values[i], 1e-9, "cell %d", i)
			}
		})
	}
}

func TestCodec_ASCIIGridKeepsCRS(t *testing.T) {
	r := sampleRaster()
	r.CRS = "EPSG:32613"
	path := filepath.Join(t.TempDir(), "HM_lidar.asc")
	c := testCodec()

	require.NoError(t, c.Write(path, r))
	assert.FileExists(t, filepath.Join(filepath.Dir(path), "HM_lidar.prj"))
	got, err := c.Read(path)
	require.NoError(t, err)
	assert.Equal(t, "EPSG:32613", got.CRS)
}

func TestCodec_UnsupportedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "HM_dtm.xyz")
	require.NoError(t, os.WriteFile(path, []byte("<html>Too Many Requests</html>"), 0o644))

	_, err := testCodec().Read(path)

	var ufe *domain.UnsupportedFormatError
	require.ErrorAs(t, err, &ufe)
	assert.Equal(t, path, ufe.Path)
}

func TestCodec_MissingFile(t *testing.T) {
	_, err := testCodec().Read(filepath.Join(t.TempDir(), "nope.tif"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestEPSGCode(t *testing.T) {
	code, ok := epsgCode("epsg:4326")
	assert.True(t, ok)
	assert.Equal(t, 4326, code)

	_, ok = epsgCode(`PROJCS["NAD83 / UTM zone 13N"]`)
	assert.False(t, ok)

	assert.Equal(t, "EPSG:26913", crsString(26913, "ignored"))
	assert.Equal(t, "PROJCS[]", crsString(0, " PROJCS[] "))
}

func TestReadPrj(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "HM_lidar.prj"), []byte("PROJCS[\"x\"]\n"), 0o644))

	assert.Equal(t, `PROJCS["x"]`, readPrj(filepath.Join(dir, "HM_lidar.asc")))
	assert.Empty(t, readPrj(filepath.Join(dir, "other.asc")))
}

// --- CachedReader tests ---

type countingReader struct {
	calls int
}

func (c *countingReader) Read(string) (*domain.Raster, error) {
	c.calls++
	return sampleRaster(), nil
}

func touch(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestCachedReader_Hit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.tif")
	touch(t, path, "x")
	inner := &countingReader{}
	cached := NewCachedReader(inner, 4, observability.NewMetricsForTesting())

	r1, err := cached.Read(path)
	require.NoError(t, err)
	r1.Set(0, 0, 99)
	r2, err := cached.Read(path)
	require.NoError(t, err)

	assert.Equal(t, 1, inner.calls, "should only decode once")
	assert.Equal(t, 0.5, r2.At(0, 0), "cached copy must not see caller mutation")
}

func TestCachedReader_RewrittenFileMisses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.tif")
	touch(t, path, "x")
	inner := &countingReader{}
	cached := NewCachedReader(inner, 4, observability.NewMetricsForTesting())

	_, err := cached.Read(path)
	require.NoError(t, err)
	touch(t, path, "xy")
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, later, later))
	_, err = cached.Read(path)
	require.NoError(t, err)

	assert.Equal(t, 2, inner.calls)
}

func TestCachedReader_Disabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.tif")
	touch(t, path, "x")
	inner := &countingReader{}
	cached := NewCachedReader(inner, 0, observability.NewMetricsForTesting())

	_, _ = cached.Read(path)
	_, _ = cached.Read(path)

	assert.Equal(t, 2, inner.calls)
	assert.Equal(t, 0, cached.cache.len())
}

func TestLRUCache_Eviction(t *testing.T) {
	c := newLRUCache(2)
	a, b, d := sampleRaster(), sampleRaster(), sampleRaster()

	c.put("a", a)
	c.put("b", b)
	c.get("a") // promote a
	c.put("d", d)

	_, ok := c.get("b")
	assert.False(t, ok, "b should have been evicted")
	got, ok := c.get("a")
	assert.True(t, ok)
	assert.Same(t, a, got)
	_, ok = c.get("d")
	assert.True(t, ok)
	assert.Equal(t, 2, c.len())
}
