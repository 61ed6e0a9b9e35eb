package render

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/color/palette"
	"image/gif"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/image/draw"

	"github.com/couchcryptid/watershed-rem/internal/domain"
)

// framesStamp records which levels the frames in a directory were drawn from.
const framesStamp = ".frames"

// RenderFloodFrames draws one JPEG per level from the airborne extents into
// dir, named "<site>_step_<i>.jpg". Frames already drawn from the same levels
// are reused unless override is set; a changed threshold list or REM redraws
// them all.
func RenderFloodFrames(dir, site string, levels []domain.FloodLevel, override bool) ([]string, error) {
	if len(levels) == 0 {
		return nil, domain.ErrNoFrames
	}
	existing, err := frameFiles(dir)
	if err != nil {
		return nil, err
	}
	key := levelsKey(levels)
	if !override && len(existing) == len(levels) {
		if stamp, err := os.ReadFile(filepath.Join(dir, framesStamp)); err == nil && string(stamp) == key {
			return domain.SortFrames(existing), nil
		}
	}
	stale := append(existing, filepath.Join(dir, framesStamp))
	for _, f := range stale {
		if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	st := Style{
		Title:         fmt.Sprintf("Inundation at %s with increasing water levels", site),
		Colormap:      "viridis",
		ColorbarLabel: "Relative Elevation (m)",
	}
	paths := make([]string, len(levels))
	for i, l := range levels {
		paths[i] = filepath.Join(dir, domain.FrameName(site, i))
		if err := RenderRaster(paths[i], l.Airborne.Raster, st); err != nil {
			return nil, fmt.Errorf("frame %d (threshold %g): %w", i, l.Threshold, err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, framesStamp), []byte(key), 0o644); err != nil {
		return nil, fmt.Errorf("frame stamp: %w", err)
	}
	return paths, nil
}

// levelsKey digests the thresholds and airborne extents the frames show.
func levelsKey(levels []domain.FloodLevel) string {
	h := sha256.New()
	var buf [8]byte
	word := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}
	for _, l := range levels {
		word(math.Float64bits(l.Threshold))
		r := l.Airborne.Raster
		if r == nil {
			word(0)
			continue
		}
		word(uint64(r.Rows))
		word(uint64(r.Cols))
		for _, v := range r.Values {
			if math.IsNaN(v) {
				v = math.NaN()
			}
			word(math.Float64bits(v))
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// AssembleGIF combines the JPEG frames in frameDir, ordered by their numeric
// step, into a looping GIF at outPath. Frames of a different size are scaled
// to the first frame. It returns the number of frames written.
func AssembleGIF(frameDir, outPath string, delay time.Duration) (int, error) {
	files, err := frameFiles(frameDir)
	if err != nil {
		return 0, err
	}
	if len(files) == 0 {
		return 0, fmt.Errorf("%w in %s", domain.ErrNoFrames, frameDir)
	}
	files = domain.SortFrames(files)

	anim := &gif.GIF{LoopCount: 0}
	var bounds image.Rectangle
	for i, path := range files {
		img, err := decodeJPEG(path)
		if err != nil {
			return 0, err
		}
		if i == 0 {
			bounds = image.Rect(0, 0, img.Bounds().Dx(), img.Bounds().Dy())
		}
		if img.Bounds().Size() != bounds.Size() {
			scaled := image.NewRGBA(bounds)
			draw.ApproxBiLinear.Scale(scaled, bounds, img, img.Bounds(), draw.Src, nil)
			img = scaled
		}
		frame := image.NewPaletted(bounds, palette.Plan9)
		draw.FloydSteinberg.Draw(frame, bounds, img, img.Bounds().Min)
		anim.Image = append(anim.Image, frame)
		anim.Delay = append(anim.Delay, int(delay/(10*time.Millisecond)))
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(outPath), filepath.Base(outPath)+".part-*")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())
	if err := gif.EncodeAll(tmp, anim); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("encode gif: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp.Name(), outPath); err != nil {
		return 0, err
	}
	return len(anim.Image), nil
}

func frameFiles(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.jpg"))
	if err != nil {
		return nil, err
	}
	return files, nil
}

func decodeJPEG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := jpeg.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode frame %s: %w", path, err)
	}
	return img, nil
}
