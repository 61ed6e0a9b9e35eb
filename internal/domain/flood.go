package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// FloodExtent is one source's result at one water level.
type FloodExtent struct {
	Raster        *Raster // cells above the water level; the rest nodata
	ValidCount    int
	TotalCount    int
	InundatedArea float64 // square metres
}

// FloodLevel pairs the drone and airborne extents at one threshold.
type FloodLevel struct {
	Threshold float64
	Drone     FloodExtent
	Airborne  FloodExtent
}

// PixelAreas holds the per-cell ground area for each source.
type PixelAreas struct {
	Drone    float64
	Airborne float64
}

// PixelAreaFromGSD squares a ground sample distance.
func PixelAreaFromGSD(gsd float64) float64 {
	return gsd * gsd
}

// Inundate keeps the cells of rem strictly above threshold and counts the
// remainder as flooded.
func Inundate(rem *Raster, threshold, pixelArea float64) FloodExtent {
	dry := rem.Where(func(v float64) bool { return v > threshold })
	valid := dry.ValidCount()
	total := rem.Size()
	return FloodExtent{
		Raster:        dry,
		ValidCount:    valid,
		TotalCount:    total,
		InundatedArea: float64(total-valid) * pixelArea,
	}
}

// DefaultThresholds is 0 to 5 metres in half-metre steps.
func DefaultThresholds() []float64 {
	out := make([]float64, 0, 11)
	for i := 0; i <= 10; i++ {
		out = append(out, float64(i)*0.5)
	}
	return out
}

// ParseThresholds parses a comma-separated list of water levels.
func ParseThresholds(s string) ([]float64, error) {
	var out []float64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, fmt.Errorf("parse threshold %q: %w", part, err)
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, ErrEmptyThresholds
	}
	return out, nil
}
