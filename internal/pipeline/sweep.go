package pipeline

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/watershed-rem/internal/domain"
)

// Sweep floods both REMs at every threshold. Thresholds are evaluated
// concurrently; results keep the input order.
func Sweep(ctx context.Context, thresholds []float64, drone, airborne *domain.Raster, areas domain.PixelAreas) ([]domain.FloodLevel, error) {
	if len(thresholds) == 0 {
		return nil, domain.ErrEmptyThresholds
	}
	if drone == nil || airborne == nil {
		return nil, errors.New("sweep: missing rem raster")
	}

	out := make([]domain.FloodLevel, len(thresholds))
	g, ctx := errgroup.WithContext(ctx)
	for i, t := range thresholds {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out[i] = domain.FloodLevel{
				Threshold: t,
				Drone:     domain.Inundate(drone, t, areas.Drone),
				Airborne:  domain.Inundate(airborne, t, areas.Airborne),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
