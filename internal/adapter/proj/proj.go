// Package proj transforms coordinates between CRSs with PROJ.
package proj

import (
	"errors"
	"fmt"
	"sync"

	"github.com/twpayne/go-proj/v10"

	"github.com/couchcryptid/watershed-rem/internal/domain"
)

// Projector implements domain.Projector.
type Projector struct{}

// Transformer builds a source-to-target transformation. Axis order is
// normalized so x is easting or longitude and y is northing or latitude,
// whatever the CRS definitions say.
func (Projector) Transformer(source, target string) (domain.Transformer, error) {
	if source == "" || target == "" {
		return nil, errors.New("proj: source and target CRS are required")
	}
	pj, err := proj.NewCRSToCRS(source, target, nil)
	if err != nil {
		return nil, fmt.Errorf("proj: %s -> %s: %w", abbrev(source), abbrev(target), err)
	}
	norm, err := pj.NormalizeForVisualization()
	pj.Destroy()
	if err != nil {
		return nil, fmt.Errorf("proj: normalize axis order: %w", err)
	}
	return &Transformer{pj: norm}, nil
}

// Transformer wraps a PROJ pipeline. PROJ objects are not safe for concurrent
// use, so calls are serialized.
type Transformer struct {
	mu sync.Mutex
	pj *proj.PJ
}

func (t *Transformer) Forward(x, y float64) (float64, float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, err := t.pj.Forward(proj.NewCoord(x, y, 0, 0))
	if err != nil {
		return 0, 0, err
	}
	return c[0], c[1], nil
}

func (t *Transformer) Inverse(x, y float64) (float64, float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, err := t.pj.Inverse(proj.NewCoord(x, y, 0, 0))
	if err != nil {
		return 0, 0, err
	}
	return c[0], c[1], nil
}

func (t *Transformer) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pj != nil {
		t.pj.Destroy()
		t.pj = nil
	}
	return nil
}

func abbrev(crs string) string {
	if len(crs) > 32 {
		return crs[:32] + "..."
	}
	return crs
}
