package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyThresholds is returned when a flood sweep is requested without thresholds.
	ErrEmptyThresholds = errors.New("no flood thresholds given")

	// ErrNoFrames is returned when an animation is requested from an empty frame directory.
	ErrNoFrames = errors.New("no frames to animate")
)

// FetchError reports a download that could not be completed.
type FetchError struct {
	URL        string
	Path       string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s -> %s: status %d: %v", e.URL, e.Path, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s -> %s: %v", e.URL, e.Path, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// UnsupportedFormatError reports a cached file the raster codec cannot parse,
// usually a truncated download or an HTML error page saved in place of data.
type UnsupportedFormatError struct {
	Path string
	Err  error
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported raster format %s: %v", e.Path, e.Err)
}

func (e *UnsupportedFormatError) Unwrap() error { return e.Err }

// BoundaryNotFoundError reports a site with no boundary polygon.
type BoundaryNotFoundError struct {
	Site string
	Path string
	Err  error
}

func (e *BoundaryNotFoundError) Error() string {
	return fmt.Sprintf("no boundary polygon for site %q at %s: %v", e.Site, e.Path, e.Err)
}

func (e *BoundaryNotFoundError) Unwrap() error { return e.Err }
