package domain

import (
	"path/filepath"
	"slices"

	"github.com/maruel/natural"
)

// SortFrames orders frame paths by the numbers embedded in their base names,
// so step_2 precedes step_10. The input is not modified.
func SortFrames(paths []string) []string {
	out := slices.Clone(paths)
	slices.SortStableFunc(out, func(a, b string) int {
		ba, bb := filepath.Base(a), filepath.Base(b)
		switch {
		case natural.Less(ba, bb):
			return -1
		case natural.Less(bb, ba):
			return 1
		}
		return 0
	})
	return out
}
