package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"
)

// REMParams are the tuning knobs passed to the REM generator.
type REMParams struct {
	InterpPoints int    `json:"interp_points"`
	K            int    `json:"k"`
	Colormap     string `json:"colormap"`
}

// LedgerEntry records which input produced a REM output.
type LedgerEntry struct {
	OutputPath  string
	Fingerprint string
	Params      REMParams
	CreatedAt   time.Time
}

// Fingerprint hashes the input raster bytes together with the REM parameters.
// A change to either yields a different key.
func Fingerprint(input io.Reader, p REMParams) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, input); err != nil {
		return "", fmt.Errorf("fingerprint input: %w", err)
	}
	fmt.Fprintf(h, "\x00interp_pts=%d\x00k=%d\x00cmap=%s", p.InterpPoints, p.K, p.Colormap)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// REMJob describes one REM generation. Output and Viz are the paths the
// generator is expected to produce inside OutDir.
type REMJob struct {
	Input    string
	OutDir   string
	Output   string
	Viz      string
	Params   REMParams
	Override bool
}
