// Package archive turns cached downloads into paths the raster and vector
// codecs can open directly.
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/couchcryptid/watershed-rem/internal/domain"
)

// ErrUnsafePath is returned for archive members that would land outside the
// extraction directory.
var ErrUnsafePath = errors.New("archive member escapes destination")

// IsZip reports whether path names a zip container.
func IsZip(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".zip")
}

// Normalizer resolves cached payloads to a single raster path.
type Normalizer struct {
	logger *slog.Logger
}

func NewNormalizer(logger *slog.Logger) *Normalizer {
	return &Normalizer{logger: logger}
}

// Normalize returns path unchanged for plain rasters. For a zip it extracts
// every member beside the archive and returns the canonical
// "<site>_lidar/<site>_lidar.asc" member. Extraction is skipped when that
// member is already newer than the archive.
func (n *Normalizer) Normalize(site, path string) (string, error) {
	if !IsZip(path) {
		return path, nil
	}
	dir := filepath.Dir(path)
	member := domain.AirborneMember(dir, site)

	if fresh, err := newerThan(member, path); err != nil {
		return "", err
	} else if fresh {
		n.logger.Debug("archive already extracted", "archive", path, "member", member)
		return member, nil
	}

	files, err := Extract(path, dir)
	if err != nil {
		return "", err
	}
	n.logger.Info("archive extracted", "archive", path, "files", len(files))

	if _, err := os.Stat(member); err != nil {
		return "", &domain.UnsupportedFormatError{
			Path: path,
			Err:  fmt.Errorf("expected member %s: %w", filepath.Base(member), err),
		}
	}
	return member, nil
}

// Extract unpacks every member of zipPath under destDir and returns the
// written file paths. Members resolving outside destDir are rejected before
// anything is written.
func Extract(zipPath, destDir string) ([]string, error) {
	zr, err := zip.OpenReader(zipPath)
	if errors.Is(err, zip.ErrInsecurePath) {
		zr.Close()
		return nil, fmt.Errorf("extract %s: %w", zipPath, ErrUnsafePath)
	}
	if err != nil {
		return nil, &domain.UnsupportedFormatError{Path: zipPath, Err: err}
	}
	defer zr.Close()

	root, err := filepath.Abs(destDir)
	if err != nil {
		return nil, err
	}
	targets := make([]string, len(zr.File))
	for i, f := range zr.File {
		target, err := safeJoin(root, f.Name)
		if err != nil {
			return nil, fmt.Errorf("extract %s: %w", zipPath, err)
		}
		targets[i] = target
	}

	var written []string
	for i, f := range zr.File {
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(targets[i], 0o755); err != nil {
				return written, err
			}
			continue
		}
		if err := extractFile(f, targets[i]); err != nil {
			return written, fmt.Errorf("extract %s: %w", f.Name, err)
		}
		written = append(written, targets[i])
	}
	return written, nil
}

func safeJoin(root, name string) (string, error) {
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	target := filepath.Join(root, filepath.FromSlash(name))
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return target, nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// newerThan reports whether a exists and was modified after b.
func newerThan(a, b string) (bool, error) {
	ai, err := os.Stat(a)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	bi, err := os.Stat(b)
	if err != nil {
		return false, err
	}
	return ai.ModTime().After(bi.ModTime()), nil
}
