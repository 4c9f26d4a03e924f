package media

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"

	"photomap/internal/logging"
	"photomap/internal/metrics"
)

// Resolutions are the fixed thumbnail sizes generated for every photo,
// longest edge in pixels. Aspect ratio is preserved (fit within box).
var Resolutions = [3]int{64, 192, 960}

// jpegQuality for encoded thumbnails.
const jpegQuality = 80

// ThumbnailGenerator writes multi-resolution thumbnails to a sharded
// directory layout keyed by content hash:
// <baseDir>/<res>px/<hash[0]>/<hash[1]>/<hash>.
type ThumbnailGenerator struct {
	baseDir string
}

// NewThumbnailGenerator creates a generator rooted at baseDir
// (typically <media>/thumbnails).
func NewThumbnailGenerator(baseDir string) *ThumbnailGenerator {
	return &ThumbnailGenerator{baseDir: baseDir}
}

// Generate writes one thumbnail per resolution for the given source
// image. The source must already be upright (orientation-corrected);
// raw carries the original bytes for the vips fast path. When a target
// file exists and overwrite is false the resolution is skipped, which
// makes re-runs and backfills cheap.
//
// A write failure for one resolution is logged and does not abort the
// others. Returns the number of files actually written.
func (t *ThumbnailGenerator) Generate(img image.Image, raw []byte, ihash string, overwrite bool) int {
	written := 0
	for _, res := range Resolutions {
		dir := GeneratePath(filepath.Join(t.baseDir, fmt.Sprintf("%dpx", res)), ihash)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logging.Error("cannot create thumbnail directory %s: %v", dir, err)
			metrics.ThumbnailWrites.WithLabelValues("failed").Inc()
			continue
		}

		outfile := filepath.Join(dir, ihash)
		if !overwrite {
			if _, err := os.Stat(outfile); err == nil {
				metrics.ThumbnailWrites.WithLabelValues("skipped").Inc()
				continue
			}
		}

		if err := t.writeThumbnail(img, raw, outfile, res); err != nil {
			logging.Error("cannot create %dpx thumbnail for %s: %v", res, ihash, err)
			metrics.ThumbnailWrites.WithLabelValues("failed").Inc()
			continue
		}
		metrics.ThumbnailWrites.WithLabelValues("written").Inc()
		written++
	}
	return written
}

// writeThumbnail produces a single fit-within-box thumbnail file. It
// prefers the libvips decode-time-shrink path when available and falls
// back to resizing the already-decoded image.
func (t *ThumbnailGenerator) writeThumbnail(img image.Image, raw []byte, outfile string, size int) error {
	if IsVipsAvailable() && len(raw) > 0 {
		data, err := thumbnailWithVips(raw, size)
		if err == nil {
			return os.WriteFile(outfile, data, 0o644)
		}
		logging.Debug("vips thumbnail failed for %s, falling back to imaging: %v", outfile, err)
	}

	thumb := imaging.Fit(img, size, size, imaging.Lanczos)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return os.WriteFile(outfile, buf.Bytes(), 0o644)
}

// ThumbnailPath returns the on-disk path of the thumbnail for a hash at
// the given resolution.
func (t *ThumbnailGenerator) ThumbnailPath(res int, ihash string) string {
	return filepath.Join(GeneratePath(filepath.Join(t.baseDir, fmt.Sprintf("%dpx", res)), ihash), ihash)
}
