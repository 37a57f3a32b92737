package imaging

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"os"
	"path/filepath"
	"time"

	"github.com/scripta-ai/platform/pkg/common/logger"
)

var allowedFormats = map[string]struct{}{
	"png":  {},
	"jpg":  {},
	"jpeg": {},
	"gif":  {},
	"webp": {},
}

const (
	startQuality = 95
	qualityStep  = 5
	floorQuality = 5
)

// Validate checks the decoded format against the allow-list.
func Validate(img Image) (Image, error) {
	if _, ok := allowedFormats[img.Format]; !ok {
		return Image{}, &FormatError{Format: img.Format}
	}
	return img, nil
}

// Compress re-encodes img as JPEG at decreasing quality until it fits
// maxSizeBytes or the quality floor is reached. The second return reports
// whether the budget was met; an oversized floor-quality result is still
// returned, not treated as an error.
func Compress(img Image, maxSizeBytes int) ([]byte, bool, error) {
	var buf bytes.Buffer
	for quality := startQuality; ; quality -= qualityStep {
		buf.Reset()
		if err := jpeg.Encode(&buf, img.Decoded, &jpeg.Options{Quality: quality}); err != nil {
			return nil, false, fmt.Errorf("encode at quality %d: %w", quality, err)
		}
		if buf.Len() <= maxSizeBytes {
			return buf.Bytes(), true, nil
		}
		if quality <= floorQuality {
			return buf.Bytes(), false, nil
		}
	}
}

// WriteArtifact stores the compressed bytes as a timestamped audit file.
// Best effort: failures are logged, never surfaced to the pipeline.
func WriteArtifact(dir string, data []byte) {
	if dir == "" {
		return
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Log.WithError(err).Warn("Failed to create artifact directory")
		return
	}

	name := fmt.Sprintf("compressed_image_%s.jpg", time.Now().Format("2006-01-02-15-04-05"))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		logger.Log.WithError(err).Warn("Failed to write compressed image artifact")
		return
	}

	logger.Log.WithField("path", path).Debug("Compressed image artifact written")
}
