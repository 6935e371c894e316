// Package service contains the business logic layer.
//
// This file prepares uploaded images for the detection provider.
package service

import (
	"bytes"
	"fmt"

	"github.com/DukeRupert/aiscan/internal/domain"
	"github.com/disintegration/imaging"

	// Registers the WebP decoder with image.Decode.
	_ "golang.org/x/image/webp"
)

// =============================================================================
// Interface Definition
// =============================================================================

// ImagePreparer normalizes images before detection.
type ImagePreparer interface {
	// Prepare returns JPEG bytes no larger than the detection edge size
	// along with their content type.
	Prepare(data []byte) ([]byte, string, error)
}

// =============================================================================
// Implementation
// =============================================================================

// imagingPreparer implements ImagePreparer using the imaging library.
type imagingPreparer struct {
	maxEdge int
	quality int
}

// NewImagePreparer creates a preparer with the detection defaults.
func NewImagePreparer() ImagePreparer {
	return &imagingPreparer{
		maxEdge: domain.DetectionMaxEdge,
		quality: domain.DetectionJPEGQuality,
	}
}

// Prepare decodes, applies EXIF orientation, fits within maxEdge x maxEdge
// and re-encodes as JPEG. Smaller images are re-encoded without scaling.
func (p *imagingPreparer) Prepare(data []byte) ([]byte, string, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() > p.maxEdge || bounds.Dy() > p.maxEdge {
		img = imaging.Fit(img, p.maxEdge, p.maxEdge, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(p.quality)); err != nil {
		return nil, "", fmt.Errorf("failed to encode image: %w", err)
	}

	return buf.Bytes(), "image/jpeg", nil
}

var _ ImagePreparer = (*imagingPreparer)(nil)
