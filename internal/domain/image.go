// Package domain contains core business types and interfaces.
//
// This file defines the image constraints applied to scan uploads.
package domain

import "net/http"

// SupportedImageTypes maps accepted MIME types to file extensions.
var SupportedImageTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

const (
	// DetectionMaxEdge is the longest side, in pixels, sent to inference.
	DetectionMaxEdge = 1024

	// DetectionJPEGQuality is the re-encode quality for inference payloads.
	DetectionJPEGQuality = 90
)

// IsValidImageContentType checks if the content type is supported.
func IsValidImageContentType(contentType string) bool {
	_, ok := SupportedImageTypes[contentType]
	return ok
}

// DetectImageContentType sniffs the upload instead of trusting the client.
func DetectImageContentType(data []byte) string {
	return http.DetectContentType(data)
}

// ValidateImage checks size and type of an uploaded image.
func ValidateImage(data []byte, maxBytes int64) error {
	const op = "image.validate"

	if len(data) == 0 {
		return Invalid(op, "Image file is empty")
	}
	if int64(len(data)) > maxBytes {
		return TooLarge(op, "Image exceeds the maximum upload size")
	}
	if !IsValidImageContentType(DetectImageContentType(data)) {
		return Invalid(op, "Image must be JPEG, PNG, GIF or WebP")
	}
	return nil
}
