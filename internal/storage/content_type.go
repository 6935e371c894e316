package storage

import (
	"mime"
	"net/http"
	"strings"
)

// DetectContentType returns providedType when set, otherwise sniffs data.
func DetectContentType(providedType string, data []byte) string {
	if providedType != "" {
		return providedType
	}
	if len(data) > 512 {
		data = data[:512]
	}
	return http.DetectContentType(data)
}

// extensionForContentType returns a common file extension for a MIME type.
func extensionForContentType(contentType string) string {
	baseType := strings.Split(contentType, ";")[0]
	baseType = strings.TrimSpace(strings.ToLower(baseType))

	extensions := map[string]string{
		"image/jpeg": ".jpg",
		"image/jpg":  ".jpg",
		"image/png":  ".png",
		"image/gif":  ".gif",
		"image/webp": ".webp",
	}
	if ext, ok := extensions[baseType]; ok {
		return ext
	}

	exts, err := mime.ExtensionsByType(baseType)
	if err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}
