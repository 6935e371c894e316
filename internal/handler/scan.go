// Package handler contains the HTTP handlers of the scan API.
//
// This file implements the scan endpoint.
//
// Routes handled:
//   - POST /scan -> Scan (bearer auth, verified email, rate limited)
package handler

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/DukeRupert/aiscan/internal/auth"
	"github.com/DukeRupert/aiscan/internal/domain"
	"github.com/DukeRupert/aiscan/internal/service"
)

// multipartOverhead covers boundaries and part headers around the image.
const multipartOverhead = 1 << 20

// ScanHandler accepts image uploads and returns detection results.
type ScanHandler struct {
	scans          service.ScanService
	maxUploadBytes int64
	trustProxy     bool
	logger         *slog.Logger
}

// NewScanHandler creates a new ScanHandler.
func NewScanHandler(scans service.ScanService, maxUploadBytes int64, trustProxy bool, logger *slog.Logger) *ScanHandler {
	return &ScanHandler{
		scans:          scans,
		maxUploadBytes: maxUploadBytes,
		trustProxy:     trustProxy,
		logger:         logger,
	}
}

// RegisterRoutes registers the scan route behind protect.
func (h *ScanHandler) RegisterRoutes(mux *http.ServeMux, protect func(http.Handler) http.Handler) {
	mux.Handle("POST /scan", protect(http.HandlerFunc(h.Scan)))
}

// ScanRequest is the JSON form of a scan upload.
type ScanRequest struct {
	Image       string `json:"image"` // base64, optionally as a data URL
	ContentType string `json:"contentType,omitempty"`
}

// ScanResponse is returned for an admitted scan.
type ScanResponse struct {
	ScanID         string  `json:"scanId"`
	Allowed        bool    `json:"allowed"`
	AIScore        float64 `json:"aiScore"`
	IsAI           bool    `json:"isAI"`
	ScansRemaining int     `json:"scansRemaining"`
	PlanType       string  `json:"planType"`
}

// Scan runs one detection for the authenticated user.
func (h *ScanHandler) Scan(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	data, err := h.readImage(w, r)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	result, err := h.scans.Scan(r.Context(), service.ScanParams{
		User:  user,
		Image: data,
		IP:    ClientIP(r, h.trustProxy),
	})
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	h.logger.Info("scan completed",
		"user_id", user.ID,
		"scan_id", result.ScanID,
		"plan", result.PlanType,
		"is_ai", result.IsAI,
		"fallback", result.Fallback,
	)

	writeJSON(w, http.StatusOK, ScanResponse{
		ScanID:         result.ScanID.String(),
		Allowed:        result.Allowed,
		AIScore:        result.AIScore,
		IsAI:           result.IsAI,
		ScansRemaining: result.ScansRemaining,
		PlanType:       string(result.PlanType),
	})
}

// readImage pulls the image bytes out of a multipart or JSON body.
func (h *ScanHandler) readImage(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	const op = "handler.Scan"

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return nil, domain.Invalid(op, "Content-Type must be multipart/form-data or application/json")
	}

	// base64 inflates by 4/3
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes*4/3+multipartOverhead)

	switch mediaType {
	case "multipart/form-data":
		return h.readMultipart(r)
	case "application/json":
		return h.readJSON(r)
	default:
		return nil, domain.Invalid(op, "Content-Type must be multipart/form-data or application/json")
	}
}

func (h *ScanHandler) readMultipart(r *http.Request) ([]byte, error) {
	const op = "handler.Scan"

	if err := r.ParseMultipartForm(h.maxUploadBytes + multipartOverhead); err != nil {
		return nil, bodyError(op, err)
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, _, err := r.FormFile("image")
	if err != nil {
		return nil, domain.Invalid(op, "Multipart field \"image\" is required")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxUploadBytes+1))
	if err != nil {
		return nil, bodyError(op, err)
	}
	return data, nil
}

func (h *ScanHandler) readJSON(r *http.Request) ([]byte, error) {
	const op = "handler.Scan"

	var req ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, bodyError(op, err)
	}
	if req.ContentType != "" && !domain.IsValidImageContentType(req.ContentType) {
		return nil, domain.Invalid(op, "Image must be JPEG, PNG, GIF or WebP")
	}

	encoded := strings.TrimSpace(req.Image)
	if encoded == "" {
		return nil, domain.Invalid(op, "Field \"image\" is required")
	}
	// data:image/png;base64,....
	if strings.HasPrefix(encoded, "data:") {
		if _, payload, ok := strings.Cut(encoded, ","); ok {
			encoded = payload
		}
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, domain.Invalid(op, "Field \"image\" must be base64 encoded")
	}
	return data, nil
}

// bodyError separates oversized bodies from malformed ones.
func bodyError(op string, err error) error {
	var maxErr *http.MaxBytesError
	// multipart does not always wrap the reader error
	if errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large") {
		return domain.TooLarge(op, "Image exceeds the maximum upload size")
	}
	return domain.Invalid(op, "Request body could not be read")
}
