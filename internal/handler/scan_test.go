package handler

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DukeRupert/aiscan/internal/ai"
	"github.com/DukeRupert/aiscan/internal/ai/mock"
	"github.com/DukeRupert/aiscan/internal/domain"
	"github.com/DukeRupert/aiscan/internal/repository/repotest"
	"github.com/DukeRupert/aiscan/internal/service"
)

// =============================================================================
// Scan Handler Tests
// =============================================================================

const testMaxUpload = 256 << 10

type scanFixture struct {
	store    *repotest.Store
	provider *mock.Provider
	handler  *ScanHandler
}

func newScanFixture() *scanFixture {
	logger := testLogger()
	store := repotest.New()
	provider := mock.New(logger)

	scans := service.NewScanService(service.ScanServiceConfig{
		Entitlements:   service.NewEntitlementService(store, logger),
		Recorder:       service.NewUsageRecorder(store, logger),
		Detector:       ai.NewFallbackDetector(provider, logger, nil),
		Preparer:       service.NewImagePreparer(),
		MaxUploadBytes: testMaxUpload,
	}, logger)

	return &scanFixture{
		store:    store,
		provider: provider,
		handler:  NewScanHandler(scans, testMaxUpload, false, logger),
	}
}

func multipartRequest(t *testing.T, field string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(field, "upload.png")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = part.Write(data)
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req := httptest.NewRequest("POST", "/scan", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.RemoteAddr = "198.51.100.23:40000"
	return req
}

func jsonScanRequest(t *testing.T, payload ScanRequest) *http.Request {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest("POST", "/scan", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "198.51.100.23:40000"
	return req
}

func (f *scanFixture) serve(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.handler.Scan(rec, req)
	return rec
}

func decodeScan(t *testing.T, rec *httptest.ResponseRecorder) ScanResponse {
	t.Helper()
	var resp ScanResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode scan response: %v (%s)", err, rec.Body.String())
	}
	return resp
}

func TestScan_FreeUserSecondScanIsDenied(t *testing.T) {
	f := newScanFixture()
	user := seedUser(t, f.store, "free", 0)
	img := pngImage(t, 24, 24)

	rec := f.serve(withUser(multipartRequest(t, "image", img), user))
	if rec.Code != http.StatusOK {
		t.Fatalf("first scan: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	resp := decodeScan(t, rec)
	if !resp.Allowed {
		t.Error("expected allowed:true")
	}
	if resp.ScansRemaining != 0 {
		t.Errorf("scansRemaining = %d, want 0", resp.ScansRemaining)
	}
	if resp.PlanType != "free" {
		t.Errorf("planType = %q, want free", resp.PlanType)
	}
	if resp.IsAI != (resp.AIScore > 0.5) {
		t.Errorf("isAI = %v inconsistent with score %v", resp.IsAI, resp.AIScore)
	}

	rec = f.serve(withUser(multipartRequest(t, "image", img), user))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("second scan: status = %d, want 403", rec.Code)
	}
	if body := decodeError(t, rec); body.Reason != domain.ReasonScanLimitReached {
		t.Errorf("reason = %q, want %q", body.Reason, domain.ReasonScanLimitReached)
	}

	if f.store.ScanCount() != 1 {
		t.Errorf("scan records = %d, want 1", f.store.ScanCount())
	}
	if f.provider.Calls() != 1 {
		t.Errorf("detector calls = %d, want 1", f.provider.Calls())
	}
}

func TestScan_RecordsClientIP(t *testing.T) {
	f := newScanFixture()
	user := seedUser(t, f.store, "pro", 0)

	rec := f.serve(withUser(multipartRequest(t, "image", pngImage(t, 8, 8)), user))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	if len(f.store.Scans) != 1 {
		t.Fatalf("expected one scan record, got %d", len(f.store.Scans))
	}
	if got := f.store.Scans[0].SourceIp.IPNet.IP.String(); got != "198.51.100.23" {
		t.Errorf("recorded ip = %q, want 198.51.100.23", got)
	}
}

func TestScan_JSONBase64Upload(t *testing.T) {
	tests := []struct {
		name   string
		encode func([]byte) string
	}{
		{"plain base64", base64.StdEncoding.EncodeToString},
		{"data url", func(b []byte) string { return "data:image/png;base64," + base64.StdEncoding.EncodeToString(b) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newScanFixture()
			user := seedUser(t, f.store, "starter", 3)

			req := jsonScanRequest(t, ScanRequest{Image: tt.encode(pngImage(t, 16, 16)), ContentType: "image/png"})
			rec := f.serve(withUser(req, user))

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
			}
			if resp := decodeScan(t, rec); resp.ScansRemaining != 21 {
				t.Errorf("scansRemaining = %d, want 21", resp.ScansRemaining)
			}
		})
	}
}

func TestScan_DetectorFailureUsesFallbackScore(t *testing.T) {
	f := newScanFixture()
	f.provider.DetectError = errors.New("inference timeout")
	user := seedUser(t, f.store, "pro", 0)

	rec := f.serve(withUser(multipartRequest(t, "image", pngImage(t, 8, 8)), user))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	resp := decodeScan(t, rec)
	if resp.AIScore != ai.FallbackScore {
		t.Errorf("aiScore = %v, want %v", resp.AIScore, ai.FallbackScore)
	}
	if resp.IsAI {
		t.Error("fallback score must not classify as AI")
	}
	if f.store.ScanCount() != 1 {
		t.Errorf("fallback scans are still recorded, got %d", f.store.ScanCount())
	}
}

func TestScan_RejectsBadUploads(t *testing.T) {
	tests := []struct {
		name       string
		request    func(t *testing.T) *http.Request
		wantStatus int
		wantReason domain.Reason
	}{
		{
			name:       "wrong multipart field",
			request:    func(t *testing.T) *http.Request { return multipartRequest(t, "file", pngImage(t, 4, 4)) },
			wantStatus: http.StatusBadRequest,
			wantReason: domain.ReasonValidation,
		},
		{
			name:       "not an image",
			request:    func(t *testing.T) *http.Request { return multipartRequest(t, "image", []byte("plain text, not pixels")) },
			wantStatus: http.StatusBadRequest,
			wantReason: domain.ReasonValidation,
		},
		{
			name: "unsupported content type",
			request: func(t *testing.T) *http.Request {
				req := httptest.NewRequest("POST", "/scan", strings.NewReader("image bytes"))
				req.Header.Set("Content-Type", "text/plain")
				return req
			},
			wantStatus: http.StatusBadRequest,
			wantReason: domain.ReasonValidation,
		},
		{
			name:       "invalid base64",
			request:    func(t *testing.T) *http.Request { return jsonScanRequest(t, ScanRequest{Image: "%%%"}) },
			wantStatus: http.StatusBadRequest,
			wantReason: domain.ReasonValidation,
		},
		{
			name:       "empty json image",
			request:    func(t *testing.T) *http.Request { return jsonScanRequest(t, ScanRequest{}) },
			wantStatus: http.StatusBadRequest,
			wantReason: domain.ReasonValidation,
		},
		{
			name: "declared content type unsupported",
			request: func(t *testing.T) *http.Request {
				return jsonScanRequest(t, ScanRequest{Image: base64.StdEncoding.EncodeToString(pngImage(t, 4, 4)), ContentType: "image/tiff"})
			},
			wantStatus: http.StatusBadRequest,
			wantReason: domain.ReasonValidation,
		},
		{
			name: "oversized upload",
			request: func(t *testing.T) *http.Request {
				return multipartRequest(t, "image", bytes.Repeat([]byte{0xff}, 4*testMaxUpload))
			},
			wantStatus: http.StatusRequestEntityTooLarge,
			wantReason: domain.ReasonValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newScanFixture()
			user := seedUser(t, f.store, "pro", 0)

			rec := f.serve(withUser(tt.request(t), user))

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if body := decodeError(t, rec); body.Reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", body.Reason, tt.wantReason)
			}
			if f.store.ScanCount() != 0 {
				t.Error("rejected uploads must not be recorded")
			}
			if f.provider.Calls() != 0 {
				t.Error("rejected uploads must not reach the detector")
			}
		})
	}
}

func TestScan_NoUserIsUnauthorized(t *testing.T) {
	f := newScanFixture()

	rec := f.serve(multipartRequest(t, "image", pngImage(t, 4, 4)))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}
