package inference

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DukeRupert/aiscan/internal/ai"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	p, err := New(Config{
		URL:    server.URL,
		APIKey: "test-key",
		ProviderConfig: ai.ProviderConfig{
			MaxRetries:     3,
			RetryBaseDelay: time.Millisecond,
			RequestTimeout: 2 * time.Second,
		},
	}, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	return p
}

func TestDetectImage_SendsImageAndParsesScore(t *testing.T) {
	image := []byte("fake-jpeg-bytes")

	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		var req apiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		decoded, _ := base64.StdEncoding.DecodeString(req.Image)
		if string(decoded) != string(image) || req.ContentType != "image/jpeg" {
			t.Errorf("unexpected request payload %+v", req)
		}
		_, _ = w.Write([]byte(`{"ai_score": 0.87}`))
	})

	got, err := p.DetectImage(context.Background(), ai.DetectParams{ImageData: image, ContentType: "image/jpeg"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Score != 0.87 {
		t.Errorf("expected 0.87, got %v", got.Score)
	}
}

func TestDetectImage_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"score": 0.2}`))
	})

	got, err := p.DetectImage(context.Background(), ai.DetectParams{ImageData: []byte("x"), ContentType: "image/png"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Score != 0.2 || calls.Load() != 3 {
		t.Errorf("expected score 0.2 after 3 calls, got %v after %d", got.Score, calls.Load())
	}
}

func TestDetectImage_PermanentFailure(t *testing.T) {
	var calls atomic.Int32
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := p.DetectImage(context.Background(), ai.DetectParams{ImageData: []byte("x")})
	if !errors.Is(err, ai.EAIUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("permanent errors must not be retried, got %d calls", calls.Load())
	}
}

func TestParseScore(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    float64
		wantErr bool
	}{
		{"score field", `{"score": 0.4}`, 0.4, false},
		{"ai_score wins", `{"score": 0.1, "ai_score": 0.9}`, 0.9, false},
		{"probability", `{"probability": 0.33}`, 0.33, false},
		{"labels", `[{"label":"human","score":0.3},{"label":"Artificial","score":0.7}]`, 0.7, false},
		{"nested labels", `[[{"label":"artificial","score":0.61}]]`, 0.61, false},
		{"human only", `[{"label":"real","score":0.8}]`, 0.2, false},
		{"no score", `{"result": "ok"}`, 0, true},
		{"wrong type", `{"score": "high"}`, 0, true},
		{"unknown labels", `[{"label":"cat","score":0.9}]`, 0, true},
		{"empty", ``, 0, true},
		{"garbage", `<html>`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseScore([]byte(tt.body), "artificial")
			if tt.wantErr {
				if !errors.Is(err, ai.EAIMalformedResponse) {
					t.Errorf("expected malformed response error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestNew_RequiresURL(t *testing.T) {
	if _, err := New(Config{}, slog.New(slog.NewTextHandler(os.Stderr, nil))); err == nil {
		t.Fatal("expected error without URL")
	}
}
