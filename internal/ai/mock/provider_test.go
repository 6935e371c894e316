package mock

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/DukeRupert/aiscan/internal/ai"
)

func TestProvider_Deterministic(t *testing.T) {
	p := New(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	params := ai.DetectParams{ImageData: []byte("same image"), ContentType: "image/jpeg"}

	first, err := p.DetectImage(context.Background(), params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, _ := p.DetectImage(context.Background(), params)

	if first.Score != second.Score {
		t.Errorf("expected identical scores, got %v and %v", first.Score, second.Score)
	}
	if first.Score < 0 || first.Score > 1 {
		t.Errorf("score out of range: %v", first.Score)
	}
	if p.Calls() != 2 {
		t.Errorf("expected 2 calls, got %d", p.Calls())
	}
}

func TestProvider_Overrides(t *testing.T) {
	p := New(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	p.DetectResponse = &ai.Detection{Score: 0.99, Model: "fixed"}
	got, err := p.DetectImage(context.Background(), ai.DetectParams{ImageData: []byte("x")})
	if err != nil || got.Score != 0.99 {
		t.Fatalf("expected override score, got %+v err=%v", got, err)
	}

	p.DetectError = ai.EAIUnavailable
	if _, err := p.DetectImage(context.Background(), ai.DetectParams{ImageData: []byte("x")}); !errors.Is(err, ai.EAIUnavailable) {
		t.Fatalf("expected configured error, got %v", err)
	}

	p.Reset()
	if p.Calls() != 0 || p.DetectError != nil || p.DetectResponse != nil {
		t.Error("reset should clear state")
	}
}

func TestProvider_EmptyImage(t *testing.T) {
	p := New(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if _, err := p.DetectImage(context.Background(), ai.DetectParams{}); !errors.Is(err, ai.EAIInvalidImage) {
		t.Errorf("expected invalid image error, got %v", err)
	}
}
