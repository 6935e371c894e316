package mock

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/DukeRupert/aiscan/internal/ai"
)

// Model is reported for every mock detection.
const Model = "mock-detector-v1"

// Provider is a mock AI provider for testing and development. Scores are
// derived from the image bytes so the same image always gets the same score.
type Provider struct {
	logger *slog.Logger

	mu sync.Mutex

	// Configurable responses for testing
	DetectResponse *ai.Detection
	DetectError    error

	// Call tracking for testing
	DetectCalls int
	LastParams  ai.DetectParams
}

// New creates a new mock AI provider
func New(logger *slog.Logger) *Provider {
	return &Provider{
		logger: logger,
	}
}

// DetectImage returns the configured response, or a deterministic score.
func (p *Provider) DetectImage(ctx context.Context, params ai.DetectParams) (*ai.Detection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.DetectCalls++
	p.LastParams = params

	if p.DetectError != nil {
		return nil, p.DetectError
	}
	if p.DetectResponse != nil {
		resp := *p.DetectResponse
		return &resp, nil
	}
	if len(params.ImageData) == 0 {
		return nil, ai.EAIInvalidImage
	}

	return &ai.Detection{
		Score:    ScoreFor(params.ImageData),
		Model:    Model,
		Duration: time.Millisecond,
	}, nil
}

// ScoreFor maps image bytes onto [0,1].
func ScoreFor(data []byte) float64 {
	sum := sha256.Sum256(data)
	return float64(binary.BigEndian.Uint64(sum[:8])) / float64(math.MaxUint64)
}

// Calls returns the number of DetectImage calls so far.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.DetectCalls
}

// Reset clears call counters and custom responses for testing
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.DetectCalls = 0
	p.LastParams = ai.DetectParams{}
	p.DetectResponse = nil
	p.DetectError = nil
}

var _ ai.Detector = (*Provider)(nil)
