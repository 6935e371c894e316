// Package inference calls a generic HTTP image-classification endpoint that
// returns an AI-generated probability.
package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/DukeRupert/aiscan/internal/ai"
)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 1 << 20

// Config contains configuration for the inference provider
type Config struct {
	URL            string
	APIKey         string
	AILabel        string // Label whose score is the AI probability in label/score responses
	ProviderConfig ai.ProviderConfig
}

// Provider implements ai.Detector against an HTTP inference endpoint
type Provider struct {
	config Config
	client *http.Client
	logger *slog.Logger
}

// New creates a new inference provider
func New(config Config, logger *slog.Logger) (*Provider, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("inference URL is required")
	}
	if config.AILabel == "" {
		config.AILabel = "artificial"
	}
	config.ProviderConfig = config.ProviderConfig.WithDefaults()

	return &Provider{
		config: config,
		client: &http.Client{
			Timeout: config.ProviderConfig.RequestTimeout,
		},
		logger: logger,
	}, nil
}

type apiRequest struct {
	Image       string `json:"image"`
	ContentType string `json:"content_type"`
}

// DetectImage submits the image and parses the returned probability.
func (p *Provider) DetectImage(ctx context.Context, params ai.DetectParams) (*ai.Detection, error) {
	startTime := time.Now()

	if len(params.ImageData) == 0 {
		return nil, ai.WrapError("detect image", ai.EAIInvalidImage)
	}

	body, err := json.Marshal(apiRequest{
		Image:       base64.StdEncoding.EncodeToString(params.ImageData),
		ContentType: params.ContentType,
	})
	if err != nil {
		return nil, ai.WrapError("build request", err)
	}

	var score float64
	err = ai.Retry(ctx, p.config.ProviderConfig, p.logger, func(ctx context.Context) error {
		s, err := p.execute(ctx, body)
		if err != nil {
			return err
		}
		score = s
		return nil
	})
	if err != nil {
		return nil, ai.WrapError("execute request", err)
	}

	return &ai.Detection{
		Score:    score,
		Model:    "inference",
		Duration: time.Since(startTime),
	}, nil
}

func (p *Provider) execute(ctx context.Context, body []byte) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if p.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return 0, ai.EAITimeout
		}
		return 0, fmt.Errorf("%w: %v", ai.EAIUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return 0, mapHTTPError(resp.StatusCode, respBody)
	}

	return parseScore(respBody, p.config.AILabel)
}

// mapHTTPError maps HTTP status codes to provider errors
func mapHTTPError(statusCode int, body []byte) error {
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ai.EAIUnauthorized
	case http.StatusTooManyRequests:
		return ai.EAIRateLimit
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return ai.EAITimeout
	case http.StatusBadRequest, http.StatusUnsupportedMediaType, http.StatusUnprocessableEntity:
		return ai.EAIInvalidImage
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusInternalServerError:
		return ai.EAIUnavailable
	default:
		return fmt.Errorf("inference API error (status %d): %s", statusCode, truncate(string(body), 200))
	}
}

type labelScore struct {
	Label string   `json:"label"`
	Score *float64 `json:"score"`
}

// parseScore accepts {"score": x}, {"ai_score": x}, {"probability": x}, a
// label/score list, or a list nested one level deep.
func parseScore(body []byte, aiLabel string) (float64, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return 0, ai.EAIMalformedResponse
	}

	if trimmed[0] == '{' {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return 0, fmt.Errorf("%w: %v", ai.EAIMalformedResponse, err)
		}
		for _, key := range []string{"ai_score", "score", "probability"} {
			raw, ok := obj[key]
			if !ok {
				continue
			}
			var v float64
			if err := json.Unmarshal(raw, &v); err != nil {
				return 0, fmt.Errorf("%w: field %s: %v", ai.EAIMalformedResponse, key, err)
			}
			return v, nil
		}
		return 0, fmt.Errorf("%w: no score field", ai.EAIMalformedResponse)
	}

	var labels []labelScore
	if err := json.Unmarshal(trimmed, &labels); err != nil {
		var nested [][]labelScore
		if err2 := json.Unmarshal(trimmed, &nested); err2 != nil || len(nested) == 0 {
			return 0, fmt.Errorf("%w: %v", ai.EAIMalformedResponse, err)
		}
		labels = nested[0]
	}
	return scoreFromLabels(labels, aiLabel)
}

func scoreFromLabels(labels []labelScore, aiLabel string) (float64, error) {
	for _, l := range labels {
		if l.Score != nil && strings.EqualFold(l.Label, aiLabel) {
			return *l.Score, nil
		}
	}
	// Binary classifiers sometimes only report the human class.
	for _, l := range labels {
		if l.Score == nil {
			continue
		}
		switch strings.ToLower(l.Label) {
		case "human", "real", "authentic":
			return 1 - *l.Score, nil
		}
	}
	return 0, fmt.Errorf("%w: label %q not found", ai.EAIMalformedResponse, aiLabel)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ ai.Detector = (*Provider)(nil)
