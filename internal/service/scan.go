// Package service contains the business logic layer.
//
// This file orchestrates a scan: entitlement, archiving, detection and
// recording, in that order.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/DukeRupert/aiscan/internal/ai"
	"github.com/DukeRupert/aiscan/internal/domain"
	"github.com/DukeRupert/aiscan/internal/metrics"
	"github.com/DukeRupert/aiscan/internal/storage"
	"github.com/google/uuid"
)

// ScoreDetector always yields a score. ok is false when the fallback was used.
type ScoreDetector interface {
	Detect(ctx context.Context, params ai.DetectParams) (score float64, ok bool)
}

// ScanParams is one scan request from an authenticated user.
type ScanParams struct {
	User  *domain.User
	Image []byte
	IP    string
}

// ScanResult is returned to the client.
type ScanResult struct {
	ScanID         uuid.UUID
	Allowed        bool
	AIScore        float64
	IsAI           bool
	ScansRemaining int
	PlanType       domain.PlanType
	Fallback       bool
}

// ScanService runs the scan transaction.
type ScanService interface {
	// Scan returns domain.EFORBIDDEN with SCAN_LIMIT_REACHED when nothing is
	// left to spend. Detection happens only after entitlement is granted.
	Scan(ctx context.Context, params ScanParams) (*ScanResult, error)
}

// ScanServiceConfig wires the collaborators of the scan service.
type ScanServiceConfig struct {
	Entitlements   EntitlementService
	Recorder       UsageRecorder
	Detector       ScoreDetector
	Preparer       ImagePreparer
	Storage        storage.Storage // nil disables archiving
	MaxUploadBytes int64
}

type scanService struct {
	cfg    ScanServiceConfig
	logger *slog.Logger
}

// NewScanService creates a new ScanService.
func NewScanService(cfg ScanServiceConfig, logger *slog.Logger) ScanService {
	return &scanService{
		cfg:    cfg,
		logger: logger,
	}
}

func (s *scanService) Scan(ctx context.Context, params ScanParams) (*ScanResult, error) {
	const op = "ScanService.Scan"

	if params.User == nil {
		return nil, domain.Unauthorized(op, "Authentication required")
	}
	if !params.User.EmailVerified {
		return nil, domain.EmailNotVerified(op)
	}
	if err := domain.ValidateImage(params.Image, s.cfg.MaxUploadBytes); err != nil {
		return nil, err
	}
	contentType := domain.DetectImageContentType(params.Image)

	decision, err := s.cfg.Entitlements.Evaluate(ctx, params.User.ID)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		s.logger.Info("scan denied", "user_id", params.User.ID, "plan", decision.PlanType, "reason", decision.Reason)
		return nil, domain.ScanLimitReached(op)
	}

	imageKey := s.archive(ctx, params.User.ID, params.Image, contentType)

	payload, payloadType := params.Image, contentType
	if prepared, preparedType, err := s.cfg.Preparer.Prepare(params.Image); err != nil {
		s.logger.Warn("image preparation failed, sending original bytes", "user_id", params.User.ID, "error", err)
	} else {
		payload, payloadType = prepared, preparedType
	}

	start := time.Now()
	score, ok := s.cfg.Detector.Detect(ctx, ai.DetectParams{
		ImageData:   payload,
		ContentType: payloadType,
		UserID:      params.User.ID,
	})
	metrics.DetectionLatency(time.Since(start))
	isAI := ai.IsAI(score)

	scan, err := s.cfg.Recorder.Record(ctx, RecordParams{
		UserID:   params.User.ID,
		Score:    score,
		IsAI:     isAI,
		IP:       params.IP,
		Decision: decision,
		ImageKey: imageKey,
	})
	if err != nil {
		s.discard(imageKey)
		return nil, err
	}

	return &ScanResult{
		ScanID:         scan.ID,
		Allowed:        true,
		AIScore:        score,
		IsAI:           isAI,
		ScansRemaining: decision.Remaining,
		PlanType:       decision.PlanType,
		Fallback:       !ok,
	}, nil
}

// archive stores the upload when storage is configured. Failures are logged
// and yield an empty key.
func (s *scanService) archive(ctx context.Context, userID uuid.UUID, data []byte, contentType string) string {
	if s.cfg.Storage == nil {
		return ""
	}

	key := storage.ScanImageKey(userID, contentType)
	err := s.cfg.Storage.Put(ctx, key, data, storage.PutOptions{
		ContentType: contentType,
		MaxSize:     s.cfg.MaxUploadBytes,
	})
	if err != nil {
		metrics.ImageStored("failed")
		s.logger.Warn("failed to archive scan image", "user_id", userID, "key", key, "error", err)
		return ""
	}

	metrics.ImageStored("stored")
	return key
}

// discard removes an archived image whose scan was never recorded.
func (s *scanService) discard(key string) {
	if key == "" || s.cfg.Storage == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.cfg.Storage.Delete(ctx, key); err != nil {
		s.logger.Warn("failed to remove orphaned scan image", "key", key, "error", err)
	}
}

var _ ScanService = (*scanService)(nil)
