package service

import (
	"context"
	"log/slog"
	"net"
	"net/netip"

	"github.com/DukeRupert/aiscan/internal/domain"
	"github.com/DukeRupert/aiscan/internal/metrics"
	"github.com/DukeRupert/aiscan/internal/repository"
	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

// RecordParams describes a finished scan to charge.
type RecordParams struct {
	UserID   uuid.UUID
	Score    float64
	IsAI     bool
	IP       string
	Decision domain.Decision
	ImageKey string
}

// UsageRecorder persists scans and charges the allowance chosen by the
// entitlement decision. It never re-evaluates entitlement.
type UsageRecorder interface {
	Record(ctx context.Context, params RecordParams) (*repository.Scan, error)
}

type usageRecorder struct {
	store  repository.Store
	logger *slog.Logger
}

// NewUsageRecorder creates a new UsageRecorder.
func NewUsageRecorder(store repository.Store, logger *slog.Logger) UsageRecorder {
	return &usageRecorder{
		store:  store,
		logger: logger,
	}
}

func (r *usageRecorder) Record(ctx context.Context, params RecordParams) (*repository.Scan, error) {
	const op = "UsageRecorder.Record"

	if !params.Decision.Allowed {
		return nil, domain.ScanLimitReached(op)
	}

	var scan repository.Scan
	err := r.store.ExecTx(ctx, func(q repository.Querier) error {
		var err error
		scan, err = q.CreateScan(ctx, repository.CreateScanParams{
			UserID:    params.UserID,
			Score:     params.Score,
			IsAi:      params.IsAI,
			SourceIp:  toInet(params.IP),
			Allowance: string(params.Decision.Allowance),
			ImageKey:  domain.ToNullString(params.ImageKey),
		})
		if err != nil {
			return err
		}

		switch params.Decision.Allowance {
		case domain.AllowancePlan:
			rows, err := q.IncrementMonthlyUsage(ctx, params.UserID)
			if err != nil {
				return err
			}
			if rows == 0 {
				r.logger.Warn("monthly usage not incremented, user row missing", "user_id", params.UserID)
			}
		case domain.AllowanceCredit:
			rows, err := q.ConsumeCredit(ctx, params.UserID)
			if err != nil {
				return err
			}
			if rows == 0 {
				// Balance hit zero between evaluation and recording.
				r.logger.Warn("credit not consumed, balance already zero", "user_id", params.UserID)
			}
		default:
			r.logger.Warn("scan recorded without a chargeable allowance",
				"user_id", params.UserID,
				"allowance", params.Decision.Allowance,
			)
		}
		return nil
	})
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to record scan")
	}

	metrics.ScanRecorded(string(params.Decision.Allowance), params.IsAI)
	r.logger.Info("scan recorded",
		"scan_id", scan.ID,
		"user_id", params.UserID,
		"score", params.Score,
		"is_ai", params.IsAI,
		"allowance", params.Decision.Allowance,
	)
	return &scan, nil
}

// toInet converts a client address for the inet column. Unparseable
// addresses are stored as NULL.
func toInet(ip string) pqtype.Inet {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return pqtype.Inet{}
	}
	addr = addr.Unmap()
	bits := addr.BitLen()
	return pqtype.Inet{
		IPNet: net.IPNet{IP: net.IP(addr.AsSlice()), Mask: net.CIDRMask(bits, bits)},
		Valid: true,
	}
}

var _ UsageRecorder = (*usageRecorder)(nil)
