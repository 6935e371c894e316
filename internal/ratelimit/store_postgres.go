package ratelimit

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/DukeRupert/aiscan/internal/repository"
)

// PostgresStore keeps windows in the rate_limit_windows table.
type PostgresStore struct {
	queries repository.Querier
}

func NewPostgresStore(queries repository.Querier) *PostgresStore {
	return &PostgresStore{queries: queries}
}

func (s *PostgresStore) LatestWindow(ctx context.Context, ip, endpoint string, since time.Time) (Window, bool, error) {
	row, err := s.queries.GetLatestRateLimitWindow(ctx, repository.GetLatestRateLimitWindowParams{
		Ip:          ip,
		Endpoint:    endpoint,
		WindowStart: since,
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Window{}, false, nil
		}
		return Window{}, false, err
	}
	return Window{
		ID:    row.ID,
		Count: int(row.RequestCount),
		Start: row.WindowStart,
	}, true, nil
}

// CreateWindow also prunes this key's rows that can no longer be matched.
func (s *PostgresStore) CreateWindow(ctx context.Context, ip, endpoint string, start time.Time, window time.Duration) (Window, error) {
	if err := s.queries.DeleteRateLimitWindowsBefore(ctx, repository.DeleteRateLimitWindowsBeforeParams{
		Ip:          ip,
		Endpoint:    endpoint,
		WindowStart: start.Add(-window),
	}); err != nil {
		return Window{}, err
	}

	row, err := s.queries.CreateRateLimitWindow(ctx, repository.CreateRateLimitWindowParams{
		Ip:          ip,
		Endpoint:    endpoint,
		WindowStart: start,
	})
	if err != nil {
		return Window{}, err
	}
	return Window{
		ID:    row.ID,
		Count: int(row.RequestCount),
		Start: row.WindowStart,
	}, nil
}

func (s *PostgresStore) IncrementWindow(ctx context.Context, ip, endpoint string, w Window, max int) (int, bool, error) {
	count, err := s.queries.IncrementRateLimitWindow(ctx, repository.IncrementRateLimitWindowParams{
		ID:          w.ID,
		MaxRequests: int32(max),
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return w.Count, false, nil
		}
		return 0, false, err
	}
	return int(count), true, nil
}

var _ Store = (*PostgresStore)(nil)
