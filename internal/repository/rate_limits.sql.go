package repository

import (
	"context"
	"time"
)

const getLatestRateLimitWindow = `-- name: GetLatestRateLimitWindow :one
SELECT id, ip, endpoint, request_count, window_start FROM rate_limit_windows
WHERE ip = $1 AND endpoint = $2 AND window_start >= $3
ORDER BY window_start DESC
LIMIT 1
`

type GetLatestRateLimitWindowParams struct {
	Ip          string    `json:"ip"`
	Endpoint    string    `json:"endpoint"`
	WindowStart time.Time `json:"window_start"`
}

func (q *Queries) GetLatestRateLimitWindow(ctx context.Context, arg GetLatestRateLimitWindowParams) (RateLimitWindow, error) {
	row := q.db.QueryRowContext(ctx, getLatestRateLimitWindow, arg.Ip, arg.Endpoint, arg.WindowStart)
	var i RateLimitWindow
	err := row.Scan(
		&i.ID,
		&i.Ip,
		&i.Endpoint,
		&i.RequestCount,
		&i.WindowStart,
	)
	return i, err
}

const createRateLimitWindow = `-- name: CreateRateLimitWindow :one
INSERT INTO rate_limit_windows (ip, endpoint, request_count, window_start)
VALUES ($1, $2, 1, $3)
RETURNING id, ip, endpoint, request_count, window_start
`

type CreateRateLimitWindowParams struct {
	Ip          string    `json:"ip"`
	Endpoint    string    `json:"endpoint"`
	WindowStart time.Time `json:"window_start"`
}

func (q *Queries) CreateRateLimitWindow(ctx context.Context, arg CreateRateLimitWindowParams) (RateLimitWindow, error) {
	row := q.db.QueryRowContext(ctx, createRateLimitWindow, arg.Ip, arg.Endpoint, arg.WindowStart)
	var i RateLimitWindow
	err := row.Scan(
		&i.ID,
		&i.Ip,
		&i.Endpoint,
		&i.RequestCount,
		&i.WindowStart,
	)
	return i, err
}

const incrementRateLimitWindow = `-- name: IncrementRateLimitWindow :one
UPDATE rate_limit_windows
SET request_count = request_count + 1
WHERE id = $1 AND request_count < $2
RETURNING request_count
`

type IncrementRateLimitWindowParams struct {
	ID          int64 `json:"id"`
	MaxRequests int32 `json:"max_requests"`
}

// IncrementRateLimitWindow returns sql.ErrNoRows when the window is full.
func (q *Queries) IncrementRateLimitWindow(ctx context.Context, arg IncrementRateLimitWindowParams) (int32, error) {
	row := q.db.QueryRowContext(ctx, incrementRateLimitWindow, arg.ID, arg.MaxRequests)
	var requestCount int32
	err := row.Scan(&requestCount)
	return requestCount, err
}

const deleteRateLimitWindowsBefore = `-- name: DeleteRateLimitWindowsBefore :exec
DELETE FROM rate_limit_windows
WHERE ip = $1 AND endpoint = $2 AND window_start < $3
`

type DeleteRateLimitWindowsBeforeParams struct {
	Ip          string    `json:"ip"`
	Endpoint    string    `json:"endpoint"`
	WindowStart time.Time `json:"window_start"`
}

func (q *Queries) DeleteRateLimitWindowsBefore(ctx context.Context, arg DeleteRateLimitWindowsBeforeParams) error {
	_, err := q.db.ExecContext(ctx, deleteRateLimitWindowsBefore, arg.Ip, arg.Endpoint, arg.WindowStart)
	return err
}
