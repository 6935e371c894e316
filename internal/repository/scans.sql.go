package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

const createScan = `-- name: CreateScan :one
INSERT INTO scans (user_id, score, is_ai, source_ip, allowance, image_key)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, user_id, score, is_ai, source_ip, allowance, image_key, created_at
`

type CreateScanParams struct {
	UserID    uuid.UUID      `json:"user_id"`
	Score     float64        `json:"score"`
	IsAi      bool           `json:"is_ai"`
	SourceIp  pqtype.Inet    `json:"source_ip"`
	Allowance string         `json:"allowance"`
	ImageKey  sql.NullString `json:"image_key"`
}

func (q *Queries) CreateScan(ctx context.Context, arg CreateScanParams) (Scan, error) {
	row := q.db.QueryRowContext(ctx, createScan,
		arg.UserID,
		arg.Score,
		arg.IsAi,
		arg.SourceIp,
		arg.Allowance,
		arg.ImageKey,
	)
	var i Scan
	err := row.Scan(
		&i.ID,
		&i.UserID,
		&i.Score,
		&i.IsAi,
		&i.SourceIp,
		&i.Allowance,
		&i.ImageKey,
		&i.CreatedAt,
	)
	return i, err
}

const countScansByUser = `-- name: CountScansByUser :one
SELECT COUNT(*) FROM scans
WHERE user_id = $1
`

func (q *Queries) CountScansByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	row := q.db.QueryRowContext(ctx, countScansByUser, userID)
	var count int64
	err := row.Scan(&count)
	return count, err
}
