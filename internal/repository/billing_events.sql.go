package repository

import (
	"context"

	"github.com/sqlc-dev/pqtype"
)

const insertBillingEvent = `-- name: InsertBillingEvent :execrows
INSERT INTO billing_events (id, type, payload)
VALUES ($1, $2, $3)
ON CONFLICT (id) DO NOTHING
`

type InsertBillingEventParams struct {
	ID      string                `json:"id"`
	Type    string                `json:"type"`
	Payload pqtype.NullRawMessage `json:"payload"`
}

// InsertBillingEvent returns 0 when the event id was already recorded.
func (q *Queries) InsertBillingEvent(ctx context.Context, arg InsertBillingEventParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, insertBillingEvent, arg.ID, arg.Type, arg.Payload)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
