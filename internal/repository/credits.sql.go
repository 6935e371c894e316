package repository

import (
	"context"

	"github.com/google/uuid"
)

const getCreditBalance = `-- name: GetCreditBalance :one
SELECT balance FROM credit_balances
WHERE user_id = $1
`

func (q *Queries) GetCreditBalance(ctx context.Context, userID uuid.UUID) (int32, error) {
	row := q.db.QueryRowContext(ctx, getCreditBalance, userID)
	var balance int32
	err := row.Scan(&balance)
	return balance, err
}

const addCredits = `-- name: AddCredits :one
INSERT INTO credit_balances (user_id, balance)
VALUES ($1, $2)
ON CONFLICT (user_id) DO UPDATE
SET balance = credit_balances.balance + EXCLUDED.balance,
    updated_at = NOW()
RETURNING balance
`

type AddCreditsParams struct {
	UserID uuid.UUID `json:"user_id"`
	Amount int32     `json:"amount"`
}

func (q *Queries) AddCredits(ctx context.Context, arg AddCreditsParams) (int32, error) {
	row := q.db.QueryRowContext(ctx, addCredits, arg.UserID, arg.Amount)
	var balance int32
	err := row.Scan(&balance)
	return balance, err
}

const consumeCredit = `-- name: ConsumeCredit :execrows
UPDATE credit_balances
SET balance = balance - 1,
    updated_at = NOW()
WHERE user_id = $1 AND balance > 0
`

func (q *Queries) ConsumeCredit(ctx context.Context, userID uuid.UUID) (int64, error) {
	result, err := q.db.ExecContext(ctx, consumeCredit, userID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
