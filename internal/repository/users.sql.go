package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

const userColumns = `id, email, email_verified, display_name, plan_type, monthly_scan_count, monthly_reset_at, stripe_customer_id, created_at, updated_at`

func scanUser(row interface{ Scan(...interface{}) error }) (User, error) {
	var i User
	err := row.Scan(
		&i.ID,
		&i.Email,
		&i.EmailVerified,
		&i.DisplayName,
		&i.PlanType,
		&i.MonthlyScanCount,
		&i.MonthlyResetAt,
		&i.StripeCustomerID,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const getUser = `-- name: GetUser :one
SELECT ` + userColumns + ` FROM users
WHERE id = $1
`

func (q *Queries) GetUser(ctx context.Context, id uuid.UUID) (User, error) {
	row := q.db.QueryRowContext(ctx, getUser, id)
	return scanUser(row)
}

const getUserByStripeCustomerID = `-- name: GetUserByStripeCustomerID :one
SELECT ` + userColumns + ` FROM users
WHERE stripe_customer_id = $1
`

func (q *Queries) GetUserByStripeCustomerID(ctx context.Context, stripeCustomerID sql.NullString) (User, error) {
	row := q.db.QueryRowContext(ctx, getUserByStripeCustomerID, stripeCustomerID)
	return scanUser(row)
}

const upsertUserIdentity = `-- name: UpsertUserIdentity :one
INSERT INTO users (id, email, email_verified, monthly_reset_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (id) DO UPDATE
SET email = EXCLUDED.email,
    email_verified = EXCLUDED.email_verified,
    updated_at = NOW()
RETURNING ` + userColumns + `
`

type UpsertUserIdentityParams struct {
	ID            uuid.UUID `json:"id"`
	Email         string    `json:"email"`
	EmailVerified bool      `json:"email_verified"`
}

func (q *Queries) UpsertUserIdentity(ctx context.Context, arg UpsertUserIdentityParams) (User, error) {
	row := q.db.QueryRowContext(ctx, upsertUserIdentity, arg.ID, arg.Email, arg.EmailVerified)
	return scanUser(row)
}

const createUser = `-- name: CreateUser :one
INSERT INTO users (id, email, email_verified, display_name, monthly_reset_at)
VALUES ($1, $2, $3, $4, NOW())
ON CONFLICT (id) DO UPDATE
SET email = EXCLUDED.email,
    email_verified = EXCLUDED.email_verified,
    display_name = COALESCE(EXCLUDED.display_name, users.display_name),
    updated_at = NOW()
RETURNING ` + userColumns + `
`

type CreateUserParams struct {
	ID            uuid.UUID      `json:"id"`
	Email         string         `json:"email"`
	EmailVerified bool           `json:"email_verified"`
	DisplayName   sql.NullString `json:"display_name"`
}

func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) (User, error) {
	row := q.db.QueryRowContext(ctx, createUser,
		arg.ID,
		arg.Email,
		arg.EmailVerified,
		arg.DisplayName,
	)
	return scanUser(row)
}

const resetMonthlyUsage = `-- name: ResetMonthlyUsage :execrows
UPDATE users
SET monthly_scan_count = 0,
    monthly_reset_at = $2,
    updated_at = NOW()
WHERE id = $1 AND monthly_reset_at = $3
`

type ResetMonthlyUsageParams struct {
	ID              uuid.UUID `json:"id"`
	ResetAt         time.Time `json:"reset_at"`
	PreviousResetAt time.Time `json:"previous_reset_at"`
}

func (q *Queries) ResetMonthlyUsage(ctx context.Context, arg ResetMonthlyUsageParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, resetMonthlyUsage, arg.ID, arg.ResetAt, arg.PreviousResetAt)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const incrementMonthlyUsage = `-- name: IncrementMonthlyUsage :execrows
UPDATE users
SET monthly_scan_count = monthly_scan_count + 1,
    updated_at = NOW()
WHERE id = $1
`

func (q *Queries) IncrementMonthlyUsage(ctx context.Context, id uuid.UUID) (int64, error) {
	result, err := q.db.ExecContext(ctx, incrementMonthlyUsage, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const setUserPlan = `-- name: SetUserPlan :execrows
UPDATE users
SET plan_type = $2,
    monthly_scan_count = 0,
    monthly_reset_at = $3,
    updated_at = NOW()
WHERE id = $1
`

type SetUserPlanParams struct {
	ID       uuid.UUID `json:"id"`
	PlanType string    `json:"plan_type"`
	ResetAt  time.Time `json:"reset_at"`
}

func (q *Queries) SetUserPlan(ctx context.Context, arg SetUserPlanParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, setUserPlan, arg.ID, arg.PlanType, arg.ResetAt)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const updateUserPlanType = `-- name: UpdateUserPlanType :execrows
UPDATE users
SET plan_type = $2,
    updated_at = NOW()
WHERE id = $1
`

type UpdateUserPlanTypeParams struct {
	ID       uuid.UUID `json:"id"`
	PlanType string    `json:"plan_type"`
}

func (q *Queries) UpdateUserPlanType(ctx context.Context, arg UpdateUserPlanTypeParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, updateUserPlanType, arg.ID, arg.PlanType)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const updateUserStripeCustomer = `-- name: UpdateUserStripeCustomer :exec
UPDATE users
SET stripe_customer_id = $2,
    updated_at = NOW()
WHERE id = $1
`

type UpdateUserStripeCustomerParams struct {
	ID               uuid.UUID      `json:"id"`
	StripeCustomerID sql.NullString `json:"stripe_customer_id"`
}

func (q *Queries) UpdateUserStripeCustomer(ctx context.Context, arg UpdateUserStripeCustomerParams) error {
	_, err := q.db.ExecContext(ctx, updateUserStripeCustomer, arg.ID, arg.StripeCustomerID)
	return err
}
