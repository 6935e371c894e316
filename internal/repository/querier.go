package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
)

type Querier interface {
	AddCredits(ctx context.Context, arg AddCreditsParams) (int32, error)
	ConsumeCredit(ctx context.Context, userID uuid.UUID) (int64, error)
	CountScansByUser(ctx context.Context, userID uuid.UUID) (int64, error)
	CreateRateLimitWindow(ctx context.Context, arg CreateRateLimitWindowParams) (RateLimitWindow, error)
	CreateScan(ctx context.Context, arg CreateScanParams) (Scan, error)
	CreateUser(ctx context.Context, arg CreateUserParams) (User, error)
	DeleteRateLimitWindowsBefore(ctx context.Context, arg DeleteRateLimitWindowsBeforeParams) error
	GetCreditBalance(ctx context.Context, userID uuid.UUID) (int32, error)
	GetLatestRateLimitWindow(ctx context.Context, arg GetLatestRateLimitWindowParams) (RateLimitWindow, error)
	GetUser(ctx context.Context, id uuid.UUID) (User, error)
	GetUserByStripeCustomerID(ctx context.Context, stripeCustomerID sql.NullString) (User, error)
	IncrementMonthlyUsage(ctx context.Context, id uuid.UUID) (int64, error)
	// IncrementRateLimitWindow returns sql.ErrNoRows when the window is full.
	IncrementRateLimitWindow(ctx context.Context, arg IncrementRateLimitWindowParams) (int32, error)
	// InsertBillingEvent returns 0 when the event id was already recorded.
	InsertBillingEvent(ctx context.Context, arg InsertBillingEventParams) (int64, error)
	ResetMonthlyUsage(ctx context.Context, arg ResetMonthlyUsageParams) (int64, error)
	SetUserPlan(ctx context.Context, arg SetUserPlanParams) (int64, error)
	UpdateUserPlanType(ctx context.Context, arg UpdateUserPlanTypeParams) (int64, error)
	UpdateUserStripeCustomer(ctx context.Context, arg UpdateUserStripeCustomerParams) error
	UpsertUserIdentity(ctx context.Context, arg UpsertUserIdentityParams) (User, error)
}

var _ Querier = (*Queries)(nil)
