package repository

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

type BillingEvent struct {
	ID          string                `json:"id"`
	Type        string                `json:"type"`
	Payload     pqtype.NullRawMessage `json:"payload"`
	ProcessedAt time.Time             `json:"processed_at"`
}

type CreditBalance struct {
	UserID    uuid.UUID `json:"user_id"`
	Balance   int32     `json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}

type RateLimitWindow struct {
	ID           int64     `json:"id"`
	Ip           string    `json:"ip"`
	Endpoint     string    `json:"endpoint"`
	RequestCount int32     `json:"request_count"`
	WindowStart  time.Time `json:"window_start"`
}

type Scan struct {
	ID        uuid.UUID      `json:"id"`
	UserID    uuid.UUID      `json:"user_id"`
	Score     float64        `json:"score"`
	IsAi      bool           `json:"is_ai"`
	SourceIp  pqtype.Inet    `json:"source_ip"`
	Allowance string         `json:"allowance"`
	ImageKey  sql.NullString `json:"image_key"`
	CreatedAt time.Time      `json:"created_at"`
}

type User struct {
	ID               uuid.UUID      `json:"id"`
	Email            string         `json:"email"`
	EmailVerified    bool           `json:"email_verified"`
	DisplayName      sql.NullString `json:"display_name"`
	PlanType         string         `json:"plan_type"`
	MonthlyScanCount int32          `json:"monthly_scan_count"`
	MonthlyResetAt   time.Time      `json:"monthly_reset_at"`
	StripeCustomerID sql.NullString `json:"stripe_customer_id"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}
