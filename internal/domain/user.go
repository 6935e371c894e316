// Package domain contains core business types and interfaces.
//
// This file defines the User domain type and related types for identity and
// account state. These types are separate from the repository models to keep
// the domain layer decoupled from the database layer.
package domain

import (
	"database/sql"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
)

// User is an authenticated account. The ID is issued by the external auth
// service and reused as the primary key.
type User struct {
	ID               uuid.UUID
	Email            string
	EmailVerified    bool
	DisplayName      string
	PlanType         PlanType
	MonthlyScanCount int
	MonthlyResetAt   time.Time
	StripeCustomerID string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Name returns the display name or email if name is empty.
func (u *User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Email
}

// HasBillingCustomer reports whether a Stripe customer is linked.
func (u *User) HasBillingCustomer() bool {
	return u.StripeCustomerID != ""
}

// Identity is the verified subject of a bearer credential.
type Identity struct {
	ID            uuid.UUID
	Email         string
	EmailVerified bool
}

// SignupParams contains the parameters for explicit account creation.
type SignupParams struct {
	ID            uuid.UUID
	Email         string
	EmailVerified bool
	DisplayName   string
}

// Validate normalizes and checks the signup fields.
func (p *SignupParams) Validate() error {
	const op = "signup.validate"

	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
	p.DisplayName = strings.TrimSpace(p.DisplayName)

	if p.Email == "" {
		return Invalid(op, "Email is required")
	}
	if _, err := mail.ParseAddress(p.Email); err != nil {
		return Invalid(op, "Email address is not valid")
	}
	if len(p.DisplayName) > 100 {
		return Invalid(op, "Display name must be 100 characters or fewer")
	}
	return nil
}

// Account is a read-only snapshot of a user's entitlement state.
type Account struct {
	User           *User
	Credits        int
	MonthlyLimit   int
	PlanRemaining  int
	ScansRemaining int
}

// =============================================================================
// Conversion helpers from repository types
// =============================================================================

// NullStringValue safely extracts a string from sql.NullString.
func NullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// ToNullString converts a string to sql.NullString.
func ToNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}
