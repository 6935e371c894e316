// Package service contains the business logic layer.
//
// This file implements the entitlement evaluator: plan allowance first,
// purchased credits second.
package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/DukeRupert/aiscan/internal/domain"
	"github.com/DukeRupert/aiscan/internal/metrics"
	"github.com/DukeRupert/aiscan/internal/repository"
	"github.com/google/uuid"
)

// EntitlementService decides whether a user may run a scan.
type EntitlementService interface {
	// Evaluate returns the decision for one scan. It never charges usage,
	// but it does persist a lazy monthly reset when the month rolled over.
	Evaluate(ctx context.Context, userID uuid.UUID) (domain.Decision, error)
}

type entitlementService struct {
	store  repository.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewEntitlementService creates a new EntitlementService.
func NewEntitlementService(store repository.Store, logger *slog.Logger) EntitlementService {
	return &entitlementService{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

func (s *entitlementService) Evaluate(ctx context.Context, userID uuid.UUID) (domain.Decision, error) {
	const op = "EntitlementService.Evaluate"

	plan := domain.PlanFree
	used := 0

	user, err := s.store.GetUser(ctx, userID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// No row yet: evaluate as a fresh free account.
	case err != nil:
		return domain.Decision{}, domain.Internal(err, op, "Failed to load user")
	default:
		plan = domain.ParsePlanType(user.PlanType)
		used, err = s.currentUsage(ctx, user)
		if err != nil {
			return domain.Decision{}, domain.Internal(err, op, "Failed to reset monthly usage")
		}
	}

	decision, err := s.decide(ctx, userID, plan, used)
	if err != nil {
		return domain.Decision{}, domain.Internal(err, op, "Failed to load credit balance")
	}

	metrics.DecisionMade(string(decision.Allowance))
	s.logger.Debug("entitlement evaluated",
		"user_id", userID,
		"plan", plan,
		"used", used,
		"allowed", decision.Allowed,
		"allowance", decision.Allowance,
		"remaining", decision.Remaining,
	)
	return decision, nil
}

// currentUsage returns the month's usage, resetting the counter first when
// the stored reset timestamp is from an earlier month. The reset is a
// compare-and-set on the previous timestamp, so concurrent evaluators
// reset at most once.
func (s *entitlementService) currentUsage(ctx context.Context, user repository.User) (int, error) {
	now := s.now()
	if !monthRolledOver(user.MonthlyResetAt, now) {
		return int(user.MonthlyScanCount), nil
	}

	rows, err := s.store.ResetMonthlyUsage(ctx, repository.ResetMonthlyUsageParams{
		ID:              user.ID,
		ResetAt:         now,
		PreviousResetAt: user.MonthlyResetAt,
	})
	if err != nil {
		return 0, err
	}
	if rows == 1 {
		s.logger.Info("monthly usage reset", "user_id", user.ID, "previous_reset_at", user.MonthlyResetAt)
		return 0, nil
	}

	// Someone else reset first; their reset may already carry new usage.
	fresh, err := s.store.GetUser(ctx, user.ID)
	if err != nil {
		return 0, err
	}
	if monthRolledOver(fresh.MonthlyResetAt, now) {
		return 0, nil
	}
	return int(fresh.MonthlyScanCount), nil
}

func (s *entitlementService) decide(ctx context.Context, userID uuid.UUID, plan domain.PlanType, used int) (domain.Decision, error) {
	limit := plan.MonthlyLimit()
	if used < limit {
		return domain.Decision{
			Allowed:   true,
			Remaining: limit - used - 1,
			PlanType:  plan,
			Allowance: domain.AllowancePlan,
		}, nil
	}

	credits, err := creditBalance(ctx, s.store, userID)
	if err != nil {
		return domain.Decision{}, err
	}
	if credits > 0 {
		return domain.Decision{
			Allowed:   true,
			Remaining: credits - 1,
			PlanType:  domain.PlanCredit,
			Allowance: domain.AllowanceCredit,
		}, nil
	}

	return domain.Denied(plan), nil
}

var _ EntitlementService = (*entitlementService)(nil)
