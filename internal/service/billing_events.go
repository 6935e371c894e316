// Package service contains the business logic layer.
//
// This file applies verified Stripe events to plans and credit balances.
package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/DukeRupert/aiscan/internal/domain"
	"github.com/DukeRupert/aiscan/internal/metrics"
	"github.com/DukeRupert/aiscan/internal/repository"
	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
	"github.com/stripe/stripe-go/v79"
)

// Event outcomes reported to metrics and logs.
const (
	EventApplied   = "applied"
	EventDuplicate = "duplicate"
	EventIgnored   = "ignored"
)

// CreditsPerPurchase is granted for each completed one-off payment.
const CreditsPerPurchase = 1

// PriceResolver maps checkout sessions to plans.
type PriceResolver interface {
	LineItemPriceID(ctx context.Context, sessionID string) (string, error)
	PlanForPriceID(priceID string) (domain.PlanType, bool)
}

// BillingEventService handles webhook events whose signature was already
// verified.
type BillingEventService interface {
	// HandleEvent applies the event at most once per event id and returns
	// the outcome.
	HandleEvent(ctx context.Context, event stripe.Event) (string, error)
}

type billingEventService struct {
	store  repository.Store
	prices PriceResolver
	logger *slog.Logger
	now    func() time.Time
}

// NewBillingEventService creates a new BillingEventService.
func NewBillingEventService(store repository.Store, prices PriceResolver, logger *slog.Logger) BillingEventService {
	return &billingEventService{
		store:  store,
		prices: prices,
		logger: logger,
		now:    time.Now,
	}
}

// mutation runs inside the event's transaction.
type mutation func(ctx context.Context, q repository.Querier) error

func (s *billingEventService) HandleEvent(ctx context.Context, event stripe.Event) (string, error) {
	const op = "BillingEventService.HandleEvent"

	var (
		apply mutation
		err   error
	)
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		apply, err = s.checkoutCompleted(ctx, event)
	case stripe.EventTypeCustomerSubscriptionDeleted:
		apply, err = s.subscriptionDeleted(event)
	default:
		s.logger.Debug("unhandled webhook event type", "event_id", event.ID, "type", event.Type)
		metrics.WebhookHandled(string(event.Type), EventIgnored)
		return EventIgnored, nil
	}
	if err != nil {
		return "", domain.Internal(err, op, "Failed to interpret billing event")
	}

	outcome := EventApplied
	if apply == nil {
		outcome = EventIgnored
	}

	err = s.store.ExecTx(ctx, func(q repository.Querier) error {
		rows, err := q.InsertBillingEvent(ctx, repository.InsertBillingEventParams{
			ID:      event.ID,
			Type:    string(event.Type),
			Payload: pqtype.NullRawMessage{RawMessage: event.Data.Raw, Valid: len(event.Data.Raw) > 0},
		})
		if err != nil {
			return err
		}
		if rows == 0 {
			outcome = EventDuplicate
			return nil
		}
		if apply == nil {
			return nil
		}
		return apply(ctx, q)
	})
	if err != nil {
		metrics.WebhookHandled(string(event.Type), "failed")
		return "", domain.Internal(err, op, "Failed to apply billing event")
	}

	metrics.WebhookHandled(string(event.Type), outcome)
	s.logger.Info("billing event processed", "event_id", event.ID, "type", event.Type, "outcome", outcome)
	return outcome, nil
}

// checkoutCompleted grants a credit for payments and sets the plan for
// subscriptions. A nil mutation means the event is acknowledged but ignored.
func (s *billingEventService) checkoutCompleted(ctx context.Context, event stripe.Event) (mutation, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, err
	}

	userID, ok := checkoutUserID(&session)
	if !ok {
		s.logger.Warn("checkout session without a user id", "event_id", event.ID, "session_id", session.ID)
		return nil, nil
	}

	var customerID string
	if session.Customer != nil {
		customerID = session.Customer.ID
	}

	switch session.Mode {
	case stripe.CheckoutSessionModePayment:
		return func(ctx context.Context, q repository.Querier) error {
			// credit_balances references users; acknowledge instead of
			// failing into endless redelivery
			if _, err := q.GetUser(ctx, userID); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					s.logger.Warn("credit not granted, user not found", "user_id", userID, "event_id", event.ID)
					return nil
				}
				return err
			}
			balance, err := q.AddCredits(ctx, repository.AddCreditsParams{
				UserID: userID,
				Amount: CreditsPerPurchase,
			})
			if err != nil {
				return err
			}
			s.logger.Info("credits granted", "user_id", userID, "balance", balance)
			return s.linkCustomer(ctx, q, userID, customerID)
		}, nil

	case stripe.CheckoutSessionModeSubscription:
		priceID := session.Metadata["price_id"]
		if priceID == "" {
			var err error
			priceID, err = s.prices.LineItemPriceID(ctx, session.ID)
			if err != nil {
				return nil, err
			}
		}
		plan, ok := s.prices.PlanForPriceID(priceID)
		if !ok {
			s.logger.Warn("checkout for unknown price", "event_id", event.ID, "price_id", priceID)
			return nil, nil
		}
		return func(ctx context.Context, q repository.Querier) error {
			rows, err := q.SetUserPlan(ctx, repository.SetUserPlanParams{
				ID:       userID,
				PlanType: string(plan),
				ResetAt:  s.now(),
			})
			if err != nil {
				return err
			}
			if rows == 0 {
				s.logger.Warn("plan not set, user not found", "user_id", userID, "plan", plan)
				return nil
			}
			s.logger.Info("plan activated", "user_id", userID, "plan", plan)
			return s.linkCustomer(ctx, q, userID, customerID)
		}, nil

	default:
		s.logger.Warn("checkout session with unsupported mode", "event_id", event.ID, "mode", session.Mode)
		return nil, nil
	}
}

// subscriptionDeleted returns the subscriber to the free plan. Usage is
// left untouched.
func (s *billingEventService) subscriptionDeleted(event stripe.Event) (mutation, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return nil, err
	}

	var customerID string
	if sub.Customer != nil {
		customerID = sub.Customer.ID
	}
	metaUserID, hasMetaUser := parseUserID(sub.Metadata["user_id"])
	if customerID == "" && !hasMetaUser {
		s.logger.Warn("deleted subscription without customer", "event_id", event.ID)
		return nil, nil
	}

	return func(ctx context.Context, q repository.Querier) error {
		userID := metaUserID
		if customerID != "" {
			user, err := q.GetUserByStripeCustomerID(ctx, domain.ToNullString(customerID))
			switch {
			case err == nil:
				userID = user.ID
			case !errors.Is(err, sql.ErrNoRows):
				return err
			}
		}
		if userID == uuid.Nil {
			s.logger.Warn("deleted subscription for unknown customer", "customer_id", customerID)
			return nil
		}

		if _, err := q.UpdateUserPlanType(ctx, repository.UpdateUserPlanTypeParams{
			ID:       userID,
			PlanType: string(domain.PlanFree),
		}); err != nil {
			return err
		}
		s.logger.Info("subscription ended, plan reset to free", "user_id", userID)
		return nil
	}, nil
}

// linkCustomer stores the Stripe customer on the user when none is set
// and no other user owns it.
func (s *billingEventService) linkCustomer(ctx context.Context, q repository.Querier, userID uuid.UUID, customerID string) error {
	if customerID == "" {
		return nil
	}

	user, err := q.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	}
	if user.StripeCustomerID.Valid {
		return nil
	}

	owner, err := q.GetUserByStripeCustomerID(ctx, domain.ToNullString(customerID))
	switch {
	case err == nil && owner.ID != userID:
		s.logger.Warn("stripe customer already linked to another user",
			"user_id", userID,
			"owner_id", owner.ID,
			"customer_id", customerID,
		)
		return nil
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return err
	}

	return q.UpdateUserStripeCustomer(ctx, repository.UpdateUserStripeCustomerParams{
		ID:               userID,
		StripeCustomerID: domain.ToNullString(customerID),
	})
}

// checkoutUserID reads metadata.user_id, falling back to the client
// reference id.
func checkoutUserID(session *stripe.CheckoutSession) (uuid.UUID, bool) {
	if id, ok := parseUserID(session.Metadata["user_id"]); ok {
		return id, true
	}
	return parseUserID(session.ClientReferenceID)
}

func parseUserID(s string) (uuid.UUID, bool) {
	id, err := uuid.Parse(s)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

var _ BillingEventService = (*billingEventService)(nil)
