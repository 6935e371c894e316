// Package billing wraps the Stripe calls used for plans and credit packs.
package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/DukeRupert/aiscan/internal/domain"
	"github.com/stripe/stripe-go/v79"
	billingportalsession "github.com/stripe/stripe-go/v79/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/customer"
	"github.com/stripe/stripe-go/v79/webhook"
)

// ErrUnknownPlan is returned when no price is configured for a plan.
var ErrUnknownPlan = errors.New("no price configured for plan")

// Service defines the interface for billing operations.
type Service interface {
	// CreateCustomer creates a new Stripe customer tagged with the user id.
	CreateCustomer(ctx context.Context, email, name, userID string) (string, error)

	// CreateCheckoutSession creates a Checkout session for a plan or a
	// credit pack.
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error)

	// CreatePortalSession creates a Stripe Customer Portal session.
	// Returns the portal URL to redirect the user to.
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)

	// LineItemPriceID returns the price of the first line item of a
	// completed checkout session.
	LineItemPriceID(ctx context.Context, sessionID string) (string, error)

	// VerifyWebhookSignature verifies the Stripe webhook signature and returns the event.
	VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error)

	// PlanForPriceID maps a Stripe price to a subscription plan.
	PlanForPriceID(priceID string) (domain.PlanType, bool)

	// PriceForPlan returns the configured price for a plan or the credit pack.
	PriceForPlan(plan domain.PlanType) (string, error)
}

// PriceConfig holds the Stripe price IDs for each plan.
type PriceConfig struct {
	StarterPriceID string
	ProPriceID     string
	PowerPriceID   string
	CreditPriceID  string
}

// CheckoutParams describes a checkout request.
type CheckoutParams struct {
	CustomerID string
	UserID     string
	Plan       domain.PlanType
	SuccessURL string
	CancelURL  string
}

// CheckoutSession is the subset of the Stripe session returned to clients.
type CheckoutSession struct {
	ID  string
	URL string
}

type stripeService struct {
	webhookSecret string
	planToPrice   map[domain.PlanType]string
	priceToPlan   map[string]domain.PlanType
}

// NewStripeService creates a new Stripe billing service.
//
// The secretKey is used to authenticate Stripe API calls.
// The webhookSecret is used to verify incoming webhook signatures.
func NewStripeService(secretKey, webhookSecret string, prices PriceConfig) Service {
	stripe.Key = secretKey

	planToPrice := map[domain.PlanType]string{}
	priceToPlan := map[string]domain.PlanType{}
	for plan, id := range map[domain.PlanType]string{
		domain.PlanStarter: prices.StarterPriceID,
		domain.PlanPro:     prices.ProPriceID,
		domain.PlanPower:   prices.PowerPriceID,
		domain.PlanCredit:  prices.CreditPriceID,
	} {
		if id == "" {
			continue
		}
		planToPrice[plan] = id
		priceToPlan[id] = plan
	}

	return &stripeService{
		webhookSecret: webhookSecret,
		planToPrice:   planToPrice,
		priceToPlan:   priceToPlan,
	}
}

func (s *stripeService) CreateCustomer(ctx context.Context, email, name, userID string) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
	}
	if name != "" {
		params.Name = stripe.String(name)
	}
	params.Context = ctx
	params.AddMetadata("user_id", userID)

	c, err := customer.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe create customer: %w", err)
	}
	return c.ID, nil
}

func (s *stripeService) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*CheckoutSession, error) {
	priceID, err := s.PriceForPlan(p.Plan)
	if err != nil {
		return nil, err
	}

	mode := stripe.CheckoutSessionModeSubscription
	if p.Plan == domain.PlanCredit {
		mode = stripe.CheckoutSessionModePayment
	}

	params := &stripe.CheckoutSessionParams{
		Customer:          stripe.String(p.CustomerID),
		ClientReferenceID: stripe.String(p.UserID),
		Mode:              stripe.String(string(mode)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(p.SuccessURL),
		CancelURL:  stripe.String(p.CancelURL),
	}
	if mode == stripe.CheckoutSessionModeSubscription {
		params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{"user_id": p.UserID},
		}
	}
	params.Context = ctx
	params.AddMetadata("user_id", p.UserID)
	params.AddMetadata("price_id", priceID)

	sess, err := checkoutsession.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe create checkout session: %w", err)
	}
	return &CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

func (s *stripeService) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx
	sess, err := billingportalsession.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe create portal session: %w", err)
	}
	return sess.URL, nil
}

func (s *stripeService) LineItemPriceID(ctx context.Context, sessionID string) (string, error) {
	params := &stripe.CheckoutSessionListLineItemsParams{
		Session: stripe.String(sessionID),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(1)

	iter := checkoutsession.ListLineItems(params)
	for iter.Next() {
		if item := iter.LineItem(); item.Price != nil {
			return item.Price.ID, nil
		}
	}
	if err := iter.Err(); err != nil {
		return "", fmt.Errorf("stripe list line items: %w", err)
	}
	return "", fmt.Errorf("checkout session %s has no priced line items", sessionID)
}

func (s *stripeService) VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("stripe webhook signature verification failed: %w", err)
	}
	return event, nil
}

func (s *stripeService) PlanForPriceID(priceID string) (domain.PlanType, bool) {
	plan, ok := s.priceToPlan[priceID]
	if !ok || !plan.IsSubscription() {
		return "", false
	}
	return plan, true
}

func (s *stripeService) PriceForPlan(plan domain.PlanType) (string, error) {
	if id, ok := s.planToPrice[plan]; ok {
		return id, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownPlan, plan)
}

var _ Service = (*stripeService)(nil)
