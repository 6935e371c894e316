// Package handler contains the HTTP handlers of the scan API.
//
// This file implements billing handlers backed by Stripe.
//
// Routes handled:
//   - POST /create-checkout       -> CreateCheckout
//   - POST /create-portal-session -> CreatePortalSession
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/DukeRupert/aiscan/internal/auth"
	"github.com/DukeRupert/aiscan/internal/billing"
	"github.com/DukeRupert/aiscan/internal/domain"
	"github.com/DukeRupert/aiscan/internal/service"
)

// BillingHandler opens Stripe Checkout and Customer Portal sessions.
type BillingHandler struct {
	billing     billing.Service
	userService service.UserService
	baseURL     string
	logger      *slog.Logger
}

// NewBillingHandler creates a new BillingHandler.
// billingService may be nil when Stripe is not configured (development mode).
func NewBillingHandler(billingService billing.Service, userService service.UserService, baseURL string, logger *slog.Logger) *BillingHandler {
	return &BillingHandler{
		billing:     billingService,
		userService: userService,
		baseURL:     strings.TrimRight(baseURL, "/"),
		logger:      logger,
	}
}

// RegisterRoutes registers billing routes on the provided mux.
func (h *BillingHandler) RegisterRoutes(mux *http.ServeMux, requireUser func(http.Handler) http.Handler) {
	mux.Handle("POST /create-checkout", requireUser(http.HandlerFunc(h.CreateCheckout)))
	mux.Handle("POST /create-portal-session", requireUser(http.HandlerFunc(h.CreatePortalSession)))
}

// CheckoutRequest selects what to buy.
type CheckoutRequest struct {
	Plan string `json:"plan"` // starter, pro, power or credit
}

// CheckoutResponse points the client at Stripe Checkout.
type CheckoutResponse struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// PortalResponse points the client at the Customer Portal.
type PortalResponse struct {
	URL string `json:"url"`
}

// CreateCheckout creates or reuses the user's Stripe customer and opens a
// Checkout session for a plan or a credit pack.
func (h *BillingHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	const op = "handler.CreateCheckout"

	user := auth.GetUser(r.Context())
	if user == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	if h.billing == nil {
		h.logger.Warn("checkout attempted but Stripe is not configured")
		ErrorResponse(w, r, h.logger, domain.Unavailable(op, "Billing is not configured"))
		return
	}

	var req CheckoutRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(&req); err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "Request body must be valid JSON"))
		return
	}

	plan := domain.PlanType(strings.ToLower(strings.TrimSpace(req.Plan)))
	if !plan.IsSubscription() && plan != domain.PlanCredit {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "Plan must be one of starter, pro, power or credit"))
		return
	}
	if _, err := h.billing.PriceForPlan(plan); err != nil {
		if errors.Is(err, billing.ErrUnknownPlan) {
			ErrorResponse(w, r, h.logger, domain.Invalid(op, "That plan is not available for purchase"))
			return
		}
		InternalErrorResponse(w, r, h.logger, err)
		return
	}

	// Ensure user has a Stripe customer
	customerID := user.StripeCustomerID
	if customerID == "" {
		var err error
		customerID, err = h.billing.CreateCustomer(r.Context(), user.Email, user.Name(), user.ID.String())
		if err != nil {
			ErrorResponse(w, r, h.logger, domain.Internal(err, op, "Failed to initialize billing"))
			return
		}
		// The webhook links the customer on completion too
		if err := h.userService.UpdateStripeCustomer(r.Context(), user.ID, customerID); err != nil {
			h.logger.Error("failed to save stripe customer ID", "error", err, "user_id", user.ID)
		}
	}

	session, err := h.billing.CreateCheckoutSession(r.Context(), billing.CheckoutParams{
		CustomerID: customerID,
		UserID:     user.ID.String(),
		Plan:       plan,
		SuccessURL: h.baseURL + "/billing/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  h.baseURL + "/billing/cancel",
	})
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Internal(err, op, "Failed to create checkout session"))
		return
	}

	h.logger.Info("checkout session created", "user_id", user.ID, "plan", plan, "session_id", session.ID)
	writeJSON(w, http.StatusOK, CheckoutResponse{SessionID: session.ID, URL: session.URL})
}

// CreatePortalSession returns a Customer Portal URL. Users who never went
// through checkout get 400 NO_BILLING_CUSTOMER.
func (h *BillingHandler) CreatePortalSession(w http.ResponseWriter, r *http.Request) {
	const op = "handler.CreatePortalSession"

	user := auth.GetUser(r.Context())
	if user == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	if h.billing == nil {
		h.logger.Warn("portal requested but Stripe is not configured")
		ErrorResponse(w, r, h.logger, domain.Unavailable(op, "Billing is not configured"))
		return
	}

	if !user.HasBillingCustomer() {
		ErrorResponse(w, r, h.logger, domain.NoBillingCustomer(op))
		return
	}

	portalURL, err := h.billing.CreatePortalSession(r.Context(), user.StripeCustomerID, h.baseURL+"/account")
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Internal(err, op, "Failed to open billing portal"))
		return
	}

	writeJSON(w, http.StatusOK, PortalResponse{URL: portalURL})
}
