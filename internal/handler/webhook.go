// Package handler contains the HTTP handlers of the scan API.
//
// This file implements the Stripe webhook handler for processing billing events.
//
// Route:
//   - POST /webhook -> HandleStripeWebhook
//
// This route is PUBLIC (no auth middleware) because Stripe calls it directly.
// Authentication is via the Stripe webhook signature verification, which
// needs the body exactly as sent. Nothing else in the stack reads it first.
package handler

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/DukeRupert/aiscan/internal/billing"
	"github.com/DukeRupert/aiscan/internal/domain"
	"github.com/DukeRupert/aiscan/internal/metrics"
	"github.com/DukeRupert/aiscan/internal/service"
)

// maxWebhookBody matches the largest payloads Stripe documents.
const maxWebhookBody = 1 << 20

// WebhookHandler handles incoming webhook events from Stripe.
type WebhookHandler struct {
	billing billing.Service
	events  service.BillingEventService
	logger  *slog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
// billingService may be nil when Stripe is not configured.
func NewWebhookHandler(billingService billing.Service, events service.BillingEventService, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		billing: billingService,
		events:  events,
		logger:  logger,
	}
}

// RegisterRoutes registers webhook routes on the provided mux.
// These routes are PUBLIC, with no auth middleware.
func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhook", h.HandleStripeWebhook)
}

// WebhookResponse acknowledges a processed event.
type WebhookResponse struct {
	Received bool `json:"received"`
}

// HandleStripeWebhook verifies and processes a Stripe event. Processing
// failures return 500 so Stripe redelivers the event.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	const op = "handler.HandleStripeWebhook"

	if h.billing == nil {
		h.logger.Warn("stripe webhook received but billing is not configured")
		ErrorResponse(w, r, h.logger, domain.Unavailable(op, "Billing is not configured"))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		ErrorResponse(w, r, h.logger, bodyError(op, err))
		return
	}

	event, err := h.billing.VerifyWebhookSignature(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		metrics.WebhookHandled("unverified", "invalid_signature")
		ErrorResponse(w, r, h.logger, domain.InvalidSignature(op, err))
		return
	}

	h.logger.Info("stripe webhook received", "type", event.Type, "id", event.ID)

	if _, err := h.events.HandleEvent(r.Context(), event); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, WebhookResponse{Received: true})
}
