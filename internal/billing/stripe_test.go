package billing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DukeRupert/aiscan/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

var testPrices = PriceConfig{
	StarterPriceID: "price_starter",
	ProPriceID:     "price_pro",
	PowerPriceID:   "price_power",
	CreditPriceID:  "price_credit",
}

// useFakeStripe points the global Stripe API backend at handler.
func useFakeStripe(t *testing.T, handler http.HandlerFunc) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	stripe.SetBackend(stripe.APIBackend, backend)
	t.Cleanup(func() { stripe.SetBackend(stripe.APIBackend, nil) })
}

func TestPlanForPriceID(t *testing.T) {
	svc := NewStripeService("sk_test", "whsec_test", testPrices)

	tests := []struct {
		priceID  string
		wantPlan domain.PlanType
		wantOK   bool
	}{
		{"price_starter", domain.PlanStarter, true},
		{"price_pro", domain.PlanPro, true},
		{"price_power", domain.PlanPower, true},
		{"price_credit", "", false},
		{"price_unknown", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.priceID, func(t *testing.T) {
			plan, ok := svc.PlanForPriceID(tt.priceID)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantPlan, plan)
		})
	}
}

func TestPriceForPlan(t *testing.T) {
	svc := NewStripeService("sk_test", "whsec_test", PriceConfig{ProPriceID: "price_pro"})

	id, err := svc.PriceForPlan(domain.PlanPro)
	require.NoError(t, err)
	assert.Equal(t, "price_pro", id)

	_, err = svc.PriceForPlan(domain.PlanStarter)
	assert.ErrorIs(t, err, ErrUnknownPlan)

	_, err = svc.PriceForPlan(domain.PlanFree)
	assert.ErrorIs(t, err, ErrUnknownPlan)
}

func TestVerifyWebhookSignature(t *testing.T) {
	svc := NewStripeService("sk_test", "whsec_test", testPrices)
	payload := []byte(`{"id":"evt_1","object":"event","type":"checkout.session.completed","data":{"object":{}}}`)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    "whsec_test",
		Timestamp: time.Now(),
	})

	event, err := svc.VerifyWebhookSignature(signed.Payload, signed.Header)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", event.ID)
	assert.Equal(t, stripe.EventType("checkout.session.completed"), event.Type)

	_, err = svc.VerifyWebhookSignature(payload, "t=1,v1=deadbeef")
	assert.Error(t, err)

	wrong := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    "whsec_other",
		Timestamp: time.Now(),
	})
	_, err = svc.VerifyWebhookSignature(wrong.Payload, wrong.Header)
	assert.Error(t, err)
}

func TestCreateCheckoutSession_Modes(t *testing.T) {
	tests := []struct {
		plan      domain.PlanType
		wantMode  string
		wantPrice string
	}{
		{domain.PlanPro, "subscription", "price_pro"},
		{domain.PlanCredit, "payment", "price_credit"},
	}

	for _, tt := range tests {
		t.Run(string(tt.plan), func(t *testing.T) {
			var form map[string][]string
			useFakeStripe(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
				require.NoError(t, r.ParseForm())
				form = r.PostForm
				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(map[string]any{
					"id":     "cs_test_1",
					"object": "checkout.session",
					"url":    "https://checkout.stripe.com/c/pay/cs_test_1",
				})
			})

			svc := NewStripeService("sk_test", "whsec_test", testPrices)
			sess, err := svc.CreateCheckoutSession(context.Background(), CheckoutParams{
				CustomerID: "cus_1",
				UserID:     "user-1",
				Plan:       tt.plan,
				SuccessURL: "https://app.test/success",
				CancelURL:  "https://app.test/cancel",
			})
			require.NoError(t, err)
			assert.Equal(t, "cs_test_1", sess.ID)
			assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_1", sess.URL)

			get := func(k string) string {
				if v := form[k]; len(v) > 0 {
					return v[0]
				}
				return ""
			}
			assert.Equal(t, tt.wantMode, get("mode"))
			assert.Equal(t, tt.wantPrice, get("line_items[0][price]"))
			assert.Equal(t, "user-1", get("metadata[user_id]"))
			assert.Equal(t, tt.wantPrice, get("metadata[price_id]"))
			assert.Equal(t, "user-1", get("client_reference_id"))
			assert.Equal(t, "cus_1", get("customer"))
			if tt.wantMode == "subscription" {
				assert.Equal(t, "user-1", get("subscription_data[metadata][user_id]"))
			} else {
				assert.Empty(t, get("subscription_data[metadata][user_id]"))
			}
		})
	}
}

func TestCreateCheckoutSession_UnknownPlan(t *testing.T) {
	svc := NewStripeService("sk_test", "whsec_test", PriceConfig{})
	_, err := svc.CreateCheckoutSession(context.Background(), CheckoutParams{Plan: domain.PlanPower})
	assert.ErrorIs(t, err, ErrUnknownPlan)
}

func TestLineItemPriceID(t *testing.T) {
	useFakeStripe(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checkout/sessions/cs_1/line_items", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"object":   "list",
			"url":      "/v1/checkout/sessions/cs_1/line_items",
			"has_more": false,
			"data": []map[string]any{
				{"id": "li_1", "object": "item", "price": map[string]any{"id": "price_pro", "object": "price"}},
			},
		})
	})

	svc := NewStripeService("sk_test", "whsec_test", testPrices)
	priceID, err := svc.LineItemPriceID(context.Background(), "cs_1")
	require.NoError(t, err)
	assert.Equal(t, "price_pro", priceID)
}
