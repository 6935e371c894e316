package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/DukeRupert/aiscan/internal/domain"
	"github.com/DukeRupert/aiscan/internal/repository/repotest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"
)

// fakePrices resolves a fixed price table and counts line-item lookups.
type fakePrices struct {
	lineItemPrice string
	lineItemErr   error
	lookups       int
}

func (f *fakePrices) LineItemPriceID(ctx context.Context, sessionID string) (string, error) {
	f.lookups++
	return f.lineItemPrice, f.lineItemErr
}

func (f *fakePrices) PlanForPriceID(priceID string) (domain.PlanType, bool) {
	switch priceID {
	case "price_starter":
		return domain.PlanStarter, true
	case "price_pro":
		return domain.PlanPro, true
	case "price_power":
		return domain.PlanPower, true
	}
	return "", false
}

func newTestBillingEvents(store *repotest.Store, prices PriceResolver) BillingEventService {
	svc := NewBillingEventService(store, prices, testLogger()).(*billingEventService)
	svc.now = clock
	return svc
}

func makeEvent(t *testing.T, id string, typ stripe.EventType, object map[string]any) stripe.Event {
	t.Helper()
	raw, err := json.Marshal(object)
	require.NoError(t, err)
	return stripe.Event{
		ID:   id,
		Type: typ,
		Data: &stripe.EventData{Raw: raw},
	}
}

func checkoutEvent(t *testing.T, id, mode string, metadata map[string]string, extra map[string]any) stripe.Event {
	obj := map[string]any{
		"id":       "cs_" + id,
		"object":   "checkout.session",
		"mode":     mode,
		"metadata": metadata,
	}
	for k, v := range extra {
		obj[k] = v
	}
	return makeEvent(t, id, stripe.EventTypeCheckoutSessionCompleted, obj)
}

func TestHandleEvent_PaymentGrantsOneCredit(t *testing.T) {
	store := repotest.New()
	svc := newTestBillingEvents(store, &fakePrices{})
	id := seedUser(t, store, "free", 1)
	store.Credits[id] = 2

	ev := checkoutEvent(t, "evt_pay_1", "payment", map[string]string{"user_id": id.String()}, nil)
	outcome, err := svc.HandleEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, EventApplied, outcome)
	assert.Equal(t, int32(3), store.CreditBalance(id))

	// Redelivery of the same event id is acknowledged without a second grant.
	outcome, err = svc.HandleEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, EventDuplicate, outcome)
	assert.Equal(t, int32(3), store.CreditBalance(id))

	// A second purchase is a new event and adds on top.
	_, err = svc.HandleEvent(context.Background(),
		checkoutEvent(t, "evt_pay_2", "payment", map[string]string{"user_id": id.String()}, nil))
	require.NoError(t, err)
	assert.Equal(t, int32(4), store.CreditBalance(id))
}

func TestHandleEvent_PaymentFallsBackToClientReference(t *testing.T) {
	store := repotest.New()
	svc := newTestBillingEvents(store, &fakePrices{})
	id := seedUser(t, store, "free", 0)

	_, err := svc.HandleEvent(context.Background(),
		checkoutEvent(t, "evt_ref", "payment", nil, map[string]any{"client_reference_id": id.String()}))
	require.NoError(t, err)
	assert.Equal(t, int32(1), store.CreditBalance(id))
}

func TestHandleEvent_SubscriptionSetsPlanAndResetsUsage(t *testing.T) {
	store := repotest.New()
	prices := &fakePrices{}
	svc := newTestBillingEvents(store, prices)
	id := seedUser(t, store, "free", 1)

	ev := checkoutEvent(t, "evt_sub_1", "subscription",
		map[string]string{"user_id": id.String(), "price_id": "price_pro"},
		map[string]any{"customer": "cus_123"})
	outcome, err := svc.HandleEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, EventApplied, outcome)

	u, _ := store.User(id)
	assert.Equal(t, "pro", u.PlanType)
	assert.Equal(t, int32(0), u.MonthlyScanCount)
	assert.True(t, u.MonthlyResetAt.Equal(fixedClock))
	assert.Equal(t, "cus_123", u.StripeCustomerID.String)
	assert.Equal(t, 0, prices.lookups)
}

func TestHandleEvent_SubscriptionResolvesPriceFromLineItems(t *testing.T) {
	store := repotest.New()
	prices := &fakePrices{lineItemPrice: "price_power"}
	svc := newTestBillingEvents(store, prices)
	id := seedUser(t, store, "starter", 12)

	_, err := svc.HandleEvent(context.Background(),
		checkoutEvent(t, "evt_sub_2", "subscription", map[string]string{"user_id": id.String()}, nil))
	require.NoError(t, err)

	u, _ := store.User(id)
	assert.Equal(t, "power", u.PlanType)
	assert.Equal(t, 1, prices.lookups)
}

func TestHandleEvent_LineItemLookupFailureIsRetryable(t *testing.T) {
	store := repotest.New()
	svc := newTestBillingEvents(store, &fakePrices{lineItemErr: errors.New("stripe down")})
	id := seedUser(t, store, "free", 0)

	ev := checkoutEvent(t, "evt_sub_3", "subscription", map[string]string{"user_id": id.String()}, nil)
	_, err := svc.HandleEvent(context.Background(), ev)
	assert.Equal(t, domain.EINTERNAL, domain.ErrorCode(err))
	assert.Empty(t, store.BillingEvents, "failed events are not marked processed")
}

func TestHandleEvent_UnknownPriceIgnored(t *testing.T) {
	store := repotest.New()
	svc := newTestBillingEvents(store, &fakePrices{})
	id := seedUser(t, store, "free", 0)

	outcome, err := svc.HandleEvent(context.Background(),
		checkoutEvent(t, "evt_sub_4", "subscription",
			map[string]string{"user_id": id.String(), "price_id": "price_mystery"}, nil))
	require.NoError(t, err)
	assert.Equal(t, EventIgnored, outcome)

	u, _ := store.User(id)
	assert.Equal(t, "free", u.PlanType)
}

func TestHandleEvent_MissingUserIgnored(t *testing.T) {
	store := repotest.New()
	svc := newTestBillingEvents(store, &fakePrices{})

	outcome, err := svc.HandleEvent(context.Background(),
		checkoutEvent(t, "evt_anon", "payment", map[string]string{"user_id": "not-a-uuid"}, nil))
	require.NoError(t, err)
	assert.Equal(t, EventIgnored, outcome)
	assert.Empty(t, store.Credits)
	assert.Contains(t, store.BillingEvents, "evt_anon")
}

func TestHandleEvent_PaymentForUnknownUserIsAcknowledged(t *testing.T) {
	store := repotest.New()
	svc := newTestBillingEvents(store, &fakePrices{})
	ghost := uuid.New()

	_, err := svc.HandleEvent(context.Background(),
		checkoutEvent(t, "evt_ghost", "payment", map[string]string{"user_id": ghost.String()}, nil))
	require.NoError(t, err)
	assert.Empty(t, store.Credits)
	assert.Contains(t, store.BillingEvents, "evt_ghost")

	// Redelivery is a duplicate, not another attempt
	outcome, err := svc.HandleEvent(context.Background(),
		checkoutEvent(t, "evt_ghost", "payment", map[string]string{"user_id": ghost.String()}, nil))
	require.NoError(t, err)
	assert.Equal(t, EventDuplicate, outcome)
}

func TestHandleEvent_SubscriptionDeleted(t *testing.T) {
	store := repotest.New()
	svc := newTestBillingEvents(store, &fakePrices{})
	id := seedUser(t, store, "pro", 40)
	u, _ := store.User(id)
	u.StripeCustomerID = domain.ToNullString("cus_9")
	store.PutUser(u)

	ev := makeEvent(t, "evt_del_1", stripe.EventTypeCustomerSubscriptionDeleted, map[string]any{
		"id":       "sub_1",
		"object":   "subscription",
		"customer": "cus_9",
	})
	outcome, err := svc.HandleEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, EventApplied, outcome)

	u, _ = store.User(id)
	assert.Equal(t, "free", u.PlanType)
	assert.Equal(t, int32(40), u.MonthlyScanCount, "downgrade keeps usage")
}

func TestHandleEvent_SubscriptionDeletedByMetadata(t *testing.T) {
	store := repotest.New()
	svc := newTestBillingEvents(store, &fakePrices{})
	id := seedUser(t, store, "starter", 0)

	ev := makeEvent(t, "evt_del_2", stripe.EventTypeCustomerSubscriptionDeleted, map[string]any{
		"id":       "sub_2",
		"object":   "subscription",
		"customer": "cus_unlinked",
		"metadata": map[string]string{"user_id": id.String()},
	})
	_, err := svc.HandleEvent(context.Background(), ev)
	require.NoError(t, err)

	u, _ := store.User(id)
	assert.Equal(t, "free", u.PlanType)
}

func TestHandleEvent_UnhandledTypeIgnored(t *testing.T) {
	store := repotest.New()
	svc := newTestBillingEvents(store, &fakePrices{})

	outcome, err := svc.HandleEvent(context.Background(),
		makeEvent(t, "evt_x", stripe.EventType("invoice.paid"), map[string]any{"id": "in_1"}))
	require.NoError(t, err)
	assert.Equal(t, EventIgnored, outcome)
	assert.Empty(t, store.BillingEvents)
}

func TestHandleEvent_DoesNotStealLinkedCustomer(t *testing.T) {
	store := repotest.New()
	svc := newTestBillingEvents(store, &fakePrices{})
	owner := seedUser(t, store, "free", 0)
	o, _ := store.User(owner)
	o.StripeCustomerID = domain.ToNullString("cus_shared")
	store.PutUser(o)

	buyer := seedUser(t, store, "free", 0)
	_, err := svc.HandleEvent(context.Background(),
		checkoutEvent(t, "evt_pay_3", "payment",
			map[string]string{"user_id": buyer.String()},
			map[string]any{"customer": "cus_shared"}))
	require.NoError(t, err)

	b, _ := store.User(buyer)
	assert.False(t, b.StripeCustomerID.Valid)
	assert.Equal(t, int32(1), store.CreditBalance(buyer))
}
