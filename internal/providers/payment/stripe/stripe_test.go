package stripe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/smallbiznis/yardcraft/internal/config"
	"github.com/smallbiznis/yardcraft/internal/providers/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripeapi "github.com/stripe/stripe-go/v79"
	"go.uber.org/zap"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	backend := stripeapi.GetBackendWithConfig(stripeapi.APIBackend, &stripeapi.BackendConfig{
		URL:               stripeapi.String(srv.URL),
		HTTPClient:        srv.Client(),
		LeveledLogger:     &stripeapi.LeveledLogger{Level: stripeapi.LevelNull},
		MaxNetworkRetries: stripeapi.Int64(0),
	})
	cfg := config.Config{Stripe: config.StripeConfig{
		SecretKey:          "sk_test_123",
		FrontendURL:        "https://app.example",
		SubscriptionPrice:  "price_sub",
		SubscriptionTier:   "pro",
		TokenPackagePrices: map[string]string{"50": "price_50", "200": "price_200"},
		TokenUnitAmount:    100,
		Currency:           "usd",
	}}
	return New(Params{
		Config:   cfg,
		Log:      zap.NewNop(),
		Backends: &stripeapi.Backends{API: backend, Connect: backend, Uploads: backend},
	})
}

func TestCreateTokenCheckout(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "payment", r.PostForm.Get("mode"))
		assert.Equal(t, "price_50", r.PostForm.Get("line_items[0][price]"))
		assert.Equal(t, "50", r.PostForm.Get("metadata[tokens]"))
		assert.Equal(t, "42", r.PostForm.Get("metadata[account_id]"))
		assert.Equal(t, "off_session", r.PostForm.Get("payment_intent_data[setup_future_usage]"))
		assert.Equal(t, "always", r.PostForm.Get("customer_creation"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_test_1","object":"checkout.session","url":"https://checkout.stripe.com/c/cs_test_1"}`))
	})

	session, err := p.CreateTokenCheckout(context.Background(), domain.CheckoutRequest{
		AccountID: 42,
		Email:     "owner@example.com",
		Package:   "50",
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", session.ID)
	assert.Equal(t, "https://checkout.stripe.com/c/cs_test_1", session.URL)
}

func TestCreateTokenCheckoutUnknownPackage(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("stripe should not be called")
	})
	_, err := p.CreateTokenCheckout(context.Background(), domain.CheckoutRequest{AccountID: 42, Package: "7"})
	assert.ErrorIs(t, err, domain.ErrUnknownPackage)
	assert.Equal(t, []int64{50, 200}, p.Packages())
}

func TestCreateSubscriptionCheckout(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "subscription", r.PostForm.Get("mode"))
		assert.Equal(t, "price_sub", r.PostForm.Get("line_items[0][price]"))
		assert.Equal(t, "42", r.PostForm.Get("subscription_data[metadata][account_id]"))
		assert.Equal(t, "cus_1", r.PostForm.Get("customer"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_sub","object":"checkout.session","url":"https://checkout.stripe.com/c/cs_sub"}`))
	})

	session, err := p.CreateSubscriptionCheckout(context.Background(), domain.CheckoutRequest{AccountID: 42, CustomerID: "cus_1"})
	require.NoError(t, err)
	assert.Equal(t, "cs_sub", session.ID)
}

func TestChargeOffSession(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/customers/cus_1/payment_methods":
			_, _ = w.Write([]byte(`{"object":"list","url":"/v1/customers/cus_1/payment_methods","has_more":false,"data":[{"id":"pm_1","object":"payment_method"}]}`))
		case "/v1/payment_intents":
			assert.Equal(t, "reload-key", r.Header.Get("Idempotency-Key"))
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "2000", r.PostForm.Get("amount"))
			assert.Equal(t, "pm_1", r.PostForm.Get("payment_method"))
			assert.Equal(t, "true", r.PostForm.Get("off_session"))
			assert.Equal(t, "auto_reload", r.PostForm.Get("metadata[kind]"))
			assert.Equal(t, "20", r.PostForm.Get("metadata[tokens]"))
			_, _ = w.Write([]byte(`{"id":"pi_1","object":"payment_intent","status":"succeeded"}`))
		default:
			t.Errorf("unexpected call to %s", r.URL.Path)
		}
	})

	id, err := p.ChargeOffSession(context.Background(), domain.OffSessionCharge{
		AccountID:      42,
		CustomerID:     "cus_1",
		Tokens:         20,
		IdempotencyKey: "reload-key",
	})
	require.NoError(t, err)
	assert.Equal(t, "pi_1", id)
}

func TestChargeOffSessionWithoutCard(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","url":"/v1/customers/cus_1/payment_methods","has_more":false,"data":[]}`))
	})
	_, err := p.ChargeOffSession(context.Background(), domain.OffSessionCharge{AccountID: 42, CustomerID: "cus_1", Tokens: 20, IdempotencyKey: "k"})
	assert.ErrorIs(t, err, domain.ErrChargeFailed)
}

func TestDisabledWithoutSecretKey(t *testing.T) {
	p := New(Params{Config: config.Config{}, Log: zap.NewNop()})
	_, err := p.CreateTokenCheckout(context.Background(), domain.CheckoutRequest{AccountID: 1, Package: "50"})
	assert.ErrorIs(t, err, domain.ErrNotConfigured)
}
