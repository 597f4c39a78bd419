package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	accountdomain "github.com/smallbiznis/yardcraft/internal/account/domain"
	"github.com/smallbiznis/yardcraft/internal/auth"
	"github.com/smallbiznis/yardcraft/internal/authorization"
	"github.com/smallbiznis/yardcraft/internal/clock"
	"github.com/smallbiznis/yardcraft/internal/config"
	"github.com/smallbiznis/yardcraft/internal/funding"
	generationdomain "github.com/smallbiznis/yardcraft/internal/generation/domain"
	ledgerdomain "github.com/smallbiznis/yardcraft/internal/ledger/domain"
	paymentdomain "github.com/smallbiznis/yardcraft/internal/payment/domain"
	providerdomain "github.com/smallbiznis/yardcraft/internal/providers/payment/domain"
	"github.com/smallbiznis/yardcraft/internal/testutil"
	"github.com/smallbiznis/yardcraft/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeAccountService struct {
	accountdomain.Service
	accounts    map[string]accountdomain.Account
	deactivated []snowflake.ID
}

func (f *fakeAccountService) Register(_ context.Context, req accountdomain.RegisterRequest) (accountdomain.Account, bool, error) {
	if existing, ok := f.accounts[req.ExternalID]; ok {
		return existing, false, nil
	}
	if req.Email == "" {
		return accountdomain.Account{}, false, accountdomain.ErrInvalidEmail
	}
	account := accountdomain.Account{
		ID:             snowflake.ID(int64(len(f.accounts) + 100)),
		ExternalID:     req.ExternalID,
		Email:          req.Email,
		TrialRemaining: 3,
	}
	f.accounts[req.ExternalID] = account
	return account, true, nil
}

func (f *fakeAccountService) GetByExternalID(_ context.Context, externalID string) (accountdomain.Account, error) {
	account, ok := f.accounts[externalID]
	if !ok {
		return accountdomain.Account{}, accountdomain.ErrNotFound
	}
	return account, nil
}

func (f *fakeAccountService) Balance(_ context.Context, id snowflake.ID) (accountdomain.Balance, error) {
	for _, account := range f.accounts {
		if account.ID == id {
			return account.Balance(), nil
		}
	}
	return accountdomain.Balance{}, accountdomain.ErrNotFound
}

func (f *fakeAccountService) Deactivate(_ context.Context, id snowflake.ID) error {
	f.deactivated = append(f.deactivated, id)
	return nil
}

type fakeLedgerService struct {
	ledgerdomain.Service
	adjustments []ledgerdomain.Adjustment
}

func (f *fakeLedgerService) Adjust(_ context.Context, req ledgerdomain.Adjustment) (ledgerdomain.Transaction, error) {
	f.adjustments = append(f.adjustments, req)
	return ledgerdomain.Transaction{AccountID: req.AccountID, Amount: req.Delta}, nil
}

func (f *fakeLedgerService) ListTransactions(context.Context, snowflake.ID, pagination.Pagination) (ledgerdomain.ListTransactionsResponse, error) {
	return ledgerdomain.ListTransactionsResponse{}, nil
}

type fakeGenerationService struct {
	submitErr error
	submitted int
	cutoffs   []time.Time
}

func (f *fakeGenerationService) Submit(_ context.Context, accountID snowflake.ID, req generationdomain.SubmitRequest) (generationdomain.Request, error) {
	if f.submitErr != nil {
		return generationdomain.Request{}, f.submitErr
	}
	f.submitted++
	areas := make([]generationdomain.AreaItem, 0, len(req.Areas))
	for i, area := range req.Areas {
		areas = append(areas, generationdomain.AreaItem{
			ID:       snowflake.ID(int64(900 + i)),
			AreaType: area.AreaType,
			Style:    area.Style,
			Status:   generationdomain.AreaPending,
		})
	}
	return generationdomain.Request{
		ID:           snowflake.ID(700),
		AccountID:    accountID,
		Address:      req.Address,
		Status:       generationdomain.StatusPending,
		UnitsDebited: len(areas),
		Areas:        areas,
	}, nil
}

func (f *fakeGenerationService) Get(_ context.Context, accountID, id snowflake.ID) (generationdomain.Request, error) {
	if id != 700 {
		return generationdomain.Request{}, generationdomain.ErrNotFound
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return generationdomain.Request{
		ID:        id,
		AccountID: accountID,
		Status:    generationdomain.StatusPartiallyCompleted,
		Areas: []generationdomain.AreaItem{
			{ID: 901, Status: generationdomain.AreaCompleted, ResultURL: "https://cdn.example.com/1.png"},
			{ID: 902, Status: generationdomain.AreaFailed, ErrorCode: generationdomain.FailureModel, RefundedAt: &now},
		},
	}, nil
}

func (f *fakeGenerationService) List(context.Context, snowflake.ID, pagination.Pagination) (generationdomain.ListResponse, error) {
	return generationdomain.ListResponse{}, nil
}

func (f *fakeGenerationService) RecoverStale(_ context.Context, olderThan time.Time) (generationdomain.RecoveryReport, error) {
	f.cutoffs = append(f.cutoffs, olderThan)
	return generationdomain.RecoveryReport{Interrupted: 1, Refunded: 1, Finalized: 1}, nil
}

func (f *fakeGenerationService) Drain(context.Context) error { return nil }

type fakeWebhookService struct {
	outcomes []paymentdomain.Outcome
	err      error
}

func (f *fakeWebhookService) Handle(_ context.Context, _ []byte, signature string) (paymentdomain.Outcome, error) {
	if f.err != nil {
		return "", f.err
	}
	if signature == "" {
		return "", paymentdomain.ErrInvalidSignature
	}
	outcome := f.outcomes[0]
	f.outcomes = f.outcomes[1:]
	return outcome, nil
}

type fakeProvider struct {
	providerdomain.Provider
	requests []providerdomain.CheckoutRequest
}

func (f *fakeProvider) CreateTokenCheckout(_ context.Context, req providerdomain.CheckoutRequest) (providerdomain.CheckoutSession, error) {
	if req.Package != "50" {
		return providerdomain.CheckoutSession{}, providerdomain.ErrUnknownPackage
	}
	f.requests = append(f.requests, req)
	return providerdomain.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.com/c/pay/cs_test_1"}, nil
}

type testHarness struct {
	engine      *gin.Engine
	verifier    *auth.Verifier
	clock       *clock.FakeClock
	accounts    *fakeAccountService
	ledger      *fakeLedgerService
	generations *fakeGenerationService
	webhooks    *fakeWebhookService
	provider    *fakeProvider
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	verifier, err := auth.NewVerifier(config.Config{AuthJWTSecret: "test-secret"}, fake)
	require.NoError(t, err)
	enforcer, err := authorization.NewEnforcer(testutil.NewDB(t))
	require.NoError(t, err)

	h := &testHarness{
		engine:   NewEngine(nil),
		verifier: verifier,
		clock:    fake,
		accounts: &fakeAccountService{accounts: map[string]accountdomain.Account{
			"auth0|alice": {ID: 42, ExternalID: "auth0|alice", Email: "alice@example.com", TrialRemaining: 0},
		}},
		ledger:      &fakeLedgerService{},
		generations: &fakeGenerationService{},
		webhooks:    &fakeWebhookService{},
		provider:    &fakeProvider{},
	}

	NewServer(ServerParams{
		Gin:             h.engine,
		Cfg:             config.Config{},
		Policy:          config.NewStaticPolicyHolder(config.DefaultGenerationPolicy()),
		Clock:           fake,
		Verifier:        verifier,
		AuthzSvc:        authorization.NewService(authorization.Params{Log: zap.NewNop(), Enforcer: enforcer}),
		AccountSvc:      h.accounts,
		LedgerSvc:       h.ledger,
		GenerationSvc:   h.generations,
		WebhookSvc:      h.webhooks,
		PaymentProvider: h.provider,
	})
	return h
}

func (h *testHarness) token(t *testing.T, subject, role string) string {
	t.Helper()
	token, err := h.verifier.Issue(subject, role, subject+"@example.com", time.Hour)
	require.NoError(t, err)
	return token
}

func (h *testHarness) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var payload []byte
	if body != nil {
		payload, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Error
}

var submitBody = map[string]any{
	"address": "1600 Amphitheatre Pkwy, Mountain View, CA",
	"areas": []map[string]any{
		{"area_type": "front_yard", "style": "modern"},
		{"area_type": "backyard", "style": "japanese"},
	},
}

func TestSubmitRequiresBearerToken(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodPost, "/api/v1/generations", "", submitBody)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthorized", decodeError(t, w).Type)
	assert.Zero(t, h.generations.submitted)
}

func TestSubmitAccepted(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodPost, "/api/v1/generations", h.token(t, "auth0|alice", "customer"), submitBody)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var resp struct {
		Data struct {
			ID     string `json:"id"`
			Status string `json:"status"`
			Areas  []struct {
				AreaType string `json:"area_type"`
				Status   string `json:"status"`
			} `json:"areas"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "pending", resp.Data.Status)
	require.Len(t, resp.Data.Areas, 2)
	assert.Equal(t, "front_yard", resp.Data.Areas[0].AreaType)
}

func TestSubmitDeniedReturnsGuidance(t *testing.T) {
	h := newHarness(t)
	h.generations.submitErr = &funding.DeniedError{
		Reasons:  []string{"no trial credits remaining"},
		Guidance: []funding.Guidance{funding.GuidanceBuyTokens, funding.GuidanceSubscribe},
	}

	w := h.do(http.MethodPost, "/api/v1/generations", h.token(t, "auth0|alice", "customer"), submitBody)
	require.Equal(t, http.StatusPaymentRequired, w.Code)
	payload := decodeError(t, w)
	assert.Equal(t, "authorization_denied", payload.Type)
	assert.Equal(t, []funding.Guidance{funding.GuidanceBuyTokens, funding.GuidanceSubscribe}, payload.Guidance)
}

func TestSubmitInsufficientFunds(t *testing.T) {
	h := newHarness(t)
	h.generations.submitErr = ledgerdomain.ErrInsufficientFunds

	w := h.do(http.MethodPost, "/api/v1/generations", h.token(t, "auth0|alice", "customer"), submitBody)
	require.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, "insufficient_funds", decodeError(t, w).Type)
}

func TestSubmitShortfallSuggestsFewerAreas(t *testing.T) {
	h := newHarness(t)
	h.generations.submitErr = &ledgerdomain.ShortfallError{Source: funding.SourceTrial, Available: 1, Requested: 2}

	w := h.do(http.MethodPost, "/api/v1/generations", h.token(t, "auth0|alice", "customer"), submitBody)
	require.Equal(t, http.StatusPaymentRequired, w.Code)
	payload := decodeError(t, w)
	assert.Equal(t, "insufficient_funds", payload.Type)
	assert.Equal(t, []funding.Guidance{funding.GuidanceReduceAreas, funding.GuidanceBuyTokens, funding.GuidanceSubscribe}, payload.Guidance)
	require.NotNil(t, payload.Funding)
	assert.Equal(t, "trial", payload.Funding.Source)
	assert.EqualValues(t, 1, payload.Funding.Available)
	assert.Equal(t, 2, payload.Funding.Requested)
	assert.Equal(t, []string{"trial covers 1 of 2 requested areas"}, payload.Reasons)
}

func TestSubmitValidationError(t *testing.T) {
	h := newHarness(t)
	h.generations.submitErr = &generationdomain.ValidationError{Field: "areas", Message: "at least one area is required"}

	w := h.do(http.MethodPost, "/api/v1/generations", h.token(t, "auth0|alice", "customer"), submitBody)
	require.Equal(t, http.StatusBadRequest, w.Code)
	payload := decodeError(t, w)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "areas", payload.Errors[0].Field)
}

func TestUnregisteredCallerGetsNotFound(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodGet, "/api/v1/balance", h.token(t, "auth0|nobody", "customer"), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetGenerationShowsRefundSignal(t *testing.T) {
	h := newHarness(t)
	token := h.token(t, "auth0|alice", "customer")

	w := h.do(http.MethodGet, "/api/v1/generations/700", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data struct {
			Areas []struct {
				Status   string `json:"status"`
				Refunded bool   `json:"refunded"`
			} `json:"areas"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data.Areas, 2)
	assert.False(t, resp.Data.Areas[0].Refunded)
	assert.True(t, resp.Data.Areas[1].Refunded)

	w = h.do(http.MethodGet, "/api/v1/generations/701", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRegisterAccountIsIdempotent(t *testing.T) {
	h := newHarness(t)
	token := h.token(t, "auth0|carol", "customer")

	w := h.do(http.MethodPost, "/api/v1/accounts", token, map[string]string{})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = h.do(http.MethodPost, "/api/v1/accounts", token, map[string]string{"email": "other@example.com"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "auth0|carol@example.com", h.accounts.accounts["auth0|carol"].Email)
}

func TestTokenCheckout(t *testing.T) {
	h := newHarness(t)
	token := h.token(t, "auth0|alice", "customer")

	w := h.do(http.MethodPost, "/api/v1/checkout/tokens", token, map[string]string{"package": "50"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, h.provider.requests, 1)
	assert.Equal(t, snowflake.ID(42), h.provider.requests[0].AccountID)

	w = h.do(http.MethodPost, "/api/v1/checkout/tokens", token, map[string]string{"package": "77"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(http.MethodPost, "/api/v1/checkout/tokens", token, map[string]string{"package": "lots"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCustomerCannotUseAdminRoutes(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodPost, "/admin/accounts/42/adjust", h.token(t, "auth0|alice", "customer"), map[string]any{"delta": 10, "reason": "gift"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, h.ledger.adjustments)
}

func TestOperatorAdjustAndRecover(t *testing.T) {
	h := newHarness(t)
	token := h.token(t, "ops|1", "operator")

	w := h.do(http.MethodPost, "/admin/accounts/42/adjust", token, map[string]any{"delta": 10, "reason": "support credit"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, h.ledger.adjustments, 1)
	assert.Equal(t, int64(10), h.ledger.adjustments[0].Delta)

	w = h.do(http.MethodPost, "/admin/generations/recover", token, map[string]any{"older_than_seconds": 600})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, h.generations.cutoffs, 1)
	assert.Equal(t, h.clock.Now().Add(-10*time.Minute), h.generations.cutoffs[0])

	w = h.do(http.MethodPost, "/admin/accounts/42/deactivate", token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []snowflake.ID{42}, h.accounts.deactivated)
}

func TestStripeWebhookOutcomes(t *testing.T) {
	h := newHarness(t)
	h.webhooks.outcomes = []paymentdomain.Outcome{paymentdomain.OutcomeAccepted, paymentdomain.OutcomeDuplicate}

	send := func(signature string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewBufferString(`{"id":"evt_1"}`))
		if signature != "" {
			req.Header.Set("Stripe-Signature", signature)
		}
		w := httptest.NewRecorder()
		h.engine.ServeHTTP(w, req)
		return w
	}

	w := send("t=1,v1=abc")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"accepted"}`, w.Body.String())

	w = send("t=1,v1=abc")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"duplicate"}`, w.Body.String())

	w = send("")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStripeWebhookUnknownAccountAcknowledged(t *testing.T) {
	h := newHarness(t)
	h.webhooks.err = paymentdomain.ErrInvalidAccount

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewBufferString(`{}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ignored"}`, w.Body.String())
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	w := h.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
