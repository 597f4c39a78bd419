package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/yardcraft/internal/auth"
	"github.com/smallbiznis/yardcraft/internal/clock"
	"github.com/smallbiznis/yardcraft/internal/config"
	generationdomain "github.com/smallbiznis/yardcraft/internal/generation/domain"
	"github.com/smallbiznis/yardcraft/internal/migration"
	"github.com/smallbiznis/yardcraft/internal/observability"
	"github.com/smallbiznis/yardcraft/internal/scheduler"
	"github.com/smallbiznis/yardcraft/internal/server"
	"github.com/smallbiznis/yardcraft/pkg/db"
	"github.com/stripe/stripe-go/v79/webhook"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

const webhookSecret = "whsec_e2e"

type testEnv struct {
	app         *fx.App
	db          *gorm.DB
	baseURL     string
	verifier    *auth.Verifier
	generations generationdomain.Service
	httpSrv     *httptest.Server
	upstream    *httptest.Server
	dir         string
}

var env *testEnv

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	setDefaultEnv()

	var err error
	env, err = startEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to start test environment:", err)
		os.Exit(1)
	}

	code := m.Run()
	env.shutdown()
	os.Exit(code)
}

// fakeUpstream answers for both the maps API and the image model.
func fakeUpstream() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/maps/api/streetview/metadata":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":"OK"}`))
		case strings.HasPrefix(r.URL.Path, "/maps/api/"):
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write([]byte{0xff, 0xd8, 0xff})
		case r.URL.Path == "/v1/generations":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":"succeeded","output_url":"https://cdn.example.com/design.png"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func startEnv() (*testEnv, error) {
	dir, err := os.MkdirTemp("", "yardcraft-e2e-*")
	if err != nil {
		return nil, err
	}
	upstream := fakeUpstream()

	cfg := config.Config{
		AppName:       "yardcraft-e2e",
		Environment:   "test",
		HTTPAddr:      "127.0.0.1:0",
		AuthJWTSecret: "e2e-secret",
		DBType:        "sqlite",
		DBName:        filepath.Join(dir, "yardcraft.db"),
		DBMaxOpenConn: 1,
		Stripe: config.StripeConfig{
			WebhookSecret:    webhookSecret,
			WebhookTolerance: 5 * time.Minute,
			SubscriptionTier: "pro",
			Currency:         "usd",
		},
		Maps:  config.MapsConfig{APIKey: "maps-key", BaseURL: upstream.URL},
		Model: config.ModelConfig{Endpoint: upstream.URL, APIKey: "model-key"},
	}

	var (
		engine      *gin.Engine
		dbConn      *gorm.DB
		verifier    *auth.Verifier
		generations generationdomain.Service
	)

	app := fx.New(
		fx.NopLogger,
		fx.Supply(cfg),
		fx.Provide(func() *config.GenerationPolicyHolder {
			return config.NewStaticPolicyHolder(config.DefaultGenerationPolicy())
		}),
		observability.Module,
		db.Module,
		clock.Module,
		migration.Module,
		fx.Provide(func() (*snowflake.Node, error) {
			return snowflake.NewNode(1)
		}),
		server.Module,
		scheduler.Module,
		fx.Populate(&engine, &dbConn, &verifier, &generations),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		upstream.Close()
		return nil, err
	}

	httpSrv := httptest.NewServer(engine)
	return &testEnv{
		app:         app,
		db:          dbConn,
		baseURL:     httpSrv.URL,
		verifier:    verifier,
		generations: generations,
		httpSrv:     httpSrv,
		upstream:    upstream,
		dir:         dir,
	}, nil
}

func (e *testEnv) shutdown() {
	if e == nil {
		return
	}
	if e.httpSrv != nil {
		e.httpSrv.Close()
	}
	if e.app != nil {
		_ = e.app.Stop(context.Background())
	}
	if e.upstream != nil {
		e.upstream.Close()
	}
	_ = os.RemoveAll(e.dir)
}

func setDefaultEnv() {
	setEnvIfEmpty("LOG_LEVEL", "error")
	setEnvIfEmpty("OTEL_ENABLED", "false")
}

func setEnvIfEmpty(key, value string) {
	if strings.TrimSpace(os.Getenv(key)) != "" {
		return
	}
	_ = os.Setenv(key, value)
}

func TestE2E_HealthCheck(t *testing.T) {
	resp, err := http.Get(env.baseURL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
}

// Trial covers the first three areas, the fourth is denied, a token
// purchase arrives through the webhook, and the next area spends one token.
func TestE2E_TrialThenPurchase(t *testing.T) {
	subject := fmt.Sprintf("auth0|e2e-%d", time.Now().UnixNano())
	headers := bearer(t, subject, "customer")

	resp, body := doJSON(t, http.MethodPost, "/api/v1/accounts", map[string]any{"email": "e2e@example.com"}, headers)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 for registration, got %d: %s", resp.StatusCode, body)
	}
	var registered struct {
		Data struct {
			ID             string `json:"id"`
			TrialRemaining int    `json:"trial_remaining"`
		} `json:"data"`
	}
	decode(t, body, &registered)
	if registered.Data.TrialRemaining != 3 {
		t.Fatalf("expected trial grant of 3, got %d", registered.Data.TrialRemaining)
	}

	resp, body = doJSON(t, http.MethodPost, "/api/v1/generations", submission("front_yard", "backyard", "patio"), headers)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202 for trial submission, got %d: %s", resp.StatusCode, body)
	}
	var submitted struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	decode(t, body, &submitted)
	drain(t)

	generation := getGeneration(t, submitted.Data.ID, headers)
	if generation.Status != "completed" {
		t.Fatalf("expected completed generation, got %s", generation.Status)
	}
	for _, area := range generation.Areas {
		if area.ResultURL == "" {
			t.Fatalf("area %s has no result url", area.AreaType)
		}
	}

	balance := getBalance(t, headers)
	if balance.TrialRemaining != 0 || balance.TokenBalance != 0 {
		t.Fatalf("expected exhausted trial and zero tokens, got %+v", balance)
	}

	resp, body = doJSON(t, http.MethodPost, "/api/v1/generations", submission("walkway"), headers)
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("expected 402 once funding is exhausted, got %d: %s", resp.StatusCode, body)
	}
	var denied struct {
		Error struct {
			Type     string   `json:"type"`
			Guidance []string `json:"guidance"`
		} `json:"error"`
	}
	decode(t, body, &denied)
	if denied.Error.Type != "authorization_denied" || len(denied.Error.Guidance) == 0 {
		t.Fatalf("expected denial with guidance, got %s", body)
	}

	event := checkoutCompleted("evt_e2e_"+registered.Data.ID, "cs_e2e_"+registered.Data.ID, registered.Data.ID, 50)
	if status := sendWebhook(t, event); status != "accepted" {
		t.Fatalf("expected accepted webhook, got %s", status)
	}
	if status := sendWebhook(t, event); status != "duplicate" {
		t.Fatalf("expected duplicate webhook on redelivery, got %s", status)
	}
	if balance := getBalance(t, headers); balance.TokenBalance != 50 {
		t.Fatalf("expected 50 tokens after purchase, got %d", balance.TokenBalance)
	}

	resp, body = doJSON(t, http.MethodPost, "/api/v1/generations", submission("walkway"), headers)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202 for token submission, got %d: %s", resp.StatusCode, body)
	}
	drain(t)

	if balance := getBalance(t, headers); balance.TokenBalance != 49 {
		t.Fatalf("expected 49 tokens after one area, got %d", balance.TokenBalance)
	}

	resp, body = doJSON(t, http.MethodGet, "/api/v1/ledger", nil, headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for ledger, got %d: %s", resp.StatusCode, body)
	}
	var ledger struct {
		Data []struct {
			TransactionType string `json:"transaction_type"`
		} `json:"data"`
	}
	decode(t, body, &ledger)
	if len(ledger.Data) != 3 {
		t.Fatalf("expected trial debit, purchase and token debit, got %d rows: %s", len(ledger.Data), body)
	}
}

func TestE2E_InvalidWebhookSignature(t *testing.T) {
	req, err := http.NewRequest(http.MethodPost, env.baseURL+"/webhooks/stripe", bytes.NewBufferString(`{"id":"evt_forged"}`))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for forged signature, got %d", resp.StatusCode)
	}
	var count int64
	if err := env.db.Table("payment_events").Where("provider_event_id = ?", "evt_forged").Count(&count).Error; err != nil {
		t.Fatalf("count payment events: %v", err)
	}
	if count != 0 {
		t.Fatalf("forged event must not be journaled")
	}
}

func TestE2E_AdminRequiresOperator(t *testing.T) {
	resp, body := doJSON(t, http.MethodPost, "/admin/generations/recover", nil, bearer(t, "auth0|someone", "customer"))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for customer, got %d: %s", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodPost, "/admin/generations/recover", nil, bearer(t, "ops|e2e", "operator"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for operator, got %d: %s", resp.StatusCode, body)
	}
}

type generationView struct {
	Status string `json:"status"`
	Areas  []struct {
		AreaType  string `json:"area_type"`
		Status    string `json:"status"`
		ResultURL string `json:"result_url"`
	} `json:"areas"`
}

type balanceView struct {
	TrialRemaining int   `json:"trial_remaining"`
	TokenBalance   int64 `json:"token_balance"`
}

func submission(areas ...string) map[string]any {
	items := make([]map[string]any, 0, len(areas))
	for _, area := range areas {
		items = append(items, map[string]any{"area_type": area, "style": "xeriscape"})
	}
	return map[string]any{
		"address": "742 Evergreen Terrace, Springfield",
		"areas":   items,
	}
}

func getGeneration(t *testing.T, id string, headers map[string]string) generationView {
	t.Helper()
	resp, body := doJSON(t, http.MethodGet, "/api/v1/generations/"+id, nil, headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for generation, got %d: %s", resp.StatusCode, body)
	}
	var out struct {
		Data generationView `json:"data"`
	}
	decode(t, body, &out)
	return out.Data
}

func getBalance(t *testing.T, headers map[string]string) balanceView {
	t.Helper()
	resp, body := doJSON(t, http.MethodGet, "/api/v1/balance", nil, headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for balance, got %d: %s", resp.StatusCode, body)
	}
	var out struct {
		Data balanceView `json:"data"`
	}
	decode(t, body, &out)
	return out.Data
}

func drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := env.generations.Drain(ctx); err != nil {
		t.Fatalf("drain generations: %v", err)
	}
}

func bearer(t *testing.T, subject, role string) map[string]string {
	t.Helper()
	token, err := env.verifier.Issue(subject, role, "", time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

func checkoutCompleted(eventID, sessionID, accountID string, tokens int) map[string]any {
	return map[string]any{
		"id":      eventID,
		"object":  "event",
		"type":    "checkout.session.completed",
		"created": time.Now().Unix(),
		"data": map[string]any{
			"object": map[string]any{
				"id":             sessionID,
				"object":         "checkout.session",
				"mode":           "payment",
				"payment_status": "paid",
				"customer":       "cus_" + accountID,
				"metadata": map[string]any{
					"account_id": accountID,
					"tokens":     fmt.Sprint(tokens),
				},
			},
		},
	}
}

func sendWebhook(t *testing.T, event map[string]any) string {
	t.Helper()
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("encode event: %v", err)
	}
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    webhookSecret,
		Timestamp: time.Now(),
	})

	req, err := http.NewRequest(http.MethodPost, env.baseURL+"/webhooks/stripe", bytes.NewReader(signed.Payload))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Stripe-Signature", signed.Header)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("webhook request failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for webhook, got %d: %s", resp.StatusCode, body)
	}
	var out struct {
		Status string `json:"status"`
	}
	decode(t, body, &out)
	return out.Status
}

func doJSON(t *testing.T, method, path string, payload any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("encode json: %v", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, env.baseURL+path, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, raw
}

func decode(t *testing.T, body []byte, out any) {
	t.Helper()
	if err := json.Unmarshal(body, out); err != nil {
		t.Fatalf("decode %s: %v", body, err)
	}
}
