// Package stripe creates hosted checkouts and off-session charges.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/smallbiznis/yardcraft/internal/config"
	paymentadapter "github.com/smallbiznis/yardcraft/internal/payment/adapters/stripe"
	"github.com/smallbiznis/yardcraft/internal/providers/payment/domain"
	stripeapi "github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Config   config.Config
	Log      *zap.Logger
	Backends *stripeapi.Backends `optional:"true"`
}

type Provider struct {
	api      *client.API
	cfg      config.StripeConfig
	log      *zap.Logger
	disabled bool
}

func New(p Params) *Provider {
	cfg := p.Config.Stripe
	return &Provider{
		api:      client.New(cfg.SecretKey, p.Backends),
		cfg:      cfg,
		log:      p.Log.Named("providers.stripe"),
		disabled: strings.TrimSpace(cfg.SecretKey) == "",
	}
}

// Packages lists purchasable token amounts in ascending order.
func (p *Provider) Packages() []int64 {
	out := make([]int64, 0, len(p.cfg.TokenPackagePrices))
	for key := range p.cfg.TokenPackagePrices {
		if tokens, err := strconv.ParseInt(key, 10, 64); err == nil && tokens > 0 {
			out = append(out, tokens)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (p *Provider) CreateTokenCheckout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutSession, error) {
	if p.disabled {
		return domain.CheckoutSession{}, domain.ErrNotConfigured
	}
	key := strings.TrimSpace(req.Package)
	priceID, ok := p.cfg.TokenPackagePrices[key]
	if !ok {
		return domain.CheckoutSession{}, domain.ErrUnknownPackage
	}
	tokens, err := strconv.ParseInt(key, 10, 64)
	if err != nil || tokens <= 0 {
		return domain.CheckoutSession{}, domain.ErrUnknownPackage
	}

	params := p.sessionParams(ctx, req, stripeapi.CheckoutSessionModePayment, priceID)
	params.AddMetadata(paymentadapter.MetadataTokens, strconv.FormatInt(tokens, 10))
	// Save the card so auto-reload can charge it later.
	params.PaymentIntentData = &stripeapi.CheckoutSessionPaymentIntentDataParams{
		SetupFutureUsage: stripeapi.String(string(stripeapi.PaymentIntentSetupFutureUsageOffSession)),
	}
	if req.CustomerID == "" {
		params.CustomerCreation = stripeapi.String(string(stripeapi.CheckoutSessionCustomerCreationAlways))
	}
	return p.createSession(params)
}

func (p *Provider) CreateSubscriptionCheckout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutSession, error) {
	if p.disabled || p.cfg.SubscriptionPrice == "" {
		return domain.CheckoutSession{}, domain.ErrNotConfigured
	}
	params := p.sessionParams(ctx, req, stripeapi.CheckoutSessionModeSubscription, p.cfg.SubscriptionPrice)
	params.SubscriptionData = &stripeapi.CheckoutSessionSubscriptionDataParams{
		Metadata: map[string]string{
			paymentadapter.MetadataAccountID: req.AccountID.String(),
			"tier":                           p.cfg.SubscriptionTier,
		},
	}
	return p.createSession(params)
}

func (p *Provider) sessionParams(ctx context.Context, req domain.CheckoutRequest, mode stripeapi.CheckoutSessionMode, priceID string) *stripeapi.CheckoutSessionParams {
	params := &stripeapi.CheckoutSessionParams{
		Mode: stripeapi.String(string(mode)),
		LineItems: []*stripeapi.CheckoutSessionLineItemParams{{
			Price:    stripeapi.String(priceID),
			Quantity: stripeapi.Int64(1),
		}},
		SuccessURL:        stripeapi.String(p.cfg.FrontendURL + "/dashboard?checkout=success&session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:         stripeapi.String(p.cfg.FrontendURL + "/pricing?checkout=cancelled"),
		ClientReferenceID: stripeapi.String(req.AccountID.String()),
	}
	params.Context = ctx
	params.AddMetadata(paymentadapter.MetadataAccountID, req.AccountID.String())
	if req.CustomerID != "" {
		params.Customer = stripeapi.String(req.CustomerID)
	} else if req.Email != "" {
		params.CustomerEmail = stripeapi.String(req.Email)
	}
	return params
}

func (p *Provider) createSession(params *stripeapi.CheckoutSessionParams) (domain.CheckoutSession, error) {
	session, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		p.log.Error("failed to create checkout session", zap.String("mode", stripeapi.StringValue(params.Mode)), zap.Error(err))
		return domain.CheckoutSession{}, fmt.Errorf("create checkout session: %w", err)
	}
	return domain.CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

// ChargeOffSession confirms a PaymentIntent against the customer's first
// saved card. The intent carries the metadata the webhook credits from.
func (p *Provider) ChargeOffSession(ctx context.Context, charge domain.OffSessionCharge) (string, error) {
	if p.disabled {
		return "", domain.ErrNotConfigured
	}
	if charge.CustomerID == "" || charge.Tokens <= 0 {
		return "", domain.ErrChargeFailed
	}

	methodID, err := p.defaultPaymentMethod(ctx, charge.CustomerID)
	if err != nil {
		return "", err
	}

	params := &stripeapi.PaymentIntentParams{
		Amount:        stripeapi.Int64(charge.Tokens * p.cfg.TokenUnitAmount),
		Currency:      stripeapi.String(p.cfg.Currency),
		Customer:      stripeapi.String(charge.CustomerID),
		PaymentMethod: stripeapi.String(methodID),
		OffSession:    stripeapi.Bool(true),
		Confirm:       stripeapi.Bool(true),
		Description:   stripeapi.String(fmt.Sprintf("Auto-reload of %d tokens", charge.Tokens)),
	}
	params.Context = ctx
	params.SetIdempotencyKey(charge.IdempotencyKey)
	params.AddMetadata(paymentadapter.MetadataAccountID, charge.AccountID.String())
	params.AddMetadata(paymentadapter.MetadataTokens, strconv.FormatInt(charge.Tokens, 10))
	params.AddMetadata(paymentadapter.MetadataKind, paymentadapter.KindAutoReload)

	intent, err := p.api.PaymentIntents.New(params)
	if err != nil {
		var stripeErr *stripeapi.Error
		if errors.As(err, &stripeErr) && stripeErr.Type == stripeapi.ErrorTypeCard {
			return "", fmt.Errorf("%w: %s", domain.ErrChargeFailed, stripeErr.Code)
		}
		return "", fmt.Errorf("create payment intent: %w", err)
	}
	p.log.Info("auto reload charge submitted",
		zap.String("account_id", charge.AccountID.String()),
		zap.String("payment_intent_id", intent.ID),
		zap.String("status", string(intent.Status)),
	)
	return intent.ID, nil
}

func (p *Provider) defaultPaymentMethod(ctx context.Context, customerID string) (string, error) {
	params := &stripeapi.CustomerListPaymentMethodsParams{Customer: stripeapi.String(customerID)}
	params.Context = ctx
	params.Limit = stripeapi.Int64(1)
	iter := p.api.Customers.ListPaymentMethods(params)
	for iter.Next() {
		if pm := iter.PaymentMethod(); pm != nil && pm.ID != "" {
			return pm.ID, nil
		}
	}
	if err := iter.Err(); err != nil {
		return "", fmt.Errorf("list payment methods: %w", err)
	}
	return "", fmt.Errorf("%w: no saved payment method", domain.ErrChargeFailed)
}

var _ domain.Provider = (*Provider)(nil)
