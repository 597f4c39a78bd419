package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/yardcraft/internal/account/domain"
	"github.com/smallbiznis/yardcraft/internal/config"
	paymentdomain "github.com/smallbiznis/yardcraft/internal/payment/domain"
	stripeapi "github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

const providerName = "stripe"

// Metadata keys written on checkout sessions and payment intents.
const (
	MetadataAccountID = "account_id"
	MetadataTokens    = "tokens"
	MetadataKind      = "kind"
	KindAutoReload    = "auto_reload"
)

type Adapter struct {
	webhookSecret string
	tolerance     time.Duration
	defaultTier   string
}

func NewAdapter(cfg config.Config) *Adapter {
	tolerance := cfg.Stripe.WebhookTolerance
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &Adapter{
		webhookSecret: cfg.Stripe.WebhookSecret,
		tolerance:     tolerance,
		defaultTier:   cfg.Stripe.SubscriptionTier,
	}
}

func (a *Adapter) Provider() string { return providerName }

func (a *Adapter) Parse(ctx context.Context, payload []byte, signature string) (*paymentdomain.PaymentEvent, error) {
	if strings.TrimSpace(a.webhookSecret) == "" {
		return nil, paymentdomain.ErrNotConfigured
	}
	if strings.TrimSpace(signature) == "" {
		return nil, paymentdomain.ErrInvalidSignature
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, a.webhookSecret, webhook.ConstructEventOptions{
		Tolerance:                a.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if errors.Is(err, webhook.ErrNotSigned) ||
			errors.Is(err, webhook.ErrInvalidHeader) ||
			errors.Is(err, webhook.ErrNoValidSignature) ||
			errors.Is(err, webhook.ErrTooOld) {
			return nil, paymentdomain.ErrInvalidSignature
		}
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" || event.Data == nil {
		return nil, paymentdomain.ErrInvalidEvent
	}

	base := paymentdomain.PaymentEvent{
		Provider:        providerName,
		ProviderEventID: event.ID,
		ProviderType:    string(event.Type),
		OccurredAt:      timestamp(event.Created),
		RawPayload:      payload,
	}

	switch string(event.Type) {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		return a.parseCheckoutSession(base, event.Data.Raw)
	case "payment_intent.succeeded":
		return a.parsePaymentIntent(base, event.Data.Raw)
	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		return a.parseSubscription(base, event.Data.Raw, string(event.Type) == "customer.subscription.deleted")
	default:
		return &base, paymentdomain.ErrEventIgnored
	}
}

func (a *Adapter) parseCheckoutSession(base paymentdomain.PaymentEvent, raw json.RawMessage) (*paymentdomain.PaymentEvent, error) {
	var session stripeapi.CheckoutSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if session.ID == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	accountID, err := parseAccountID(session.Metadata, session.ClientReferenceID)
	if err != nil {
		return nil, err
	}
	base.AccountID = accountID
	base.Reference = session.ID
	if session.Customer != nil {
		base.StripeCustomerID = session.Customer.ID
	}

	switch session.Mode {
	case stripeapi.CheckoutSessionModePayment:
		if session.PaymentStatus != stripeapi.CheckoutSessionPaymentStatusPaid {
			// Delayed payment methods settle later through async_payment_succeeded.
			return &base, paymentdomain.ErrEventIgnored
		}
		tokens, err := parseTokens(session.Metadata)
		if err != nil {
			return nil, err
		}
		base.Type = paymentdomain.EventTypeTokenPurchase
		base.Tokens = tokens
		return &base, nil
	case stripeapi.CheckoutSessionModeSubscription:
		change := &paymentdomain.SubscriptionChange{
			Status: accountdomain.SubscriptionActive,
			Tier:   a.tierFrom(session.Metadata),
		}
		if session.Subscription != nil {
			change.SubscriptionID = session.Subscription.ID
		}
		base.Type = paymentdomain.EventTypeSubscriptionChanged
		base.Subscription = change
		return &base, nil
	default:
		return &base, paymentdomain.ErrEventIgnored
	}
}

// parsePaymentIntent only acts on off-session reload charges. Checkout
// purchases are credited from their session instead.
func (a *Adapter) parsePaymentIntent(base paymentdomain.PaymentEvent, raw json.RawMessage) (*paymentdomain.PaymentEvent, error) {
	var intent stripeapi.PaymentIntent
	if err := json.Unmarshal(raw, &intent); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if intent.Metadata[MetadataKind] != KindAutoReload {
		return &base, paymentdomain.ErrEventIgnored
	}
	if intent.ID == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	accountID, err := parseAccountID(intent.Metadata, "")
	if err != nil {
		return nil, err
	}
	tokens, err := parseTokens(intent.Metadata)
	if err != nil {
		return nil, err
	}
	base.Type = paymentdomain.EventTypeAutoReload
	base.AccountID = accountID
	base.Tokens = tokens
	base.Reference = intent.ID
	if intent.Customer != nil {
		base.StripeCustomerID = intent.Customer.ID
	}
	return &base, nil
}

func (a *Adapter) parseSubscription(base paymentdomain.PaymentEvent, raw json.RawMessage, deleted bool) (*paymentdomain.PaymentEvent, error) {
	var sub stripeapi.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if sub.ID == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	if sub.Customer != nil {
		base.StripeCustomerID = sub.Customer.ID
	}
	// The account id is optional here; the customer link resolves it otherwise.
	if accountID, err := parseAccountID(sub.Metadata, ""); err == nil {
		base.AccountID = accountID
	}
	if base.AccountID == 0 && base.StripeCustomerID == "" {
		return nil, paymentdomain.ErrInvalidAccount
	}

	status := mapSubscriptionStatus(sub.Status)
	if deleted {
		status = accountdomain.SubscriptionCancelled
	}
	base.Type = paymentdomain.EventTypeSubscriptionChanged
	base.Reference = sub.ID
	base.Subscription = &paymentdomain.SubscriptionChange{
		SubscriptionID: sub.ID,
		Status:         status,
		Tier:           a.tierFrom(sub.Metadata),
	}
	return &base, nil
}

func mapSubscriptionStatus(status stripeapi.SubscriptionStatus) accountdomain.SubscriptionStatus {
	switch status {
	case stripeapi.SubscriptionStatusActive, stripeapi.SubscriptionStatusTrialing:
		return accountdomain.SubscriptionActive
	case stripeapi.SubscriptionStatusPastDue, stripeapi.SubscriptionStatusUnpaid:
		return accountdomain.SubscriptionPastDue
	case stripeapi.SubscriptionStatusCanceled, stripeapi.SubscriptionStatusIncompleteExpired:
		return accountdomain.SubscriptionCancelled
	default:
		return accountdomain.SubscriptionInactive
	}
}

func (a *Adapter) tierFrom(metadata map[string]string) string {
	if tier := strings.TrimSpace(metadata["tier"]); tier != "" {
		return tier
	}
	return a.defaultTier
}

func parseAccountID(metadata map[string]string, fallback string) (snowflake.ID, error) {
	raw := strings.TrimSpace(metadata[MetadataAccountID])
	if raw == "" {
		raw = strings.TrimSpace(fallback)
	}
	if raw == "" {
		return 0, paymentdomain.ErrInvalidAccount
	}
	id, err := snowflake.ParseString(raw)
	if err != nil || id <= 0 {
		return 0, paymentdomain.ErrInvalidAccount
	}
	return id, nil
}

func parseTokens(metadata map[string]string) (int64, error) {
	tokens, err := strconv.ParseInt(strings.TrimSpace(metadata[MetadataTokens]), 10, 64)
	if err != nil || tokens <= 0 {
		return 0, paymentdomain.ErrInvalidAmount
	}
	return tokens, nil
}

func timestamp(created int64) time.Time {
	if created == 0 {
		return time.Now().UTC()
	}
	return time.Unix(created, 0).UTC()
}
