package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrNotConfigured  = errors.New("payment_provider_not_configured")
	ErrUnknownPackage = errors.New("unknown_token_package")
	ErrChargeFailed   = errors.New("charge_failed")
)

// CheckoutRequest describes a hosted checkout for one account.
// CustomerID is reused when the account already has one.
type CheckoutRequest struct {
	AccountID  snowflake.ID
	Email      string
	CustomerID string
	Package    string
}

type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// OffSessionCharge bills a saved payment method without the customer
// present. The credit itself arrives later through the webhook.
type OffSessionCharge struct {
	AccountID      snowflake.ID
	CustomerID     string
	Tokens         int64
	IdempotencyKey string
}

//go:generate mockgen -source=provider.go -destination=mock_provider.go -package=domain

type Provider interface {
	CreateTokenCheckout(ctx context.Context, req CheckoutRequest) (CheckoutSession, error)
	CreateSubscriptionCheckout(ctx context.Context, req CheckoutRequest) (CheckoutSession, error)
	ChargeOffSession(ctx context.Context, charge OffSessionCharge) (string, error)
}
