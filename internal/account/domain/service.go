package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type RegisterRequest struct {
	ExternalID string
	Email      string
}

type AutoReloadSettings struct {
	Enabled   bool  `json:"enabled"`
	Threshold int64 `json:"threshold"`
	Tokens    int64 `json:"tokens"`
}

type Service interface {
	// Register is idempotent on ExternalID; the second call returns the
	// existing account untouched.
	Register(ctx context.Context, req RegisterRequest) (Account, bool, error)
	Get(ctx context.Context, id snowflake.ID) (Account, error)
	GetByExternalID(ctx context.Context, externalID string) (Account, error)
	Balance(ctx context.Context, id snowflake.ID) (Balance, error)
	ConfigureAutoReload(ctx context.Context, id snowflake.ID, settings AutoReloadSettings) (Account, error)
	Deactivate(ctx context.Context, id snowflake.ID) error

	GetByStripeCustomerID(ctx context.Context, customerID string) (Account, error)
	LinkStripeCustomer(ctx context.Context, id snowflake.ID, customerID string) error
	// ApplySubscription reports false when the update is older than the
	// change already stored and was skipped.
	ApplySubscription(ctx context.Context, id snowflake.ID, update SubscriptionUpdate) (Account, bool, error)
	// ClaimAutoReload marks a reload as in flight. It reports false when the
	// account does not qualify or another reload is still pending.
	ClaimAutoReload(ctx context.Context, id snowflake.ID) (Account, bool, error)
	ReleaseAutoReload(ctx context.Context, id snowflake.ID) error
}

var (
	ErrNotFound           = errors.New("account_not_found")
	ErrInvalidExternalID  = errors.New("invalid_external_id")
	ErrInvalidEmail       = errors.New("invalid_email")
	ErrInvalidAutoReload  = errors.New("invalid_auto_reload")
	ErrNoPaymentMethod    = errors.New("no_payment_method")
	ErrAlreadyDeactivated = errors.New("account_already_deactivated")
)
