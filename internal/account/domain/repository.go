package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// SubscriptionUpdate is applied by the payment webhook. OccurredAt is when
// the provider produced the change; deliveries older than the last applied
// change are dropped.
type SubscriptionUpdate struct {
	Status               SubscriptionStatus
	Tier                 string
	StripeSubscriptionID string
	OccurredAt           time.Time
	At                   time.Time
}

// Repository methods accept the handle to run on so callers can pass a
// transaction. Lookups return nil, nil when nothing matches.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, account *Account) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Account, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Account, error)
	FindByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*Account, error)
	FindByStripeCustomerID(ctx context.Context, db *gorm.DB, customerID string) (*Account, error)
	LinkStripeCustomer(ctx context.Context, db *gorm.DB, id snowflake.ID, customerID string, at time.Time) error
	UpdateSubscription(ctx context.Context, db *gorm.DB, id snowflake.ID, update SubscriptionUpdate) (bool, error)
	UpdateAutoReload(ctx context.Context, db *gorm.DB, id snowflake.ID, settings AutoReloadSettings, at time.Time) error
	MarkAutoReloadPending(ctx context.Context, db *gorm.DB, id snowflake.ID, at, staleBefore time.Time) (bool, error)
	ClearAutoReloadPending(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
	Deactivate(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error)
}
