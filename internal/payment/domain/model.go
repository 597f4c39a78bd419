package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/yardcraft/internal/account/domain"
	"gorm.io/datatypes"
)

// EventRecord journals every verified provider delivery. The pair
// (provider, provider_event_id) is unique.
type EventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider        string         `json:"provider" gorm:"type:text;not null;uniqueIndex:ux_payment_events_provider_event,priority:1"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:text;not null;uniqueIndex:ux_payment_events_provider_event,priority:2"`
	EventType       string         `json:"event_type" gorm:"type:text;not null"`
	AccountID       *snowflake.ID  `json:"account_id,omitempty" gorm:"index"`
	Payload         datatypes.JSON `json:"payload" gorm:"not null"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "payment_events" }

const (
	EventTypeTokenPurchase       = "token_purchase"
	EventTypeAutoReload          = "auto_reload"
	EventTypeSubscriptionChanged = "subscription_changed"
)

// PaymentEvent is the canonical event parsed by adapters.
type PaymentEvent struct {
	Provider        string
	ProviderEventID string
	ProviderType    string
	Type            string
	// Reference is the provider object that paid for the credit, such as a
	// checkout session or payment intent id.
	Reference        string
	AccountID        snowflake.ID
	Tokens           int64
	StripeCustomerID string
	Subscription     *SubscriptionChange
	OccurredAt       time.Time
	RawPayload       []byte
}

type SubscriptionChange struct {
	SubscriptionID string
	Status         accountdomain.SubscriptionStatus
	Tier           string
}

// Outcome is what a webhook delivery did. Duplicates are a normal outcome,
// never an error.
type Outcome string

const (
	OutcomeAccepted  Outcome = "accepted"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
)
