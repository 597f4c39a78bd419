package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Adapter verifies a provider delivery and turns it into a PaymentEvent.
// Events the service does not act on return ErrEventIgnored.
type Adapter interface {
	Provider() string
	Parse(ctx context.Context, payload []byte, signature string) (*PaymentEvent, error)
}

type Repository interface {
	FindEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*EventRecord, error)
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error
}

type WebhookService interface {
	Handle(ctx context.Context, payload []byte, signature string) (Outcome, error)
}
