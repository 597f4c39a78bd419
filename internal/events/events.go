// Package events publishes domain events for downstream consumers
// (analytics, notification mailers). Publishing is best effort: the ledger is
// the source of truth and callers never fail a money movement on a publish
// error.
package events

import (
	"context"
	"time"
)

const (
	EventGenerationSubmitted = "generation.submitted"
	EventGenerationFinished  = "generation.finished"
	EventLedgerRecorded      = "ledger.transaction_recorded"
	EventPaymentReceived     = "payment.received"
	EventSubscriptionChanged = "subscription.changed"
)

type Event struct {
	Type       string         `json:"type"`
	Key        string         `json:"key"`
	Payload    map[string]any `json:"payload"`
	OccurredAt time.Time      `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Noop discards events. Used when no brokers are configured.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
