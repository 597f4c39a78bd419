package metrics

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsHighCardinalityLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("account_id", "123"),
		attribute.String("generation_id", "456"),
		attribute.String("outcome", "accepted"),
	)
	if len(attrs) != 1 {
		t.Fatalf("expected 1 attribute, got %d", len(attrs))
	}
	if attrs[0].Key != "outcome" {
		t.Fatalf("expected outcome to be retained, got %s", attrs[0].Key)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordGeneration(ctx, "accepted", "token_balance")
	m.RecordArea(ctx, "completed", time.Second)
	m.RecordLedgerEntry(ctx, "generation_debit", -3)
	m.RecordWebhookEvent(ctx, "checkout.session.completed", "duplicate")
}

func TestNewOnNoopProvider(t *testing.T) {
	m, err := New(Config{}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	m.RecordLedgerEntry(context.Background(), "purchase", 50)
}
