package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
}

// Metrics exposes domain instruments. A nil *Metrics is valid and records nothing.
type Metrics struct {
	generations     metric.Int64Counter
	areas           metric.Int64Counter
	ledgerEntries   metric.Int64Counter
	tokensMoved     metric.Int64Counter
	denials         metric.Int64Counter
	webhookEvents   metric.Int64Counter
	upstreamCalls   metric.Int64Counter
	rateLimitDenied metric.Int64Counter
	areaDuration    metric.Float64Histogram
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}
	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return provider.Shutdown(ctx)
			},
		})
	}
	if log != nil {
		log.Info("metrics initialized", zap.String("endpoint", cfg.ExporterEndpoint))
	}
	return provider, nil
}

// New builds the domain instruments on provider.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "yardcraft"
	}
	meter := provider.Meter(name)

	var (
		m   Metrics
		err error
	)
	if m.generations, err = meter.Int64Counter("yardcraft_generations_total"); err != nil {
		return nil, err
	}
	if m.areas, err = meter.Int64Counter("yardcraft_generation_areas_total"); err != nil {
		return nil, err
	}
	if m.ledgerEntries, err = meter.Int64Counter("yardcraft_ledger_entries_total"); err != nil {
		return nil, err
	}
	if m.tokensMoved, err = meter.Int64Counter("yardcraft_tokens_total"); err != nil {
		return nil, err
	}
	if m.denials, err = meter.Int64Counter("yardcraft_authorization_denials_total"); err != nil {
		return nil, err
	}
	if m.webhookEvents, err = meter.Int64Counter("yardcraft_webhook_events_total"); err != nil {
		return nil, err
	}
	if m.upstreamCalls, err = meter.Int64Counter("yardcraft_upstream_calls_total"); err != nil {
		return nil, err
	}
	if m.rateLimitDenied, err = meter.Int64Counter("yardcraft_rate_limit_denied_total"); err != nil {
		return nil, err
	}
	if m.areaDuration, err = meter.Float64Histogram("yardcraft_area_duration_seconds", metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return &m, nil
}

// RecordGeneration counts generation submissions by outcome (accepted, denied, invalid).
func (m *Metrics) RecordGeneration(ctx context.Context, outcome, source string) {
	if m == nil {
		return
	}
	m.generations.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("outcome", outcome),
		attribute.String("source", source),
	)...))
}

// RecordArea counts finished areas and their wall time.
func (m *Metrics) RecordArea(ctx context.Context, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(FilterAttributes(attribute.String("status", status))...)
	m.areas.Add(ctx, 1, attrs)
	m.areaDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordLedgerEntry counts ledger rows and the tokens they move.
func (m *Metrics) RecordLedgerEntry(ctx context.Context, txType string, amount int64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(FilterAttributes(attribute.String("transaction_type", txType))...)
	m.ledgerEntries.Add(ctx, 1, attrs)
	if amount < 0 {
		amount = -amount
	}
	m.tokensMoved.Add(ctx, amount, attrs)
}

func (m *Metrics) RecordDenial(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.denials.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("reason", reason))...))
}

// RecordWebhookEvent counts inbound provider events by outcome (accepted, duplicate, ignored, rejected).
func (m *Metrics) RecordWebhookEvent(ctx context.Context, eventType, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("event_type", eventType),
		attribute.String("outcome", outcome),
	)...))
}

// RecordUpstreamCall counts calls to imagery and model providers.
func (m *Metrics) RecordUpstreamCall(ctx context.Context, provider, outcome string) {
	if m == nil {
		return
	}
	m.upstreamCalls.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("provider", provider),
		attribute.String("outcome", outcome),
	)...))
}

func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("endpoint", endpoint))...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"outcome":          {},
	"source":           {},
	"status":           {},
	"transaction_type": {},
	"reason":           {},
	"event_type":       {},
	"provider":         {},
	"endpoint":         {},
}

// FilterAttributes strips labels outside the allow list so series stay
// low-cardinality. Account and generation ids never become labels.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; ok {
			filtered = append(filtered, attr)
		}
	}
	return filtered
}
