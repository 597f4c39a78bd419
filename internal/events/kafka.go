package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/smallbiznis/yardcraft/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	log      *zap.Logger
}

func NewKafkaPublisher(producer sarama.SyncProducer, topic string, log *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic, log: log.Named("events.kafka")}
}

// Publish sends one message keyed by event.Key so events for the same
// account or generation stay ordered within a partition.
func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.Type, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.Key),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(event.Type)},
		},
		Timestamp: event.OccurredAt,
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("publish event %s: %w", event.Type, err)
	}
	p.log.Debug("event published",
		zap.String("event_type", event.Type),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)
	return nil
}

func newSaramaConfig(clientID string) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Version = sarama.V3_3_0_0
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.Compression = sarama.CompressionSnappy
	return cfg
}

// NewPublisher returns a Kafka publisher when brokers are configured and a
// Noop otherwise.
func NewPublisher(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (Publisher, error) {
	if len(cfg.KafkaBrokers) == 0 {
		log.Info("kafka brokers not configured, events disabled")
		return Noop{}, nil
	}

	producer, err := sarama.NewSyncProducer(cfg.KafkaBrokers, newSaramaConfig(cfg.AppName))
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return producer.Close()
		},
	})
	return NewKafkaPublisher(producer, cfg.KafkaTopic, log), nil
}

var Module = fx.Module("events",
	fx.Provide(NewPublisher),
)
