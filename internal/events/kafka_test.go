package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestKafkaPublisherSendsEnvelope(t *testing.T) {
	producer := mocks.NewSyncProducer(t, mocks.NewTestConfig())
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(value []byte) error {
		var got Event
		if err := json.Unmarshal(value, &got); err != nil {
			return err
		}
		if got.Type != EventLedgerRecorded || got.Key != "42" {
			return errors.New("unexpected envelope")
		}
		return nil
	})

	publisher := NewKafkaPublisher(producer, "yardcraft.events", zap.NewNop())
	err := publisher.Publish(context.Background(), Event{
		Type:    EventLedgerRecorded,
		Key:     "42",
		Payload: map[string]any{"amount": -1},
	})
	require.NoError(t, err)
	require.NoError(t, producer.Close())
}

func TestKafkaPublisherWrapsSendError(t *testing.T) {
	producer := mocks.NewSyncProducer(t, mocks.NewTestConfig())
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	publisher := NewKafkaPublisher(producer, "yardcraft.events", zap.NewNop())
	err := publisher.Publish(context.Background(), Event{Type: EventPaymentReceived, Key: "1"})
	require.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, producer.Close())
}
