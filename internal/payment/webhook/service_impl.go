package webhook

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/yardcraft/internal/account/domain"
	"github.com/smallbiznis/yardcraft/internal/clock"
	"github.com/smallbiznis/yardcraft/internal/events"
	ledgerdomain "github.com/smallbiznis/yardcraft/internal/ledger/domain"
	obslogger "github.com/smallbiznis/yardcraft/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/yardcraft/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/yardcraft/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Adapter    paymentdomain.Adapter
	Repo       paymentdomain.Repository
	Ledger     ledgerdomain.Service
	Accounts   accountdomain.Service
	Events     events.Publisher    `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	adapter    paymentdomain.Adapter
	repo       paymentdomain.Repository
	ledger     ledgerdomain.Service
	accounts   accountdomain.Service
	events     events.Publisher
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) paymentdomain.WebhookService {
	publisher := p.Events
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.webhook"),
		genID:      p.GenID,
		clock:      p.Clock,
		adapter:    p.Adapter,
		repo:       p.Repo,
		ledger:     p.Ledger,
		accounts:   p.Accounts,
		events:     publisher,
		obsMetrics: p.ObsMetrics,
	}
}

// Handle verifies and applies one delivery. Every verified delivery is
// journaled; the ledger's unique payment reference keeps credits
// exactly-once even when two deliveries of the same event race.
func (s *Service) Handle(ctx context.Context, payload []byte, signature string) (paymentdomain.Outcome, error) {
	log := obslogger.WithContext(ctx, s.log)

	event, err := s.adapter.Parse(ctx, payload, signature)
	if err != nil {
		switch {
		case errors.Is(err, paymentdomain.ErrInvalidSignature):
			log.Warn("rejected webhook with invalid signature")
			s.obsMetrics.RecordWebhookEvent(ctx, "unknown", "invalid_signature")
			return "", err
		case errors.Is(err, paymentdomain.ErrEventIgnored) && event != nil:
			if _, _, jerr := s.journal(ctx, event); jerr != nil {
				return "", jerr
			}
			s.obsMetrics.RecordWebhookEvent(ctx, event.ProviderType, string(paymentdomain.OutcomeIgnored))
			return paymentdomain.OutcomeIgnored, nil
		default:
			log.Error("failed to parse verified webhook", zap.Error(err))
			return "", err
		}
	}

	stored, inserted, err := s.journal(ctx, event)
	if err != nil {
		return "", err
	}
	if !inserted && stored.ProcessedAt != nil {
		return s.finish(ctx, event, paymentdomain.OutcomeDuplicate), nil
	}

	outcome, err := s.apply(ctx, event)
	if err != nil {
		log.Error("failed to apply payment event",
			zap.String("provider_event_id", event.ProviderEventID),
			zap.String("event_type", event.Type),
			zap.Error(err),
		)
		s.obsMetrics.RecordWebhookEvent(ctx, event.Type, "error")
		return "", err
	}

	if err := s.repo.MarkProcessed(ctx, s.db, stored.ID, s.clock.Now()); err != nil {
		return "", err
	}
	return s.finish(ctx, event, outcome), nil
}

func (s *Service) journal(ctx context.Context, event *paymentdomain.PaymentEvent) (*paymentdomain.EventRecord, bool, error) {
	record := paymentdomain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        event.Provider,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.ProviderType,
		Payload:         datatypes.JSON(event.RawPayload),
		ReceivedAt:      s.clock.Now(),
	}
	if event.AccountID != 0 {
		id := event.AccountID
		record.AccountID = &id
	}

	inserted, err := s.repo.InsertEvent(ctx, s.db, &record)
	if err != nil {
		return nil, false, fmt.Errorf("journal payment event: %w", err)
	}
	if inserted {
		return &record, true, nil
	}

	stored, err := s.repo.FindEvent(ctx, s.db, event.Provider, event.ProviderEventID)
	if err != nil {
		return nil, false, err
	}
	if stored == nil {
		return nil, false, paymentdomain.ErrInvalidEvent
	}
	return stored, false, nil
}

func (s *Service) apply(ctx context.Context, event *paymentdomain.PaymentEvent) (paymentdomain.Outcome, error) {
	switch event.Type {
	case paymentdomain.EventTypeTokenPurchase, paymentdomain.EventTypeAutoReload:
		return s.applyCredit(ctx, event)
	case paymentdomain.EventTypeSubscriptionChanged:
		return s.applySubscription(ctx, event)
	default:
		return paymentdomain.OutcomeIgnored, nil
	}
}

func (s *Service) applyCredit(ctx context.Context, event *paymentdomain.PaymentEvent) (paymentdomain.Outcome, error) {
	txType := ledgerdomain.TypePurchase
	if event.Type == paymentdomain.EventTypeAutoReload {
		txType = ledgerdomain.TypeAutoReload
	}

	if err := s.accounts.LinkStripeCustomer(ctx, event.AccountID, event.StripeCustomerID); err != nil {
		return "", err
	}

	_, err := s.ledger.CreditPurchase(ctx, ledgerdomain.PurchaseCredit{
		AccountID:   event.AccountID,
		Tokens:      event.Tokens,
		Reference:   event.Reference,
		Type:        txType,
		Description: fmt.Sprintf("%d tokens via %s", event.Tokens, event.Provider),
	})
	switch {
	case errors.Is(err, ledgerdomain.ErrDuplicateReference):
		return paymentdomain.OutcomeDuplicate, nil
	case errors.Is(err, ledgerdomain.ErrAccountNotFound):
		return "", paymentdomain.ErrInvalidAccount
	case err != nil:
		return "", err
	}

	s.publish(ctx, events.EventPaymentReceived, event, map[string]any{
		"reference": event.Reference,
		"tokens":    event.Tokens,
		"kind":      string(txType),
	})
	return paymentdomain.OutcomeAccepted, nil
}

func (s *Service) applySubscription(ctx context.Context, event *paymentdomain.PaymentEvent) (paymentdomain.Outcome, error) {
	accountID := event.AccountID
	if accountID == 0 {
		account, err := s.accounts.GetByStripeCustomerID(ctx, event.StripeCustomerID)
		if err != nil {
			if errors.Is(err, accountdomain.ErrNotFound) {
				return "", paymentdomain.ErrInvalidAccount
			}
			return "", err
		}
		accountID = account.ID
	}
	if err := s.accounts.LinkStripeCustomer(ctx, accountID, event.StripeCustomerID); err != nil {
		return "", err
	}

	account, applied, err := s.accounts.ApplySubscription(ctx, accountID, accountdomain.SubscriptionUpdate{
		Status:               event.Subscription.Status,
		Tier:                 event.Subscription.Tier,
		StripeSubscriptionID: event.Subscription.SubscriptionID,
		OccurredAt:           event.OccurredAt,
		At:                   s.clock.Now(),
	})
	if err != nil {
		if errors.Is(err, accountdomain.ErrNotFound) {
			return "", paymentdomain.ErrInvalidAccount
		}
		return "", err
	}
	if !applied {
		return paymentdomain.OutcomeIgnored, nil
	}

	event.AccountID = account.ID
	s.publish(ctx, events.EventSubscriptionChanged, event, map[string]any{
		"status": string(account.SubscriptionStatus),
		"tier":   account.SubscriptionTier,
	})
	return paymentdomain.OutcomeAccepted, nil
}

func (s *Service) finish(ctx context.Context, event *paymentdomain.PaymentEvent, outcome paymentdomain.Outcome) paymentdomain.Outcome {
	s.obsMetrics.RecordWebhookEvent(ctx, event.Type, string(outcome))
	obslogger.WithContext(ctx, s.log).Info("payment event handled",
		zap.String("provider_event_id", event.ProviderEventID),
		zap.String("event_type", event.Type),
		zap.String("outcome", string(outcome)),
	)
	return outcome
}

func (s *Service) publish(ctx context.Context, eventType string, event *paymentdomain.PaymentEvent, payload map[string]any) {
	payload["provider_event_id"] = event.ProviderEventID
	if err := s.events.Publish(ctx, events.Event{
		Type:       eventType,
		Key:        event.AccountID.String(),
		Payload:    payload,
		OccurredAt: event.OccurredAt,
	}); err != nil {
		s.log.Warn("failed to publish payment event", zap.Error(err))
	}
}
