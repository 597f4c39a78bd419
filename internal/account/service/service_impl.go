package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/yardcraft/internal/account/domain"
	"github.com/smallbiznis/yardcraft/internal/clock"
	"github.com/smallbiznis/yardcraft/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Repo   domain.Repository
	Clock  clock.Clock
	Policy *config.GenerationPolicyHolder
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	repo   domain.Repository
	clock  clock.Clock
	policy *config.GenerationPolicyHolder
}

func New(p Params) domain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("account.service"),
		genID:  p.GenID,
		repo:   p.Repo,
		clock:  p.Clock,
		policy: p.Policy,
	}
}

func (s *Service) Register(ctx context.Context, req domain.RegisterRequest) (domain.Account, bool, error) {
	externalID := strings.TrimSpace(req.ExternalID)
	if externalID == "" {
		return domain.Account{}, false, domain.ErrInvalidExternalID
	}
	email := strings.TrimSpace(req.Email)
	if email == "" || !strings.Contains(email, "@") {
		return domain.Account{}, false, domain.ErrInvalidEmail
	}

	grant := s.policy.Get().TrialGrant
	now := s.clock.Now()
	account := domain.Account{
		ID:                 s.genID.Generate(),
		ExternalID:         externalID,
		Email:              email,
		TrialGrant:         grant,
		TrialRemaining:     grant,
		SubscriptionStatus: domain.SubscriptionInactive,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	inserted, err := s.repo.Insert(ctx, s.db, &account)
	if err != nil {
		return domain.Account{}, false, err
	}
	if !inserted {
		existing, err := s.repo.FindByExternalID(ctx, s.db, externalID)
		if err != nil {
			return domain.Account{}, false, err
		}
		if existing == nil {
			return domain.Account{}, false, domain.ErrNotFound
		}
		return *existing, false, nil
	}

	s.log.Info("account registered",
		zap.String("account_id", account.ID.String()),
		zap.Int("trial_grant", grant),
	)
	return account, true, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (domain.Account, error) {
	account, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Account{}, err
	}
	if account == nil {
		return domain.Account{}, domain.ErrNotFound
	}
	return *account, nil
}

func (s *Service) GetByExternalID(ctx context.Context, externalID string) (domain.Account, error) {
	account, err := s.repo.FindByExternalID(ctx, s.db, strings.TrimSpace(externalID))
	if err != nil {
		return domain.Account{}, err
	}
	if account == nil {
		return domain.Account{}, domain.ErrNotFound
	}
	return *account, nil
}

func (s *Service) Balance(ctx context.Context, id snowflake.ID) (domain.Balance, error) {
	account, err := s.Get(ctx, id)
	if err != nil {
		return domain.Balance{}, err
	}
	return account.Balance(), nil
}

// ConfigureAutoReload requires a saved Stripe customer before enabling,
// since reloads are charged off-session.
func (s *Service) ConfigureAutoReload(ctx context.Context, id snowflake.ID, settings domain.AutoReloadSettings) (domain.Account, error) {
	if settings.Threshold < 0 || settings.Tokens < 0 {
		return domain.Account{}, domain.ErrInvalidAutoReload
	}
	if settings.Enabled && settings.Tokens == 0 {
		return domain.Account{}, domain.ErrInvalidAutoReload
	}

	account, err := s.Get(ctx, id)
	if err != nil {
		return domain.Account{}, err
	}
	if settings.Enabled && (account.StripeCustomerID == nil || *account.StripeCustomerID == "") {
		return domain.Account{}, domain.ErrNoPaymentMethod
	}

	if err := s.repo.UpdateAutoReload(ctx, s.db, id, settings, s.clock.Now()); err != nil {
		return domain.Account{}, err
	}
	account.AutoReloadEnabled = settings.Enabled
	account.AutoReloadThreshold = settings.Threshold
	account.AutoReloadTokens = settings.Tokens
	return account, nil
}

func (s *Service) Deactivate(ctx context.Context, id snowflake.ID) error {
	changed, err := s.repo.Deactivate(ctx, s.db, id, s.clock.Now())
	if err != nil {
		return err
	}
	if !changed {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return domain.ErrAlreadyDeactivated
	}
	s.log.Warn("account deactivated", zap.String("account_id", id.String()))
	return nil
}

func (s *Service) GetByStripeCustomerID(ctx context.Context, customerID string) (domain.Account, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return domain.Account{}, domain.ErrNotFound
	}
	account, err := s.repo.FindByStripeCustomerID(ctx, s.db, customerID)
	if err != nil {
		return domain.Account{}, err
	}
	if account == nil {
		return domain.Account{}, domain.ErrNotFound
	}
	return *account, nil
}

func (s *Service) LinkStripeCustomer(ctx context.Context, id snowflake.ID, customerID string) error {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil
	}
	return s.repo.LinkStripeCustomer(ctx, s.db, id, customerID, s.clock.Now())
}

func (s *Service) ApplySubscription(ctx context.Context, id snowflake.ID, update domain.SubscriptionUpdate) (domain.Account, bool, error) {
	if update.At.IsZero() {
		update.At = s.clock.Now()
	}
	applied, err := s.repo.UpdateSubscription(ctx, s.db, id, update)
	if err != nil {
		return domain.Account{}, false, err
	}
	account, err := s.Get(ctx, id)
	if err != nil {
		return domain.Account{}, false, err
	}
	if !applied {
		s.log.Warn("stale subscription update skipped",
			zap.String("account_id", id.String()),
			zap.String("status", string(update.Status)),
			zap.String("current_status", string(account.SubscriptionStatus)),
			zap.Time("occurred_at", update.OccurredAt),
		)
		return account, false, nil
	}
	s.log.Info("subscription updated",
		zap.String("account_id", id.String()),
		zap.String("status", string(account.SubscriptionStatus)),
		zap.String("tier", account.SubscriptionTier),
	)
	return account, true, nil
}

// autoReloadStaleAfter releases a pending reload whose webhook never arrived.
const autoReloadStaleAfter = time.Hour

func (s *Service) ClaimAutoReload(ctx context.Context, id snowflake.ID) (domain.Account, bool, error) {
	account, err := s.Get(ctx, id)
	if err != nil {
		return domain.Account{}, false, err
	}
	if !account.Active() || !account.AutoReloadEnabled || account.AutoReloadTokens <= 0 {
		return account, false, nil
	}
	if account.StripeCustomerID == nil || *account.StripeCustomerID == "" {
		return account, false, nil
	}
	if account.TokenBalance >= account.AutoReloadThreshold {
		return account, false, nil
	}

	now := s.clock.Now()
	claimed, err := s.repo.MarkAutoReloadPending(ctx, s.db, id, now, now.Add(-autoReloadStaleAfter))
	if err != nil {
		return domain.Account{}, false, err
	}
	return account, claimed, nil
}

func (s *Service) ReleaseAutoReload(ctx context.Context, id snowflake.ID) error {
	return s.repo.ClearAutoReloadPending(ctx, s.db, id, s.clock.Now())
}
