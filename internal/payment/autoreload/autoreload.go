// Package autoreload starts off-session token top-ups when a balance runs low.
package autoreload

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	accountdomain "github.com/smallbiznis/yardcraft/internal/account/domain"
	providerdomain "github.com/smallbiznis/yardcraft/internal/providers/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Accounts accountdomain.Service
	Provider providerdomain.Provider
}

type Service struct {
	log      *zap.Logger
	accounts accountdomain.Service
	provider providerdomain.Provider
}

func New(p Params) *Service {
	return &Service{
		log:      p.Log.Named("payment.autoreload"),
		accounts: p.Accounts,
		provider: p.Provider,
	}
}

// MaybeReload charges the saved card once per pending window. The tokens
// are credited when the payment_intent.succeeded webhook arrives, which
// also clears the pending marker.
func (s *Service) MaybeReload(ctx context.Context, accountID snowflake.ID) error {
	account, claimed, err := s.accounts.ClaimAutoReload(ctx, accountID)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	key := "autoreload_" + ulid.Make().String()
	intentID, err := s.provider.ChargeOffSession(ctx, providerdomain.OffSessionCharge{
		AccountID:      account.ID,
		CustomerID:     *account.StripeCustomerID,
		Tokens:         account.AutoReloadTokens,
		IdempotencyKey: key,
	})
	if err != nil {
		if releaseErr := s.accounts.ReleaseAutoReload(ctx, accountID); releaseErr != nil {
			s.log.Error("failed to release auto reload claim", zap.String("account_id", accountID.String()), zap.Error(releaseErr))
		}
		return fmt.Errorf("auto reload charge: %w", err)
	}

	s.log.Info("auto reload requested",
		zap.String("account_id", accountID.String()),
		zap.Int64("tokens", account.AutoReloadTokens),
		zap.String("payment_intent_id", intentID),
		zap.String("idempotency_key", key),
	)
	return nil
}
