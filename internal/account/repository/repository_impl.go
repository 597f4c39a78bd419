package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/yardcraft/internal/account/domain"
	"github.com/smallbiznis/yardcraft/pkg/db"
	"gorm.io/gorm"
)

const accountColumns = `id, external_id, email, trial_grant, trial_remaining, trial_used, token_balance,
	subscription_status, subscription_tier, subscription_past_due_at, subscription_event_at, stripe_customer_id, stripe_subscription_id,
	auto_reload_enabled, auto_reload_threshold, auto_reload_tokens, auto_reload_pending_at,
	deactivated_at, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, account *domain.Account) (bool, error) {
	result := conn.WithContext(ctx).Exec(
		`INSERT INTO accounts (id, external_id, email, trial_grant, trial_remaining, trial_used, token_balance,
			subscription_status, auto_reload_enabled, auto_reload_threshold, auto_reload_tokens, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 0, 0, ?, FALSE, 0, 0, ?, ?)
		 ON CONFLICT (external_id) DO NOTHING`,
		account.ID,
		account.ExternalID,
		account.Email,
		account.TrialGrant,
		account.TrialRemaining,
		account.SubscriptionStatus,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Account, error) {
	return r.findOne(ctx, conn, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
}

// FindByIDForUpdate locks the row until the surrounding transaction ends.
// Must be called on a transaction handle.
func (r *repo) FindByIDForUpdate(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Account, error) {
	return r.findOne(ctx, conn, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`+db.ForUpdate(conn), id)
}

func (r *repo) FindByExternalID(ctx context.Context, conn *gorm.DB, externalID string) (*domain.Account, error) {
	return r.findOne(ctx, conn, `SELECT `+accountColumns+` FROM accounts WHERE external_id = ?`, externalID)
}

func (r *repo) FindByStripeCustomerID(ctx context.Context, conn *gorm.DB, customerID string) (*domain.Account, error) {
	return r.findOne(ctx, conn, `SELECT `+accountColumns+` FROM accounts WHERE stripe_customer_id = ?`, customerID)
}

func (r *repo) findOne(ctx context.Context, conn *gorm.DB, query string, args ...any) (*domain.Account, error) {
	var account domain.Account
	err := conn.WithContext(ctx).Raw(query, args...).Scan(&account).Error
	if err != nil {
		return nil, err
	}
	if account.ID == 0 {
		return nil, nil
	}
	return &account, nil
}

func (r *repo) LinkStripeCustomer(ctx context.Context, conn *gorm.DB, id snowflake.ID, customerID string, at time.Time) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE accounts SET stripe_customer_id = ?, updated_at = ?
		 WHERE id = ? AND (stripe_customer_id IS NULL OR stripe_customer_id = ?)`,
		customerID, at, id, customerID,
	).Error
}

// UpdateSubscription stamps subscription_past_due_at on entry into past_due
// and clears it on any other status. Provider deliveries arrive out of order,
// so an update older than subscription_event_at is skipped and reported as
// not applied. On a tie a cancellation wins.
func (r *repo) UpdateSubscription(ctx context.Context, conn *gorm.DB, id snowflake.ID, update domain.SubscriptionUpdate) (bool, error) {
	var subscriptionID *string
	if update.StripeSubscriptionID != "" {
		subscriptionID = &update.StripeSubscriptionID
	}
	occurredAt := update.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = update.At
	}
	occurredAt = occurredAt.UTC()
	var pastDueAt *time.Time
	if update.Status == domain.SubscriptionPastDue {
		pastDueAt = &occurredAt
	}
	result := conn.WithContext(ctx).Exec(
		`UPDATE accounts SET
			subscription_status = ?,
			subscription_tier = CASE WHEN ? = '' THEN subscription_tier ELSE ? END,
			stripe_subscription_id = COALESCE(?, stripe_subscription_id),
			subscription_past_due_at = CASE
				WHEN ? = 'past_due' THEN COALESCE(subscription_past_due_at, ?)
				ELSE NULL END,
			subscription_event_at = ?,
			updated_at = ?
		 WHERE id = ?
		   AND (subscription_event_at IS NULL
		        OR subscription_event_at < ?
		        OR (subscription_event_at = ? AND (subscription_status <> 'cancelled' OR ? = 'cancelled')))`,
		update.Status,
		update.Tier, update.Tier,
		subscriptionID,
		update.Status, pastDueAt,
		occurredAt,
		update.At,
		id,
		occurredAt,
		occurredAt, update.Status,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) UpdateAutoReload(ctx context.Context, conn *gorm.DB, id snowflake.ID, settings domain.AutoReloadSettings, at time.Time) error {
	result := conn.WithContext(ctx).Exec(
		`UPDATE accounts SET auto_reload_enabled = ?, auto_reload_threshold = ?, auto_reload_tokens = ?, updated_at = ?
		 WHERE id = ?`,
		settings.Enabled, settings.Threshold, settings.Tokens, at, id,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkAutoReloadPending claims the right to start one off-session charge.
// A pending marker older than staleBefore is treated as abandoned.
func (r *repo) MarkAutoReloadPending(ctx context.Context, conn *gorm.DB, id snowflake.ID, at, staleBefore time.Time) (bool, error) {
	result := conn.WithContext(ctx).Exec(
		`UPDATE accounts SET auto_reload_pending_at = ?, updated_at = ?
		 WHERE id = ? AND (auto_reload_pending_at IS NULL OR auto_reload_pending_at < ?)`,
		at, at, id, staleBefore,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) ClearAutoReloadPending(ctx context.Context, conn *gorm.DB, id snowflake.ID, at time.Time) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE accounts SET auto_reload_pending_at = NULL, updated_at = ? WHERE id = ?`,
		at, id,
	).Error
}

func (r *repo) Deactivate(ctx context.Context, conn *gorm.DB, id snowflake.ID, at time.Time) (bool, error) {
	result := conn.WithContext(ctx).Exec(
		`UPDATE accounts SET deactivated_at = ?, updated_at = ? WHERE id = ? AND deactivated_at IS NULL`,
		at, at, id,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
