package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type SubscriptionStatus string

const (
	SubscriptionInactive  SubscriptionStatus = "inactive"
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionPastDue   SubscriptionStatus = "past_due"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// Account holds the funding state of one customer. Balances change only
// through the ledger service and the payment webhook.
type Account struct {
	ID                    snowflake.ID       `gorm:"primaryKey" json:"id"`
	ExternalID            string             `gorm:"type:text;not null;uniqueIndex" json:"external_id"`
	Email                 string             `gorm:"type:text;not null" json:"email"`
	TrialGrant            int                `gorm:"not null;default:3" json:"trial_grant"`
	TrialRemaining        int                `gorm:"not null;default:0;check:chk_accounts_trial_remaining,trial_remaining >= 0" json:"trial_remaining"`
	TrialUsed             int                `gorm:"not null;default:0;check:chk_accounts_trial_used,trial_used >= 0" json:"trial_used"`
	TokenBalance          int64              `gorm:"not null;default:0;check:chk_accounts_token_balance,token_balance >= 0" json:"token_balance"`
	SubscriptionStatus    SubscriptionStatus `gorm:"type:text;not null;default:inactive" json:"subscription_status"`
	SubscriptionTier      string             `gorm:"type:text" json:"subscription_tier,omitempty"`
	SubscriptionPastDueAt *time.Time         `json:"subscription_past_due_at,omitempty"`
	SubscriptionEventAt   *time.Time         `json:"-"`
	StripeCustomerID      *string            `gorm:"type:text;uniqueIndex" json:"-"`
	StripeSubscriptionID  *string            `gorm:"type:text" json:"-"`
	AutoReloadEnabled     bool               `gorm:"not null;default:false" json:"auto_reload_enabled"`
	AutoReloadThreshold   int64              `gorm:"not null;default:0" json:"auto_reload_threshold"`
	AutoReloadTokens      int64              `gorm:"not null;default:0" json:"auto_reload_tokens"`
	AutoReloadPendingAt   *time.Time         `json:"-"`
	DeactivatedAt         *time.Time         `json:"deactivated_at,omitempty"`
	CreatedAt             time.Time          `gorm:"not null" json:"created_at"`
	UpdatedAt             time.Time          `gorm:"not null" json:"updated_at"`
}

func (Account) TableName() string { return "accounts" }

func (a Account) Active() bool { return a.DeactivatedAt == nil }

// Balance is the cheap read model served to the dashboard.
type Balance struct {
	AccountID          snowflake.ID       `json:"account_id"`
	TrialRemaining     int                `json:"trial_remaining"`
	TrialUsed          int                `json:"trial_used"`
	TokenBalance       int64              `json:"token_balance"`
	SubscriptionStatus SubscriptionStatus `json:"subscription_status"`
	SubscriptionTier   string             `json:"subscription_tier,omitempty"`
	AutoReloadEnabled  bool               `json:"auto_reload_enabled"`
}

func (a Account) Balance() Balance {
	return Balance{
		AccountID:          a.ID,
		TrialRemaining:     a.TrialRemaining,
		TrialUsed:          a.TrialUsed,
		TokenBalance:       a.TokenBalance,
		SubscriptionStatus: a.SubscriptionStatus,
		SubscriptionTier:   a.SubscriptionTier,
		AutoReloadEnabled:  a.AutoReloadEnabled,
	}
}
