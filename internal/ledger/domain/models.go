package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/yardcraft/internal/funding"
)

type TransactionType string

const (
	TypePurchase        TransactionType = "purchase"
	TypeGenerationDebit TransactionType = "generation_debit"
	TypeRefund          TransactionType = "refund"
	TypeAutoReload      TransactionType = "auto_reload"
	TypeSubscriptionUse TransactionType = "subscription_use"
	TypeTrialDebit      TransactionType = "trial_debit"
	TypeTrialRefund     TransactionType = "trial_refund"
	TypeAdjustment      TransactionType = "adjustment"
)

// Transaction is an append-only audit row. Amount is signed in units of the
// funding source it touched; subscription rows always carry zero.
// BalanceAfter is the resulting balance of that same source.
type Transaction struct {
	ID                snowflake.ID    `gorm:"primaryKey" json:"id"`
	AccountID         snowflake.ID    `gorm:"not null;index:ix_ledger_transactions_account,priority:1" json:"account_id"`
	Amount            int64           `gorm:"not null" json:"amount"`
	TransactionType   TransactionType `gorm:"type:text;not null" json:"transaction_type"`
	PaymentSource     funding.Source  `gorm:"type:text;not null" json:"payment_source"`
	Description       string          `gorm:"type:text;not null;default:''" json:"description"`
	ExternalReference *string         `gorm:"type:text;uniqueIndex:ux_ledger_transactions_external_reference" json:"external_reference,omitempty"`
	GenerationID      *snowflake.ID   `gorm:"index" json:"generation_id,omitempty"`
	AreaItemID        *snowflake.ID   `json:"area_item_id,omitempty"`
	BalanceAfter      int64           `gorm:"not null" json:"balance_after"`
	CreatedAt         time.Time       `gorm:"not null;index:ix_ledger_transactions_account,priority:2" json:"created_at"`
}

func (Transaction) TableName() string { return "ledger_transactions" }

// Reservation is the result of charging a whole generation up front.
type Reservation struct {
	TransactionID snowflake.ID   `json:"transaction_id"`
	Source        funding.Source `json:"source"`
	Units         int            `json:"units"`
	BalanceAfter  int64          `json:"balance_after"`
}

func RefundReference(areaItemID snowflake.ID) string {
	return "refund:area:" + areaItemID.String()
}
