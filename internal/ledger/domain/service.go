package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/yardcraft/internal/funding"
	"github.com/smallbiznis/yardcraft/pkg/db/pagination"
	"gorm.io/gorm"
)

// ReserveRequest charges one unit per area. Persist runs inside the same
// transaction as the debit, after the source is known, so the generation rows
// commit or roll back together with the charge.
type ReserveRequest struct {
	AccountID    snowflake.ID
	Units        int
	GenerationID snowflake.ID
	Description  string
	Persist      func(ctx context.Context, tx *gorm.DB, reservation Reservation) error
}

type DebitRequest struct {
	AccountID    snowflake.ID
	Source       funding.Source
	Units        int
	Description  string
	GenerationID *snowflake.ID
}

type CreditRequest struct {
	AccountID    snowflake.ID
	Source       funding.Source
	Units        int
	Reason       string
	GenerationID *snowflake.ID
}

// RefundRequest returns one unit for one failed area.
type RefundRequest struct {
	AccountID    snowflake.ID
	GenerationID snowflake.ID
	AreaItemID   snowflake.ID
	Source       funding.Source
	Reason       string
}

// PurchaseCredit adds tokens bought through the payment provider. Reference
// is the provider's unique payment id.
type PurchaseCredit struct {
	AccountID   snowflake.ID
	Tokens      int64
	Reference   string
	Type        TransactionType
	Description string
}

type Adjustment struct {
	AccountID snowflake.ID
	Delta     int64
	Reason    string
	Reference string
}

type ListTransactionsResponse struct {
	pagination.PageInfo
	Transactions []Transaction `json:"transactions"`
}

type Service interface {
	Reserve(ctx context.Context, req ReserveRequest) (Reservation, error)
	Debit(ctx context.Context, req DebitRequest) (Transaction, error)
	Credit(ctx context.Context, req CreditRequest) (Transaction, error)
	RefundArea(ctx context.Context, req RefundRequest) (Transaction, error)
	CreditPurchase(ctx context.Context, req PurchaseCredit) (Transaction, error)
	Adjust(ctx context.Context, req Adjustment) (Transaction, error)
	ListTransactions(ctx context.Context, accountID snowflake.ID, page pagination.Pagination) (ListTransactionsResponse, error)
}
