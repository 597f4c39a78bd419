package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/yardcraft/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListResponse struct {
	pagination.PageInfo
	Generations []Request `json:"generations"`
}

type RecoveryReport struct {
	Interrupted int `json:"interrupted"`
	Refunded    int `json:"refunded"`
	Finalized   int `json:"finalized"`
}

type Service interface {
	// Submit charges the account and starts the areas in the background.
	// Denial and insufficient funds return before any external call.
	Submit(ctx context.Context, accountID snowflake.ID, req SubmitRequest) (Request, error)
	Get(ctx context.Context, accountID, id snowflake.ID) (Request, error)
	List(ctx context.Context, accountID snowflake.ID, page pagination.Pagination) (ListResponse, error)
	// RecoverStale fails and refunds work abandoned before olderThan.
	RecoverStale(ctx context.Context, olderThan time.Time) (RecoveryReport, error)
	// Drain blocks until background dispatches finish or ctx ends.
	Drain(ctx context.Context) error
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, req *Request) error
	FindByID(ctx context.Context, db *gorm.DB, accountID, id snowflake.ID) (*Request, error)
	List(ctx context.Context, db *gorm.DB, accountID snowflake.ID, beforeID snowflake.ID, limit int) ([]Request, error)
	MarkProcessing(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
	StartArea(ctx context.Context, db *gorm.DB, areaID snowflake.ID, at time.Time) (bool, error)
	CompleteArea(ctx context.Context, db *gorm.DB, areaID snowflake.ID, imagerySource, resultURL string, at time.Time) (bool, error)
	FailArea(ctx context.Context, db *gorm.DB, areaID snowflake.ID, code, detail string, at time.Time) (bool, error)
	Finalize(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (Status, error)
	FindStale(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]Request, error)
	FindUnrefundedFailures(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]Request, error)
}

// Reloader tops up tokens off-session after a token-funded debit. It is
// a no-op for accounts without auto-reload.
type Reloader interface {
	MaybeReload(ctx context.Context, accountID snowflake.ID) error
}
