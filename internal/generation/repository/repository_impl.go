package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/yardcraft/internal/generation/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, req *domain.Request) error {
	if err := db.WithContext(ctx).Exec(
		`INSERT INTO generation_requests (
			id, account_id, address, status, funding_source, units_debited, units_refunded,
			ledger_transaction_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?)`,
		req.ID,
		req.AccountID,
		req.Address,
		req.Status,
		req.FundingSource,
		req.UnitsDebited,
		req.LedgerTransactionID,
		req.CreatedAt,
		req.UpdatedAt,
	).Error; err != nil {
		return err
	}

	for _, area := range req.Areas {
		if err := db.WithContext(ctx).Exec(
			`INSERT INTO generation_area_items (
				id, generation_id, position, area_type, style, custom_prompt, status,
				imagery_source, result_url, error_code, error_detail, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, '', '', '', '', ?, ?)`,
			area.ID,
			req.ID,
			area.Position,
			area.AreaType,
			area.Style,
			area.CustomPrompt,
			area.Status,
			area.CreatedAt,
			area.UpdatedAt,
		).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, accountID, id snowflake.ID) (*domain.Request, error) {
	var req domain.Request
	err := db.WithContext(ctx).
		Preload("Areas", func(tx *gorm.DB) *gorm.DB { return tx.Order("position asc") }).
		Where("id = ? AND account_id = ?", id, accountID).
		Limit(1).
		Find(&req).Error
	if err != nil {
		return nil, err
	}
	if req.ID == 0 {
		return nil, nil
	}
	return &req, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, accountID snowflake.ID, beforeID snowflake.ID, limit int) ([]domain.Request, error) {
	stmt := db.WithContext(ctx).
		Preload("Areas", func(tx *gorm.DB) *gorm.DB { return tx.Order("position asc") }).
		Where("account_id = ?", accountID)
	if beforeID > 0 {
		stmt = stmt.Where("id < ?", beforeID)
	}
	var out []domain.Request
	if err := stmt.Order("id desc").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *repo) MarkProcessing(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE generation_requests SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		domain.StatusProcessing, at, id, domain.StatusPending,
	).Error
}

func (r *repo) StartArea(ctx context.Context, db *gorm.DB, areaID snowflake.ID, at time.Time) (bool, error) {
	return r.transition(ctx, db,
		`UPDATE generation_area_items SET status = ?, started_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.AreaProcessing, at, at, areaID, domain.AreaPending,
	)
}

// CompleteArea and FailArea set the terminal state at most once; the bool
// reports whether this call made the transition.
func (r *repo) CompleteArea(ctx context.Context, db *gorm.DB, areaID snowflake.ID, imagerySource, resultURL string, at time.Time) (bool, error) {
	return r.transition(ctx, db,
		`UPDATE generation_area_items SET status = ?, imagery_source = ?, result_url = ?, completed_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.AreaCompleted, imagerySource, resultURL, at, at, areaID, domain.AreaProcessing,
	)
}

func (r *repo) FailArea(ctx context.Context, db *gorm.DB, areaID snowflake.ID, code, detail string, at time.Time) (bool, error) {
	return r.transition(ctx, db,
		`UPDATE generation_area_items SET status = ?, error_code = ?, error_detail = ?, completed_at = ?, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		domain.AreaFailed, code, detail, at, at, areaID, domain.AreaPending, domain.AreaProcessing,
	)
}

func (r *repo) transition(ctx context.Context, db *gorm.DB, sql string, args ...any) (bool, error) {
	result := db.WithContext(ctx).Exec(sql, args...)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// Finalize recomputes the request status from its areas and stamps
// completed_at once every area is terminal.
func (r *repo) Finalize(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (domain.Status, error) {
	var areas []domain.AreaItem
	if err := db.WithContext(ctx).
		Select("id", "status").
		Where("generation_id = ?", id).
		Find(&areas).Error; err != nil {
		return "", err
	}

	status := domain.Reconcile(areas)
	var completedAt *time.Time
	if status.Terminal() {
		completedAt = &at
	}
	err := db.WithContext(ctx).Exec(
		`UPDATE generation_requests SET status = ?, completed_at = COALESCE(completed_at, ?), updated_at = ?
		 WHERE id = ?`,
		status, completedAt, at, id,
	).Error
	return status, err
}

func (r *repo) FindStale(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]domain.Request, error) {
	var out []domain.Request
	err := db.WithContext(ctx).
		Preload("Areas").
		Where("status IN ? AND created_at < ?", []domain.Status{domain.StatusPending, domain.StatusProcessing}, before).
		Order("id asc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// FindUnrefundedFailures returns requests holding failed areas whose refund
// never landed, for example after a crash between failing and refunding.
func (r *repo) FindUnrefundedFailures(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]domain.Request, error) {
	var out []domain.Request
	err := db.WithContext(ctx).
		Preload("Areas").
		Where(`id IN (
			SELECT generation_id FROM generation_area_items
			WHERE status = ? AND refunded_at IS NULL AND completed_at < ?
		)`, domain.AreaFailed, before).
		Order("id asc").
		Limit(limit).
		Find(&out).Error
	return out, err
}
