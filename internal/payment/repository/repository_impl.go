package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/yardcraft/internal/payment/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// FindEvent returns nil when the delivery was never journaled.
func (r *repo) FindEvent(ctx context.Context, conn *gorm.DB, provider, providerEventID string) (*domain.EventRecord, error) {
	var record domain.EventRecord
	err := conn.WithContext(ctx).
		Where("provider = ? AND provider_event_id = ?", provider, providerEventID).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// InsertEvent journals a delivery and reports false when the provider event
// was already recorded.
func (r *repo) InsertEvent(ctx context.Context, conn *gorm.DB, event *domain.EventRecord) (bool, error) {
	result := conn.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_event_id"}},
			DoNothing: true,
		}).
		Create(event)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// MarkProcessed stamps the first successful application only; redeliveries
// keep the original timestamp.
func (r *repo) MarkProcessed(ctx context.Context, conn *gorm.DB, id snowflake.ID, processedAt time.Time) error {
	return conn.WithContext(ctx).
		Model(&domain.EventRecord{}).
		Where("id = ? AND processed_at IS NULL", id).
		Update("processed_at", processedAt).Error
}
