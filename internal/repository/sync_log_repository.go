package repository

import (
	"context"
	"fmt"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/worksphere/mailsync/interfaces"
	"github.com/worksphere/mailsync/internal/models"
	"github.com/worksphere/mailsync/internal/tracing"
)

type syncLogRepository struct {
	db *gorm.DB
}

func NewSyncLogRepository(db *gorm.DB) interfaces.SyncLogRepository {
	return &syncLogRepository{db: db}
}

func (r *syncLogRepository) Append(ctx context.Context, accountID, action string, details map[string]interface{}) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "syncLogRepository.Append")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	entry := &models.SyncLog{
		AccountID: accountID,
		Action:    action,
		Details:   models.JSONMap(details),
	}
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to append sync log: %w", err)
	}
	return nil
}

func (r *syncLogRepository) ListByAccount(ctx context.Context, accountID string, limit int) ([]*models.SyncLog, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "syncLogRepository.ListByAccount")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	if limit <= 0 {
		limit = 100
	}

	var entries []*models.SyncLog
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to list sync logs: %w", err)
	}
	return entries, nil
}
