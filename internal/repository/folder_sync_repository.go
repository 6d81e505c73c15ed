package repository

import (
	"context"
	"fmt"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/worksphere/mailsync/interfaces"
	"github.com/worksphere/mailsync/internal/models"
	"github.com/worksphere/mailsync/internal/tracing"
	"github.com/worksphere/mailsync/internal/utils"
)

type folderSyncRepository struct {
	db *gorm.DB
}

func NewFolderSyncRepository(db *gorm.DB) interfaces.FolderSyncRepository {
	return &folderSyncRepository{db: db}
}

func (r *folderSyncRepository) GetState(ctx context.Context, accountID, folderName string) (*models.FolderSyncState, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderSyncRepository.GetState")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var state models.FolderSyncState
	result := r.db.WithContext(ctx).
		Where("account_id = ? AND folder_name = ?", accountID, folderName).
		First(&state)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil // no sync state yet
		}
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to get folder sync state: %w", result.Error)
	}
	return &state, nil
}

func (r *folderSyncRepository) GetStates(ctx context.Context, accountID string) ([]*models.FolderSyncState, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderSyncRepository.GetStates")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var states []*models.FolderSyncState
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Find(&states).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to get folder sync states: %w", err)
	}
	return states, nil
}

func (r *folderSyncRepository) SaveState(ctx context.Context, state *models.FolderSyncState) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderSyncRepository.SaveState")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	state.LastSync = utils.Now()

	// Try to update first
	result := r.db.WithContext(ctx).
		Model(&models.FolderSyncState{}).
		Where("account_id = ? AND folder_name = ?", state.AccountID, state.FolderName).
		Updates(map[string]interface{}{
			"synced_count": state.SyncedCount,
			"total_count":  state.TotalCount,
			"last_sync":    state.LastSync,
			"updated_at":   utils.Now(),
		})

	// If no record was updated, create a new one
	if result.RowsAffected == 0 {
		result = r.db.WithContext(ctx).Create(state)
	}

	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to save folder sync state: %w", result.Error)
	}
	return nil
}

func (r *folderSyncRepository) DeleteStates(ctx context.Context, accountID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderSyncRepository.DeleteStates")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	result := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Delete(&models.FolderSyncState{})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to delete folder sync states: %w", result.Error)
	}
	return nil
}
