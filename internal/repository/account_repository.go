package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/worksphere/mailsync/interfaces"
	"github.com/worksphere/mailsync/internal/enum"
	er "github.com/worksphere/mailsync/internal/errors"
	"github.com/worksphere/mailsync/internal/models"
	"github.com/worksphere/mailsync/internal/tracing"
	"github.com/worksphere/mailsync/internal/utils"
)

// circuit breaker threshold: consecutive token-refresh failures before the
// account is halted until re-authentication
const MaxConsecutiveAuthFailures = 3

type accountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) interfaces.AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) Create(ctx context.Context, account *models.Account) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.Create")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	if err := r.db.WithContext(ctx).Create(account).Error; err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (r *accountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.GetByID")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, id)

	var account models.Account
	result := r.db.WithContext(ctx).Where("id = ?", id).First(&account)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, er.ErrAccountNotFound
		}
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to get account: %w", result.Error)
	}
	return &account, nil
}

func (r *accountRepository) ListSyncable(ctx context.Context) ([]*models.Account, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.ListSyncable")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var accounts []*models.Account
	err := r.db.WithContext(ctx).
		Where("active = ? AND verified = ? AND needs_reauth = ?", true, true, false).
		Where("sync_status IN ?", []enum.SyncStatus{enum.SyncStatusSeeding, enum.SyncStatusSyncing, enum.SyncStatusCompleted}).
		Find(&accounts).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to list syncable accounts: %w", err)
	}
	return accounts, nil
}

func (r *accountRepository) ListBackfillable(ctx context.Context) ([]*models.Account, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.ListBackfillable")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var accounts []*models.Account
	err := r.db.WithContext(ctx).
		Where("active = ? AND verified = ? AND needs_reauth = ?", true, true, false).
		Where("backfill_complete = ?", false).
		Where("forward_uid_cursor > 0").
		Find(&accounts).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to list backfillable accounts: %w", err)
	}
	return accounts, nil
}

// UpdateFields applies a field-level update. Concurrent job types mutate
// disjoint columns of the same row, so whole-row saves are never used.
func (r *accountRepository) UpdateFields(ctx context.Context, id string, fields map[string]interface{}) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.UpdateFields")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, id)

	fields["updated_at"] = utils.Now()
	err := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ?", id).
		Updates(fields).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to update account fields: %w", err)
	}
	return nil
}

func (r *accountRepository) UpdateSyncStatus(ctx context.Context, id string, status enum.SyncStatus, lastError string) error {
	return r.UpdateFields(ctx, id, map[string]interface{}{
		"sync_status": status,
		"last_error":  lastError,
	})
}

// AdvanceForwardCursor is monotonic: two overlapping crawler runs may race a
// stale read against a stale write, so the store takes the max instead of
// overwriting unconditionally.
func (r *accountRepository) AdvanceForwardCursor(ctx context.Context, id string, uid uint32) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.AdvanceForwardCursor")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, id)

	err := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"forward_uid_cursor":   gorm.Expr("GREATEST(forward_uid_cursor, ?)", uid),
			"last_forward_sync_at": utils.Now(),
			"updated_at":           utils.Now(),
		}).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to advance forward cursor: %w", err)
	}
	return nil
}

// LowerBackfillCursor is monotonic in the other direction; 0 means unset.
func (r *accountRepository) LowerBackfillCursor(ctx context.Context, id string, uid uint32) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.LowerBackfillCursor")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, id)

	err := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"backfill_uid_cursor": gorm.Expr("CASE WHEN backfill_uid_cursor = 0 THEN ? ELSE LEAST(backfill_uid_cursor, ?) END", uid, uid),
			"last_backfill_at":    utils.Now(),
			"updated_at":          utils.Now(),
		}).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to lower backfill cursor: %w", err)
	}
	return nil
}

func (r *accountRepository) SetBackfillComplete(ctx context.Context, id string) error {
	return r.UpdateFields(ctx, id, map[string]interface{}{
		"backfill_complete": true,
		"last_backfill_at":  utils.Now(),
	})
}

func (r *accountRepository) RecordAuthFailure(ctx context.Context, id string, lastError string) (int, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.RecordAuthFailure")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, id)

	err := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"consecutive_failures": gorm.Expr("consecutive_failures + 1"),
			"last_error":           lastError,
			"updated_at":           utils.Now(),
		}).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return 0, fmt.Errorf("failed to record auth failure: %w", err)
	}

	var count int
	err = r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ?", id).
		Pluck("consecutive_failures", &count).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return 0, err
	}
	return count, nil
}

func (r *accountRepository) ResetAuthFailures(ctx context.Context, id string) error {
	return r.UpdateFields(ctx, id, map[string]interface{}{
		"consecutive_failures": 0,
		"needs_reauth":         false,
	})
}

func (r *accountRepository) TripCircuitBreaker(ctx context.Context, id string, lastError string) error {
	return r.UpdateFields(ctx, id, map[string]interface{}{
		"needs_reauth": true,
		"sync_status":  enum.SyncStatusFailed,
		"last_error":   lastError,
	})
}

func (r *accountRepository) SaveOAuthToken(ctx context.Context, id string, accessToken string, expiry time.Time) error {
	return r.UpdateFields(ctx, id, map[string]interface{}{
		"oauth_access_token": accessToken,
		"oauth_token_expiry": expiry,
	})
}
