package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/worksphere/mailsync/internal/utils"
)

// SyncLog is an append-only audit record of engine activity. Entries are
// never updated or deleted; they exist for observability, not correctness.
type SyncLog struct {
	ID        string    `gorm:"column:id;type:varchar(50);primaryKey"`
	AccountID string    `gorm:"column:account_id;type:varchar(50);index;not null"`
	Action    string    `gorm:"column:action;type:varchar(100);index;not null"`
	Details   JSONMap   `gorm:"column:details;type:jsonb"`
	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp"`
}

func (SyncLog) TableName() string {
	return "sync_logs"
}

func (l *SyncLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = utils.GenerateNanoIDWithPrefix("slog", 16)
	}
	l.CreatedAt = utils.Now()
	return nil
}

// Common sync log actions.
const (
	SyncLogSeedStarted     = "seed_started"
	SyncLogSeedCompleted   = "seed_completed"
	SyncLogSeedFailed      = "seed_failed"
	SyncLogForwardCrawl    = "forward_crawl"
	SyncLogForwardFailed   = "forward_crawl_failed"
	SyncLogBackfillBatch   = "backfill_batch"
	SyncLogBackfillFailed  = "backfill_failed"
	SyncLogFullSyncChunk   = "full_sync_chunk"
	SyncLogFullSyncFailed  = "full_sync_failed"
	SyncLogTokenRefreshed  = "token_refreshed"
	SyncLogBreakerTripped  = "circuit_breaker_tripped"
	SyncLogStatusChanged   = "status_changed"
	SyncLogInitialComplete = "initial_sync_completed"
)
