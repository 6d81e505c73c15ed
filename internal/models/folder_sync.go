package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/worksphere/mailsync/internal/utils"
)

// FolderSyncState is the legacy structured cursor used by the full-sync
// walker: per-folder synced/total counts, independent of the UID cursors.
type FolderSyncState struct {
	ID          string    `gorm:"column:id;type:varchar(50);primaryKey"`
	AccountID   string    `gorm:"column:account_id;type:varchar(50);not null;uniqueIndex:idx_account_folder"`
	FolderName  string    `gorm:"column:folder_name;type:varchar(100);not null;uniqueIndex:idx_account_folder"`
	SyncedCount int       `gorm:"column:synced_count;not null;default:0"`
	TotalCount  int       `gorm:"column:total_count;not null;default:0"`
	LastSync    time.Time `gorm:"column:last_sync;type:timestamp"`
	CreatedAt   time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp"`
	UpdatedAt   time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp"`
}

func (FolderSyncState) TableName() string {
	return "folder_sync_states"
}

func (s *FolderSyncState) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = utils.GenerateNanoIDWithPrefix("fsync", 16)
	}
	return nil
}

// Done reports whether the walker has exhausted this folder.
func (s *FolderSyncState) Done() bool {
	return s.SyncedCount >= s.TotalCount
}
