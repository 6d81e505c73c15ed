package interfaces

import (
	"context"
	"time"

	"github.com/worksphere/mailsync/internal/enum"
	"github.com/worksphere/mailsync/internal/models"
)

// AccountRepository persists accounts with field-level updates only: the
// account row is mutated by several independent job types, so a writer must
// never overwrite fields it does not own.
type AccountRepository interface {
	Create(ctx context.Context, account *models.Account) error
	GetByID(ctx context.Context, id string) (*models.Account, error)
	ListSyncable(ctx context.Context) ([]*models.Account, error)
	ListBackfillable(ctx context.Context) ([]*models.Account, error)

	UpdateFields(ctx context.Context, id string, fields map[string]interface{}) error
	UpdateSyncStatus(ctx context.Context, id string, status enum.SyncStatus, lastError string) error

	// AdvanceForwardCursor takes the max of the stored and new value, so a
	// stale overlapping crawler run can never move the cursor backward.
	AdvanceForwardCursor(ctx context.Context, id string, uid uint32) error

	// LowerBackfillCursor takes the min of the stored and new value, with 0
	// treated as unset.
	LowerBackfillCursor(ctx context.Context, id string, uid uint32) error

	SetBackfillComplete(ctx context.Context, id string) error

	// RecordAuthFailure increments consecutive_failures and returns the new
	// count; ResetAuthFailures clears the counter and needs_reauth.
	RecordAuthFailure(ctx context.Context, id string, lastError string) (int, error)
	ResetAuthFailures(ctx context.Context, id string) error
	TripCircuitBreaker(ctx context.Context, id string, lastError string) error

	SaveOAuthToken(ctx context.Context, id string, accessToken string, expiry time.Time) error
}

// EmailRepository is the idempotent store: Store inserts a message unless one
// with the same (account, folder, uid) triple already exists.
type EmailRepository interface {
	Store(ctx context.Context, email *models.Email) (created bool, err error)
	StoreAttachments(ctx context.Context, emailID string, attachments []models.EmailAttachment) error
	Exists(ctx context.Context, accountID, folder string, uid uint32) (bool, error)
	GetByUID(ctx context.Context, accountID, folder string, uid uint32) (*models.Email, error)
	CountByAccount(ctx context.Context, accountID string) (int64, error)
	ListByFolder(ctx context.Context, accountID, folder string, limit, offset int) ([]*models.Email, int64, error)
}

// FolderSyncRepository persists the legacy per-folder synced/total cursor
// used by the seed phase and the full-sync walker.
type FolderSyncRepository interface {
	GetState(ctx context.Context, accountID, folderName string) (*models.FolderSyncState, error)
	GetStates(ctx context.Context, accountID string) ([]*models.FolderSyncState, error)
	SaveState(ctx context.Context, state *models.FolderSyncState) error
	DeleteStates(ctx context.Context, accountID string) error
}

// SyncLogRepository appends audit entries; the engine never updates or
// deletes them.
type SyncLogRepository interface {
	Append(ctx context.Context, accountID, action string, details map[string]interface{}) error
	ListByAccount(ctx context.Context, accountID string, limit int) ([]*models.SyncLog, error)
}
