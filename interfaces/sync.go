package interfaces

import (
	"context"

	"github.com/worksphere/mailsync/internal/enum"
)

// SyncProgress is the aggregate progress view exposed to the rest of the
// system. CanUseEmail is the signal that decides whether the inbox is shown
// at all.
type SyncProgress struct {
	Status           enum.SyncStatus           `json:"status"`
	Phase            enum.SyncPhase            `json:"phase"`
	OverallPercent   float64                   `json:"overallPercent"`
	ForwardCursor    uint32                    `json:"forwardCursor"`
	BackfillCursor   uint32                    `json:"backfillCursor"`
	BackfillComplete bool                      `json:"backfillComplete"`
	CanUseEmail      bool                      `json:"canUseEmail"`
	NeedsReauth      bool                      `json:"needsReauth"`
	LastError        string                    `json:"lastError,omitempty"`
	Folders          map[string]FolderProgress `json:"folders"`
}

type FolderProgress struct {
	Synced int `json:"synced"`
	Total  int `json:"total"`
}

// SyncService is the orchestrator exposed to the rest of the system.
type SyncService interface {
	StartSeed(ctx context.Context, accountID string) error
	ContinueSync(ctx context.Context, accountID string) error
	FetchNewEmails(ctx context.Context, accountID string) error
	GetSyncProgress(ctx context.Context, accountID string) (*SyncProgress, error)
	MarkSyncCompleted(ctx context.Context, accountID string) error
	MarkSyncFailed(ctx context.Context, accountID string, cause error) error
}
