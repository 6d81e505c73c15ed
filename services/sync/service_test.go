package sync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worksphere/mailsync/internal/enum"
	er "github.com/worksphere/mailsync/internal/errors"
	"github.com/worksphere/mailsync/internal/models"
)

func TestGetSyncProgress_PendingAccount(t *testing.T) {
	account := testAccount("acct-prog-1")
	account.SyncStatus = enum.SyncStatusPending
	h := newTestHarness(account)

	progress, err := h.service.GetSyncProgress(context.Background(), account.ID)
	require.NoError(t, err)

	assert.Equal(t, enum.SyncPhasePending, progress.Phase)
	assert.Equal(t, float64(0), progress.OverallPercent)
	assert.False(t, progress.CanUseEmail)
}

func TestGetSyncProgress_BootstrappingBeforeFirstCursor(t *testing.T) {
	account := testAccount("acct-prog-2")
	h := newTestHarness(account)

	progress, err := h.service.GetSyncProgress(context.Background(), account.ID)
	require.NoError(t, err)

	assert.Equal(t, enum.SyncPhaseBootstrapping, progress.Phase)
	assert.Equal(t, float64(5), progress.OverallPercent)
	assert.False(t, progress.CanUseEmail)
}

func TestGetSyncProgress_BackfillingScalesWithCursorDescent(t *testing.T) {
	account := testAccount("acct-prog-3")
	account.ForwardUIDCursor = 1000
	account.BackfillUIDCursor = 500
	h := newTestHarness(account)

	progress, err := h.service.GetSyncProgress(context.Background(), account.ID)
	require.NoError(t, err)

	assert.Equal(t, enum.SyncPhaseBackfilling, progress.Phase)
	// Halfway down the history maps to the middle of the 10..50 band.
	assert.InDelta(t, 30, progress.OverallPercent, 0.5)
	assert.True(t, progress.CanUseEmail)
}

func TestGetSyncProgress_FullWalkScalesWithFolderCounts(t *testing.T) {
	account := testAccount("acct-prog-4")
	account.ForwardUIDCursor = 1000
	account.BackfillUIDCursor = 1
	account.BackfillComplete = true
	h := newTestHarness(account)

	require.NoError(t, h.folderSync.SaveState(context.Background(), &models.FolderSyncState{
		AccountID:   account.ID,
		FolderName:  enum.FolderInbox.String(),
		SyncedCount: 50,
		TotalCount:  100,
	}))

	progress, err := h.service.GetSyncProgress(context.Background(), account.ID)
	require.NoError(t, err)

	assert.Equal(t, enum.SyncPhaseFullWalk, progress.Phase)
	assert.InDelta(t, 75, progress.OverallPercent, 0.5)
	assert.Equal(t, 50, progress.Folders[enum.FolderInbox.String()].Synced)
}

func TestGetSyncProgress_Complete(t *testing.T) {
	account := testAccount("acct-prog-5")
	account.SyncStatus = enum.SyncStatusCompleted
	account.ForwardUIDCursor = 1000
	account.BackfillUIDCursor = 1
	account.BackfillComplete = true
	h := newTestHarness(account)

	require.NoError(t, h.folderSync.SaveState(context.Background(), &models.FolderSyncState{
		AccountID:   account.ID,
		FolderName:  enum.FolderInbox.String(),
		SyncedCount: 100,
		TotalCount:  100,
	}))

	progress, err := h.service.GetSyncProgress(context.Background(), account.ID)
	require.NoError(t, err)

	assert.Equal(t, enum.SyncPhaseComplete, progress.Phase)
	assert.Equal(t, float64(100), progress.OverallPercent)
}

func TestGetSyncProgress_UnknownAccount(t *testing.T) {
	h := newTestHarness()

	_, err := h.service.GetSyncProgress(context.Background(), "nope")
	assert.ErrorIs(t, err, er.ErrAccountNotFound)
}

func TestContinueSync_SchedulesAllCrawlers(t *testing.T) {
	account := testAccount("acct-cont-1")
	h := newTestHarness(account)

	err := h.service.ContinueSync(context.Background(), account.ID)
	require.NoError(t, err)

	assert.True(t, h.queue.hasKind(jobKindForward))
	assert.True(t, h.queue.hasKind(jobKindBackfill))
	assert.True(t, h.queue.hasKind(jobKindFullSync))
}

func TestContinueSync_RejectsTrippedAccount(t *testing.T) {
	account := testAccount("acct-cont-2")
	account.NeedsReauth = true
	h := newTestHarness(account)

	err := h.service.ContinueSync(context.Background(), account.ID)
	assert.ErrorIs(t, err, er.ErrAccountNotSyncable)
	assert.Empty(t, h.queue.kinds())
}

func TestMarkSyncFailed_RecordsErrorAndPublishes(t *testing.T) {
	account := testAccount("acct-fail-1")
	h := newTestHarness(account)

	err := h.service.MarkSyncFailed(context.Background(), account.ID, er.ErrConnectionTimeout)
	require.NoError(t, err)

	updated, _ := h.accounts.GetByID(context.Background(), account.ID)
	assert.Equal(t, enum.SyncStatusFailed, updated.SyncStatus)
	assert.Equal(t, er.ErrConnectionTimeout.Error(), updated.LastError)
	assert.True(t, h.syncLogs.has(models.SyncLogStatusChanged))
	assert.Equal(t, 1, h.publisher.statusChangeCount())
}

func TestMarkSyncCompleted_IsIdempotent(t *testing.T) {
	account := testAccount("acct-comp-1")
	h := newTestHarness(account)

	require.NoError(t, h.service.MarkSyncCompleted(context.Background(), account.ID))
	require.NoError(t, h.service.MarkSyncCompleted(context.Background(), account.ID))

	// Only the first transition announces completion.
	assert.Len(t, h.publisher.completions, 1)

	updated, _ := h.accounts.GetByID(context.Background(), account.ID)
	assert.Equal(t, enum.SyncStatusCompleted, updated.SyncStatus)
	assert.NotNil(t, updated.InitialSyncCompletedAt)
}
