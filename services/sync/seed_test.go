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

func TestRunSeed_IngestsLatestSliceOfEveryPriorityFolder(t *testing.T) {
	account := testAccount("acct-seed-1")
	account.SyncStatus = enum.SyncStatusSeeding
	h := newTestHarness(account)
	h.adapter.addFolder(enum.FolderInbox, "INBOX", 1, 2, 3)
	h.adapter.addFolder(enum.FolderSent, "Sent", 7, 8)

	err := h.service.runSeed(context.Background(), account.ID)
	require.NoError(t, err)

	assert.Equal(t, 5, h.emails.count())

	updated, _ := h.accounts.GetByID(context.Background(), account.ID)
	assert.Equal(t, enum.SyncStatusSyncing, updated.SyncStatus)
	assert.True(t, h.syncLogs.has(models.SyncLogSeedCompleted))

	// Seed hands off to the ongoing crawlers.
	assert.True(t, h.queue.hasKind(jobKindForward))
	assert.True(t, h.queue.hasKind(jobKindBackfill))
	assert.True(t, h.queue.hasKind(jobKindFullSync))
}

func TestRunSeed_MissingFolderRecordsZeroState(t *testing.T) {
	account := testAccount("acct-seed-2")
	account.SyncStatus = enum.SyncStatusSeeding
	h := newTestHarness(account)
	h.adapter.addFolder(enum.FolderInbox, "INBOX", 1)

	err := h.service.runSeed(context.Background(), account.ID)
	require.NoError(t, err)

	// Folders the server does not expose still get a walk state so the
	// full sync treats them as already done.
	state, err := h.folderSync.GetState(context.Background(), account.ID, enum.FolderSent.String())
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, 0, state.SyncedCount)
	assert.Equal(t, 0, state.TotalCount)
	assert.True(t, state.Done())
}

func TestRunSeed_EmptyFolderRecordsZeroState(t *testing.T) {
	account := testAccount("acct-seed-3")
	account.SyncStatus = enum.SyncStatusSeeding
	h := newTestHarness(account)
	h.adapter.addFolder(enum.FolderInbox, "INBOX")

	err := h.service.runSeed(context.Background(), account.ID)
	require.NoError(t, err)

	state, err := h.folderSync.GetState(context.Background(), account.ID, enum.FolderInbox.String())
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.True(t, state.Done())
	assert.Equal(t, 0, h.emails.count())
}

func TestRunSeed_ConnectFailureMarksAccountFailed(t *testing.T) {
	account := testAccount("acct-seed-4")
	account.SyncStatus = enum.SyncStatusSeeding
	h := newTestHarness(account)
	h.adapter.connectErr = er.ErrConnectionTimeout

	err := h.service.runSeed(context.Background(), account.ID)
	require.Error(t, err)

	updated, _ := h.accounts.GetByID(context.Background(), account.ID)
	assert.Equal(t, enum.SyncStatusFailed, updated.SyncStatus)
	assert.True(t, h.syncLogs.has(models.SyncLogSeedFailed))
}

func TestStartSeed_RejectsNonPendingAccount(t *testing.T) {
	account := testAccount("acct-seed-5")
	account.SyncStatus = enum.SyncStatusCompleted
	h := newTestHarness(account)

	err := h.service.StartSeed(context.Background(), account.ID)
	assert.ErrorIs(t, err, er.ErrAccountNotSyncable)
	assert.Empty(t, h.queue.kinds())
}

func TestStartSeed_TransitionsToSeedingAndEnqueues(t *testing.T) {
	account := testAccount("acct-seed-6")
	account.SyncStatus = enum.SyncStatusPending
	h := newTestHarness(account)

	err := h.service.StartSeed(context.Background(), account.ID)
	require.NoError(t, err)

	updated, _ := h.accounts.GetByID(context.Background(), account.ID)
	assert.Equal(t, enum.SyncStatusSeeding, updated.SyncStatus)
	assert.NotNil(t, updated.SyncStartedAt)
	assert.True(t, h.queue.hasKind(jobKindSeed))
	assert.True(t, h.syncLogs.has(models.SyncLogSeedStarted))
}
