package sync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worksphere/mailsync/internal/enum"
	"github.com/worksphere/mailsync/internal/models"
)

func TestRunBackfill_StartsFromForwardCursor(t *testing.T) {
	account := testAccount("acct-bf-1")
	account.ForwardUIDCursor = 100
	h := newTestHarness(account)
	h.adapter.addFolder(enum.FolderInbox, "INBOX", 40, 50, 60, 100)

	err := h.service.runBackfill(context.Background(), account.ID)
	require.NoError(t, err)

	updated, _ := h.accounts.GetByID(context.Background(), account.ID)
	// Only UIDs below the boundary are ingested; 100 is forward territory.
	assert.Equal(t, 3, h.emails.count())
	assert.Equal(t, uint32(40), updated.BackfillUIDCursor)
	assert.True(t, updated.BackfillComplete)
}

func TestRunBackfill_BoundaryOnlyMovesDown(t *testing.T) {
	account := testAccount("acct-bf-2")
	account.ForwardUIDCursor = 100
	account.BackfillUIDCursor = 50
	h := newTestHarness(account)
	h.adapter.addFolder(enum.FolderInbox, "INBOX", 10, 20, 60, 70)

	err := h.service.runBackfill(context.Background(), account.ID)
	require.NoError(t, err)

	updated, _ := h.accounts.GetByID(context.Background(), account.ID)
	// 60 and 70 sit above the boundary and are left to the forward crawler.
	assert.Equal(t, 2, h.emails.count())
	assert.Equal(t, uint32(10), updated.BackfillUIDCursor)
}

func TestRunBackfill_RequeuesWhileMoreHistoryRemains(t *testing.T) {
	account := testAccount("acct-bf-3")
	account.ForwardUIDCursor = 1000
	h := newTestHarness(account)

	uids := make([]uint32, 0, backfillBatchSize+10)
	for i := 1; i <= backfillBatchSize+10; i++ {
		uids = append(uids, uint32(i))
	}
	h.adapter.addFolder(enum.FolderInbox, "INBOX", uids...)

	err := h.service.runBackfill(context.Background(), account.ID)
	require.NoError(t, err)

	updated, _ := h.accounts.GetByID(context.Background(), account.ID)
	assert.False(t, updated.BackfillComplete)
	assert.True(t, h.queue.hasKind(jobKindBackfill), "continuation job should be scheduled")
	assert.Equal(t, backfillBatchSize, h.emails.count())

	// The next run drains the remainder and terminates.
	err = h.service.runBackfill(context.Background(), account.ID)
	require.NoError(t, err)

	updated, _ = h.accounts.GetByID(context.Background(), account.ID)
	assert.True(t, updated.BackfillComplete)
	assert.Equal(t, uint32(1), updated.BackfillUIDCursor)
	assert.Equal(t, backfillBatchSize+10, h.emails.count())
	assert.NotNil(t, updated.LastBackfillAt)
}

func TestRunBackfill_NoBoundaryYetRequeues(t *testing.T) {
	account := testAccount("acct-bf-4")
	h := newTestHarness(account)

	err := h.service.runBackfill(context.Background(), account.ID)
	require.NoError(t, err)

	// Nothing to descend from before the forward crawler bootstraps.
	assert.Equal(t, 0, h.adapter.connectCalls)
	assert.True(t, h.queue.hasKind(jobKindBackfill))
}

func TestRunBackfill_AlreadyCompleteIsNoOp(t *testing.T) {
	account := testAccount("acct-bf-5")
	account.ForwardUIDCursor = 100
	account.BackfillComplete = true
	h := newTestHarness(account)

	err := h.service.runBackfill(context.Background(), account.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, h.adapter.connectCalls)
	assert.Empty(t, h.queue.kinds())
}

func TestRunBackfill_EmptyHistoryCompletesImmediately(t *testing.T) {
	account := testAccount("acct-bf-6")
	account.ForwardUIDCursor = 5
	h := newTestHarness(account)
	h.adapter.addFolder(enum.FolderInbox, "INBOX", 5)

	err := h.service.runBackfill(context.Background(), account.ID)
	require.NoError(t, err)

	updated, _ := h.accounts.GetByID(context.Background(), account.ID)
	assert.True(t, updated.BackfillComplete)
	// The starting boundary is still recorded for progress reporting.
	assert.Equal(t, uint32(5), updated.BackfillUIDCursor)
	assert.True(t, h.syncLogs.has(models.SyncLogBackfillBatch))
}
