package sync

import (
	"context"
	"fmt"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/worksphere/mailsync/interfaces"
	"github.com/worksphere/mailsync/internal/enum"
	er "github.com/worksphere/mailsync/internal/errors"
	"github.com/worksphere/mailsync/internal/models"
	"github.com/worksphere/mailsync/internal/tracing"
	"github.com/worksphere/mailsync/internal/utils"
)

// runSeed is the initial quick sync: the most recent messages of every
// priority folder, so the user sees a populated mailbox within seconds of
// connecting the account.
//
// A single folder failing is tolerated and skipped; an authentication
// failure is fatal because every folder would fail the same way.
func (s *Service) runSeed(ctx context.Context, accountID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SyncService.runSeed")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	adapter := s.adapters.AdapterFor(account)
	if err := s.connectAdapter(ctx, account, adapter); err != nil {
		tracing.TraceErr(span, err)
		s.appendLog(ctx, accountID, models.SyncLogSeedFailed, map[string]interface{}{"error": err.Error()})
		if markErr := s.MarkSyncFailed(ctx, accountID, err); markErr != nil {
			s.log.Errorf("failed to mark account %s failed: %v", accountID, markErr)
		}
		return err
	}
	defer adapter.Close()

	seeded := 0
	for _, folder := range enum.PriorityFolders() {
		count, err := s.seedFolder(ctx, account, adapter, folder)
		if err != nil {
			// Skip the folder, the full walk picks it up later.
			s.log.Warnf("[%s] seed of %s failed: %v", accountID, folder, err)
			continue
		}
		seeded += count
	}

	if err := s.accounts.UpdateSyncStatus(ctx, accountID, enum.SyncStatusSyncing, ""); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	account.SyncStatus = enum.SyncStatusSyncing

	s.appendLog(ctx, accountID, models.SyncLogSeedCompleted, map[string]interface{}{
		"messages_seeded": seeded,
	})
	span.SetTag("messages.seeded", seeded)

	if err := s.events.PublishAccountStatusChanged(ctx, account); err != nil {
		s.log.Warnf("failed to publish status change for %s: %v", accountID, err)
	}

	return s.ContinueSync(ctx, accountID)
}

// seedFolder pulls the latest slice of one folder and records its walk state.
// Empty and missing folders record a zero state and count as already walked.
func (s *Service) seedFolder(ctx context.Context, account *models.Account, adapter interfaces.ProviderAdapter, folder enum.FolderType) (int, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SyncService.seedFolder")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, account.ID)
	tracing.TagFolder(span, folder.String())

	folderName, err := adapter.GetFolderName(ctx, folder)
	if err != nil {
		if errors.Is(err, er.ErrFolderNotFound) {
			return 0, s.saveFolderState(ctx, account.ID, folder.String(), 0, 0)
		}
		tracing.TraceErr(span, err)
		return 0, err
	}

	status, err := adapter.GetFolderStatus(ctx, folderName)
	if err != nil {
		tracing.TraceErr(span, err)
		return 0, err
	}

	if status.Exists == 0 {
		return 0, s.saveFolderState(ctx, account.ID, folder.String(), 0, 0)
	}

	messages, err := adapter.FetchLatestMessages(ctx, folderName, seedMessagesPerFolder)
	if err != nil {
		tracing.TraceErr(span, err)
		return 0, fmt.Errorf("failed to seed %s: %w", folderName, err)
	}

	s.storeMessages(ctx, account, messages)

	if err := s.saveFolderState(ctx, account.ID, folder.String(), len(messages), int(status.Exists)); err != nil {
		tracing.TraceErr(span, err)
		return len(messages), err
	}

	span.SetTag("messages.count", len(messages))
	return len(messages), nil
}

func (s *Service) saveFolderState(ctx context.Context, accountID, folderName string, synced, total int) error {
	state, err := s.folderSync.GetState(ctx, accountID, folderName)
	if err != nil {
		return err
	}
	if state == nil {
		state = &models.FolderSyncState{
			AccountID:  accountID,
			FolderName: folderName,
		}
	}

	if synced > state.SyncedCount {
		state.SyncedCount = synced
	}
	state.TotalCount = total
	state.LastSync = utils.Now()

	return s.folderSync.SaveState(ctx, state)
}
