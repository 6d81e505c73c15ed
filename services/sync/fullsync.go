package sync

import (
	"context"
	"sync"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/worksphere/mailsync/interfaces"
	"github.com/worksphere/mailsync/internal/enum"
	er "github.com/worksphere/mailsync/internal/errors"
	"github.com/worksphere/mailsync/internal/models"
	"github.com/worksphere/mailsync/internal/tracing"
)

// runFullSyncChunk advances the exhaustive folder walk by one chunk per
// pending folder and schedules its own continuation. The persisted per-folder
// synced/total counts are the continuation token; a killed job resumes at the
// last saved offset.
//
// Folders are walked concurrently up to the provider's parallel ceiling, each
// extra walker on its own connection.
func (s *Service) runFullSyncChunk(ctx context.Context, accountID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SyncService.runFullSyncChunk")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if !account.Syncable() {
		return nil
	}

	adapter := s.adapters.AdapterFor(account)
	if err := s.connectAdapter(ctx, account, adapter); err != nil {
		tracing.TraceErr(span, err)
		s.appendLog(ctx, accountID, models.SyncLogFullSyncFailed, map[string]interface{}{"error": err.Error()})
		return err
	}
	defer adapter.Close()

	pending, err := s.pendingFolders(ctx, account, adapter)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	if len(pending) == 0 {
		span.SetTag("walk.done", true)
		s.maybeCompleteInitialSync(ctx, accountID)
		return nil
	}

	parallel := adapter.MaxParallelFolders()
	if parallel < 1 {
		parallel = 1
	}
	if parallel > len(pending) {
		parallel = len(pending)
	}
	span.SetTag("folders.pending", len(pending))
	span.SetTag("folders.parallel", parallel)

	var wg sync.WaitGroup
	walkErrors := make(chan error, parallel)

	for i := 0; i < parallel; i++ {
		pf := pending[i]
		ownConnection := i > 0

		wg.Add(1)
		go func() {
			defer wg.Done()

			folderAdapter := adapter
			if ownConnection {
				folderAdapter = s.adapters.AdapterFor(account)
				if err := folderAdapter.Connect(ctx); err != nil {
					walkErrors <- err
					return
				}
				defer folderAdapter.Close()
			}

			if err := s.walkFolderChunk(ctx, account, folderAdapter, pf.name, pf.state); err != nil {
				walkErrors <- err
			}
		}()
	}

	wg.Wait()
	close(walkErrors)

	for err := range walkErrors {
		tracing.TraceErr(span, err)
		s.appendLog(ctx, accountID, models.SyncLogFullSyncFailed, map[string]interface{}{"error": err.Error()})
		return err
	}

	return s.enqueueFullSync(ctx, accountID, fullSyncRequeueDelay)
}

type pendingFolder struct {
	name  string
	state *models.FolderSyncState
}

// pendingFolders refreshes the totals of every walkable folder and returns
// the ones not yet exhausted, in walk order.
func (s *Service) pendingFolders(ctx context.Context, account *models.Account, adapter interfaces.ProviderAdapter) ([]pendingFolder, error) {
	var pending []pendingFolder

	for _, folder := range enum.AllFolders() {
		folderName, err := adapter.GetFolderName(ctx, folder)
		if err != nil {
			if errors.Is(err, er.ErrFolderNotFound) {
				if err := s.saveFolderState(ctx, account.ID, folder.String(), 0, 0); err != nil {
					return nil, err
				}
				continue
			}
			return nil, err
		}

		status, err := adapter.GetFolderStatus(ctx, folderName)
		if err != nil {
			return nil, err
		}

		state, err := s.folderSync.GetState(ctx, account.ID, folder.String())
		if err != nil {
			return nil, err
		}
		if state == nil {
			state = &models.FolderSyncState{
				AccountID:  account.ID,
				FolderName: folder.String(),
			}
		}

		state.TotalCount = int(status.Exists)
		if state.Done() {
			if err := s.folderSync.SaveState(ctx, state); err != nil {
				return nil, err
			}
			continue
		}

		pending = append(pending, pendingFolder{name: folderName, state: state})
	}

	return pending, nil
}

// walkFolderChunk ingests one offset chunk of a folder and persists the
// advanced state. An empty page means the offset ran past the mailbox, which
// happens when messages were deleted since the total was recorded; the folder
// is then marked exhausted.
func (s *Service) walkFolderChunk(ctx context.Context, account *models.Account, adapter interfaces.ProviderAdapter, folderName string, state *models.FolderSyncState) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SyncService.walkFolderChunk")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, account.ID)
	tracing.TagFolder(span, folderName)
	span.SetTag("offset", state.SyncedCount)

	messages, err := adapter.FetchMessages(ctx, folderName, state.SyncedCount, fullSyncChunkSize)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	if len(messages) == 0 {
		state.SyncedCount = state.TotalCount
	} else {
		s.storeMessages(ctx, account, messages)
		state.SyncedCount += len(messages)
	}

	if err := s.folderSync.SaveState(ctx, state); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	s.appendLog(ctx, account.ID, models.SyncLogFullSyncChunk, map[string]interface{}{
		"folder": state.FolderName,
		"synced": state.SyncedCount,
		"total":  state.TotalCount,
	})
	span.SetTag("messages.count", len(messages))

	return nil
}
