package sync

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/worksphere/mailsync/interfaces"
	"github.com/worksphere/mailsync/internal/enum"
	er "github.com/worksphere/mailsync/internal/errors"
	"github.com/worksphere/mailsync/internal/models"
	"github.com/worksphere/mailsync/internal/tracing"
	"github.com/worksphere/mailsync/services/provider"
)

// runForward is one forward crawl pass over the priority folders on a single
// connection. First run bootstraps the cursor from the latest UIDs; steady
// state fetches only what arrived above the cursor, capped per run. The
// cursor only ever moves up, and only after the batch is stored.
func (s *Service) runForward(ctx context.Context, accountID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SyncService.runForward")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if !account.Syncable() || !account.SyncStatus.AllowsForwardCrawl() {
		return er.ErrAccountNotSyncable
	}

	adapter := s.adapters.AdapterFor(account)
	if err := s.connectAdapter(ctx, account, adapter); err != nil {
		tracing.TraceErr(span, err)
		s.appendLog(ctx, accountID, models.SyncLogForwardFailed, map[string]interface{}{"error": err.Error()})
		return err
	}
	defer adapter.Close()

	cursor := account.ForwardUIDCursor
	span.SetTag("cursor.before", cursor)

	fetched := 0
	highest := cursor

	// The batch cap is shared by the whole run, not per folder. Whatever a
	// capped run leaves behind is still above the cursor for the next run.
	remaining := forwardBatchLimit

	for _, folder := range enum.PriorityFolders() {
		if cursor > 0 && remaining <= 0 {
			break
		}

		folderName, err := adapter.GetFolderName(ctx, folder)
		if err != nil {
			if errors.Is(err, er.ErrFolderNotFound) {
				continue
			}
			tracing.TraceErr(span, err)
			return err
		}

		var count int
		var folderHighest uint32
		if cursor == 0 {
			count, folderHighest, err = s.bootstrapFolder(ctx, account, adapter, folderName)
		} else {
			count, folderHighest, err = s.crawlFolderSince(ctx, account, adapter, folderName, cursor, remaining)
			remaining -= count
		}
		if err != nil {
			s.appendLog(ctx, accountID, models.SyncLogForwardFailed, map[string]interface{}{
				"folder": folderName,
				"error":  err.Error(),
			})
			// A dead connection fails every remaining folder the same way.
			if provider.IsConnectionError(err) {
				tracing.TraceErr(span, err)
				return err
			}
			s.log.Warnf("[%s] forward crawl of %s failed, continuing with other folders: %v", accountID, folderName, err)
			continue
		}

		fetched += count
		if folderHighest > highest {
			highest = folderHighest
		}
	}

	if highest > 0 {
		if err := s.accounts.AdvanceForwardCursor(ctx, accountID, highest); err != nil {
			tracing.TraceErr(span, err)
			return err
		}
	}

	span.SetTag("cursor.after", highest)
	span.SetTag("messages.fetched", fetched)

	if fetched > 0 || cursor == 0 {
		s.appendLog(ctx, accountID, models.SyncLogForwardCrawl, map[string]interface{}{
			"cursor_before": cursor,
			"cursor_after":  highest,
			"fetched":       fetched,
		})
	}

	// The first advance from 0 flips CanUseEmail; tell the consumers.
	if cursor == 0 && highest > 0 {
		account.ForwardUIDCursor = highest
		if err := s.events.PublishAccountStatusChanged(ctx, account); err != nil {
			s.log.Warnf("failed to publish status change for %s: %v", accountID, err)
		}
	}

	return nil
}

// bootstrapFolder ingests the most recent UIDs of a folder on the very first
// forward run, establishing the point backfill will later descend from.
func (s *Service) bootstrapFolder(ctx context.Context, account *models.Account, adapter interfaces.ProviderAdapter, folderName string) (int, uint32, error) {
	uids, err := adapter.FetchLatestUIDs(ctx, folderName, forwardBootstrapCount)
	if err != nil {
		return 0, 0, err
	}
	if len(uids) == 0 {
		return 0, 0, nil
	}

	// FetchLatestUIDs returns descending order.
	highest := uids[0]

	messages, err := adapter.FetchMessagesByUID(ctx, folderName, uids)
	if err != nil {
		return 0, 0, err
	}

	s.storeMessages(ctx, account, messages)
	return len(messages), highest, nil
}

// crawlFolderSince ingests messages above the cursor, up to whatever is left
// of the run's batch budget. A folder whose uidnext says nothing is new is
// skipped without a search.
func (s *Service) crawlFolderSince(ctx context.Context, account *models.Account, adapter interfaces.ProviderAdapter, folderName string, cursor uint32, limit int) (int, uint32, error) {
	status, err := adapter.GetFolderStatus(ctx, folderName)
	if err != nil {
		return 0, 0, err
	}
	if status.UIDNext <= cursor+1 {
		return 0, 0, nil
	}

	uids, err := adapter.FetchUIDsSince(ctx, folderName, cursor, limit)
	if err != nil {
		return 0, 0, err
	}
	if len(uids) == 0 {
		return 0, 0, nil
	}

	// FetchUIDsSince returns ascending order.
	highest := uids[len(uids)-1]

	messages, err := adapter.FetchMessagesByUID(ctx, folderName, uids)
	if err != nil {
		return 0, 0, err
	}

	s.storeMessages(ctx, account, messages)
	return len(messages), highest, nil
}
