package sync

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/worksphere/mailsync/internal/enum"
	er "github.com/worksphere/mailsync/internal/errors"
	"github.com/worksphere/mailsync/internal/models"
	"github.com/worksphere/mailsync/internal/tracing"
	"github.com/worksphere/mailsync/internal/utils"
)

// runBackfill processes one batch of history below the backfill boundary and
// schedules its own continuation. The boundary only ever moves down; when no
// boundary exists yet it starts from the forward crawler's bootstrap point,
// which keeps the two crawls from overlapping.
func (s *Service) runBackfill(ctx context.Context, accountID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SyncService.runBackfill")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if !account.Syncable() || account.BackfillComplete {
		return nil
	}

	boundary := account.BackfillUIDCursor
	if boundary == 0 {
		boundary = account.ForwardUIDCursor
	}
	if boundary == 0 {
		// The forward crawler has not bootstrapped yet; there is no point to
		// descend from. Try again shortly.
		return s.enqueueBackfill(ctx, accountID, backfillRequeueDelay)
	}
	span.SetTag("boundary.before", boundary)

	adapter := s.adapters.AdapterFor(account)
	if err := s.connectAdapter(ctx, account, adapter); err != nil {
		tracing.TraceErr(span, err)
		s.appendLog(ctx, accountID, models.SyncLogBackfillFailed, map[string]interface{}{"error": err.Error()})
		return err
	}
	defer adapter.Close()

	var folderNames []string
	for _, folder := range enum.PriorityFolders() {
		folderName, err := adapter.GetFolderName(ctx, folder)
		if err != nil {
			if errors.Is(err, er.ErrFolderNotFound) {
				continue
			}
			tracing.TraceErr(span, err)
			return err
		}
		folderNames = append(folderNames, folderName)
	}

	batch, err := adapter.FetchOlderMessages(ctx, folderNames, boundary, backfillBatchSize)
	if err != nil {
		tracing.TraceErr(span, err)
		s.appendLog(ctx, accountID, models.SyncLogBackfillFailed, map[string]interface{}{
			"boundary": boundary,
			"error":    err.Error(),
		})
		return err
	}

	stored := s.storeMessages(ctx, account, batch.Messages)

	if batch.NewCursor > 0 && batch.NewCursor < boundary {
		if err := s.accounts.LowerBackfillCursor(ctx, accountID, batch.NewCursor); err != nil {
			tracing.TraceErr(span, err)
			return err
		}
	} else if account.BackfillUIDCursor == 0 {
		// Record the starting boundary even when the very first batch came
		// back empty, so progress reporting has a denominator.
		if err := s.accounts.LowerBackfillCursor(ctx, accountID, boundary); err != nil {
			tracing.TraceErr(span, err)
			return err
		}
	}

	s.appendLog(ctx, accountID, models.SyncLogBackfillBatch, map[string]interface{}{
		"boundary_before": boundary,
		"boundary_after":  batch.NewCursor,
		"fetched":         len(batch.Messages),
		"stored":          stored,
		"has_more":        batch.HasMore,
	})
	span.SetTag("boundary.after", batch.NewCursor)
	span.SetTag("messages.fetched", len(batch.Messages))
	span.SetTag("has_more", batch.HasMore)

	if batch.HasMore {
		return s.enqueueBackfill(ctx, accountID, backfillRequeueDelay)
	}

	if err := s.accounts.SetBackfillComplete(ctx, accountID); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if err := s.accounts.UpdateFields(ctx, accountID, map[string]interface{}{
		"last_backfill_at": utils.Now(),
	}); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	s.log.Infof("[%s] backfill complete at boundary %d", accountID, batch.NewCursor)
	s.maybeCompleteInitialSync(ctx, accountID)

	return nil
}
