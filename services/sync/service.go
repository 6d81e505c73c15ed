package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/worksphere/mailsync/interfaces"
	"github.com/worksphere/mailsync/internal/enum"
	er "github.com/worksphere/mailsync/internal/errors"
	"github.com/worksphere/mailsync/internal/logger"
	"github.com/worksphere/mailsync/internal/models"
	"github.com/worksphere/mailsync/internal/tracing"
	"github.com/worksphere/mailsync/internal/utils"
	"github.com/worksphere/mailsync/services/provider"
)

// Crawl tunables. Batch caps bound the work a single job run can do, so a
// crash loses at most one batch of progress.
const (
	seedMessagesPerFolder = 50
	seedTimeout           = 300 * time.Second

	forwardBootstrapCount = 50
	forwardBatchLimit     = 100
	forwardTimeout        = 60 * time.Second
	forwardLockTTL        = 2 * time.Minute

	backfillBatchSize    = 50
	backfillTimeout      = 420 * time.Second
	backfillLockTTL      = 300 * time.Second
	backfillRequeueDelay = 5 * time.Second

	fullSyncChunkSize    = 100
	fullSyncTimeout      = 300 * time.Second
	fullSyncRequeueDelay = 2 * time.Second
)

// backfillRetrySchedule spaces backfill retries out aggressively; history is
// not urgent and providers rate-limit deep scans.
var backfillRetrySchedule = []time.Duration{
	60 * time.Second,
	300 * time.Second,
	600 * time.Second,
	1200 * time.Second,
}

const (
	jobKindSeed     = "seed"
	jobKindForward  = "forward_crawl"
	jobKindBackfill = "backfill"
	jobKindFullSync = "full_sync"
)

// Service is the sync orchestrator: it owns the seed phase, schedules the
// crawlers on the job queue and derives the aggregate progress view.
type Service struct {
	log        logger.Logger
	accounts   interfaces.AccountRepository
	emails     interfaces.EmailRepository
	folderSync interfaces.FolderSyncRepository
	syncLogs   interfaces.SyncLogRepository
	adapters   interfaces.AdapterFactory
	tokens     *TokenManager
	events     interfaces.EventPublisher
	queue      interfaces.JobQueue
}

func NewService(
	log logger.Logger,
	accounts interfaces.AccountRepository,
	emails interfaces.EmailRepository,
	folderSync interfaces.FolderSyncRepository,
	syncLogs interfaces.SyncLogRepository,
	adapters interfaces.AdapterFactory,
	tokens *TokenManager,
	events interfaces.EventPublisher,
	queue interfaces.JobQueue,
) *Service {
	return &Service{
		log:        log,
		accounts:   accounts,
		emails:     emails,
		folderSync: folderSync,
		syncLogs:   syncLogs,
		adapters:   adapters,
		tokens:     tokens,
		events:     events,
		queue:      queue,
	}
}

// StartSeed kicks off the initial quick sync for a fresh account and
// schedules the seed job. The account must still be in pending.
func (s *Service) StartSeed(ctx context.Context, accountID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SyncService.StartSeed")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	if !account.Syncable() {
		tracing.TraceErr(span, er.ErrAccountNotSyncable)
		return er.ErrAccountNotSyncable
	}
	if !account.SyncStatus.CanTransitionTo(enum.SyncStatusSeeding) {
		err := fmt.Errorf("cannot seed account in status %s: %w", account.SyncStatus, er.ErrAccountNotSyncable)
		tracing.TraceErr(span, err)
		return err
	}

	err = s.accounts.UpdateFields(ctx, accountID, map[string]interface{}{
		"sync_status":     enum.SyncStatusSeeding,
		"sync_started_at": utils.Now(),
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	s.appendLog(ctx, accountID, models.SyncLogSeedStarted, nil)

	return s.queue.Enqueue(ctx, interfaces.Job{
		Queue:     interfaces.QueueLive,
		Kind:      jobKindSeed,
		AccountID: accountID,
		UniqueKey: jobKindSeed + ":" + accountID,
		Timeout:   seedTimeout,
		Run: func(jobCtx context.Context) error {
			return s.runSeed(jobCtx, accountID)
		},
		OnPermanentFailure: func(cause error) {
			if err := s.MarkSyncFailed(context.Background(), accountID, cause); err != nil {
				s.log.Errorf("failed to mark account %s failed: %v", accountID, err)
			}
		},
	})
}

// ContinueSync schedules the ongoing crawlers for an account that finished
// seeding: forward crawl on the live queue, backfill and the full folder
// walk on the backfill queue. Already-running jobs are left alone.
func (s *Service) ContinueSync(ctx context.Context, accountID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SyncService.ContinueSync")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if !account.Syncable() {
		tracing.TraceErr(span, er.ErrAccountNotSyncable)
		return er.ErrAccountNotSyncable
	}

	if err := s.enqueueForward(ctx, accountID); err != nil && !errors.Is(err, er.ErrJobLocked) {
		tracing.TraceErr(span, err)
		return err
	}
	if err := s.enqueueBackfill(ctx, accountID, 0); err != nil && !errors.Is(err, er.ErrJobLocked) {
		tracing.TraceErr(span, err)
		return err
	}
	if err := s.enqueueFullSync(ctx, accountID, 0); err != nil && !errors.Is(err, er.ErrJobLocked) {
		tracing.TraceErr(span, err)
		return err
	}

	return nil
}

// FetchNewEmails schedules one forward crawl run for the account. The crawl
// itself runs on the live queue; a run already in flight makes this a no-op.
func (s *Service) FetchNewEmails(ctx context.Context, accountID string) error {
	err := s.enqueueForward(ctx, accountID)
	if errors.Is(err, er.ErrJobLocked) {
		return nil
	}
	return err
}

func (s *Service) enqueueForward(ctx context.Context, accountID string) error {
	return s.queue.Enqueue(ctx, interfaces.Job{
		Queue:     interfaces.QueueLive,
		Kind:      jobKindForward,
		AccountID: accountID,
		UniqueKey: jobKindForward + ":" + accountID,
		LockTTL:   forwardLockTTL,
		Timeout:   forwardTimeout,
		Run: func(jobCtx context.Context) error {
			return s.runForward(jobCtx, accountID)
		},
	})
}

func (s *Service) enqueueBackfill(ctx context.Context, accountID string, delay time.Duration) error {
	return s.queue.Enqueue(ctx, interfaces.Job{
		Queue:       interfaces.QueueBackfill,
		Kind:        jobKindBackfill,
		AccountID:   accountID,
		UniqueKey:   jobKindBackfill + ":" + accountID,
		LockTTL:     backfillLockTTL,
		Delay:       delay,
		MaxAttempts: len(backfillRetrySchedule) + 1,
		Backoff:     backfillRetrySchedule,
		Timeout:     backfillTimeout,
		Run: func(jobCtx context.Context) error {
			return s.runBackfill(jobCtx, accountID)
		},
	})
}

func (s *Service) enqueueFullSync(ctx context.Context, accountID string, delay time.Duration) error {
	return s.queue.Enqueue(ctx, interfaces.Job{
		Queue:     interfaces.QueueBackfill,
		Kind:      jobKindFullSync,
		AccountID: accountID,
		UniqueKey: jobKindFullSync + ":" + accountID,
		LockTTL:   fullSyncTimeout,
		Delay:     delay,
		Timeout:   fullSyncTimeout,
		Run: func(jobCtx context.Context) error {
			return s.runFullSyncChunk(jobCtx, accountID)
		},
	})
}

// GetSyncProgress derives the aggregate progress view from the account row
// and the per-folder walk states.
func (s *Service) GetSyncProgress(ctx context.Context, accountID string) (*interfaces.SyncProgress, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SyncService.GetSyncProgress")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	states, err := s.folderSync.GetStates(ctx, accountID)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	folders := make(map[string]interfaces.FolderProgress, len(states))
	for _, state := range states {
		folders[state.FolderName] = interfaces.FolderProgress{
			Synced: state.SyncedCount,
			Total:  state.TotalCount,
		}
	}

	phase := derivePhase(account, states)

	return &interfaces.SyncProgress{
		Status:           account.SyncStatus,
		Phase:            phase,
		OverallPercent:   overallPercent(phase, account, states),
		ForwardCursor:    account.ForwardUIDCursor,
		BackfillCursor:   account.BackfillUIDCursor,
		BackfillComplete: account.BackfillComplete,
		CanUseEmail:      account.CanUseEmail(),
		NeedsReauth:      account.NeedsReauth,
		LastError:        account.LastError,
		Folders:          folders,
	}, nil
}

// derivePhase folds the status machine, both UID cursors and the folder walk
// into one user-facing phase.
func derivePhase(account *models.Account, states []*models.FolderSyncState) enum.SyncPhase {
	switch account.SyncStatus {
	case enum.SyncStatusPending:
		return enum.SyncPhasePending
	case enum.SyncStatusSeeding:
		return enum.SyncPhaseBootstrapping
	}

	if account.ForwardUIDCursor == 0 {
		return enum.SyncPhaseBootstrapping
	}
	if !account.BackfillComplete {
		return enum.SyncPhaseBackfilling
	}
	if !foldersDone(states) {
		return enum.SyncPhaseFullWalk
	}
	return enum.SyncPhaseComplete
}

func foldersDone(states []*models.FolderSyncState) bool {
	for _, state := range states {
		if !state.Done() {
			return false
		}
	}
	return len(states) > 0
}

// overallPercent maps phase progress onto fixed bands: bootstrap ends at 10,
// backfill spans to 50, the full walk spans to 100.
func overallPercent(phase enum.SyncPhase, account *models.Account, states []*models.FolderSyncState) float64 {
	switch phase {
	case enum.SyncPhasePending:
		return 0
	case enum.SyncPhaseBootstrapping:
		return 5
	case enum.SyncPhaseBackfilling:
		progress := 0.0
		if account.ForwardUIDCursor > 0 && account.BackfillUIDCursor > 0 {
			span := float64(account.ForwardUIDCursor)
			progress = (span - float64(account.BackfillUIDCursor)) / span
		}
		return 10 + 40*progress
	case enum.SyncPhaseFullWalk:
		var synced, total int
		for _, state := range states {
			synced += state.SyncedCount
			total += state.TotalCount
		}
		if total == 0 {
			return 50
		}
		return 50 + 50*float64(synced)/float64(total)
	default:
		return 100
	}
}

// MarkSyncCompleted transitions the account to completed and announces it.
func (s *Service) MarkSyncCompleted(ctx context.Context, accountID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SyncService.MarkSyncCompleted")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if account.SyncStatus == enum.SyncStatusCompleted {
		return nil
	}

	fields := map[string]interface{}{
		"sync_status": enum.SyncStatusCompleted,
		"last_error":  "",
	}
	if account.InitialSyncCompletedAt == nil {
		fields["initial_sync_completed_at"] = utils.Now()
	}
	if err := s.accounts.UpdateFields(ctx, accountID, fields); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	account.SyncStatus = enum.SyncStatusCompleted
	s.appendLog(ctx, accountID, models.SyncLogInitialComplete, map[string]interface{}{
		"forward_cursor":  account.ForwardUIDCursor,
		"backfill_cursor": account.BackfillUIDCursor,
	})

	if err := s.events.PublishSyncCompleted(ctx, account); err != nil {
		s.log.Warnf("failed to publish sync completed for %s: %v", accountID, err)
	}

	return nil
}

// MarkSyncFailed records a fatal sync error and announces the status change.
func (s *Service) MarkSyncFailed(ctx context.Context, accountID string, cause error) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SyncService.MarkSyncFailed")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, accountID)
	tracing.TraceErr(span, cause)

	if err := s.accounts.UpdateSyncStatus(ctx, accountID, enum.SyncStatusFailed, cause.Error()); err != nil {
		return err
	}

	s.appendLog(ctx, accountID, models.SyncLogStatusChanged, map[string]interface{}{
		"status": enum.SyncStatusFailed.String(),
		"error":  cause.Error(),
	})

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	if err := s.events.PublishAccountStatusChanged(ctx, account); err != nil {
		s.log.Warnf("failed to publish status change for %s: %v", accountID, err)
	}

	return nil
}

// maybeCompleteInitialSync promotes the account to completed once both the
// backfill and the full folder walk have finished.
func (s *Service) maybeCompleteInitialSync(ctx context.Context, accountID string) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		s.log.Errorf("failed to load account %s: %v", accountID, err)
		return
	}
	if account.SyncStatus != enum.SyncStatusSyncing || !account.BackfillComplete {
		return
	}

	states, err := s.folderSync.GetStates(ctx, accountID)
	if err != nil {
		s.log.Errorf("failed to load folder states for %s: %v", accountID, err)
		return
	}
	if !foldersDone(states) {
		return
	}

	if err := s.MarkSyncCompleted(ctx, accountID); err != nil {
		s.log.Errorf("failed to complete sync for %s: %v", accountID, err)
	}
}

// storeMessages persists a parsed batch through the idempotent store and
// returns how many rows were newly created. Per-message store errors are
// logged and skipped; one poison message must not sink a whole batch.
func (s *Service) storeMessages(ctx context.Context, account *models.Account, messages []*interfaces.ParsedMessage) int {
	created := 0
	for _, msg := range messages {
		email := toEmailModel(account, msg)
		wasCreated, err := s.emails.Store(ctx, email)
		if err != nil {
			s.log.Errorf("[%s] failed to store message uid %d in %s: %v", account.ID, msg.UID, msg.Folder, err)
			continue
		}
		if !wasCreated {
			continue
		}
		created++
		if len(msg.Attachments) > 0 {
			if err := s.emails.StoreAttachments(ctx, email.ID, toAttachmentModels(msg.Attachments)); err != nil {
				s.log.Warnf("[%s] failed to store attachment metadata for uid %d in %s: %v", account.ID, msg.UID, msg.Folder, err)
			}
		}
	}
	return created
}

func toAttachmentModels(metas []interfaces.AttachmentMeta) []models.EmailAttachment {
	attachments := make([]models.EmailAttachment, 0, len(metas))
	for _, meta := range metas {
		attachments = append(attachments, models.EmailAttachment{
			Filename:    meta.Filename,
			ContentType: meta.ContentType,
			Size:        meta.Size,
		})
	}
	return attachments
}

func toEmailModel(account *models.Account, msg *interfaces.ParsedMessage) *models.Email {
	return &models.Email{
		AccountID:     account.ID,
		Provider:      account.Provider,
		Folder:        msg.Folder.String(),
		ImapUID:       msg.UID,
		MessageID:     msg.MessageID,
		InReplyTo:     msg.InReplyTo,
		References:    pq.StringArray(msg.References),
		Subject:       msg.Subject,
		CleanSubject:  utils.NormalizeEmailSubject(msg.Subject),
		FromAddress:   msg.FromAddress,
		FromName:      msg.FromName,
		ToAddresses:   pq.StringArray(msg.To),
		CcAddresses:   pq.StringArray(msg.Cc),
		BccAddresses:  pq.StringArray(msg.Bcc),
		SentAt:        msg.SentAt,
		ReceivedAt:    utils.NowPtr(),
		BodyText:      msg.BodyText,
		BodyHTML:      msg.BodyHTML,
		HasAttachment: msg.HasAttachment,
		Read:          msg.Seen,
		Starred:       msg.Flagged,
		GmailLabels:   pq.StringArray(msg.Labels),
		RawHeaders:    models.JSONMap(msg.RawHeaders),
		Envelope:      models.JSONMap(msg.Envelope),
	}
}

func (s *Service) appendLog(ctx context.Context, accountID, action string, details map[string]interface{}) {
	if err := s.syncLogs.Append(ctx, accountID, action, details); err != nil {
		s.log.Warnf("failed to append sync log %s for %s: %v", action, accountID, err)
	}
}

// connectAdapter opens a connection and feeds the auth circuit breaker: an
// authentication rejection counts toward the breaker, a successful connect
// resets it.
func (s *Service) connectAdapter(ctx context.Context, account *models.Account, adapter interfaces.ProviderAdapter) error {
	err := adapter.Connect(ctx)
	if err == nil {
		if resetErr := s.tokens.RecordAuthSuccess(ctx, account); resetErr != nil {
			s.log.Warnf("failed to reset auth failures for %s: %v", account.ID, resetErr)
		}
		return nil
	}

	if provider.IsAuthError(err) {
		if _, recErr := s.tokens.RecordAuthFailure(ctx, account, err); recErr != nil {
			s.log.Errorf("failed to record auth failure for %s: %v", account.ID, recErr)
		}
	}

	return err
}
