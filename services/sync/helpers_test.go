package sync

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/worksphere/mailsync/interfaces"
	"github.com/worksphere/mailsync/internal/enum"
	er "github.com/worksphere/mailsync/internal/errors"
	"github.com/worksphere/mailsync/internal/logger"
	"github.com/worksphere/mailsync/internal/models"
)

func testLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{
		DevMode:  true,
		LogLevel: "error",
	})
	appLogger.InitLogger()
	return appLogger
}

// fakeAccountRepo keeps accounts in memory and mirrors the cursor monotonicity
// rules of the real repository.
type fakeAccountRepo struct {
	mu       sync.Mutex
	accounts map[string]*models.Account
}

func newFakeAccountRepo(accounts ...*models.Account) *fakeAccountRepo {
	r := &fakeAccountRepo{accounts: map[string]*models.Account{}}
	for _, a := range accounts {
		r.accounts[a.ID] = a
	}
	return r
}

func (r *fakeAccountRepo) get(id string) (*models.Account, error) {
	a, ok := r.accounts[id]
	if !ok {
		return nil, er.ErrAccountNotFound
	}
	return a, nil
}

func (r *fakeAccountRepo) Create(ctx context.Context, account *models.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[account.ID] = account
	return nil
}

func (r *fakeAccountRepo) GetByID(ctx context.Context, id string) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, err := r.get(id)
	if err != nil {
		return nil, err
	}
	copied := *a
	return &copied, nil
}

func (r *fakeAccountRepo) ListSyncable(ctx context.Context) ([]*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Account
	for _, a := range r.accounts {
		if a.Syncable() {
			copied := *a
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeAccountRepo) ListBackfillable(ctx context.Context) ([]*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Account
	for _, a := range r.accounts {
		if a.Syncable() && !a.BackfillComplete {
			copied := *a
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeAccountRepo) UpdateFields(ctx context.Context, id string, fields map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, err := r.get(id)
	if err != nil {
		return err
	}
	for key, value := range fields {
		switch key {
		case "sync_status":
			a.SyncStatus = value.(enum.SyncStatus)
		case "last_error":
			a.LastError = value.(string)
		case "needs_reauth":
			a.NeedsReauth = value.(bool)
		case "oauth_refresh_token":
			a.OAuthRefreshToken = value.(string)
		case "sync_started_at":
			t := value.(time.Time)
			a.SyncStartedAt = &t
		case "last_backfill_at":
			t := value.(time.Time)
			a.LastBackfillAt = &t
		case "initial_sync_completed_at":
			t := value.(time.Time)
			a.InitialSyncCompletedAt = &t
		}
	}
	return nil
}

func (r *fakeAccountRepo) UpdateSyncStatus(ctx context.Context, id string, status enum.SyncStatus, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, err := r.get(id)
	if err != nil {
		return err
	}
	a.SyncStatus = status
	a.LastError = lastError
	return nil
}

func (r *fakeAccountRepo) AdvanceForwardCursor(ctx context.Context, id string, uid uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, err := r.get(id)
	if err != nil {
		return err
	}
	if uid > a.ForwardUIDCursor {
		a.ForwardUIDCursor = uid
	}
	return nil
}

func (r *fakeAccountRepo) LowerBackfillCursor(ctx context.Context, id string, uid uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, err := r.get(id)
	if err != nil {
		return err
	}
	if a.BackfillUIDCursor == 0 || uid < a.BackfillUIDCursor {
		a.BackfillUIDCursor = uid
	}
	return nil
}

func (r *fakeAccountRepo) SetBackfillComplete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, err := r.get(id)
	if err != nil {
		return err
	}
	a.BackfillComplete = true
	return nil
}

func (r *fakeAccountRepo) RecordAuthFailure(ctx context.Context, id string, lastError string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, err := r.get(id)
	if err != nil {
		return 0, err
	}
	a.ConsecutiveFailures++
	a.LastError = lastError
	return a.ConsecutiveFailures, nil
}

func (r *fakeAccountRepo) ResetAuthFailures(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, err := r.get(id)
	if err != nil {
		return err
	}
	a.ConsecutiveFailures = 0
	a.NeedsReauth = false
	return nil
}

func (r *fakeAccountRepo) TripCircuitBreaker(ctx context.Context, id string, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, err := r.get(id)
	if err != nil {
		return err
	}
	a.NeedsReauth = true
	a.SyncStatus = enum.SyncStatusFailed
	a.LastError = lastError
	return nil
}

func (r *fakeAccountRepo) SaveOAuthToken(ctx context.Context, id string, accessToken string, expiry time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, err := r.get(id)
	if err != nil {
		return err
	}
	a.OAuthAccessToken = accessToken
	a.OAuthTokenExpiry = &expiry
	return nil
}

// fakeEmailRepo stores emails keyed on (account, folder, uid), mirroring the
// idempotent insert semantics of the real store.
type fakeEmailRepo struct {
	mu          sync.Mutex
	emails      map[string]*models.Email
	attachments map[string][]models.EmailAttachment
}

func newFakeEmailRepo() *fakeEmailRepo {
	return &fakeEmailRepo{
		emails:      map[string]*models.Email{},
		attachments: map[string][]models.EmailAttachment{},
	}
}

func emailKey(accountID, folder string, uid uint32) string {
	return fmt.Sprintf("%s|%s|%d", accountID, folder, uid)
}

func (r *fakeEmailRepo) Store(ctx context.Context, email *models.Email) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := emailKey(email.AccountID, email.Folder, email.ImapUID)
	if _, exists := r.emails[key]; exists {
		return false, nil
	}
	if email.ID == "" {
		email.ID = fmt.Sprintf("email-%d", len(r.emails)+1)
	}
	r.emails[key] = email
	return true, nil
}

func (r *fakeEmailRepo) StoreAttachments(ctx context.Context, emailID string, attachments []models.EmailAttachment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range attachments {
		attachments[i].EmailID = emailID
	}
	r.attachments[emailID] = append(r.attachments[emailID], attachments...)
	return nil
}

func (r *fakeEmailRepo) attachmentCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, rows := range r.attachments {
		total += len(rows)
	}
	return total
}

func (r *fakeEmailRepo) Exists(ctx context.Context, accountID, folder string, uid uint32) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.emails[emailKey(accountID, folder, uid)]
	return exists, nil
}

func (r *fakeEmailRepo) GetByUID(ctx context.Context, accountID, folder string, uid uint32) (*models.Email, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	email, exists := r.emails[emailKey(accountID, folder, uid)]
	if !exists {
		return nil, nil
	}
	return email, nil
}

func (r *fakeEmailRepo) CountByAccount(ctx context.Context, accountID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, email := range r.emails {
		if email.AccountID == accountID {
			count++
		}
	}
	return count, nil
}

func (r *fakeEmailRepo) ListByFolder(ctx context.Context, accountID, folder string, limit, offset int) ([]*models.Email, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Email
	for _, email := range r.emails {
		if email.AccountID == accountID && email.Folder == folder {
			out = append(out, email)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ImapUID > out[j].ImapUID })
	total := int64(len(out))
	if offset >= len(out) {
		return nil, total, nil
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

func (r *fakeEmailRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.emails)
}

type fakeFolderSyncRepo struct {
	mu     sync.Mutex
	states map[string]*models.FolderSyncState
}

func newFakeFolderSyncRepo() *fakeFolderSyncRepo {
	return &fakeFolderSyncRepo{states: map[string]*models.FolderSyncState{}}
}

func (r *fakeFolderSyncRepo) GetState(ctx context.Context, accountID, folderName string) (*models.FolderSyncState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.states[accountID+"|"+folderName]
	if !ok {
		return nil, nil
	}
	copied := *state
	return &copied, nil
}

func (r *fakeFolderSyncRepo) GetStates(ctx context.Context, accountID string) ([]*models.FolderSyncState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.FolderSyncState
	for _, state := range r.states {
		if state.AccountID == accountID {
			copied := *state
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FolderName < out[j].FolderName })
	return out, nil
}

func (r *fakeFolderSyncRepo) SaveState(ctx context.Context, state *models.FolderSyncState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *state
	r.states[state.AccountID+"|"+state.FolderName] = &copied
	return nil
}

func (r *fakeFolderSyncRepo) DeleteStates(ctx context.Context, accountID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, state := range r.states {
		if state.AccountID == accountID {
			delete(r.states, key)
		}
	}
	return nil
}

type logEntry struct {
	accountID string
	action    string
	details   map[string]interface{}
}

type fakeSyncLogRepo struct {
	mu      sync.Mutex
	entries []logEntry
}

func (r *fakeSyncLogRepo) Append(ctx context.Context, accountID, action string, details map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, logEntry{accountID: accountID, action: action, details: details})
	return nil
}

func (r *fakeSyncLogRepo) ListByAccount(ctx context.Context, accountID string, limit int) ([]*models.SyncLog, error) {
	return nil, nil
}

func (r *fakeSyncLogRepo) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, entry.action)
	}
	return out
}

func (r *fakeSyncLogRepo) has(action string) bool {
	for _, a := range r.actions() {
		if a == action {
			return true
		}
	}
	return false
}

type fakePublisher struct {
	mu            sync.Mutex
	statusChanges []*models.Account
	completions   []*models.Account
}

func (p *fakePublisher) PublishAccountStatusChanged(ctx context.Context, account *models.Account) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	copied := *account
	p.statusChanges = append(p.statusChanges, &copied)
	return nil
}

func (p *fakePublisher) PublishSyncCompleted(ctx context.Context, account *models.Account) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	copied := *account
	p.completions = append(p.completions, &copied)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) statusChangeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.statusChanges)
}

// fakeQueue records enqueued jobs instead of running them, so tests can
// invoke the crawl bodies directly and assert on the scheduling decisions.
type fakeQueue struct {
	mu   sync.Mutex
	jobs []interfaces.Job
}

func (q *fakeQueue) Enqueue(ctx context.Context, job interfaces.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *fakeQueue) Shutdown(ctx context.Context) error { return nil }

func (q *fakeQueue) kinds() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.jobs))
	for _, job := range q.jobs {
		out = append(out, job.Kind)
	}
	return out
}

func (q *fakeQueue) hasKind(kind string) bool {
	for _, k := range q.kinds() {
		if k == kind {
			return true
		}
	}
	return false
}

// fakeAdapter serves canned folders keyed by mailbox path. UIDs are kept
// ascending internally.
type fakeAdapter struct {
	mu sync.Mutex

	provider enum.EmailProvider
	names    map[enum.FolderType]string
	folders  map[string][]uint32
	attached map[uint32][]interfaces.AttachmentMeta

	// fetchErrs injects a per-folder failure into the UID fetch paths.
	fetchErrs map[string]error

	connectErr   error
	connectCalls int
	closeCalls   int
	searchCalls  int
	fetchCalls   int
	parallel     int
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		provider:  enum.EmailProviderGeneric,
		names:     map[enum.FolderType]string{},
		folders:   map[string][]uint32{},
		attached:  map[uint32][]interfaces.AttachmentMeta{},
		fetchErrs: map[string]error{},
		parallel:  1,
	}
}

func (a *fakeAdapter) addFolder(folder enum.FolderType, name string, uids ...uint32) {
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	a.names[folder] = name
	a.folders[name] = uids
}

func (a *fakeAdapter) folderFor(name string) enum.FolderType {
	for folder, n := range a.names {
		if n == name {
			return folder
		}
	}
	return enum.FolderArchive
}

func (a *fakeAdapter) message(name string, uid uint32) *interfaces.ParsedMessage {
	attachments := a.attached[uid]
	return &interfaces.ParsedMessage{
		UID:           uid,
		Folder:        a.folderFor(name),
		MessageID:     fmt.Sprintf("<%s-%d@test>", name, uid),
		Subject:       fmt.Sprintf("message %d", uid),
		FromAddress:   "sender@example.com",
		Attachments:   attachments,
		HasAttachment: len(attachments) > 0,
	}
}

func (a *fakeAdapter) Provider() enum.EmailProvider { return a.provider }

func (a *fakeAdapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connectCalls++
	return a.connectErr
}

func (a *fakeAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closeCalls++
	return nil
}

func (a *fakeAdapter) GetFolderName(ctx context.Context, folder enum.FolderType) (string, error) {
	name, ok := a.names[folder]
	if !ok {
		return "", er.ErrFolderNotFound
	}
	return name, nil
}

func (a *fakeAdapter) GetFolderStatus(ctx context.Context, folderName string) (*interfaces.FolderStatus, error) {
	uids := a.folders[folderName]
	status := &interfaces.FolderStatus{Exists: uint32(len(uids)), UIDNext: 1}
	if len(uids) > 0 {
		status.UIDNext = uids[len(uids)-1] + 1
	}
	return status, nil
}

func (a *fakeAdapter) FetchLatestUIDs(ctx context.Context, folderName string, count int) ([]uint32, error) {
	if err := a.fetchErrs[folderName]; err != nil {
		return nil, err
	}
	uids := a.folders[folderName]
	out := make([]uint32, 0, count)
	for i := len(uids) - 1; i >= 0 && len(out) < count; i-- {
		out = append(out, uids[i])
	}
	return out, nil
}

func (a *fakeAdapter) FetchUIDsSince(ctx context.Context, folderName string, sinceUID uint32, max int) ([]uint32, error) {
	a.mu.Lock()
	a.searchCalls++
	a.mu.Unlock()
	if err := a.fetchErrs[folderName]; err != nil {
		return nil, err
	}
	var out []uint32
	for _, uid := range a.folders[folderName] {
		if uid > sinceUID {
			out = append(out, uid)
		}
		if len(out) >= max {
			break
		}
	}
	return out, nil
}

func (a *fakeAdapter) FetchMessagesByUID(ctx context.Context, folderName string, uids []uint32) ([]*interfaces.ParsedMessage, error) {
	a.mu.Lock()
	a.fetchCalls++
	a.mu.Unlock()
	out := make([]*interfaces.ParsedMessage, 0, len(uids))
	for _, uid := range uids {
		out = append(out, a.message(folderName, uid))
	}
	return out, nil
}

func (a *fakeAdapter) FetchMessages(ctx context.Context, folderName string, offset, limit int) ([]*interfaces.ParsedMessage, error) {
	uids := a.folders[folderName]
	if offset >= len(uids) {
		return nil, nil
	}
	uids = uids[offset:]
	if limit < len(uids) {
		uids = uids[:limit]
	}
	out := make([]*interfaces.ParsedMessage, 0, len(uids))
	for _, uid := range uids {
		out = append(out, a.message(folderName, uid))
	}
	return out, nil
}

func (a *fakeAdapter) FetchLatestMessages(ctx context.Context, folderName string, count int) ([]*interfaces.ParsedMessage, error) {
	uids, err := a.FetchLatestUIDs(ctx, folderName, count)
	if err != nil {
		return nil, err
	}
	out := make([]*interfaces.ParsedMessage, 0, len(uids))
	for _, uid := range uids {
		out = append(out, a.message(folderName, uid))
	}
	return out, nil
}

func (a *fakeAdapter) FetchOlderMessages(ctx context.Context, folderNames []string, beforeUID uint32, count int) (*interfaces.OlderBatch, error) {
	type candidate struct {
		name string
		uid  uint32
	}
	var candidates []candidate
	for _, name := range folderNames {
		for _, uid := range a.folders[name] {
			if uid < beforeUID {
				candidates = append(candidates, candidate{name: name, uid: uid})
			}
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].uid > candidates[j].uid })

	batch := &interfaces.OlderBatch{NewCursor: beforeUID}
	take := candidates
	if count < len(take) {
		take = take[:count]
		batch.HasMore = true
	}
	for _, c := range take {
		batch.Messages = append(batch.Messages, a.message(c.name, c.uid))
		batch.NewCursor = c.uid
	}
	return batch, nil
}

func (a *fakeAdapter) SupportsOAuth() bool     { return false }
func (a *fakeAdapter) MaxParallelFolders() int { return a.parallel }

type fakeFactory struct {
	adapter *fakeAdapter
}

func (f *fakeFactory) AdapterFor(account *models.Account) interfaces.ProviderAdapter {
	return f.adapter
}

// testHarness bundles a service over in-memory fakes.
type testHarness struct {
	service    *Service
	accounts   *fakeAccountRepo
	emails     *fakeEmailRepo
	folderSync *fakeFolderSyncRepo
	syncLogs   *fakeSyncLogRepo
	adapter    *fakeAdapter
	publisher  *fakePublisher
	queue      *fakeQueue
}

func newTestHarness(accounts ...*models.Account) *testHarness {
	log := testLogger()
	accountRepo := newFakeAccountRepo(accounts...)
	emailRepo := newFakeEmailRepo()
	folderSyncRepo := newFakeFolderSyncRepo()
	syncLogRepo := &fakeSyncLogRepo{}
	publisher := &fakePublisher{}
	queue := &fakeQueue{}
	adapter := newFakeAdapter()

	tokens := NewTokenManager(accountRepo, syncLogRepo, publisher, log)
	service := NewService(
		log,
		accountRepo,
		emailRepo,
		folderSyncRepo,
		syncLogRepo,
		&fakeFactory{adapter: adapter},
		tokens,
		publisher,
		queue,
	)

	return &testHarness{
		service:    service,
		accounts:   accountRepo,
		emails:     emailRepo,
		folderSync: folderSyncRepo,
		syncLogs:   syncLogRepo,
		adapter:    adapter,
		publisher:  publisher,
		queue:      queue,
	}
}

func testAccount(id string) *models.Account {
	return &models.Account{
		ID:           id,
		Provider:     enum.EmailProviderGeneric,
		EmailAddress: id + "@example.com",
		ImapServer:   "imap.example.com",
		ImapPort:     993,
		ImapUsername: id + "@example.com",
		ImapPassword: "secret",
		ImapSecurity: enum.EmailSecurityTLS,
		Active:       true,
		Verified:     true,
		SyncStatus:   enum.SyncStatusSyncing,
	}
}
