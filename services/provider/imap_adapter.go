package provider

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	goimap "github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/opentracing/opentracing-go"

	"github.com/worksphere/mailsync/interfaces"
	"github.com/worksphere/mailsync/internal/enum"
	er "github.com/worksphere/mailsync/internal/errors"
	"github.com/worksphere/mailsync/internal/logger"
	"github.com/worksphere/mailsync/internal/models"
	"github.com/worksphere/mailsync/internal/tracing"
)

const (
	dialTimeout    = 30 * time.Second
	commandTimeout = 30 * time.Second
	fetchTimeout   = 60 * time.Second
	logoutTimeout  = 5 * time.Second
)

// IMAPAdapter is the generic provider adapter: standard folder name
// resolution, UID search windows and RFC 822 parsing. Provider-specific
// adapters embed it and override the classification hooks.
type IMAPAdapter struct {
	account *models.Account
	tokens  interfaces.TokenProvider
	log     logger.Logger

	client   *client.Client
	selected string

	// serverFolders caches the LIST response for the lifetime of the
	// connection.
	serverFolders []string

	folderAlternates map[enum.FolderType][]string
	extraFetchItems  []goimap.FetchItem
	classify         func(labels []string, folderName string) enum.FolderType
	maxParallel      int
}

// genericFolderAlternates lists the common mailbox paths per folder type, in
// probe order.
func genericFolderAlternates() map[enum.FolderType][]string {
	return map[enum.FolderType][]string{
		enum.FolderInbox:   {"INBOX"},
		enum.FolderSent:    {"Sent", "Sent Items", "Sent Messages", "INBOX.Sent"},
		enum.FolderDrafts:  {"Drafts", "INBOX.Drafts"},
		enum.FolderTrash:   {"Trash", "Deleted Items", "Deleted Messages", "INBOX.Trash"},
		enum.FolderSpam:    {"Junk", "Spam", "Junk E-mail", "INBOX.Spam"},
		enum.FolderArchive: {"Archive", "Archives"},
	}
}

// NewIMAPAdapter builds the generic adapter for an account. The token
// provider is only consulted for accounts that authenticate with XOAUTH2.
func NewIMAPAdapter(account *models.Account, tokens interfaces.TokenProvider, log logger.Logger) *IMAPAdapter {
	a := &IMAPAdapter{
		account:          account,
		tokens:           tokens,
		log:              log,
		folderAlternates: genericFolderAlternates(),
		maxParallel:      4,
	}
	a.classify = a.classifyGeneric
	return a
}

func (a *IMAPAdapter) Provider() enum.EmailProvider {
	return a.account.Provider
}

func (a *IMAPAdapter) SupportsOAuth() bool {
	return a.account.UsesOAuth()
}

func (a *IMAPAdapter) MaxParallelFolders() int {
	return a.maxParallel
}

// Connect dials the IMAP server and authenticates, with password login or
// XOAUTH2 depending on the account.
func (a *IMAPAdapter) Connect(ctx context.Context) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "IMAPAdapter.Connect")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, a.account.ID)
	span.SetTag("server", a.account.ImapServer)
	span.SetTag("port", a.account.ImapPort)

	serverAddr := fmt.Sprintf("%s:%d", a.account.ImapServer, a.account.ImapPort)

	dialer := &net.Dialer{
		Timeout:   dialTimeout,
		KeepAlive: 30 * time.Second,
	}

	var c *client.Client
	err := withRetry(ctx, a.log, "imap dial", func() error {
		var dialErr error
		switch a.account.ImapSecurity {
		case enum.EmailSecurityTLS:
			tlsConfig := &tls.Config{ServerName: a.account.ImapServer}
			c, dialErr = client.DialWithDialerTLS(dialer, serverAddr, tlsConfig)
		case enum.EmailSecurityStartTLS:
			c, dialErr = client.DialWithDialer(dialer, serverAddr)
			if dialErr == nil {
				tlsConfig := &tls.Config{ServerName: a.account.ImapServer}
				dialErr = c.StartTLS(tlsConfig)
			}
		default:
			c, dialErr = client.DialWithDialer(dialer, serverAddr)
		}
		return dialErr
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to connect to %s: %w", serverAddr, err)
	}

	c.Timeout = commandTimeout
	if a.account.UsesOAuth() {
		err = a.authenticateOAuth(ctx, c)
	} else {
		err = c.Login(a.account.ImapUsername, a.account.ImapPassword)
	}
	if err != nil {
		c.Logout()
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to authenticate as %s: %w", a.account.ImapUsername, err)
	}
	c.Timeout = 0

	a.client = c
	a.selected = ""
	a.serverFolders = nil
	return nil
}

func (a *IMAPAdapter) authenticateOAuth(ctx context.Context, c *client.Client) error {
	if a.tokens == nil {
		return er.ErrOAuthNotSupported
	}

	accessToken, err := a.tokens.AccessToken(ctx, a.account)
	if err != nil {
		return fmt.Errorf("failed to obtain access token: %w", err)
	}

	return c.Authenticate(NewXOAuth2Client(a.account.ImapUsername, accessToken))
}

// Close logs out within a bounded window; a hung logout must not block the
// crawler that owns the connection.
func (a *IMAPAdapter) Close() error {
	if a.client == nil {
		return nil
	}

	c := a.client
	a.client = nil
	a.selected = ""

	c.Timeout = logoutTimeout

	done := make(chan error, 1)
	go func() {
		done <- c.Logout()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(logoutTimeout + time.Second):
		a.log.Warnf("[%s] imap logout timed out", a.account.ID)
		return nil
	}
}

func (a *IMAPAdapter) ensureConnected() (*client.Client, error) {
	if a.client == nil {
		return nil, er.ErrNotConnected
	}
	return a.client, nil
}

// listFolders fetches and caches the server folder list.
func (a *IMAPAdapter) listFolders(ctx context.Context) ([]string, error) {
	if a.serverFolders != nil {
		return a.serverFolders, nil
	}

	c, err := a.ensureConnected()
	if err != nil {
		return nil, err
	}

	var folders []string
	err = withRetry(ctx, a.log, "imap list", func() error {
		folders = folders[:0]

		c.Timeout = commandTimeout
		mailboxes := make(chan *goimap.MailboxInfo, 10)
		done := make(chan error, 1)
		go func() {
			done <- c.List("", "*", mailboxes)
		}()

		for m := range mailboxes {
			folders = append(folders, m.Name)
		}
		c.Timeout = 0

		return <-done
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}

	sort.Strings(folders)
	a.serverFolders = folders
	return folders, nil
}

// GetFolderName resolves a folder type to the mailbox path the server
// actually exposes, probing the configured alternates against the LIST
// response.
func (a *IMAPAdapter) GetFolderName(ctx context.Context, folder enum.FolderType) (string, error) {
	if folder == enum.FolderInbox {
		// INBOX is mandated by the protocol, no probing needed.
		return "INBOX", nil
	}

	serverFolders, err := a.listFolders(ctx)
	if err != nil {
		return "", err
	}

	for _, candidate := range a.folderAlternates[folder] {
		for _, name := range serverFolders {
			if strings.EqualFold(name, candidate) {
				return name, nil
			}
		}
	}

	return "", fmt.Errorf("folder %s: %w", folder, er.ErrFolderNotFound)
}

func (a *IMAPAdapter) selectFolder(ctx context.Context, folderName string) (*goimap.MailboxStatus, error) {
	c, err := a.ensureConnected()
	if err != nil {
		return nil, err
	}

	var mbox *goimap.MailboxStatus
	err = withRetry(ctx, a.log, "imap select", func() error {
		c.Timeout = commandTimeout
		var selectErr error
		mbox, selectErr = c.Select(folderName, true)
		c.Timeout = 0
		return selectErr
	})
	if err != nil {
		a.selected = ""
		return nil, fmt.Errorf("failed to select folder %s: %w", folderName, err)
	}

	a.selected = folderName
	return mbox, nil
}

// GetFolderStatus reads message count and uidnext without selecting the
// folder, so crawlers can cheaply detect no-op folders.
func (a *IMAPAdapter) GetFolderStatus(ctx context.Context, folderName string) (*interfaces.FolderStatus, error) {
	c, err := a.ensureConnected()
	if err != nil {
		return nil, err
	}

	var status *goimap.MailboxStatus
	err = withRetry(ctx, a.log, "imap status", func() error {
		c.Timeout = commandTimeout
		var statusErr error
		status, statusErr = c.Status(folderName, []goimap.StatusItem{goimap.StatusMessages, goimap.StatusUidNext})
		c.Timeout = 0
		return statusErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get status of %s: %w", folderName, err)
	}

	return &interfaces.FolderStatus{
		Exists:  status.Messages,
		UIDNext: status.UidNext,
	}, nil
}

func (a *IMAPAdapter) uidSearch(ctx context.Context, criteria *goimap.SearchCriteria) ([]uint32, error) {
	c, err := a.ensureConnected()
	if err != nil {
		return nil, err
	}

	var uids []uint32
	err = withRetry(ctx, a.log, "imap uid search", func() error {
		c.Timeout = commandTimeout
		var searchErr error
		uids, searchErr = c.UidSearch(criteria)
		c.Timeout = 0
		return searchErr
	})
	if err != nil {
		return nil, fmt.Errorf("uid search failed: %w", err)
	}

	return uids, nil
}

// FetchLatestUIDs returns the count highest UIDs in the folder, descending.
// UIDs are sparse, so the search window doubles backward from uidnext until
// it yields enough hits or reaches UID 1.
func (a *IMAPAdapter) FetchLatestUIDs(ctx context.Context, folderName string, count int) ([]uint32, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "IMAPAdapter.FetchLatestUIDs")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, a.account.ID)
	tracing.TagFolder(span, folderName)

	status, err := a.GetFolderStatus(ctx, folderName)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	if status.Exists == 0 {
		return nil, nil
	}

	if _, err := a.selectFolder(ctx, folderName); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	window := uint32(count * 2)
	var uids []uint32
	for {
		from := uint32(1)
		if status.UIDNext > window {
			from = status.UIDNext - window
		}

		criteria := goimap.NewSearchCriteria()
		uidRange := new(goimap.SeqSet)
		uidRange.AddRange(from, 0)
		criteria.Uid = uidRange

		uids, err = a.uidSearch(ctx, criteria)
		if err != nil {
			tracing.TraceErr(span, err)
			return nil, err
		}

		if len(uids) >= count || from == 1 {
			break
		}
		window *= 2
	}

	sort.Slice(uids, func(i, j int) bool { return uids[i] > uids[j] })
	if len(uids) > count {
		uids = uids[:count]
	}

	span.SetTag("uids.count", len(uids))
	return uids, nil
}

// FetchUIDsSince returns up to max UIDs strictly above sinceUID, ascending.
func (a *IMAPAdapter) FetchUIDsSince(ctx context.Context, folderName string, sinceUID uint32, max int) ([]uint32, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "IMAPAdapter.FetchUIDsSince")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, a.account.ID)
	tracing.TagFolder(span, folderName)
	span.SetTag("since_uid", sinceUID)

	if _, err := a.selectFolder(ctx, folderName); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	criteria := goimap.NewSearchCriteria()
	uidRange := new(goimap.SeqSet)
	uidRange.AddRange(sinceUID+1, 0)
	criteria.Uid = uidRange

	uids, err := a.uidSearch(ctx, criteria)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	// Servers may return sinceUID itself when the range start exceeds every
	// existing UID.
	filtered := uids[:0]
	for _, uid := range uids {
		if uid > sinceUID {
			filtered = append(filtered, uid)
		}
	}
	uids = filtered

	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	if len(uids) > max {
		uids = uids[:max]
	}

	span.SetTag("uids.count", len(uids))
	return uids, nil
}

func (a *IMAPAdapter) fetchItems() []goimap.FetchItem {
	items := []goimap.FetchItem{
		goimap.FetchEnvelope,
		goimap.FetchFlags,
		goimap.FetchBodyStructure,
		"BODY.PEEK[]",
		goimap.FetchUid,
	}
	return append(items, a.extraFetchItems...)
}

// fetchParsed runs a fetch for the given sequence set and parses every
// message as it streams in. The folder must already be selected.
func (a *IMAPAdapter) fetchParsed(ctx context.Context, folderName string, seqSet *goimap.SeqSet, isUID bool) ([]*interfaces.ParsedMessage, error) {
	c, err := a.ensureConnected()
	if err != nil {
		return nil, err
	}

	items := a.fetchItems()

	messages := make(chan *goimap.Message, 10)
	done := make(chan error, 1)

	c.Timeout = fetchTimeout
	go func() {
		if isUID {
			done <- c.UidFetch(seqSet, items, messages)
		} else {
			done <- c.Fetch(seqSet, items, messages)
		}
	}()

	var parsed []*interfaces.ParsedMessage
	for msg := range messages {
		select {
		case <-ctx.Done():
			for range messages {
				// drain so the fetch goroutine can finish
			}
			<-done
			c.Timeout = 0
			return nil, ctx.Err()
		default:
		}

		p := parseImapMessage(msg, enum.FolderInbox)
		p.Folder = a.classify(p.Labels, folderName)
		parsed = append(parsed, p)
	}
	c.Timeout = 0

	if err := <-done; err != nil {
		return nil, fmt.Errorf("fetch failed in %s: %w", folderName, err)
	}

	return parsed, nil
}

// FetchMessagesByUID fetches and parses the given UIDs from one folder.
func (a *IMAPAdapter) FetchMessagesByUID(ctx context.Context, folderName string, uids []uint32) ([]*interfaces.ParsedMessage, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "IMAPAdapter.FetchMessagesByUID")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, a.account.ID)
	tracing.TagFolder(span, folderName)
	span.SetTag("uids.count", len(uids))

	if len(uids) == 0 {
		return nil, nil
	}

	if _, err := a.selectFolder(ctx, folderName); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	seqSet := new(goimap.SeqSet)
	for _, uid := range uids {
		seqSet.AddNum(uid)
	}

	parsed, err := a.fetchParsed(ctx, folderName, seqSet, true)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return parsed, nil
}

// FetchMessages pages through a folder by sequence number, oldest first.
func (a *IMAPAdapter) FetchMessages(ctx context.Context, folderName string, offset, limit int) ([]*interfaces.ParsedMessage, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "IMAPAdapter.FetchMessages")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, a.account.ID)
	tracing.TagFolder(span, folderName)
	span.SetTag("offset", offset)
	span.SetTag("limit", limit)

	mbox, err := a.selectFolder(ctx, folderName)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	total := mbox.Messages
	if total == 0 || uint32(offset) >= total {
		return nil, nil
	}

	from := uint32(offset) + 1
	to := uint32(offset + limit)
	if to > total {
		to = total
	}

	seqSet := new(goimap.SeqSet)
	seqSet.AddRange(from, to)

	parsed, err := a.fetchParsed(ctx, folderName, seqSet, false)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return parsed, nil
}

// FetchLatestMessages fetches the count most recent messages of a folder in
// one pass, by sequence number from the top of the mailbox.
func (a *IMAPAdapter) FetchLatestMessages(ctx context.Context, folderName string, count int) ([]*interfaces.ParsedMessage, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "IMAPAdapter.FetchLatestMessages")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, a.account.ID)
	tracing.TagFolder(span, folderName)
	span.SetTag("count", count)

	mbox, err := a.selectFolder(ctx, folderName)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	if mbox.Messages == 0 {
		return nil, nil
	}

	from := uint32(1)
	if mbox.Messages > uint32(count) {
		from = mbox.Messages - uint32(count) + 1
	}

	seqSet := new(goimap.SeqSet)
	seqSet.AddRange(from, mbox.Messages)

	parsed, err := a.fetchParsed(ctx, folderName, seqSet, false)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return parsed, nil
}

// FetchOlderMessages returns the next backfill batch: the count highest UIDs
// strictly below beforeUID across the given folders, newest first, plus the
// new boundary and whether more history remains.
func (a *IMAPAdapter) FetchOlderMessages(ctx context.Context, folderNames []string, beforeUID uint32, count int) (*interfaces.OlderBatch, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "IMAPAdapter.FetchOlderMessages")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, a.account.ID)
	span.SetTag("before_uid", beforeUID)
	span.SetTag("count", count)

	if beforeUID <= 1 {
		return &interfaces.OlderBatch{HasMore: false, NewCursor: beforeUID}, nil
	}

	type candidate struct {
		folder string
		uid    uint32
	}
	var candidates []candidate

	for _, folderName := range folderNames {
		if _, err := a.selectFolder(ctx, folderName); err != nil {
			// A single inaccessible folder must not stall history for the
			// rest of the account.
			a.log.Warnf("[%s][%s] skipping folder during history fetch: %v", a.account.ID, folderName, err)
			continue
		}

		criteria := goimap.NewSearchCriteria()
		uidRange := new(goimap.SeqSet)
		uidRange.AddRange(1, beforeUID-1)
		criteria.Uid = uidRange

		uids, err := a.uidSearch(ctx, criteria)
		if err != nil {
			tracing.TraceErr(span, err)
			return nil, err
		}

		for _, uid := range uids {
			if uid < beforeUID {
				candidates = append(candidates, candidate{folder: folderName, uid: uid})
			}
		}
	}

	if len(candidates) == 0 {
		return &interfaces.OlderBatch{HasMore: false, NewCursor: beforeUID}, nil
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].uid > candidates[j].uid })

	hasMore := len(candidates) > count
	if hasMore {
		candidates = candidates[:count]
	}

	batchFloor := candidates[len(candidates)-1].uid

	uidsByFolder := make(map[string][]uint32)
	for _, cand := range candidates {
		uidsByFolder[cand.folder] = append(uidsByFolder[cand.folder], cand.uid)
	}

	var batch []*interfaces.ParsedMessage
	for folderName, uids := range uidsByFolder {
		messages, err := a.FetchMessagesByUID(ctx, folderName, uids)
		if err != nil {
			tracing.TraceErr(span, err)
			return nil, err
		}
		batch = append(batch, messages...)
	}

	sort.Slice(batch, func(i, j int) bool { return batch[i].UID > batch[j].UID })

	span.SetTag("batch.size", len(batch))
	span.SetTag("has_more", hasMore)

	return &interfaces.OlderBatch{
		Messages:  batch,
		HasMore:   hasMore,
		NewCursor: batchFloor,
	}, nil
}

// classifyPath maps a mailbox path to its folder type using the alternates
// table first, then common substring conventions.
func (a *IMAPAdapter) classifyPath(folderName string) enum.FolderType {
	for folderType, names := range a.folderAlternates {
		for _, name := range names {
			if strings.EqualFold(name, folderName) {
				return folderType
			}
		}
	}

	lower := strings.ToLower(folderName)
	switch {
	case strings.Contains(lower, "inbox"):
		return enum.FolderInbox
	case strings.Contains(lower, "sent"):
		return enum.FolderSent
	case strings.Contains(lower, "draft"):
		return enum.FolderDrafts
	case strings.Contains(lower, "trash"), strings.Contains(lower, "deleted"):
		return enum.FolderTrash
	case strings.Contains(lower, "spam"), strings.Contains(lower, "junk"):
		return enum.FolderSpam
	default:
		return enum.FolderArchive
	}
}

// classify ignores labels in the generic adapter; they only carry meaning
// for Gmail.
func (a *IMAPAdapter) classifyGeneric(labels []string, folderName string) enum.FolderType {
	return a.classifyPath(folderName)
}
