package provider

import (
	"strings"

	goimap "github.com/emersion/go-imap"

	"github.com/worksphere/mailsync/interfaces"
	"github.com/worksphere/mailsync/internal/enum"
	"github.com/worksphere/mailsync/internal/logger"
	"github.com/worksphere/mailsync/internal/models"
)

// gmailMaxParallelFolders bounds concurrent folder walks. Gmail throttles
// aggressively on parallel IMAP commands against the same account.
const gmailMaxParallelFolders = 2

// GmailAdapter specializes the generic adapter for Gmail: [Gmail]/ mailbox
// paths, X-GM-LABELS in every fetch, and label-driven folder classification.
// In Gmail a message lives in All Mail and merely carries labels, so the
// mailbox path a message was fetched from says less about where it belongs
// than its labels do.
type GmailAdapter struct {
	*IMAPAdapter
}

func gmailFolderAlternates() map[enum.FolderType][]string {
	return map[enum.FolderType][]string{
		enum.FolderInbox:   {"INBOX"},
		enum.FolderSent:    {"[Gmail]/Sent Mail"},
		enum.FolderDrafts:  {"[Gmail]/Drafts"},
		enum.FolderTrash:   {"[Gmail]/Trash"},
		enum.FolderSpam:    {"[Gmail]/Spam"},
		enum.FolderArchive: {"[Gmail]/All Mail"},
	}
}

// NewGmailAdapter builds a Gmail-specialized adapter for an account.
func NewGmailAdapter(account *models.Account, tokens interfaces.TokenProvider, log logger.Logger) *GmailAdapter {
	base := NewIMAPAdapter(account, tokens, log)
	base.folderAlternates = gmailFolderAlternates()
	base.extraFetchItems = []goimap.FetchItem{goimap.FetchItem(fetchItemGmailLabels)}
	base.maxParallel = gmailMaxParallelFolders
	base.classify = classifyByGmailLabels
	return &GmailAdapter{IMAPAdapter: base}
}

// classifyByGmailLabels maps Gmail label flags to folder types. Servers
// differ on label casing and some return labels as quoted strings, so each
// label is quote-stripped and compared case-insensitively. A message without
// any recognized label is inbox when it was fetched from an inbox path,
// archive otherwise.
func classifyByGmailLabels(labels []string, folderName string) enum.FolderType {
	for _, label := range labels {
		switch normalized := strings.Trim(label, `"`); {
		case strings.EqualFold(normalized, `\Inbox`):
			return enum.FolderInbox
		case strings.EqualFold(normalized, `\Sent`):
			return enum.FolderSent
		case strings.EqualFold(normalized, `\Draft`):
			return enum.FolderDrafts
		case strings.EqualFold(normalized, `\Trash`):
			return enum.FolderTrash
		case strings.EqualFold(normalized, `\Spam`):
			return enum.FolderSpam
		}
	}

	if strings.Contains(strings.ToLower(folderName), "inbox") {
		return enum.FolderInbox
	}
	return enum.FolderArchive
}
