package interfaces

import (
	"context"
	"time"

	"github.com/worksphere/mailsync/internal/enum"
	"github.com/worksphere/mailsync/internal/models"
)

// ParsedMessage is a provider-normalized mail item, ready for storage.
type ParsedMessage struct {
	UID        uint32
	Folder     enum.FolderType
	MessageID  string
	InReplyTo  string
	References []string

	Subject     string
	FromName    string
	FromAddress string
	To          []string
	Cc          []string
	Bcc         []string

	SentAt *time.Time

	BodyText string
	BodyHTML string

	Seen    bool
	Flagged bool

	HasAttachment bool
	Attachments   []AttachmentMeta

	// Labels carries provider label flags (Gmail X-GM-LABELS)
	Labels []string

	RawHeaders map[string]interface{}
	Envelope   map[string]interface{}
}

type AttachmentMeta struct {
	Filename    string
	ContentType string
	Size        int
}

// FolderStatus is the remote folder state used for emptiness and no-op checks.
type FolderStatus struct {
	Exists  uint32
	UIDNext uint32
}

// OlderBatch is the backfill continuation unit: one batch of messages below
// the previous boundary, plus whether more history remains.
type OlderBatch struct {
	Messages  []*ParsedMessage
	HasMore   bool
	NewCursor uint32
}

// ProviderAdapter translates folder names, UID semantics and message parsing
// for one provider family. Implementations are bound to a single account and
// hold at most one IMAP connection between Connect and Close.
//
// Every network operation retries transient transport errors with exponential
// backoff before propagating the error.
type ProviderAdapter interface {
	Provider() enum.EmailProvider

	Connect(ctx context.Context) error
	Close() error

	// GetFolderName maps a folder type to the provider's mailbox path,
	// falling back through per-provider alternates before reporting the
	// folder missing.
	GetFolderName(ctx context.Context, folder enum.FolderType) (string, error)

	GetFolderStatus(ctx context.Context, folderName string) (*FolderStatus, error)

	// FetchLatestUIDs returns the count highest UIDs in a folder, sorted
	// descending, by windowing backward from the server's uidnext.
	FetchLatestUIDs(ctx context.Context, folderName string, count int) ([]uint32, error)

	// FetchUIDsSince returns up to max UIDs strictly greater than sinceUID,
	// ascending.
	FetchUIDsSince(ctx context.Context, folderName string, sinceUID uint32, max int) ([]uint32, error)

	FetchMessagesByUID(ctx context.Context, folderName string, uids []uint32) ([]*ParsedMessage, error)

	// FetchMessages is the offset-based paginated full-folder fetch used by
	// the full-sync walker.
	FetchMessages(ctx context.Context, folderName string, offset, limit int) ([]*ParsedMessage, error)

	// FetchLatestMessages is the provider-optimized bulk fetch used by the
	// seed phase.
	FetchLatestMessages(ctx context.Context, folderName string, count int) ([]*ParsedMessage, error)

	// FetchOlderMessages returns the next batch of messages with UIDs below
	// beforeUID across the given folders, newest first.
	FetchOlderMessages(ctx context.Context, folderNames []string, beforeUID uint32, count int) (*OlderBatch, error)

	SupportsOAuth() bool
	MaxParallelFolders() int
}

// AdapterFactory builds a provider adapter for an account.
type AdapterFactory interface {
	AdapterFor(account *models.Account) ProviderAdapter
}

// TokenProvider returns a currently valid access token for an OAuth account,
// refreshing it first when missing or about to expire.
type TokenProvider interface {
	AccessToken(ctx context.Context, account *models.Account) (string, error)
}
