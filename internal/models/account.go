package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/worksphere/mailsync/internal/enum"
	"github.com/worksphere/mailsync/internal/utils"
)

// Account is a single mailbox connection with its persisted sync progress.
//
// Two independent UID cursors track incremental progress: the forward cursor
// is the highest UID already ingested by the forward crawler, the backfill
// cursor is the lowest UID boundary reached going backward through history.
// Once both are set, BackfillUIDCursor <= ForwardUIDCursor holds: backfill
// never overtakes the point the forward crawler bootstrapped from.
type Account struct {
	ID           string             `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	Provider     enum.EmailProvider `gorm:"column:provider;type:varchar(50);index;not null" json:"provider"`
	EmailAddress string             `gorm:"column:email_address;type:varchar(255);index" json:"emailAddress"`
	DisplayName  string             `gorm:"column:display_name;type:varchar(255)" json:"displayName"`

	// IMAP configuration
	ImapServer   string             `gorm:"column:imap_server;type:varchar(255);not null" json:"imapServer"`
	ImapPort     int                `gorm:"column:imap_port;not null" json:"imapPort"`
	ImapUsername string             `gorm:"column:imap_username;type:varchar(255);not null" json:"imapUsername"`
	ImapPassword string             `gorm:"column:imap_password;type:varchar(255)" json:"-"`
	ImapSecurity enum.EmailSecurity `gorm:"column:imap_security;type:varchar(50);default:tls" json:"imapSecurity"`

	// SMTP configuration (outbound sending is handled elsewhere)
	SmtpServer   string             `gorm:"column:smtp_server;type:varchar(255)" json:"smtpServer"`
	SmtpPort     int                `gorm:"column:smtp_port" json:"smtpPort"`
	SmtpSecurity enum.EmailSecurity `gorm:"column:smtp_security;type:varchar(50);default:tls" json:"smtpSecurity"`

	// OAuth material for providers that authenticate with XOAUTH2
	// OAuthTokenURL overrides the provider default token endpoint; required
	// for generic_oauth accounts.
	OAuthTokenURL     string     `gorm:"column:oauth_token_url;type:varchar(255)" json:"-"`
	OAuthClientID     string     `gorm:"column:oauth_client_id;type:varchar(255)" json:"-"`
	OAuthClientSecret string     `gorm:"column:oauth_client_secret;type:varchar(255)" json:"-"`
	OAuthAccessToken  string     `gorm:"column:oauth_access_token;type:text" json:"-"`
	OAuthRefreshToken string     `gorm:"column:oauth_refresh_token;type:text" json:"-"`
	OAuthTokenExpiry  *time.Time `gorm:"column:oauth_token_expiry;type:timestamp" json:"-"`

	Active   bool `gorm:"column:active;not null;default:true" json:"active"`
	Verified bool `gorm:"column:verified;not null;default:false" json:"verified"`

	// Sync state machine
	SyncStatus enum.SyncStatus `gorm:"column:sync_status;type:varchar(50);index;default:pending" json:"syncStatus"`

	// Dual UID cursors; 0 means not yet bootstrapped
	ForwardUIDCursor  uint32 `gorm:"column:forward_uid_cursor;not null;default:0" json:"forwardUidCursor"`
	BackfillUIDCursor uint32 `gorm:"column:backfill_uid_cursor;not null;default:0" json:"backfillUidCursor"`
	BackfillComplete  bool   `gorm:"column:backfill_complete;not null;default:false" json:"backfillComplete"`

	// Failure bookkeeping for the oauth circuit breaker
	ConsecutiveFailures int    `gorm:"column:consecutive_failures;not null;default:0" json:"consecutiveFailures"`
	NeedsReauth         bool   `gorm:"column:needs_reauth;not null;default:false" json:"needsReauth"`
	LastError           string `gorm:"column:last_error;type:text" json:"lastError"`

	// Sync timestamps
	LastForwardSyncAt      *time.Time `gorm:"column:last_forward_sync_at;type:timestamp" json:"lastForwardSyncAt"`
	LastBackfillAt         *time.Time `gorm:"column:last_backfill_at;type:timestamp" json:"lastBackfillAt"`
	SyncStartedAt          *time.Time `gorm:"column:sync_started_at;type:timestamp" json:"syncStartedAt"`
	InitialSyncCompletedAt *time.Time `gorm:"column:initial_sync_completed_at;type:timestamp" json:"initialSyncCompletedAt"`

	CreatedAt time.Time      `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time      `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index" json:"-"`
}

func (Account) TableName() string {
	return "accounts"
}

func (a *Account) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = utils.GenerateNanoIDWithPrefix("acct", 16)
	}
	return nil
}

// UsesOAuth reports whether the account authenticates with XOAUTH2.
func (a *Account) UsesOAuth() bool {
	switch a.Provider {
	case enum.EmailProviderGmail, enum.EmailProviderOutlook, enum.EmailProviderGenericOAuth:
		return true
	}
	return false
}

// Syncable is the eligibility predicate shared by all crawlers. An account
// that tripped the circuit breaker stays ineligible until re-authenticated.
func (a *Account) Syncable() bool {
	return a.Active && a.Verified && !a.NeedsReauth
}

// CanUseEmail is the signal the rest of the system uses to decide whether to
// show the user their inbox: true once the forward crawler has bootstrapped.
func (a *Account) CanUseEmail() bool {
	return a.ForwardUIDCursor > 0
}
