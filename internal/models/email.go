package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/worksphere/mailsync/internal/enum"
	"github.com/worksphere/mailsync/internal/utils"
)

// Email is one downloaded mail item.
//
// The (account_id, folder, imap_uid) triple is the idempotency key the whole
// engine exists to uphold; no two rows may share it. Folder is a copy of the
// classification at fetch time, not a live pointer to the remote label.
type Email struct {
	ID        string             `gorm:"column:id;type:varchar(50);primaryKey"`
	AccountID string             `gorm:"column:account_id;type:varchar(50);not null;uniqueIndex:idx_account_folder_uid"`
	Provider  enum.EmailProvider `gorm:"column:provider;type:varchar(50);index;not null"`
	Folder    string             `gorm:"column:folder;type:varchar(100);not null;uniqueIndex:idx_account_folder_uid"`
	ImapUID   uint32             `gorm:"column:imap_uid;not null;uniqueIndex:idx_account_folder_uid"`

	MessageID  string         `gorm:"column:message_id;type:varchar(255);index"`
	ThreadID   string         `gorm:"column:thread_id;type:varchar(255);index"`
	InReplyTo  string         `gorm:"column:in_reply_to;type:varchar(255);index"`
	References pq.StringArray `gorm:"column:mail_references;type:text[]"`

	// Core email metadata
	Subject      string         `gorm:"column:subject;type:varchar(1000)"`
	CleanSubject string         `gorm:"column:clean_subject;type:varchar(1000)"`
	FromAddress  string         `gorm:"column:from_address;type:varchar(255);index"`
	FromName     string         `gorm:"column:from_name;type:varchar(255)"`
	ToAddresses  pq.StringArray `gorm:"column:to_addresses;type:text[]"`
	CcAddresses  pq.StringArray `gorm:"column:cc_addresses;type:text[]"`
	BccAddresses pq.StringArray `gorm:"column:bcc_addresses;type:text[]"`

	SentAt     *time.Time `gorm:"column:sent_at;type:timestamp;index"`
	ReceivedAt *time.Time `gorm:"column:received_at;type:timestamp;index"`

	// Content
	BodyText      string `gorm:"column:body_text;type:text"`
	BodyHTML      string `gorm:"column:body_html;type:text"`
	HasAttachment bool   `gorm:"column:has_attachment;default:false"`

	// User-visible flags, mutated by user actions after ingest
	Read    bool `gorm:"column:read;default:false"`
	Starred bool `gorm:"column:starred;default:false"`

	// Provider-specific data
	GmailLabels pq.StringArray `gorm:"column:gmail_labels;type:text[]"`

	// Raw data
	RawHeaders JSONMap `gorm:"column:raw_headers;type:jsonb"`
	Envelope   JSONMap `gorm:"column:envelope;type:jsonb"`

	CreatedAt time.Time      `gorm:"column:created_at;type:timestamp;default:current_timestamp"`
	UpdatedAt time.Time      `gorm:"column:updated_at;type:timestamp;default:current_timestamp"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index"`
}

func (Email) TableName() string {
	return "emails"
}

func (e *Email) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = utils.GenerateNanoIDWithPrefix("email", 24)
	}
	e.CreatedAt = utils.Now()
	return nil
}

// EmailAttachment holds attachment metadata only; the payload lives with the
// external media store.
type EmailAttachment struct {
	ID          string    `gorm:"column:id;type:varchar(50);primaryKey"`
	EmailID     string    `gorm:"column:email_id;type:varchar(50);index;not null"`
	Filename    string    `gorm:"column:filename;type:varchar(255)"`
	ContentType string    `gorm:"column:content_type;type:varchar(255)"`
	Size        int       `gorm:"column:size"`
	CreatedAt   time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp"`
}

func (EmailAttachment) TableName() string {
	return "email_attachments"
}

func (a *EmailAttachment) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = utils.GenerateNanoIDWithPrefix("att", 16)
	}
	return nil
}
