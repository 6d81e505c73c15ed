package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/worksphere/mailsync/interfaces"
	"github.com/worksphere/mailsync/internal/models"
	"github.com/worksphere/mailsync/internal/tracing"
)

type emailRepository struct {
	db *gorm.DB
}

func NewEmailRepository(db *gorm.DB) interfaces.EmailRepository {
	return &emailRepository{db: db}
}

// Store inserts the email unless a row with the same (account, folder, uid)
// triple exists. The existence check is advisory; the unique index is the
// authority, so a racing duplicate insert is swallowed as created=false.
func (r *emailRepository) Store(ctx context.Context, email *models.Email) (bool, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailRepository.Store")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, email.AccountID)

	exists, err := r.Exists(ctx, email.AccountID, email.Folder, email.ImapUID)
	if err != nil {
		tracing.TraceErr(span, err)
		return false, err
	}
	if exists {
		return false, nil
	}

	if err := r.db.WithContext(ctx).Create(email).Error; err != nil {
		if isDuplicateKeyError(err) {
			return false, nil
		}
		tracing.TraceErr(span, err)
		return false, fmt.Errorf("failed to store email: %w", err)
	}
	return true, nil
}

// StoreAttachments persists attachment metadata rows for a freshly created
// email. Attachment payloads are never stored, only the descriptors.
func (r *emailRepository) StoreAttachments(ctx context.Context, emailID string, attachments []models.EmailAttachment) error {
	if len(attachments) == 0 {
		return nil
	}
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailRepository.StoreAttachments")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	for i := range attachments {
		attachments[i].EmailID = emailID
	}
	if err := r.db.WithContext(ctx).Create(&attachments).Error; err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to store attachments: %w", err)
	}
	return nil
}

func (r *emailRepository) Exists(ctx context.Context, accountID, folder string, uid uint32) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Email{}).
		Where("account_id = ? AND folder = ? AND imap_uid = ?", accountID, folder, uid).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check email existence: %w", err)
	}
	return count > 0, nil
}

func (r *emailRepository) GetByUID(ctx context.Context, accountID, folder string, uid uint32) (*models.Email, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailRepository.GetByUID")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var email models.Email
	result := r.db.WithContext(ctx).
		Where("account_id = ? AND folder = ? AND imap_uid = ?", accountID, folder, uid).
		First(&email)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to get email: %w", result.Error)
	}
	return &email, nil
}

func (r *emailRepository) CountByAccount(ctx context.Context, accountID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Email{}).
		Where("account_id = ?", accountID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count emails: %w", err)
	}
	return count, nil
}

func (r *emailRepository) ListByFolder(ctx context.Context, accountID, folder string, limit, offset int) ([]*models.Email, int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailRepository.ListByFolder")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var emails []*models.Email
	var total int64

	query := r.db.WithContext(ctx).
		Model(&models.Email{}).
		Where("account_id = ? AND folder = ?", accountID, folder)

	if err := query.Count(&total).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, 0, fmt.Errorf("failed to count folder emails: %w", err)
	}

	err := query.
		Order("sent_at DESC NULLS LAST").
		Limit(limit).
		Offset(offset).
		Find(&emails).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, 0, fmt.Errorf("failed to list folder emails: %w", err)
	}
	return emails, total, nil
}

func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	return err == gorm.ErrDuplicatedKey ||
		strings.Contains(err.Error(), "duplicate key") ||
		strings.Contains(err.Error(), "UNIQUE constraint")
}
