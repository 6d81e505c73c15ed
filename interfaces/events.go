package interfaces

import (
	"context"

	"github.com/worksphere/mailsync/internal/models"
)

// EventPublisher pushes engine state changes to external consumers
// (notifications, UI). Publishing is best effort; sync correctness never
// depends on it.
type EventPublisher interface {
	PublishAccountStatusChanged(ctx context.Context, account *models.Account) error
	PublishSyncCompleted(ctx context.Context, account *models.Account) error
	Close() error
}
