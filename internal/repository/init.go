package repository

import (
	"gorm.io/gorm"

	"github.com/worksphere/mailsync/interfaces"
	"github.com/worksphere/mailsync/internal/models"
)

type Repositories struct {
	AccountRepository    interfaces.AccountRepository
	EmailRepository      interfaces.EmailRepository
	FolderSyncRepository interfaces.FolderSyncRepository
	SyncLogRepository    interfaces.SyncLogRepository
}

func InitRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		AccountRepository:    NewAccountRepository(db),
		EmailRepository:      NewEmailRepository(db),
		FolderSyncRepository: NewFolderSyncRepository(db),
		SyncLogRepository:    NewSyncLogRepository(db),
	}
}

func MigrateDB(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Account{},
		&models.Email{},
		&models.EmailAttachment{},
		&models.FolderSyncState{},
		&models.SyncLog{},
	)
}
