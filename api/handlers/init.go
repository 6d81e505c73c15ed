package handlers

import (
	"github.com/worksphere/mailsync/interfaces"
	"github.com/worksphere/mailsync/internal/repository"
)

type APIHandlers struct {
	Accounts *AccountsHandler
	Emails   *EmailsHandler
}

func InitHandlers(r *repository.Repositories, syncService interfaces.SyncService) *APIHandlers {
	return &APIHandlers{
		Accounts: NewAccountsHandler(r, syncService),
		Emails:   NewEmailsHandler(r),
	}
}
