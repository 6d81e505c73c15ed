package provider

import (
	"github.com/worksphere/mailsync/interfaces"
	"github.com/worksphere/mailsync/internal/enum"
	"github.com/worksphere/mailsync/internal/logger"
	"github.com/worksphere/mailsync/internal/models"
)

// Factory builds per-account provider adapters. Adapters are cheap to
// construct and hold no connection until Connect, so every sync run gets a
// fresh one.
type Factory struct {
	tokens interfaces.TokenProvider
	log    logger.Logger
}

func NewFactory(tokens interfaces.TokenProvider, log logger.Logger) *Factory {
	return &Factory{
		tokens: tokens,
		log:    log,
	}
}

func (f *Factory) AdapterFor(account *models.Account) interfaces.ProviderAdapter {
	switch account.Provider {
	case enum.EmailProviderGmail:
		return NewGmailAdapter(account, f.tokens, f.log)
	default:
		return NewIMAPAdapter(account, f.tokens, f.log)
	}
}
