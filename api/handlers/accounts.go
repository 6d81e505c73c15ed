package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/worksphere/mailsync/interfaces"
	"github.com/worksphere/mailsync/internal/enum"
	er "github.com/worksphere/mailsync/internal/errors"
	"github.com/worksphere/mailsync/internal/models"
	"github.com/worksphere/mailsync/internal/repository"
	"github.com/worksphere/mailsync/internal/tracing"
)

type AccountsHandler struct {
	repositories *repository.Repositories
	syncService  interfaces.SyncService
}

func NewAccountsHandler(repos *repository.Repositories, syncService interfaces.SyncService) *AccountsHandler {
	return &AccountsHandler{
		repositories: repos,
		syncService:  syncService,
	}
}

// CreateAccountRequest carries the credentials the account model hides from
// its own JSON representation.
type CreateAccountRequest struct {
	Provider     string `json:"provider" binding:"required"`
	EmailAddress string `json:"emailAddress" binding:"required,email"`
	DisplayName  string `json:"displayName"`

	ImapServer   string `json:"imapServer" binding:"required"`
	ImapPort     int    `json:"imapPort" binding:"required"`
	ImapUsername string `json:"imapUsername" binding:"required"`
	ImapPassword string `json:"imapPassword"`
	ImapSecurity string `json:"imapSecurity"`

	OAuthTokenURL     string `json:"oauthTokenUrl"`
	OAuthClientID     string `json:"oauthClientId"`
	OAuthClientSecret string `json:"oauthClientSecret"`
	OAuthAccessToken  string `json:"oauthAccessToken"`
	OAuthRefreshToken string `json:"oauthRefreshToken"`
}

// Create registers a new account and kicks off its initial sync
func (h *AccountsHandler) Create() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "CreateAccount", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		var req CreateAccountRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		account := &models.Account{
			Provider:          enum.DecodeEmailProvider(req.Provider),
			EmailAddress:      req.EmailAddress,
			DisplayName:       req.DisplayName,
			ImapServer:        req.ImapServer,
			ImapPort:          req.ImapPort,
			ImapUsername:      req.ImapUsername,
			ImapPassword:      req.ImapPassword,
			ImapSecurity:      enum.EmailSecurityTLS,
			OAuthTokenURL:     req.OAuthTokenURL,
			OAuthClientID:     req.OAuthClientID,
			OAuthClientSecret: req.OAuthClientSecret,
			OAuthAccessToken:  req.OAuthAccessToken,
			OAuthRefreshToken: req.OAuthRefreshToken,
			Active:            true,
			Verified:          true,
			SyncStatus:        enum.SyncStatusPending,
		}
		if req.ImapSecurity != "" {
			account.ImapSecurity = enum.EmailSecurity(req.ImapSecurity)
		}

		if account.UsesOAuth() && account.OAuthRefreshToken == "" && account.OAuthAccessToken == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "oauth providers require an access or refresh token"})
			return
		}
		if !account.UsesOAuth() && account.ImapPassword == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "password required for non-oauth providers"})
			return
		}

		if err := h.repositories.AccountRepository.Create(ctx, account); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		if err := h.syncService.StartSeed(ctx, account.ID); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusCreated, gin.H{"status": "account created", "id": account.ID})
	}
}

// Get returns a single account
func (h *AccountsHandler) Get() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "GetAccount", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)
		tracing.TagAccount(span, c.Param("id"))

		account, err := h.repositories.AccountRepository.GetByID(ctx, c.Param("id"))
		if err != nil {
			if errors.Is(err, er.ErrAccountNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
				return
			}
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, account)
	}
}

// SyncProgress returns the aggregate sync progress view for an account
func (h *AccountsHandler) SyncProgress() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "GetSyncProgress", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)
		tracing.TagAccount(span, c.Param("id"))

		progress, err := h.syncService.GetSyncProgress(ctx, c.Param("id"))
		if err != nil {
			if errors.Is(err, er.ErrAccountNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
				return
			}
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, progress)
	}
}

// ContinueSync schedules the background crawlers for an account
func (h *AccountsHandler) ContinueSync() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "ContinueSync", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)
		tracing.TagAccount(span, c.Param("id"))

		if err := h.syncService.ContinueSync(ctx, c.Param("id")); err != nil {
			switch {
			case errors.Is(err, er.ErrAccountNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			case errors.Is(err, er.ErrAccountNotSyncable):
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			default:
				tracing.TraceErr(span, err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			}
			return
		}

		c.JSON(http.StatusAccepted, gin.H{"status": "sync scheduled", "id": c.Param("id")})
	}
}

// FetchNewEmails schedules an immediate forward crawl for an account
func (h *AccountsHandler) FetchNewEmails() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "FetchNewEmails", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)
		tracing.TagAccount(span, c.Param("id"))

		if err := h.syncService.FetchNewEmails(ctx, c.Param("id")); err != nil {
			switch {
			case errors.Is(err, er.ErrAccountNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			case errors.Is(err, er.ErrAccountNotSyncable):
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			default:
				tracing.TraceErr(span, err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			}
			return
		}

		c.JSON(http.StatusAccepted, gin.H{"status": "forward crawl scheduled", "id": c.Param("id")})
	}
}

// SyncLogs returns the most recent audit trail entries for an account
func (h *AccountsHandler) SyncLogs() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "GetSyncLogs", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)
		tracing.TagAccount(span, c.Param("id"))

		logs, err := h.repositories.SyncLogRepository.ListByAccount(ctx, c.Param("id"), 100)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"logs": logs})
	}
}
