package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/opentracing/opentracing-go"
	"golang.org/x/oauth2"

	"github.com/worksphere/mailsync/interfaces"
	"github.com/worksphere/mailsync/internal/enum"
	er "github.com/worksphere/mailsync/internal/errors"
	"github.com/worksphere/mailsync/internal/logger"
	"github.com/worksphere/mailsync/internal/models"
	"github.com/worksphere/mailsync/internal/repository"
	"github.com/worksphere/mailsync/internal/tracing"
	"github.com/worksphere/mailsync/internal/utils"
)

// tokenExpiryWindow: a token expiring within this window is refreshed before
// use instead of being handed to a crawl that may outlive it.
const tokenExpiryWindow = 5 * time.Minute

const (
	googleTokenURL    = "https://oauth2.googleapis.com/token"
	microsoftTokenURL = "https://login.microsoftonline.com/common/oauth2/v2.0/token"
)

// TokenManager owns the OAuth token lifecycle and the auth failure circuit
// breaker. It refreshes tokens ahead of expiry and, after too many
// consecutive auth failures, trips the account into needs_reauth so crawl
// retries stop hammering a revoked grant.
type TokenManager struct {
	accounts interfaces.AccountRepository
	syncLogs interfaces.SyncLogRepository
	events   interfaces.EventPublisher
	log      logger.Logger
}

func NewTokenManager(
	accounts interfaces.AccountRepository,
	syncLogs interfaces.SyncLogRepository,
	events interfaces.EventPublisher,
	log logger.Logger,
) *TokenManager {
	return &TokenManager{
		accounts: accounts,
		syncLogs: syncLogs,
		events:   events,
		log:      log,
	}
}

// AccessToken returns a valid access token for the account, refreshing it
// first when missing or expiring within the window.
func (m *TokenManager) AccessToken(ctx context.Context, account *models.Account) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "TokenManager.AccessToken")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, account.ID)

	if !account.UsesOAuth() {
		return "", er.ErrOAuthNotSupported
	}

	if account.OAuthAccessToken != "" && account.OAuthTokenExpiry != nil &&
		account.OAuthTokenExpiry.After(utils.Now().Add(tokenExpiryWindow)) {
		return account.OAuthAccessToken, nil
	}

	token, err := m.refresh(ctx, account)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}

	return token, nil
}

func (m *TokenManager) refresh(ctx context.Context, account *models.Account) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "TokenManager.refresh")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, account.ID)

	if account.OAuthRefreshToken == "" {
		err := fmt.Errorf("no refresh token on account %s: %w", account.ID, er.ErrReauthRequired)
		tracing.TraceErr(span, err)
		return "", err
	}

	tokenURL := account.OAuthTokenURL
	if tokenURL == "" {
		var err error
		tokenURL, err = providerTokenURL(account.Provider)
		if err != nil {
			tracing.TraceErr(span, err)
			return "", err
		}
	}

	conf := &oauth2.Config{
		ClientID:     account.OAuthClientID,
		ClientSecret: account.OAuthClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
	}

	source := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: account.OAuthRefreshToken})
	token, err := source.Token()
	if err != nil {
		err = fmt.Errorf("%w for account %s: %v", er.ErrTokenRefresh, account.ID, err)
		tracing.TraceErr(span, err)
		return "", err
	}

	if err := m.accounts.SaveOAuthToken(ctx, account.ID, token.AccessToken, token.Expiry); err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}

	// Some providers rotate the refresh token on every use.
	if token.RefreshToken != "" && token.RefreshToken != account.OAuthRefreshToken {
		err = m.accounts.UpdateFields(ctx, account.ID, map[string]interface{}{
			"oauth_refresh_token": token.RefreshToken,
		})
		if err != nil {
			tracing.TraceErr(span, err)
			return "", err
		}
		account.OAuthRefreshToken = token.RefreshToken
	}

	account.OAuthAccessToken = token.AccessToken
	expiry := token.Expiry
	account.OAuthTokenExpiry = &expiry

	if logErr := m.syncLogs.Append(ctx, account.ID, models.SyncLogTokenRefreshed, map[string]interface{}{
		"expiry": token.Expiry.Format(time.RFC3339),
	}); logErr != nil {
		m.log.Warnf("failed to record token refresh for %s: %v", account.ID, logErr)
	}

	return token.AccessToken, nil
}

// RecordAuthFailure counts one auth failure and trips the circuit breaker
// once the threshold is reached. Returns true when the breaker tripped.
func (m *TokenManager) RecordAuthFailure(ctx context.Context, account *models.Account, cause error) (bool, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "TokenManager.RecordAuthFailure")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, account.ID)

	failures, err := m.accounts.RecordAuthFailure(ctx, account.ID, cause.Error())
	if err != nil {
		tracing.TraceErr(span, err)
		return false, err
	}
	account.ConsecutiveFailures = failures
	span.SetTag("failures", failures)

	if failures < repository.MaxConsecutiveAuthFailures {
		return false, nil
	}

	if err := m.accounts.TripCircuitBreaker(ctx, account.ID, cause.Error()); err != nil {
		tracing.TraceErr(span, err)
		return false, err
	}

	account.NeedsReauth = true
	account.SyncStatus = enum.SyncStatusFailed
	account.LastError = cause.Error()

	m.log.Warnf("account %s needs re-authentication after %d consecutive auth failures: %v", account.ID, failures, cause)

	if logErr := m.syncLogs.Append(ctx, account.ID, models.SyncLogBreakerTripped, map[string]interface{}{
		"failures": failures,
		"error":    cause.Error(),
	}); logErr != nil {
		m.log.Warnf("failed to record breaker trip for %s: %v", account.ID, logErr)
	}

	if pubErr := m.events.PublishAccountStatusChanged(ctx, account); pubErr != nil {
		m.log.Warnf("failed to publish status change for %s: %v", account.ID, pubErr)
	}

	return true, nil
}

// RecordAuthSuccess clears the failure counter after a successful
// authentication, so intermittent provider hiccups do not accumulate toward
// the breaker threshold.
func (m *TokenManager) RecordAuthSuccess(ctx context.Context, account *models.Account) error {
	if account.ConsecutiveFailures == 0 {
		return nil
	}

	if err := m.accounts.ResetAuthFailures(ctx, account.ID); err != nil {
		return err
	}
	account.ConsecutiveFailures = 0
	return nil
}

func providerTokenURL(provider enum.EmailProvider) (string, error) {
	switch provider {
	case enum.EmailProviderGmail:
		return googleTokenURL, nil
	case enum.EmailProviderOutlook:
		return microsoftTokenURL, nil
	default:
		return "", fmt.Errorf("provider %s: %w", provider, er.ErrOAuthNotSupported)
	}
}
