package provider

import (
	"context"
	"strings"
	"time"

	"github.com/jpillora/backoff"
	"github.com/pkg/errors"

	"github.com/worksphere/mailsync/internal/logger"
)

const networkRetryAttempts = 3

// withRetry wraps a network operation in an exponential-backoff retry.
// Transport errors are treated as potentially transient; authentication
// rejections propagate immediately. After the attempts are exhausted the
// last error propagates to the caller.
func withRetry(ctx context.Context, log logger.Logger, op string, fn func() error) error {
	b := &backoff.Backoff{
		Min:    500 * time.Millisecond,
		Max:    10 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	var err error
	for attempt := 1; attempt <= networkRetryAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		// An authentication rejection is not transient; retrying it only
		// burns attempts against the provider's failure counters.
		if IsAuthError(err) {
			return err
		}
		if attempt == networkRetryAttempts {
			break
		}

		delay := b.Duration()
		log.Warnf("%s failed (attempt %d/%d), retrying in %v: %v", op, attempt, networkRetryAttempts, delay, err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return errors.Wrapf(err, "%s failed after %d attempts", op, networkRetryAttempts)
}

// IsAuthError reports whether an IMAP error is an authentication rejection
// rather than a transport problem. Callers use this to decide between the
// auth failure counter and a plain retry.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}

	errorMsg := strings.ToLower(err.Error())
	return strings.Contains(errorMsg, "authenticationfailed") ||
		strings.Contains(errorMsg, "authentication failed") ||
		strings.Contains(errorMsg, "invalid credentials") ||
		strings.Contains(errorMsg, "login failed") ||
		strings.Contains(errorMsg, "failed to authenticate") ||
		strings.Contains(errorMsg, "failed to obtain access token")
}

// IsConnectionError checks if an error is related to connectivity. Crawlers
// use this to stop a multi-folder pass early: once the session is dead,
// every remaining folder would fail the same way.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}

	errorMsg := err.Error()
	return strings.Contains(errorMsg, "connection closed") ||
		strings.Contains(errorMsg, "i/o timeout") ||
		strings.Contains(errorMsg, "EOF") ||
		strings.Contains(errorMsg, "connection reset")
}
