package errors

import "github.com/pkg/errors"

var (
	// account errors
	ErrAccountNotFound    = errors.New("account not found")
	ErrAccountNotSyncable = errors.New("account is not eligible for sync")
	ErrReauthRequired     = errors.New("account requires re-authentication")
	ErrAccountExists      = errors.New("account already exists")

	// provider errors
	ErrFolderNotFound    = errors.New("folder not found on server")
	ErrConnectionTimeout = errors.New("connection timeout")
	ErrNotConnected      = errors.New("imap client is not connected")
	ErrOAuthNotSupported = errors.New("provider does not support oauth")
	ErrTokenRefresh      = errors.New("oauth token refresh failed")

	// job errors
	ErrJobLocked     = errors.New("job is already running")
	ErrQueueNotFound = errors.New("queue not registered")
	ErrQueueShutdown = errors.New("queue is shutting down")
)
