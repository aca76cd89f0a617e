package pgstore

import "errors"

var (
	ErrFailedToLoadUser         = errors.New("failed to load user")
	ErrFailedToUpdateUser       = errors.New("failed to update user")
	ErrFailedToStoreAuditEvents = errors.New("failed to store audit events")
	ErrFailedToAcquireLock      = errors.New("failed to acquire usage lock")
	ErrUnsupportedProvider      = errors.New("unsupported payment provider")
)
