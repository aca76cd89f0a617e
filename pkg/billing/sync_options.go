package billing

import (
	"log/slog"
	"time"
)

// SyncOption configures a Synchronizer.
type SyncOption func(*Synchronizer)

// WithProvider registers a payment provider. Providers that are not
// registered report ErrProviderNotConfigured.
func WithProvider(p PaymentProvider) SyncOption {
	return func(s *Synchronizer) {
		if p != nil {
			s.providers[p.Name()] = p
		}
	}
}

// WithInvalidator replaces the cache invalidation port. Defaults to the
// resolver the synchronizer was built with.
func WithInvalidator(inv Invalidator) SyncOption {
	return func(s *Synchronizer) {
		if inv != nil {
			s.invalidator = inv
		}
	}
}

// WithAuditLogger records sync outcomes as audit events.
func WithAuditLogger(a AuditLogger) SyncOption {
	return func(s *Synchronizer) {
		if a != nil {
			s.audit = a
		}
	}
}

// WithObserver reports sync outcomes, usually to metrics.
func WithObserver(o Observer) SyncOption {
	return func(s *Synchronizer) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithSyncLogger sets the logger used for sync failures.
func WithSyncLogger(l *slog.Logger) SyncOption {
	return func(s *Synchronizer) {
		if l != nil {
			s.log = l
		}
	}
}

// WithSyncClock overrides the clock used to judge subscription activity.
func WithSyncClock(now func() time.Time) SyncOption {
	return func(s *Synchronizer) {
		if now != nil {
			s.now = now
		}
	}
}
