package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists users and their cached subscription fields.
type Store interface {
	// GetUser returns ErrUserNotFound for unknown ids.
	GetUser(ctx context.Context, id uuid.UUID) (User, error)

	// FindUser locates a user by the first lookup key that matches, in the
	// order user id, customer id, subscription id, email.
	FindUser(ctx context.Context, provider Provider, lookup UserLookup) (User, error)

	// SaveSnapshot writes the provider's subscription columns, sets the
	// payment provider selector and upserts the ledger row. It touches only
	// the columns of snap.Provider and reports whether anything changed.
	SaveSnapshot(ctx context.Context, userID uuid.UUID, snap Snapshot) (bool, error)

	// ClearSubscription drops the subscription, price and period columns of
	// provider, keeping the customer id. When subscriptionID is not empty
	// the row is only cleared if it still references that subscription.
	ClearSubscription(ctx context.Context, userID uuid.UUID, provider Provider, subscriptionID string) (bool, error)

	// SetCustomerID records the provider customer id found by email lookup.
	SetCustomerID(ctx context.Context, userID uuid.UUID, provider Provider, customerID string) error
}

// UsageCounter counts resources owned by a user.
type UsageCounter interface {
	Count(ctx context.Context, userID uuid.UUID, resource Resource) (int64, error)
}

// UsageCounterFunc adapts a function to UsageCounter.
type UsageCounterFunc func(ctx context.Context, userID uuid.UUID, resource Resource) (int64, error)

func (f UsageCounterFunc) Count(ctx context.Context, userID uuid.UUID, resource Resource) (int64, error) {
	return f(ctx, userID, resource)
}

// Invalidator drops cached plan resolutions for a user.
// The synchronizer calls it after every successful write.
type Invalidator interface {
	Invalidate(ctx context.Context, userID uuid.UUID) error
}

// Observer receives sync and limit-check outcomes for metrics.
type Observer interface {
	SyncCompleted(provider Provider, trigger, outcome string, d time.Duration)
	LimitChecked(resource Resource, verdict string)
}

type noopObserver struct{}

func (noopObserver) SyncCompleted(Provider, string, string, time.Duration) {}
func (noopObserver) LimitChecked(Resource, string) {}

// AuditLogger records best-effort audit events. It has no error return:
// a failed audit write must never fail the operation that produced it.
type AuditLogger interface {
	Log(ctx context.Context, userID uuid.UUID, action string, result error, metadata map[string]any)
}

type noopAudit struct{}

func (noopAudit) Log(context.Context, uuid.UUID, string, error, map[string]any) {}
