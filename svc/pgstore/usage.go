package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cenety/saaskit/pkg/billing"
)

// UsageCounter counts a user's resources with SQL count queries.
type UsageCounter struct {
	db  Querier
	now func() time.Time
}

var _ billing.UsageCounter = (*UsageCounter)(nil)

// UsageOption configures a UsageCounter.
type UsageOption func(*UsageCounter)

// WithUsageClock overrides the clock used for the monthly document window.
func WithUsageClock(now func() time.Time) UsageOption {
	return func(u *UsageCounter) {
		if now != nil {
			u.now = now
		}
	}
}

// NewUsageCounter panics on a nil db.
func NewUsageCounter(db Querier, opts ...UsageOption) *UsageCounter {
	if db == nil {
		panic("pgstore: db is required")
	}
	u := &UsageCounter{db: db, now: time.Now}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

func (u *UsageCounter) Count(ctx context.Context, userID uuid.UUID, resource billing.Resource) (int64, error) {
	return count(ctx, u.db, userID, resource, u.now())
}

// MonthStart returns the first instant of t's calendar month in UTC.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func count(ctx context.Context, q Querier, userID uuid.UUID, resource billing.Resource, now time.Time) (int64, error) {
	var (
		query string
		args  = []any{userID}
	)
	switch resource {
	case billing.ResourceCustomers:
		query = `SELECT count(*) FROM customers WHERE user_id = $1`
	case billing.ResourceQRCodes:
		query = `SELECT count(*) FROM customers WHERE user_id = $1 AND qr_code IS NOT NULL`
	case billing.ResourceDocuments:
		query = `SELECT count(*) FROM documents WHERE user_id = $1 AND created_at >= $2`
		args = append(args, MonthStart(now))
	default:
		return 0, fmt.Errorf("%w: %s", billing.ErrUnknownResource, resource)
	}

	var n int64
	if err := q.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, errors.Join(billing.ErrFailedToCountUsage, err)
	}
	return n, nil
}
