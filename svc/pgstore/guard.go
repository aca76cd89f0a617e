package pgstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cenety/saaskit/pkg/billing"
	"github.com/cenety/saaskit/pkg/logger"
)

// CreateFunc inserts the new resource inside the guard's transaction.
type CreateFunc func(ctx context.Context, tx pgx.Tx) error

// Guard enforces plan limits exactly. Creates for the same user and
// resource are serialized by a transaction-scoped advisory lock, so the
// count it checks cannot change before the insert commits.
type Guard struct {
	db    DB
	plans billing.PlanResolver
	log   *slog.Logger
	now   func() time.Time
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

func WithGuardLogger(l *slog.Logger) GuardOption {
	return func(g *Guard) {
		if l != nil {
			g.log = l
		}
	}
}

func WithGuardClock(now func() time.Time) GuardOption {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

// NewGuard panics on a nil db or plan resolver.
func NewGuard(db DB, plans billing.PlanResolver, opts ...GuardOption) *Guard {
	if db == nil {
		panic("pgstore: db is required")
	}
	if plans == nil {
		panic("pgstore: plan resolver is required")
	}
	g := &Guard{db: db, plans: plans, log: logger.Discard(), now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Create runs fn when the user may create one more resource. It returns
// billing.ErrLimitExceeded, with the user-facing message, otherwise.
// An unresolvable plan fails open, like the advisory checks.
func (g *Guard) Create(ctx context.Context, userID uuid.UUID, resource billing.Resource, fn CreateFunc) error {
	if !resource.Valid() {
		return fmt.Errorf("%w: %s", billing.ErrUnknownResource, resource)
	}

	limit := billing.Unlimited
	plan, err := g.plans.ResolvePlan(ctx, userID)
	if err != nil {
		g.log.ErrorContext(ctx, "guarded create failed open",
			logger.UserID(userID),
			logger.Resource(string(resource)),
			logger.Error(err),
		)
	} else {
		limit = plan.Limit(resource)
	}

	tx, err := g.db.Begin(ctx)
	if err != nil {
		return errors.Join(ErrFailedToAcquireLock, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if limit != billing.Unlimited {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1), hashtext($2))`,
			userID.String(), string(resource)); err != nil {
			return errors.Join(ErrFailedToAcquireLock, err)
		}

		current, err := count(ctx, tx, userID, resource, g.now())
		if err != nil {
			return err
		}
		if res := billing.Evaluate(resource, current, limit); !res.Allowed {
			return fmt.Errorf("%w: %s", billing.ErrLimitExceeded, res.Message)
		}
	}

	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
