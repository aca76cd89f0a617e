package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cenety/saaskit/pkg/billing"
	"github.com/cenety/saaskit/pkg/pg"
)

// Store implements billing.Store on PostgreSQL.
type Store struct {
	db DB
}

var _ billing.Store = (*Store)(nil)

// NewStore panics on a nil db.
func NewStore(db DB) *Store {
	if db == nil {
		panic("pgstore: db is required")
	}
	return &Store{db: db}
}

// Each provider's ledger row is joined through that provider's subscription id.
const selectUser = `
SELECT u.id, u.email, u.role, u.payment_provider,
	COALESCE(u.stripe_customer_id, ''), COALESCE(u.stripe_subscription_id, ''),
	COALESCE(u.stripe_price_id, ''), u.stripe_current_period_end,
	COALESCE(ss.status, ''), COALESCE(ss.cancel_at_period_end, FALSE),
	COALESCE(u.polar_customer_id, ''), COALESCE(u.polar_subscription_id, ''),
	COALESCE(u.polar_product_id, ''), u.polar_current_period_end,
	COALESCE(ps.status, ''), COALESCE(ps.cancel_at_period_end, FALSE),
	u.updated_at
FROM users u
LEFT JOIN subscriptions ss
	ON ss.provider = 'stripe' AND ss.subscription_id = u.stripe_subscription_id
LEFT JOIN subscriptions ps
	ON ps.provider = 'polar' AND ps.subscription_id = u.polar_subscription_id
`

func scanUser(row pgx.Row) (billing.User, error) {
	var (
		u                   billing.User
		role, provider      string
		stripeEnd, polarEnd *time.Time
	)
	err := row.Scan(
		&u.ID, &u.Email, &role, &provider,
		&u.Stripe.CustomerID, &u.Stripe.SubscriptionID, &u.Stripe.PriceID, &stripeEnd,
		&u.Stripe.Status, &u.Stripe.CancelAtPeriodEnd,
		&u.Polar.CustomerID, &u.Polar.SubscriptionID, &u.Polar.PriceID, &polarEnd,
		&u.Polar.Status, &u.Polar.CancelAtPeriodEnd,
		&u.UpdatedAt,
	)
	if err != nil {
		return billing.User{}, err
	}
	u.Role = billing.Role(strings.ToUpper(role))
	u.PaymentProvider = billing.ParseProvider(provider)
	if stripeEnd != nil {
		u.Stripe.CurrentPeriodEnd = stripeEnd.UTC()
	}
	if polarEnd != nil {
		u.Polar.CurrentPeriodEnd = polarEnd.UTC()
	}
	return u, nil
}

func (s *Store) queryUser(ctx context.Context, where string, arg any) (billing.User, error) {
	u, err := scanUser(s.db.QueryRow(ctx, selectUser+"WHERE "+where, arg))
	if err != nil {
		if pg.IsNotFoundError(err) {
			return billing.User{}, billing.ErrUserNotFound
		}
		return billing.User{}, errors.Join(ErrFailedToLoadUser, err)
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (billing.User, error) {
	return s.queryUser(ctx, "u.id = $1", id)
}

// FindUser tries each non-empty lookup key in order. Customer and
// subscription ids are matched against the columns of provider only.
func (s *Store) FindUser(ctx context.Context, provider billing.Provider, lookup billing.UserLookup) (billing.User, error) {
	type attempt struct {
		where string
		arg   any
	}
	var attempts []attempt

	if lookup.UserID != uuid.Nil {
		attempts = append(attempts, attempt{"u.id = $1", lookup.UserID})
	}
	if cols, err := columnsFor(provider); err == nil {
		if lookup.CustomerID != "" {
			attempts = append(attempts, attempt{"u." + cols.customer + " = $1", lookup.CustomerID})
		}
		if lookup.SubscriptionID != "" {
			attempts = append(attempts, attempt{"u." + cols.subscription + " = $1", lookup.SubscriptionID})
		}
	}
	if lookup.Email != "" {
		attempts = append(attempts, attempt{"lower(u.email) = lower($1)", lookup.Email})
	}

	for _, a := range attempts {
		u, err := s.queryUser(ctx, a.where, a.arg)
		if errors.Is(err, billing.ErrUserNotFound) {
			continue
		}
		return u, err
	}
	return billing.User{}, billing.ErrUserNotFound
}

// SaveSnapshot updates the provider columns and the ledger in one
// transaction. Rows whose values already match are left untouched, so
// updated_at only moves when something changed.
func (s *Store) SaveSnapshot(ctx context.Context, userID uuid.UUID, snap billing.Snapshot) (bool, error) {
	cols, err := columnsFor(snap.Provider)
	if err != nil {
		return false, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, errors.Join(billing.ErrFailedToStoreSnapshot, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	updateUser := fmt.Sprintf(`
UPDATE users SET
	%[1]s = $2::text, %[2]s = $3::text, %[3]s = $4::text, %[4]s = $5::timestamptz,
	payment_provider = $6::text, updated_at = now()
WHERE id = $1
	AND (%[1]s, %[2]s, %[3]s, %[4]s, payment_provider)
	IS DISTINCT FROM ($2::text, $3::text, $4::text, $5::timestamptz, $6::text)`,
		cols.customer, cols.subscription, cols.price, cols.periodEnd)

	userTag, err := tx.Exec(ctx, updateUser,
		userID,
		nullString(snap.CustomerID),
		nullString(snap.SubscriptionID),
		nullString(snap.PriceID),
		nullTime(snap.CurrentPeriodEnd),
		string(snap.Provider),
	)
	if err != nil {
		return false, errors.Join(billing.ErrFailedToStoreSnapshot, err)
	}

	var ledgerRows int64
	if snap.SubscriptionID != "" {
		tag, err := tx.Exec(ctx, upsertLedger,
			userID,
			string(snap.Provider),
			snap.SubscriptionID,
			nullString(snap.CustomerID),
			nullString(snap.PriceID),
			snap.Status,
			snap.CancelAtPeriodEnd,
			nullTime(snap.CurrentPeriodEnd),
		)
		if err != nil {
			if isForeignKeyViolation(err) {
				return false, billing.ErrUserNotFound
			}
			return false, errors.Join(billing.ErrFailedToStoreSnapshot, err)
		}
		ledgerRows = tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return false, errors.Join(billing.ErrFailedToStoreSnapshot, err)
	}
	return userTag.RowsAffected() > 0 || ledgerRows > 0, nil
}

const upsertLedger = `
INSERT INTO subscriptions (user_id, provider, subscription_id, customer_id, price_id, status, cancel_at_period_end, current_period_end)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (provider, subscription_id) DO UPDATE SET
	user_id = EXCLUDED.user_id,
	customer_id = EXCLUDED.customer_id,
	price_id = EXCLUDED.price_id,
	status = EXCLUDED.status,
	cancel_at_period_end = EXCLUDED.cancel_at_period_end,
	current_period_end = EXCLUDED.current_period_end,
	updated_at = now()
WHERE (subscriptions.user_id, subscriptions.customer_id, subscriptions.price_id, subscriptions.status,
		subscriptions.cancel_at_period_end, subscriptions.current_period_end)
	IS DISTINCT FROM (EXCLUDED.user_id, EXCLUDED.customer_id, EXCLUDED.price_id, EXCLUDED.status,
		EXCLUDED.cancel_at_period_end, EXCLUDED.current_period_end)`

// ClearSubscription nulls the subscription, price and period columns and
// marks the cleared ledger row canceled. payment_provider is kept so the
// user's provider preference survives a lapsed subscription.
func (s *Store) ClearSubscription(ctx context.Context, userID uuid.UUID, provider billing.Provider, subscriptionID string) (bool, error) {
	cols, err := columnsFor(provider)
	if err != nil {
		return false, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, errors.Join(ErrFailedToUpdateUser, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := fmt.Sprintf(`
WITH prev AS (
	SELECT id, %[1]s AS subscription_id, %[2]s AS price_id, %[3]s AS period_end
	FROM users WHERE id = $1 FOR UPDATE
)
UPDATE users u SET %[1]s = NULL, %[2]s = NULL, %[3]s = NULL, updated_at = now()
FROM prev
WHERE u.id = prev.id
	AND (prev.subscription_id IS NOT NULL OR prev.price_id IS NOT NULL OR prev.period_end IS NOT NULL)
	AND ($2::text = '' OR prev.subscription_id = $2::text)
RETURNING COALESCE(prev.subscription_id, '')`,
		cols.subscription, cols.price, cols.periodEnd)

	var cleared string
	if err := tx.QueryRow(ctx, query, userID, subscriptionID).Scan(&cleared); err != nil {
		if pg.IsNotFoundError(err) {
			return false, nil
		}
		return false, errors.Join(ErrFailedToUpdateUser, err)
	}

	if cleared != "" {
		_, err := tx.Exec(ctx, `
UPDATE subscriptions SET status = $3, updated_at = now()
WHERE provider = $1 AND subscription_id = $2 AND status IN ($4, $5)`,
			string(provider), cleared, billing.StatusCanceled, billing.StatusActive, billing.StatusTrialing)
		if err != nil {
			return false, errors.Join(ErrFailedToUpdateUser, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, errors.Join(ErrFailedToUpdateUser, err)
	}
	return true, nil
}

func (s *Store) SetCustomerID(ctx context.Context, userID uuid.UUID, provider billing.Provider, customerID string) error {
	cols, err := columnsFor(provider)
	if err != nil {
		return err
	}
	if customerID == "" {
		return billing.ErrInvalidInput
	}

	query := fmt.Sprintf(`
UPDATE users SET %[1]s = $2::text, updated_at = now()
WHERE id = $1 AND %[1]s IS DISTINCT FROM $2::text`, cols.customer)

	if _, err := s.db.Exec(ctx, query, userID, customerID); err != nil {
		return errors.Join(ErrFailedToUpdateUser, err)
	}
	return nil
}
