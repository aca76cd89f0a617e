package pgstore

import (
	"context"
	"embed"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/cenety/saaskit/pkg/billing"
)

// Migrations holds the goose migrations for the billing schema.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory of Migrations passed to pg.Migrate.
const MigrationsDir = "migrations"

// DB is the subset of *pgxpool.Pool used by this package.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Querier runs queries either on the pool or inside a transaction.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// columns names the cached subscription columns of one provider on users.
type columns struct {
	customer     string
	subscription string
	price        string
	periodEnd    string
}

var providerColumns = map[billing.Provider]columns{
	billing.ProviderStripe: {
		customer:     "stripe_customer_id",
		subscription: "stripe_subscription_id",
		price:        "stripe_price_id",
		periodEnd:    "stripe_current_period_end",
	},
	billing.ProviderPolar: {
		customer:     "polar_customer_id",
		subscription: "polar_subscription_id",
		price:        "polar_product_id",
		periodEnd:    "polar_current_period_end",
	},
}

func columnsFor(p billing.Provider) (columns, error) {
	c, ok := providerColumns[p]
	if !ok {
		return columns{}, errors.Join(ErrUnsupportedProvider, errors.New(string(p)))
	}
	return c, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
