// Package pgstore persists billing state in PostgreSQL.
//
// It provides the billing.Store implementation over the users table and the
// subscriptions ledger, the SQL-backed billing.UsageCounter, an audit.Storage
// that copies batches into audit_logs, and Guard, which enforces plan limits
// exactly by serializing creates under a transaction-scoped advisory lock.
//
// The schema ships as embedded goose migrations:
//
//	if err := pg.Migrate(ctx, pool, pgstore.Migrations, pgstore.MigrationsDir, cfg, log); err != nil {
//		return err
//	}
//
// All types accept the DB interface, which *pgxpool.Pool satisfies and which
// pgxmock pools satisfy in tests.
package pgstore
