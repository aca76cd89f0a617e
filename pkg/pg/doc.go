// Package pg bootstraps PostgreSQL access through pgx/v5.
//
// Connect builds a *pgxpool.Pool from Config and pings it, retrying with a
// linearly growing delay. Migrate applies goose migrations from any fs.FS,
// typically an embedded directory owned by the service that needs the schema.
// Healthcheck adapts a pool to the probe signature used by httpserver.
//
//	var cfg pg.Config
//	config.MustLoad(&cfg)
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, migrations.FS, ".", cfg, log); err != nil {
//		return err
//	}
//
// Errors are sentinels combined with the driver error via errors.Join, so
// callers match them with errors.Is. IsNotFoundError and IsDuplicateKeyError
// cover the two driver conditions repositories care about most.
package pg
