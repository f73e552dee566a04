// Package pg bootstraps PostgreSQL access on pgx/v5: a retrying pool
// constructor, goose migrations from an embedded filesystem, a readiness probe
// and error classification helpers.
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, cfg, pgstore.Migrations, pgstore.MigrationsDir, log); err != nil {
//		return err
//	}
//
// Configuration is read from PG_* environment variables; see Config.
package pg
