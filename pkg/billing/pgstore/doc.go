// Package pgstore persists the order ledger and trial grants in PostgreSQL.
//
// Orders are keyed by (channel, tenant_id, order_id); a second insert of the
// same key is reported as billing.ErrDuplicateOrder. Apply the embedded
// migrations with pg.Migrate before use:
//
//	if err := pg.Migrate(ctx, pool, cfg, pgstore.Migrations, pgstore.MigrationsDir, log); err != nil {
//		return err
//	}
//	store := pgstore.New(pool)
package pgstore
