// Package database provides SQLite storage for the bridge's device inventory.
//
// This package manages:
//   - Opening the database file with WAL mode and a busy timeout
//   - Forward-only schema migrations read from an fs.FS
//   - Connection lifecycle and health checks
//
// The inventory is optional and only records which devices were seen and
// when. Shadow state is never persisted.
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Inventory)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migration files are named NNNN_description.sql and applied in name order,
// each inside its own transaction.
package database
