// Package database provides SQLite connectivity for the review core.
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Schema migrations embedded in the binary
//   - Bounded transactions (WithTx / RunTx) used by every multi-row write
//
// All queries use parameterised statements. The database file is created
// with 0600 permissions.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	err = db.WithTx(ctx, cfg.GetTransactionTimeout(), func(ctx context.Context, tx *sql.Tx) error {
//	    // writes that must land together
//	    return nil
//	})
package database
