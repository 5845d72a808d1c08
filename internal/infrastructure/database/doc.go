// Package database provides SQLite storage for lmbridge.
//
// The database holds the sealed cloud credentials (installation key and
// access token), the per-machine state history and the command audit. All
// of them are written by other packages through the embedded *sql.DB.
//
// Connections use WAL mode and a busy timeout, and the pool is limited to a
// single connection because SQLite has one writer. The database file is
// created with 0600 permissions.
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are embedded by the migrations package and named
// YYYYMMDD_HHMMSS_description.{up,down}.sql. They are additive: new columns
// are nullable or carry a default.
package database
