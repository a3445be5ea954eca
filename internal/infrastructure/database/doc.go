// Package database provides SQLite connectivity for the spool scale core.
//
// The database holds the small amount of state that must survive a power
// cycle: the backend URL, the device token and the registration flag.
// Undelivered outbound requests are deliberately not stored.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    log.Fatal(err)
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with a
// matching .down.sql, and are additive only.
package database
