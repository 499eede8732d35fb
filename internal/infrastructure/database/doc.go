// Package database opens the payload's SQLite file and applies schema
// migrations.
//
// The database holds the capture and download ledger and the operator audit
// trail. It is opened in WAL mode so API reads do not block the bridge's
// writes, with a busy timeout to ride out brief lock contention and 0600
// file permissions.
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns are nullable or carry a default,
// and every .up.sql ships with a .down.sql.
package database
