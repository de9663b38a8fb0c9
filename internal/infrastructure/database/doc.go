// Package database provides the SQLite connection for Gatekeeper.
//
// It holds the user directory and the durable copy of the audit trail.
// Schema changes are embedded .sql files applied by Migrate at startup;
// see the top-level migrations package.
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return fmt.Errorf("opening database: %w", err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return fmt.Errorf("running migrations: %w", err)
//	}
//
// All queries use placeholders. The database file is chmod 0600 because it
// stores password hashes.
package database
