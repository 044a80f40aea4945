// Package database opens the SQLite file that holds property change history
// and applies its schema migrations.
//
// Device definitions come from the Tasmota YAML file and live state is
// rebuilt by polling, so history is the only persistent state.
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	err = db.Migrate(ctx, migrations.FS)
package database
