// Package migrations embeds the SQLite schema of the Tasmota service.
package migrations

import "embed"

// FS holds the YYYYMMDD_HHMMSS_name.up.sql files, applied in name order by
// database.DB.Migrate.
//
//go:embed *.sql
var FS embed.FS
