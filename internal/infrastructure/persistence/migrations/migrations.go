// Package migrations embeds the versioned schema for the sqlite store
package migrations

import "embed"

// FS holds NNN_description.sql files applied by database.Migrator
//
//go:embed *.sql
var FS embed.FS
