// Package migrations embeds schema migration files at compile time for
// single-binary deployment without external file dependencies.
package migrations

import "embed"

//go:embed sqlite/*.sql
var SqliteMigrations embed.FS

//go:embed postgres/*.sql
var PostgresMigrations embed.FS
