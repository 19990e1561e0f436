package db

import "embed"

// EmbedMigrations contains the metadata store schema migrations.
//
//go:embed migrations/*.sql
var EmbedMigrations embed.FS
