package db

import (
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
)

// RunMigrations applies all pending goose migrations to the metadata store.
func RunMigrations(db *sql.DB) error {
	goose.SetBaseFS(EmbedMigrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("goose set dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}

	return nil
}

// MigrationVersion returns the current schema version of the metadata store.
func MigrationVersion(db *sql.DB) (int64, error) {
	goose.SetBaseFS(EmbedMigrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return 0, fmt.Errorf("goose set dialect: %w", err)
	}
	v, err := goose.GetDBVersion(db)
	if err != nil {
		return 0, fmt.Errorf("goose version: %w", err)
	}
	return v, nil
}
