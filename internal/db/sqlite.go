// Package db opens the SQLite metadata store and applies its schema.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
)

// PoolMode selects the write-safety profile of a SQLite pool.
type PoolMode string

// Pool modes.
const (
	// ModeWrite serializes writers: one connection, immediate transactions.
	ModeWrite PoolMode = "write"
	// ModeRead allows concurrent readers.
	ModeRead PoolMode = "read"
)

const (
	defaultBusyTimeout = "5000"
	defaultSynchronous = "NORMAL"
	defaultJournalMode = "WAL"
	defaultReadPool    = 4
)

// OpenSQLite opens a pool for the SQLite file at path.
// Both modes use WAL, a 5s busy timeout and enforced foreign keys.
func OpenSQLite(path string, mode PoolMode, maxOpen int) (*sql.DB, error) {
	if mode != ModeRead && mode != ModeWrite {
		return nil, fmt.Errorf("invalid SQLite mode %q: must be \"read\" or \"write\"", mode)
	}

	db, err := sql.Open("sqlite3", buildDSN(path, mode))
	if err != nil {
		return nil, fmt.Errorf("open sqlite (%s): %w", mode, err)
	}

	switch mode {
	case ModeWrite:
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	case ModeRead:
		if maxOpen <= 0 {
			maxOpen = defaultReadPool
		}
		db.SetMaxOpenConns(maxOpen)
		db.SetMaxIdleConns(maxOpen)
	}
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite (%s): %w", mode, err)
	}

	return db, nil
}

// MetaStore holds the write and read pools of the metadata store.
// Repositories write through Write and list through Read.
type MetaStore struct {
	Write *sql.DB
	Read  *sql.DB
}

// OpenMetaStore opens both pools for path and applies pending migrations on
// the write pool.
func OpenMetaStore(path string, readMaxOpen int) (*MetaStore, error) {
	writeDB, err := OpenSQLite(path, ModeWrite, 0)
	if err != nil {
		return nil, err
	}
	readDB, err := OpenSQLite(path, ModeRead, readMaxOpen)
	if err != nil {
		_ = writeDB.Close()
		return nil, err
	}
	if err := RunMigrations(writeDB); err != nil {
		_ = readDB.Close()
		_ = writeDB.Close()
		return nil, fmt.Errorf("migrate metadata store: %w", err)
	}
	return &MetaStore{Write: writeDB, Read: readDB}, nil
}

// Close closes both pools.
func (m *MetaStore) Close() error {
	return errors.Join(m.Read.Close(), m.Write.Close())
}

func buildDSN(path string, mode PoolMode) string {
	params := url.Values{}
	params.Set("_journal_mode", defaultJournalMode)
	params.Set("_busy_timeout", defaultBusyTimeout)
	params.Set("_synchronous", defaultSynchronous)
	params.Set("_foreign_keys", "on")

	if mode == ModeWrite {
		params.Set("_txlock", "immediate")
	}

	return path + "?" + params.Encode()
}
