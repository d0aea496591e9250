// Package db opens the SQLite databases kept under the application state
// directory. The driver is chosen at build time: the pure Go ncruces driver
// by default, mattn/go-sqlite3 with the sqlite3_cgo tag.
package db

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
)

const memoryPath = ":memory:"

const pragmas = `
PRAGMA journal_mode=WAL;
PRAGMA busy_timeout=5000;
PRAGMA foreign_keys=ON;
PRAGMA synchronous=NORMAL;
PRAGMA temp_store=MEMORY;
`

type config struct {
	path   string
	schema string
}

type SqliteOption func(*config)

// WithPath sets the database file. ":memory:" keeps it in memory.
func WithPath(path string) SqliteOption {
	return func(c *config) {
		c.path = path
	}
}

// WithSchema runs the given statements once the connection is configured.
// Statements must be idempotent.
func WithSchema(schema string) SqliteOption {
	return func(c *config) {
		c.schema = schema
	}
}

// NewSqliteDB opens a database on a single connection: the CLI is the only
// writer, and in-memory databases stay coherent.
func NewSqliteDB(opts ...SqliteOption) (*sqlx.DB, error) {
	cfg := &config{path: memoryPath}
	for _, opt := range opts {
		opt(cfg)
	}

	dsn := memoryPath
	if cfg.path != memoryPath {
		if err := os.MkdirAll(filepath.Dir(cfg.path), 0o700); err != nil {
			return nil, fmt.Errorf("ensure parent directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_txlock=immediate&mode=rwc", cfg.path)
	}

	slog.Debug("db", "driver", driverID, "path", cfg.path)
	db, err := sqlx.Connect(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(pragmas); err != nil {
		db.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}
	if cfg.schema != "" {
		if _, err := db.Exec(cfg.schema); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}

	return db, nil
}
