// Package dataset provides access to the SQLite-backed dataset: opening the
// store, ingesting a CSV source, describing the schema for prompt context,
// and the AI-generated data dictionary.
package dataset

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrDataUnavailable is returned when the dataset store cannot be reached or
// the configured table does not exist. Callers must degrade to a
// conversational "no tool" reply rather than fail the turn.
var ErrDataUnavailable = errors.New("dataset: data unavailable")

// Options configure how the dataset is described.
type Options struct {
	// Table is the dataset table name. Must be validated by the caller
	// (config.Validate) before it reaches this package.
	Table string

	// SampleRows is how many rows Describe includes as context. Defaults to 3.
	SampleRows int

	// SortColumns optionally restricts the sortable/groupable whitelist to a
	// subset of the table's columns. Empty means all columns are eligible.
	SortColumns []string
}

// Store wraps the dataset database connection.
type Store struct {
	db   *sql.DB
	opts Options

	mu     sync.Mutex
	cached *Context // schema context, computed once per process
}

// New opens (or creates) the SQLite file at dbPath and runs migrations for
// the metadata tables.
func New(dbPath string, opts Options) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("dataset: open database: %w", err)
	}

	// SQLite is single-writer by design. Keep a single shared connection so
	// concurrent callers are serialized by database/sql instead of fighting for
	// write locks across multiple underlying connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("dataset: set pragma: %w", err)
		}
	}

	if opts.SampleRows <= 0 {
		opts.SampleRows = 3
	}

	s := &Store{db: db, opts: opts}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("dataset: run migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for query execution.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Table returns the configured dataset table name.
func (s *Store) Table() string {
	return s.opts.Table
}

// TableExists reports whether the configured dataset table is present.
func (s *Store) TableExists() (bool, error) {
	var name string
	err := s.db.QueryRow(
		`SELECT name FROM sqlite_master WHERE type='table' AND name = ?`,
		s.opts.Table,
	).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dataset: check table: %w", err)
	}
	return true, nil
}

// runMigrations applies all pending migrations for the metadata tables
// (schema_migrations bookkeeping, ai_context, ai_groups). The dataset table
// itself is created by ingestion, not by migrations, because its columns
// depend on the CSV source.
func (s *Store) runMigrations() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			description TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var currentVersion int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion); err != nil {
		return fmt.Errorf("get current schema version: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		// Extract version from filename (e.g., "0001_metadata.sql" -> 1)
		parts := strings.SplitN(entry.Name(), "_", 2)
		if len(parts) < 2 {
			continue
		}
		var version int
		if _, err := fmt.Sscanf(parts[0], "%d", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}
		description := strings.TrimSuffix(parts[1], ".sql")

		content, err := migrationsFS.ReadFile(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d: %w", version, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
			version, time.Now(), description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", version, err)
		}

		slog.Info("applied migration", "version", fmt.Sprintf("%04d", version), "description", description)
	}

	return nil
}
