package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Store is the run log: one row per live or replayed session and the
// ordered events it published.
type Store struct {
	db *sql.DB
}

// pragma is a connection setting and the value SQLite reports once it is
// applied.
type pragma struct {
	name, set, reads string
}

var pragmas = []pragma{
	{"journal_mode", "WAL", "wal"},
	{"synchronous", "NORMAL", "1"},
	{"busy_timeout", "5000", "5000"},
	{"foreign_keys", "ON", "1"},
}

// migration upgrades a database to version. Statements must be
// idempotent: a fresh database gets the schema and then every migration.
type migration struct {
	version int
	stmt    string
}

var migrations = []migration{
	{1, `CREATE INDEX IF NOT EXISTS idx_events_kind ON events(run_id, kind, seq)`},
	{2, `CREATE INDEX IF NOT EXISTS idx_runs_unfinished ON runs(started_at) WHERE finished_at IS NULL`},
}

// schemaVersion is the user_version of a fully migrated database.
var schemaVersion = migrations[len(migrations)-1].version

// Open creates or opens the run log at path, applying pragmas, the schema
// and any pending migration. SQLite has a single writer, so the pool holds
// one connection.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, p := range pragmas {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA %s = %s", p.name, p.set)); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", p.name, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	for _, m := range migrations {
		if m.version <= version {
			continue
		}
		if _, err := db.Exec(m.stmt); err != nil {
			return fmt.Errorf("migrate to v%d: %w", m.version, err)
		}
	}
	if version < schemaVersion {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
			return fmt.Errorf("write schema version: %w", err)
		}
	}
	return nil
}

// DeleteRun removes a run and, by cascade, its events. Deleting an unknown
// run returns sql.ErrNoRows.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete run %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete run %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("delete run %s: %w", id, sql.ErrNoRows)
	}
	return nil
}

func (s *Store) pragmaValue(name string) (string, error) {
	var value string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return "", fmt.Errorf("read pragma %s: %w", name, err)
	}
	return value, nil
}
