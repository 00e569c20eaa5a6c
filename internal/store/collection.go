package store

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"
)

// HistorySuffix is appended to a collection's name to form its history
// table. The suffix is part of the persisted layout and must not change.
const HistorySuffix = "_history"

// Collection names become SQL identifiers, so they are restricted rather
// than quoted-and-hoped-for.
var collectionNameRE = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// DBTX is the subset of database/sql shared by *sql.DB and *sql.Tx.
// Collection methods take it so the same operation can run standalone or
// inside the coordinator's batch transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Collection is a handle to one document collection and its history table.
type Collection struct {
	store *Store
	name  string
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// HistoryTable returns the name of the collection's history table.
func (c *Collection) HistoryTable() string { return c.name + HistorySuffix }

// Store returns the owning store.
func (c *Collection) Store() *Store { return c.store }

// Collection opens a handle to the named collection, creating its record
// and history tables on first use and recording it in the registry.
// Idempotent; safe to call on every startup.
func (s *Store) Collection(ctx context.Context, name string) (*Collection, error) {
	if !collectionNameRE.MatchString(name) {
		return nil, fmt.Errorf("invalid collection name %q", name)
	}

	// Record table: the doc column holds the full JSON document including
	// the audit scratch field; version backs the optimistic-concurrency
	// check on audited updates.
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %q (
			id      TEXT PRIMARY KEY,
			version INTEGER NOT NULL DEFAULT 1,
			doc     TEXT NOT NULL
		)
	`, name))
	if err != nil {
		return nil, fmt.Errorf("create collection %s: %w", name, mapSQLiteError(err))
	}

	// History table: strictly append/query. No update or delete statements
	// exist anywhere in this package for it.
	historyTable := name + HistorySuffix
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %q (
			history_id TEXT PRIMARY KEY,
			record_id  TEXT NOT NULL,
			batch_id   TEXT NOT NULL,
			ts         INTEGER NOT NULL,
			op         TEXT NOT NULL CHECK (op IN ('insert', 'update', 'delete')),
			changes    TEXT NOT NULL
		)
	`, historyTable))
	if err != nil {
		return nil, fmt.Errorf("create history table %s: %w", historyTable, mapSQLiteError(err))
	}

	indexes := []string{
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %q ON %q (record_id, ts)`,
			"idx_"+historyTable+"_record_ts", historyTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %q ON %q (batch_id)`,
			"idx_"+historyTable+"_batch", historyTable),
	}
	for _, stmt := range indexes {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("index history table %s: %w", historyTable, mapSQLiteError(err))
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO collections (name, created_at)
		VALUES (?, ?)
		ON CONFLICT(name) DO NOTHING
	`, name, time.Now().UnixNano())
	if err != nil {
		return nil, fmt.Errorf("register collection %s: %w", name, mapSQLiteError(err))
	}

	return &Collection{store: s, name: name}, nil
}

// ListCollections returns the registered collection names, oldest first.
func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name FROM collections ORDER BY created_at ASC, name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", mapSQLiteError(err))
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan collection name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate collections: %w", err)
	}

	if names == nil {
		names = []string{}
	}
	return names, nil
}
