// Package store implements the durable skill repository: versioned skill
// records, the append-only outcome ledger, and experiment records, all in a
// single SQLite database. Version promotion is a single atomic commit so
// readers never observe a lineage mid-promotion.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/cadencehq/skillloop/pkg/db"
	"github.com/cadencehq/skillloop/pkg/db/migrations"
)

// Store provides access to the skill knowledge base. All methods are safe
// for concurrent use; writes are serialized by the underlying single-writer
// SQLite connection.
type Store struct {
	db *sqlx.DB
}

// Open opens (or creates) the store at the given path and applies pending
// migrations.
func Open(ctx context.Context, dbPath string) (*Store, error) {
	conn, err := db.Open(ctx, dbPath)
	if err != nil {
		return nil, err
	}

	runner := db.NewMigrationRunner(conn)
	if err := runner.Run(ctx, migrations.All()); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to run migrations")
	}

	return New(conn), nil
}

// New wraps an already-configured database handle.
func New(conn *sqlx.DB) *Store {
	return &Store{db: conn}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for migration status commands.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// isUniqueViolation reports whether the error is a SQLite uniqueness
// constraint failure, which is how concurrent promotions and duplicate
// running experiments surface.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func marshalTags(tags []string) string {
	if len(tags) == 0 {
		return "[]"
	}
	raw, err := json.Marshal(tags)
	if err != nil {
		return "[]"
	}
	return string(raw)
}

func unmarshalTags(raw string) []string {
	if raw == "" || raw == "[]" {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil
	}
	return tags
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
