// Package postgres implements the backing collection contract on PostgreSQL.
// It serves deployments where several processes share one store.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/scopekv/scopekv/internal/backend"
)

// Schema mirrors the SQLite engine: one table, '' context_id for the global
// context so the unique index covers unscoped records.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS entries (
    id         TEXT PRIMARY KEY,
    store_name TEXT NOT NULL,
    key        TEXT NOT NULL,
    context_id TEXT NOT NULL DEFAULT '',
    value      TEXT,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    expires_at TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_scoped_key
    ON entries (store_name, key, context_id);

CREATE INDEX IF NOT EXISTS idx_entries_store_name ON entries (store_name);
CREATE INDEX IF NOT EXISTS idx_entries_key ON entries (key);
CREATE INDEX IF NOT EXISTS idx_entries_context ON entries (context_id);
CREATE INDEX IF NOT EXISTS idx_entries_expires_at ON entries (expires_at);
`

// uniqueViolation is the PostgreSQL error code for unique_violation.
const uniqueViolation = "23505"

// Collection is a PostgreSQL-backed collection.
type Collection struct {
	db *sql.DB
}

var _ backend.Collection = (*Collection)(nil)

// Open connects to PostgreSQL with the given DSN and establishes the schema
// and indexes the contract requires. Constraint setup failure is fatal.
func Open(dsn string) (*Collection, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Collection{db: db}, nil
}

// Close closes the database connection.
func (c *Collection) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// InsertOne inserts a new record. A violation of the scoped-key uniqueness
// constraint is reported as backend.ErrDuplicate.
func (c *Collection) InsertOne(ctx context.Context, rec backend.Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO entries
		(id, store_name, key, context_id, value, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		rec.ID,
		rec.StoreName,
		rec.Key,
		contextValue(rec.ContextID),
		valueArg(rec.Value),
		rec.CreatedAt,
		rec.UpdatedAt,
		expiryArg(rec.ExpiresAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert record: %w", backend.ErrDuplicate)
		}
		return fmt.Errorf("insert record: %w", err)
	}

	return nil
}

// FindOne returns the single record matching f, or nil if none does.
func (c *Collection) FindOne(ctx context.Context, f backend.Filter) (*backend.Record, error) {
	where, args := buildWhere(f)
	row := c.db.QueryRowContext(ctx, `
		SELECT id, store_name, key, context_id, value, created_at, updated_at, expires_at
		FROM entries
	`+where+` LIMIT 1`, args...)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find record: %w", err)
	}
	return &rec, nil
}

// FindAll returns every record matching f.
// Returns an empty slice, never nil, when nothing matches.
func (c *Collection) FindAll(ctx context.Context, f backend.Filter) ([]backend.Record, error) {
	where, args := buildWhere(f)
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, store_name, key, context_id, value, created_at, updated_at, expires_at
		FROM entries
	`+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	recs := []backend.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		recs = append(recs, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}

	return recs, nil
}

// Count returns the number of records matching f.
func (c *Collection) Count(ctx context.Context, f backend.Filter) (int64, error) {
	where, args := buildWhere(f)

	var count int64
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return count, nil
}

// DeleteOne deletes the single record matching f.
func (c *Collection) DeleteOne(ctx context.Context, f backend.Filter) (bool, error) {
	where, args := buildWhere(f)

	res, err := c.db.ExecContext(ctx, `
		DELETE FROM entries
		WHERE id = (SELECT id FROM entries`+where+` LIMIT 1)
	`, args...)
	if err != nil {
		return false, fmt.Errorf("delete record: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete record: rows affected: %w", err)
	}
	return n > 0, nil
}

// DeleteMany deletes every record matching f and returns the count.
func (c *Collection) DeleteMany(ctx context.Context, f backend.Filter) (int64, error) {
	where, args := buildWhere(f)

	res, err := c.db.ExecContext(ctx, `DELETE FROM entries`+where, args...)
	if err != nil {
		return 0, fmt.Errorf("delete records: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete records: rows affected: %w", err)
	}
	return n, nil
}

// Upsert atomically updates the record matching f or inserts rec when none
// matches, in a single INSERT ... ON CONFLICT statement. The xmax system
// column distinguishes the branches: it is zero only for freshly inserted
// rows.
func (c *Collection) Upsert(ctx context.Context, f backend.Filter, rec backend.Record) (backend.Record, bool, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	// An expired record is logically absent but may still hold the unique
	// slot; clear it so the insert branch wins.
	if err := c.purgeExpired(ctx, f); err != nil {
		return backend.Record{}, false, fmt.Errorf("upsert: purge expired: %w", err)
	}

	row := c.db.QueryRowContext(ctx, `
		INSERT INTO entries
		(id, store_name, key, context_id, value, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (store_name, key, context_id) DO UPDATE
		SET value = EXCLUDED.value,
		    updated_at = EXCLUDED.updated_at,
		    expires_at = EXCLUDED.expires_at
		RETURNING id, store_name, key, context_id, value, created_at, updated_at, expires_at,
		          (xmax = 0) AS inserted
	`,
		rec.ID,
		rec.StoreName,
		rec.Key,
		contextValue(rec.ContextID),
		valueArg(rec.Value),
		rec.CreatedAt,
		rec.UpdatedAt,
		expiryArg(rec.ExpiresAt),
	)

	out, inserted, err := scanUpserted(row)
	if err != nil {
		return backend.Record{}, false, fmt.Errorf("upsert: %w", err)
	}
	return out, inserted, nil
}

// SetExpiry updates the expiration of the single record matching f.
// Reports true only when a record matched and its expiration changed.
func (c *Collection) SetExpiry(ctx context.Context, f backend.Filter, expiresAt *time.Time) (bool, error) {
	where, args := buildWhere(f)
	expiry := expiryArg(expiresAt)

	n := len(args)
	query := fmt.Sprintf(`
		UPDATE entries SET expires_at = $%d
	`+where+` AND expires_at IS DISTINCT FROM $%d`, n+1, n+2)

	args = append(args, expiry, expiry)
	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("set expiry: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set expiry: rows affected: %w", err)
	}
	return affected > 0, nil
}

// DeleteExpired deletes every record whose expiration is at or before cutoff.
func (c *Collection) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := c.db.ExecContext(ctx, `
		DELETE FROM entries
		WHERE expires_at IS NOT NULL AND expires_at <= $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired: rows affected: %w", err)
	}
	return n, nil
}

// purgeExpired deletes a record that matches f's equality conditions but is
// expired as of f.AliveAt. No-op when f carries no aliveness bound.
func (c *Collection) purgeExpired(ctx context.Context, f backend.Filter) error {
	if f.AliveAt == nil {
		return nil
	}

	eq := f
	eq.AliveAt = nil
	where, args := buildWhere(eq)
	if where == "" {
		return nil
	}

	query := fmt.Sprintf(`
		DELETE FROM entries
	`+where+` AND expires_at IS NOT NULL AND expires_at <= $%d`, len(args)+1)
	args = append(args, *f.AliveAt)

	_, err := c.db.ExecContext(ctx, query, args...)
	return err
}

// buildWhere renders f as a WHERE clause with $n placeholder args.
func buildWhere(f backend.Filter) (string, []any) {
	var conds []string
	var args []any

	next := func() int { return len(args) + 1 }

	if f.StoreName != nil {
		conds = append(conds, fmt.Sprintf("store_name = $%d", next()))
		args = append(args, *f.StoreName)
	}
	if f.Key != nil {
		conds = append(conds, fmt.Sprintf("key = $%d", next()))
		args = append(args, *f.Key)
	}
	if f.KeyNot != nil {
		conds = append(conds, fmt.Sprintf("key <> $%d", next()))
		args = append(args, *f.KeyNot)
	}
	if f.MatchContext {
		conds = append(conds, fmt.Sprintf("context_id = $%d", next()))
		args = append(args, contextValue(f.ContextID))
	}
	if f.AliveAt != nil {
		conds = append(conds, fmt.Sprintf("(expires_at IS NULL OR expires_at > $%d)", next()))
		args = append(args, *f.AliveAt)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (backend.Record, error) {
	var rec backend.Record
	var contextID string
	var value sql.NullString
	var expiresAt sql.NullTime

	if err := s.Scan(
		&rec.ID, &rec.StoreName, &rec.Key, &contextID,
		&value, &rec.CreatedAt, &rec.UpdatedAt, &expiresAt,
	); err != nil {
		return backend.Record{}, err
	}

	if contextID != "" {
		rec.ContextID = &contextID
	}
	if value.Valid {
		rec.Value = []byte(value.String)
	}
	if expiresAt.Valid {
		t := expiresAt.Time.UTC()
		rec.ExpiresAt = &t
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()

	return rec, nil
}

func scanUpserted(s scanner) (backend.Record, bool, error) {
	var rec backend.Record
	var contextID string
	var value sql.NullString
	var expiresAt sql.NullTime
	var inserted bool

	if err := s.Scan(
		&rec.ID, &rec.StoreName, &rec.Key, &contextID,
		&value, &rec.CreatedAt, &rec.UpdatedAt, &expiresAt,
		&inserted,
	); err != nil {
		return backend.Record{}, false, err
	}

	if contextID != "" {
		rec.ContextID = &contextID
	}
	if value.Valid {
		rec.Value = []byte(value.String)
	}
	if expiresAt.Valid {
		t := expiresAt.Time.UTC()
		rec.ExpiresAt = &t
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()

	return rec, inserted, nil
}

func contextValue(id *string) string {
	if id == nil {
		return ""
	}
	return *id
}

func valueArg(value []byte) any {
	if value == nil {
		return nil
	}
	return string(value)
}

func expiryArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
