// Package sqlite implements the backing collection contract on SQLite.
// It is the default engine for single-process deployments.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/scopekv/scopekv/internal/backend"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - Initial schema
const currentSchemaVersion = 1

// Collection is a SQLite-backed collection. It uses WAL mode for concurrent
// read access and a single-writer connection pool.
type Collection struct {
	db *sql.DB
}

var _ backend.Collection = (*Collection)(nil)

// Open creates or opens a SQLite database at the given path and establishes
// the schema and indexes the contract requires. Index setup failure is fatal:
// the uniqueness guarantee cannot be assumed without it.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*Collection, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1) // Single writer to avoid SQLITE_BUSY errors
	db.SetMaxIdleConns(1) // Keep one connection ready

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
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

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Collection methods when available.
func (c *Collection) DB() *sql.DB {
	return c.db
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates the table and indexes if they don't exist and records
// the schema version. This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < currentSchemaVersion {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
			return fmt.Errorf("set user_version: %w", err)
		}
	}

	return nil
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID,
		rec.StoreName,
		rec.Key,
		contextValue(rec.ContextID),
		valueArg(rec.Value),
		rec.CreatedAt.UnixMilli(),
		rec.UpdatedAt.UnixMilli(),
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
// Zero matches is not an error; it reports false.
func (c *Collection) DeleteOne(ctx context.Context, f backend.Filter) (bool, error) {
	where, args := buildWhere(f)

	// Subquery pins the delete to one row; DELETE ... LIMIT is a compile-time
	// option in SQLite and cannot be relied on.
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
// matches. The unique index claims the slot on the insert branch, so
// concurrent upserts against the same scoped key cannot produce two records.
func (c *Collection) Upsert(ctx context.Context, f backend.Filter, rec backend.Record) (backend.Record, bool, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	// Transaction ensures atomicity of insert-or-update
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return backend.Record{}, false, fmt.Errorf("upsert: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	// An expired record is logically absent but may still hold the unique
	// slot; clear it so the insert branch wins.
	if err := purgeExpired(ctx, tx, f); err != nil {
		return backend.Record{}, false, fmt.Errorf("upsert: purge expired: %w", err)
	}

	// Try to insert; the unique index makes this a no-op when the scoped key
	// already exists.
	res, err := tx.ExecContext(ctx, `
		INSERT INTO entries
		(id, store_name, key, context_id, value, created_at, updated_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(store_name, key, context_id) DO NOTHING
	`,
		rec.ID,
		rec.StoreName,
		rec.Key,
		contextValue(rec.ContextID),
		valueArg(rec.Value),
		rec.CreatedAt.UnixMilli(),
		rec.UpdatedAt.UnixMilli(),
		expiryArg(rec.ExpiresAt),
	)
	if err != nil {
		return backend.Record{}, false, fmt.Errorf("upsert: insert: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return backend.Record{}, false, fmt.Errorf("upsert: rows affected: %w", err)
	}

	if n > 0 {
		// Insert branch taken - rec was stored as given
		if err := tx.Commit(); err != nil {
			return backend.Record{}, false, fmt.Errorf("upsert: commit: %w", err)
		}
		return rec, true, nil
	}

	// Update branch: only the mutable field group changes; id, created_at and
	// the identifying fields are preserved.
	where, args := buildWhere(f)
	updateArgs := append([]any{
		valueArg(rec.Value),
		rec.UpdatedAt.UnixMilli(),
		expiryArg(rec.ExpiresAt),
	}, args...)

	if _, err := tx.ExecContext(ctx, `
		UPDATE entries SET value = ?, updated_at = ?, expires_at = ?
	`+where, updateArgs...); err != nil {
		return backend.Record{}, false, fmt.Errorf("upsert: update: %w", err)
	}

	row := tx.QueryRowContext(ctx, `
		SELECT id, store_name, key, context_id, value, created_at, updated_at, expires_at
		FROM entries
	`+where+` LIMIT 1`, args...)

	updated, err := scanRecord(row)
	if err != nil {
		return backend.Record{}, false, fmt.Errorf("upsert: select updated: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return backend.Record{}, false, fmt.Errorf("upsert: commit: %w", err)
	}

	return updated, false, nil
}

// SetExpiry updates the expiration of the single record matching f.
// Reports true only when a record matched and its expiration actually
// changed; re-applying the same expiration reports false.
func (c *Collection) SetExpiry(ctx context.Context, f backend.Filter, expiresAt *time.Time) (bool, error) {
	where, args := buildWhere(f)
	expiry := expiryArg(expiresAt)

	// IS NOT treats NULL as an ordinary comparable value here, so clearing an
	// already-clear expiration counts as unchanged.
	updateArgs := append([]any{expiry}, args...)
	updateArgs = append(updateArgs, expiry)

	res, err := c.db.ExecContext(ctx, `
		UPDATE entries SET expires_at = ?
	`+where+` AND expires_at IS NOT ?`, updateArgs...)
	if err != nil {
		return false, fmt.Errorf("set expiry: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set expiry: rows affected: %w", err)
	}
	return n > 0, nil
}

// DeleteExpired deletes every record whose expiration is at or before cutoff.
func (c *Collection) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := c.db.ExecContext(ctx, `
		DELETE FROM entries
		WHERE expires_at IS NOT NULL AND expires_at <= ?
	`, cutoff.UnixMilli())
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
func purgeExpired(ctx context.Context, tx *sql.Tx, f backend.Filter) error {
	if f.AliveAt == nil {
		return nil
	}

	eq := f
	eq.AliveAt = nil
	where, args := buildWhere(eq)
	if where == "" {
		return nil
	}

	args = append(args, f.AliveAt.UnixMilli())
	_, err := tx.ExecContext(ctx, `
		DELETE FROM entries
	`+where+` AND expires_at IS NOT NULL AND expires_at <= ?`, args...)
	return err
}

// buildWhere renders f as a WHERE clause with placeholder args.
func buildWhere(f backend.Filter) (string, []any) {
	var conds []string
	var args []any

	if f.StoreName != nil {
		conds = append(conds, "store_name = ?")
		args = append(args, *f.StoreName)
	}
	if f.Key != nil {
		conds = append(conds, "key = ?")
		args = append(args, *f.Key)
	}
	if f.KeyNot != nil {
		conds = append(conds, "key <> ?")
		args = append(args, *f.KeyNot)
	}
	if f.MatchContext {
		conds = append(conds, "context_id = ?")
		args = append(args, contextValue(f.ContextID))
	}
	if f.AliveAt != nil {
		conds = append(conds, "(expires_at IS NULL OR expires_at > ?)")
		args = append(args, f.AliveAt.UnixMilli())
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// scanner abstracts sql.Row and sql.Rows for scanRecord.
type scanner interface {
	Scan(dest ...any) error
}

// scanRecord scans a row into a Record.
func scanRecord(s scanner) (backend.Record, error) {
	var rec backend.Record
	var contextID string
	var value sql.NullString
	var createdAt, updatedAt int64
	var expiresAt sql.NullInt64

	if err := s.Scan(
		&rec.ID, &rec.StoreName, &rec.Key, &contextID,
		&value, &createdAt, &updatedAt, &expiresAt,
	); err != nil {
		return backend.Record{}, err
	}

	if contextID != "" {
		rec.ContextID = &contextID
	}
	if value.Valid {
		rec.Value = []byte(value.String)
	}
	rec.CreatedAt = time.UnixMilli(createdAt).UTC()
	rec.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	if expiresAt.Valid {
		t := time.UnixMilli(expiresAt.Int64).UTC()
		rec.ExpiresAt = &t
	}

	return rec, nil
}

// contextValue maps the contract's nil global context to the '' the schema
// stores so the unique index covers unscoped records.
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
	return t.UnixMilli()
}

func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if !errors.As(err, &serr) {
		return false
	}
	return serr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
