package db

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/hpungsan/quill/internal/errors"
)

// Querier is satisfied by *sql.DB and by the connection Update hands to its
// callback.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Update runs fn inside a BEGIN IMMEDIATE transaction on one connection.
// The write lock is taken up front, so a load-modify-save in fn cannot
// interleave with writers on other handles or in other processes. Waiting
// for the lock is bounded by the store's busy_timeout.
func Update(ctx context.Context, store *sql.DB, fn func(q Querier) error) error {
	conn, err := store.Conn(ctx)
	if err != nil {
		return errors.NewInternal(err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return errors.NewInternal(fmt.Errorf("begin transaction: %w", err))
	}
	if err := fn(conn); err != nil {
		_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		return err
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		return errors.NewInternal(fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

// Get returns the raw value stored under key. ok is false when the key is absent.
func Get(ctx context.Context, q Querier, key string) (value string, ok bool, err error) {
	err = q.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if stderrors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.NewInternal(err)
	}
	return value, true, nil
}

// Put stores value under key, replacing any previous value.
func Put(ctx context.Context, q Querier, key, value string) error {
	query := `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if _, err := q.ExecContext(ctx, query, key, value, time.Now().Unix()); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func Delete(ctx context.Context, q Querier, key string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// LoadJSON decodes the value under key into dst. Returns false, leaving dst
// untouched, when the key is absent.
func LoadJSON(ctx context.Context, q Querier, key string, dst any) (bool, error) {
	raw, ok, err := Get(ctx, q, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return false, errors.NewInternal(err)
	}
	return true, nil
}

// SaveJSON encodes v and stores it under key.
func SaveJSON(ctx context.Context, q Querier, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.NewInternal(err)
	}
	return Put(ctx, q, key, string(data))
}
