package idempotency

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS idempotency_keys (
	id               TEXT PRIMARY KEY,
	idem_key         TEXT NOT NULL,
	fingerprint      TEXT NOT NULL,
	status           TEXT NOT NULL,
	response_status  INTEGER NOT NULL DEFAULT 0,
	response_headers TEXT NOT NULL DEFAULT '',
	response_body    BLOB,
	created_at       TEXT NOT NULL,
	updated_at       TEXT NOT NULL,
	expires_at       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_idempotency_keys_expires ON idempotency_keys(expires_at);
`

var errReservationLost = errors.New("idempotency: reservation no longer held")

const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLStore keeps keys in a SQL database through sqlx. It is used with the SQLite backend.
type SQLStore struct {
	db *sqlx.DB
}

// NewSQLStore creates the idempotency table when missing.
func NewSQLStore(ctx context.Context, db *sqlx.DB) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("idempotency: database is required")
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, fmt.Errorf("idempotency: create schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

type sqlRecord struct {
	ID              string `db:"id"`
	Key             string `db:"idem_key"`
	Fingerprint     string `db:"fingerprint"`
	Status          string `db:"status"`
	ResponseStatus  int    `db:"response_status"`
	ResponseHeaders string `db:"response_headers"`
	ResponseBody    []byte `db:"response_body"`
	CreatedAt       string `db:"created_at"`
	UpdatedAt       string `db:"updated_at"`
	ExpiresAt       string `db:"expires_at"`
}

func (r sqlRecord) toRecord() (Record, error) {
	record := Record{
		Key:            r.Key,
		Fingerprint:    r.Fingerprint,
		Status:         Status(r.Status),
		ResponseStatus: r.ResponseStatus,
		ResponseBody:   r.ResponseBody,
	}
	if r.ResponseHeaders != "" {
		if err := json.Unmarshal([]byte(r.ResponseHeaders), &record.ResponseHeaders); err != nil {
			return Record{}, fmt.Errorf("idempotency: decode headers: %w", err)
		}
	}
	var err error
	if record.CreatedAt, err = time.Parse(sqliteTimeLayout, r.CreatedAt); err != nil {
		return Record{}, err
	}
	if record.UpdatedAt, err = time.Parse(sqliteTimeLayout, r.UpdatedAt); err != nil {
		return Record{}, err
	}
	if record.ExpiresAt, err = time.Parse(sqliteTimeLayout, r.ExpiresAt); err != nil {
		return Record{}, err
	}
	return record, nil
}

func formatSQLTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

// Reserve implements Store. Expired rows are replaced in the same transaction.
func (s *SQLStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	id := recordID(key)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Reservation{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var row sqlRecord
	err = tx.GetContext(ctx, &row, `SELECT * FROM idempotency_keys WHERE id = ?`, id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return Reservation{}, err
	default:
		existing, err := row.toRecord()
		if err != nil {
			return Reservation{}, err
		}
		if now.Before(existing.ExpiresAt) {
			return reservationFor(existing, fingerprint)
		}
	}

	record := newPendingRecord(key, fingerprint, now, ttl)
	_, err = tx.ExecContext(ctx, `
INSERT INTO idempotency_keys (id, idem_key, fingerprint, status, response_status, response_headers, response_body, created_at, updated_at, expires_at)
VALUES (?, ?, ?, ?, 0, '', NULL, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	idem_key = excluded.idem_key,
	fingerprint = excluded.fingerprint,
	status = excluded.status,
	response_status = 0,
	response_headers = '',
	response_body = NULL,
	created_at = excluded.created_at,
	updated_at = excluded.updated_at,
	expires_at = excluded.expires_at`,
		id, key, fingerprint, string(StatusPending),
		formatSQLTime(now), formatSQLTime(now), formatSQLTime(record.ExpiresAt))
	if err != nil {
		return Reservation{}, err
	}
	if err := tx.Commit(); err != nil {
		return Reservation{}, err
	}
	return Reservation{State: ReservationStateNew, Record: record}, nil
}

// SaveResponse implements Store.
func (s *SQLStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	headers := ""
	if sanitized := sanitizeHeaders(resp.Headers); sanitized != nil {
		encoded, err := json.Marshal(sanitized)
		if err != nil {
			return fmt.Errorf("idempotency: encode headers: %w", err)
		}
		headers = string(encoded)
	}

	res, err := s.db.ExecContext(ctx, `
UPDATE idempotency_keys
SET status = ?, response_status = ?, response_headers = ?, response_body = ?, updated_at = ?, expires_at = ?
WHERE id = ? AND fingerprint = ?`,
		string(StatusCompleted), resp.Status, headers, resp.Body,
		formatSQLTime(now), formatSQLTime(now.Add(ttl)), recordID(key), fingerprint)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errReservationLost
	}
	return nil
}

// Release implements Store.
func (s *SQLStore) Release(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE id = ?`, recordID(key))
	return err
}
