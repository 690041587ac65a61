package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrDLQNotFound indicates no dead letter exists with the given id.
var ErrDLQNotFound = errors.New("queue: dead letter not found")

// DLQEntry is a task that exhausted its retry budget. Dead letters live
// in postgres rather than redis so they survive cache flushes and can
// be inspected with SQL.
type DLQEntry struct {
	ID             uuid.UUID
	Kind           string
	IdempotencyKey string
	Payload        []byte
	Attempts       int
	LastError      *string
	CreatedAt      time.Time
}

// DLQStore persists dead letters in postgres.
type DLQStore struct {
	Pool *pgxpool.Pool
}

// Insert stores a dead letter.
func (s *DLQStore) Insert(ctx context.Context, entry DLQEntry) error {
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO queue_dlq (kind, idem_key, payload, attempts, last_error)
		 VALUES ($1, $2, $3, $4, $5)`,
		entry.Kind, entry.IdempotencyKey, entry.Payload, entry.Attempts, entry.LastError)
	return err
}

// Get fetches a dead letter by id.
func (s *DLQStore) Get(ctx context.Context, id uuid.UUID) (DLQEntry, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT id, kind, idem_key, payload, attempts, last_error, created_at
		 FROM queue_dlq WHERE id = $1`, id)
	return scanDLQEntry(row)
}

// List returns dead letters, newest first, optionally filtered by kind.
func (s *DLQStore) List(ctx context.Context, kind string, limit, offset int) ([]DLQEntry, int64, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	var total int64
	var rows pgx.Rows
	var err error
	if kind != "" {
		if err = s.Pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM queue_dlq WHERE kind = $1`, kind).Scan(&total); err != nil {
			return nil, 0, err
		}
		rows, err = s.Pool.Query(ctx,
			`SELECT id, kind, idem_key, payload, attempts, last_error, created_at
			 FROM queue_dlq WHERE kind = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
			kind, limit, offset)
	} else {
		if err = s.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM queue_dlq`).Scan(&total); err != nil {
			return nil, 0, err
		}
		rows, err = s.Pool.Query(ctx,
			`SELECT id, kind, idem_key, payload, attempts, last_error, created_at
			 FROM queue_dlq ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	}
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []DLQEntry
	for rows.Next() {
		entry, err := scanDLQEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, entry)
	}
	return entries, total, rows.Err()
}

// Delete removes a dead letter.
func (s *DLQStore) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM queue_dlq WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDLQNotFound
	}
	return nil
}

func scanDLQEntry(row pgx.Row) (DLQEntry, error) {
	var entry DLQEntry
	err := row.Scan(&entry.ID, &entry.Kind, &entry.IdempotencyKey, &entry.Payload,
		&entry.Attempts, &entry.LastError, &entry.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DLQEntry{}, ErrDLQNotFound
		}
		return DLQEntry{}, err
	}
	return entry, nil
}
