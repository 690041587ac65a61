// Package quota maintains the per-user link quota counters. The
// invariant total_quota = used_quota + remaining_quota holds because
// every mutation is a relative SQL increment applied to both sides;
// counters are never read, modified and written back.
package quota

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrInsufficient indicates a debit would exceed the remaining quota.
var ErrInsufficient = errors.New("quota: insufficient remaining quota")

// ErrNotFound indicates the user has no quota row yet.
var ErrNotFound = errors.New("quota: not found")

// Quota is the per-user counter row.
type Quota struct {
	UserID         int64     `json:"userId"`
	TotalQuota     int       `json:"totalQuota"`
	UsedQuota      int       `json:"usedQuota"`
	RemainingQuota int       `json:"remainingQuota"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Store provides database access to quota counters.
type Store struct {
	Pool *pgxpool.Pool
}

// Get returns the quota row for a user.
func (s *Store) Get(ctx context.Context, userID int64) (Quota, error) {
	var q Quota
	err := s.Pool.QueryRow(ctx,
		`SELECT user_id, total_quota, used_quota, remaining_quota, updated_at
		 FROM user_quotas WHERE user_id = $1`, userID).
		Scan(&q.UserID, &q.TotalQuota, &q.UsedQuota, &q.RemainingQuota, &q.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Quota{}, ErrNotFound
		}
		return Quota{}, err
	}
	return q, nil
}

// Credit adds amount to both total and remaining quota. The row is
// created on first credit for users who never had one. Executed by the
// fulfillment engine within its settlement transaction.
func (s *Store) Credit(ctx context.Context, tx pgx.Tx, userID int64, amount int) error {
	if amount <= 0 {
		return errors.New("quota: credit amount must be positive")
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO user_quotas (user_id, total_quota, used_quota, remaining_quota)
		 VALUES ($1, $2, 0, $2)
		 ON CONFLICT (user_id) DO UPDATE
		 SET total_quota = user_quotas.total_quota + EXCLUDED.total_quota,
		     remaining_quota = user_quotas.remaining_quota + EXCLUDED.remaining_quota,
		     updated_at = now()`,
		userID, amount)
	return err
}

// Debit consumes quota for the URL-creation flow. The conditional
// guards against going negative under concurrent consumption.
func (s *Store) Debit(ctx context.Context, userID int64, amount int) error {
	if amount <= 0 {
		return errors.New("quota: debit amount must be positive")
	}
	tag, err := s.Pool.Exec(ctx,
		`UPDATE user_quotas
		 SET used_quota = used_quota + $2,
		     remaining_quota = remaining_quota - $2,
		     updated_at = now()
		 WHERE user_id = $1 AND remaining_quota >= $2`,
		userID, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficient
	}
	return nil
}
