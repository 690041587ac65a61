// Package subscription stores custom-domain subscription windows. Every
// purchase inserts a new row rather than extending an existing one; the
// effective entitlement is the latest end_date among active rows.
package subscription

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Status enumerates subscription lifecycle states.
type Status string

const (
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// Subscription is one purchased subscription window.
type Subscription struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"userId"`
	Type      string    `json:"subscriptionType"`
	Status    Status    `json:"subscriptionStatus"`
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
}

// Store provides database access to subscription windows.
type Store struct {
	Pool *pgxpool.Pool
}

// Insert opens a new active subscription window inside the caller's
// transaction. Used by the fulfillment engine.
func (s *Store) Insert(ctx context.Context, tx pgx.Tx, userID int64, subType string, start, end time.Time) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO user_subscriptions (user_id, subscription_type, subscription_status, start_date, end_date)
		 VALUES ($1, $2, 'active', $3, $4)`,
		userID, subType, start, end)
	return err
}

// ListForUser returns the user's subscription windows, newest first.
func (s *Store) ListForUser(ctx context.Context, userID int64) ([]Subscription, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT id, user_id, subscription_type, subscription_status, start_date, end_date
		 FROM user_subscriptions WHERE user_id = $1 ORDER BY end_date DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		var sub Subscription
		var status string
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.Type, &status, &sub.StartDate, &sub.EndDate); err != nil {
			return nil, err
		}
		sub.Status = Status(status)
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// ExpireOverdue flips active windows whose end_date has passed to
// expired. The worker runs this periodically.
func (s *Store) ExpireOverdue(ctx context.Context) (int64, error) {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE user_subscriptions
		 SET subscription_status = 'expired', updated_at = now()
		 WHERE subscription_status = 'active' AND end_date < now()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
