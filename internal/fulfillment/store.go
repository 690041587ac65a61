package fulfillment

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Snippy-project/Snippy-backend/internal/quota"
	"github.com/Snippy-project/Snippy-backend/internal/subscription"
)

// PGStore implements Store on postgres. Each operation claims the order
// and applies the effect inside a single transaction so a crash between
// the two cannot strand a paid-but-uncredited order or credit it twice.
type PGStore struct {
	Pool   *pgxpool.Pool
	Quotas *quota.Store
	Subs   *subscription.Store
}

// ClaimAndCredit marks the order fulfilled and credits link quota.
func (s *PGStore) ClaimAndCredit(ctx context.Context, orderID, userID int64, amount int) (bool, error) {
	return s.claim(ctx, orderID, func(tx pgx.Tx) error {
		return s.Quotas.Credit(ctx, tx, userID, amount)
	})
}

// ClaimAndSubscribe marks the order fulfilled and opens a subscription window.
func (s *PGStore) ClaimAndSubscribe(ctx context.Context, orderID, userID int64, subType string, start, end time.Time) (bool, error) {
	return s.claim(ctx, orderID, func(tx pgx.Tx) error {
		return s.Subs.Insert(ctx, tx, userID, subType, start, end)
	})
}

// claim takes the fulfilled_at slot for a paid order and runs the
// effect in the same transaction. A zero-row claim means another worker
// got there first.
func (s *PGStore) claim(ctx context.Context, orderID int64, effect func(tx pgx.Tx) error) (bool, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE orders SET fulfilled_at = now(), updated_at = now()
		 WHERE id = $1 AND order_status = 'paid' AND fulfilled_at IS NULL`, orderID)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	if err := effect(tx); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}
