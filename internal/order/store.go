package order

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates no order exists for the given reference.
var ErrNotFound = errors.New("order: not found")

const orderColumns = `id, user_id, product_id, order_number, price, order_status,
ecpay_trade_no, ecpay_payment_date, ecpay_simulate_paid, ecpay_check_mac_value,
failure_reason, paid_at, fulfilled_at, cancelled_at, created_at, updated_at`

// Store provides database access to orders.
type Store struct {
	Pool *pgxpool.Pool
}

// InsertParams carries the fields of a new pending order.
type InsertParams struct {
	UserID      int64
	ProductID   int64
	OrderNumber string
	Price       int64
}

// Insert creates a pending order.
func (s *Store) Insert(ctx context.Context, arg InsertParams) (Order, error) {
	row := s.Pool.QueryRow(ctx,
		`INSERT INTO orders (user_id, product_id, order_number, price, order_status)
		 VALUES ($1, $2, $3, $4, 'pending')
		 RETURNING `+orderColumns,
		arg.UserID, arg.ProductID, arg.OrderNumber, arg.Price)
	return scanOrder(row)
}

// GetByNumber fetches an order by its merchant trade number.
func (s *Store) GetByNumber(ctx context.Context, orderNumber string) (Order, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE order_number = $1`, orderNumber)
	return scanOrder(row)
}

// GetByIDForUser fetches an order owned by the given user.
func (s *Store) GetByIDForUser(ctx context.Context, id, userID int64) (Order, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 AND user_id = $2`, id, userID)
	return scanOrder(row)
}

// ListForUser returns the user's orders, newest first, with the total count.
func (s *Store) ListForUser(ctx context.Context, userID int64, limit, offset int) ([]Order, int64, error) {
	var total int64
	if err := s.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM orders WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.Pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		orders = append(orders, o)
	}
	return orders, total, rows.Err()
}

// SettleParams carries the verified callback fields written on settlement.
type SettleParams struct {
	Paid          bool
	TradeNo       string
	PaymentDate   *time.Time
	SimulatePaid  bool
	CheckMacValue string
	FailureReason string
}

// Settle applies the pending -> paid/failed transition as a single
// conditional update. Two concurrent deliveries of the same callback
// cannot both observe pending: exactly one update matches the WHERE
// clause, the loser gets applied=false and must not trigger
// fulfillment. Returns ErrNotFound when no order carries the number.
func (s *Store) Settle(ctx context.Context, orderNumber string, arg SettleParams) (Order, bool, error) {
	var (
		row pgx.Row
	)
	if arg.Paid {
		row = s.Pool.QueryRow(ctx,
			`UPDATE orders
			 SET order_status = 'paid',
			     ecpay_trade_no = $2,
			     ecpay_payment_date = $3,
			     ecpay_simulate_paid = $4,
			     ecpay_check_mac_value = $5,
			     paid_at = now(),
			     updated_at = now()
			 WHERE order_number = $1 AND order_status = 'pending'
			 RETURNING `+orderColumns,
			orderNumber, arg.TradeNo, arg.PaymentDate, arg.SimulatePaid, arg.CheckMacValue)
	} else {
		row = s.Pool.QueryRow(ctx,
			`UPDATE orders
			 SET order_status = 'failed',
			     ecpay_simulate_paid = $2,
			     ecpay_check_mac_value = $3,
			     failure_reason = $4,
			     updated_at = now()
			 WHERE order_number = $1 AND order_status = 'pending'
			 RETURNING `+orderColumns,
			orderNumber, arg.SimulatePaid, arg.CheckMacValue, arg.FailureReason)
	}
	o, err := scanOrder(row)
	if err == nil {
		return o, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Order{}, false, err
	}
	// No pending row matched: either a replay of a settled order or an
	// unknown number. Disambiguate for the caller.
	existing, lookupErr := s.GetByNumber(ctx, orderNumber)
	if lookupErr != nil {
		return Order{}, false, lookupErr
	}
	return existing, false, nil
}

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	var status string
	err := row.Scan(&o.ID, &o.UserID, &o.ProductID, &o.OrderNumber, &o.Price, &status,
		&o.ECPayTradeNo, &o.ECPayPaymentDate, &o.ECPaySimulatePaid, &o.ECPayCheckMac,
		&o.FailureReason, &o.PaidAt, &o.FulfilledAt, &o.CancelledAt, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, err
	}
	o.Status = Status(status)
	return o, nil
}
