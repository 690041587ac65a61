package order

import "time"

// Status enumerates the order lifecycle. Orders are created pending and
// transition exactly once to paid or failed on callback receipt;
// cancelled is only reachable from flows outside this subsystem.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Order is one purchase attempt. Price is the snapshot of the product's
// price at creation time and is never re-read from the catalog.
type Order struct {
	ID          int64
	UserID      int64
	ProductID   int64
	OrderNumber string
	Price       int64
	Status      Status

	ECPayTradeNo      *string
	ECPayPaymentDate  *time.Time
	ECPaySimulatePaid bool
	ECPayCheckMac     *string

	FailureReason *string
	PaidAt        *time.Time
	FulfilledAt   *time.Time
	CancelledAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
