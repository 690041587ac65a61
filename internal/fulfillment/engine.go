// Package fulfillment applies the business effect of a paid order:
// crediting link quota or opening a subscription window. Effects are
// applied exactly once per order; the claim on orders.fulfilled_at and
// the effect itself commit in one transaction.
package fulfillment

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Snippy-project/Snippy-backend/internal/obs"
	"github.com/Snippy-project/Snippy-backend/internal/order"
	"github.com/Snippy-project/Snippy-backend/internal/product"
)

// Default subscription windows used when the product row carries no
// explicit duration.
const (
	defaultMonthlyDays = 30
	defaultYearlyDays  = 365
)

// Store is the transactional claim-and-effect surface. Both methods
// report applied=false when another worker already claimed the order,
// which callers treat as success.
type Store interface {
	ClaimAndCredit(ctx context.Context, orderID, userID int64, amount int) (bool, error)
	ClaimAndSubscribe(ctx context.Context, orderID, userID int64, subType string, start, end time.Time) (bool, error)
}

// Engine dispatches fulfillment by product type.
type Engine struct {
	Store  Store
	Logger zerolog.Logger
	// Now is overridable in tests; defaults to time.Now.
	Now func() time.Time
}

// Fulfill applies the effect of a paid order. Idempotent: a second call
// for the same order is a no-op. Unknown product types log a warning
// and succeed so the gateway is not asked to retry something no code
// path can handle.
func (e *Engine) Fulfill(ctx context.Context, o order.Order, p product.Product) error {
	var (
		applied bool
		err     error
	)
	switch {
	case p.ProductType == product.TypeQuota:
		applied, err = e.Store.ClaimAndCredit(ctx, o.ID, o.UserID, p.QuotaAmount)
	case p.ProductType.Subscription():
		start := e.now()
		end := start.AddDate(0, 0, e.durationDays(p))
		applied, err = e.Store.ClaimAndSubscribe(ctx, o.ID, o.UserID, string(p.ProductType), start, end)
	default:
		e.Logger.Warn().
			Str("order_number", o.OrderNumber).
			Str("product_type", string(p.ProductType)).
			Msg("no fulfillment handler for product type")
		e.count(p, "skipped")
		return nil
	}
	if err != nil {
		e.count(p, "error")
		return fmt.Errorf("fulfill order %s: %w", o.OrderNumber, err)
	}
	if !applied {
		e.Logger.Info().
			Str("order_number", o.OrderNumber).
			Msg("order already fulfilled")
		e.count(p, "duplicate")
		return nil
	}
	e.Logger.Info().
		Str("order_number", o.OrderNumber).
		Int64("user_id", o.UserID).
		Str("product_type", string(p.ProductType)).
		Msg("order fulfilled")
	e.count(p, "applied")
	return nil
}

func (e *Engine) durationDays(p product.Product) int {
	if p.SubscriptionDurationDays != nil && *p.SubscriptionDurationDays > 0 {
		return *p.SubscriptionDurationDays
	}
	if p.ProductType == product.TypeCustomDomainYearly {
		return defaultYearlyDays
	}
	return defaultMonthlyDays
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) count(p product.Product, result string) {
	if obs.FulfillmentsTotal != nil {
		obs.FulfillmentsTotal.WithLabelValues(string(p.ProductType), result).Inc()
	}
}
