package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Snippy-project/Snippy-backend/internal/order"
	"github.com/Snippy-project/Snippy-backend/internal/product"
	"github.com/Snippy-project/Snippy-backend/internal/queue"
)

type fulfillTask struct {
	OrderNumber string `json:"orderNumber"`
}

// Scheduler enqueues deferred fulfillment. The order number doubles as
// the idempotency key, so repeated callback failures for one order
// collapse into a single queued retry.
type Scheduler struct {
	Enq         queue.Enqueuer
	MaxAttempts int
	Delay       time.Duration
}

// ScheduleFulfillment queues a fulfillment retry for the order.
func (s Scheduler) ScheduleFulfillment(ctx context.Context, orderNumber string) error {
	payload, err := json.Marshal(fulfillTask{OrderNumber: orderNumber})
	if err != nil {
		return err
	}
	return s.Enq.Enqueue(ctx, queue.Task{
		Kind:           queue.KindFulfillOrder,
		Payload:        payload,
		IdempotencyKey: orderNumber,
		MaxAttempts:    s.MaxAttempts,
		Delay:          s.Delay,
	})
}

// OrderSource loads orders for the worker-side handler.
type OrderSource interface {
	GetByNumber(ctx context.Context, orderNumber string) (order.Order, error)
}

// ProductSource loads products for the worker-side handler.
type ProductSource interface {
	Get(ctx context.Context, id int64) (product.Product, error)
}

// TaskHandler processes queued fulfillment retries.
type TaskHandler struct {
	Orders   OrderSource
	Products ProductSource
	Engine   *Engine
	Logger   zerolog.Logger
}

// Handle loads the order and re-runs fulfillment. Orders that vanished
// or are not in a fulfillable state are dropped rather than retried; a
// task can only make progress while its order stays paid and unclaimed.
func (h *TaskHandler) Handle(ctx context.Context, task queue.Task) error {
	var payload fulfillTask
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return fmt.Errorf("decode fulfillment task: %w", err)
	}
	o, err := h.Orders.GetByNumber(ctx, payload.OrderNumber)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			h.Logger.Warn().
				Str("order_number", payload.OrderNumber).
				Msg("queued fulfillment for unknown order, dropping")
			return nil
		}
		return err
	}
	if o.Status != order.StatusPaid {
		h.Logger.Warn().
			Str("order_number", o.OrderNumber).
			Str("status", string(o.Status)).
			Msg("queued fulfillment for unpaid order, dropping")
		return nil
	}
	if o.FulfilledAt != nil {
		return nil
	}
	p, err := h.Products.Get(ctx, o.ProductID)
	if err != nil {
		return err
	}
	return h.Engine.Fulfill(ctx, o, p)
}
