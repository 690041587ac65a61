package order

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Snippy-project/Snippy-backend/internal/common"
	"github.com/Snippy-project/Snippy-backend/internal/ecpay"
	"github.com/Snippy-project/Snippy-backend/internal/obs"
	"github.com/Snippy-project/Snippy-backend/internal/product"
)

// The gateway reports payment dates as "yyyy/MM/dd HH:mm:ss".
const gatewayTimeLayout = "2006/01/02 15:04:05"

// Ack is the gateway acknowledgment token. The wire contract is a
// literal body string: "1|OK" stops retries, "0|<reason>" requests one.
type Ack struct {
	OK     bool
	Reason string
}

// String renders the wire form of the acknowledgment.
func (a Ack) String() string {
	if a.OK {
		return "1|OK"
	}
	reason := a.Reason
	if reason == "" {
		reason = "error"
	}
	return "0|" + reason
}

// OrdersRepo is the persistence surface the service needs.
type OrdersRepo interface {
	Insert(ctx context.Context, arg InsertParams) (Order, error)
	GetByNumber(ctx context.Context, orderNumber string) (Order, error)
	GetByIDForUser(ctx context.Context, id, userID int64) (Order, error)
	ListForUser(ctx context.Context, userID int64, limit, offset int) ([]Order, int64, error)
	Settle(ctx context.Context, orderNumber string, arg SettleParams) (Order, bool, error)
}

// Catalog is the read-only product collaborator.
type Catalog interface {
	GetActive(ctx context.Context, id int64) (product.Product, error)
	Get(ctx context.Context, id int64) (product.Product, error)
}

// Fulfiller applies the post-payment business effect exactly once per
// fresh paid transition.
type Fulfiller interface {
	Fulfill(ctx context.Context, o Order, p product.Product) error
}

// RetryScheduler defers failed fulfillment work to the retry queue.
type RetryScheduler interface {
	ScheduleFulfillment(ctx context.Context, orderNumber string) error
}

// Service orchestrates order creation and callback settlement.
type Service struct {
	Orders   OrdersRepo
	Products Catalog
	Gateway  *ecpay.Client
	Fulfill  Fulfiller
	Retry    RetryScheduler
	Logger   zerolog.Logger

	// Redirect targets handed to the gateway.
	CallbackURL     string
	FrontendBaseURL string
}

// CreatedOrder is the view returned to the user-facing caller.
type CreatedOrder struct {
	Order    Order
	Product  product.Product
	Checkout ecpay.CheckoutRequest
}

// CreateOrder validates the product, snapshots its price, inserts a
// pending order and builds the signed payment request.
func (s *Service) CreateOrder(ctx context.Context, userID, productID int64) (*CreatedOrder, error) {
	ctx, span := otel.Tracer("order.Service").Start(ctx, "OrderService.CreateOrder")
	defer span.End()
	span.SetAttributes(attribute.Int64("order.user_id", userID), attribute.Int64("order.product_id", productID))

	p, err := s.Products.GetActive(ctx, productID)
	if err != nil {
		if errors.Is(err, product.ErrNotFound) {
			return nil, common.NotFound("PRODUCT_NOT_FOUND", "product not found or inactive")
		}
		return nil, err
	}
	if p.Price <= 0 {
		return nil, common.BadRequest("PRODUCT_NOT_PURCHASABLE", "product has no purchasable price")
	}

	orderNumber, err := NewOrderNumber()
	if err != nil {
		return nil, err
	}
	o, err := s.Orders.Insert(ctx, InsertParams{
		UserID:      userID,
		ProductID:   productID,
		OrderNumber: orderNumber,
		Price:       p.Price,
	})
	if err != nil {
		return nil, err
	}

	checkout, err := s.buildCheckout(o, p)
	if err != nil {
		return nil, err
	}
	if obs.OrdersCreatedTotal != nil {
		obs.OrdersCreatedTotal.WithLabelValues(string(p.ProductType)).Inc()
	}
	s.Logger.Info().
		Str("order_number", o.OrderNumber).
		Int64("user_id", userID).
		Int64("amount", o.Price).
		Msg("order created")
	return &CreatedOrder{Order: o, Product: p, Checkout: checkout}, nil
}

// PaymentForm rebuilds the signed checkout form for a pending order
// owned by the caller, for the browser redirect leg.
func (s *Service) PaymentForm(ctx context.Context, userID, orderID int64) (string, error) {
	o, err := s.Orders.GetByIDForUser(ctx, orderID, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", common.NotFound("ORDER_NOT_FOUND", "order not found")
		}
		return "", err
	}
	if o.Status != StatusPending {
		return "", common.BadRequest("ORDER_NOT_PENDING", "order is no longer payable")
	}
	p, err := s.Products.Get(ctx, o.ProductID)
	if err != nil {
		return "", err
	}
	checkout, err := s.buildCheckout(o, p)
	if err != nil {
		return "", err
	}
	return ecpay.CheckoutFormHTML(checkout)
}

// HandleCallback processes an asynchronous gateway notification and
// always yields a wire acknowledgment. Verification or lookup failures
// produce a failure token; business failures and idempotent replays are
// acknowledged as success because the notification itself was valid.
func (s *Service) HandleCallback(ctx context.Context, payload url.Values) Ack {
	ctx, span := otel.Tracer("order.Service").Start(ctx, "OrderService.HandleCallback")
	defer span.End()

	outcome := "error"
	defer func() {
		span.SetAttributes(attribute.String("callback.outcome", outcome))
		if obs.CallbacksTotal != nil {
			obs.CallbacksTotal.WithLabelValues(outcome).Inc()
		}
	}()

	result, err := s.Gateway.ParseCallback(payload)
	if err != nil {
		outcome = "invalid_mac"
		s.Logger.Warn().
			Str("merchant_trade_no", payload.Get("MerchantTradeNo")).
			Msg("callback rejected: checkmacvalue mismatch")
		return Ack{OK: false, Reason: "CheckMacValue verification failed"}
	}
	span.SetAttributes(attribute.String("order.number", result.MerchantTradeNo))

	settled, applied, err := s.Orders.Settle(ctx, result.MerchantTradeNo, settleParams(result))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			outcome = "not_found"
			s.Logger.Warn().
				Str("merchant_trade_no", result.MerchantTradeNo).
				Msg("callback for unknown order")
			return Ack{OK: false, Reason: "order not found"}
		}
		outcome = "store_error"
		s.Logger.Error().Err(err).
			Str("merchant_trade_no", result.MerchantTradeNo).
			Msg("callback settlement failed")
		return Ack{OK: false, Reason: "settlement error"}
	}

	if !applied {
		// Duplicate or replayed delivery of an already-settled order.
		outcome = "replay"
		s.Logger.Info().
			Str("order_number", settled.OrderNumber).
			Str("status", string(settled.Status)).
			Msg("callback replay ignored")
		return Ack{OK: true}
	}

	if !result.Paid() {
		outcome = "payment_failed"
		s.Logger.Info().
			Str("order_number", settled.OrderNumber).
			Str("rtn_code", result.RtnCode).
			Str("rtn_msg", result.RtnMsg).
			Msg("payment failed")
		return Ack{OK: true}
	}

	outcome = "paid"
	s.fulfillPaid(ctx, settled)
	return Ack{OK: true}
}

// fulfillPaid runs fulfillment for a freshly paid order. Errors never
// propagate to the acknowledgment: the order stays paid and the work is
// handed to the retry queue for reconciliation.
func (s *Service) fulfillPaid(ctx context.Context, o Order) {
	p, err := s.Products.Get(ctx, o.ProductID)
	if err == nil {
		err = s.Fulfill.Fulfill(ctx, o, p)
	}
	if err == nil {
		return
	}
	s.Logger.Error().Err(err).
		Str("order_number", o.OrderNumber).
		Msg("fulfillment failed, scheduling retry")
	if s.Retry == nil {
		return
	}
	if qErr := s.Retry.ScheduleFulfillment(ctx, o.OrderNumber); qErr != nil {
		s.Logger.Error().Err(qErr).
			Str("order_number", o.OrderNumber).
			Msg("fulfillment retry could not be scheduled")
	}
}

func (s *Service) buildCheckout(o Order, p product.Product) (ecpay.CheckoutRequest, error) {
	return s.Gateway.BuildCheckout(o.OrderNumber, p.Name, o.Price, ecpay.CheckoutURLs{
		ReturnURL:      s.CallbackURL,
		ClientBackURL:  s.frontendOrderURL(o.ID, ""),
		OrderResultURL: s.frontendOrderURL(o.ID, "/result"),
	})
}

func (s *Service) frontendOrderURL(orderID int64, suffix string) string {
	if s.FrontendBaseURL == "" {
		return ""
	}
	return s.FrontendBaseURL + "/orders/" + strconv.FormatInt(orderID, 10) + suffix
}

func settleParams(result ecpay.CallbackResult) SettleParams {
	arg := SettleParams{
		Paid:          result.Paid(),
		TradeNo:       result.TradeNo,
		SimulatePaid:  result.SimulatePaid,
		CheckMacValue: result.CheckMacValue,
	}
	if arg.Paid {
		if ts, err := time.ParseInLocation(gatewayTimeLayout, result.PaymentDate, time.Local); err == nil {
			arg.PaymentDate = &ts
		}
	} else {
		arg.FailureReason = result.RtnMsg
	}
	return arg
}
