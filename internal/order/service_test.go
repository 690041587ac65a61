package order

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Snippy-project/Snippy-backend/internal/common"
	"github.com/Snippy-project/Snippy-backend/internal/ecpay"
	"github.com/Snippy-project/Snippy-backend/internal/product"
)

type stubOrders struct {
	mu        sync.Mutex
	nextID    int64
	byNumber  map[string]Order
	settleErr error
}

func newStubOrders() *stubOrders {
	return &stubOrders{byNumber: make(map[string]Order)}
}

func (s *stubOrders) Insert(ctx context.Context, arg InsertParams) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	o := Order{
		ID:          s.nextID,
		UserID:      arg.UserID,
		ProductID:   arg.ProductID,
		OrderNumber: arg.OrderNumber,
		Price:       arg.Price,
		Status:      StatusPending,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	s.byNumber[o.OrderNumber] = o
	return o, nil
}

func (s *stubOrders) GetByNumber(ctx context.Context, orderNumber string) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.byNumber[orderNumber]
	if !ok {
		return Order{}, ErrNotFound
	}
	return o, nil
}

func (s *stubOrders) GetByIDForUser(ctx context.Context, id, userID int64) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.byNumber {
		if o.ID == id && o.UserID == userID {
			return o, nil
		}
	}
	return Order{}, ErrNotFound
}

func (s *stubOrders) ListForUser(ctx context.Context, userID int64, limit, offset int) ([]Order, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Order
	for _, o := range s.byNumber {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	return out, int64(len(out)), nil
}

func (s *stubOrders) Settle(ctx context.Context, orderNumber string, arg SettleParams) (Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settleErr != nil {
		return Order{}, false, s.settleErr
	}
	o, ok := s.byNumber[orderNumber]
	if !ok {
		return Order{}, false, ErrNotFound
	}
	if o.Status != StatusPending {
		return o, false, nil
	}
	if arg.Paid {
		o.Status = StatusPaid
		o.ECPayTradeNo = &arg.TradeNo
		o.ECPayPaymentDate = arg.PaymentDate
		now := time.Now()
		o.PaidAt = &now
	} else {
		o.Status = StatusFailed
		o.FailureReason = &arg.FailureReason
	}
	o.ECPaySimulatePaid = arg.SimulatePaid
	s.byNumber[orderNumber] = o
	return o, true, nil
}

type stubCatalog struct {
	products map[int64]product.Product
}

func (s *stubCatalog) GetActive(ctx context.Context, id int64) (product.Product, error) {
	p, ok := s.products[id]
	if !ok || !p.IsActive {
		return product.Product{}, product.ErrNotFound
	}
	return p, nil
}

func (s *stubCatalog) Get(ctx context.Context, id int64) (product.Product, error) {
	p, ok := s.products[id]
	if !ok {
		return product.Product{}, product.ErrNotFound
	}
	return p, nil
}

type stubFulfiller struct {
	calls    int
	failOnce bool
}

func (s *stubFulfiller) Fulfill(ctx context.Context, o Order, p product.Product) error {
	s.calls++
	if s.failOnce {
		s.failOnce = false
		return context.DeadlineExceeded
	}
	return nil
}

type stubRetry struct {
	scheduled []string
}

func (s *stubRetry) ScheduleFulfillment(ctx context.Context, orderNumber string) error {
	s.scheduled = append(s.scheduled, orderNumber)
	return nil
}

const (
	testHashKey = "5294y06JbISpM5x9"
	testHashIV  = "v77hoKGq4kWxNNIS"
)

func newTestService(orders *stubOrders, catalog *stubCatalog, f *stubFulfiller, r *stubRetry) *Service {
	gw := ecpay.NewClient(ecpay.Config{
		ServiceURL: "https://payment-stage.ecpay.com.tw",
		MerchantID: "2000132",
		HashKey:    testHashKey,
		HashIV:     testHashIV,
	})
	return &Service{
		Orders:          orders,
		Products:        catalog,
		Gateway:         gw,
		Fulfill:         f,
		Retry:           r,
		Logger:          zerolog.Nop(),
		CallbackURL:     "https://api.snippy.dev/api/orders/payment/callback",
		FrontendBaseURL: "https://snippy.dev",
	}
}

func quotaProduct() product.Product {
	return product.Product{
		ID:          1,
		Name:        "100 links pack",
		QuotaAmount: 100,
		Price:       9900,
		ProductType: product.TypeQuota,
		IsActive:    true,
	}
}

func signedCallback(t *testing.T, svc *Service, o Order, paid bool) url.Values {
	t.Helper()
	params := map[string]string{
		"MerchantID":      "2000132",
		"MerchantTradeNo": o.OrderNumber,
		"TradeNo":         "2503011230456789",
		"TradeAmt":        strconv.FormatInt(o.Price, 10),
		"PaymentDate":     "2025/03/01 12:31:07",
		"PaymentType":     "Credit_CreditCard",
		"SimulatePaid":    "0",
	}
	if paid {
		params["RtnCode"] = "1"
		params["RtnMsg"] = "Succeeded"
	} else {
		params["RtnCode"] = "10200095"
		params["RtnMsg"] = "Card rejected"
	}
	params["CheckMacValue"] = svc.Gateway.Sign(params)

	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	return values
}

func TestCreateOrderSnapshotsPrice(t *testing.T) {
	orders := newStubOrders()
	catalog := &stubCatalog{products: map[int64]product.Product{1: quotaProduct()}}
	svc := newTestService(orders, catalog, &stubFulfiller{}, &stubRetry{})

	created, err := svc.CreateOrder(context.Background(), 42, 1)
	require.NoError(t, err)
	require.Equal(t, int64(9900), created.Order.Price)
	require.Equal(t, StatusPending, created.Order.Status)
	require.Len(t, created.Order.OrderNumber, 18)
	require.Equal(t, "SN", created.Order.OrderNumber[:2])

	require.Equal(t, created.Order.OrderNumber, created.Checkout.Params["MerchantTradeNo"])
	require.Equal(t, "9900", created.Checkout.Params["TotalAmount"])
	require.NotEmpty(t, created.Checkout.Params["CheckMacValue"])
	require.Equal(t, svc.CallbackURL, created.Checkout.Params["ReturnURL"])
}

func TestCreateOrderInactiveProduct(t *testing.T) {
	p := quotaProduct()
	p.IsActive = false
	catalog := &stubCatalog{products: map[int64]product.Product{1: p}}
	svc := newTestService(newStubOrders(), catalog, &stubFulfiller{}, &stubRetry{})

	_, err := svc.CreateOrder(context.Background(), 42, 1)
	appErr, ok := common.AsAppError(err)
	require.True(t, ok)
	require.Equal(t, 404, appErr.HTTPStatus)
}

func TestHandleCallbackPaid(t *testing.T) {
	orders := newStubOrders()
	catalog := &stubCatalog{products: map[int64]product.Product{1: quotaProduct()}}
	fulfiller := &stubFulfiller{}
	svc := newTestService(orders, catalog, fulfiller, &stubRetry{})

	created, err := svc.CreateOrder(context.Background(), 42, 1)
	require.NoError(t, err)

	ack := svc.HandleCallback(context.Background(), signedCallback(t, svc, created.Order, true))
	require.Equal(t, "1|OK", ack.String())
	require.Equal(t, 1, fulfiller.calls)

	settled, err := orders.GetByNumber(context.Background(), created.Order.OrderNumber)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, settled.Status)
	require.NotNil(t, settled.ECPayTradeNo)
	require.NotNil(t, settled.ECPayPaymentDate)
}

func TestHandleCallbackReplayFulfillsOnce(t *testing.T) {
	orders := newStubOrders()
	catalog := &stubCatalog{products: map[int64]product.Product{1: quotaProduct()}}
	fulfiller := &stubFulfiller{}
	svc := newTestService(orders, catalog, fulfiller, &stubRetry{})

	created, err := svc.CreateOrder(context.Background(), 42, 1)
	require.NoError(t, err)

	payload := signedCallback(t, svc, created.Order, true)
	require.Equal(t, "1|OK", svc.HandleCallback(context.Background(), payload).String())
	require.Equal(t, "1|OK", svc.HandleCallback(context.Background(), payload).String())
	require.Equal(t, 1, fulfiller.calls)
}

func TestHandleCallbackBadMAC(t *testing.T) {
	orders := newStubOrders()
	catalog := &stubCatalog{products: map[int64]product.Product{1: quotaProduct()}}
	fulfiller := &stubFulfiller{}
	svc := newTestService(orders, catalog, fulfiller, &stubRetry{})

	created, err := svc.CreateOrder(context.Background(), 42, 1)
	require.NoError(t, err)

	payload := signedCallback(t, svc, created.Order, true)
	payload.Set("TradeAmt", "1") // tampered after signing

	ack := svc.HandleCallback(context.Background(), payload)
	require.False(t, ack.OK)
	require.Equal(t, "0|CheckMacValue verification failed", ack.String())
	require.Zero(t, fulfiller.calls)

	untouched, err := orders.GetByNumber(context.Background(), created.Order.OrderNumber)
	require.NoError(t, err)
	require.Equal(t, StatusPending, untouched.Status)
}

func TestHandleCallbackUnknownOrder(t *testing.T) {
	svc := newTestService(newStubOrders(), &stubCatalog{}, &stubFulfiller{}, &stubRetry{})

	ack := svc.HandleCallback(context.Background(), signedCallback(t, svc, Order{OrderNumber: "SNUNKNOWNORDER0000", Price: 100}, true))
	require.Equal(t, "0|order not found", ack.String())
}

func TestHandleCallbackSettleStorageError(t *testing.T) {
	orders := newStubOrders()
	catalog := &stubCatalog{products: map[int64]product.Product{1: quotaProduct()}}
	fulfiller := &stubFulfiller{}
	svc := newTestService(orders, catalog, fulfiller, &stubRetry{})

	created, err := svc.CreateOrder(context.Background(), 42, 1)
	require.NoError(t, err)

	// A gateway TradeNo colliding with another order trips the unique
	// constraint; the failure ack tells the gateway to redeliver.
	orders.settleErr = errors.New(`duplicate key value violates unique constraint "orders_ecpay_trade_no_key"`)

	ack := svc.HandleCallback(context.Background(), signedCallback(t, svc, created.Order, true))
	require.False(t, ack.OK)
	require.Equal(t, "0|settlement error", ack.String())
	require.Zero(t, fulfiller.calls)
}

func TestHandleCallbackPaymentFailed(t *testing.T) {
	orders := newStubOrders()
	catalog := &stubCatalog{products: map[int64]product.Product{1: quotaProduct()}}
	fulfiller := &stubFulfiller{}
	svc := newTestService(orders, catalog, fulfiller, &stubRetry{})

	created, err := svc.CreateOrder(context.Background(), 42, 1)
	require.NoError(t, err)

	ack := svc.HandleCallback(context.Background(), signedCallback(t, svc, created.Order, false))
	require.Equal(t, "1|OK", ack.String())
	require.Zero(t, fulfiller.calls)

	settled, err := orders.GetByNumber(context.Background(), created.Order.OrderNumber)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, settled.Status)
	require.NotNil(t, settled.FailureReason)
	require.Equal(t, "Card rejected", *settled.FailureReason)
}

func TestHandleCallbackFulfillmentErrorSchedulesRetry(t *testing.T) {
	orders := newStubOrders()
	catalog := &stubCatalog{products: map[int64]product.Product{1: quotaProduct()}}
	fulfiller := &stubFulfiller{failOnce: true}
	retry := &stubRetry{}
	svc := newTestService(orders, catalog, fulfiller, retry)

	created, err := svc.CreateOrder(context.Background(), 42, 1)
	require.NoError(t, err)

	ack := svc.HandleCallback(context.Background(), signedCallback(t, svc, created.Order, true))
	require.Equal(t, "1|OK", ack.String())
	require.Equal(t, []string{created.Order.OrderNumber}, retry.scheduled)

	// The order stays paid; the queue owns the rest.
	settled, err := orders.GetByNumber(context.Background(), created.Order.OrderNumber)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, settled.Status)
}

func TestHandleCallbackSimulatePaid(t *testing.T) {
	orders := newStubOrders()
	catalog := &stubCatalog{products: map[int64]product.Product{1: quotaProduct()}}
	fulfiller := &stubFulfiller{}
	svc := newTestService(orders, catalog, fulfiller, &stubRetry{})

	created, err := svc.CreateOrder(context.Background(), 42, 1)
	require.NoError(t, err)

	payload := signedCallback(t, svc, created.Order, false)
	payload.Del("CheckMacValue")
	payload.Set("SimulatePaid", "1")
	params := map[string]string{}
	for k := range payload {
		params[k] = payload.Get(k)
	}
	payload.Set("CheckMacValue", svc.Gateway.Sign(params))

	ack := svc.HandleCallback(context.Background(), payload)
	require.Equal(t, "1|OK", ack.String())
	require.Equal(t, 1, fulfiller.calls)

	settled, err := orders.GetByNumber(context.Background(), created.Order.OrderNumber)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, settled.Status)
	require.True(t, settled.ECPaySimulatePaid)
}
