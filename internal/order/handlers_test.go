package order

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	validator "github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"

	"github.com/Snippy-project/Snippy-backend/internal/common"
	"github.com/Snippy-project/Snippy-backend/internal/product"
)

func callbackRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/orders/payment/callback", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestCallbackEndpointAcksPaid(t *testing.T) {
	orders := newStubOrders()
	catalog := &stubCatalog{products: map[int64]product.Product{1: quotaProduct()}}
	svc := newTestService(orders, catalog, &stubFulfiller{}, &stubRetry{})
	h := &Handler{Svc: svc, V: validator.New()}

	created, err := svc.CreateOrder(context.Background(), 42, 1)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.Callback(rec, callbackRequest(signedCallback(t, svc, created.Order, true).Encode()))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "1|OK", rec.Body.String())
	require.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
}

func TestCallbackEndpointRejectsTamperedPayload(t *testing.T) {
	orders := newStubOrders()
	catalog := &stubCatalog{products: map[int64]product.Product{1: quotaProduct()}}
	svc := newTestService(orders, catalog, &stubFulfiller{}, &stubRetry{})
	h := &Handler{Svc: svc, V: validator.New()}

	created, err := svc.CreateOrder(context.Background(), 42, 1)
	require.NoError(t, err)

	payload := signedCallback(t, svc, created.Order, true)
	payload.Set("TradeAmt", "1")

	rec := httptest.NewRecorder()
	h.Callback(rec, callbackRequest(payload.Encode()))

	// The gateway only understands the body token; the HTTP status
	// stays 200 even on rejection.
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "0|CheckMacValue verification failed", rec.Body.String())
}

func TestCreateRequiresAuth(t *testing.T) {
	svc := newTestService(newStubOrders(), &stubCatalog{}, &stubFulfiller{}, &stubRetry{})
	h := &Handler{Svc: svc, V: validator.New()}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(`{"productId":1}`))
	h.Create(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateEndpoint(t *testing.T) {
	orders := newStubOrders()
	catalog := &stubCatalog{products: map[int64]product.Product{1: quotaProduct()}}
	svc := newTestService(orders, catalog, &stubFulfiller{}, &stubRetry{})
	h := &Handler{Svc: svc, V: validator.New()}

	req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(`{"productId":1}`))
	req = req.WithContext(common.WithUserID(req.Context(), 42))
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, `"orderNumber":"SN`)
	require.Contains(t, body, `"orderStatus":"pending"`)
	require.Contains(t, body, `"priceDisplay":"$99.00"`)
	require.Contains(t, body, "CheckMacValue")
}
