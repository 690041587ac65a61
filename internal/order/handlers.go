package order

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/Snippy-project/Snippy-backend/internal/common"
)

// Handler exposes the order endpoints.
type Handler struct {
	Svc *Service
	V   *validator.Validate
	// AllowSimulate enables the development-only simulated payment
	// endpoint. Never set in production.
	AllowSimulate bool
}

type createRequest struct {
	ProductID int64 `json:"productId" validate:"required,gt=0"`
}

type orderView struct {
	ID           int64      `json:"id"`
	OrderNumber  string     `json:"orderNumber"`
	ProductID    int64      `json:"productId"`
	Price        int64      `json:"price"`
	PriceDisplay string     `json:"priceDisplay"`
	Status       Status     `json:"orderStatus"`
	PaidAt       *time.Time `json:"paidAt,omitempty"`
	FulfilledAt  *time.Time `json:"fulfilledAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

func viewOf(o Order) orderView {
	return orderView{
		ID:           o.ID,
		OrderNumber:  o.OrderNumber,
		ProductID:    o.ProductID,
		Price:        o.Price,
		PriceDisplay: "$" + strconv.FormatFloat(float64(o.Price)/100, 'f', 2, 64),
		Status:       o.Status,
		PaidAt:       o.PaidAt,
		FulfilledAt:  o.FulfilledAt,
		CreatedAt:    o.CreatedAt,
	}
}

// Create opens a pending order and returns the signed gateway checkout
// payload the client submits as a form POST.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := common.UserID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body", nil)
		return
	}
	if err := h.V.Struct(req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", "productId is required", nil)
		return
	}

	created, err := h.Svc.CreateOrder(r.Context(), userID, req.ProductID)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{
		"data": map[string]any{
			"order": viewOf(created.Order),
			"checkout": map[string]any{
				"action": created.Checkout.Action,
				"params": created.Checkout.Params,
			},
			"paymentUrl": "/api/orders/" + strconv.FormatInt(created.Order.ID, 10) + "/payment",
		},
	})
}

// List returns the caller's orders, newest first.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := common.UserID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	page, perPage := common.ParsePagination(r, 20, 100)
	orders, total, err := h.Svc.Orders.ListForUser(r.Context(), userID, perPage, (page-1)*perPage)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to list orders", nil)
		return
	}
	views := make([]orderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, viewOf(o))
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data": views,
		"pagination": common.Pagination{
			Page:       page,
			PerPage:    perPage,
			TotalItems: total,
		},
	})
}

// Get returns one order owned by the caller.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := common.UserID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	orderID, err := strconv.ParseInt(chi.URLParam(r, "orderId"), 10, 64)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid order id", nil)
		return
	}
	o, err := h.Svc.Orders.GetByIDForUser(r.Context(), orderID, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "order not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to load order", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": viewOf(o)})
}

// PaymentPage serves an auto-submitting HTML form that forwards the
// browser to the gateway's hosted checkout.
func (h *Handler) PaymentPage(w http.ResponseWriter, r *http.Request) {
	userID, ok := common.UserID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	orderID, err := strconv.ParseInt(chi.URLParam(r, "orderId"), 10, 64)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid order id", nil)
		return
	}
	page, err := h.Svc.PaymentForm(r.Context(), userID, orderID)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(page))
}

// SimulatePayment forges a signed paid callback for one of the
// caller's pending orders, standing in for the gateway in environments
// without outbound connectivity. Runs through the same verification
// and settlement path as a real notification.
func (h *Handler) SimulatePayment(w http.ResponseWriter, r *http.Request) {
	if !h.AllowSimulate {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "not found", nil)
		return
	}
	userID, ok := common.UserID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	orderID, err := strconv.ParseInt(chi.URLParam(r, "orderId"), 10, 64)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid order id", nil)
		return
	}
	o, err := h.Svc.Orders.GetByIDForUser(r.Context(), orderID, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "order not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to load order", nil)
		return
	}

	params := map[string]string{
		"MerchantID":      h.Svc.Gateway.Config.MerchantID,
		"MerchantTradeNo": o.OrderNumber,
		"TradeNo":         "SIM" + strconv.FormatInt(time.Now().Unix(), 10),
		"TradeAmt":        strconv.FormatInt(o.Price, 10),
		"PaymentDate":     time.Now().Format("2006/01/02 15:04:05"),
		"PaymentType":     "Credit_CreditCard",
		"RtnCode":         "1",
		"RtnMsg":          "paid (simulated)",
		"SimulatePaid":    "1",
	}
	params["CheckMacValue"] = h.Svc.Gateway.Sign(params)
	payload := url.Values{}
	for k, v := range params {
		payload.Set(k, v)
	}

	ack := h.Svc.HandleCallback(r.Context(), payload)
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{"ack": ack.String()}})
}

// Callback receives the gateway's server-to-server payment notification.
// The response is always HTTP 200 with the plain-text acknowledgment
// body; the gateway retries on anything else.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		common.Text(w, http.StatusOK, Ack{OK: false, Reason: "malformed form payload"}.String())
		return
	}
	ack := h.Svc.HandleCallback(r.Context(), r.PostForm)
	common.Text(w, http.StatusOK, ack.String())
}
