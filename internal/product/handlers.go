package product

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"

	"github.com/Snippy-project/Snippy-backend/internal/common"
)

// Handler exposes catalog endpoints.
type Handler struct {
	Store *Store
	V     *validator.Validate
}

// List returns all active products.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	products, err := h.Store.ListActive(r.Context())
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to list products", nil)
		return
	}
	views := make([]map[string]any, 0, len(products))
	for _, p := range products {
		views = append(views, productView(p))
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": views})
}

// Get returns one active product.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "productId"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid product id", nil)
		return
	}
	p, err := h.Store.GetActive(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "product not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to load product", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": productView(p)})
}

type createRequest struct {
	Name                     string `json:"name" validate:"required,max=255"`
	Description              string `json:"description" validate:"required,max=255"`
	QuotaAmount              int    `json:"quotaAmount" validate:"gte=0"`
	Price                    int64  `json:"price" validate:"gte=0"`
	ProductType              string `json:"productType" validate:"required,oneof=quota custom_domain custom_domain_yearly"`
	SubscriptionDurationDays *int   `json:"subscriptionDurationDays" validate:"omitempty,gt=0"`
}

// Create inserts a catalog item. Mounted under the admin router.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid json body", nil)
		return
	}
	if err := h.V.Struct(req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", "invalid product payload", err.Error())
		return
	}
	p, err := h.Store.Insert(r.Context(), InsertParams{
		Name:                     req.Name,
		Description:              req.Description,
		QuotaAmount:              req.QuotaAmount,
		Price:                    req.Price,
		ProductType:              Type(req.ProductType),
		SubscriptionDurationDays: req.SubscriptionDurationDays,
	})
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to create product", nil)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": productView(p)})
}

type updateRequest struct {
	Name                     *string `json:"name" validate:"omitempty,max=255"`
	Description              *string `json:"description" validate:"omitempty,max=255"`
	QuotaAmount              *int    `json:"quotaAmount" validate:"omitempty,gte=0"`
	Price                    *int64  `json:"price" validate:"omitempty,gte=0"`
	ProductType              *string `json:"productType" validate:"omitempty,oneof=quota custom_domain custom_domain_yearly"`
	IsActive                 *bool   `json:"isActive"`
	SubscriptionDurationDays *int    `json:"subscriptionDurationDays" validate:"omitempty,gt=0"`
}

// Update applies a partial update to a catalog item.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "productId"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid product id", nil)
		return
	}
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid json body", nil)
		return
	}
	if err := h.V.Struct(req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", "invalid product payload", err.Error())
		return
	}
	var productType *Type
	if req.ProductType != nil {
		t := Type(*req.ProductType)
		productType = &t
	}
	p, err := h.Store.Update(r.Context(), id, UpdateParams{
		Name:                     req.Name,
		Description:              req.Description,
		QuotaAmount:              req.QuotaAmount,
		Price:                    req.Price,
		ProductType:              productType,
		IsActive:                 req.IsActive,
		SubscriptionDurationDays: req.SubscriptionDurationDays,
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "product not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to update product", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": productView(p)})
}

func productView(p Product) map[string]any {
	return map[string]any{
		"id":                       p.ID,
		"name":                     p.Name,
		"description":              p.Description,
		"quotaAmount":              p.QuotaAmount,
		"price":                    p.Price,
		"priceDisplay":             fmt.Sprintf("$%.2f", float64(p.Price)/100),
		"productType":              p.ProductType,
		"subscriptionDurationDays": p.SubscriptionDurationDays,
		"createdAt":                p.CreatedAt,
	}
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}
