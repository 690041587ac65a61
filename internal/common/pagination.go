package common

import (
	"net/http"
	"strconv"
)

// Pagination describes the window a list response covers.
type Pagination struct {
	Page       int   `json:"page"`
	PerPage    int   `json:"perPage"`
	TotalItems int64 `json:"totalItems"`
}

// ParsePagination reads the page and limit query parameters, falling
// back to def and capping limit at max.
func ParsePagination(r *http.Request, def, max int) (page, perPage int) {
	page = 1
	perPage = def
	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
		page = p
	}
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		perPage = l
	}
	if perPage > max {
		perPage = max
	}
	return
}
