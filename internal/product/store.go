package product

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates the product does not exist or is inactive.
var ErrNotFound = errors.New("product: not found")

const productColumns = `id, name, description, quota_amount, price, product_type, is_active, subscription_duration_days, created_at, updated_at`

// Store provides database access to the product catalog.
type Store struct {
	Pool *pgxpool.Pool
}

// GetActive fetches an active product by id.
func (s *Store) GetActive(ctx context.Context, id int64) (Product, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1 AND is_active`, id)
	return scanProduct(row)
}

// Get fetches a product regardless of active state. Used by the
// fulfillment retry path: a product deactivated after purchase must
// still fulfill already-paid orders.
func (s *Store) Get(ctx context.Context, id int64) (Product, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	return scanProduct(row)
}

// ListActive returns the purchasable catalog ordered by type then price.
func (s *Store) ListActive(ctx context.Context) ([]Product, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT `+productColumns+` FROM products WHERE is_active ORDER BY product_type, price`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// InsertParams carries the fields for a new catalog item.
type InsertParams struct {
	Name                     string
	Description              string
	QuotaAmount              int
	Price                    int64
	ProductType              Type
	SubscriptionDurationDays *int
}

// Insert creates a catalog item, active by default.
func (s *Store) Insert(ctx context.Context, arg InsertParams) (Product, error) {
	row := s.Pool.QueryRow(ctx,
		`INSERT INTO products (name, description, quota_amount, price, product_type, subscription_duration_days, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, TRUE)
		 RETURNING `+productColumns,
		arg.Name, arg.Description, arg.QuotaAmount, arg.Price, string(arg.ProductType), arg.SubscriptionDurationDays)
	return scanProduct(row)
}

// UpdateParams carries partial updates; nil fields are left untouched.
type UpdateParams struct {
	Name                     *string
	Description              *string
	QuotaAmount              *int
	Price                    *int64
	ProductType              *Type
	IsActive                 *bool
	SubscriptionDurationDays *int
}

// Update applies the non-nil fields to an existing product.
func (s *Store) Update(ctx context.Context, id int64, arg UpdateParams) (Product, error) {
	sets := make([]string, 0, 8)
	args := make([]any, 0, 8)
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, col+" = $"+strconv.Itoa(len(args)))
	}
	if arg.Name != nil {
		add("name", *arg.Name)
	}
	if arg.Description != nil {
		add("description", *arg.Description)
	}
	if arg.QuotaAmount != nil {
		add("quota_amount", *arg.QuotaAmount)
	}
	if arg.Price != nil {
		add("price", *arg.Price)
	}
	if arg.ProductType != nil {
		add("product_type", string(*arg.ProductType))
	}
	if arg.IsActive != nil {
		add("is_active", *arg.IsActive)
	}
	if arg.SubscriptionDurationDays != nil {
		add("subscription_duration_days", *arg.SubscriptionDurationDays)
	}
	if len(sets) == 0 {
		return s.Get(ctx, id)
	}
	args = append(args, id)
	query := `UPDATE products SET ` + strings.Join(sets, ", ") +
		`, updated_at = now() WHERE id = $` + strconv.Itoa(len(args)) +
		` RETURNING ` + productColumns
	return scanProduct(s.Pool.QueryRow(ctx, query, args...))
}

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	var productType string
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.QuotaAmount, &p.Price,
		&productType, &p.IsActive, &p.SubscriptionDurationDays, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrNotFound
		}
		return Product{}, err
	}
	p.ProductType = Type(productType)
	return p, nil
}
