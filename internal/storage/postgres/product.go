package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/soukly/souk-commerce/internal/domain/product"
)

const (
	getProductByIDSQL = `SELECT id, name, slug, description, image, categories, active
		FROM products WHERE id = $1`

	getProductsByIDsSQL = `SELECT id, name, slug, description, image, categories, active
		FROM products WHERE id = ANY($1)`

	getVariantsByProductIDsSQL = `SELECT product_id, variant_key, price, compare_price, stock_count
		FROM product_variants WHERE product_id = ANY($1) ORDER BY product_id, variant_key`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// GetByID returns a single product with its variants.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}

	if err := r.attachVariants(ctx, []string{id}, map[string]*product.Product{id: &p}); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetByIDs returns products matching any of the given IDs, each with its
// variants. Missing IDs are simply absent from the result.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}

	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}

	byID := make(map[string]*product.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}
	if err := r.attachVariants(ctx, ids, byID); err != nil {
		return nil, err
	}
	return products, nil
}

func (r *ProductRepository) attachVariants(ctx context.Context, ids []string, byID map[string]*product.Product) error {
	rows, err := r.pool.Query(ctx, getVariantsByProductIDsSQL, ids)
	if err != nil {
		return fmt.Errorf("getting product variants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			productID string
			v         product.Variant
		)
		if err := rows.Scan(&productID, &v.Key, &v.Price, &v.ComparePrice, &v.StockCount); err != nil {
			return fmt.Errorf("scanning product variant: %w", err)
		}
		if p, ok := byID[productID]; ok {
			p.Variants = append(p.Variants, v)
		}
	}
	return rows.Err()
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var p product.Product
	err := row.Scan(
		&p.ID, &p.Name, &p.Slug, &p.Description, &p.Image, &p.Categories, &p.Active,
	)
	return p, err
}
