package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/soukly/souk-commerce/internal/domain/stock"
)

const (
	adjustStockSQL = `UPDATE product_variants
		SET stock_count = stock_count + $3
		WHERE product_id = $1 AND variant_key = $2`

	// The stock_count >= $3 predicate makes the decrement conditional and
	// atomic: of two concurrent reductions competing for the last units,
	// exactly one matches the row.
	reduceStockSQL = `UPDATE product_variants
		SET stock_count = stock_count - $3
		WHERE product_id = $1 AND variant_key = $2 AND stock_count >= $3`

	stockLevelsSQL = `SELECT product_id, variant_key, stock_count
		FROM product_variants
		WHERE (product_id, variant_key) IN (SELECT unnest($1::text[]), unnest($2::text[]))`
)

var _ stock.Repository = (*StockRepository)(nil)

// StockRepository implements stock.Repository backed by PostgreSQL. Stock
// lives on the variant row; every mutation is a single-row atomic UPDATE.
type StockRepository struct {
	pool *pgxpool.Pool
}

// NewStockRepository returns a StockRepository that uses the given pool.
func NewStockRepository(pool *pgxpool.Pool) *StockRepository {
	return &StockRepository{pool: pool}
}

// AdjustStock applies a relative delta without a floor. Administrative
// adjustments may drive the count negative as a backorder signal.
func (r *StockRepository) AdjustStock(ctx context.Context, productID, variantKey string, delta int) error {
	tag, err := r.pool.Exec(ctx, adjustStockSQL, productID, variantKey, delta)
	if err != nil {
		return fmt.Errorf("adjusting stock for %s/%s: %w", productID, variantKey, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("adjusting stock for %s/%s: %w", productID, variantKey, stock.ErrVariantNotFound)
	}
	return nil
}

// ReduceConditional decrements the count only when enough stock remains. It
// reports whether this call won the decrement.
func (r *StockRepository) ReduceConditional(ctx context.Context, productID, variantKey string, qty int) (bool, error) {
	tag, err := r.pool.Exec(ctx, reduceStockSQL, productID, variantKey, qty)
	if err != nil {
		return false, fmt.Errorf("reducing stock for %s/%s: %w", productID, variantKey, err)
	}
	return tag.RowsAffected() > 0, nil
}

// StockLevels returns current counts for the given keys. Unknown variants are
// absent from the result.
func (r *StockRepository) StockLevels(ctx context.Context, keys []stock.Key) (map[stock.Key]int, error) {
	productIDs := make([]string, len(keys))
	variantKeys := make([]string, len(keys))
	for i, k := range keys {
		productIDs[i] = k.ProductID
		variantKeys[i] = k.VariantKey
	}

	rows, err := r.pool.Query(ctx, stockLevelsSQL, productIDs, variantKeys)
	if err != nil {
		return nil, fmt.Errorf("querying stock levels: %w", err)
	}
	defer rows.Close()

	levels := make(map[stock.Key]int, len(keys))
	for rows.Next() {
		var (
			k     stock.Key
			count int
		)
		if err := rows.Scan(&k.ProductID, &k.VariantKey, &count); err != nil {
			return nil, fmt.Errorf("scanning stock level: %w", err)
		}
		levels[k] = count
	}
	return levels, rows.Err()
}
