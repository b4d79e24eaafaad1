// Package cart re-validates client-submitted cart lines against catalog
// truth. Client lines are never trusted or persisted as-is: existence,
// variant match, stock and price are all re-derived here.
package cart

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/soukly/souk-commerce/internal/domain/product"
	"github.com/soukly/souk-commerce/internal/domain/stock"
)

// Line is a transient, client-supplied cart line.
type Line struct {
	ProductID  string
	VariantKey string
	Quantity   int
	UnitPrice  decimal.Decimal
}

// LineTotal returns quantity * unit price.
func (l Line) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// InvalidLine pairs a rejected line with the reason it was rejected.
type InvalidLine struct {
	Line   Line
	Reason string
}

// PriceCorrection records a silently fixed unit price so the caller can
// display the change. Fix-and-flag: the line stays valid.
type PriceCorrection struct {
	ProductID  string
	VariantKey string
	OldPrice   decimal.Decimal
	NewPrice   decimal.Decimal
}

// Result is the outcome of validating a cart. Valid lines carry the
// corrected (authoritative) unit price.
type Result struct {
	Valid            []Line
	Invalid          []InvalidLine
	PriceCorrections []PriceCorrection
}

// Subtotal sums the valid lines' totals.
func (r *Result) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range r.Valid {
		sum = sum.Add(l.LineTotal())
	}
	return sum
}

// Validator re-prices and re-checks carts against the catalog.
type Validator struct {
	products product.Repository
}

// NewValidator creates a Validator backed by the given catalog.
func NewValidator(products product.Repository) *Validator {
	return &Validator{products: products}
}

// Validate checks every line against current catalog state. Product lookups
// are batched into one query regardless of cart size. Quantities for the
// same (product, variant) pair are aggregated across lines before the stock
// check, so a customer adding the same variant twice is checked against the
// sum. Price drift is corrected in place and reported, not rejected.
func (v *Validator) Validate(ctx context.Context, lines []Line) (*Result, error) {
	if len(lines) == 0 {
		return &Result{}, nil
	}

	// Deduplicate product IDs for the batch fetch.
	seen := make(map[string]struct{}, len(lines))
	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		if _, ok := seen[l.ProductID]; ok {
			continue
		}
		seen[l.ProductID] = struct{}{}
		ids = append(ids, l.ProductID)
	}

	fetched, err := v.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("batch fetch products: %w", err)
	}
	byID := make(map[string]*product.Product, len(fetched))
	for i := range fetched {
		byID[fetched[i].ID] = &fetched[i]
	}

	// Aggregate requested quantity per (product, variant) across all lines.
	requested := make(map[stock.Key]int, len(lines))
	for _, l := range lines {
		requested[stock.Key{ProductID: l.ProductID, VariantKey: l.VariantKey}] += l.Quantity
	}

	result := &Result{}
	for _, line := range lines {
		p, ok := byID[line.ProductID]
		if !ok {
			result.Invalid = append(result.Invalid, InvalidLine{Line: line, Reason: "product not found"})
			continue
		}
		if !p.Active {
			result.Invalid = append(result.Invalid, InvalidLine{Line: line, Reason: "product is not available"})
			continue
		}
		variant, ok := p.FindVariant(line.VariantKey)
		if !ok {
			result.Invalid = append(result.Invalid, InvalidLine{
				Line:   line,
				Reason: fmt.Sprintf("variant %q not found", line.VariantKey),
			})
			continue
		}

		totalWanted := requested[stock.Key{ProductID: line.ProductID, VariantKey: line.VariantKey}]
		if totalWanted > variant.StockCount {
			result.Invalid = append(result.Invalid, InvalidLine{
				Line: line,
				Reason: fmt.Sprintf("insufficient stock: requested %d, available %d",
					totalWanted, variant.StockCount),
			})
			continue
		}

		if !line.UnitPrice.Equal(variant.Price) {
			result.PriceCorrections = append(result.PriceCorrections, PriceCorrection{
				ProductID:  line.ProductID,
				VariantKey: line.VariantKey,
				OldPrice:   line.UnitPrice,
				NewPrice:   variant.Price,
			})
			line.UnitPrice = variant.Price
		}
		result.Valid = append(result.Valid, line)
	}

	return result, nil
}
