package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product represents a catalog item available for purchase. Stock is owned
// exclusively by the product's variants; there is no separate ledger table.
type Product struct {
	ID          string
	Name        string
	Slug        string
	Description string
	Image       string
	Categories  []string
	Active      bool
	Variants    []Variant
}

// Variant is a distinct purchasable configuration of a product with its own
// price and stock count.
type Variant struct {
	Key          string
	Price        decimal.Decimal
	ComparePrice *decimal.Decimal
	StockCount   int
}

// FindVariant returns the variant with the given key, or false when the
// product has no such variant.
func (p *Product) FindVariant(key string) (Variant, bool) {
	for _, v := range p.Variants {
		if v.Key == key {
			return v, true
		}
	}
	return Variant{}, false
}

// Snapshot is the frozen catalog view stored on an order item so later
// catalog edits cannot rewrite order history.
type Snapshot struct {
	Name        string   `json:"name"`
	Slug        string   `json:"slug"`
	Image       string   `json:"image"`
	Description string   `json:"description"`
	Categories  []string `json:"categories"`
}

// TakeSnapshot captures the product's current catalog view.
func (p *Product) TakeSnapshot() Snapshot {
	return Snapshot{
		Name:        p.Name,
		Slug:        p.Slug,
		Image:       p.Image,
		Description: p.Description,
		Categories:  p.Categories,
	}
}

// Repository defines read operations for the product catalog.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Product, error)
	// GetByIDs fetches all referenced products in a single query. Missing
	// IDs are simply absent from the result, not an error.
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}
