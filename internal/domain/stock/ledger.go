// Package stock is the single owner of per-variant stock counters. It
// exposes two deliberately different mutation contracts: a permissive
// administrative adjustment that may drive a counter negative, and a strict
// order-time reduction that only commits when enough stock is on hand.
package stock

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
)

// ErrVariantNotFound is returned by AdjustStock when the (product, variant)
// row does not exist. Order-time reduction never returns it: an unknown
// variant there is a plain condition failure.
var ErrVariantNotFound = errors.New("variant not found")

// Item identifies a requested quantity of one (product, variant) pair.
type Item struct {
	ProductID  string
	VariantKey string
	Quantity   int
}

// Key identifies a single variant row.
type Key struct {
	ProductID  string
	VariantKey string
}

// Shortfall describes an item whose requested quantity exceeds the stock on
// hand. Available is the count observed when the shortfall was detected; a
// variant that does not exist reports Available == 0.
type Shortfall struct {
	ProductID  string `json:"productId"`
	VariantKey string `json:"variantKey"`
	Requested  int    `json:"requested"`
	Available  int    `json:"available"`
}

// InsufficientStockError reports every item of a reduce or validate call
// that could not be satisfied. Items not listed were satisfied (and, for
// ReduceForOrder, stay reduced — there is no cross-item rollback).
type InsufficientStockError struct {
	Shortfalls []Shortfall
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, len(e.Shortfalls))
	for i, s := range e.Shortfalls {
		parts[i] = fmt.Sprintf("%s/%s: requested %d, available %d",
			s.ProductID, s.VariantKey, s.Requested, s.Available)
	}
	return "insufficient stock: " + strings.Join(parts, "; ")
}

// Repository is the storage contract for stock counters. Every mutation is
// atomic at the single-row level; no operation spans multiple variants.
type Repository interface {
	// AdjustStock applies an unconditional delta. The resulting count may
	// go negative.
	AdjustStock(ctx context.Context, productID, variantKey string, delta int) error
	// ReduceConditional decrements stock by qty in one atomic round trip,
	// succeeding only when the current count is at least qty. It reports
	// false (not an error) when the condition fails or the variant is
	// unknown.
	ReduceConditional(ctx context.Context, productID, variantKey string, qty int) (bool, error)
	// StockLevels returns current counts for the given keys. Unknown keys
	// are absent from the result.
	StockLevels(ctx context.Context, keys []Key) (map[Key]int, error)
}

// Ledger applies the stock mutation policies on top of a Repository.
type Ledger struct {
	repo Repository
}

// NewLedger creates a Ledger backed by the given repository.
func NewLedger(repo Repository) *Ledger {
	return &Ledger{repo: repo}
}

// AdjustStock performs an administrative increment or decrement. A negative
// resulting count is a backordered signal, not an error; this permissive
// policy is intentional and distinct from ReduceForOrder.
func (l *Ledger) AdjustStock(ctx context.Context, productID, variantKey string, delta int) error {
	return l.repo.AdjustStock(ctx, productID, variantKey, delta)
}

// ReduceForOrder reduces stock for each item with an independent atomic
// conditional decrement. Items that cannot be satisfied are collected into
// an InsufficientStockError carrying requested vs. available counts;
// successfully reduced items remain reduced.
func (l *Ledger) ReduceForOrder(ctx context.Context, items []Item) error {
	var failed []Item
	for _, item := range items {
		ok, err := l.repo.ReduceConditional(ctx, item.ProductID, item.VariantKey, item.Quantity)
		if err != nil {
			return fmt.Errorf("reduce stock %s/%s: %w", item.ProductID, item.VariantKey, err)
		}
		if !ok {
			failed = append(failed, item)
		}
	}
	if len(failed) == 0 {
		return nil
	}

	shortfalls, err := l.describeShortfalls(ctx, failed)
	if err != nil {
		return err
	}
	return &InsufficientStockError{Shortfalls: shortfalls}
}

// ValidateForCheckout is the advisory read-side counterpart of
// ReduceForOrder: it returns the items that would fail the reduce right now.
// It takes no lock, so callers must still run the real reduce at commit
// time; concurrent checkouts are arbitrated by the atomic decrement, not by
// this check.
func (l *Ledger) ValidateForCheckout(ctx context.Context, items []Item) ([]Shortfall, error) {
	keys := make([]Key, len(items))
	for i, item := range items {
		keys[i] = Key{ProductID: item.ProductID, VariantKey: item.VariantKey}
	}

	levels, err := l.repo.StockLevels(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("read stock levels: %w", err)
	}

	var shortfalls []Shortfall
	for _, item := range items {
		available := levels[Key{ProductID: item.ProductID, VariantKey: item.VariantKey}]
		if available < item.Quantity {
			shortfalls = append(shortfalls, Shortfall{
				ProductID:  item.ProductID,
				VariantKey: item.VariantKey,
				Requested:  item.Quantity,
				Available:  available,
			})
		}
	}
	return shortfalls, nil
}

func (l *Ledger) describeShortfalls(ctx context.Context, failed []Item) ([]Shortfall, error) {
	keys := make([]Key, len(failed))
	for i, item := range failed {
		keys[i] = Key{ProductID: item.ProductID, VariantKey: item.VariantKey}
	}

	levels, err := l.repo.StockLevels(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("read stock levels: %w", err)
	}

	shortfalls := make([]Shortfall, len(failed))
	for i, item := range failed {
		shortfalls[i] = Shortfall{
			ProductID:  item.ProductID,
			VariantKey: item.VariantKey,
			Requested:  item.Quantity,
			Available:  levels[keys[i]],
		}
	}
	return shortfalls, nil
}
