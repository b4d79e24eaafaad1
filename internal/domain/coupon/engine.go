package coupon

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Quote is the result of a successful coupon validation. It carries the
// coupon and the computed discount but records nothing: usage counters move
// only via RecordUsage after an order is durably created.
type Quote struct {
	Coupon   *Coupon
	Discount decimal.Decimal
}

// Engine validates coupon codes against carts and computes discounts.
type Engine struct {
	repo Repository
	now  func() time.Time
}

// NewEngine creates an Engine backed by the given repository.
func NewEngine(repo Repository) *Engine {
	return &Engine{repo: repo, now: time.Now}
}

// Validate runs the eligibility chain in a fixed order with the first
// failing check winning: existence/active, time window, global cap,
// per-user cap, minimum order amount, applicability sets, exclusion sets.
// On success it returns the coupon and the bounded discount for the cart.
func (e *Engine) Validate(ctx context.Context, code, userID string, items []Item) (*Quote, error) {
	c, err := e.repo.FindByCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}
	if !c.Active {
		return nil, ErrInactive
	}

	now := e.now()
	if now.Before(c.ValidFrom) || now.After(c.ValidUntil) {
		return nil, ErrExpired
	}

	if c.UsageLimitGlobal > 0 && c.UsageCount >= c.UsageLimitGlobal {
		return nil, ErrUsageLimitReached
	}

	if c.UsageLimitPerUser > 0 {
		used, err := e.repo.CountUserUsage(ctx, c.ID, userID)
		if err != nil {
			return nil, errors.Wrap(err, "count user usage")
		}
		if used >= c.UsageLimitPerUser {
			return nil, ErrUserLimitReached
		}
	}

	subtotal := subtotalOf(items)
	if c.MinOrderAmount != nil && subtotal.LessThan(*c.MinOrderAmount) {
		return nil, &MinOrderError{Minimum: *c.MinOrderAmount, Subtotal: subtotal}
	}

	if err := checkApplicability(c, items); err != nil {
		return nil, err
	}

	discount, err := Discount(c, subtotal)
	if err != nil {
		return nil, err
	}
	return &Quote{Coupon: c, Discount: discount}, nil
}

// RecordUsage records a redemption for a durably created order. Never call
// this during quote or preview.
func (e *Engine) RecordUsage(ctx context.Context, c *Coupon, orderID, userID string) error {
	return e.repo.RecordUsage(ctx, c.ID, orderID, userID)
}

// checkApplicability enforces the inclusion sets first (at least one line
// must intersect them when non-empty), then the exclusion sets (no line may
// intersect them, even if another line qualifies).
func checkApplicability(c *Coupon, items []Item) error {
	if len(c.ApplicableProductIDs) > 0 || len(c.ApplicableCategoryIDs) > 0 {
		anyMatch := false
		for _, item := range items {
			if contains(c.ApplicableProductIDs, item.ProductID) ||
				intersects(c.ApplicableCategoryIDs, item.CategoryIDs) {
				anyMatch = true
				break
			}
		}
		if !anyMatch {
			return ErrNotApplicable
		}
	}

	if len(c.ExcludedProductIDs) > 0 || len(c.ExcludedCategoryIDs) > 0 {
		for _, item := range items {
			if contains(c.ExcludedProductIDs, item.ProductID) ||
				intersects(c.ExcludedCategoryIDs, item.CategoryIDs) {
				return ErrExcluded
			}
		}
	}
	return nil
}

func subtotalOf(items []Item) decimal.Decimal {
	sum := decimal.Zero
	for _, item := range items {
		sum = sum.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return sum
}

func contains(set []string, v string) bool {
	return slices.Contains(set, v)
}

func intersects(set, values []string) bool {
	return slices.ContainsFunc(values, func(v string) bool {
		return slices.Contains(set, v)
	})
}
