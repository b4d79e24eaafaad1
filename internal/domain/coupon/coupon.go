package coupon

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Kind enumerates the supported coupon discount strategies.
type Kind string

const (
	// KindPercentage applies a percentage-based discount to the subtotal.
	KindPercentage Kind = "percentage"
	// KindFixed applies a fixed monetary discount capped at the subtotal.
	KindFixed Kind = "fixed"
	// KindFreeShipping waives shipping; the merchandise discount is zero and
	// the shipping waiver is the caller's responsibility.
	KindFreeShipping Kind = "free_shipping"
)

var (
	// ErrNotFound is returned when no coupon exists for a code.
	ErrNotFound = errors.New("coupon not found")
	// ErrInactive is returned when the coupon exists but is disabled.
	ErrInactive = errors.New("coupon is not active")
	// ErrExpired is returned when the current time is outside the coupon's
	// [validFrom, validUntil] window.
	ErrExpired = errors.New("coupon is not valid at this time")
	// ErrUsageLimitReached is returned when the global usage cap is exhausted.
	ErrUsageLimitReached = errors.New("coupon usage limit reached")
	// ErrUserLimitReached is returned when the per-user usage cap is exhausted.
	ErrUserLimitReached = errors.New("coupon usage limit reached for this user")
	// ErrNotApplicable is returned when the applicability sets are non-empty
	// and no cart line intersects them.
	ErrNotApplicable = errors.New("coupon does not apply to any item in the cart")
	// ErrExcluded is returned when any cart line intersects the exclusion
	// sets, even if other lines would qualify.
	ErrExcluded = errors.New("coupon cannot be used with an item in the cart")
)

// MinOrderError reports a subtotal below the coupon's minimum order amount.
type MinOrderError struct {
	Minimum  decimal.Decimal
	Subtotal decimal.Decimal
}

func (e *MinOrderError) Error() string {
	return fmt.Sprintf("order subtotal %s is below the coupon minimum %s",
		e.Subtotal.StringFixed(2), e.Minimum.StringFixed(2))
}

// Coupon defines a discount code's behaviour and eligibility constraints.
// Nil pointer fields and zero caps mean "not set".
type Coupon struct {
	ID                    string
	Code                  string
	Kind                  Kind
	Value                 decimal.Decimal
	MinOrderAmount        *decimal.Decimal
	MaxDiscount           *decimal.Decimal
	UsageLimitGlobal      int
	UsageLimitPerUser     int
	UsageCount            int
	ValidFrom             time.Time
	ValidUntil            time.Time
	ApplicableProductIDs  []string
	ApplicableCategoryIDs []string
	ExcludedProductIDs    []string
	ExcludedCategoryIDs   []string
	Stackable             bool
	Active                bool
}

// Item represents a cart line for applicability and discount purposes.
type Item struct {
	ProductID   string
	CategoryIDs []string
	Price       decimal.Decimal
	Quantity    int
}

// Repository provides coupon lookup and usage tracking.
//
// The cap check in the engine reads current usage and the increment in
// RecordUsage happens later, after the order is durably created. The pair is
// not atomic: under heavy concurrent use of a near-exhausted coupon a slight
// overshoot past the limit is possible. This is a documented bound, not a
// bug to hide.
type Repository interface {
	// FindByCode looks up a coupon by its case-normalized code.
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	// CountUserUsage returns how many orders of this user have redeemed the
	// coupon, per the append-only usage records.
	CountUserUsage(ctx context.Context, couponID, userID string) (int, error)
	// RecordUsage increments the global counter and appends a usage record
	// keyed by (couponID, orderID).
	RecordUsage(ctx context.Context, couponID, orderID, userID string) error
}
