package coupon

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Discount calculates the merchandise discount for a validated coupon
// against the cart subtotal. The result is rounded to 2 decimal places and
// never exceeds the subtotal.
func Discount(c *Coupon, subtotal decimal.Decimal) (decimal.Decimal, error) {
	switch c.Kind {
	case KindPercentage:
		amount := subtotal.Mul(c.Value).Div(hundred)
		if c.MaxDiscount != nil && amount.GreaterThan(*c.MaxDiscount) {
			amount = *c.MaxDiscount
		}
		return clampToSubtotal(amount, subtotal).Round(2), nil
	case KindFixed:
		return decimal.Min(c.Value, subtotal).Round(2), nil
	case KindFreeShipping:
		// The shipping waiver is applied by the pricing caller; against the
		// merchandise subtotal this coupon is worth nothing.
		return decimal.Zero, nil
	default:
		return decimal.Zero, errors.Errorf("unsupported coupon kind: %q", c.Kind)
	}
}

func clampToSubtotal(amount, subtotal decimal.Decimal) decimal.Decimal {
	if amount.GreaterThan(subtotal) {
		return subtotal
	}
	if amount.IsNegative() {
		return decimal.Zero
	}
	return amount
}
