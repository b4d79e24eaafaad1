package order

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/soukly/souk-commerce/internal/domain/cart"
	"github.com/soukly/souk-commerce/internal/domain/coupon"
	"github.com/soukly/souk-commerce/internal/domain/product"
	"github.com/soukly/souk-commerce/internal/domain/stock"
)

// ErrEmptyCart is returned when a checkout is attempted with no lines.
var ErrEmptyCart = errors.New("cart is empty")

// UnavailableProductError indicates a line references a product that cannot
// be ordered: missing, inactive, or an unknown variant.
type UnavailableProductError struct {
	ProductID  string
	VariantKey string
	Reason     string
}

func (e *UnavailableProductError) Error() string {
	return fmt.Sprintf("product %s: %s", e.ProductID, e.Reason)
}

// PriceMismatchError indicates a submitted unit price no longer matches the
// authoritative variant price. Checkout is the point of no return for price,
// so unlike the advisory cart validation this is a hard failure.
type PriceMismatchError struct {
	ProductID  string
	VariantKey string
	Submitted  decimal.Decimal
	Current    decimal.Decimal
}

func (e *PriceMismatchError) Error() string {
	return fmt.Sprintf("price changed for product %s/%s: submitted %s, current %s",
		e.ProductID, e.VariantKey, e.Submitted.StringFixed(2), e.Current.StringFixed(2))
}

// CheckoutRequest holds the input for one checkout call.
type CheckoutRequest struct {
	UserID          string
	Lines           []cart.Line
	ShippingAddress Address
	Method          PaymentMethod
	CouponCode      string
	// TaxAmount and ShippingAmount are caller-supplied; no tax-rate
	// computation lives in this service.
	TaxAmount      decimal.Decimal
	ShippingAmount decimal.Decimal
	// DiscountOverride is an explicit discount used when no coupon code is
	// given (administrative orders).
	DiscountOverride decimal.Decimal
	Notes            string
}

// NextStep tells a wallet customer how to initiate the payment.
type NextStep struct {
	Endpoint string          `json:"endpoint"`
	OrderID  string          `json:"orderId"`
	Amount   decimal.Decimal `json:"amount"`
	Method   string          `json:"method"`
	Phone    string          `json:"walletPhone,omitempty"`
}

// CheckoutResult is the outcome of a completed checkout call.
type CheckoutResult struct {
	Order *Order
	Items []Item
	// PaymentRequired is true for prepaid methods; the order is awaiting
	// payment and stock has not been committed yet.
	PaymentRequired bool
	NextStep        *NextStep
}

// Service orchestrates checkout: strict cart re-validation, coupon
// application, order persistence, and the settlement branch.
type Service struct {
	products product.Repository
	ledger   *stock.Ledger
	coupons  *coupon.Engine
	orders   Repository
}

// NewService creates a checkout Service with the required dependencies.
func NewService(
	products product.Repository,
	ledger *stock.Ledger,
	coupons *coupon.Engine,
	orders Repository,
) *Service {
	return &Service{
		products: products,
		ledger:   ledger,
		coupons:  coupons,
		orders:   orders,
	}
}

// Checkout runs the state machine received → validated → priced →
// order-created → settled|awaiting-payment.
//
// Any failure before order persistence leaves nothing written. A failure
// after persistence (COD stock race, usage-record hiccup) leaves the order
// in a recoverable pending state; there is no compensating rollback here.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	if len(req.Lines) == 0 {
		return nil, ErrEmptyCart
	}

	lines, products, err := s.validateLines(ctx, req.Lines)
	if err != nil {
		return nil, err
	}

	// Advisory stock check. A pass here is not a reservation: the atomic
	// reduce at commit time is what arbitrates concurrent checkouts.
	stockItems := aggregateStockItems(lines)
	shortfalls, err := s.ledger.ValidateForCheckout(ctx, stockItems)
	if err != nil {
		return nil, err
	}
	if len(shortfalls) > 0 {
		return nil, &stock.InsufficientStockError{Shortfalls: shortfalls}
	}

	subtotal := decimal.Zero
	for _, line := range lines {
		subtotal = subtotal.Add(line.LineTotal())
	}

	discount := req.DiscountOverride
	var appliedCoupon *coupon.Coupon
	if req.CouponCode != "" {
		quote, err := s.coupons.Validate(ctx, req.CouponCode, req.UserID, couponItems(lines, products))
		if err != nil {
			return nil, fmt.Errorf("validate coupon: %w", err)
		}
		discount = quote.Discount
		appliedCoupon = quote.Coupon
	}
	if discount.GreaterThan(subtotal) {
		discount = subtotal
	}

	total := subtotal.Add(req.TaxAmount).Add(req.ShippingAmount).Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}

	number, err := s.orders.NextOrderNumber(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "next order number")
	}

	o := &Order{
		ID:              uuid.New().String(),
		OrderNumber:     number,
		UserID:          req.UserID,
		Status:          StatusPending,
		PaymentStatus:   PaymentPending,
		PaymentMethod:   req.Method.Name(),
		Subtotal:        subtotal.Round(2),
		TaxAmount:       req.TaxAmount.Round(2),
		ShippingAmount:  req.ShippingAmount.Round(2),
		DiscountAmount:  discount.Round(2),
		TotalAmount:     total.Round(2),
		CouponCode:      couponCodeOf(appliedCoupon),
		ShippingAddress: req.ShippingAddress,
		Notes:           req.Notes,
	}
	items := buildItems(o.ID, lines, products)

	if err := s.orders.Create(ctx, o, items); err != nil {
		return nil, errors.Wrap(err, "create order")
	}

	// The order exists now. Usage recording failures are logged, not
	// returned: the redemption audit can be reconciled, the order cannot be
	// un-created.
	if appliedCoupon != nil {
		if err := s.coupons.RecordUsage(ctx, appliedCoupon, o.ID, req.UserID); err != nil {
			zctx.From(ctx).Warn("record coupon usage failed",
				zap.String("order_id", o.ID),
				zap.String("coupon", appliedCoupon.Code),
				zap.Error(err))
		}
	}

	return s.settle(ctx, o, items, stockItems, req.Method)
}

// settle branches on the payment method. The type switch is exhaustive over
// the closed PaymentMethod union.
func (s *Service) settle(
	ctx context.Context,
	o *Order,
	items []Item,
	stockItems []stock.Item,
	method PaymentMethod,
) (*CheckoutResult, error) {
	switch m := method.(type) {
	case CashOnDelivery:
		// Commit stock immediately; cash changes hands at the door.
		if err := s.ledger.ReduceForOrder(ctx, stockItems); err != nil {
			// Order stays pending for manual or job-driven resolution.
			return nil, fmt.Errorf("reduce stock for order %s: %w", o.ID, err)
		}
		if err := s.orders.SetStatus(ctx, o.ID, StatusConfirmed); err != nil {
			return nil, errors.Wrap(err, "confirm order")
		}
		o.Status = StatusConfirmed
		return &CheckoutResult{Order: o, Items: items}, nil

	case Wallet:
		// Stock is deliberately NOT reduced here. Two concurrent wallet
		// checkouts may both pass the advisory check; the reduce performed
		// at payment confirmation arbitrates that race.
		return &CheckoutResult{
			Order:           o,
			Items:           items,
			PaymentRequired: true,
			NextStep: &NextStep{
				Endpoint: "/api/payments",
				OrderID:  o.ID,
				Amount:   o.TotalAmount,
				Method:   m.Name(),
				Phone:    m.Phone,
			},
		}, nil

	default:
		return nil, errors.Errorf("unsupported payment method: %T", method)
	}
}

// validateLines re-checks every line against catalog truth with one batch
// fetch. Unlike the advisory cart validator, price drift here is a hard
// failure.
func (s *Service) validateLines(ctx context.Context, lines []cart.Line) ([]cart.Line, map[string]*product.Product, error) {
	seen := make(map[string]struct{}, len(lines))
	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		if l.Quantity <= 0 {
			return nil, nil, &UnavailableProductError{
				ProductID:  l.ProductID,
				VariantKey: l.VariantKey,
				Reason:     "quantity must be greater than 0",
			}
		}
		if _, ok := seen[l.ProductID]; !ok {
			seen[l.ProductID] = struct{}{}
			ids = append(ids, l.ProductID)
		}
	}

	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, nil, errors.Wrap(err, "get products")
	}
	byID := make(map[string]*product.Product, len(fetched))
	for i := range fetched {
		byID[fetched[i].ID] = &fetched[i]
	}

	for _, line := range lines {
		p, ok := byID[line.ProductID]
		if !ok {
			return nil, nil, &UnavailableProductError{
				ProductID:  line.ProductID,
				VariantKey: line.VariantKey,
				Reason:     "not found",
			}
		}
		if !p.Active {
			return nil, nil, &UnavailableProductError{
				ProductID:  line.ProductID,
				VariantKey: line.VariantKey,
				Reason:     "not available",
			}
		}
		variant, ok := p.FindVariant(line.VariantKey)
		if !ok {
			return nil, nil, &UnavailableProductError{
				ProductID:  line.ProductID,
				VariantKey: line.VariantKey,
				Reason:     fmt.Sprintf("variant %q not found", line.VariantKey),
			}
		}
		if !line.UnitPrice.Equal(variant.Price) {
			return nil, nil, &PriceMismatchError{
				ProductID:  line.ProductID,
				VariantKey: line.VariantKey,
				Submitted:  line.UnitPrice,
				Current:    variant.Price,
			}
		}
	}

	return lines, byID, nil
}

// aggregateStockItems sums quantities per (product, variant) so duplicate
// lines are checked and reduced once against the combined amount.
func aggregateStockItems(lines []cart.Line) []stock.Item {
	index := make(map[stock.Key]int, len(lines))
	items := make([]stock.Item, 0, len(lines))
	for _, l := range lines {
		k := stock.Key{ProductID: l.ProductID, VariantKey: l.VariantKey}
		if i, ok := index[k]; ok {
			items[i].Quantity += l.Quantity
			continue
		}
		index[k] = len(items)
		items = append(items, stock.Item{
			ProductID:  l.ProductID,
			VariantKey: l.VariantKey,
			Quantity:   l.Quantity,
		})
	}
	return items
}

func couponItems(lines []cart.Line, products map[string]*product.Product) []coupon.Item {
	items := make([]coupon.Item, len(lines))
	for i, l := range lines {
		items[i] = coupon.Item{
			ProductID:   l.ProductID,
			CategoryIDs: products[l.ProductID].Categories,
			Price:       l.UnitPrice,
			Quantity:    l.Quantity,
		}
	}
	return items
}

func buildItems(orderID string, lines []cart.Line, products map[string]*product.Product) []Item {
	items := make([]Item, len(lines))
	for i, l := range lines {
		items[i] = Item{
			ID:         uuid.New().String(),
			OrderID:    orderID,
			ProductID:  l.ProductID,
			VariantKey: l.VariantKey,
			Quantity:   l.Quantity,
			UnitPrice:  l.UnitPrice,
			LineTotal:  l.LineTotal(),
			Snapshot:   products[l.ProductID].TakeSnapshot(),
		}
	}
	return items
}

func couponCodeOf(c *coupon.Coupon) string {
	if c == nil {
		return ""
	}
	return c.Code
}
