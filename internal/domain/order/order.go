package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/soukly/souk-commerce/internal/domain/product"
)

// Status is the order fulfilment state. Transitions are monotonic; a
// terminal state is never regressed.
type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
)

// PaymentStatus tracks settlement separately from fulfilment.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

// PaymentMethod is a closed tagged union over the supported settlement
// paths. Adding a method is a compile-time-checked change: every type switch
// over PaymentMethod must handle the new variant.
type PaymentMethod interface {
	isPaymentMethod()
	// Name is the wire/storage identifier of the method.
	Name() string
}

// CashOnDelivery settles at the door: stock is committed immediately at
// checkout and no payment record is created.
type CashOnDelivery struct{}

func (CashOnDelivery) isPaymentMethod() {}

// Name implements PaymentMethod.
func (CashOnDelivery) Name() string { return "cash_on_delivery" }

// Wallet is a prepaid mobile-wallet settlement: checkout leaves the order
// awaiting payment and stock is committed only when the reconciler confirms
// the transaction.
type Wallet struct {
	// Phone is the customer's wallet MSISDN used for the redirect.
	Phone string
}

func (Wallet) isPaymentMethod() {}

// Name implements PaymentMethod.
func (Wallet) Name() string { return "wallet" }

// Address is the shipping destination captured on the order.
type Address struct {
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	Region     string `json:"region,omitempty"`
	Country    string `json:"country"`
	PostalCode string `json:"postalCode,omitempty"`
}

// Order is a persisted customer order.
type Order struct {
	ID              string
	OrderNumber     string
	UserID          string
	Status          Status
	PaymentStatus   PaymentStatus
	PaymentMethod   string
	Subtotal        decimal.Decimal
	TaxAmount       decimal.Decimal
	ShippingAmount  decimal.Decimal
	DiscountAmount  decimal.Decimal
	TotalAmount     decimal.Decimal
	CouponCode      string
	ShippingAddress Address
	Notes           string
	CreatedAt       time.Time
}

// Item is a persisted order line. Snapshot freezes the catalog view at order
// time so later edits cannot rewrite history.
type Item struct {
	ID         string
	OrderID    string
	ProductID  string
	VariantKey string
	Quantity   int
	UnitPrice  decimal.Decimal
	LineTotal  decimal.Decimal
	Snapshot   product.Snapshot
}

// Repository defines persistence operations for orders.
type Repository interface {
	// NextOrderNumber derives a unique date+sequence order number.
	NextOrderNumber(ctx context.Context) (string, error)
	// Create persists the order and its items together.
	Create(ctx context.Context, o *Order, items []Item) error
	GetByID(ctx context.Context, id string) (*Order, error)
	GetItems(ctx context.Context, orderID string) ([]Item, error)
	SetStatus(ctx context.Context, orderID string, status Status) error
	SetPaymentStatus(ctx context.Context, orderID string, status PaymentStatus) error
}
