package payment

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/soukly/souk-commerce/internal/domain/order"
)

// Status is the payment state machine: pending → processing →
// {completed | failed | cancelled}, and completed → refunded. Terminal
// states never regress.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
)

var (
	// ErrNotFound is returned when a referenced payment does not exist.
	ErrNotFound = errors.New("payment not found")
	// ErrDuplicate is returned when an order already has an active
	// (pending, processing or completed) payment.
	ErrDuplicate = errors.New("order already has an active payment")
	// ErrSignatureMismatch indicates a callback failed HMAC verification.
	// It is logged and dropped; no detail ever reaches the caller.
	ErrSignatureMismatch = errors.New("callback signature mismatch")
	// ErrMethodMismatch is returned when an online payment is initiated for
	// an order whose checkout chose a different settlement method.
	ErrMethodMismatch = errors.New("order settles by a different payment method")
)

// Payment is one settlement attempt for an order. Cash-on-delivery orders
// never get a Payment row.
type Payment struct {
	ID              string
	OrderID         string
	UserID          string
	Amount          decimal.Decimal
	Currency        string
	Method          string
	Provider        string
	Status          Status
	ProviderOrderID string
	ProviderTxnID   string
	MaskedPAN       string
	FailureReason   string
	IdempotencyKey  string
	CreatedAt       time.Time
}

// Repository defines persistence for payments. Terminal transitions are
// guarded: they only apply while the payment is still pending or processing
// and report whether this call won the transition. That guard is what makes
// duplicate webhook delivery side-effect-free.
type Repository interface {
	Create(ctx context.Context, p *Payment) error
	GetByID(ctx context.Context, id string) (*Payment, error)
	GetByProviderOrderID(ctx context.Context, providerOrderID string) (*Payment, error)
	// SetProviderOrder records the provider correlation id and moves the
	// payment to processing.
	SetProviderOrder(ctx context.Context, id, providerOrderID string) error
	CompleteIfActive(ctx context.Context, id, txnID, maskedPAN string, payload []byte) (bool, error)
	FailIfActive(ctx context.Context, id, reason string, payload []byte) (bool, error)
}

// Callback is a provider transaction notification after signature
// verification and parsing. The same shape arrives on the asynchronous
// webhook (authoritative) and the synchronous browser callback.
type Callback struct {
	ProviderOrderID string
	TransactionID   string
	Success         bool
	Pending         bool
	AmountCents     int64
	Currency        string
	MaskedPAN       string
	SourceSubType   string
	ErrorOccured    bool
	// Raw is the full provider payload, persisted for audit.
	Raw []byte
}

// Verifier authenticates a raw provider payload against its HMAC signature.
type Verifier interface {
	VerifyTransaction(raw []byte, signature string) bool
}

// Gateway is the payment provider adapter used to initiate wallet payments.
type Gateway interface {
	// RegisterOrder creates the provider-side order and returns its
	// correlation id.
	RegisterOrder(ctx context.Context, merchantOrderID string, amount decimal.Decimal, currency string) (string, error)
	// WalletRedirect requests a payment key scoped to the exact amount and
	// submits the wallet payment, returning the customer-facing redirect URL.
	WalletRedirect(ctx context.Context, providerOrderID string, amount decimal.Decimal, currency, phone string) (string, error)
}

// OrderStore is the slice of order persistence the payment service needs.
// *postgres.OrderRepository satisfies it.
type OrderStore interface {
	GetByID(ctx context.Context, id string) (*order.Order, error)
	GetItems(ctx context.Context, orderID string) ([]order.Item, error)
	SetPaymentStatus(ctx context.Context, orderID string, status order.PaymentStatus) error
}
