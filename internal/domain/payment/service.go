package payment

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/soukly/souk-commerce/internal/domain/order"
	"github.com/soukly/souk-commerce/internal/domain/stock"
)

// InitiateRequest starts a prepaid payment for an existing order.
type InitiateRequest struct {
	OrderID string
	UserID  string
	Method  order.PaymentMethod
}

// InitiateResult carries the created payment and, for wallet payments, the
// customer-facing redirect URL.
type InitiateResult struct {
	Payment     *Payment
	RedirectURL string
}

// Service creates payments against the gateway and reconciles provider
// callbacks into payment/order state.
type Service struct {
	payments Repository
	orders   OrderStore
	ledger   *stock.Ledger
	gateway  Gateway
	verifier Verifier
	provider string
	currency string
}

// NewService wires a payment Service.
func NewService(
	payments Repository,
	orders OrderStore,
	ledger *stock.Ledger,
	gateway Gateway,
	verifier Verifier,
	provider, currency string,
) *Service {
	return &Service{
		payments: payments,
		orders:   orders,
		ledger:   ledger,
		gateway:  gateway,
		verifier: verifier,
		provider: provider,
		currency: currency,
	}
}

// Initiate creates the payment row, registers the provider-side order, and
// for wallet payments obtains the redirect URL. The payment amount is always
// the order's authoritative total; client-submitted amounts are ignored.
func (s *Service) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	o, err := s.orders.GetByID(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if o.PaymentStatus == order.PaymentPaid {
		return nil, errors.Wrap(ErrDuplicate, "order already paid")
	}

	wallet, ok := req.Method.(order.Wallet)
	if !ok {
		return nil, errors.Errorf("payment method %q does not use online payment", req.Method.Name())
	}
	if o.PaymentMethod != req.Method.Name() {
		return nil, errors.Wrapf(ErrMethodMismatch, "order settles by %q", o.PaymentMethod)
	}

	p := &Payment{
		ID:             uuid.New().String(),
		OrderID:        o.ID,
		UserID:         req.UserID,
		Amount:         o.TotalAmount,
		Currency:       s.currency,
		Method:         req.Method.Name(),
		Provider:       s.provider,
		Status:         StatusPending,
		IdempotencyKey: uuid.New().String(),
	}
	if err := s.payments.Create(ctx, p); err != nil {
		return nil, err
	}

	providerOrderID, err := s.gateway.RegisterOrder(ctx, p.ID, p.Amount, p.Currency)
	if err != nil {
		s.abandon(ctx, p, "provider order registration failed")
		return nil, fmt.Errorf("register provider order: %w", err)
	}
	if err := s.payments.SetProviderOrder(ctx, p.ID, providerOrderID); err != nil {
		s.abandon(ctx, p, "recording provider order failed")
		return nil, errors.Wrap(err, "record provider order")
	}
	p.ProviderOrderID = providerOrderID
	p.Status = StatusProcessing

	redirectURL, err := s.gateway.WalletRedirect(ctx, providerOrderID, p.Amount, p.Currency, wallet.Phone)
	if err != nil {
		s.abandon(ctx, p, "wallet initiation failed")
		return nil, fmt.Errorf("initiate wallet payment: %w", err)
	}

	return &InitiateResult{Payment: p, RedirectURL: redirectURL}, nil
}

// abandon moves a stranded attempt to a terminal state after a provider
// failure. The active-payment unique index counts pending and processing
// rows, so a row left behind would answer every retry for the order with
// ErrDuplicate. Best effort: a failed abandon is logged, the payment can
// still settle through a late provider callback.
func (s *Service) abandon(ctx context.Context, p *Payment, reason string) {
	won, err := s.payments.FailIfActive(ctx, p.ID, reason, nil)
	if err != nil {
		zctx.From(ctx).Error("abandoning stranded payment failed",
			zap.String("payment_id", p.ID),
			zap.String("order_id", p.OrderID),
			zap.Error(err))
		return
	}
	if won {
		p.Status = StatusFailed
		p.FailureReason = reason
	}
}

// Outcome reports what a callback did. Applied is false for duplicates and
// already-terminal payments: those are acknowledged without state change.
type Outcome struct {
	Payment *Payment
	Applied bool
	Success bool
}

// HandleCallback drives the payment state machine from a provider
// transaction callback. The same logic serves the authoritative asynchronous
// webhook and the synchronous browser redirect; delivery may happen in any
// order and any number of times.
//
// Signature mismatch returns ErrSignatureMismatch with no state change.
// An unknown provider order id is logged and dropped (nil outcome): the
// provider retries webhooks, and receiving one twice must stay safe.
func (s *Service) HandleCallback(ctx context.Context, cb Callback, signature string) (*Outcome, error) {
	lg := zctx.From(ctx)

	if !s.verifier.VerifyTransaction(cb.Raw, signature) {
		lg.Warn("dropping callback with bad signature",
			zap.String("provider_order_id", cb.ProviderOrderID))
		return nil, ErrSignatureMismatch
	}

	p, err := s.payments.GetByProviderOrderID(ctx, cb.ProviderOrderID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			lg.Warn("dropping callback for unknown payment",
				zap.String("provider_order_id", cb.ProviderOrderID))
			return nil, nil
		}
		return nil, errors.Wrap(err, "lookup payment")
	}

	if !cb.Success {
		return s.fail(ctx, p, cb)
	}
	return s.complete(ctx, p, cb)
}

func (s *Service) complete(ctx context.Context, p *Payment, cb Callback) (*Outcome, error) {
	won, err := s.payments.CompleteIfActive(ctx, p.ID, cb.TransactionID, cb.MaskedPAN, cb.Raw)
	if err != nil {
		return nil, errors.Wrap(err, "complete payment")
	}
	if !won {
		// Duplicate delivery or an already-terminal payment. Acknowledge
		// without touching stock or the order again.
		return &Outcome{Payment: p, Applied: false, Success: true}, nil
	}
	p.Status = StatusCompleted
	p.ProviderTxnID = cb.TransactionID
	p.MaskedPAN = cb.MaskedPAN

	// Deferred stock commitment for the prepaid path. The conditional
	// reduce arbitrates any race left open by the advisory checkout check.
	items, err := s.orders.GetItems(ctx, p.OrderID)
	if err != nil {
		return nil, errors.Wrap(err, "load order items")
	}
	if err := s.ledger.ReduceForOrder(ctx, toStockItems(items)); err != nil {
		// Paid but not stocked: surface loudly, order needs intervention.
		zctx.From(ctx).Error("stock reduction failed after payment",
			zap.String("order_id", p.OrderID),
			zap.Error(err))
		return nil, fmt.Errorf("reduce stock for paid order %s: %w", p.OrderID, err)
	}

	if err := s.orders.SetPaymentStatus(ctx, p.OrderID, order.PaymentPaid); err != nil {
		return nil, errors.Wrap(err, "mark order paid")
	}
	return &Outcome{Payment: p, Applied: true, Success: true}, nil
}

func (s *Service) fail(ctx context.Context, p *Payment, cb Callback) (*Outcome, error) {
	reason := "declined by provider"
	if cb.ErrorOccured {
		reason = "provider reported an error"
	}
	won, err := s.payments.FailIfActive(ctx, p.ID, reason, cb.Raw)
	if err != nil {
		return nil, errors.Wrap(err, "fail payment")
	}
	if !won {
		return &Outcome{Payment: p, Applied: false, Success: false}, nil
	}
	p.Status = StatusFailed
	p.FailureReason = reason

	// The order stays awaiting payment; cart retry or manual intervention
	// resolves it.
	return &Outcome{Payment: p, Applied: true, Success: false}, nil
}

func toStockItems(items []order.Item) []stock.Item {
	out := make([]stock.Item, len(items))
	for i, item := range items {
		out[i] = stock.Item{
			ProductID:  item.ProductID,
			VariantKey: item.VariantKey,
			Quantity:   item.Quantity,
		}
	}
	return out
}
