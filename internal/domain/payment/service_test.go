package payment

import (
	"context"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soukly/souk-commerce/internal/domain/order"
	"github.com/soukly/souk-commerce/internal/domain/stock"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

// --- fakes ---

type fakePaymentRepo struct {
	mu         sync.Mutex
	byID       map[string]*Payment
	byProvider map[string]string // provider order id -> payment id
}

func newFakePaymentRepo() *fakePaymentRepo {
	return &fakePaymentRepo{
		byID:       map[string]*Payment{},
		byProvider: map[string]string{},
	}
}

func (f *fakePaymentRepo) Create(_ context.Context, p *Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.byID {
		if existing.OrderID == p.OrderID &&
			(existing.Status == StatusPending || existing.Status == StatusProcessing || existing.Status == StatusCompleted) {
			return ErrDuplicate
		}
	}
	cp := *p
	f.byID[p.ID] = &cp
	return nil
}

func (f *fakePaymentRepo) GetByID(_ context.Context, id string) (*Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakePaymentRepo) GetByProviderOrderID(_ context.Context, providerOrderID string) (*Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byProvider[providerOrderID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *f.byID[id]
	return &cp, nil
}

func (f *fakePaymentRepo) SetProviderOrder(_ context.Context, id, providerOrderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.byID[id]
	p.ProviderOrderID = providerOrderID
	p.Status = StatusProcessing
	f.byProvider[providerOrderID] = id
	return nil
}

func (f *fakePaymentRepo) CompleteIfActive(_ context.Context, id, txnID, maskedPAN string, _ []byte) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID[id]
	if !ok || (p.Status != StatusPending && p.Status != StatusProcessing) {
		return false, nil
	}
	p.Status = StatusCompleted
	p.ProviderTxnID = txnID
	p.MaskedPAN = maskedPAN
	return true, nil
}

func (f *fakePaymentRepo) FailIfActive(_ context.Context, id, reason string, _ []byte) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID[id]
	if !ok || (p.Status != StatusPending && p.Status != StatusProcessing) {
		return false, nil
	}
	p.Status = StatusFailed
	p.FailureReason = reason
	return true, nil
}

type fakeOrderStore struct {
	orders map[string]*order.Order
	items  map[string][]order.Item
}

func (f *fakeOrderStore) GetByID(_ context.Context, id string) (*order.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakeOrderStore) GetItems(_ context.Context, orderID string) ([]order.Item, error) {
	return f.items[orderID], nil
}

func (f *fakeOrderStore) SetPaymentStatus(_ context.Context, orderID string, status order.PaymentStatus) error {
	f.orders[orderID].PaymentStatus = status
	return nil
}

type fakeStockRepo struct {
	mu     sync.Mutex
	counts map[stock.Key]int
}

func (f *fakeStockRepo) AdjustStock(_ context.Context, productID, variantKey string, delta int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[stock.Key{ProductID: productID, VariantKey: variantKey}] += delta
	return nil
}

func (f *fakeStockRepo) ReduceConditional(_ context.Context, productID, variantKey string, qty int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := stock.Key{ProductID: productID, VariantKey: variantKey}
	if f.counts[k] < qty {
		return false, nil
	}
	f.counts[k] -= qty
	return true, nil
}

func (f *fakeStockRepo) StockLevels(_ context.Context, keys []stock.Key) (map[stock.Key]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[stock.Key]int{}
	for _, k := range keys {
		if c, ok := f.counts[k]; ok {
			out[k] = c
		}
	}
	return out, nil
}

type fakeGateway struct {
	registered  int
	redirects   int
	registerErr error
	redirectErr error
}

func (f *fakeGateway) RegisterOrder(_ context.Context, _ string, _ decimal.Decimal, _ string) (string, error) {
	f.registered++
	if f.registerErr != nil {
		return "", f.registerErr
	}
	return "9001", nil
}

func (f *fakeGateway) WalletRedirect(_ context.Context, _ string, _ decimal.Decimal, _, _ string) (string, error) {
	f.redirects++
	if f.redirectErr != nil {
		return "", f.redirectErr
	}
	return "https://provider.example/redirect/abc", nil
}

// fakeVerifier accepts a single known signature.
type fakeVerifier struct{ valid string }

func (f *fakeVerifier) VerifyTransaction(_ []byte, signature string) bool {
	return signature == f.valid
}

// --- fixtures ---

type fixture struct {
	svc      *Service
	payments *fakePaymentRepo
	orders   *fakeOrderStore
	stock    *fakeStockRepo
	gateway  *fakeGateway
}

func newFixture() *fixture {
	payments := newFakePaymentRepo()
	orders := &fakeOrderStore{
		orders: map[string]*order.Order{
			"o1": {
				ID:            "o1",
				UserID:        "u1",
				Status:        order.StatusPending,
				PaymentStatus: order.PaymentPending,
				PaymentMethod: "wallet",
				TotalAmount:   d("150.00"),
			},
		},
		items: map[string][]order.Item{
			"o1": {{OrderID: "o1", ProductID: "tee", VariantKey: "s", Quantity: 2}},
		},
	}
	stockRepo := &fakeStockRepo{counts: map[stock.Key]int{
		{ProductID: "tee", VariantKey: "s"}: 5,
	}}
	gw := &fakeGateway{}

	svc := NewService(
		payments,
		orders,
		stock.NewLedger(stockRepo),
		gw,
		&fakeVerifier{valid: "good-sig"},
		"paymob",
		"EGP",
	)
	return &fixture{svc: svc, payments: payments, orders: orders, stock: stockRepo, gateway: gw}
}

func (fx *fixture) initiate(t *testing.T) *Payment {
	t.Helper()
	res, err := fx.svc.Initiate(context.Background(), InitiateRequest{
		OrderID: "o1",
		UserID:  "u1",
		Method:  order.Wallet{Phone: "01010101010"},
	})
	require.NoError(t, err)
	return res.Payment
}

func callback(success bool) Callback {
	return Callback{
		ProviderOrderID: "9001",
		TransactionID:   "7184102",
		Success:         success,
		MaskedPAN:       "01010101010",
		Raw:             []byte(`{"success": true}`),
	}
}

// --- tests ---

func TestInitiateWalletPayment(t *testing.T) {
	fx := newFixture()

	res, err := fx.svc.Initiate(context.Background(), InitiateRequest{
		OrderID: "o1",
		UserID:  "u1",
		Method:  order.Wallet{Phone: "01010101010"},
	})
	require.NoError(t, err)

	assert.Equal(t, "https://provider.example/redirect/abc", res.RedirectURL)
	assert.Equal(t, StatusProcessing, res.Payment.Status)
	assert.Equal(t, "9001", res.Payment.ProviderOrderID)
	assert.True(t, res.Payment.Amount.Equal(d("150.00")), "amount comes from the order, not the client")
	assert.NotEmpty(t, res.Payment.IdempotencyKey)
	assert.Equal(t, 1, fx.gateway.registered)
	assert.Equal(t, 1, fx.gateway.redirects)
}

func TestInitiateRejectsSecondActivePayment(t *testing.T) {
	fx := newFixture()
	fx.initiate(t)

	_, err := fx.svc.Initiate(context.Background(), InitiateRequest{
		OrderID: "o1",
		UserID:  "u1",
		Method:  order.Wallet{Phone: "01010101010"},
	})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestInitiateRejectsCashOnDelivery(t *testing.T) {
	fx := newFixture()

	_, err := fx.svc.Initiate(context.Background(), InitiateRequest{
		OrderID: "o1",
		UserID:  "u1",
		Method:  order.CashOnDelivery{},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not use online payment")
}

// A successful webhook completes the payment, reduces stock exactly once,
// and flips the order to paid.
func TestHandleCallbackSuccess(t *testing.T) {
	fx := newFixture()
	fx.initiate(t)

	outcome, err := fx.svc.HandleCallback(context.Background(), callback(true), "good-sig")
	require.NoError(t, err)

	require.NotNil(t, outcome)
	assert.True(t, outcome.Applied)
	assert.Equal(t, StatusCompleted, outcome.Payment.Status)
	assert.Equal(t, "7184102", outcome.Payment.ProviderTxnID)

	assert.Equal(t, order.PaymentPaid, fx.orders.orders["o1"].PaymentStatus)
	assert.Equal(t, 3, fx.stock.counts[stock.Key{ProductID: "tee", VariantKey: "s"}],
		"deferred reduction committed at confirmation")
}

// Replaying the same webhook must not double-decrement stock or re-mark the
// order: the guarded transition arbitrates duplicates.
func TestHandleCallbackReplayIsIdempotent(t *testing.T) {
	fx := newFixture()
	fx.initiate(t)

	first, err := fx.svc.HandleCallback(context.Background(), callback(true), "good-sig")
	require.NoError(t, err)
	require.True(t, first.Applied)

	second, err := fx.svc.HandleCallback(context.Background(), callback(true), "good-sig")
	require.NoError(t, err)
	assert.False(t, second.Applied, "duplicate acknowledged without side effects")

	assert.Equal(t, 3, fx.stock.counts[stock.Key{ProductID: "tee", VariantKey: "s"}],
		"stock reduced exactly once")
}

func TestHandleCallbackFailure(t *testing.T) {
	fx := newFixture()
	fx.initiate(t)

	outcome, err := fx.svc.HandleCallback(context.Background(), callback(false), "good-sig")
	require.NoError(t, err)

	assert.True(t, outcome.Applied)
	assert.False(t, outcome.Success)
	assert.Equal(t, StatusFailed, outcome.Payment.Status)
	assert.NotEmpty(t, outcome.Payment.FailureReason)

	// Order stays awaiting payment and stock is untouched.
	assert.Equal(t, order.PaymentPending, fx.orders.orders["o1"].PaymentStatus)
	assert.Equal(t, 5, fx.stock.counts[stock.Key{ProductID: "tee", VariantKey: "s"}])
}

func TestHandleCallbackBadSignature(t *testing.T) {
	fx := newFixture()
	p := fx.initiate(t)

	_, err := fx.svc.HandleCallback(context.Background(), callback(true), "forged")
	assert.ErrorIs(t, err, ErrSignatureMismatch)

	// No state change of any kind.
	stored, err := fx.payments.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, stored.Status)
	assert.Equal(t, 5, fx.stock.counts[stock.Key{ProductID: "tee", VariantKey: "s"}])
}

func TestHandleCallbackUnknownPaymentIsDropped(t *testing.T) {
	fx := newFixture()

	cb := callback(true)
	cb.ProviderOrderID = "unknown-order"
	outcome, err := fx.svc.HandleCallback(context.Background(), cb, "good-sig")

	require.NoError(t, err, "provider retries must be acknowledged")
	assert.Nil(t, outcome)
}

func TestInitiateRejectsMethodMismatch(t *testing.T) {
	fx := newFixture()
	fx.orders.orders["o1"].PaymentMethod = "cash_on_delivery"

	_, err := fx.svc.Initiate(context.Background(), InitiateRequest{
		OrderID: "o1",
		UserID:  "u1",
		Method:  order.Wallet{Phone: "01010101010"},
	})
	assert.ErrorIs(t, err, ErrMethodMismatch)
}

// A provider failure during initiation must not strand an active payment row:
// the attempt is moved to failed so the order can retry.
func TestRetryAfterRegisterOrderFailure(t *testing.T) {
	fx := newFixture()
	fx.gateway.registerErr = errors.New("provider down")

	_, err := fx.svc.Initiate(context.Background(), InitiateRequest{
		OrderID: "o1",
		UserID:  "u1",
		Method:  order.Wallet{Phone: "01010101010"},
	})
	require.Error(t, err)

	fx.gateway.registerErr = nil
	res, err := fx.svc.Initiate(context.Background(), InitiateRequest{
		OrderID: "o1",
		UserID:  "u1",
		Method:  order.Wallet{Phone: "01010101010"},
	})
	require.NoError(t, err, "a provider hiccup must not block the order forever")
	assert.Equal(t, StatusProcessing, res.Payment.Status)
}

func TestRetryAfterWalletRedirectFailure(t *testing.T) {
	fx := newFixture()
	fx.gateway.redirectErr = errors.New("wallet pay rejected")

	_, err := fx.svc.Initiate(context.Background(), InitiateRequest{
		OrderID: "o1",
		UserID:  "u1",
		Method:  order.Wallet{Phone: "01010101010"},
	})
	require.Error(t, err)

	fx.gateway.redirectErr = nil
	_, err = fx.svc.Initiate(context.Background(), InitiateRequest{
		OrderID: "o1",
		UserID:  "u1",
		Method:  order.Wallet{Phone: "01010101010"},
	})
	assert.NoError(t, err)
}

// A failed payment does not block a retry: after the terminal failure a new
// payment can be created for the same order.
func TestRetryAfterFailure(t *testing.T) {
	fx := newFixture()
	fx.initiate(t)

	_, err := fx.svc.HandleCallback(context.Background(), callback(false), "good-sig")
	require.NoError(t, err)

	_, err = fx.svc.Initiate(context.Background(), InitiateRequest{
		OrderID: "o1",
		UserID:  "u1",
		Method:  order.Wallet{Phone: "01010101010"},
	})
	assert.NoError(t, err)
}
