package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/soukly/souk-commerce/internal/domain/payment"
)

const (
	createPaymentSQL = `INSERT INTO payments (id, order_id, user_id, amount, currency,
		method, provider, status, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	getPaymentByIDSQL = `SELECT id, order_id, user_id, amount, currency, method, provider,
		status, provider_order_id, provider_txn_id, masked_pan, failure_reason,
		idempotency_key, created_at
		FROM payments WHERE id = $1`

	getPaymentByProviderOrderSQL = `SELECT id, order_id, user_id, amount, currency, method, provider,
		status, provider_order_id, provider_txn_id, masked_pan, failure_reason,
		idempotency_key, created_at
		FROM payments WHERE provider_order_id = $1`

	setProviderOrderSQL = `UPDATE payments
		SET provider_order_id = $2, status = 'processing', updated_at = now()
		WHERE id = $1`

	// The status guard arbitrates duplicate deliveries: only the first
	// terminal transition matches a row, replays affect zero rows.
	completePaymentSQL = `UPDATE payments
		SET status = 'completed', provider_txn_id = $2, masked_pan = $3,
			webhook_payload = $4, updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'processing')`

	failPaymentSQL = `UPDATE payments
		SET status = 'failed', failure_reason = $2, webhook_payload = $3, updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'processing')`
)

var _ payment.Repository = (*PaymentRepository)(nil)

// PaymentRepository implements payment.Repository backed by PostgreSQL.
type PaymentRepository struct {
	pool *pgxpool.Pool
}

// NewPaymentRepository returns a PaymentRepository that uses the given pool.
func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

// Create persists a new payment attempt. The partial unique index on active
// payments per order surfaces here as payment.ErrDuplicate.
func (r *PaymentRepository) Create(ctx context.Context, p *payment.Payment) error {
	_, err := r.pool.Exec(ctx, createPaymentSQL,
		p.ID, p.OrderID, p.UserID, p.Amount, p.Currency,
		p.Method, p.Provider, p.Status, p.IdempotencyKey,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return payment.ErrDuplicate
		}
		return fmt.Errorf("creating payment %q: %w", p.ID, err)
	}
	return nil
}

// GetByID returns a single payment by its identifier.
func (r *PaymentRepository) GetByID(ctx context.Context, id string) (*payment.Payment, error) {
	return r.getOne(ctx, getPaymentByIDSQL, id)
}

// GetByProviderOrderID returns the payment correlated to a provider order.
func (r *PaymentRepository) GetByProviderOrderID(ctx context.Context, providerOrderID string) (*payment.Payment, error) {
	return r.getOne(ctx, getPaymentByProviderOrderSQL, providerOrderID)
}

func (r *PaymentRepository) getOne(ctx context.Context, query, arg string) (*payment.Payment, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("getting payment %q: %w", arg, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanPayment)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrNotFound
		}
		return nil, fmt.Errorf("getting payment %q: %w", arg, err)
	}
	return &p, nil
}

// SetProviderOrder records the provider correlation id and moves the payment
// to processing.
func (r *PaymentRepository) SetProviderOrder(ctx context.Context, id, providerOrderID string) error {
	tag, err := r.pool.Exec(ctx, setProviderOrderSQL, id, providerOrderID)
	if err != nil {
		return fmt.Errorf("setting provider order for payment %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return payment.ErrNotFound
	}
	return nil
}

// CompleteIfActive moves the payment to completed if it is still active and
// reports whether this call won the transition.
func (r *PaymentRepository) CompleteIfActive(ctx context.Context, id, txnID, maskedPAN string, payload []byte) (bool, error) {
	tag, err := r.pool.Exec(ctx, completePaymentSQL, id, txnID, maskedPAN, payload)
	if err != nil {
		return false, fmt.Errorf("completing payment %q: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// FailIfActive moves the payment to failed if it is still active and reports
// whether this call won the transition.
func (r *PaymentRepository) FailIfActive(ctx context.Context, id, reason string, payload []byte) (bool, error) {
	tag, err := r.pool.Exec(ctx, failPaymentSQL, id, reason, payload)
	if err != nil {
		return false, fmt.Errorf("failing payment %q: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanPayment(row pgx.CollectableRow) (payment.Payment, error) {
	var p payment.Payment
	err := row.Scan(
		&p.ID, &p.OrderID, &p.UserID, &p.Amount, &p.Currency, &p.Method, &p.Provider,
		&p.Status, &p.ProviderOrderID, &p.ProviderTxnID, &p.MaskedPAN, &p.FailureReason,
		&p.IdempotencyKey, &p.CreatedAt,
	)
	return p, err
}
