package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/soukly/souk-commerce/internal/domain/order"
)

const (
	nextOrderNumberSQL = `SELECT nextval('order_number_seq')`

	createOrderSQL = `INSERT INTO orders (id, order_number, user_id, status, payment_status,
		payment_method, subtotal, tax_amount, shipping_amount, discount_amount,
		total_amount, coupon_code, shipping_address, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	createOrderItemSQL = `INSERT INTO order_items (id, order_id, product_id, variant_key,
		quantity, unit_price, line_total, product_snapshot)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	getOrderByIDSQL = `SELECT id, order_number, user_id, status, payment_status,
		payment_method, subtotal, tax_amount, shipping_amount, discount_amount,
		total_amount, coupon_code, shipping_address, notes, created_at
		FROM orders WHERE id = $1`

	getOrderItemsSQL = `SELECT id, order_id, product_id, variant_key,
		quantity, unit_price, line_total, product_snapshot
		FROM order_items WHERE order_id = $1 ORDER BY id`

	setOrderStatusSQL = `UPDATE orders SET status = $2, updated_at = now()
		WHERE id = $1`

	setOrderPaymentStatusSQL = `UPDATE orders SET payment_status = $2, updated_at = now()
		WHERE id = $1`
)

// ErrOrderNotFound is returned when a referenced order does not exist.
var ErrOrderNotFound = errors.New("order not found")

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// NextOrderNumber derives a unique SO-YYYYMMDD-NNNNNN order number from the
// shared sequence.
func (r *OrderRepository) NextOrderNumber(ctx context.Context) (string, error) {
	var seq int64
	if err := r.pool.QueryRow(ctx, nextOrderNumberSQL).Scan(&seq); err != nil {
		return "", fmt.Errorf("next order number: %w", err)
	}
	return fmt.Sprintf("SO-%s-%06d", time.Now().UTC().Format("20060102"), seq), nil
}

// Create persists the order and its items in one transaction.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order, items []order.Item) error {
	addressJSON, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return fmt.Errorf("marshaling shipping address: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, createOrderSQL,
		o.ID, o.OrderNumber, o.UserID, o.Status, o.PaymentStatus,
		o.PaymentMethod, o.Subtotal, o.TaxAmount, o.ShippingAmount, o.DiscountAmount,
		o.TotalAmount, o.CouponCode, addressJSON, o.Notes,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}

	for _, item := range items {
		snapshotJSON, err := json.Marshal(item.Snapshot)
		if err != nil {
			return fmt.Errorf("marshaling snapshot for item %q: %w", item.ID, err)
		}
		_, err = tx.Exec(ctx, createOrderItemSQL,
			item.ID, o.ID, item.ProductID, item.VariantKey,
			item.Quantity, item.UnitPrice, item.LineTotal, snapshotJSON,
		)
		if err != nil {
			return fmt.Errorf("creating item for order %q: %w", o.ID, err)
		}
	}

	return tx.Commit(ctx)
}

// GetByID returns a single order by its identifier.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return &o, nil
}

// GetItems returns the order's items with their frozen catalog snapshots.
func (r *OrderRepository) GetItems(ctx context.Context, orderID string) ([]order.Item, error) {
	rows, err := r.pool.Query(ctx, getOrderItemsSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("getting items of order %q: %w", orderID, err)
	}
	return pgx.CollectRows(rows, scanOrderItem)
}

// SetStatus updates the fulfilment status of an order.
func (r *OrderRepository) SetStatus(ctx context.Context, orderID string, status order.Status) error {
	tag, err := r.pool.Exec(ctx, setOrderStatusSQL, orderID, status)
	if err != nil {
		return fmt.Errorf("setting status of order %q: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// SetPaymentStatus updates the settlement status of an order.
func (r *OrderRepository) SetPaymentStatus(ctx context.Context, orderID string, status order.PaymentStatus) error {
	tag, err := r.pool.Exec(ctx, setOrderPaymentStatusSQL, orderID, status)
	if err != nil {
		return fmt.Errorf("setting payment status of order %q: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o           order.Order
		addressJSON []byte
	)
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.UserID, &o.Status, &o.PaymentStatus,
		&o.PaymentMethod, &o.Subtotal, &o.TaxAmount, &o.ShippingAmount, &o.DiscountAmount,
		&o.TotalAmount, &o.CouponCode, &addressJSON, &o.Notes, &o.CreatedAt,
	)
	if err != nil {
		return o, err
	}
	if err := json.Unmarshal(addressJSON, &o.ShippingAddress); err != nil {
		return o, fmt.Errorf("unmarshaling shipping address: %w", err)
	}
	return o, nil
}

func scanOrderItem(row pgx.CollectableRow) (order.Item, error) {
	var (
		item         order.Item
		snapshotJSON []byte
	)
	err := row.Scan(
		&item.ID, &item.OrderID, &item.ProductID, &item.VariantKey,
		&item.Quantity, &item.UnitPrice, &item.LineTotal, &snapshotJSON,
	)
	if err != nil {
		return item, err
	}
	if err := json.Unmarshal(snapshotJSON, &item.Snapshot); err != nil {
		return item, fmt.Errorf("unmarshaling product snapshot: %w", err)
	}
	return item, nil
}
