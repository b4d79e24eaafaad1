package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/soukly/souk-commerce/internal/domain/coupon"
)

const (
	getCouponByCodeSQL = `SELECT id, code, kind, value, min_order_amount, max_discount,
		usage_limit_global, usage_limit_per_user, usage_count,
		valid_from, valid_until,
		applicable_product_ids, applicable_category_ids,
		excluded_product_ids, excluded_category_ids,
		stackable, active
		FROM coupons WHERE code = $1`

	countUserUsageSQL = `SELECT count(*) FROM coupon_usages
		WHERE coupon_id = $1 AND user_id = $2`

	incrementCouponUsageSQL = `UPDATE coupons SET usage_count = usage_count + 1
		WHERE id = $1`

	insertCouponUsageSQL = `INSERT INTO coupon_usages (id, coupon_id, order_id, user_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (coupon_id, order_id) DO NOTHING`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up a coupon by its case-normalized code. The engine
// upper-cases before calling; codes are stored upper-case.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, getCouponByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return &c, nil
}

// CountUserUsage counts redemptions of the coupon by the given user.
func (r *CouponRepository) CountUserUsage(ctx context.Context, couponID, userID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, countUserUsageSQL, couponID, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting usage of coupon %q: %w", couponID, err)
	}
	return count, nil
}

// RecordUsage increments the global counter and appends a usage record in one
// transaction. The (coupon_id, order_id) conflict clause makes a replay for
// the same order a no-op.
func (r *CouponRepository) RecordUsage(ctx context.Context, couponID, orderID, userID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("recording usage of coupon %q: %w", couponID, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, insertCouponUsageSQL, uuid.New().String(), couponID, orderID, userID)
	if err != nil {
		return fmt.Errorf("recording usage of coupon %q: %w", couponID, err)
	}
	if tag.RowsAffected() == 0 {
		// Already recorded for this order; leave the counter alone.
		return tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx, incrementCouponUsageSQL, couponID); err != nil {
		return fmt.Errorf("incrementing usage of coupon %q: %w", couponID, err)
	}
	return tx.Commit(ctx)
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c                 coupon.Coupon
		usageLimitGlobal  *int
		usageLimitPerUser *int
	)
	err := row.Scan(
		&c.ID, &c.Code, &c.Kind, &c.Value, &c.MinOrderAmount, &c.MaxDiscount,
		&usageLimitGlobal, &usageLimitPerUser, &c.UsageCount,
		&c.ValidFrom, &c.ValidUntil,
		&c.ApplicableProductIDs, &c.ApplicableCategoryIDs,
		&c.ExcludedProductIDs, &c.ExcludedCategoryIDs,
		&c.Stackable, &c.Active,
	)
	if usageLimitGlobal != nil {
		c.UsageLimitGlobal = *usageLimitGlobal
	}
	if usageLimitPerUser != nil {
		c.UsageLimitPerUser = *usageLimitPerUser
	}
	return c, err
}
