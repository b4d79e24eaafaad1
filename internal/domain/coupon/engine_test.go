package coupon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockCouponRepo struct {
	byCode    map[string]*Coupon
	userUsage map[string]int // couponID+"/"+userID
	recorded  []string       // couponID+"/"+orderID
}

func (m *mockCouponRepo) FindByCode(_ context.Context, code string) (*Coupon, error) {
	c, ok := m.byCode[code]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockCouponRepo) CountUserUsage(_ context.Context, couponID, userID string) (int, error) {
	return m.userUsage[couponID+"/"+userID], nil
}

func (m *mockCouponRepo) RecordUsage(_ context.Context, couponID, orderID, _ string) error {
	m.recorded = append(m.recorded, couponID+"/"+orderID)
	return nil
}

func window(from, until time.Duration) (time.Time, time.Time) {
	now := time.Now()
	return now.Add(from), now.Add(until)
}

func validCoupon() *Coupon {
	from, until := window(-time.Hour, time.Hour)
	return &Coupon{
		ID:        "c1",
		Code:      "SAVE20",
		Kind:      KindPercentage,
		Value:     d("20"),
		ValidFrom: from, ValidUntil: until,
		Active: true,
	}
}

func items() []Item {
	return []Item{
		{ProductID: "tee", CategoryIDs: []string{"apparel"}, Price: d("100"), Quantity: 2},
		{ProductID: "mug", CategoryIDs: []string{"kitchen"}, Price: d("50"), Quantity: 1},
	}
}

func TestValidateChain(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Coupon)
		usage   map[string]int
		wantErr error
	}{
		{
			name:   "inactive",
			mutate: func(c *Coupon) { c.Active = false },

			wantErr: ErrInactive,
		},
		{
			name: "not yet valid",
			mutate: func(c *Coupon) {
				c.ValidFrom, c.ValidUntil = window(time.Hour, 2*time.Hour)
			},
			wantErr: ErrExpired,
		},
		{
			name: "expired",
			mutate: func(c *Coupon) {
				c.ValidFrom, c.ValidUntil = window(-2*time.Hour, -time.Hour)
			},
			wantErr: ErrExpired,
		},
		{
			name: "global cap exhausted",
			mutate: func(c *Coupon) {
				c.UsageLimitGlobal = 5
				c.UsageCount = 5
			},
			wantErr: ErrUsageLimitReached,
		},
		{
			name:    "per-user cap exhausted",
			mutate:  func(c *Coupon) { c.UsageLimitPerUser = 2 },
			usage:   map[string]int{"c1/u1": 2},
			wantErr: ErrUserLimitReached,
		},
		{
			name:    "applicability sets not intersected",
			mutate:  func(c *Coupon) { c.ApplicableCategoryIDs = []string{"books"} },
			wantErr: ErrNotApplicable,
		},
		{
			name: "exclusion wins even when another line qualifies",
			mutate: func(c *Coupon) {
				c.ApplicableCategoryIDs = []string{"apparel"}
				c.ExcludedProductIDs = []string{"mug"}
			},
			wantErr: ErrExcluded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validCoupon()
			tt.mutate(c)
			repo := &mockCouponRepo{
				byCode:    map[string]*Coupon{c.Code: c},
				userUsage: tt.usage,
			}

			_, err := NewEngine(repo).Validate(context.Background(), c.Code, "u1", items())
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, repo.recorded, "validation must not record usage")
		})
	}
}

func TestValidateUnknownCode(t *testing.T) {
	repo := &mockCouponRepo{byCode: map[string]*Coupon{}}
	_, err := NewEngine(repo).Validate(context.Background(), "NOPE", "u1", items())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestValidateNormalizesCode(t *testing.T) {
	c := validCoupon()
	repo := &mockCouponRepo{byCode: map[string]*Coupon{c.Code: c}}

	quote, err := NewEngine(repo).Validate(context.Background(), "  save20 ", "u1", items())
	require.NoError(t, err)
	assert.Equal(t, "SAVE20", quote.Coupon.Code)
}

func TestValidateMinOrderAmount(t *testing.T) {
	c := validCoupon()
	c.MinOrderAmount = dp("500")
	repo := &mockCouponRepo{byCode: map[string]*Coupon{c.Code: c}}

	// Subtotal of items() is 250.
	_, err := NewEngine(repo).Validate(context.Background(), c.Code, "u1", items())

	var minErr *MinOrderError
	require.ErrorAs(t, err, &minErr)
	assert.True(t, minErr.Minimum.Equal(d("500")))
	assert.True(t, minErr.Subtotal.Equal(d("250")))
}

func TestValidateComputesBoundedDiscount(t *testing.T) {
	c := validCoupon()
	c.MaxDiscount = dp("30")
	repo := &mockCouponRepo{byCode: map[string]*Coupon{c.Code: c}}

	quote, err := NewEngine(repo).Validate(context.Background(), c.Code, "u1", items())
	require.NoError(t, err)

	// 20% of 250 is 50, capped at 30.
	assert.True(t, quote.Discount.Equal(d("30")), "got %s", quote.Discount)
	assert.Empty(t, repo.recorded)
}

func TestRecordUsageIsSeparateFromValidate(t *testing.T) {
	c := validCoupon()
	repo := &mockCouponRepo{byCode: map[string]*Coupon{c.Code: c}}
	engine := NewEngine(repo)

	quote, err := engine.Validate(context.Background(), c.Code, "u1", items())
	require.NoError(t, err)
	require.Empty(t, repo.recorded)

	require.NoError(t, engine.RecordUsage(context.Background(), quote.Coupon, "o1", "u1"))
	assert.Equal(t, []string{"c1/o1"}, repo.recorded)
}
