package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/soukly/souk-commerce/internal/domain/coupon"
	"github.com/soukly/souk-commerce/internal/domain/order"
	"github.com/soukly/souk-commerce/internal/domain/product"
	"github.com/soukly/souk-commerce/internal/domain/stock"
	"github.com/soukly/souk-commerce/internal/storage/postgres"
)

type checkoutRequest struct {
	UserID          string          `json:"userId"`
	Items           []lineItem      `json:"items"`
	ShippingAddress order.Address   `json:"shippingAddress"`
	PaymentMethod   string          `json:"paymentMethod"`
	WalletPhone     string          `json:"walletPhone"`
	CouponCode      string          `json:"couponCode"`
	TaxAmount       decimal.Decimal `json:"taxAmount"`
	ShippingAmount  decimal.Decimal `json:"shippingAmount"`
	// DiscountAmount is an explicit override for administrative orders.
	// A coupon code takes precedence when both are present.
	DiscountAmount decimal.Decimal `json:"discountAmount"`
	Notes          string          `json:"notes"`
}

type orderResponse struct {
	ID              string          `json:"id"`
	OrderNumber     string          `json:"orderNumber"`
	Status          string          `json:"status"`
	PaymentStatus   string          `json:"paymentStatus"`
	PaymentMethod   string          `json:"paymentMethod"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	TaxAmount       decimal.Decimal `json:"taxAmount"`
	ShippingAmount  decimal.Decimal `json:"shippingAmount"`
	DiscountAmount  decimal.Decimal `json:"discountAmount"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`
	CouponCode      string          `json:"couponCode,omitempty"`
	ShippingAddress order.Address   `json:"shippingAddress"`
	Items           []itemResponse  `json:"items,omitempty"`
}

type itemResponse struct {
	ProductID  string           `json:"productId"`
	VariantKey string           `json:"variantKey"`
	Quantity   int              `json:"quantity"`
	UnitPrice  decimal.Decimal  `json:"unitPrice"`
	LineTotal  decimal.Decimal  `json:"lineTotal"`
	Snapshot   product.Snapshot `json:"productSnapshot"`
}

type checkoutResponse struct {
	Order           orderResponse   `json:"order"`
	PaymentRequired bool            `json:"paymentRequired"`
	NextStep        *order.NextStep `json:"nextStep,omitempty"`
}

// Checkout runs the full pipeline for a submitted cart: strict validation,
// coupon application, order creation, and the method-specific settlement.
func (h *Handler) Checkout(c echo.Context) error {
	var req checkoutRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "malformed request body")
	}
	if req.UserID == "" {
		return badRequest(c, "userId is required")
	}

	method, err := parsePaymentMethod(req.PaymentMethod, req.WalletPhone)
	if err != nil {
		return err
	}

	result, err := h.orders.Checkout(c.Request().Context(), order.CheckoutRequest{
		UserID:           req.UserID,
		Lines:            toCartLines(req.Items),
		ShippingAddress:  req.ShippingAddress,
		Method:           method,
		CouponCode:       req.CouponCode,
		TaxAmount:        req.TaxAmount,
		ShippingAmount:   req.ShippingAmount,
		DiscountOverride: req.DiscountAmount,
		Notes:            req.Notes,
	})
	if err != nil {
		return mapCheckoutError(c, err)
	}

	return c.JSON(http.StatusCreated, checkoutResponse{
		Order:           toOrderResponse(result.Order, result.Items),
		PaymentRequired: result.PaymentRequired,
		NextStep:        result.NextStep,
	})
}

// GetOrder returns an order with its items.
func (h *Handler) GetOrder(c echo.Context) error {
	ctx := c.Request().Context()

	o, err := h.orderRepo.GetByID(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, postgres.ErrOrderNotFound) {
			return fail(c, http.StatusNotFound, "order not found", nil)
		}
		return err
	}
	items, err := h.orderRepo.GetItems(ctx, o.ID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, toOrderResponse(o, items))
}

// mapCheckoutError converts domain checkout errors to HTTP responses.
func mapCheckoutError(c echo.Context, err error) error {
	if errors.Is(err, order.ErrEmptyCart) {
		return badRequest(c, err.Error())
	}

	var unavailableErr *order.UnavailableProductError
	if errors.As(err, &unavailableErr) {
		return fail(c, http.StatusUnprocessableEntity, unavailableErr.Error(), nil)
	}

	var mismatchErr *order.PriceMismatchError
	if errors.As(err, &mismatchErr) {
		return fail(c, http.StatusUnprocessableEntity, mismatchErr.Error(), map[string]string{
			"productId":  mismatchErr.ProductID,
			"variantKey": mismatchErr.VariantKey,
			"submitted":  mismatchErr.Submitted.StringFixed(2),
			"current":    mismatchErr.Current.StringFixed(2),
		})
	}

	var stockErr *stock.InsufficientStockError
	if errors.As(err, &stockErr) {
		return fail(c, http.StatusConflict, "insufficient stock", stockErr.Shortfalls)
	}

	if mapped := mapCouponError(c, err); mapped != nil {
		return mapped
	}

	return err
}

// mapCouponError converts coupon eligibility failures; all of them are the
// client's problem, not the server's.
func mapCouponError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, coupon.ErrNotFound),
		errors.Is(err, coupon.ErrInactive),
		errors.Is(err, coupon.ErrExpired),
		errors.Is(err, coupon.ErrUsageLimitReached),
		errors.Is(err, coupon.ErrUserLimitReached),
		errors.Is(err, coupon.ErrNotApplicable),
		errors.Is(err, coupon.ErrExcluded):
		return fail(c, http.StatusUnprocessableEntity, err.Error(), nil)
	}

	var minErr *coupon.MinOrderError
	if errors.As(err, &minErr) {
		return fail(c, http.StatusUnprocessableEntity, minErr.Error(), map[string]string{
			"minimum":  minErr.Minimum.StringFixed(2),
			"subtotal": minErr.Subtotal.StringFixed(2),
		})
	}
	return nil
}

func toOrderResponse(o *order.Order, items []order.Item) orderResponse {
	resp := orderResponse{
		ID:              o.ID,
		OrderNumber:     o.OrderNumber,
		Status:          string(o.Status),
		PaymentStatus:   string(o.PaymentStatus),
		PaymentMethod:   o.PaymentMethod,
		Subtotal:        o.Subtotal,
		TaxAmount:       o.TaxAmount,
		ShippingAmount:  o.ShippingAmount,
		DiscountAmount:  o.DiscountAmount,
		TotalAmount:     o.TotalAmount,
		CouponCode:      o.CouponCode,
		ShippingAddress: o.ShippingAddress,
	}
	for _, item := range items {
		resp.Items = append(resp.Items, itemResponse{
			ProductID:  item.ProductID,
			VariantKey: item.VariantKey,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			LineTotal:  item.LineTotal,
			Snapshot:   item.Snapshot,
		})
	}
	return resp
}
