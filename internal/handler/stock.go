package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/soukly/souk-commerce/internal/domain/cart"
	"github.com/soukly/souk-commerce/internal/domain/stock"
)

type stockItemsRequest struct {
	Items []lineItem `json:"items"`
}

type validateStockResponse struct {
	Valid            []lineItem             `json:"valid"`
	Invalid          []invalidLineResponse  `json:"invalid"`
	PriceCorrections []cart.PriceCorrection `json:"priceCorrections,omitempty"`
	Subtotal         decimal.Decimal        `json:"subtotal"`
}

type invalidLineResponse struct {
	ProductID  string `json:"productId"`
	VariantKey string `json:"variantKey"`
	Quantity   int    `json:"quantity"`
	Reason     string `json:"reason"`
}

// ValidateStock re-validates a cart against catalog truth: existence,
// variant, aggregated stock, and price. Price drift is corrected and
// reported; it never invalidates a line.
func (h *Handler) ValidateStock(c echo.Context) error {
	var req stockItemsRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "malformed request body")
	}
	if len(req.Items) == 0 {
		return badRequest(c, "items is required")
	}

	result, err := h.validator.Validate(c.Request().Context(), toCartLines(req.Items))
	if err != nil {
		return err
	}

	resp := validateStockResponse{
		Valid:            make([]lineItem, 0, len(result.Valid)),
		Invalid:          make([]invalidLineResponse, 0, len(result.Invalid)),
		PriceCorrections: result.PriceCorrections,
		Subtotal:         result.Subtotal(),
	}
	for _, line := range result.Valid {
		resp.Valid = append(resp.Valid, lineItem{
			ProductID:  line.ProductID,
			VariantKey: line.VariantKey,
			Quantity:   line.Quantity,
			UnitPrice:  line.UnitPrice,
		})
	}
	for _, inv := range result.Invalid {
		resp.Invalid = append(resp.Invalid, invalidLineResponse{
			ProductID:  inv.Line.ProductID,
			VariantKey: inv.Line.VariantKey,
			Quantity:   inv.Line.Quantity,
			Reason:     inv.Reason,
		})
	}
	return c.JSON(http.StatusOK, resp)
}

// ReduceStock commits an order-time stock reduction. Each item is reduced
// with an independent atomic conditional decrement; unsatisfiable items are
// reported with requested vs. available counts.
func (h *Handler) ReduceStock(c echo.Context) error {
	var req stockItemsRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "malformed request body")
	}
	if len(req.Items) == 0 {
		return badRequest(c, "items is required")
	}

	items := make([]stock.Item, len(req.Items))
	for i, item := range req.Items {
		if item.Quantity <= 0 {
			return badRequest(c, "quantity must be greater than 0")
		}
		items[i] = stock.Item{
			ProductID:  item.ProductID,
			VariantKey: item.VariantKey,
			Quantity:   item.Quantity,
		}
	}

	if err := h.ledger.ReduceForOrder(c.Request().Context(), items); err != nil {
		var stockErr *stock.InsufficientStockError
		if errors.As(err, &stockErr) {
			return fail(c, http.StatusConflict, "insufficient stock", stockErr.Shortfalls)
		}
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

type adjustStockRequest struct {
	VariantKey string `json:"variantKey"`
	Delta      int    `json:"delta"`
}

// AdjustStock applies an administrative stock delta. The resulting count may
// go negative; that is a backorder signal, not an error.
func (h *Handler) AdjustStock(c echo.Context) error {
	var req adjustStockRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "malformed request body")
	}
	if req.VariantKey == "" {
		return badRequest(c, "variantKey is required")
	}
	if req.Delta == 0 {
		return badRequest(c, "delta must be non-zero")
	}

	if err := h.ledger.AdjustStock(c.Request().Context(), c.Param("id"), req.VariantKey, req.Delta); err != nil {
		if errors.Is(err, stock.ErrVariantNotFound) {
			return fail(c, http.StatusNotFound, "variant not found", nil)
		}
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
