// Package handler exposes the checkout and payment pipeline over HTTP.
package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/soukly/souk-commerce/internal/domain/cart"
	"github.com/soukly/souk-commerce/internal/domain/order"
	"github.com/soukly/souk-commerce/internal/domain/payment"
	"github.com/soukly/souk-commerce/internal/domain/stock"
)

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// PaymentRedirectBase is where the browser lands after the synchronous
	// provider callback, suffixed with /success or /failure.
	PaymentRedirectBase string
}

// Handler wires HTTP routes to the domain services.
type Handler struct {
	cfg       Config
	validator *cart.Validator
	ledger    *stock.Ledger
	orders    *order.Service
	orderRepo order.Repository
	payments  *payment.Service
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	cfg Config,
	validator *cart.Validator,
	ledger *stock.Ledger,
	orders *order.Service,
	orderRepo order.Repository,
	payments *payment.Service,
) *Handler {
	return &Handler{
		cfg:       cfg,
		validator: validator,
		ledger:    ledger,
		orders:    orders,
		orderRepo: orderRepo,
		payments:  payments,
	}
}

// Register attaches all API routes to the echo instance.
func (h *Handler) Register(e *echo.Echo) {
	api := e.Group("/api")

	api.POST("/orders/checkout", h.Checkout)
	api.GET("/orders/:id", h.GetOrder)

	api.POST("/products/validate-stock", h.ValidateStock)
	api.POST("/products/reduce-stock", h.ReduceStock)
	api.PATCH("/products/:id/stock", h.AdjustStock)

	api.POST("/payments", h.InitiatePayment)
	api.POST("/payments/webhook/paymob", h.PaymobWebhook)
	api.GET("/payments/callback/paymob", h.PaymobCallback)
}

// errorBody is the uniform error envelope for all endpoints.
type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func fail(c echo.Context, status int, message string, details any) error {
	return c.JSON(status, errorBody{Code: status, Message: message, Details: details})
}

func badRequest(c echo.Context, message string) error {
	return fail(c, http.StatusBadRequest, message, nil)
}

// lineItem is the wire form of a cart line.
type lineItem struct {
	ProductID  string          `json:"productId"`
	VariantKey string          `json:"variantKey"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
}

func toCartLines(items []lineItem) []cart.Line {
	lines := make([]cart.Line, len(items))
	for i, item := range items {
		lines[i] = cart.Line{
			ProductID:  item.ProductID,
			VariantKey: item.VariantKey,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
		}
	}
	return lines
}

// parsePaymentMethod maps the wire identifier to the closed method union.
func parsePaymentMethod(name, walletPhone string) (order.PaymentMethod, error) {
	switch name {
	case order.CashOnDelivery{}.Name():
		return order.CashOnDelivery{}, nil
	case order.Wallet{}.Name():
		if walletPhone == "" {
			return nil, echo.NewHTTPError(http.StatusBadRequest, "walletPhone is required for wallet payments")
		}
		return order.Wallet{Phone: walletPhone}, nil
	default:
		return nil, echo.NewHTTPError(http.StatusBadRequest, "unknown payment method: "+name)
	}
}
