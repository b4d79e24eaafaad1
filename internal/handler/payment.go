package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/soukly/souk-commerce/internal/domain/order"
	"github.com/soukly/souk-commerce/internal/domain/payment"
	"github.com/soukly/souk-commerce/internal/paymob"
	"github.com/soukly/souk-commerce/internal/storage/postgres"
)

// maxWebhookBody bounds provider callback bodies.
const maxWebhookBody = 1 << 20

type initiatePaymentRequest struct {
	OrderID       string `json:"orderId"`
	UserID        string `json:"userId"`
	PaymentMethod string `json:"paymentMethod"`
	WalletPhone   string `json:"walletPhone"`
}

type initiatePaymentResponse struct {
	PaymentID   string          `json:"paymentId"`
	OrderID     string          `json:"orderId"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Status      string          `json:"status"`
	RedirectURL string          `json:"redirectUrl"`
}

// InitiatePayment starts a prepaid payment for an existing order. The charged
// amount is always the order's stored total; nothing client-submitted.
func (h *Handler) InitiatePayment(c echo.Context) error {
	var req initiatePaymentRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "malformed request body")
	}
	if req.OrderID == "" || req.UserID == "" {
		return badRequest(c, "orderId and userId are required")
	}

	method, err := parsePaymentMethod(req.PaymentMethod, req.WalletPhone)
	if err != nil {
		return err
	}
	if _, ok := method.(order.Wallet); !ok {
		return badRequest(c, "only wallet payments can be initiated online")
	}

	result, err := h.payments.Initiate(c.Request().Context(), payment.InitiateRequest{
		OrderID: req.OrderID,
		UserID:  req.UserID,
		Method:  method,
	})
	if err != nil {
		return mapPaymentError(c, err)
	}

	return c.JSON(http.StatusCreated, initiatePaymentResponse{
		PaymentID:   result.Payment.ID,
		OrderID:     result.Payment.OrderID,
		Amount:      result.Payment.Amount,
		Currency:    result.Payment.Currency,
		Status:      string(result.Payment.Status),
		RedirectURL: result.RedirectURL,
	})
}

// PaymobWebhook receives the asynchronous transaction notification. This is
// the authoritative settlement signal; the browser callback is best-effort
// UX. Replays and out-of-order deliveries are acknowledged without state
// change.
func (h *Handler) PaymobWebhook(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return badRequest(c, "unreadable request body")
	}

	txn, objRaw, err := paymob.ParseWebhook(body)
	if err != nil {
		return badRequest(c, "malformed webhook payload")
	}

	if _, err := h.handleTransaction(c, txn, objRaw); err != nil {
		if errors.Is(err, payment.ErrSignatureMismatch) {
			// No detail: an attacker probing signatures learns nothing.
			return badRequest(c, "invalid callback")
		}
		return err
	}
	return c.NoContent(http.StatusOK)
}

// PaymobCallback receives the synchronous browser redirect. It drives the
// same reconciliation as the webhook (either may arrive first) and then sends
// the customer to the storefront result page.
func (h *Handler) PaymobCallback(c echo.Context) error {
	txn, err := paymob.TransactionFromQuery(c.QueryParams())
	if err != nil {
		return badRequest(c, "malformed callback")
	}
	// The flattened callback has no raw payload; re-encode the transaction so
	// verification and audit storage see the canonical wire form.
	raw, err := json.Marshal(txn)
	if err != nil {
		return err
	}

	outcome, err := h.handleTransaction(c, txn, raw)
	if err != nil {
		if errors.Is(err, payment.ErrSignatureMismatch) {
			return c.Redirect(http.StatusFound, h.cfg.PaymentRedirectBase+"/failure")
		}
		return err
	}

	target := h.cfg.PaymentRedirectBase + "/failure"
	if outcome != nil && outcome.Success {
		target = h.cfg.PaymentRedirectBase + "/success"
	}
	return c.Redirect(http.StatusFound, target)
}

func (h *Handler) handleTransaction(c echo.Context, txn *paymob.Transaction, raw []byte) (*payment.Outcome, error) {
	ctx := c.Request().Context()

	if txn.Pending {
		// Not a settlement signal yet; acknowledge and wait for the final one.
		zctx.From(ctx).Info("pending transaction acknowledged",
			zap.Int64("provider_order_id", txn.Order.ID))
		return nil, nil
	}

	return h.payments.HandleCallback(ctx, payment.Callback{
		ProviderOrderID: strconv.FormatInt(txn.Order.ID, 10),
		TransactionID:   strconv.FormatInt(txn.ID, 10),
		Success:         txn.Success && !txn.ErrorOccured,
		Pending:         txn.Pending,
		AmountCents:     txn.AmountCents,
		Currency:        txn.Currency,
		MaskedPAN:       txn.SourceData.Pan,
		SourceSubType:   txn.SourceData.SubType,
		ErrorOccured:    txn.ErrorOccured,
		Raw:             raw,
	}, c.QueryParam("hmac"))
}

// mapPaymentError converts payment initiation errors to HTTP responses.
func mapPaymentError(c echo.Context, err error) error {
	if errors.Is(err, postgres.ErrOrderNotFound) {
		return fail(c, http.StatusNotFound, "order not found", nil)
	}
	if errors.Is(err, payment.ErrDuplicate) {
		return fail(c, http.StatusConflict, "order already has an active payment", nil)
	}
	if errors.Is(err, payment.ErrMethodMismatch) {
		return badRequest(c, "order does not use this payment method")
	}

	var provErr *paymob.ProviderError
	if errors.As(err, &provErr) {
		zctx.From(c.Request().Context()).Error("payment provider error",
			zap.Int("status", provErr.StatusCode))
		return fail(c, http.StatusBadGateway, "payment provider unavailable", nil)
	}
	return err
}
