// Package paymob wraps the Paymob acceptance API: auth token issuance,
// provider-side order registration, amount-scoped payment keys, wallet
// redirects, and HMAC verification of transaction callbacks.
package paymob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

const (
	// Provider tokens live for one hour; refresh five minutes early so a
	// token never expires mid-flight.
	tokenTTL    = time.Hour
	tokenMargin = 5 * time.Minute

	paymentKeyTTLSeconds = 3600
)

// Config holds the provider credentials and integration ids, loaded once at
// process start.
type Config struct {
	BaseURL             string
	APIKey              string
	HMACSecret          string
	WalletIntegrationID int64
}

// Client talks to the payment provider over HTTP. The auth token is cached
// in process memory (see tokenCache); everything else is a straight
// request/response call bounded by the HTTP client timeout. No retries or
// circuit breaking at this layer.
type Client struct {
	httpClient *http.Client
	cfg        Config
	tokens     *tokenCache
}

// NewClient creates a provider client with the given configuration.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	c := &Client{
		httpClient: httpClient,
		cfg:        cfg,
	}
	c.tokens = newTokenCache(tokenTTL, tokenMargin, c.authenticate)
	return c
}

// ProviderError is a non-2xx or malformed provider response. The provider's
// own message is forwarded, not swallowed.
type ProviderError struct {
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("payment provider error (status %d): %s", e.StatusCode, e.Body)
}

func (c *Client) authenticate(ctx context.Context) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	err := c.post(ctx, "/api/auth/tokens", map[string]string{"api_key": c.cfg.APIKey}, &resp)
	if err != nil {
		return "", errors.Wrap(err, "authenticate")
	}
	if resp.Token == "" {
		return "", errors.New("authenticate: empty token in response")
	}
	return resp.Token, nil
}

// RegisterOrder creates the provider-side order for the given amount and
// returns its correlation id.
func (c *Client) RegisterOrder(ctx context.Context, merchantOrderID string, amount decimal.Decimal, currency string) (string, error) {
	token, err := c.tokens.get(ctx)
	if err != nil {
		return "", err
	}

	req := map[string]any{
		"auth_token":        token,
		"amount_cents":      toCents(amount),
		"currency":          currency,
		"merchant_order_id": merchantOrderID,
		"delivery_needed":   false,
		"items":             []any{},
	}
	var resp struct {
		ID int64 `json:"id"`
	}
	if err := c.post(ctx, "/api/ecommerce/orders", req, &resp); err != nil {
		return "", errors.Wrap(err, "register order")
	}
	return strconv.FormatInt(resp.ID, 10), nil
}

// paymentKey requests a short-lived key scoped to the exact amount, the
// provider order, and a single integration id.
func (c *Client) paymentKey(ctx context.Context, providerOrderID int64, amountCents int64, currency, phone string, integrationID int64) (string, error) {
	token, err := c.tokens.get(ctx)
	if err != nil {
		return "", err
	}

	req := map[string]any{
		"auth_token":     token,
		"amount_cents":   amountCents,
		"currency":       currency,
		"order_id":       providerOrderID,
		"integration_id": integrationID,
		"expiration":     paymentKeyTTLSeconds,
		"billing_data": map[string]string{
			"phone_number": phone,
			"first_name":   "NA",
			"last_name":    "NA",
			"email":        "NA",
			"street":       "NA",
			"building":     "NA",
			"floor":        "NA",
			"apartment":    "NA",
			"city":         "NA",
			"country":      "NA",
		},
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.post(ctx, "/api/acceptance/payment_keys", req, &resp); err != nil {
		return "", errors.Wrap(err, "payment key")
	}
	return resp.Token, nil
}

// WalletRedirect submits a wallet payment for the provider order and returns
// the customer-facing redirect URL.
func (c *Client) WalletRedirect(ctx context.Context, providerOrderID string, amount decimal.Decimal, currency, phone string) (string, error) {
	orderID, err := strconv.ParseInt(providerOrderID, 10, 64)
	if err != nil {
		return "", errors.Wrapf(err, "invalid provider order id %q", providerOrderID)
	}

	key, err := c.paymentKey(ctx, orderID, toCents(amount), currency, phone, c.cfg.WalletIntegrationID)
	if err != nil {
		return "", err
	}

	req := map[string]any{
		"source": map[string]string{
			"identifier": phone,
			"subtype":    "WALLET",
		},
		"payment_token": key,
	}
	var resp struct {
		RedirectURL string `json:"redirect_url"`
		IframeURL   string `json:"iframe_redirection_url"`
	}
	if err := c.post(ctx, "/api/acceptance/payments/pay", req, &resp); err != nil {
		return "", errors.Wrap(err, "wallet pay")
	}

	url := resp.RedirectURL
	if url == "" {
		url = resp.IframeURL
	}
	if url == "" {
		return "", errors.New("wallet pay: provider returned no redirect URL")
	}
	return url, nil
}

// VerifyTransaction parses a raw transaction object and checks its HMAC
// signature. It reports false on malformed payloads: an unparseable body can
// never be authentic.
func (c *Client) VerifyTransaction(raw []byte, signature string) bool {
	txn, err := parseTransaction(raw)
	if err != nil {
		return false
	}
	return VerifySignature([]byte(c.cfg.HMACSecret), txn, signature)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errors.Wrap(err, "read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ProviderError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &ProviderError{StatusCode: resp.StatusCode, Body: "malformed response: " + err.Error()}
	}
	return nil
}

func toCents(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
