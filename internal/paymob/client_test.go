package paymob

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider is a minimal in-memory stand-in for the provider API.
type fakeProvider struct {
	mu         sync.Mutex
	authCalls  int
	orderCalls int
	keyCalls   int
	payCalls   int

	lastOrderReq map[string]any
	lastKeyReq   map[string]any
}

func (f *fakeProvider) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/tokens", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.authCalls++
		f.mu.Unlock()
		writeJSON(w, map[string]string{"token": "auth-token-1"})
	})
	mux.HandleFunc("POST /api/ecommerce/orders", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.orderCalls++
		f.lastOrderReq = decodeBody(r)
		f.mu.Unlock()
		writeJSON(w, map[string]any{"id": 9001})
	})
	mux.HandleFunc("POST /api/acceptance/payment_keys", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.keyCalls++
		f.lastKeyReq = decodeBody(r)
		f.mu.Unlock()
		writeJSON(w, map[string]string{"token": "payment-key-1"})
	})
	mux.HandleFunc("POST /api/acceptance/payments/pay", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.payCalls++
		f.mu.Unlock()
		writeJSON(w, map[string]string{"redirect_url": "https://provider.example/redirect/abc"})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func decodeBody(r *http.Request) map[string]any {
	var m map[string]any
	_ = json.NewDecoder(r.Body).Decode(&m)
	return m
}

func newTestClient(t *testing.T, fp *fakeProvider) *Client {
	t.Helper()
	srv := httptest.NewServer(fp.handler())
	t.Cleanup(srv.Close)
	return NewClient(Config{
		BaseURL:             srv.URL,
		APIKey:              "api-key",
		HMACSecret:          "top-secret",
		WalletIntegrationID: 331,
	}, srv.Client())
}

func TestRegisterOrderSendsCents(t *testing.T) {
	fp := &fakeProvider{}
	client := newTestClient(t, fp)

	id, err := client.RegisterOrder(context.Background(), "pay-1", decimal.RequireFromString("149.99"), "EGP")
	require.NoError(t, err)
	assert.Equal(t, "9001", id)

	assert.EqualValues(t, 14999, fp.lastOrderReq["amount_cents"])
	assert.Equal(t, "pay-1", fp.lastOrderReq["merchant_order_id"])
	assert.Equal(t, "auth-token-1", fp.lastOrderReq["auth_token"])
}

func TestAuthTokenIsCachedAcrossCalls(t *testing.T) {
	fp := &fakeProvider{}
	client := newTestClient(t, fp)

	for range 3 {
		_, err := client.RegisterOrder(context.Background(), "pay-1", decimal.NewFromInt(10), "EGP")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, fp.authCalls, "token fetched once, then served from cache")
	assert.Equal(t, 3, fp.orderCalls)
}

func TestWalletRedirectFlow(t *testing.T) {
	fp := &fakeProvider{}
	client := newTestClient(t, fp)

	url, err := client.WalletRedirect(context.Background(), "9001", decimal.NewFromInt(150), "EGP", "01010101010")
	require.NoError(t, err)
	assert.Equal(t, "https://provider.example/redirect/abc", url)

	// The payment key is scoped to the exact amount and the single wallet
	// integration id.
	assert.EqualValues(t, 15000, fp.lastKeyReq["amount_cents"])
	assert.EqualValues(t, 331, fp.lastKeyReq["integration_id"])
	assert.EqualValues(t, 9001, fp.lastKeyReq["order_id"])
	assert.Equal(t, 1, fp.payCalls)
}

func TestProviderErrorIsForwarded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message": "invalid api key"}`, http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	client := NewClient(Config{BaseURL: srv.URL, APIKey: "bad"}, srv.Client())
	_, err := client.RegisterOrder(context.Background(), "pay-1", decimal.NewFromInt(10), "EGP")

	var provErr *ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, http.StatusUnauthorized, provErr.StatusCode)
	assert.Contains(t, provErr.Body, "invalid api key")
}

func TestTokenCacheRefreshesPastMargin(t *testing.T) {
	var calls int
	cache := newTokenCache(time.Hour, 5*time.Minute, func(context.Context) (string, error) {
		calls++
		return "tok", nil
	})

	now := time.Now()
	cache.now = func() time.Time { return now }

	_, err := cache.get(context.Background())
	require.NoError(t, err)
	_, err = cache.get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	// Inside the expiry margin the cached token is no longer trusted.
	now = now.Add(56 * time.Minute)
	_, err = cache.get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}
