//go:build integration

package integration

import (
	"fmt"
	"net/http"
	"regexp"
	"sync/atomic"
	"testing"
)

var orderNumberPattern = regexp.MustCompile(`^SO-\d{8}-\d{6}$`)

var userSeq atomic.Int64

// nextUser hands each test its own user so per-user coupon caps don't couple
// tests to each other.
func nextUser() string {
	return fmt.Sprintf("it-user-%d", userSeq.Add(1))
}

func validCheckout(user string) checkoutRequest {
	return checkoutRequest{
		UserID: user,
		Items: []lineItem{
			{ProductID: "classic-tee", VariantKey: "m", Quantity: 1, UnitPrice: "100.00"},
		},
		ShippingAddress: address{Name: "Test", Phone: "01010101010", Line1: "1 Nile St", City: "Cairo", Country: "EG"},
		PaymentMethod:   "cash_on_delivery",
		TaxAmount:       "14.00",
		ShippingAmount:  "25.00",
	}
}

func TestCheckout_CashOnDelivery(t *testing.T) {
	resp := doPost(t, "/api/orders/checkout", validCheckout(nextUser()))
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	body := decodeJSON[checkoutResponse](t, resp)
	if body.Order.Status != "confirmed" {
		t.Fatalf("expected confirmed, got %q", body.Order.Status)
	}
	if body.Order.PaymentStatus != "pending" {
		t.Fatalf("expected payment pending, got %q", body.Order.PaymentStatus)
	}
	if body.PaymentRequired {
		t.Fatal("COD checkout must not require online payment")
	}
	if !orderNumberPattern.MatchString(body.Order.OrderNumber) {
		t.Fatalf("unexpected order number format: %q", body.Order.OrderNumber)
	}
	if body.Order.TotalAmount != "139" && body.Order.TotalAmount != "139.00" {
		t.Fatalf("expected total 139.00, got %q", body.Order.TotalAmount)
	}
}

func TestCheckout_WalletAwaitsPayment(t *testing.T) {
	req := validCheckout(nextUser())
	req.PaymentMethod = "wallet"
	req.WalletPhone = "01010101010"

	resp := doPost(t, "/api/orders/checkout", req)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	body := decodeJSON[checkoutResponse](t, resp)
	if body.Order.Status != "pending" {
		t.Fatalf("expected pending, got %q", body.Order.Status)
	}
	if !body.PaymentRequired {
		t.Fatal("wallet checkout must require online payment")
	}
	if body.NextStep == nil || body.NextStep.Endpoint != "/api/payments" {
		t.Fatalf("expected next step pointing at /api/payments, got %+v", body.NextStep)
	}
}

func TestCheckout_EmptyCart(t *testing.T) {
	req := validCheckout(nextUser())
	req.Items = nil

	resp := doPost(t, "/api/orders/checkout", req)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestCheckout_UnknownProduct(t *testing.T) {
	req := validCheckout(nextUser())
	req.Items = []lineItem{{ProductID: "no-such-product", VariantKey: "s", Quantity: 1, UnitPrice: "10.00"}}

	resp := doPost(t, "/api/orders/checkout", req)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
}

func TestCheckout_PriceDrift(t *testing.T) {
	req := validCheckout(nextUser())
	req.Items[0].UnitPrice = "95.00"

	resp := doPost(t, "/api/orders/checkout", req)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
}

func TestCheckout_InsufficientStock(t *testing.T) {
	req := validCheckout(nextUser())
	// Seeded desk-lamp stock is 8.
	req.Items = []lineItem{{ProductID: "desk-lamp", VariantKey: "default", Quantity: 999, UnitPrice: "450.00"}}

	resp := doPost(t, "/api/orders/checkout", req)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}

	body := decodeJSON[errorResponse](t, resp)
	if body.Message != "insufficient stock" {
		t.Fatalf("unexpected message: %q", body.Message)
	}
}

func TestCheckout_CouponApplied(t *testing.T) {
	req := validCheckout(nextUser())
	req.Items[0].Quantity = 3
	req.CouponCode = "SAVE20"
	req.TaxAmount = "0"
	req.ShippingAmount = "0"

	resp := doPost(t, "/api/orders/checkout", req)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	// 20% of 300, capped at 50.
	body := decodeJSON[checkoutResponse](t, resp)
	if body.Order.DiscountAmount != "50" && body.Order.DiscountAmount != "50.00" {
		t.Fatalf("expected discount 50.00, got %q", body.Order.DiscountAmount)
	}
	if body.Order.TotalAmount != "250" && body.Order.TotalAmount != "250.00" {
		t.Fatalf("expected total 250.00, got %q", body.Order.TotalAmount)
	}
}

func TestCheckout_UnknownCoupon(t *testing.T) {
	req := validCheckout(nextUser())
	req.CouponCode = "DOESNOTEXIST"

	resp := doPost(t, "/api/orders/checkout", req)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
}

func TestGetOrder_RoundTrip(t *testing.T) {
	resp := doPost(t, "/api/orders/checkout", validCheckout(nextUser()))
	created := decodeJSON[checkoutResponse](t, resp)
	resp.Body.Close()

	resp = doGet(t, "/api/orders/"+created.Order.ID)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	got := decodeJSON[orderResponse](t, resp)
	if got.OrderNumber != created.Order.OrderNumber {
		t.Fatalf("order number mismatch: %q vs %q", got.OrderNumber, created.Order.OrderNumber)
	}
}

func TestGetOrder_NotFound(t *testing.T) {
	resp := doGet(t, "/api/orders/00000000-0000-0000-0000-000000000000")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
