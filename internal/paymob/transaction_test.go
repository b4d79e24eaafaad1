package paymob

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const webhookBody = `{
	"type": "TRANSACTION",
	"obj": {
		"id": 7184102,
		"amount_cents": 15000,
		"created_at": "2026-08-21T16:04:35.941669",
		"currency": "EGP",
		"error_occured": false,
		"has_parent_transaction": false,
		"integration_id": 331,
		"is_3d_secure": false,
		"is_auth": false,
		"is_capture": false,
		"is_refunded": false,
		"is_standalone_payment": true,
		"is_voided": false,
		"order": {"id": 9001, "merchant_order_id": "pay-123"},
		"owner": 42,
		"pending": false,
		"source_data": {"pan": "01010101010", "sub_type": "WALLET", "type": "wallet"},
		"success": true,
		"data": {"message": "Approved", "klass": "WalletPayment"}
	}
}`

func TestParseWebhook(t *testing.T) {
	txn, objRaw, err := ParseWebhook([]byte(webhookBody))
	require.NoError(t, err)

	assert.Equal(t, sampleTransaction(), txn)
	assert.NotEmpty(t, objRaw)

	// The captured obj bytes must re-parse to the same transaction so that
	// signature verification over the stored payload stays stable.
	again, err := parseTransaction(objRaw)
	require.NoError(t, err)
	assert.Equal(t, txn, again)
}

func TestParseWebhookMissingObj(t *testing.T) {
	_, _, err := ParseWebhook([]byte(`{"type": "TRANSACTION"}`))
	require.Error(t, err)
}

func TestTransactionFromQuery(t *testing.T) {
	q := url.Values{}
	q.Set("id", "7184102")
	q.Set("amount_cents", "15000")
	q.Set("created_at", "2026-08-21T16:04:35.941669")
	q.Set("currency", "EGP")
	q.Set("error_occured", "false")
	q.Set("has_parent_transaction", "false")
	q.Set("integration_id", "331")
	q.Set("is_3d_secure", "false")
	q.Set("is_auth", "false")
	q.Set("is_capture", "false")
	q.Set("is_refunded", "false")
	q.Set("is_standalone_payment", "true")
	q.Set("is_voided", "false")
	q.Set("order", "9001")
	q.Set("owner", "42")
	q.Set("pending", "false")
	q.Set("source_data.pan", "01010101010")
	q.Set("source_data.sub_type", "WALLET")
	q.Set("source_data.type", "wallet")
	q.Set("success", "true")

	txn, err := TransactionFromQuery(q)
	require.NoError(t, err)
	assert.Equal(t, sampleTransaction(), txn)

	// The callback and the webhook must verify under the same signature.
	sig := ComputeHMAC(secret, sampleTransaction())
	assert.True(t, VerifySignature(secret, txn, sig))
}

func TestTransactionFromQueryBadNumber(t *testing.T) {
	q := url.Values{}
	q.Set("amount_cents", "not-a-number")
	_, err := TransactionFromQuery(q)
	require.Error(t, err)
}
