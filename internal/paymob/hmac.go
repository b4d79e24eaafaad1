package paymob

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"strconv"
	"strings"
)

// hmacFields builds the canonical concatenation the provider signs: a fixed,
// order-significant sequence of the transaction's fields. The ordering is a
// wire-format contract: reordering any field produces a silent mismatch,
// not an error. It is spelled out here positionally and covered by tests.
func hmacFields(t *Transaction) []string {
	return []string{
		strconv.FormatInt(t.AmountCents, 10),
		t.CreatedAt,
		t.Currency,
		formatBool(t.ErrorOccured),
		formatBool(t.HasParentTransaction),
		strconv.FormatInt(t.ID, 10),
		strconv.FormatInt(t.IntegrationID, 10),
		formatBool(t.Is3DSecure),
		formatBool(t.IsAuth),
		formatBool(t.IsCapture),
		formatBool(t.IsRefunded),
		formatBool(t.IsStandalone),
		formatBool(t.IsVoided),
		strconv.FormatInt(t.Order.ID, 10),
		strconv.FormatInt(t.Owner, 10),
		formatBool(t.Pending),
		t.SourceData.Pan,
		t.SourceData.SubType,
		t.SourceData.Type,
		formatBool(t.Success),
	}
}

func formatBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// ComputeHMAC returns the lowercase hex HMAC-SHA512 of the transaction's
// canonical field concatenation under the shared secret.
func ComputeHMAC(secret []byte, t *Transaction) string {
	mac := hmac.New(sha512.New, secret)
	for _, f := range hmacFields(t) {
		mac.Write([]byte(f))
	}
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature recomputes the transaction signature and compares it with
// the provider-supplied one in constant time.
func VerifySignature(secret []byte, t *Transaction, signature string) bool {
	computed := ComputeHMAC(secret, t)
	return hmac.Equal([]byte(computed), []byte(strings.ToLower(signature)))
}
