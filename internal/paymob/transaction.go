package paymob

import (
	"net/url"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// Transaction is the provider's transaction notification object. The same
// shape arrives in the webhook body (under "obj") and, flattened, as query
// parameters of the synchronous browser callback.
type Transaction struct {
	ID                   int64      `json:"id"`
	AmountCents          int64      `json:"amount_cents"`
	CreatedAt            string     `json:"created_at"`
	Currency             string     `json:"currency"`
	ErrorOccured         bool       `json:"error_occured"`
	HasParentTransaction bool       `json:"has_parent_transaction"`
	IntegrationID        int64      `json:"integration_id"`
	Is3DSecure           bool       `json:"is_3d_secure"`
	IsAuth               bool       `json:"is_auth"`
	IsCapture            bool       `json:"is_capture"`
	IsRefunded           bool       `json:"is_refunded"`
	IsStandalone         bool       `json:"is_standalone_payment"`
	IsVoided             bool       `json:"is_voided"`
	Order                OrderRef   `json:"order"`
	Owner                int64      `json:"owner"`
	Pending              bool       `json:"pending"`
	SourceData           SourceData `json:"source_data"`
	Success              bool       `json:"success"`
}

// OrderRef is the provider-side order reference inside a transaction.
type OrderRef struct {
	ID int64 `json:"id"`
}

// SourceData identifies the payment instrument. PAN is already masked by
// the provider.
type SourceData struct {
	Pan     string `json:"pan"`
	SubType string `json:"sub_type"`
	Type    string `json:"type"`
}

// ParseWebhook decodes a webhook body of the form {"type": ..., "obj": {...}}
// and returns the transaction together with the raw obj bytes for audit
// storage and signature verification.
func ParseWebhook(body []byte) (*Transaction, []byte, error) {
	var (
		objRaw jx.Raw
		found  bool
	)
	d := jx.DecodeBytes(body)
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "obj" {
			return d.Skip()
		}
		raw, err := d.Raw()
		if err != nil {
			return err
		}
		objRaw, found = raw, true
		return nil
	}); err != nil {
		return nil, nil, errors.Wrap(err, "decode webhook envelope")
	}
	if !found {
		return nil, nil, errors.New("webhook envelope has no obj")
	}

	txn, err := parseTransaction(objRaw)
	if err != nil {
		return nil, nil, err
	}
	return txn, objRaw, nil
}

func parseTransaction(raw []byte) (*Transaction, error) {
	var txn Transaction
	d := jx.DecodeBytes(raw)
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			txn.ID, err = d.Int64()
		case "amount_cents":
			txn.AmountCents, err = d.Int64()
		case "created_at":
			txn.CreatedAt, err = d.Str()
		case "currency":
			txn.Currency, err = d.Str()
		case "error_occured":
			txn.ErrorOccured, err = d.Bool()
		case "has_parent_transaction":
			txn.HasParentTransaction, err = d.Bool()
		case "integration_id":
			txn.IntegrationID, err = d.Int64()
		case "is_3d_secure":
			txn.Is3DSecure, err = d.Bool()
		case "is_auth":
			txn.IsAuth, err = d.Bool()
		case "is_capture":
			txn.IsCapture, err = d.Bool()
		case "is_refunded":
			txn.IsRefunded, err = d.Bool()
		case "is_standalone_payment":
			txn.IsStandalone, err = d.Bool()
		case "is_voided":
			txn.IsVoided, err = d.Bool()
		case "order":
			err = d.ObjBytes(func(d *jx.Decoder, key []byte) error {
				if string(key) != "id" {
					return d.Skip()
				}
				id, err := d.Int64()
				txn.Order.ID = id
				return err
			})
		case "owner":
			txn.Owner, err = d.Int64()
		case "pending":
			txn.Pending, err = d.Bool()
		case "source_data":
			err = d.ObjBytes(func(d *jx.Decoder, key []byte) error {
				var err error
				switch string(key) {
				case "pan":
					txn.SourceData.Pan, err = d.Str()
				case "sub_type":
					txn.SourceData.SubType, err = d.Str()
				case "type":
					txn.SourceData.Type, err = d.Str()
				default:
					return d.Skip()
				}
				return err
			})
		case "success":
			txn.Success, err = d.Bool()
		default:
			return d.Skip()
		}
		return err
	}); err != nil {
		return nil, errors.Wrap(err, "decode transaction")
	}
	return &txn, nil
}

// TransactionFromQuery reassembles a transaction from the flattened query
// parameters of the synchronous browser callback. Nested fields arrive with
// dotted keys (order, source_data.pan, ...).
func TransactionFromQuery(q url.Values) (*Transaction, error) {
	var (
		txn Transaction
		err error
	)
	get := func(key string) string { return q.Get(key) }
	parseInt := func(key string) int64 {
		if err != nil {
			return 0
		}
		s := get(key)
		if s == "" {
			return 0
		}
		var v int64
		v, err = strconv.ParseInt(s, 10, 64)
		if err != nil {
			err = errors.Wrapf(err, "parse %s", key)
		}
		return v
	}
	parseBool := func(key string) bool { return get(key) == "true" }

	txn.ID = parseInt("id")
	txn.AmountCents = parseInt("amount_cents")
	txn.CreatedAt = get("created_at")
	txn.Currency = get("currency")
	txn.ErrorOccured = parseBool("error_occured")
	txn.HasParentTransaction = parseBool("has_parent_transaction")
	txn.IntegrationID = parseInt("integration_id")
	txn.Is3DSecure = parseBool("is_3d_secure")
	txn.IsAuth = parseBool("is_auth")
	txn.IsCapture = parseBool("is_capture")
	txn.IsRefunded = parseBool("is_refunded")
	txn.IsStandalone = parseBool("is_standalone_payment")
	txn.IsVoided = parseBool("is_voided")
	txn.Order.ID = parseInt("order")
	txn.Owner = parseInt("owner")
	txn.Pending = parseBool("pending")
	txn.SourceData.Pan = get("source_data.pan")
	txn.SourceData.SubType = get("source_data.sub_type")
	txn.SourceData.Type = get("source_data.type")
	txn.Success = parseBool("success")

	if err != nil {
		return nil, err
	}
	return &txn, nil
}
