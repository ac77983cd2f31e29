// Package momo talks to the MoMo e-wallet payment gateway: it signs payment
// initiation requests, verifies IPN webhooks and carries the internal order
// id through the provider round trip in extraData.
package momo

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// Field is one name/value pair of a signed payload. Order matters.
type Field struct {
	Key   string
	Value string
}

// Canonicalize joins fields as key=value pairs separated by '&', in the
// order given. No escaping is applied; MoMo signs the raw values.
func Canonicalize(fields []Field) string {
	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(f.Key)
		b.WriteByte('=')
		b.WriteString(f.Value)
	}
	return b.String()
}

// Sign returns the lowercase hex HMAC-SHA256 of the canonical form.
func Sign(secretKey string, fields []Field) string {
	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write([]byte(Canonicalize(fields)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify compares signature against the recomputed one in constant time.
func Verify(secretKey string, fields []Field, signature string) bool {
	expected := Sign(secretKey, fields)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}

// InitiationFields is the field order MoMo expects for a create-payment
// signature.
func InitiationFields(accessKey string, req PaymentRequest) []Field {
	return []Field{
		{"accessKey", accessKey},
		{"amount", req.Amount},
		{"extraData", req.ExtraData},
		{"ipnUrl", req.IpnURL},
		{"orderId", req.OrderID},
		{"orderInfo", req.OrderInfo},
		{"partnerCode", req.PartnerCode},
		{"redirectUrl", req.RedirectURL},
		{"requestId", req.RequestID},
		{"requestType", req.RequestType},
	}
}

// IPNFields is the field order MoMo uses to sign webhook deliveries. It is
// a different set from InitiationFields.
func IPNFields(accessKey string, n IPN) []Field {
	return []Field{
		{"accessKey", accessKey},
		{"amount", n.Amount.String()},
		{"extraData", n.ExtraData},
		{"message", n.Message},
		{"orderId", n.OrderID},
		{"orderInfo", n.OrderInfo},
		{"orderType", n.OrderType},
		{"partnerCode", n.PartnerCode},
		{"payType", n.PayType},
		{"requestId", n.RequestID},
		{"responseTime", n.ResponseTime.String()},
		{"resultCode", strconv.Itoa(n.ResultCode)},
		{"transId", n.TransID.String()},
	}
}
