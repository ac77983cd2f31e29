package momo

import (
	"encoding/json"
	"errors"
)

var (
	ErrPartnerMismatch  = errors.New("partner code mismatch")
	ErrInvalidSignature = errors.New("invalid signature")
)

// IPN is a webhook delivery. MoMo has sent amount, transId and responseTime
// both as JSON numbers and as strings, so they are kept as json.Number and
// signed in their literal form.
type IPN struct {
	PartnerCode  string      `json:"partnerCode"`
	OrderID      string      `json:"orderId"`
	RequestID    string      `json:"requestId"`
	Amount       json.Number `json:"amount"`
	OrderInfo    string      `json:"orderInfo"`
	OrderType    string      `json:"orderType"`
	TransID      json.Number `json:"transId"`
	ResultCode   int         `json:"resultCode"`
	Message      string      `json:"message"`
	PayType      string      `json:"payType"`
	ResponseTime json.Number `json:"responseTime"`
	ExtraData    string      `json:"extraData"`
	Signature    string      `json:"signature"`
}

// AmountVND parses the reported amount.
func (n IPN) AmountVND() (int64, error) {
	return n.Amount.Int64()
}

func (n IPN) Succeeded() bool {
	return n.ResultCode == ResultSuccess
}

// Ack is the body MoMo expects back from an accepted webhook.
type Ack struct {
	PartnerCode string `json:"partnerCode"`
	OrderID     string `json:"orderId"`
	RequestID   string `json:"requestId"`
	ErrorCode   int    `json:"errorCode"`
	Message     string `json:"message"`
}

func NewAck(n IPN, message string) Ack {
	return Ack{
		PartnerCode: n.PartnerCode,
		OrderID:     n.OrderID,
		RequestID:   n.RequestID,
		ErrorCode:   0,
		Message:     message,
	}
}
