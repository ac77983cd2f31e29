package momo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/furniture-store/internal/config"
)

const (
	requestTypePayWithMethod = "payWithMethod"
	ResultSuccess            = 0
)

var (
	ErrPaymentRejected    = errors.New("payment initiation failed")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
)

// PaymentRequest is the create-payment body, field names as MoMo spells them.
type PaymentRequest struct {
	PartnerCode  string `json:"partnerCode"`
	PartnerName  string `json:"partnerName,omitempty"`
	StoreID      string `json:"storeId,omitempty"`
	RequestID    string `json:"requestId"`
	Amount       string `json:"amount"`
	OrderID      string `json:"orderId"`
	OrderInfo    string `json:"orderInfo"`
	RedirectURL  string `json:"redirectUrl"`
	IpnURL       string `json:"ipnUrl"`
	Lang         string `json:"lang"`
	RequestType  string `json:"requestType"`
	AutoCapture  bool   `json:"autoCapture"`
	ExtraData    string `json:"extraData"`
	OrderGroupID string `json:"orderGroupId"`
	Signature    string `json:"signature"`
}

type PaymentResponse struct {
	PartnerCode string `json:"partnerCode"`
	OrderID     string `json:"orderId"`
	RequestID   string `json:"requestId"`
	ResultCode  int    `json:"resultCode"`
	Message     string `json:"message"`
	PayURL      string `json:"payUrl"`
	Deeplink    string `json:"deeplink"`
	QRCodeURL   string `json:"qrCodeUrl"`
}

// Payment describes one payment attempt for an order.
type Payment struct {
	OrderID     uuid.UUID
	OrderNumber string
	Amount      int64
	OrderInfo   string
}

// PaymentInfo is what the client needs to finish paying on MoMo's side.
type PaymentInfo struct {
	ProviderOrderID string `json:"provider_order_id"`
	RequestID       string `json:"request_id"`
	Amount          int64  `json:"amount"`
	PayURL          string `json:"pay_url"`
	Deeplink        string `json:"deeplink,omitempty"`
	QRCodeURL       string `json:"qr_code_url,omitempty"`
}

type Client struct {
	cfg        config.MomoConfig
	httpClient *http.Client
	now        func() time.Time
}

// NewClient builds a gateway client. A nil httpClient gets one with
// cfg.RequestTimeout.
func NewClient(cfg config.MomoConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return &Client{cfg: cfg, httpClient: httpClient, now: time.Now}
}

func (c *Client) PartnerCode() string {
	return c.cfg.PartnerCode
}

// BuildRequest produces a signed create-payment request. Every call yields
// fresh provider-facing ids.
func (c *Client) BuildRequest(p Payment) PaymentRequest {
	ts := c.now().UnixMilli()
	req := PaymentRequest{
		PartnerCode:  c.cfg.PartnerCode,
		PartnerName:  c.cfg.PartnerName,
		StoreID:      c.cfg.StoreID,
		RequestID:    RequestID(p.OrderID, ts),
		Amount:       strconv.FormatInt(p.Amount, 10),
		OrderID:      ProviderOrderID(p.OrderNumber, ts),
		OrderInfo:    p.OrderInfo,
		RedirectURL:  c.cfg.RedirectURL,
		IpnURL:       c.cfg.IPNURL,
		Lang:         c.cfg.Lang,
		RequestType:  requestTypePayWithMethod,
		AutoCapture:  true,
		ExtraData:    EncodeExtraData(p.OrderID),
		OrderGroupID: "",
	}
	req.Signature = Sign(c.cfg.SecretKey, InitiationFields(c.cfg.AccessKey, req))
	return req
}

// CreatePayment sends a signed initiation request. Any non-zero result code
// comes back as ErrPaymentRejected carrying the provider's message.
func (c *Client) CreatePayment(ctx context.Context, p Payment) (*PaymentInfo, error) {
	req := c.BuildRequest(p)

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("momo: failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("momo: failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		log.Error().Err(err).Str("provider_order_id", req.OrderID).Msg("momo: create payment request failed")
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrGatewayUnavailable, err)
	}

	var out PaymentResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		log.Error().Err(err).Int("http_status", resp.StatusCode).Str("provider_order_id", req.OrderID).Msg("momo: unreadable create payment response")
		return nil, fmt.Errorf("%w: unexpected response (HTTP %d)", ErrGatewayUnavailable, resp.StatusCode)
	}

	if out.ResultCode != ResultSuccess {
		log.Warn().
			Int("result_code", out.ResultCode).
			Str("message", out.Message).
			Str("provider_order_id", req.OrderID).
			Msg("momo: payment initiation rejected")
		return nil, fmt.Errorf("%w: %s (code %d)", ErrPaymentRejected, out.Message, out.ResultCode)
	}

	log.Info().Stringer("order_id", p.OrderID).Str("provider_order_id", req.OrderID).Msg("momo: payment initiated")

	return &PaymentInfo{
		ProviderOrderID: req.OrderID,
		RequestID:       req.RequestID,
		Amount:          p.Amount,
		PayURL:          out.PayURL,
		Deeplink:        out.Deeplink,
		QRCodeURL:       out.QRCodeURL,
	}, nil
}

// VerifyIPN checks that a webhook comes from our partner account and carries
// a valid signature.
func (c *Client) VerifyIPN(n IPN) error {
	if n.PartnerCode != c.cfg.PartnerCode {
		return ErrPartnerMismatch
	}
	if !Verify(c.cfg.SecretKey, IPNFields(c.cfg.AccessKey, n), n.Signature) {
		return ErrInvalidSignature
	}
	return nil
}
