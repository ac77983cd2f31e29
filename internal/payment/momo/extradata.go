package momo

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gofrs/uuid"
)

var ErrInvalidExtraData = errors.New("invalid extraData")

type extraData struct {
	OrderID string `json:"orderId"`
}

// EncodeExtraData wraps the internal order id in the opaque token MoMo
// echoes back on redirects and webhooks.
func EncodeExtraData(orderID uuid.UUID) string {
	raw, _ := json.Marshal(extraData{OrderID: orderID.String()})
	return base64.StdEncoding.EncodeToString(raw)
}

func DecodeExtraData(token string) (uuid.UUID, error) {
	if token == "" {
		return uuid.Nil, fmt.Errorf("%w: empty", ErrInvalidExtraData)
	}

	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidExtraData, err)
	}

	var payload extraData
	if err := json.Unmarshal(raw, &payload); err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidExtraData, err)
	}

	id, err := uuid.FromString(payload.OrderID)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: bad order id %q", ErrInvalidExtraData, payload.OrderID)
	}
	return id, nil
}

// ProviderOrderID builds the attempt-scoped id MoMo sees. The provider
// rejects reused ids, so every attempt carries its own timestamp.
func ProviderOrderID(orderNumber string, unixMilli int64) string {
	return fmt.Sprintf("%s%s%d", orderNumber, providerIDSeparator, unixMilli)
}

func RequestID(orderID uuid.UUID, unixMilli int64) string {
	return fmt.Sprintf("%s%s%d", orderID, providerIDSeparator, unixMilli)
}

const providerIDSeparator = "_"

// OrderNumberFromProviderID recovers the internal order number from an id
// produced by ProviderOrderID.
func OrderNumberFromProviderID(providerOrderID string) string {
	number, _, _ := strings.Cut(providerOrderID, providerIDSeparator)
	return number
}
