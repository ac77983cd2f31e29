package voucher

import (
	"time"

	"github.com/gofrs/uuid"
)

type DiscountType string

const (
	DiscountPercentage DiscountType = "PERCENTAGE"
	DiscountFixed      DiscountType = "FIXED"
)

func (t DiscountType) Valid() bool {
	switch t {
	case DiscountPercentage, DiscountFixed:
		return true
	}
	return false
}

type Voucher struct {
	ID            uuid.UUID    `json:"id"`
	Code          string       `json:"code"`
	DiscountType  DiscountType `json:"discount_type"`
	DiscountValue int64        `json:"discount_value"`
	MinOrderValue *int64       `json:"min_order_value,omitempty"`
	MaxDiscount   *int64       `json:"max_discount,omitempty"`
	UsageLimit    *int         `json:"usage_limit,omitempty"`
	UsedCount     int          `json:"used_count"`
	StartDate     time.Time    `json:"start_date"`
	EndDate       time.Time    `json:"end_date"`
	IsActive      bool         `json:"is_active"`
}

// Result is what a successful validation yields.
type Result struct {
	Voucher  Voucher `json:"voucher"`
	Discount int64   `json:"discount"`
}
