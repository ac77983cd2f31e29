package order

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/vasiliy-maslov/furniture-store/internal/payment/momo"
)

type OrderStatus string

const (
	StatusPending    OrderStatus = "PENDING"
	StatusProcessing OrderStatus = "PROCESSING"
	StatusShipping   OrderStatus = "SHIPPING"
	StatusCompleted  OrderStatus = "COMPLETED"
	StatusCancelled  OrderStatus = "CANCELLED"
)

func (os OrderStatus) String() string {
	return string(os)
}

func (os OrderStatus) Valid() bool {
	_, ok := allowedTransitions[os]
	return ok
}

// Terminal reports whether no path may move the order any further.
func (os OrderStatus) Terminal() bool {
	return os == StatusCompleted || os == StatusCancelled
}

type PaymentStatus string

const (
	PaymentUnpaid PaymentStatus = "UNPAID"
	PaymentPaid   PaymentStatus = "PAID"
)

func (ps PaymentStatus) String() string {
	return string(ps)
}

type PaymentMethod string

const (
	PaymentCOD          PaymentMethod = "COD"
	PaymentBankTransfer PaymentMethod = "BANK_TRANSFER"
	PaymentMomo         PaymentMethod = "MOMO"
)

func (pm PaymentMethod) String() string {
	return string(pm)
}

func (pm PaymentMethod) Valid() bool {
	switch pm {
	case PaymentCOD, PaymentBankTransfer, PaymentMomo:
		return true
	}
	return false
}

// OrderItem snapshots the product as it was sold. Later catalog edits do
// not touch it.
type OrderItem struct {
	ID          uuid.UUID `json:"id" db:"id"`
	OrderID     uuid.UUID `json:"order_id" db:"order_id"`
	ProductID   uuid.UUID `json:"product_id" db:"product_id"`
	ProductName string    `json:"product_name" db:"product_name"`
	ProductSKU  string    `json:"product_sku" db:"product_sku"`
	UnitPrice   int64     `json:"unit_price" db:"unit_price"`
	Quantity    int       `json:"quantity" db:"quantity"`
	Subtotal    int64     `json:"subtotal" db:"subtotal"`
}

// Order amounts are whole VND.
type Order struct {
	ID              uuid.UUID     `json:"id" db:"id"`
	OrderNumber     string        `json:"order_number" db:"order_number"`
	UserID          uuid.UUID     `json:"user_id" db:"user_id"`
	Status          OrderStatus   `json:"status" db:"status"`
	PaymentStatus   PaymentStatus `json:"payment_status" db:"payment_status"`
	PaymentMethod   PaymentMethod `json:"payment_method" db:"payment_method"`
	Subtotal        int64         `json:"subtotal" db:"subtotal"`
	Discount        int64         `json:"discount" db:"discount"`
	ShippingFee     int64         `json:"shipping_fee" db:"shipping_fee"`
	Total           int64         `json:"total" db:"total"`
	CustomerName    string        `json:"customer_name" db:"customer_name"`
	CustomerEmail   string        `json:"customer_email" db:"customer_email"`
	CustomerPhone   string        `json:"customer_phone" db:"customer_phone"`
	ShippingAddress string        `json:"shipping_address" db:"shipping_address"`
	Notes           string        `json:"notes,omitempty" db:"notes"`
	VoucherID       *uuid.UUID    `json:"voucher_id,omitempty" db:"voucher_id"`
	VoucherCode     *string       `json:"voucher_code,omitempty" db:"voucher_code"`
	OrderItems      []OrderItem   `json:"order_items" db:"-"`
	CreatedAt       time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at" db:"updated_at"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty" db:"completed_at"`
	CancelledAt     *time.Time    `json:"cancelled_at,omitempty" db:"cancelled_at"`
	CancelReason    *string       `json:"cancel_reason,omitempty" db:"cancel_reason"`
}

// SweptByTimeout reports whether the MoMo timeout sweep cancelled the order.
func (o *Order) SweptByTimeout() bool {
	return o.Status == StatusCancelled && o.CancelReason != nil && IsTimeoutReason(*o.CancelReason)
}

// CreateOrderInput is a checkout request after authentication.
type CreateOrderInput struct {
	UserID          uuid.UUID
	Items           []ItemInput
	PaymentMethod   PaymentMethod
	CustomerName    string
	CustomerEmail   string
	CustomerPhone   string
	ShippingAddress string
	Notes           string
	VoucherCode     string
	// SelectedProductIDs are the cart lines to clear after purchase. When
	// empty, every purchased product is cleared from the cart.
	SelectedProductIDs []uuid.UUID
}

type ItemInput struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
}

// CreateOrderResult carries the MoMo payment details when the order is paid
// by wallet; Momo is nil otherwise.
type CreateOrderResult struct {
	Order *Order            `json:"order"`
	Momo  *momo.PaymentInfo `json:"momo"`
}

type ReorderResult struct {
	Added   []ReorderLine `json:"added"`
	Skipped []ReorderLine `json:"skipped"`
}

type ReorderLine struct {
	ProductID   uuid.UUID `json:"product_id"`
	ProductName string    `json:"product_name"`
	Quantity    int       `json:"quantity"`
	Reason      string    `json:"reason,omitempty"`
}

type SweepResult struct {
	CancelledCount int     `json:"cancelled_count"`
	TimeoutMinutes float64 `json:"timeout_minutes"`
}
