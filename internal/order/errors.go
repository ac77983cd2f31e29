package order

import (
	"errors"

	"github.com/vasiliy-maslov/furniture-store/internal/inventory"
	"github.com/vasiliy-maslov/furniture-store/internal/payment/momo"
	"github.com/vasiliy-maslov/furniture-store/internal/voucher"
)

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrProductNotFound = errors.New("product not found")

	ErrEmptyOrder           = errors.New("order must contain at least one item")
	ErrInvalidQuantity      = errors.New("item quantity must be greater than zero")
	ErrInvalidPaymentMethod = errors.New("unsupported payment method")
	ErrProductInactive      = errors.New("product is not available")
	ErrInsufficientStock    = inventory.ErrInsufficientStock

	ErrNotOrderOwner           = errors.New("order does not belong to the current user")
	ErrAlreadyPaid             = errors.New("order is already paid")
	ErrNotCancellable          = errors.New("only pending orders can be cancelled")
	ErrNotPayable              = errors.New("order can no longer be paid")
	ErrNotMomoOrder            = errors.New("order is not a MoMo order")
	ErrNothingToReorder        = errors.New("none of the order items can be added to the cart")
	ErrStatusAlreadySet        = errors.New("status is already set to the desired value")
	ErrInvalidStatusTransition = errors.New("invalid order status transition")
	ErrInvalidTimeout          = errors.New("timeout must be positive")

	// ErrDuplicateOrderNumber is returned by the repository when the
	// generated order number collides with an existing one.
	ErrDuplicateOrderNumber = errors.New("order number already exists")

	ErrAmountMismatch = errors.New("amount does not match order total")
	ErrOrderExpired   = errors.New("order expired")
)

// IsValidationError reports whether err is a client-correctable rejection of
// an order operation.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrEmptyOrder) ||
		errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrInvalidPaymentMethod) ||
		errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrProductInactive) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrNotMomoOrder) ||
		errors.Is(err, ErrNothingToReorder) ||
		errors.Is(err, ErrInvalidTimeout) ||
		errors.Is(err, momo.ErrPaymentRejected) ||
		errors.Is(err, momo.ErrGatewayUnavailable) ||
		voucher.IsValidationError(err)
}

// IsConflictError reports whether err rejects an operation because of the
// order's current state.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrAlreadyPaid) ||
		errors.Is(err, ErrNotCancellable) ||
		errors.Is(err, ErrNotPayable) ||
		errors.Is(err, ErrStatusAlreadySet) ||
		errors.Is(err, ErrInvalidStatusTransition) ||
		errors.Is(err, ErrOrderExpired)
}

// IsWebhookRejection reports whether err is a structural rejection of a MoMo
// webhook: the delivery is refused without an acknowledgment.
func IsWebhookRejection(err error) bool {
	return errors.Is(err, momo.ErrPartnerMismatch) ||
		errors.Is(err, momo.ErrInvalidSignature) ||
		errors.Is(err, ErrAmountMismatch)
}
