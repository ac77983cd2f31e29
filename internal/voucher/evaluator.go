package voucher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

var (
	ErrVoucherNotFound       = errors.New("voucher not found")
	ErrVoucherInactive       = errors.New("voucher is not active")
	ErrVoucherExpired        = errors.New("voucher is not valid at this time")
	ErrVoucherExhausted      = errors.New("voucher usage limit reached")
	ErrVoucherMinOrderNotMet = errors.New("order total is below the voucher minimum")
)

// IsValidationError reports whether err is one of the client-correctable
// voucher rejections.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrVoucherNotFound) ||
		errors.Is(err, ErrVoucherInactive) ||
		errors.Is(err, ErrVoucherExpired) ||
		errors.Is(err, ErrVoucherExhausted) ||
		errors.Is(err, ErrVoucherMinOrderNotMet)
}

// Evaluator checks a code against an order subtotal. It never mutates the
// voucher, so clients may call it as often as they like while shopping.
type Evaluator interface {
	Validate(ctx context.Context, code string, orderTotal int64) (*Result, error)
}

type evaluator struct {
	repo Repository
	now  func() time.Time
}

func NewEvaluator(repo Repository, now func() time.Time) Evaluator {
	if now == nil {
		now = time.Now
	}
	return &evaluator{repo: repo, now: now}
}

// NormalizeCode canonicalizes user input before lookup.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (e *evaluator) Validate(ctx context.Context, code string, orderTotal int64) (*Result, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, ErrVoucherNotFound
	}

	v, err := e.repo.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrVoucherNotFound) {
			return nil, ErrVoucherNotFound
		}
		log.Error().Err(err).Str("voucher_code", code).Msg("service: failed to load voucher")
		return nil, fmt.Errorf("service: failed to load voucher: %w", err)
	}

	if err := Check(*v, orderTotal, e.now()); err != nil {
		log.Warn().Err(err).Str("voucher_code", code).Int64("order_total", orderTotal).Msg("service: voucher rejected")
		return nil, err
	}

	return &Result{Voucher: *v, Discount: CalculateDiscount(*v, orderTotal)}, nil
}

// Check applies the eligibility rules in a fixed order and returns the first
// violation.
func Check(v Voucher, orderTotal int64, now time.Time) error {
	if !v.IsActive {
		return ErrVoucherInactive
	}
	if now.Before(v.StartDate) || now.After(v.EndDate) {
		return ErrVoucherExpired
	}
	if v.UsageLimit != nil && v.UsedCount >= *v.UsageLimit {
		return ErrVoucherExhausted
	}
	if v.MinOrderValue != nil && orderTotal < *v.MinOrderValue {
		return fmt.Errorf("%w: minimum is %d", ErrVoucherMinOrderNotMet, *v.MinOrderValue)
	}
	return nil
}

// CalculateDiscount is the single discount formula shared by the checkout
// preview and order creation. Percentages are rounded half-up to whole VND
// before the cap; the result never exceeds the subtotal.
func CalculateDiscount(v Voucher, subtotal int64) int64 {
	if subtotal <= 0 {
		return 0
	}

	var discount int64
	switch v.DiscountType {
	case DiscountPercentage:
		discount = decimal.NewFromInt(subtotal).
			Mul(decimal.NewFromInt(v.DiscountValue)).
			Div(decimal.NewFromInt(100)).
			Round(0).
			IntPart()
		if v.MaxDiscount != nil && discount > *v.MaxDiscount {
			discount = *v.MaxDiscount
		}
	case DiscountFixed:
		discount = v.DiscountValue
	default:
		return 0
	}

	if discount < 0 {
		return 0
	}
	if discount > subtotal {
		return subtotal
	}
	return discount
}
