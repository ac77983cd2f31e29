// Package pricing derives the money fields of an order. Everything here is a
// pure function of its inputs so the checkout preview and order creation
// always agree.
package pricing

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/vasiliy-maslov/furniture-store/internal/voucher"
)

const (
	// FreeShippingThreshold is the subtotal (VND) from which delivery is free.
	FreeShippingThreshold int64 = 1_000_000
	// FlatShippingFee is charged below the threshold.
	FlatShippingFee int64 = 30_000
)

type Line struct {
	UnitPrice int64
	Quantity  int
}

type Input struct {
	Lines           []Line
	Voucher         *voucher.Voucher
	ShippingAddress string
	ShopAddress     string
}

type Quote struct {
	Subtotal    int64 `json:"subtotal"`
	Discount    int64 `json:"discount"`
	ShippingFee int64 `json:"shipping_fee"`
	Total       int64 `json:"total"`
	ShopPickup  bool  `json:"shop_pickup"`
}

func Calculate(in Input) Quote {
	q := Quote{Subtotal: Subtotal(in.Lines)}
	q.ShopPickup = IsShopPickup(in.ShippingAddress, in.ShopAddress)
	q.ShippingFee = ShippingFee(q.Subtotal, q.ShopPickup)
	if in.Voucher != nil {
		q.Discount = voucher.CalculateDiscount(*in.Voucher, q.Subtotal)
	}
	q.Total = Total(q.Subtotal, q.Discount, q.ShippingFee)
	return q
}

func Subtotal(lines []Line) int64 {
	var subtotal int64
	for _, l := range lines {
		subtotal += l.UnitPrice * int64(l.Quantity)
	}
	return subtotal
}

func ShippingFee(subtotal int64, shopPickup bool) int64 {
	if shopPickup || subtotal >= FreeShippingThreshold {
		return 0
	}
	return FlatShippingFee
}

// Total floors at zero; the discount itself is not clamped here.
func Total(subtotal, discount, shippingFee int64) int64 {
	total := subtotal - discount + shippingFee
	if total < 0 {
		return 0
	}
	return total
}

// IsShopPickup reports whether the delivery address is the shop itself.
// An unset shop address never matches.
func IsShopPickup(shippingAddress, shopAddress string) bool {
	shop := NormalizeAddress(shopAddress)
	if shop == "" {
		return false
	}
	return NormalizeAddress(shippingAddress) == shop
}

// đ/Đ carry no combining mark, so NFD alone does not reduce them.
var dReplacer = strings.NewReplacer("đ", "d", "Đ", "d")

// NormalizeAddress removes whitespace, diacritics and case differences.
func NormalizeAddress(address string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, address)
	if err != nil {
		stripped = address
	}
	stripped = dReplacer.Replace(stripped)
	// Casers are stateful and must not be shared between goroutines.
	stripped = cases.Fold().String(stripped)

	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, stripped)
}
