package order_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/furniture-store/internal/config"
	"github.com/vasiliy-maslov/furniture-store/internal/metrics"
	"github.com/vasiliy-maslov/furniture-store/internal/notify"
	"github.com/vasiliy-maslov/furniture-store/internal/order"
	"github.com/vasiliy-maslov/furniture-store/internal/payment/momo"
	"github.com/vasiliy-maslov/furniture-store/internal/pricing"
	"github.com/vasiliy-maslov/furniture-store/internal/product"
	"github.com/vasiliy-maslov/furniture-store/internal/voucher"
)

const (
	shopAddress   = "123 Lê Lợi, Quận 1, TP. Hồ Chí Minh"
	customerAddr  = "45 Trần Hưng Đạo, Hà Nội"
	testAccessKey = "F8BBA842ECF85"
	testSecretKey = "K951B6PE1waDMi640xX08PD3vg6EkVlz"
	testPartner   = "MOMO"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	store    *memoryStore
	gateway  *fakeGateway
	clock    *testClock
	cache    *memoryCache
	registry *prometheus.Registry
	svc      order.Service
	userID   uuid.UUID
}

type harnessOption func(*order.Dependencies)

func withNotifier(n notify.Notifier) harnessOption {
	return func(d *order.Dependencies) { d.Notifier = n }
}

func withCache(c *memoryCache) harnessOption {
	return func(d *order.Dependencies) { d.Cache = c }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	store := newMemoryStore()
	clock := &testClock{now: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	gateway := &fakeGateway{verifier: momo.NewClient(config.MomoConfig{
		PartnerCode: testPartner,
		AccessKey:   testAccessKey,
		SecretKey:   testSecretKey,
	}, nil)}
	registry := prometheus.NewRegistry()

	deps := order.Dependencies{
		Orders:      store,
		Products:    productView{store},
		Vouchers:    voucher.NewEvaluator(voucherView{store}, clock.Now),
		Carts:       cartView{store},
		Gateway:     gateway,
		Notifier:    notify.LogNotifier{},
		Metrics:     metrics.New(registry),
		ShopAddress: shopAddress,
		Now:         clock.Now,
	}
	for _, opt := range opts {
		opt(&deps)
	}

	h := &harness{
		store:    store,
		gateway:  gateway,
		clock:    clock,
		registry: registry,
		svc:      order.NewService(deps),
		userID:   uuid.Must(uuid.NewV4()),
	}
	if c, ok := deps.Cache.(*memoryCache); ok {
		h.cache = c
	}
	return h
}

func (h *harness) input(method order.PaymentMethod, items ...order.ItemInput) order.CreateOrderInput {
	return order.CreateOrderInput{
		UserID:          h.userID,
		Items:           items,
		PaymentMethod:   method,
		CustomerName:    "Nguyễn Văn A",
		CustomerEmail:   "a@example.com",
		CustomerPhone:   "0901234567",
		ShippingAddress: customerAddr,
	}
}

func (h *harness) counter(t *testing.T, name string, labels ...string) float64 {
	t.Helper()
	families, err := h.registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			match := true
			for i, lp := range m.GetLabel() {
				if i >= len(labels) || lp.GetValue() != labels[i] {
					match = false
				}
			}
			if match {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestCreateOrder_CODHappyPath(t *testing.T) {
	h := newHarness(t)
	sofa := h.store.addProduct("sofa", 1_500_000, 5)
	chair := h.store.addProduct("chair", 250_000, 10)
	lamp := h.store.addProduct("lamp", 90_000, 3)
	require.NoError(t, cartView{h.store}.SetQuantity(context.Background(), h.userID, sofa.ID, 1))
	require.NoError(t, cartView{h.store}.SetQuantity(context.Background(), h.userID, chair.ID, 2))
	require.NoError(t, cartView{h.store}.SetQuantity(context.Background(), h.userID, lamp.ID, 1))

	result, err := h.svc.CreateOrder(context.Background(), h.input(order.PaymentCOD,
		order.ItemInput{ProductID: sofa.ID, Quantity: 1},
		order.ItemInput{ProductID: chair.ID, Quantity: 2},
	))
	require.NoError(t, err)
	require.NotNil(t, result.Order)
	assert.Nil(t, result.Momo)

	o := result.Order
	assert.Equal(t, int64(2_000_000), o.Subtotal)
	assert.Equal(t, int64(0), o.ShippingFee)
	assert.Equal(t, int64(0), o.Discount)
	assert.Equal(t, int64(2_000_000), o.Total)
	assert.Equal(t, order.StatusPending, o.Status)
	assert.Equal(t, order.PaymentUnpaid, o.PaymentStatus)
	assert.True(t, strings.HasPrefix(o.OrderNumber, "ORD"))
	assert.Nil(t, o.VoucherID)

	assert.Equal(t, 4, h.store.productByID(sofa.ID).Stock)
	assert.Equal(t, 1, h.store.productByID(sofa.ID).Sales)
	assert.Equal(t, 8, h.store.productByID(chair.ID).Stock)
	assert.Equal(t, 0, h.gateway.callCount())

	assert.Equal(t, 0, h.store.cartQuantity(h.userID, sofa.ID))
	assert.Equal(t, 0, h.store.cartQuantity(h.userID, chair.ID))
	assert.Equal(t, 1, h.store.cartQuantity(h.userID, lamp.ID), "unrelated cart line must survive")

	stored := h.store.stored(o.ID)
	wantItems := []order.OrderItem{
		{ProductID: sofa.ID, ProductName: "sofa", ProductSKU: "SKU-sofa", UnitPrice: 1_500_000, Quantity: 1, Subtotal: 1_500_000},
		{ProductID: chair.ID, ProductName: "chair", ProductSKU: "SKU-chair", UnitPrice: 250_000, Quantity: 2, Subtotal: 500_000},
	}
	ignoreIDs := cmp.FilterPath(func(p cmp.Path) bool {
		name := p.Last().String()
		return name == ".ID" || name == ".OrderID"
	}, cmp.Ignore())
	if diff := cmp.Diff(wantItems, stored.OrderItems, ignoreIDs); diff != "" {
		t.Errorf("order items mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, float64(1), h.counter(t, "orders_created_total", "COD"))
}

func TestCreateOrder_SalePriceAndSnapshot(t *testing.T) {
	h := newHarness(t)
	table := h.store.addProduct("table", 900_000, 2)
	h.store.updateProduct(table.ID, func(p *product.Product) {
		sale := int64(700_000)
		p.SalePrice = &sale
	})

	result, err := h.svc.CreateOrder(context.Background(), h.input(order.PaymentBankTransfer, order.ItemInput{ProductID: table.ID, Quantity: 1}))
	require.NoError(t, err)
	assert.Equal(t, int64(700_000), result.Order.Subtotal)
	assert.Equal(t, pricing.FlatShippingFee, result.Order.ShippingFee)
	assert.Equal(t, int64(730_000), result.Order.Total)

	h.store.updateProduct(table.ID, func(p *product.Product) {
		p.Name = "renamed table"
		p.Price = 1
	})
	stored := h.store.stored(result.Order.ID)
	assert.Equal(t, "table", stored.OrderItems[0].ProductName)
	assert.Equal(t, int64(700_000), stored.OrderItems[0].UnitPrice)
}

func TestCreateOrder_ShopPickupWaivesShipping(t *testing.T) {
	h := newHarness(t)
	stool := h.store.addProduct("stool", 200_000, 4)

	in := h.input(order.PaymentCOD, order.ItemInput{ProductID: stool.ID, Quantity: 1})
	in.ShippingAddress = "123 le loi,  quan 1, tp. ho chi minh"

	result, err := h.svc.CreateOrder(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.Order.ShippingFee)
	assert.Equal(t, int64(200_000), result.Order.Total)
}

func TestCreateOrder_PercentageVoucherCapped(t *testing.T) {
	h := newHarness(t)
	bed := h.store.addProduct("bed", 5_000_000, 3)
	limit, maxDiscount := 10, int64(300_000)
	h.store.addVoucher(voucher.Voucher{
		ID:            uuid.Must(uuid.NewV4()),
		Code:          "BED10",
		DiscountType:  voucher.DiscountPercentage,
		DiscountValue: 10,
		MaxDiscount:   &maxDiscount,
		UsageLimit:    &limit,
		StartDate:     h.clock.Now().Add(-time.Hour),
		EndDate:       h.clock.Now().Add(time.Hour),
		IsActive:      true,
	})

	preview, err := h.svc.QuoteVoucher(context.Background(), "bed10", 5_000_000, customerAddr)
	require.NoError(t, err)
	assert.Equal(t, 0, h.store.voucherByCode("BED10").UsedCount, "preview must not redeem")

	in := h.input(order.PaymentCOD, order.ItemInput{ProductID: bed.ID, Quantity: 1})
	in.VoucherCode = " bed10 "
	result, err := h.svc.CreateOrder(context.Background(), in)
	require.NoError(t, err)

	o := result.Order
	assert.Equal(t, int64(300_000), o.Discount)
	assert.Equal(t, preview.Quote.Discount, o.Discount, "preview and checkout must agree")
	assert.Equal(t, preview.Quote.Total, o.Total)
	assert.Equal(t, int64(4_700_000), o.Total)
	require.NotNil(t, o.VoucherCode)
	assert.Equal(t, "BED10", *o.VoucherCode)
	assert.Equal(t, 1, h.store.voucherByCode("BED10").UsedCount)
}

func TestCreateOrder_Rejections(t *testing.T) {
	tests := []struct {
		name      string
		build     func(h *harness) order.CreateOrderInput
		wantErrIs error
	}{
		{
			name:      "empty_items",
			build:     func(h *harness) order.CreateOrderInput { return h.input(order.PaymentCOD) },
			wantErrIs: order.ErrEmptyOrder,
		},
		{
			name: "zero_quantity",
			build: func(h *harness) order.CreateOrderInput {
				p := h.store.addProduct("desk", 100, 5)
				return h.input(order.PaymentCOD, order.ItemInput{ProductID: p.ID, Quantity: 0})
			},
			wantErrIs: order.ErrInvalidQuantity,
		},
		{
			name: "unknown_payment_method",
			build: func(h *harness) order.CreateOrderInput {
				p := h.store.addProduct("desk", 100, 5)
				return h.input("PAYPAL", order.ItemInput{ProductID: p.ID, Quantity: 1})
			},
			wantErrIs: order.ErrInvalidPaymentMethod,
		},
		{
			name: "unknown_product",
			build: func(h *harness) order.CreateOrderInput {
				p := h.store.addProduct("desk", 100, 5)
				return h.input(order.PaymentCOD,
					order.ItemInput{ProductID: p.ID, Quantity: 1},
					order.ItemInput{ProductID: uuid.Must(uuid.NewV4()), Quantity: 1},
				)
			},
			wantErrIs: order.ErrProductNotFound,
		},
		{
			name: "inactive_product",
			build: func(h *harness) order.CreateOrderInput {
				p := h.store.addProduct("desk", 100, 5)
				h.store.updateProduct(p.ID, func(p *product.Product) { p.IsActive = false })
				return h.input(order.PaymentCOD, order.ItemInput{ProductID: p.ID, Quantity: 1})
			},
			wantErrIs: order.ErrProductInactive,
		},
		{
			name: "insufficient_stock_after_merging_lines",
			build: func(h *harness) order.CreateOrderInput {
				p := h.store.addProduct("desk", 100, 3)
				return h.input(order.PaymentCOD,
					order.ItemInput{ProductID: p.ID, Quantity: 2},
					order.ItemInput{ProductID: p.ID, Quantity: 2},
				)
			},
			wantErrIs: order.ErrInsufficientStock,
		},
		{
			name: "expired_voucher",
			build: func(h *harness) order.CreateOrderInput {
				p := h.store.addProduct("desk", 100, 3)
				h.store.addVoucher(voucher.Voucher{
					ID: uuid.Must(uuid.NewV4()), Code: "OLD", DiscountType: voucher.DiscountFixed, DiscountValue: 10,
					StartDate: h.clock.Now().Add(-48 * time.Hour), EndDate: h.clock.Now().Add(-24 * time.Hour), IsActive: true,
				})
				in := h.input(order.PaymentCOD, order.ItemInput{ProductID: p.ID, Quantity: 1})
				in.VoucherCode = "OLD"
				return in
			},
			wantErrIs: voucher.ErrVoucherExpired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			in := tt.build(h)

			result, err := h.svc.CreateOrder(context.Background(), in)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErrIs)
			assert.True(t, order.IsValidationError(err))
			assert.Nil(t, result)
			assert.Equal(t, 0, h.store.orderCount())
			assert.Equal(t, 0, h.store.createCalls)
		})
	}
}

func TestCreateOrder_StockRaceLostAtCommit(t *testing.T) {
	h := newHarness(t)
	p := h.store.addProduct("armchair", 300_000, 1)

	// another checkout takes the last unit after this one read the stock
	h.store.afterProductRead = func() {
		h.store.updateProduct(p.ID, func(p *product.Product) {
			p.Stock = 0
			p.Sales = 1
		})
	}

	result, err := h.svc.CreateOrder(context.Background(), h.input(order.PaymentCOD, order.ItemInput{ProductID: p.ID, Quantity: 1}))
	require.Error(t, err)
	assert.ErrorIs(t, err, order.ErrInsufficientStock)
	assert.Nil(t, result)
	assert.Equal(t, 0, h.store.orderCount())
	assert.Equal(t, 0, h.store.productByID(p.ID).Stock)
	assert.Equal(t, 1, h.store.productByID(p.ID).Sales)
}

func TestCreateOrder_RegeneratesCollidingOrderNumber(t *testing.T) {
	h := newHarness(t)
	p := h.store.addProduct("shelf", 1_200_000, 2)
	h.store.duplicateNumbers = 2

	result, err := h.svc.CreateOrder(context.Background(), h.input(order.PaymentCOD, order.ItemInput{ProductID: p.ID, Quantity: 1}))
	require.NoError(t, err)
	assert.NotEmpty(t, result.Order.OrderNumber)
	assert.Equal(t, 3, h.store.createCalls)

	h.store.duplicateNumbers = 3
	_, err = h.svc.CreateOrder(context.Background(), h.input(order.PaymentCOD, order.ItemInput{ProductID: p.ID, Quantity: 1}))
	require.Error(t, err)
	assert.ErrorIs(t, err, order.ErrDuplicateOrderNumber)
	assert.False(t, order.IsValidationError(err))
}

func TestCreateOrder_Momo(t *testing.T) {
	t.Run("payment_info_returned", func(t *testing.T) {
		h := newHarness(t)
		p := h.store.addProduct("wardrobe", 1_200_000, 2)

		result, err := h.svc.CreateOrder(context.Background(), h.input(order.PaymentMomo, order.ItemInput{ProductID: p.ID, Quantity: 1}))
		require.NoError(t, err)
		require.NotNil(t, result.Momo)
		assert.Equal(t, int64(1_200_000), result.Momo.Amount)
		assert.Equal(t, result.Order.OrderNumber, momo.OrderNumberFromProviderID(result.Momo.ProviderOrderID))
		require.Equal(t, 1, h.gateway.callCount())
		assert.Equal(t, result.Order.ID, h.gateway.calls[0].OrderID)
	})

	t.Run("gateway_failure_keeps_order_payable", func(t *testing.T) {
		h := newHarness(t)
		p := h.store.addProduct("wardrobe", 1_200_000, 2)
		h.gateway.err = fmt.Errorf("%w: Yêu cầu bị từ chối (code 1001)", momo.ErrPaymentRejected)

		result, err := h.svc.CreateOrder(context.Background(), h.input(order.PaymentMomo, order.ItemInput{ProductID: p.ID, Quantity: 1}))
		require.Error(t, err)
		assert.ErrorIs(t, err, momo.ErrPaymentRejected)
		assert.True(t, order.IsValidationError(err))
		assert.Nil(t, result)

		orders, err := h.svc.ListOrders(context.Background(), h.userID)
		require.NoError(t, err)
		require.Len(t, orders, 1)
		stored := orders[0]
		assert.Equal(t, order.StatusPending, stored.Status)
		assert.Equal(t, order.PaymentUnpaid, stored.PaymentStatus)
		assert.Equal(t, 1, h.store.productByID(p.ID).Stock)

		h.gateway.err = nil
		retry, err := h.svc.PayWithMomo(context.Background(), h.userID, stored.ID)
		require.NoError(t, err)
		require.NotNil(t, retry.Momo)
		assert.Equal(t, stored.OrderNumber, momo.OrderNumberFromProviderID(retry.Momo.ProviderOrderID))
		assert.Equal(t, 2, h.gateway.callCount())
	})
}

func TestCreateOrder_NotificationFailureIsIgnored(t *testing.T) {
	h := newHarness(t, withNotifier(failingNotifier{}))
	p := h.store.addProduct("mirror", 400_000, 1)

	result, err := h.svc.CreateOrder(context.Background(), h.input(order.PaymentCOD, order.ItemInput{ProductID: p.ID, Quantity: 1}))
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, result.Order.Status)
}

func TestCreateOrder_OnlySelectedCartLinesCleared(t *testing.T) {
	h := newHarness(t)
	a := h.store.addProduct("a", 100_000, 5)
	b := h.store.addProduct("b", 100_000, 5)
	carts := cartView{h.store}
	require.NoError(t, carts.SetQuantity(context.Background(), h.userID, a.ID, 1))
	require.NoError(t, carts.SetQuantity(context.Background(), h.userID, b.ID, 1))

	in := h.input(order.PaymentCOD, order.ItemInput{ProductID: a.ID, Quantity: 1}, order.ItemInput{ProductID: b.ID, Quantity: 1})
	in.SelectedProductIDs = []uuid.UUID{a.ID}
	_, err := h.svc.CreateOrder(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, 0, h.store.cartQuantity(h.userID, a.ID))
	assert.Equal(t, 1, h.store.cartQuantity(h.userID, b.ID))
}

func TestCancelOrder_InventoryConservation(t *testing.T) {
	h := newHarness(t)
	sofa := h.store.addProduct("sofa", 1_500_000, 5)
	chair := h.store.addProduct("chair", 250_000, 10)
	before := map[uuid.UUID]product.Product{sofa.ID: h.store.productByID(sofa.ID), chair.ID: h.store.productByID(chair.ID)}

	result, err := h.svc.CreateOrder(context.Background(), h.input(order.PaymentCOD,
		order.ItemInput{ProductID: sofa.ID, Quantity: 1},
		order.ItemInput{ProductID: chair.ID, Quantity: 2},
	))
	require.NoError(t, err)

	cancelled, err := h.svc.CancelOrder(context.Background(), h.userID, result.Order.ID, "")
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)
	require.NotNil(t, cancelled.CancelReason)
	assert.Equal(t, "Cancelled by customer", *cancelled.CancelReason)

	for id, p := range before {
		after := h.store.productByID(id)
		assert.Equal(t, p.Stock, after.Stock)
		assert.Equal(t, p.Sales, after.Sales)
	}

	_, err = h.svc.CancelOrder(context.Background(), h.userID, result.Order.ID, "again")
	assert.ErrorIs(t, err, order.ErrNotCancellable)
	assert.Equal(t, before[sofa.ID].Stock, h.store.productByID(sofa.ID).Stock, "second cancel must not release twice")
	assert.Equal(t, float64(1), h.counter(t, "orders_cancelled_total", "user"))
}

func TestCancelOrder_Guards(t *testing.T) {
	h := newHarness(t)
	p := h.store.addProduct("desk", 100_000, 5)
	result, err := h.svc.CreateOrder(context.Background(), h.input(order.PaymentCOD, order.ItemInput{ProductID: p.ID, Quantity: 1}))
	require.NoError(t, err)

	_, err = h.svc.CancelOrder(context.Background(), uuid.Must(uuid.NewV4()), result.Order.ID, "")
	assert.ErrorIs(t, err, order.ErrNotOrderOwner)

	_, err = h.svc.CancelOrder(context.Background(), h.userID, uuid.Must(uuid.NewV4()), "")
	assert.ErrorIs(t, err, order.ErrOrderNotFound)

	_, err = h.svc.ConfirmPayment(context.Background(), h.userID, result.Order.ID)
	require.NoError(t, err)
	_, err = h.svc.CancelOrder(context.Background(), h.userID, result.Order.ID, "")
	assert.ErrorIs(t, err, order.ErrNotCancellable)
	assert.Equal(t, 4, h.store.productByID(p.ID).Stock)
}

func TestConfirmPayment(t *testing.T) {
	h := newHarness(t)
	p := h.store.addProduct("desk", 100_000, 5)
	result, err := h.svc.CreateOrder(context.Background(), h.input(order.PaymentBankTransfer, order.ItemInput{ProductID: p.ID, Quantity: 1}))
	require.NoError(t, err)
	id := result.Order.ID

	_, err = h.svc.ConfirmPayment(context.Background(), uuid.Must(uuid.NewV4()), id)
	assert.ErrorIs(t, err, order.ErrNotOrderOwner)

	_, err = h.svc.ConfirmPayment(context.Background(), h.userID, uuid.Must(uuid.NewV4()))
	assert.ErrorIs(t, err, order.ErrOrderNotFound)

	paid, err := h.svc.ConfirmPayment(context.Background(), h.userID, id)
	require.NoError(t, err)
	assert.Equal(t, order.PaymentPaid, paid.PaymentStatus)
	assert.Equal(t, order.StatusProcessing, paid.Status)

	_, err = h.svc.ConfirmPayment(context.Background(), h.userID, id)
	assert.ErrorIs(t, err, order.ErrAlreadyPaid)
	assert.True(t, order.IsConflictError(err))
}

func TestConfirmPayment_CancelledOrderIsNotPayable(t *testing.T) {
	h := newHarness(t)
	p := h.store.addProduct("desk", 100_000, 5)
	result, err := h.svc.CreateOrder(context.Background(), h.input(order.PaymentCOD, order.ItemInput{ProductID: p.ID, Quantity: 1}))
	require.NoError(t, err)
	_, err = h.svc.CancelOrder(context.Background(), h.userID, result.Order.ID, "changed my mind")
	require.NoError(t, err)

	_, err = h.svc.ConfirmPayment(context.Background(), h.userID, result.Order.ID)
	assert.ErrorIs(t, err, order.ErrNotPayable)
	assert.Equal(t, order.PaymentUnpaid, h.store.stored(result.Order.ID).PaymentStatus)
}

func TestCancelThenReorder(t *testing.T) {
	h := newHarness(t)
	sofa := h.store.addProduct("sofa", 1_500_000, 5)
	chair := h.store.addProduct("chair", 250_000, 10)

	result, err := h.svc.CreateOrder(context.Background(), h.input(order.PaymentCOD,
		order.ItemInput{ProductID: sofa.ID, Quantity: 1},
		order.ItemInput{ProductID: chair.ID, Quantity: 2},
	))
	require.NoError(t, err)
	assert.Equal(t, 4, h.store.productByID(sofa.ID).Stock)
	assert.Equal(t, 8, h.store.productByID(chair.ID).Stock)

	_, err = h.svc.CancelOrder(context.Background(), h.userID, result.Order.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 5, h.store.productByID(sofa.ID).Stock, "released by 1")
	assert.Equal(t, 10, h.store.productByID(chair.ID).Stock, "released by 2")

	// the chair sold out down to one unit since, and one sofa is already in the cart
	h.store.updateProduct(chair.ID, func(p *product.Product) { p.Stock = 1 })
	require.NoError(t, cartView{h.store}.SetQuantity(context.Background(), h.userID, sofa.ID, 5))

	reorder, err := h.svc.Reorder(context.Background(), h.userID, result.Order.ID)
	require.NoError(t, err)
	assert.Len(t, reorder.Added, 2)
	assert.Empty(t, reorder.Skipped)
	assert.Equal(t, 5, h.store.cartQuantity(h.userID, sofa.ID), "merged line clamped to stock")
	assert.Equal(t, 1, h.store.cartQuantity(h.userID, chair.ID), "new line clamped to stock")
}

func TestReorder_NothingAvailable(t *testing.T) {
	h := newHarness(t)
	p := h.store.addProduct("lamp", 90_000, 1)
	result, err := h.svc.CreateOrder(context.Background(), h.input(order.PaymentCOD, order.ItemInput{ProductID: p.ID, Quantity: 1}))
	require.NoError(t, err)

	h.store.updateProduct(p.ID, func(p *product.Product) { p.IsActive = false })

	_, err = h.svc.Reorder(context.Background(), h.userID, result.Order.ID)
	assert.ErrorIs(t, err, order.ErrNothingToReorder)
	assert.Equal(t, 0, h.store.cartQuantity(h.userID, p.ID))
}

func TestUpdateOrderStatus(t *testing.T) {
	h := newHarness(t)
	p := h.store.addProduct("desk", 100_000, 5)
	result, err := h.svc.CreateOrder(context.Background(), h.input(order.PaymentCOD, order.ItemInput{ProductID: p.ID, Quantity: 1}))
	require.NoError(t, err)
	id := result.Order.ID

	_, err = h.svc.UpdateOrderStatus(context.Background(), id, order.StatusProcessing)
	assert.ErrorIs(t, err, order.ErrInvalidStatusTransition, "payment drives PENDING -> PROCESSING")

	paid, err := h.svc.ConfirmPayment(context.Background(), h.userID, id)
	require.NoError(t, err)
	paidAt := *paid.CompletedAt

	_, err = h.svc.UpdateOrderStatus(context.Background(), id, order.StatusCompleted)
	assert.ErrorIs(t, err, order.ErrInvalidStatusTransition)

	shipping, err := h.svc.UpdateOrderStatus(context.Background(), id, order.StatusShipping)
	require.NoError(t, err)
	assert.Equal(t, order.StatusShipping, shipping.Status)

	_, err = h.svc.UpdateOrderStatus(context.Background(), id, order.StatusShipping)
	assert.ErrorIs(t, err, order.ErrStatusAlreadySet)

	h.clock.Advance(time.Hour)
	completed, err := h.svc.UpdateOrderStatus(context.Background(), id, order.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCompleted, completed.Status)
	assert.Equal(t, paidAt, *completed.CompletedAt)

	for _, next := range []order.OrderStatus{order.StatusPending, order.StatusProcessing, order.StatusShipping, order.StatusCancelled} {
		_, err = h.svc.UpdateOrderStatus(context.Background(), id, next)
		assert.ErrorIs(t, err, order.ErrInvalidStatusTransition, "COMPLETED is terminal, tried %s", next)
	}

	_, err = h.svc.UpdateOrderStatus(context.Background(), id, "LOST")
	assert.ErrorIs(t, err, order.ErrInvalidStatusTransition)
}

func TestGetAndListOrders(t *testing.T) {
	h := newHarness(t)
	p := h.store.addProduct("desk", 100_000, 5)
	result, err := h.svc.CreateOrder(context.Background(), h.input(order.PaymentCOD, order.ItemInput{ProductID: p.ID, Quantity: 1}))
	require.NoError(t, err)

	got, err := h.svc.GetOrder(context.Background(), h.userID, false, result.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, result.Order.OrderNumber, got.OrderNumber)

	stranger := uuid.Must(uuid.NewV4())
	_, err = h.svc.GetOrder(context.Background(), stranger, false, result.Order.ID)
	assert.ErrorIs(t, err, order.ErrNotOrderOwner)

	_, err = h.svc.GetOrder(context.Background(), stranger, true, result.Order.ID)
	assert.NoError(t, err, "admins see every order")

	list, err := h.svc.ListOrders(context.Background(), h.userID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	none, err := h.svc.ListOrders(context.Background(), stranger)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestPayWithMomo_Guards(t *testing.T) {
	h := newHarness(t)
	p := h.store.addProduct("desk", 100_000, 5)
	cod, err := h.svc.CreateOrder(context.Background(), h.input(order.PaymentCOD, order.ItemInput{ProductID: p.ID, Quantity: 1}))
	require.NoError(t, err)

	_, err = h.svc.PayWithMomo(context.Background(), h.userID, cod.Order.ID)
	assert.ErrorIs(t, err, order.ErrNotMomoOrder)

	wallet, err := h.svc.CreateOrder(context.Background(), h.input(order.PaymentMomo, order.ItemInput{ProductID: p.ID, Quantity: 1}))
	require.NoError(t, err)
	_, err = h.svc.ConfirmPayment(context.Background(), h.userID, wallet.Order.ID)
	require.NoError(t, err)

	_, err = h.svc.PayWithMomo(context.Background(), h.userID, wallet.Order.ID)
	assert.ErrorIs(t, err, order.ErrAlreadyPaid)
}

func TestNewOrderNumber(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_123)
	number := order.NewOrderNumber(now)
	assert.True(t, strings.HasPrefix(number, "ORD1700000000123"))
	assert.Len(t, number, len("ORD1700000000123")+4)
}

func TestMetricsRecordedForCreatedOrders(t *testing.T) {
	h := newHarness(t)
	p := h.store.addProduct("desk", 100_000, 5)
	_, err := h.svc.CreateOrder(context.Background(), h.input(order.PaymentBankTransfer, order.ItemInput{ProductID: p.ID, Quantity: 1}))
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(h.registry, "orders_created_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
