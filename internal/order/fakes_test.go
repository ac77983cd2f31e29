package order_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/vasiliy-maslov/furniture-store/internal/cart"
	"github.com/vasiliy-maslov/furniture-store/internal/db"
	"github.com/vasiliy-maslov/furniture-store/internal/inventory"
	"github.com/vasiliy-maslov/furniture-store/internal/notify"
	"github.com/vasiliy-maslov/furniture-store/internal/order"
	"github.com/vasiliy-maslov/furniture-store/internal/payment/momo"
	"github.com/vasiliy-maslov/furniture-store/internal/product"
	"github.com/vasiliy-maslov/furniture-store/internal/voucher"
)

type cartKey struct {
	userID    uuid.UUID
	productID uuid.UUID
}

// memoryStore plays every repository the orchestrator touches, with the same
// all-or-nothing and compare-and-swap behaviour as the SQL versions.
type memoryStore struct {
	mu       sync.Mutex
	orders   map[uuid.UUID]*order.Order
	products map[uuid.UUID]product.Product
	vouchers map[string]*voucher.Voucher
	cart     map[cartKey]int

	// duplicateNumbers makes that many CreateOrder calls fail with a number
	// collision before succeeding.
	duplicateNumbers int
	createCalls      int
	markPaidCalls    int
	// beforeMarkPaid runs without the lock held, before the swap is tried.
	beforeMarkPaid func()
	// afterProductRead runs once after a product lookup, simulating a
	// concurrent checkout between the read and the commit.
	afterProductRead func()
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		orders:   make(map[uuid.UUID]*order.Order),
		products: make(map[uuid.UUID]product.Product),
		vouchers: make(map[string]*voucher.Voucher),
		cart:     make(map[cartKey]int),
	}
}

func (s *memoryStore) addProduct(name string, price int64, stock int) product.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := product.Product{
		ID:       uuid.Must(uuid.NewV4()),
		Name:     name,
		SKU:      "SKU-" + name,
		Price:    price,
		Stock:    stock,
		IsActive: true,
	}
	s.products[p.ID] = p
	return p
}

func (s *memoryStore) productByID(id uuid.UUID) product.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[id]
}

func (s *memoryStore) updateProduct(id uuid.UUID, fn func(p *product.Product)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.products[id]
	fn(&p)
	s.products[id] = p
}

func (s *memoryStore) addVoucher(v voucher.Voucher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vouchers[v.Code] = &v
}

func (s *memoryStore) voucherByCode(code string) voucher.Voucher {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.vouchers[code]
}

func (s *memoryStore) cartQuantity(userID, productID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart[cartKey{userID, productID}]
}

func (s *memoryStore) orderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *memoryStore) stored(id uuid.UUID) order.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyOrder(s.orders[id])
}

func (s *memoryStore) setCreatedAt(id uuid.UUID, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[id].CreatedAt = at
}

func copyOrder(o *order.Order) order.Order {
	c := *o
	c.OrderItems = append([]order.OrderItem(nil), o.OrderItems...)
	return c
}

// order.Repository

func (s *memoryStore) CreateOrder(_ context.Context, o *order.Order, clearCart []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.createCalls++
	if s.duplicateNumbers > 0 {
		s.duplicateNumbers--
		return order.ErrDuplicateOrderNumber
	}

	for _, item := range o.OrderItems {
		if s.products[item.ProductID].Stock < item.Quantity {
			return fmt.Errorf("inventory: product %s: %w", item.ProductID, inventory.ErrInsufficientStock)
		}
	}
	var redeemed *voucher.Voucher
	if o.VoucherID != nil {
		for _, v := range s.vouchers {
			if v.ID == *o.VoucherID {
				redeemed = v
			}
		}
		if redeemed == nil || (redeemed.UsageLimit != nil && redeemed.UsedCount >= *redeemed.UsageLimit) {
			return voucher.ErrVoucherExhausted
		}
	}

	if o.ID == uuid.Nil {
		o.ID = uuid.Must(uuid.NewV4())
	}
	o.UpdatedAt = o.CreatedAt
	for i := range o.OrderItems {
		o.OrderItems[i].ID = uuid.Must(uuid.NewV4())
		o.OrderItems[i].OrderID = o.ID

		p := s.products[o.OrderItems[i].ProductID]
		p.Stock -= o.OrderItems[i].Quantity
		p.Sales += o.OrderItems[i].Quantity
		s.products[p.ID] = p
	}
	if redeemed != nil {
		redeemed.UsedCount++
	}
	for _, id := range clearCart {
		delete(s.cart, cartKey{o.UserID, id})
	}

	c := copyOrder(o)
	s.orders[o.ID] = &c
	return nil
}

func (s *memoryStore) GetOrderByID(_ context.Context, id uuid.UUID) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	c := copyOrder(o)
	return &c, nil
}

func (s *memoryStore) GetOrderByNumber(_ context.Context, number string) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.OrderNumber == number {
			c := copyOrder(o)
			return &c, nil
		}
	}
	return nil, order.ErrOrderNotFound
}

func (s *memoryStore) GetOrdersByUserID(_ context.Context, userID uuid.UUID) ([]order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]order.Order, 0)
	for _, o := range s.orders {
		if o.UserID == userID {
			out = append(out, copyOrder(o))
		}
	}
	return out, nil
}

func (s *memoryStore) MarkPaid(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	if s.beforeMarkPaid != nil {
		hook := s.beforeMarkPaid
		s.beforeMarkPaid = nil
		hook()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.markPaidCalls++

	o, ok := s.orders[id]
	if !ok || o.Status != order.StatusPending || o.PaymentStatus != order.PaymentUnpaid {
		return false, nil
	}
	o.Status = order.StatusProcessing
	o.PaymentStatus = order.PaymentPaid
	if o.CompletedAt == nil {
		paidAt := at
		o.CompletedAt = &paidAt
	}
	o.UpdatedAt = at
	return true, nil
}

func (s *memoryStore) Cancel(_ context.Context, id uuid.UUID, reason string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok || o.Status != order.StatusPending || o.PaymentStatus != order.PaymentUnpaid {
		return false, nil
	}
	cancelledAt, r := at, reason
	o.Status = order.StatusCancelled
	o.CancelledAt = &cancelledAt
	o.CancelReason = &r
	o.UpdatedAt = at

	for _, item := range o.OrderItems {
		p := s.products[item.ProductID]
		p.Stock += item.Quantity
		p.Sales -= item.Quantity
		s.products[p.ID] = p
	}
	return true, nil
}

func (s *memoryStore) ListExpiredMomo(_ context.Context, createdBefore time.Time) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uuid.UUID, 0)
	for _, o := range s.orders {
		if o.PaymentMethod == order.PaymentMomo &&
			o.Status == order.StatusPending &&
			o.PaymentStatus == order.PaymentUnpaid &&
			o.CreatedAt.Before(createdBefore) {
			ids = append(ids, o.ID)
		}
	}
	return ids, nil
}

func (s *memoryStore) UpdateStatus(_ context.Context, id uuid.UUID, from, to order.OrderStatus, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	o.UpdatedAt = at
	if to == order.StatusCompleted && o.CompletedAt == nil {
		completedAt := at
		o.CompletedAt = &completedAt
	}
	return true, nil
}

// product.Repository

type productView struct{ s *memoryStore }

func (v productView) GetByIDs(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]product.Product, error) {
	v.s.mu.Lock()
	out := make(map[uuid.UUID]product.Product, len(ids))
	for _, id := range ids {
		if p, ok := v.s.products[id]; ok {
			out[id] = p
		}
	}
	hook := v.s.afterProductRead
	v.s.afterProductRead = nil
	v.s.mu.Unlock()

	if hook != nil {
		hook()
	}
	return out, nil
}

// cart.Repository

type cartView struct{ s *memoryStore }

func (v cartView) GetItem(_ context.Context, userID, productID uuid.UUID) (*cart.Item, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	qty, ok := v.s.cart[cartKey{userID, productID}]
	if !ok {
		return nil, cart.ErrCartItemNotFound
	}
	return &cart.Item{UserID: userID, ProductID: productID, Quantity: qty}, nil
}

func (v cartView) SetQuantity(_ context.Context, userID, productID uuid.UUID, quantity int) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	v.s.cart[cartKey{userID, productID}] = quantity
	return nil
}

func (v cartView) RemoveProducts(context.Context, db.Querier, uuid.UUID, []uuid.UUID) (int64, error) {
	return 0, errors.New("cart lines are cleared by the order repository")
}

// voucher.Repository

type voucherView struct{ s *memoryStore }

func (v voucherView) GetByCode(_ context.Context, code string) (*voucher.Voucher, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	found, ok := v.s.vouchers[code]
	if !ok {
		return nil, voucher.ErrVoucherNotFound
	}
	c := *found
	return &c, nil
}

func (v voucherView) Redeem(context.Context, db.Querier, uuid.UUID) error {
	return errors.New("vouchers are redeemed by the order repository")
}

// fakeGateway records initiation calls and verifies webhooks with the real
// MoMo signing code.
type fakeGateway struct {
	mu       sync.Mutex
	verifier *momo.Client
	calls    []momo.Payment
	err      error
}

func (g *fakeGateway) CreatePayment(_ context.Context, p momo.Payment) (*momo.PaymentInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, p)
	if g.err != nil {
		return nil, g.err
	}
	attempt := len(g.calls)
	return &momo.PaymentInfo{
		ProviderOrderID: momo.ProviderOrderID(p.OrderNumber, int64(attempt)),
		RequestID:       momo.RequestID(p.OrderID, int64(attempt)),
		Amount:          p.Amount,
		PayURL:          "https://test-payment.momo.vn/pay/" + p.OrderNumber,
	}, nil
}

func (g *fakeGateway) VerifyIPN(n momo.IPN) error {
	return g.verifier.VerifyIPN(n)
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

type failingNotifier struct{}

func (failingNotifier) Notify(context.Context, notify.Event) error {
	return errors.New("mail server unreachable")
}

// memoryCache is a Cache backed by a map.
type memoryCache struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemoryCache() *memoryCache {
	return &memoryCache{values: make(map[string]string)}
}

func (c *memoryCache) SetNX(_ context.Context, key string, value interface{}, _ time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.values[key]; ok {
		return false, nil
	}
	c.values[key] = fmt.Sprint(value)
	return true, nil
}

func (c *memoryCache) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[key], nil
}

func (c *memoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, key)
	return nil
}

func (c *memoryCache) GenerateKey(operation, key string) string {
	return "test:" + operation + ":" + key
}

func (c *memoryCache) Ping(context.Context) error { return nil }

func (c *memoryCache) Close() error { return nil }
