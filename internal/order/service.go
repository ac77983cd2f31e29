package order

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/furniture-store/internal/cache"
	"github.com/vasiliy-maslov/furniture-store/internal/cart"
	"github.com/vasiliy-maslov/furniture-store/internal/metrics"
	"github.com/vasiliy-maslov/furniture-store/internal/notify"
	"github.com/vasiliy-maslov/furniture-store/internal/payment/momo"
	"github.com/vasiliy-maslov/furniture-store/internal/pricing"
	"github.com/vasiliy-maslov/furniture-store/internal/product"
	"github.com/vasiliy-maslov/furniture-store/internal/voucher"
)

const maxOrderNumberAttempts = 3

// Gateway is the part of the MoMo client the orchestrator needs.
type Gateway interface {
	CreatePayment(ctx context.Context, p momo.Payment) (*momo.PaymentInfo, error)
	VerifyIPN(n momo.IPN) error
}

type Service interface {
	CreateOrder(ctx context.Context, in CreateOrderInput) (*CreateOrderResult, error)
	PayWithMomo(ctx context.Context, userID, orderID uuid.UUID) (*CreateOrderResult, error)
	CancelOrder(ctx context.Context, userID, orderID uuid.UUID, reason string) (*Order, error)
	ConfirmPayment(ctx context.Context, userID, orderID uuid.UUID) (*Order, error)
	Reorder(ctx context.Context, userID, orderID uuid.UUID) (*ReorderResult, error)
	GetOrder(ctx context.Context, userID uuid.UUID, isAdmin bool, orderID uuid.UUID) (*Order, error)
	ListOrders(ctx context.Context, userID uuid.UUID) ([]Order, error)
	UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, newStatus OrderStatus) (*Order, error)
	QuoteVoucher(ctx context.Context, code string, subtotal int64, shippingAddress string) (*VoucherQuote, error)

	HandleMomoIPN(ctx context.Context, n momo.IPN) (*momo.Ack, error)
	SweepExpiredMomo(ctx context.Context, timeout time.Duration) (*SweepResult, error)
}

// VoucherQuote is the checkout preview for a voucher code.
type VoucherQuote struct {
	Voucher voucher.Voucher `json:"voucher"`
	Quote   pricing.Quote   `json:"quote"`
}

// Dependencies wires the orchestrator. Cache and Metrics are optional.
type Dependencies struct {
	Orders      Repository
	Products    product.Repository
	Vouchers    voucher.Evaluator
	Carts       cart.Repository
	Gateway     Gateway
	Notifier    notify.Notifier
	Cache       cache.Cache
	Metrics     *metrics.Metrics
	ShopAddress string
	Now         func() time.Time
}

type service struct {
	orderRepo   Repository
	productRepo product.Repository
	vouchers    voucher.Evaluator
	cartRepo    cart.Repository
	gateway     Gateway
	notifier    notify.Notifier
	cache       cache.Cache
	metrics     *metrics.Metrics
	shopAddress string
	now         func() time.Time
}

func NewService(deps Dependencies) Service {
	s := &service{
		orderRepo:   deps.Orders,
		productRepo: deps.Products,
		vouchers:    deps.Vouchers,
		cartRepo:    deps.Carts,
		gateway:     deps.Gateway,
		notifier:    deps.Notifier,
		cache:       deps.Cache,
		metrics:     deps.Metrics,
		shopAddress: deps.ShopAddress,
		now:         deps.Now,
	}
	if s.notifier == nil {
		s.notifier = notify.LogNotifier{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// NewOrderNumber embeds the creation time and a random suffix.
func NewOrderNumber(now time.Time) string {
	return fmt.Sprintf("ORD%d%04d", now.UnixMilli(), rand.Intn(10000))
}

func (s *service) CreateOrder(ctx context.Context, in CreateOrderInput) (*CreateOrderResult, error) {
	if len(in.Items) == 0 {
		log.Warn().Stringer("user_id", in.UserID).Msg("service: attempt to create order with no items")
		return nil, ErrEmptyOrder
	}
	if !in.PaymentMethod.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPaymentMethod, in.PaymentMethod)
	}

	items, err := mergeItems(in.Items)
	if err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.productRepo.GetByIDs(ctx, ids)
	if err != nil {
		log.Error().Err(err).Stringer("user_id", in.UserID).Msg("service: failed to load products for order")
		return nil, fmt.Errorf("service: failed to load products: %w", err)
	}

	orderItems := make([]OrderItem, 0, len(items))
	lines := make([]pricing.Line, 0, len(items))
	for _, item := range items {
		p, ok := products[item.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrProductNotFound, item.ProductID)
		}
		if !p.IsActive {
			return nil, fmt.Errorf("%w: %s", ErrProductInactive, p.Name)
		}
		if item.Quantity > p.Stock {
			return nil, fmt.Errorf("%w: %s has only %d left", ErrInsufficientStock, p.Name, p.Stock)
		}

		unitPrice := p.EffectivePrice()
		lines = append(lines, pricing.Line{UnitPrice: unitPrice, Quantity: item.Quantity})
		orderItems = append(orderItems, OrderItem{
			ProductID:   p.ID,
			ProductName: p.Name,
			ProductSKU:  p.SKU,
			UnitPrice:   unitPrice,
			Quantity:    item.Quantity,
			Subtotal:    unitPrice * int64(item.Quantity),
		})
	}

	var applied *voucher.Voucher
	if in.VoucherCode != "" {
		result, err := s.vouchers.Validate(ctx, in.VoucherCode, pricing.Subtotal(lines))
		if err != nil {
			return nil, err
		}
		applied = &result.Voucher
	}

	quote := pricing.Calculate(pricing.Input{
		Lines:           lines,
		Voucher:         applied,
		ShippingAddress: in.ShippingAddress,
		ShopAddress:     s.shopAddress,
	})

	now := s.now().UTC()
	o := &Order{
		UserID:          in.UserID,
		Status:          StatusPending,
		PaymentStatus:   PaymentUnpaid,
		PaymentMethod:   in.PaymentMethod,
		Subtotal:        quote.Subtotal,
		Discount:        quote.Discount,
		ShippingFee:     quote.ShippingFee,
		Total:           quote.Total,
		CustomerName:    in.CustomerName,
		CustomerEmail:   in.CustomerEmail,
		CustomerPhone:   in.CustomerPhone,
		ShippingAddress: in.ShippingAddress,
		Notes:           in.Notes,
		OrderItems:      orderItems,
		CreatedAt:       now,
	}
	if applied != nil {
		id, code := applied.ID, applied.Code
		o.VoucherID = &id
		o.VoucherCode = &code
	}

	cartLines := cartLinesToClear(ids, in.SelectedProductIDs)

	for attempt := 1; ; attempt++ {
		o.ID = uuid.Nil
		o.OrderNumber = NewOrderNumber(now)

		err = s.orderRepo.CreateOrder(ctx, o, cartLines)
		if err == nil {
			break
		}
		if errors.Is(err, ErrDuplicateOrderNumber) && attempt < maxOrderNumberAttempts {
			log.Warn().Str("order_number", o.OrderNumber).Int("attempt", attempt).Msg("service: order number collision, regenerating")
			continue
		}
		if errors.Is(err, ErrInsufficientStock) || errors.Is(err, voucher.ErrVoucherExhausted) {
			log.Warn().Err(err).Stringer("user_id", in.UserID).Msg("service: order rejected at commit")
			return nil, err
		}
		log.Error().Err(err).Stringer("user_id", in.UserID).Msg("service: failed to create order in repository")
		return nil, fmt.Errorf("service: failed to create order: %w", err)
	}

	log.Info().
		Stringer("order_id", o.ID).
		Str("order_number", o.OrderNumber).
		Stringer("user_id", o.UserID).
		Stringer("payment_method", o.PaymentMethod).
		Int64("total", o.Total).
		Msg("service: order created")
	s.metrics.OrderCreated(o.PaymentMethod.String())
	s.notify(ctx, notify.EventOrderCreated, o, "")

	result := &CreateOrderResult{Order: o}
	if o.PaymentMethod != PaymentMomo {
		return result, nil
	}

	info, err := s.startMomoPayment(ctx, o)
	if err != nil {
		return nil, fmt.Errorf("order %s was created but %w", o.OrderNumber, err)
	}
	result.Momo = info
	return result, nil
}

// mergeItems folds repeated products into one line and rejects
// non-positive quantities.
func mergeItems(items []ItemInput) ([]ItemInput, error) {
	merged := make([]ItemInput, 0, len(items))
	index := make(map[uuid.UUID]int, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: product %s", ErrInvalidQuantity, item.ProductID)
		}
		if i, ok := index[item.ProductID]; ok {
			merged[i].Quantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(merged)
		merged = append(merged, item)
	}
	return merged, nil
}

func cartLinesToClear(purchased, selected []uuid.UUID) []uuid.UUID {
	if len(selected) == 0 {
		return purchased
	}
	wanted := make(map[uuid.UUID]struct{}, len(selected))
	for _, id := range selected {
		wanted[id] = struct{}{}
	}
	out := make([]uuid.UUID, 0, len(selected))
	for _, id := range purchased {
		if _, ok := wanted[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

func (s *service) startMomoPayment(ctx context.Context, o *Order) (*momo.PaymentInfo, error) {
	info, err := s.gateway.CreatePayment(ctx, momo.Payment{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		Amount:      o.Total,
		OrderInfo:   fmt.Sprintf("Thanh toán đơn hàng %s", o.OrderNumber),
	})
	if err != nil {
		log.Warn().Err(err).Stringer("order_id", o.ID).Msg("service: momo payment initiation failed, order stays payable")
		return nil, err
	}
	return info, nil
}

func (s *service) PayWithMomo(ctx context.Context, userID, orderID uuid.UUID) (*CreateOrderResult, error) {
	o, err := s.loadOwned(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if o.PaymentMethod != PaymentMomo {
		return nil, ErrNotMomoOrder
	}
	if o.PaymentStatus == PaymentPaid {
		return nil, ErrAlreadyPaid
	}
	if o.Status != StatusPending {
		return nil, ErrNotPayable
	}

	info, err := s.startMomoPayment(ctx, o)
	if err != nil {
		return nil, err
	}
	return &CreateOrderResult{Order: o, Momo: info}, nil
}

func (s *service) CancelOrder(ctx context.Context, userID, orderID uuid.UUID, reason string) (*Order, error) {
	o, err := s.loadOwned(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusPending || o.PaymentStatus == PaymentPaid {
		log.Warn().Stringer("order_id", orderID).Stringer("status", o.Status).Msg("service: order is not cancellable")
		return nil, ErrNotCancellable
	}
	if reason == "" {
		reason = defaultUserCancelReason
	}

	swapped, err := s.cancel(ctx, o, reason, cancelSourceUser)
	if err != nil {
		return nil, err
	}
	if !swapped {
		return nil, ErrNotCancellable
	}
	return s.reload(ctx, orderID)
}

// cancel performs the shared cancellation transition. It reports false when
// the order had already left PENDING/UNPAID.
func (s *service) cancel(ctx context.Context, o *Order, reason, source string) (bool, error) {
	swapped, err := s.orderRepo.Cancel(ctx, o.ID, reason, s.now().UTC())
	if err != nil {
		log.Error().Err(err).Stringer("order_id", o.ID).Msg("service: failed to cancel order")
		return false, fmt.Errorf("service: failed to cancel order: %w", err)
	}
	if !swapped {
		log.Info().Stringer("order_id", o.ID).Msg("service: cancel lost race, order already moved on")
		return false, nil
	}

	log.Info().Stringer("order_id", o.ID).Str("order_number", o.OrderNumber).Str("reason", reason).Msg("service: order cancelled, stock released")
	s.metrics.OrderCancelled(source)
	s.notify(ctx, notify.EventOrderCancelled, o, reason)
	return true, nil
}

func (s *service) ConfirmPayment(ctx context.Context, userID, orderID uuid.UUID) (*Order, error) {
	o, err := s.loadOwned(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if o.PaymentStatus == PaymentPaid {
		return nil, ErrAlreadyPaid
	}
	if o.Status != StatusPending {
		return nil, ErrNotPayable
	}

	swapped, err := s.orderRepo.MarkPaid(ctx, orderID, s.now().UTC())
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Msg("service: failed to mark order paid")
		return nil, fmt.Errorf("service: failed to confirm payment: %w", err)
	}

	current, err := s.reload(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !swapped {
		if current.PaymentStatus == PaymentPaid {
			return nil, ErrAlreadyPaid
		}
		return nil, ErrNotPayable
	}

	log.Info().Stringer("order_id", orderID).Str("order_number", current.OrderNumber).Msg("service: payment confirmed by customer")
	s.notify(ctx, notify.EventOrderPaid, current, "")
	return current, nil
}

func (s *service) Reorder(ctx context.Context, userID, orderID uuid.UUID) (*ReorderResult, error) {
	o, err := s.loadOwned(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, 0, len(o.OrderItems))
	for _, item := range o.OrderItems {
		ids = append(ids, item.ProductID)
	}
	products, err := s.productRepo.GetByIDs(ctx, ids)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Msg("service: failed to load products for reorder")
		return nil, fmt.Errorf("service: failed to load products: %w", err)
	}

	result := &ReorderResult{Added: make([]ReorderLine, 0), Skipped: make([]ReorderLine, 0)}
	for _, item := range o.OrderItems {
		line := ReorderLine{ProductID: item.ProductID, ProductName: item.ProductName}

		p, ok := products[item.ProductID]
		switch {
		case !ok:
			line.Reason = "product no longer exists"
		case !p.IsActive:
			line.Reason = "product is not available"
		case p.Stock <= 0:
			line.Reason = "out of stock"
		}
		if line.Reason != "" {
			result.Skipped = append(result.Skipped, line)
			continue
		}

		quantity := min(item.Quantity, p.Stock)
		existing, err := s.cartRepo.GetItem(ctx, userID, p.ID)
		switch {
		case err == nil:
			quantity = min(existing.Quantity+quantity, p.Stock)
		case errors.Is(err, cart.ErrCartItemNotFound):
		default:
			log.Error().Err(err).Stringer("product_id", p.ID).Msg("service: failed to read cart line")
			return nil, fmt.Errorf("service: failed to read cart: %w", err)
		}

		if err := s.cartRepo.SetQuantity(ctx, userID, p.ID, quantity); err != nil {
			log.Error().Err(err).Stringer("product_id", p.ID).Msg("service: failed to write cart line")
			return nil, fmt.Errorf("service: failed to update cart: %w", err)
		}
		line.ProductName = p.Name
		line.Quantity = quantity
		result.Added = append(result.Added, line)
	}

	if len(result.Added) == 0 {
		log.Warn().Stringer("order_id", orderID).Msg("service: nothing to reorder")
		return nil, ErrNothingToReorder
	}

	log.Info().Stringer("order_id", orderID).Int("added", len(result.Added)).Int("skipped", len(result.Skipped)).Msg("service: order items added back to cart")
	return result, nil
}

func (s *service) GetOrder(ctx context.Context, userID uuid.UUID, isAdmin bool, orderID uuid.UUID) (*Order, error) {
	if isAdmin {
		return s.reload(ctx, orderID)
	}
	return s.loadOwned(ctx, userID, orderID)
}

func (s *service) ListOrders(ctx context.Context, userID uuid.UUID) ([]Order, error) {
	orders, err := s.orderRepo.GetOrdersByUserID(ctx, userID)
	if err != nil {
		log.Error().Err(err).Stringer("user_id", userID).Msg("service: failed to fetch user orders in repository")
		return nil, fmt.Errorf("service: failed to fetch user orders: %w", err)
	}
	return orders, nil
}

// UpdateOrderStatus is the admin path along PROCESSING -> SHIPPING ->
// COMPLETED. Payment and cancellation have their own operations.
func (s *service) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, newStatus OrderStatus) (*Order, error) {
	if !newStatus.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidStatusTransition, newStatus)
	}

	current, err := s.reload(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if current.Status == newStatus {
		return nil, ErrStatusAlreadySet
	}
	if !CanTransition(current.Status, newStatus) || current.Status == StatusPending {
		log.Warn().
			Stringer("order_id", orderID).
			Stringer("current_status", current.Status).
			Stringer("requested_status", newStatus).
			Msg("service: invalid status transition attempt")
		return nil, fmt.Errorf("%w: from %s to %s", ErrInvalidStatusTransition, current.Status, newStatus)
	}

	swapped, err := s.orderRepo.UpdateStatus(ctx, orderID, current.Status, newStatus, s.now().UTC())
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Msg("service: failed to update order status")
		return nil, fmt.Errorf("service: failed to update order status: %w", err)
	}
	if !swapped {
		return nil, fmt.Errorf("%w: order changed concurrently", ErrInvalidStatusTransition)
	}

	log.Info().Stringer("order_id", orderID).Stringer("old_status", current.Status).Stringer("new_status", newStatus).Msg("service: order status updated")
	return s.reload(ctx, orderID)
}

// QuoteVoucher validates a code against a subtotal without redeeming it and
// prices the cart exactly as CreateOrder would.
func (s *service) QuoteVoucher(ctx context.Context, code string, subtotal int64, shippingAddress string) (*VoucherQuote, error) {
	result, err := s.vouchers.Validate(ctx, code, subtotal)
	if err != nil {
		return nil, err
	}

	quote := pricing.Calculate(pricing.Input{
		Lines:           []pricing.Line{{UnitPrice: subtotal, Quantity: 1}},
		Voucher:         &result.Voucher,
		ShippingAddress: shippingAddress,
		ShopAddress:     s.shopAddress,
	})
	return &VoucherQuote{Voucher: result.Voucher, Quote: quote}, nil
}

func (s *service) loadOwned(ctx context.Context, userID, orderID uuid.UUID) (*Order, error) {
	o, err := s.reload(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		log.Warn().Stringer("order_id", orderID).Stringer("user_id", userID).Msg("service: order accessed by non-owner")
		return nil, ErrNotOrderOwner
	}
	return o, nil
}

func (s *service) reload(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	o, err := s.orderRepo.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			log.Warn().Stringer("order_id", orderID).Msg("service: order not found by id")
			return nil, ErrOrderNotFound
		}
		log.Error().Err(err).Stringer("order_id", orderID).Msg("service: failed to fetch order by id in repository")
		return nil, fmt.Errorf("service: failed to fetch order by id: %w", err)
	}
	return o, nil
}

func (s *service) notify(ctx context.Context, eventType notify.EventType, o *Order, reason string) {
	err := s.notifier.Notify(ctx, notify.Event{
		Type:          eventType,
		OrderID:       o.ID,
		OrderNumber:   o.OrderNumber,
		CustomerEmail: o.CustomerEmail,
		CustomerName:  o.CustomerName,
		Total:         o.Total,
		Reason:        reason,
	})
	if err != nil {
		log.Error().Err(err).Str("event", string(eventType)).Stringer("order_id", o.ID).Msg("service: notification failed")
	}
}
