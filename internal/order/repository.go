package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/furniture-store/internal/cart"
	"github.com/vasiliy-maslov/furniture-store/internal/db"
	"github.com/vasiliy-maslov/furniture-store/internal/inventory"
	"github.com/vasiliy-maslov/furniture-store/internal/voucher"
)

const orderNumberConstraint = "orders_order_number_key"

// Repository persists orders. Every state-changing method is a
// compare-and-swap on the order's current status and reports whether this
// call won; a false result with a nil error means another writer got there
// first.
type Repository interface {
	// CreateOrder stores the order with its items, reserves stock, redeems
	// the voucher and clears the purchased cart lines in one transaction.
	CreateOrder(ctx context.Context, order *Order, clearCartProductIDs []uuid.UUID) error
	GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error)
	GetOrderByNumber(ctx context.Context, orderNumber string) (*Order, error)
	GetOrdersByUserID(ctx context.Context, userID uuid.UUID) ([]Order, error)
	// MarkPaid moves a PENDING/UNPAID order to PROCESSING/PAID.
	MarkPaid(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	// Cancel moves a PENDING/UNPAID order to CANCELLED and releases its
	// stock in the same transaction.
	Cancel(ctx context.Context, id uuid.UUID, reason string, at time.Time) (bool, error)
	ListExpiredMomo(ctx context.Context, createdBefore time.Time) ([]uuid.UUID, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to OrderStatus, at time.Time) (bool, error)
}

type postgresRepository struct {
	db       *pgxpool.Pool
	ledger   inventory.Ledger
	vouchers voucher.Repository
	carts    cart.Repository
}

func NewRepository(pool *pgxpool.Pool, ledger inventory.Ledger, vouchers voucher.Repository, carts cart.Repository) Repository {
	return &postgresRepository{db: pool, ledger: ledger, vouchers: vouchers, carts: carts}
}

func (r *postgresRepository) CreateOrder(ctx context.Context, orderInput *Order, clearCartProductIDs []uuid.UUID) error {
	if orderInput.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("repository: failed to generate order ID: %w", err)
		}
		orderInput.ID = id
	}
	if orderInput.CreatedAt.IsZero() {
		orderInput.CreatedAt = time.Now().UTC()
	}
	orderInput.UpdatedAt = orderInput.CreatedAt

	return db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		queryOrder := `
			INSERT INTO shop.orders (
				id, order_number, user_id, status, payment_status, payment_method,
				subtotal, discount, shipping_fee, total,
				customer_name, customer_email, customer_phone, shipping_address, notes,
				voucher_id, voucher_code, created_at, updated_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		`
		_, err := tx.Exec(ctx, queryOrder,
			orderInput.ID,
			orderInput.OrderNumber,
			orderInput.UserID,
			string(orderInput.Status),
			string(orderInput.PaymentStatus),
			string(orderInput.PaymentMethod),
			orderInput.Subtotal,
			orderInput.Discount,
			orderInput.ShippingFee,
			orderInput.Total,
			orderInput.CustomerName,
			orderInput.CustomerEmail,
			orderInput.CustomerPhone,
			orderInput.ShippingAddress,
			orderInput.Notes,
			orderInput.VoucherID,
			orderInput.VoucherCode,
			orderInput.CreatedAt,
			orderInput.UpdatedAt,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation && pgErr.ConstraintName == orderNumberConstraint {
				return ErrDuplicateOrderNumber
			}
			return fmt.Errorf("repository: failed to insert order: %w", err)
		}

		queryItem := `
			INSERT INTO shop.order_items (id, order_id, product_id, product_name, product_sku, unit_price, quantity, subtotal)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`
		lines := make([]inventory.Line, 0, len(orderInput.OrderItems))
		for i := range orderInput.OrderItems {
			item := &orderInput.OrderItems[i]

			itemID, genErr := uuid.NewV4()
			if genErr != nil {
				return fmt.Errorf("repository: failed to generate order item ID: %w", genErr)
			}
			item.ID = itemID
			item.OrderID = orderInput.ID

			_, err = tx.Exec(ctx, queryItem,
				item.ID,
				item.OrderID,
				item.ProductID,
				item.ProductName,
				item.ProductSKU,
				item.UnitPrice,
				item.Quantity,
				item.Subtotal,
			)
			if err != nil {
				return fmt.Errorf("repository: failed to insert order item for order %s: %w", orderInput.ID, err)
			}
			lines = append(lines, inventory.Line{ProductID: item.ProductID, Quantity: item.Quantity})
		}

		if err := r.ledger.Reserve(ctx, tx, lines); err != nil {
			return err
		}

		if orderInput.VoucherID != nil {
			if err := r.vouchers.Redeem(ctx, tx, *orderInput.VoucherID); err != nil {
				return err
			}
		}

		removed, err := r.carts.RemoveProducts(ctx, tx, orderInput.UserID, clearCartProductIDs)
		if err != nil {
			return err
		}
		log.Debug().Stringer("order_id", orderInput.ID).Int64("cart_lines_removed", removed).Msg("repository: cart lines cleared")

		return nil
	})
}

const orderColumns = `
	id, order_number, user_id, status, payment_status, payment_method,
	subtotal, discount, shipping_fee, total,
	customer_name, customer_email, customer_phone, shipping_address, notes,
	voucher_id, voucher_code, created_at, updated_at, completed_at, cancelled_at, cancel_reason
`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(
		&o.ID,
		&o.OrderNumber,
		&o.UserID,
		&o.Status,
		&o.PaymentStatus,
		&o.PaymentMethod,
		&o.Subtotal,
		&o.Discount,
		&o.ShippingFee,
		&o.Total,
		&o.CustomerName,
		&o.CustomerEmail,
		&o.CustomerPhone,
		&o.ShippingAddress,
		&o.Notes,
		&o.VoucherID,
		&o.VoucherCode,
		&o.CreatedAt,
		&o.UpdatedAt,
		&o.CompletedAt,
		&o.CancelledAt,
		&o.CancelReason,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *postgresRepository) GetOrderByID(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM shop.orders WHERE id = $1`

	o, err := scanOrder(r.db.QueryRow(ctx, query, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to select order by id %s: %w", orderID, err)
	}

	if err := r.attachItems(ctx, []*Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *postgresRepository) GetOrderByNumber(ctx context.Context, orderNumber string) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM shop.orders WHERE order_number = $1`

	o, err := scanOrder(r.db.QueryRow(ctx, query, orderNumber))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to select order by number %s: %w", orderNumber, err)
	}

	if err := r.attachItems(ctx, []*Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *postgresRepository) GetOrdersByUserID(ctx context.Context, userID uuid.UUID) ([]Order, error) {
	query := `SELECT ` + orderColumns + ` FROM shop.orders WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query orders for user %s: %w", userID, err)
	}
	defer rows.Close()

	orders := make([]Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order for user %s: %w", userID, err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating orders for user %s: %w", userID, err)
	}

	ptrs := make([]*Order, len(orders))
	for i := range orders {
		ptrs[i] = &orders[i]
	}
	if err := r.attachItems(ctx, ptrs); err != nil {
		return nil, err
	}
	return orders, nil
}

// attachItems loads the items of all given orders with one query.
func (r *postgresRepository) attachItems(ctx context.Context, orders []*Order) error {
	if len(orders) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, 0, len(orders))
	byID := make(map[uuid.UUID]*Order, len(orders))
	for _, o := range orders {
		o.OrderItems = make([]OrderItem, 0)
		ids = append(ids, o.ID)
		byID[o.ID] = o
	}

	query := `
		SELECT id, order_id, product_id, product_name, product_sku, unit_price, quantity, subtotal
		FROM shop.order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, product_name
	`
	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return fmt.Errorf("repository: failed to query order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item OrderItem
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.ProductName,
			&item.ProductSKU,
			&item.UnitPrice,
			&item.Quantity,
			&item.Subtotal,
		)
		if err != nil {
			return fmt.Errorf("repository: failed to scan order item: %w", err)
		}
		if o, ok := byID[item.OrderID]; ok {
			o.OrderItems = append(o.OrderItems, item)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("repository: error iterating order items: %w", err)
	}
	return nil
}

func (r *postgresRepository) MarkPaid(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	query := `
		UPDATE shop.orders
		SET payment_status = 'PAID',
		    status = 'PROCESSING',
		    completed_at = COALESCE(completed_at, $2),
		    updated_at = $2
		WHERE id = $1 AND status = 'PENDING' AND payment_status = 'UNPAID'
	`
	tag, err := r.db.Exec(ctx, query, id, at)
	if err != nil {
		return false, fmt.Errorf("repository: failed to mark order %s paid: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *postgresRepository) Cancel(ctx context.Context, id uuid.UUID, reason string, at time.Time) (bool, error) {
	swapped := false

	err := db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		query := `
			UPDATE shop.orders
			SET status = 'CANCELLED', cancelled_at = $2, cancel_reason = $3, updated_at = $2
			WHERE id = $1 AND status = 'PENDING' AND payment_status = 'UNPAID'
		`
		tag, err := tx.Exec(ctx, query, id, at, reason)
		if err != nil {
			return fmt.Errorf("repository: failed to cancel order %s: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		swapped = true

		rows, err := tx.Query(ctx, `SELECT product_id, quantity FROM shop.order_items WHERE order_id = $1`, id)
		if err != nil {
			return fmt.Errorf("repository: failed to query items of order %s: %w", id, err)
		}
		lines, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (inventory.Line, error) {
			var line inventory.Line
			err := row.Scan(&line.ProductID, &line.Quantity)
			return line, err
		})
		if err != nil {
			return fmt.Errorf("repository: failed to scan items of order %s: %w", id, err)
		}

		return r.ledger.Release(ctx, tx, lines)
	})
	if err != nil {
		return false, err
	}
	return swapped, nil
}

func (r *postgresRepository) ListExpiredMomo(ctx context.Context, createdBefore time.Time) ([]uuid.UUID, error) {
	query := `
		SELECT id
		FROM shop.orders
		WHERE payment_method = 'MOMO'
		  AND status = 'PENDING'
		  AND payment_status = 'UNPAID'
		  AND created_at < $1
		ORDER BY created_at
	`
	rows, err := r.db.Query(ctx, query, createdBefore)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query expired momo orders: %w", err)
	}

	ids, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (uuid.UUID, error) {
		var id uuid.UUID
		err := row.Scan(&id)
		return id, err
	})
	if err != nil {
		return nil, fmt.Errorf("repository: failed to scan expired momo orders: %w", err)
	}
	return ids, nil
}

func (r *postgresRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to OrderStatus, at time.Time) (bool, error) {
	var completedAt *time.Time
	if to == StatusCompleted {
		completedAt = &at
	}

	query := `
		UPDATE shop.orders
		SET status = $3, updated_at = $4, completed_at = COALESCE(completed_at, $5::timestamptz)
		WHERE id = $1 AND status = $2
	`
	tag, err := r.db.Exec(ctx, query, id, string(from), string(to), at, completedAt)
	if err != nil {
		return false, fmt.Errorf("repository: failed to update order %s status: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}
