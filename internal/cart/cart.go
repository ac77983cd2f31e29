package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/vasiliy-maslov/furniture-store/internal/db"
)

var ErrCartItemNotFound = errors.New("cart item not found")

type Item struct {
	UserID    uuid.UUID `json:"user_id" db:"user_id"`
	ProductID uuid.UUID `json:"product_id" db:"product_id"`
	Quantity  int       `json:"quantity" db:"quantity"`
}

type Repository interface {
	GetItem(ctx context.Context, userID, productID uuid.UUID) (*Item, error)
	// SetQuantity creates the line or overwrites its quantity.
	SetQuantity(ctx context.Context, userID, productID uuid.UUID, quantity int) error
	// RemoveProducts deletes only the listed lines of the user's cart. It runs
	// on the caller's querier so checkout can clear lines inside its own
	// transaction.
	RemoveProducts(ctx context.Context, q db.Querier, userID uuid.UUID, productIDs []uuid.UUID) (int64, error)
}

type postgresRepository struct {
	db db.Querier
}

func NewRepository(q db.Querier) Repository {
	return &postgresRepository{db: q}
}

func (r *postgresRepository) GetItem(ctx context.Context, userID, productID uuid.UUID) (*Item, error) {
	query := `
		SELECT user_id, product_id, quantity
		FROM shop.cart_items
		WHERE user_id = $1 AND product_id = $2
	`

	var item Item
	err := r.db.QueryRow(ctx, query, userID, productID).Scan(&item.UserID, &item.ProductID, &item.Quantity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCartItemNotFound
		}
		return nil, fmt.Errorf("repository: failed to select cart item: %w", err)
	}

	return &item, nil
}

func (r *postgresRepository) SetQuantity(ctx context.Context, userID, productID uuid.UUID, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("repository: cart quantity must be positive, got %d", quantity)
	}

	query := `
		INSERT INTO shop.cart_items (user_id, product_id, quantity)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, product_id)
		DO UPDATE SET quantity = EXCLUDED.quantity, updated_at = now()
	`
	if _, err := r.db.Exec(ctx, query, userID, productID, quantity); err != nil {
		return fmt.Errorf("repository: failed to upsert cart item: %w", err)
	}
	return nil
}

func (r *postgresRepository) RemoveProducts(ctx context.Context, q db.Querier, userID uuid.UUID, productIDs []uuid.UUID) (int64, error) {
	if len(productIDs) == 0 {
		return 0, nil
	}

	query := `DELETE FROM shop.cart_items WHERE user_id = $1 AND product_id = ANY($2)`
	tag, err := q.Exec(ctx, query, userID, productIDs)
	if err != nil {
		return 0, fmt.Errorf("repository: failed to remove cart items: %w", err)
	}
	return tag.RowsAffected(), nil
}
