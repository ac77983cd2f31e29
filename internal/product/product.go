package product

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/vasiliy-maslov/furniture-store/internal/db"
)

// Product is the slice of the catalog row that checkout needs.
type Product struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	SKU       string    `json:"sku" db:"sku"`
	Price     int64     `json:"price" db:"price"`
	SalePrice *int64    `json:"sale_price,omitempty" db:"sale_price"`
	Stock     int       `json:"stock" db:"stock"`
	Sales     int       `json:"sales" db:"sales"`
	IsActive  bool      `json:"is_active" db:"is_active"`
}

// EffectivePrice is the sale price when one is set, the regular price otherwise.
func (p Product) EffectivePrice() int64 {
	if p.SalePrice != nil {
		return *p.SalePrice
	}
	return p.Price
}

type Repository interface {
	// GetByIDs loads every product in ids with one query. Unknown ids are
	// simply absent from the result.
	GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Product, error)
}

type postgresRepository struct {
	db db.Querier
}

func NewRepository(q db.Querier) Repository {
	return &postgresRepository{db: q}
}

func (r *postgresRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Product, error) {
	products := make(map[uuid.UUID]Product, len(ids))
	if len(ids) == 0 {
		return products, nil
	}

	query := `
		SELECT id, name, sku, price, sale_price, stock, sales, is_active
		FROM shop.products
		WHERE id = ANY($1)
	`
	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.SKU, &p.Price, &p.SalePrice, &p.Stock, &p.Sales, &p.IsActive); err != nil {
			return nil, fmt.Errorf("repository: failed to scan product: %w", err)
		}
		products[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating products: %w", err)
	}

	return products, nil
}
