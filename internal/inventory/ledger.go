// Package inventory adjusts per-product stock and sales counters.
//
// Reserve moves units from stock to sales when an order is placed; Release
// moves them back when the order is cancelled. The ledger itself does not
// track which orders were reserved: callers guarantee that Release runs at
// most once per order by guarding it with the order's status transition.
package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/furniture-store/internal/db"
)

var ErrInsufficientStock = errors.New("insufficient stock")

// Line is a single product/quantity adjustment.
type Line struct {
	ProductID uuid.UUID
	Quantity  int
}

type Ledger interface {
	Reserve(ctx context.Context, q db.Querier, lines []Line) error
	Release(ctx context.Context, q db.Querier, lines []Line) error
}

type postgresLedger struct{}

func NewLedger() Ledger {
	return postgresLedger{}
}

// Reserve decrements stock only while enough units remain, so two concurrent
// checkouts cannot both take the last unit. Run it inside a transaction: a
// failed line leaves earlier lines applied until the caller rolls back.
func (postgresLedger) Reserve(ctx context.Context, q db.Querier, lines []Line) error {
	query := `
		UPDATE shop.products
		SET stock = stock - $2, sales = sales + $2, updated_at = now()
		WHERE id = $1 AND stock >= $2
	`
	for _, line := range lines {
		if line.Quantity <= 0 {
			return fmt.Errorf("inventory: quantity for product %s must be positive", line.ProductID)
		}
		tag, err := q.Exec(ctx, query, line.ProductID, line.Quantity)
		if err != nil {
			return fmt.Errorf("inventory: failed to reserve product %s: %w", line.ProductID, err)
		}
		if tag.RowsAffected() == 0 {
			log.Warn().Stringer("product_id", line.ProductID).Int("quantity", line.Quantity).Msg("inventory: reservation rejected, stock too low")
			return fmt.Errorf("inventory: product %s: %w", line.ProductID, ErrInsufficientStock)
		}
	}
	return nil
}

func (postgresLedger) Release(ctx context.Context, q db.Querier, lines []Line) error {
	query := `
		UPDATE shop.products
		SET stock = stock + $2, sales = sales - $2, updated_at = now()
		WHERE id = $1
	`
	for _, line := range lines {
		tag, err := q.Exec(ctx, query, line.ProductID, line.Quantity)
		if err != nil {
			return fmt.Errorf("inventory: failed to release product %s: %w", line.ProductID, err)
		}
		if tag.RowsAffected() == 0 {
			log.Warn().Stringer("product_id", line.ProductID).Msg("inventory: product vanished before release")
		}
	}
	return nil
}
