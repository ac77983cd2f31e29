package voucher

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/vasiliy-maslov/furniture-store/internal/db"
)

type Repository interface {
	GetByCode(ctx context.Context, code string) (*Voucher, error)
	// Redeem increments used_count once. It must run inside the order
	// creation transaction and fails with ErrVoucherExhausted when the
	// limit was reached concurrently.
	Redeem(ctx context.Context, q db.Querier, id uuid.UUID) error
}

type postgresRepository struct {
	db db.Querier
}

func NewRepository(q db.Querier) Repository {
	return &postgresRepository{db: q}
}

func (r *postgresRepository) GetByCode(ctx context.Context, code string) (*Voucher, error) {
	query := `
		SELECT id, code, discount_type, discount_value, min_order_value, max_discount,
		       usage_limit, used_count, start_date, end_date, is_active
		FROM shop.vouchers
		WHERE code = $1
	`

	var v Voucher
	err := r.db.QueryRow(ctx, query, code).Scan(
		&v.ID,
		&v.Code,
		&v.DiscountType,
		&v.DiscountValue,
		&v.MinOrderValue,
		&v.MaxDiscount,
		&v.UsageLimit,
		&v.UsedCount,
		&v.StartDate,
		&v.EndDate,
		&v.IsActive,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVoucherNotFound
		}
		return nil, fmt.Errorf("repository: failed to select voucher %s: %w", code, err)
	}

	return &v, nil
}

func (r *postgresRepository) Redeem(ctx context.Context, q db.Querier, id uuid.UUID) error {
	query := `
		UPDATE shop.vouchers
		SET used_count = used_count + 1
		WHERE id = $1 AND (usage_limit IS NULL OR used_count < usage_limit)
	`
	tag, err := q.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("repository: failed to redeem voucher %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVoucherExhausted
	}
	return nil
}
