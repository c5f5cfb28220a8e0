package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/reflink/platform/internal/domain"
	"github.com/reflink/platform/internal/infra"
)

type clickRepo struct{}

// NewClickRepository returns a pgx-backed ClickRepository.
func NewClickRepository() ClickRepository {
	return &clickRepo{}
}

func (r *clickRepo) Insert(ctx context.Context, db DBTX, c *domain.Click) error {
	meta := c.ClientMeta
	if meta == nil {
		meta = json.RawMessage(`{}`)
	}
	_, err := db.Exec(ctx, `
		INSERT INTO clicks (id, link_id, affiliate_id, "timestamp", client_meta)
		VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.LinkID, c.AffiliateID, c.Timestamp, meta,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert click: %w", err)
	}
	return nil
}

func (r *clickRepo) FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Click, error) {
	row := db.QueryRow(ctx, `
		SELECT id, link_id, affiliate_id, "timestamp", client_meta, converted,
		       order_id, order_value, commission_at_conversion
		FROM clicks WHERE id = $1`, id)

	var c domain.Click
	var orderValue, commission pgtype.Numeric
	err := row.Scan(&c.ID, &c.LinkID, &c.AffiliateID, &c.Timestamp, &c.ClientMeta, &c.Converted,
		&c.OrderID, &orderValue, &commission)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan click: %w", err)
	}
	if orderValue.Valid {
		v, err := infra.NumericToInt64(orderValue)
		if err != nil {
			return nil, fmt.Errorf("convert click order value: %w", err)
		}
		c.OrderValue = &v
	}
	if commission.Valid {
		v, err := infra.NumericToInt64(commission)
		if err != nil {
			return nil, fmt.Errorf("convert click commission: %w", err)
		}
		c.CommissionAtConversion = &v
	}
	return &c, nil
}

func (r *clickRepo) MarkConverted(ctx context.Context, db DBTX, conv domain.ClickConversion) (bool, error) {
	tag, err := db.Exec(ctx, `
		UPDATE clicks SET converted = true, order_id = $2, order_value = $3, commission_at_conversion = $4
		WHERE id = $1 AND converted = false`,
		conv.ClickID, conv.OrderID, infra.Int64ToNumeric(conv.OrderValue), infra.Int64ToNumeric(conv.Commission))
	if err != nil {
		return false, fmt.Errorf("mark click converted: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
