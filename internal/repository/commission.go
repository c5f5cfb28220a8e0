package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/reflink/platform/internal/domain"
	"github.com/reflink/platform/internal/infra"
)

type commissionRepo struct{}

// NewCommissionRepository returns a pgx-backed CommissionRepository.
func NewCommissionRepository() CommissionRepository {
	return &commissionRepo{}
}

const commissionColumns = `id, order_id, affiliate_id, link_id, click_id, order_value, commission_rate,
		       commission_amount, status, payout_id, customer_email, customer_name, products,
		       shipping_city, shipping_country, paid_at, created_at, updated_at`

// InsertIfAbsent relies on the unique order_id index; a conflicting insert returns no row.
func (r *commissionRepo) InsertIfAbsent(ctx context.Context, db DBTX, c *domain.Commission) (bool, error) {
	products := c.Products
	if products == nil {
		products = json.RawMessage(`[]`)
	}
	var id uuid.UUID
	err := db.QueryRow(ctx, `
		INSERT INTO commissions (id, order_id, affiliate_id, link_id, click_id, order_value,
			commission_rate, commission_amount, status, customer_email, customer_name, products,
			shipping_city, shipping_country, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)
		ON CONFLICT (order_id) DO NOTHING
		RETURNING id`,
		c.ID, c.OrderID, c.AffiliateID, c.LinkID, c.ClickID,
		infra.Int64ToNumeric(c.OrderValue), infra.DecimalToNumeric(c.CommissionRate),
		infra.Int64ToNumeric(c.CommissionAmount), string(c.Status),
		c.CustomerEmail, c.CustomerName, products, c.ShippingCity, c.ShippingCountry, c.CreatedAt,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert commission: %w", err)
	}
	return true, nil
}

func (r *commissionRepo) FindByOrderID(ctx context.Context, db DBTX, orderID string) (*domain.Commission, error) {
	row := db.QueryRow(ctx, `SELECT `+commissionColumns+` FROM commissions WHERE order_id = $1`, orderID)
	c, err := scanCommission(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func (r *commissionRepo) Transition(ctx context.Context, db DBTX, t CommissionTransition) (*domain.Commission, error) {
	row := db.QueryRow(ctx, `
		UPDATE commissions SET status = $3, updated_at = $4
		WHERE order_id = $1 AND status = ANY($2) AND (NOT $5::boolean OR payout_id IS NULL)
		RETURNING `+commissionColumns,
		t.OrderID, commissionStatusStrings(t.From), string(t.To), t.At, t.Unclaimed)
	c, err := scanCommission(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func (r *commissionRepo) UnclaimedApprovedBalances(ctx context.Context, db DBTX) ([]domain.AffiliateBalance, error) {
	rows, err := db.Query(ctx, `
		SELECT affiliate_id, SUM(commission_amount), COUNT(*)
		FROM commissions
		WHERE status = 'approved' AND payout_id IS NULL
		GROUP BY affiliate_id
		ORDER BY affiliate_id`)
	if err != nil {
		return nil, fmt.Errorf("query approved balances: %w", err)
	}
	defer rows.Close()

	var out []domain.AffiliateBalance
	for rows.Next() {
		var b domain.AffiliateBalance
		var total pgtype.Numeric
		if err := rows.Scan(&b.AffiliateID, &total, &b.Count); err != nil {
			return nil, fmt.Errorf("scan approved balance: %w", err)
		}
		if b.Total, err = infra.NumericToInt64(total); err != nil {
			return nil, fmt.Errorf("convert approved balance: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ClaimApproved is the single conditional update that makes concurrent batches safe:
// a commission already carrying a payout_id is never matched again.
func (r *commissionRepo) ClaimApproved(ctx context.Context, db DBTX, affiliateID, payoutID uuid.UUID, at time.Time) ([]domain.ClaimedCommission, error) {
	rows, err := db.Query(ctx, `
		UPDATE commissions SET payout_id = $2, updated_at = $3
		WHERE affiliate_id = $1 AND status = 'approved' AND payout_id IS NULL
		RETURNING id, commission_amount`, affiliateID, payoutID, at)
	if err != nil {
		return nil, fmt.Errorf("claim commissions: %w", err)
	}
	defer rows.Close()

	var out []domain.ClaimedCommission
	for rows.Next() {
		var c domain.ClaimedCommission
		var amount pgtype.Numeric
		if err := rows.Scan(&c.ID, &amount); err != nil {
			return nil, fmt.Errorf("scan claimed commission: %w", err)
		}
		if c.Amount, err = infra.NumericToInt64(amount); err != nil {
			return nil, fmt.Errorf("convert claimed amount: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *commissionRepo) MarkPaid(ctx context.Context, db DBTX, payoutID uuid.UUID, at time.Time) (int64, error) {
	tag, err := db.Exec(ctx, `
		UPDATE commissions SET status = 'paid', paid_at = $2, updated_at = $2
		WHERE payout_id = $1 AND status = 'approved'`, payoutID, at)
	if err != nil {
		return 0, fmt.Errorf("mark commissions paid: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *commissionRepo) ReleaseClaim(ctx context.Context, db DBTX, payoutID uuid.UUID, at time.Time) (int64, error) {
	tag, err := db.Exec(ctx, `
		UPDATE commissions SET payout_id = NULL, updated_at = $2
		WHERE payout_id = $1 AND status = 'approved'`, payoutID, at)
	if err != nil {
		return 0, fmt.Errorf("release commission claim: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *commissionRepo) ListByAffiliate(ctx context.Context, db DBTX, affiliateID uuid.UUID, limit, offset int) ([]domain.Commission, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := db.Query(ctx, `
		SELECT `+commissionColumns+`
		FROM commissions WHERE affiliate_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`, affiliateID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query commissions: %w", err)
	}
	defer rows.Close()

	var out []domain.Commission
	for rows.Next() {
		c, err := scanCommission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// scanCommission works for both pgx.Row and pgx.Rows; pgx.ErrNoRows is passed through.
func scanCommission(row pgx.Row) (*domain.Commission, error) {
	var c domain.Commission
	var orderValue, rate, amount pgtype.Numeric
	err := row.Scan(&c.ID, &c.OrderID, &c.AffiliateID, &c.LinkID, &c.ClickID, &orderValue, &rate,
		&amount, &c.Status, &c.PayoutID, &c.CustomerEmail, &c.CustomerName, &c.Products,
		&c.ShippingCity, &c.ShippingCountry, &c.PaidAt, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan commission: %w", err)
	}
	if c.OrderValue, err = infra.NumericToInt64(orderValue); err != nil {
		return nil, fmt.Errorf("convert order value: %w", err)
	}
	if c.CommissionRate, err = infra.NumericToDecimal(rate); err != nil {
		return nil, fmt.Errorf("convert commission rate: %w", err)
	}
	if c.CommissionAmount, err = infra.NumericToInt64(amount); err != nil {
		return nil, fmt.Errorf("convert commission amount: %w", err)
	}
	return &c, nil
}

func commissionStatusStrings(in []domain.CommissionStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}
