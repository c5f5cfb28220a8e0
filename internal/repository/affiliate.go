package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/reflink/platform/internal/domain"
	"github.com/reflink/platform/internal/infra"
	"github.com/shopspring/decimal"
)

type affiliateRepo struct{}

// NewAffiliateRepository returns a pgx-backed AffiliateRepository.
func NewAffiliateRepository() AffiliateRepository {
	return &affiliateRepo{}
}

const affiliateColumns = `id, email, COALESCE(password_hash, ''), name, status, commission_rate,
	bank_iban, card_account_ref, total_clicks, total_sales, total_earnings, total_paid,
	last_activity_at, created_at, updated_at`

func (r *affiliateRepo) FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Affiliate, error) {
	return scanAffiliate(db.QueryRow(ctx, `SELECT `+affiliateColumns+` FROM affiliates WHERE id = $1`, id))
}

func (r *affiliateRepo) FindByEmail(ctx context.Context, db DBTX, email string) (*domain.Affiliate, error) {
	return scanAffiliate(db.QueryRow(ctx, `SELECT `+affiliateColumns+` FROM affiliates WHERE lower(email) = lower($1)`, email))
}

func scanAffiliate(row pgx.Row) (*domain.Affiliate, error) {
	var a domain.Affiliate
	var rate, earnings, paid pgtype.Numeric
	err := row.Scan(&a.ID, &a.Email, &a.PasswordHash, &a.Name, &a.Status, &rate,
		&a.BankIBAN, &a.CardAccountRef, &a.TotalClicks, &a.TotalSales, &earnings, &paid,
		&a.LastActivityAt, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan affiliate: %w", err)
	}
	if a.CommissionRate, err = infra.NumericToDecimal(rate); err != nil {
		return nil, fmt.Errorf("convert commission rate: %w", err)
	}
	if a.TotalEarnings, err = infra.NumericToInt64(earnings); err != nil {
		return nil, fmt.Errorf("convert total earnings: %w", err)
	}
	if a.TotalPaid, err = infra.NumericToInt64(paid); err != nil {
		return nil, fmt.Errorf("convert total paid: %w", err)
	}
	return &a, nil
}

func (r *affiliateRepo) Create(ctx context.Context, db DBTX, a *domain.Affiliate) error {
	_, err := db.Exec(ctx, `
		INSERT INTO affiliates (id, email, password_hash, name, status, commission_rate, bank_iban, card_account_ref)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8)`,
		a.ID, a.Email, a.PasswordHash, a.Name, string(a.Status),
		infra.DecimalToNumeric(a.CommissionRate), a.BankIBAN, a.CardAccountRef,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert affiliate: %w", err)
	}
	return nil
}

func (r *affiliateRepo) SetCommissionRate(ctx context.Context, db DBTX, id uuid.UUID, rate decimal.Decimal, at time.Time) error {
	_, err := db.Exec(ctx, `UPDATE affiliates SET commission_rate = $2, updated_at = $3 WHERE id = $1`,
		id, infra.DecimalToNumeric(rate), at)
	if err != nil {
		return fmt.Errorf("set commission rate: %w", err)
	}
	return nil
}

func (r *affiliateRepo) SetStatus(ctx context.Context, db DBTX, id uuid.UUID, status domain.AffiliateStatus, at time.Time) (bool, error) {
	tag, err := db.Exec(ctx, `UPDATE affiliates SET status = $2, updated_at = $3 WHERE id = $1`, id, string(status), at)
	if err != nil {
		return false, fmt.Errorf("set affiliate status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *affiliateRepo) IncrementClicks(ctx context.Context, db DBTX, id uuid.UUID, at time.Time) error {
	_, err := db.Exec(ctx, `
		UPDATE affiliates SET total_clicks = total_clicks + 1, last_activity_at = $2, updated_at = now()
		WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("increment affiliate clicks: %w", err)
	}
	return nil
}

func (r *affiliateRepo) AddSale(ctx context.Context, db DBTX, id uuid.UUID, commission int64, at time.Time) error {
	_, err := db.Exec(ctx, `
		UPDATE affiliates SET total_sales = total_sales + 1, total_earnings = total_earnings + $2,
			last_activity_at = $3, updated_at = now()
		WHERE id = $1`, id, infra.Int64ToNumeric(commission), at)
	if err != nil {
		return fmt.Errorf("add affiliate sale: %w", err)
	}
	return nil
}

func (r *affiliateRepo) ReverseSale(ctx context.Context, db DBTX, id uuid.UUID, commission int64, at time.Time) error {
	_, err := db.Exec(ctx, `
		UPDATE affiliates SET total_sales = GREATEST(total_sales - 1, 0),
			total_earnings = GREATEST(total_earnings - $2, 0), updated_at = $3
		WHERE id = $1`, id, infra.Int64ToNumeric(commission), at)
	if err != nil {
		return fmt.Errorf("reverse affiliate sale: %w", err)
	}
	return nil
}

func (r *affiliateRepo) AddPaid(ctx context.Context, db DBTX, id uuid.UUID, amount int64, at time.Time) error {
	_, err := db.Exec(ctx, `
		UPDATE affiliates SET total_paid = total_paid + $2, updated_at = $3
		WHERE id = $1`, id, infra.Int64ToNumeric(amount), at)
	if err != nil {
		return fmt.Errorf("add affiliate paid: %w", err)
	}
	return nil
}
