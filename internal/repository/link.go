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
)

type linkRepo struct{}

// NewLinkRepository returns a pgx-backed LinkRepository.
func NewLinkRepository() LinkRepository {
	return &linkRepo{}
}

const linkColumns = `id, short_code, destination_url, owner_id, status, expires_at,
		       click_count, conversion_count, total_revenue, last_clicked_at, created_at, updated_at`

func (r *linkRepo) Create(ctx context.Context, db DBTX, l *domain.Link) error {
	_, err := db.Exec(ctx, `
		INSERT INTO links (id, short_code, destination_url, owner_id, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		l.ID, l.ShortCode, l.DestinationURL, l.OwnerID, string(l.Status), l.ExpiresAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert link: %w", err)
	}
	return nil
}

func (r *linkRepo) FindByShortCode(ctx context.Context, db DBTX, shortCode string) (*domain.Link, error) {
	row := db.QueryRow(ctx, `SELECT `+linkColumns+` FROM links WHERE short_code = $1`, shortCode)
	return scanLink(row)
}

func (r *linkRepo) FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Link, error) {
	row := db.QueryRow(ctx, `SELECT `+linkColumns+` FROM links WHERE id = $1`, id)
	return scanLink(row)
}

func (r *linkRepo) SetStatus(ctx context.Context, db DBTX, id uuid.UUID, status domain.LinkStatus, at time.Time) error {
	_, err := db.Exec(ctx, `UPDATE links SET status = $2, updated_at = $3 WHERE id = $1`, id, string(status), at)
	if err != nil {
		return fmt.Errorf("set link status: %w", err)
	}
	return nil
}

func (r *linkRepo) IncrementClicks(ctx context.Context, db DBTX, id uuid.UUID, at time.Time) error {
	_, err := db.Exec(ctx, `
		UPDATE links SET click_count = click_count + 1, last_clicked_at = $2, updated_at = now()
		WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("increment link clicks: %w", err)
	}
	return nil
}

func (r *linkRepo) AddConversion(ctx context.Context, db DBTX, id uuid.UUID, revenue int64) error {
	_, err := db.Exec(ctx, `
		UPDATE links SET conversion_count = conversion_count + 1, total_revenue = total_revenue + $2,
			updated_at = now()
		WHERE id = $1`, id, infra.Int64ToNumeric(revenue))
	if err != nil {
		return fmt.Errorf("add link conversion: %w", err)
	}
	return nil
}

func scanLink(row pgx.Row) (*domain.Link, error) {
	var l domain.Link
	var revenue pgtype.Numeric
	err := row.Scan(&l.ID, &l.ShortCode, &l.DestinationURL, &l.OwnerID, &l.Status, &l.ExpiresAt,
		&l.ClickCount, &l.ConversionCount, &revenue, &l.LastClickedAt, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan link: %w", err)
	}
	if l.TotalRevenue, err = infra.NumericToInt64(revenue); err != nil {
		return nil, fmt.Errorf("convert link revenue: %w", err)
	}
	return &l, nil
}
