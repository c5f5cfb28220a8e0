package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/reflink/platform/internal/domain"
	"github.com/reflink/platform/internal/infra"
)

type payoutRepo struct{}

// NewPayoutRepository returns a pgx-backed PayoutRepository.
func NewPayoutRepository() PayoutRepository {
	return &payoutRepo{}
}

const payoutColumns = `id, affiliate_id, amount, currency, method, status, attempts, exhausted,
		       scheduled_at, last_attempt_at, processed_at, transaction_ref, failure_reason,
		       commission_ids, created_at, updated_at`

func (r *payoutRepo) Create(ctx context.Context, db DBTX, p *domain.Payout) error {
	ids := p.CommissionIDs
	if ids == nil {
		ids = []uuid.UUID{}
	}
	_, err := db.Exec(ctx, `
		INSERT INTO payouts (id, affiliate_id, amount, currency, status, scheduled_at, commission_ids,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $6, $6)`,
		p.ID, p.AffiliateID, infra.Int64ToNumeric(p.Amount), p.Currency, string(p.Status),
		p.ScheduledAt, ids,
	)
	if err != nil {
		return fmt.Errorf("insert payout: %w", err)
	}
	return nil
}

func (r *payoutRepo) SetBatch(ctx context.Context, db DBTX, payoutID uuid.UUID, amount int64, commissionIDs []uuid.UUID) error {
	_, err := db.Exec(ctx, `
		UPDATE payouts SET amount = $2, commission_ids = $3, updated_at = now()
		WHERE id = $1 AND status = 'pending'`,
		payoutID, infra.Int64ToNumeric(amount), commissionIDs)
	if err != nil {
		return fmt.Errorf("set payout batch: %w", err)
	}
	return nil
}

func (r *payoutRepo) FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Payout, error) {
	row := db.QueryRow(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE id = $1`, id)
	return nilOnNoRows(scanPayout(row))
}

// Lease is the only way into processing. The status, exhaustion and age guards in the
// WHERE clause let at most one worker win a given attempt.
func (r *payoutRepo) Lease(ctx context.Context, db DBTX, l domain.PayoutLease) (*domain.Payout, error) {
	var staleBefore *time.Time
	if !l.StaleBefore.IsZero() {
		staleBefore = &l.StaleBefore
	}
	row := db.QueryRow(ctx, `
		UPDATE payouts SET status = 'processing', attempts = attempts + 1,
			last_attempt_at = $3, updated_at = $3
		WHERE id = $1 AND status = ANY($2) AND NOT exhausted
		  AND ($4::timestamptz IS NULL OR COALESCE(last_attempt_at, scheduled_at) < $4::timestamptz)
		RETURNING `+payoutColumns,
		l.PayoutID, payoutStatusStrings(l.From), l.At, staleBefore)
	return nilOnNoRows(scanPayout(row))
}

func (r *payoutRepo) Complete(ctx context.Context, db DBTX, c domain.PayoutCompletion) (*domain.Payout, error) {
	row := db.QueryRow(ctx, `
		UPDATE payouts SET status = 'completed', method = $2, transaction_ref = $3,
			processed_at = $4, failure_reason = NULL, updated_at = $4
		WHERE id = $1 AND status = 'processing'
		RETURNING `+payoutColumns,
		c.PayoutID, string(c.Method), c.TransactionRef, c.At)
	return nilOnNoRows(scanPayout(row))
}

func (r *payoutRepo) Fail(ctx context.Context, db DBTX, f domain.PayoutFailure) (*domain.Payout, error) {
	row := db.QueryRow(ctx, `
		UPDATE payouts SET status = 'failed', failure_reason = $2, exhausted = $3, updated_at = $4
		WHERE id = $1 AND status = 'processing'
		RETURNING `+payoutColumns,
		f.PayoutID, f.Reason, f.Exhausted, f.At)
	return nilOnNoRows(scanPayout(row))
}

func (r *payoutRepo) ListReconcilable(ctx context.Context, db DBTX, statuses []domain.PayoutStatus, staleBefore time.Time, limit int) ([]domain.Payout, error) {
	if limit <= 0 {
		limit = 500
	}
	var cutoff *time.Time
	if !staleBefore.IsZero() {
		cutoff = &staleBefore
	}
	rows, err := db.Query(ctx, `
		SELECT `+payoutColumns+`
		FROM payouts
		WHERE status = ANY($1) AND NOT exhausted
		  AND ($2::timestamptz IS NULL OR COALESCE(last_attempt_at, scheduled_at) < $2::timestamptz)
		ORDER BY scheduled_at ASC
		LIMIT $3`, payoutStatusStrings(statuses), cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("query reconcilable payouts: %w", err)
	}
	defer rows.Close()
	return collectPayouts(rows)
}

func (r *payoutRepo) List(ctx context.Context, db DBTX, filter domain.PayoutFilter) ([]domain.Payout, int64, error) {
	filter = filter.Normalize()

	where := []string{"TRUE"}
	args := []interface{}{}
	argIdx := 1
	if filter.AffiliateID != nil {
		where = append(where, fmt.Sprintf("affiliate_id = $%d", argIdx))
		args = append(args, *filter.AffiliateID)
		argIdx++
	}
	if filter.Status != nil {
		where = append(where, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, string(*filter.Status))
		argIdx++
	}
	clause := strings.Join(where, " AND ")

	var total int64
	if err := db.QueryRow(ctx, `SELECT COUNT(*) FROM payouts WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count payouts: %w", err)
	}

	args = append(args, filter.Limit, filter.Offset())
	query := fmt.Sprintf(`
		SELECT %s FROM payouts WHERE %s
		ORDER BY created_at DESC, id
		LIMIT $%d OFFSET $%d`, payoutColumns, clause, argIdx, argIdx+1)
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query payouts: %w", err)
	}
	defer rows.Close()

	payouts, err := collectPayouts(rows)
	if err != nil {
		return nil, 0, err
	}
	return payouts, total, nil
}

func (r *payoutRepo) Stats(ctx context.Context, db DBTX) (*domain.PayoutStats, error) {
	rows, err := db.Query(ctx, `
		SELECT status, COUNT(*), COALESCE(SUM(amount), 0), COUNT(*) FILTER (WHERE exhausted)
		FROM payouts GROUP BY status ORDER BY status`)
	if err != nil {
		return nil, fmt.Errorf("query payout stats: %w", err)
	}
	defer rows.Close()

	stats := &domain.PayoutStats{ByStatus: []domain.PayoutStatusTotal{}}
	for rows.Next() {
		var t domain.PayoutStatusTotal
		var amount pgtype.Numeric
		var exhausted int64
		if err := rows.Scan(&t.Status, &t.Count, &amount, &exhausted); err != nil {
			return nil, fmt.Errorf("scan payout stats: %w", err)
		}
		if t.Amount, err = infra.NumericToInt64(amount); err != nil {
			return nil, fmt.Errorf("convert payout stats amount: %w", err)
		}
		stats.Add(t, exhausted)
	}
	return stats, rows.Err()
}

func (r *payoutRepo) InsertEvent(ctx context.Context, db DBTX, e *domain.PayoutEvent) error {
	var method *string
	if e.Method != nil {
		m := string(*e.Method)
		method = &m
	}
	err := db.QueryRow(ctx, `
		INSERT INTO payout_events (payout_id, method, status, message, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		e.PayoutID, method, string(e.Status), e.Message, e.CreatedAt).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("insert payout event: %w", err)
	}
	return nil
}

func (r *payoutRepo) ListEvents(ctx context.Context, db DBTX, payoutID uuid.UUID) ([]domain.PayoutEvent, error) {
	rows, err := db.Query(ctx, `
		SELECT id, payout_id, method, status, message, created_at
		FROM payout_events WHERE payout_id = $1 ORDER BY id ASC`, payoutID)
	if err != nil {
		return nil, fmt.Errorf("query payout events: %w", err)
	}
	defer rows.Close()

	var out []domain.PayoutEvent
	for rows.Next() {
		var e domain.PayoutEvent
		if err := rows.Scan(&e.ID, &e.PayoutID, &e.Method, &e.Status, &e.Message, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan payout event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanPayout(row pgx.Row) (*domain.Payout, error) {
	var p domain.Payout
	var amount pgtype.Numeric
	err := row.Scan(&p.ID, &p.AffiliateID, &amount, &p.Currency, &p.Method, &p.Status, &p.Attempts,
		&p.Exhausted, &p.ScheduledAt, &p.LastAttemptAt, &p.ProcessedAt, &p.TransactionRef,
		&p.FailureReason, &p.CommissionIDs, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan payout: %w", err)
	}
	if p.Amount, err = infra.NumericToInt64(amount); err != nil {
		return nil, fmt.Errorf("convert payout amount: %w", err)
	}
	return &p, nil
}

func collectPayouts(rows pgx.Rows) ([]domain.Payout, error) {
	var out []domain.Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func nilOnNoRows(p *domain.Payout, err error) (*domain.Payout, error) {
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

func payoutStatusStrings(in []domain.PayoutStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}
