package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type pgTxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner returns a TxRunner backed by a pgx pool.
func NewTxRunner(pool *pgxpool.Pool) TxRunner {
	return &pgTxRunner{pool: pool}
}

func (r *pgTxRunner) DB() DBTX { return r.pool }

func (r *pgTxRunner) InTx(ctx context.Context, fn func(tx DBTX) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// NewPostgres wires every pgx-backed repository around one pool.
func NewPostgres(pool *pgxpool.Pool) *Repositories {
	return &Repositories{
		Tx:          NewTxRunner(pool),
		Admins:      NewAdminRepository(),
		Affiliates:  NewAffiliateRepository(),
		Links:       NewLinkRepository(),
		Clicks:      NewClickRepository(),
		Commissions: NewCommissionRepository(),
		Payouts:     NewPayoutRepository(),
		Outbox:      NewOutboxRepository(),
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
