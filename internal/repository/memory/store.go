// Package memory implements the repository interfaces on in-process maps.
// It backs STORE_DRIVER=memory and the service test suites.
package memory

import (
	"context"
	"errors"
	"maps"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/reflink/platform/internal/domain"
	"github.com/reflink/platform/internal/repository"
)

var errNoSQL = errors.New("memory store does not execute SQL")

type state struct {
	admins            map[uuid.UUID]domain.AdminUser
	affiliates        map[uuid.UUID]domain.Affiliate
	links             map[uuid.UUID]domain.Link
	linkByCode        map[string]uuid.UUID
	clicks            map[uuid.UUID]domain.Click
	commissions       map[uuid.UUID]domain.Commission
	commissionByOrder map[string]uuid.UUID
	payouts           map[uuid.UUID]domain.Payout
	payoutEvents      []domain.PayoutEvent
	outbox            []domain.OutboxDraft
	published         map[int64]bool
	nextEventID       int64
	nextOutboxID      int64
}

func newState() state {
	return state{
		admins:            map[uuid.UUID]domain.AdminUser{},
		affiliates:        map[uuid.UUID]domain.Affiliate{},
		links:             map[uuid.UUID]domain.Link{},
		linkByCode:        map[string]uuid.UUID{},
		clicks:            map[uuid.UUID]domain.Click{},
		commissions:       map[uuid.UUID]domain.Commission{},
		commissionByOrder: map[string]uuid.UUID{},
		payouts:           map[uuid.UUID]domain.Payout{},
		published:         map[int64]bool{},
	}
}

// clone copies every collection so a failed transaction can be rolled back.
// Rows are values; pointer fields inside them are replaced, never mutated in place.
func (s state) clone() state {
	return state{
		admins:            maps.Clone(s.admins),
		affiliates:        maps.Clone(s.affiliates),
		links:             maps.Clone(s.links),
		linkByCode:        maps.Clone(s.linkByCode),
		clicks:            maps.Clone(s.clicks),
		commissions:       maps.Clone(s.commissions),
		commissionByOrder: maps.Clone(s.commissionByOrder),
		payouts:           maps.Clone(s.payouts),
		payoutEvents:      append([]domain.PayoutEvent(nil), s.payoutEvents...),
		outbox:            append([]domain.OutboxDraft(nil), s.outbox...),
		published:         maps.Clone(s.published),
		nextEventID:       s.nextEventID,
		nextOutboxID:      s.nextOutboxID,
	}
}

// Store is a single-mutex in-memory database. Transactions hold the mutex for their
// whole duration, so they are serializable.
type Store struct {
	mu sync.Mutex
	st state
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{st: newState()}
}

// New wires every memory-backed repository around one Store.
func New() *repository.Repositories {
	s := NewStore()
	return &repository.Repositories{
		Tx:          s,
		Admins:      &adminRepo{s: s},
		Affiliates:  &affiliateRepo{s: s},
		Links:       &linkRepo{s: s},
		Clicks:      &clickRepo{s: s},
		Commissions: &commissionRepo{s: s},
		Payouts:     &payoutRepo{s: s},
		Outbox:      &outboxRepo{s: s},
	}
}

func (s *Store) DB() repository.DBTX { return &handle{} }

func (s *Store) InTx(ctx context.Context, fn func(tx repository.DBTX) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(&handle{inTx: true}); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

// lock takes the store mutex unless the caller already holds it through InTx.
func (s *Store) lock(db repository.DBTX) func() {
	if h, ok := db.(*handle); ok && h.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// handle satisfies repository.DBTX; memory repositories only inspect inTx.
type handle struct {
	inTx bool
}

func (h *handle) Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errNoSQL
}

func (h *handle) Query(context.Context, string, ...interface{}) (pgx.Rows, error) {
	return nil, errNoSQL
}

func (h *handle) QueryRow(context.Context, string, ...interface{}) pgx.Row {
	return errRow{}
}

type errRow struct{}

func (errRow) Scan(...any) error { return errNoSQL }
