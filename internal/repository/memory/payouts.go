package memory

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/reflink/platform/internal/domain"
	"github.com/reflink/platform/internal/repository"
)

type payoutRepo struct {
	s *Store
}

func (r *payoutRepo) Create(_ context.Context, db repository.DBTX, p *domain.Payout) error {
	defer r.s.lock(db)()
	if _, ok := r.s.st.payouts[p.ID]; ok {
		return repository.ErrDuplicate
	}
	row := *p
	if row.CommissionIDs == nil {
		row.CommissionIDs = []uuid.UUID{}
	}
	row.CreatedAt = row.ScheduledAt
	row.UpdatedAt = row.ScheduledAt
	r.s.st.payouts[p.ID] = row
	return nil
}

func (r *payoutRepo) SetBatch(_ context.Context, db repository.DBTX, payoutID uuid.UUID, amount int64, commissionIDs []uuid.UUID) error {
	defer r.s.lock(db)()
	p, ok := r.s.st.payouts[payoutID]
	if !ok || p.Status != domain.PayoutPending {
		return nil
	}
	p.Amount = amount
	p.CommissionIDs = slices.Clone(commissionIDs)
	r.s.st.payouts[payoutID] = p
	return nil
}

func (r *payoutRepo) FindByID(_ context.Context, db repository.DBTX, id uuid.UUID) (*domain.Payout, error) {
	defer r.s.lock(db)()
	p, ok := r.s.st.payouts[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *payoutRepo) Lease(_ context.Context, db repository.DBTX, l domain.PayoutLease) (*domain.Payout, error) {
	defer r.s.lock(db)()
	p, ok := r.s.st.payouts[l.PayoutID]
	if !ok || p.Exhausted || !slices.Contains(l.From, p.Status) {
		return nil, nil
	}
	if !l.StaleBefore.IsZero() && !lastActivity(p).Before(l.StaleBefore) {
		return nil, nil
	}
	at := l.At
	p.Status = domain.PayoutProcessing
	p.Attempts++
	p.LastAttemptAt = &at
	p.UpdatedAt = at
	r.s.st.payouts[p.ID] = p
	return &p, nil
}

func (r *payoutRepo) Complete(_ context.Context, db repository.DBTX, c domain.PayoutCompletion) (*domain.Payout, error) {
	defer r.s.lock(db)()
	p, ok := r.s.st.payouts[c.PayoutID]
	if !ok || p.Status != domain.PayoutProcessing {
		return nil, nil
	}
	method, ref, at := c.Method, c.TransactionRef, c.At
	p.Status = domain.PayoutCompleted
	p.Method = &method
	p.TransactionRef = &ref
	p.ProcessedAt = &at
	p.FailureReason = nil
	p.UpdatedAt = at
	r.s.st.payouts[p.ID] = p
	return &p, nil
}

func (r *payoutRepo) Fail(_ context.Context, db repository.DBTX, f domain.PayoutFailure) (*domain.Payout, error) {
	defer r.s.lock(db)()
	p, ok := r.s.st.payouts[f.PayoutID]
	if !ok || p.Status != domain.PayoutProcessing {
		return nil, nil
	}
	reason := f.Reason
	p.Status = domain.PayoutFailed
	p.FailureReason = &reason
	p.Exhausted = f.Exhausted
	p.UpdatedAt = f.At
	r.s.st.payouts[p.ID] = p
	return &p, nil
}

func (r *payoutRepo) ListReconcilable(_ context.Context, db repository.DBTX, statuses []domain.PayoutStatus, staleBefore time.Time, limit int) ([]domain.Payout, error) {
	defer r.s.lock(db)()
	if limit <= 0 {
		limit = 500
	}
	var rows []domain.Payout
	for _, p := range r.s.st.payouts {
		if p.Exhausted || !slices.Contains(statuses, p.Status) {
			continue
		}
		if !staleBefore.IsZero() && !lastActivity(p).Before(staleBefore) {
			continue
		}
		rows = append(rows, p)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ScheduledAt.Before(rows[j].ScheduledAt) })
	return page(rows, limit, 0), nil
}

func (r *payoutRepo) List(_ context.Context, db repository.DBTX, filter domain.PayoutFilter) ([]domain.Payout, int64, error) {
	defer r.s.lock(db)()
	filter = filter.Normalize()
	var rows []domain.Payout
	for _, p := range r.s.st.payouts {
		if filter.AffiliateID != nil && p.AffiliateID != *filter.AffiliateID {
			continue
		}
		if filter.Status != nil && p.Status != *filter.Status {
			continue
		}
		rows = append(rows, p)
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.After(rows[j].CreatedAt)
		}
		return rows[i].ID.String() < rows[j].ID.String()
	})
	return page(rows, filter.Limit, filter.Offset()), int64(len(rows)), nil
}

func (r *payoutRepo) Stats(_ context.Context, db repository.DBTX) (*domain.PayoutStats, error) {
	defer r.s.lock(db)()
	totals := map[domain.PayoutStatus]*domain.PayoutStatusTotal{}
	exhausted := map[domain.PayoutStatus]int64{}
	for _, p := range r.s.st.payouts {
		t, ok := totals[p.Status]
		if !ok {
			t = &domain.PayoutStatusTotal{Status: p.Status}
			totals[p.Status] = t
		}
		t.Count++
		t.Amount += p.Amount
		if p.Exhausted {
			exhausted[p.Status]++
		}
	}
	statuses := make([]domain.PayoutStatus, 0, len(totals))
	for s := range totals {
		statuses = append(statuses, s)
	}
	slices.Sort(statuses)

	stats := &domain.PayoutStats{ByStatus: []domain.PayoutStatusTotal{}}
	for _, s := range statuses {
		stats.Add(*totals[s], exhausted[s])
	}
	return stats, nil
}

func (r *payoutRepo) InsertEvent(_ context.Context, db repository.DBTX, e *domain.PayoutEvent) error {
	defer r.s.lock(db)()
	r.s.st.nextEventID++
	e.ID = r.s.st.nextEventID
	r.s.st.payoutEvents = append(r.s.st.payoutEvents, *e)
	return nil
}

func (r *payoutRepo) ListEvents(_ context.Context, db repository.DBTX, payoutID uuid.UUID) ([]domain.PayoutEvent, error) {
	defer r.s.lock(db)()
	var out []domain.PayoutEvent
	for _, e := range r.s.st.payoutEvents {
		if e.PayoutID == payoutID {
			out = append(out, e)
		}
	}
	return out, nil
}

func lastActivity(p domain.Payout) time.Time {
	if p.LastAttemptAt != nil {
		return *p.LastAttemptAt
	}
	return p.ScheduledAt
}
