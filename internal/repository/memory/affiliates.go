package memory

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/reflink/platform/internal/domain"
	"github.com/reflink/platform/internal/repository"
	"github.com/shopspring/decimal"
)

type affiliateRepo struct {
	s *Store
}

func (r *affiliateRepo) FindByID(_ context.Context, db repository.DBTX, id uuid.UUID) (*domain.Affiliate, error) {
	defer r.s.lock(db)()
	a, ok := r.s.st.affiliates[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (r *affiliateRepo) FindByEmail(_ context.Context, db repository.DBTX, email string) (*domain.Affiliate, error) {
	defer r.s.lock(db)()
	for _, a := range r.s.st.affiliates {
		if strings.EqualFold(a.Email, email) {
			return &a, nil
		}
	}
	return nil, nil
}

func (r *affiliateRepo) Create(_ context.Context, db repository.DBTX, a *domain.Affiliate) error {
	defer r.s.lock(db)()
	if _, ok := r.s.st.affiliates[a.ID]; ok {
		return repository.ErrDuplicate
	}
	for _, existing := range r.s.st.affiliates {
		if strings.EqualFold(existing.Email, a.Email) {
			return repository.ErrDuplicate
		}
	}
	row := *a
	now := time.Now().UTC()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	row.UpdatedAt = now
	r.s.st.affiliates[a.ID] = row
	return nil
}

func (r *affiliateRepo) SetCommissionRate(_ context.Context, db repository.DBTX, id uuid.UUID, rate decimal.Decimal, at time.Time) error {
	defer r.s.lock(db)()
	return r.update(id, func(a *domain.Affiliate) {
		a.CommissionRate = rate
		a.UpdatedAt = at
	})
}

func (r *affiliateRepo) SetStatus(_ context.Context, db repository.DBTX, id uuid.UUID, status domain.AffiliateStatus, at time.Time) (bool, error) {
	defer r.s.lock(db)()
	if _, ok := r.s.st.affiliates[id]; !ok {
		return false, nil
	}
	return true, r.update(id, func(a *domain.Affiliate) {
		a.Status = status
		a.UpdatedAt = at
	})
}

func (r *affiliateRepo) IncrementClicks(_ context.Context, db repository.DBTX, id uuid.UUID, at time.Time) error {
	defer r.s.lock(db)()
	return r.update(id, func(a *domain.Affiliate) {
		a.TotalClicks++
		a.LastActivityAt = &at
	})
}

func (r *affiliateRepo) AddSale(_ context.Context, db repository.DBTX, id uuid.UUID, commission int64, at time.Time) error {
	defer r.s.lock(db)()
	return r.update(id, func(a *domain.Affiliate) {
		a.TotalSales++
		a.TotalEarnings += commission
		a.LastActivityAt = &at
	})
}

func (r *affiliateRepo) ReverseSale(_ context.Context, db repository.DBTX, id uuid.UUID, commission int64, at time.Time) error {
	defer r.s.lock(db)()
	return r.update(id, func(a *domain.Affiliate) {
		a.TotalSales = max(a.TotalSales-1, 0)
		a.TotalEarnings = max(a.TotalEarnings-commission, 0)
		a.UpdatedAt = at
	})
}

func (r *affiliateRepo) AddPaid(_ context.Context, db repository.DBTX, id uuid.UUID, amount int64, at time.Time) error {
	defer r.s.lock(db)()
	return r.update(id, func(a *domain.Affiliate) {
		a.TotalPaid += amount
		a.UpdatedAt = at
	})
}

// update mirrors an UPDATE … WHERE id: a missing row is not an error.
func (r *affiliateRepo) update(id uuid.UUID, fn func(a *domain.Affiliate)) error {
	a, ok := r.s.st.affiliates[id]
	if !ok {
		return nil
	}
	fn(&a)
	r.s.st.affiliates[id] = a
	return nil
}
