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

type commissionRepo struct {
	s *Store
}

func (r *commissionRepo) InsertIfAbsent(_ context.Context, db repository.DBTX, c *domain.Commission) (bool, error) {
	defer r.s.lock(db)()
	if _, ok := r.s.st.commissionByOrder[c.OrderID]; ok {
		return false, nil
	}
	row := *c
	if row.Products == nil {
		row.Products = []byte(`[]`)
	}
	row.UpdatedAt = row.CreatedAt
	r.s.st.commissions[c.ID] = row
	r.s.st.commissionByOrder[c.OrderID] = c.ID
	return true, nil
}

func (r *commissionRepo) FindByOrderID(_ context.Context, db repository.DBTX, orderID string) (*domain.Commission, error) {
	defer r.s.lock(db)()
	id, ok := r.s.st.commissionByOrder[orderID]
	if !ok {
		return nil, nil
	}
	c := r.s.st.commissions[id]
	return &c, nil
}

func (r *commissionRepo) Transition(_ context.Context, db repository.DBTX, t repository.CommissionTransition) (*domain.Commission, error) {
	defer r.s.lock(db)()
	id, ok := r.s.st.commissionByOrder[t.OrderID]
	if !ok {
		return nil, nil
	}
	c := r.s.st.commissions[id]
	if !slices.Contains(t.From, c.Status) {
		return nil, nil
	}
	if t.Unclaimed && c.PayoutID != nil {
		return nil, nil
	}
	c.Status = t.To
	c.UpdatedAt = t.At
	r.s.st.commissions[id] = c
	return &c, nil
}

func (r *commissionRepo) UnclaimedApprovedBalances(_ context.Context, db repository.DBTX) ([]domain.AffiliateBalance, error) {
	defer r.s.lock(db)()
	byAffiliate := map[uuid.UUID]*domain.AffiliateBalance{}
	for _, c := range r.s.st.commissions {
		if c.Status != domain.CommissionApproved || c.PayoutID != nil {
			continue
		}
		b, ok := byAffiliate[c.AffiliateID]
		if !ok {
			b = &domain.AffiliateBalance{AffiliateID: c.AffiliateID}
			byAffiliate[c.AffiliateID] = b
		}
		b.Total += c.CommissionAmount
		b.Count++
	}
	out := make([]domain.AffiliateBalance, 0, len(byAffiliate))
	for _, b := range byAffiliate {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AffiliateID.String() < out[j].AffiliateID.String() })
	return out, nil
}

func (r *commissionRepo) ClaimApproved(_ context.Context, db repository.DBTX, affiliateID, payoutID uuid.UUID, at time.Time) ([]domain.ClaimedCommission, error) {
	defer r.s.lock(db)()
	var out []domain.ClaimedCommission
	for id, c := range r.s.st.commissions {
		if c.AffiliateID != affiliateID || c.Status != domain.CommissionApproved || c.PayoutID != nil {
			continue
		}
		pid := payoutID
		c.PayoutID = &pid
		c.UpdatedAt = at
		r.s.st.commissions[id] = c
		out = append(out, domain.ClaimedCommission{ID: id, Amount: c.CommissionAmount})
	}
	return out, nil
}

func (r *commissionRepo) MarkPaid(_ context.Context, db repository.DBTX, payoutID uuid.UUID, at time.Time) (int64, error) {
	defer r.s.lock(db)()
	var n int64
	for id, c := range r.s.st.commissions {
		if c.PayoutID == nil || *c.PayoutID != payoutID || c.Status != domain.CommissionApproved {
			continue
		}
		paidAt := at
		c.Status = domain.CommissionPaid
		c.PaidAt = &paidAt
		c.UpdatedAt = at
		r.s.st.commissions[id] = c
		n++
	}
	return n, nil
}

func (r *commissionRepo) ReleaseClaim(_ context.Context, db repository.DBTX, payoutID uuid.UUID, at time.Time) (int64, error) {
	defer r.s.lock(db)()
	var n int64
	for id, c := range r.s.st.commissions {
		if c.PayoutID == nil || *c.PayoutID != payoutID || c.Status != domain.CommissionApproved {
			continue
		}
		c.PayoutID = nil
		c.UpdatedAt = at
		r.s.st.commissions[id] = c
		n++
	}
	return n, nil
}

func (r *commissionRepo) ListByAffiliate(_ context.Context, db repository.DBTX, affiliateID uuid.UUID, limit, offset int) ([]domain.Commission, error) {
	defer r.s.lock(db)()
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var rows []domain.Commission
	for _, c := range r.s.st.commissions {
		if c.AffiliateID == affiliateID {
			rows = append(rows, c)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.After(rows[j].CreatedAt)
		}
		return rows[i].ID.String() < rows[j].ID.String()
	})
	return page(rows, limit, offset), nil
}

func page[T any](rows []T, limit, offset int) []T {
	if offset >= len(rows) {
		return nil
	}
	end := min(offset+limit, len(rows))
	return rows[offset:end]
}
