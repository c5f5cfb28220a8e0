package memory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/reflink/platform/internal/domain"
	"github.com/reflink/platform/internal/repository"
)

type linkRepo struct {
	s *Store
}

func (r *linkRepo) Create(_ context.Context, db repository.DBTX, l *domain.Link) error {
	defer r.s.lock(db)()
	if _, ok := r.s.st.linkByCode[l.ShortCode]; ok {
		return repository.ErrDuplicate
	}
	row := *l
	now := time.Now().UTC()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	row.UpdatedAt = now
	r.s.st.links[l.ID] = row
	r.s.st.linkByCode[l.ShortCode] = l.ID
	return nil
}

func (r *linkRepo) FindByShortCode(_ context.Context, db repository.DBTX, shortCode string) (*domain.Link, error) {
	defer r.s.lock(db)()
	id, ok := r.s.st.linkByCode[shortCode]
	if !ok {
		return nil, nil
	}
	l := r.s.st.links[id]
	return &l, nil
}

func (r *linkRepo) FindByID(_ context.Context, db repository.DBTX, id uuid.UUID) (*domain.Link, error) {
	defer r.s.lock(db)()
	l, ok := r.s.st.links[id]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

func (r *linkRepo) SetStatus(_ context.Context, db repository.DBTX, id uuid.UUID, status domain.LinkStatus, at time.Time) error {
	defer r.s.lock(db)()
	if l, ok := r.s.st.links[id]; ok {
		l.Status = status
		l.UpdatedAt = at
		r.s.st.links[id] = l
	}
	return nil
}

func (r *linkRepo) IncrementClicks(_ context.Context, db repository.DBTX, id uuid.UUID, at time.Time) error {
	defer r.s.lock(db)()
	if l, ok := r.s.st.links[id]; ok {
		l.ClickCount++
		l.LastClickedAt = &at
		r.s.st.links[id] = l
	}
	return nil
}

func (r *linkRepo) AddConversion(_ context.Context, db repository.DBTX, id uuid.UUID, revenue int64) error {
	defer r.s.lock(db)()
	if l, ok := r.s.st.links[id]; ok {
		l.ConversionCount++
		l.TotalRevenue += revenue
		r.s.st.links[id] = l
	}
	return nil
}

type clickRepo struct {
	s *Store
}

func (r *clickRepo) Insert(_ context.Context, db repository.DBTX, c *domain.Click) error {
	defer r.s.lock(db)()
	if _, ok := r.s.st.clicks[c.ID]; ok {
		return repository.ErrDuplicate
	}
	r.s.st.clicks[c.ID] = *c
	return nil
}

func (r *clickRepo) FindByID(_ context.Context, db repository.DBTX, id uuid.UUID) (*domain.Click, error) {
	defer r.s.lock(db)()
	c, ok := r.s.st.clicks[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r *clickRepo) MarkConverted(_ context.Context, db repository.DBTX, conv domain.ClickConversion) (bool, error) {
	defer r.s.lock(db)()
	c, ok := r.s.st.clicks[conv.ClickID]
	if !ok || c.Converted {
		return false, nil
	}
	orderID, value, commission := conv.OrderID, conv.OrderValue, conv.Commission
	c.Converted = true
	c.OrderID = &orderID
	c.OrderValue = &value
	c.CommissionAtConversion = &commission
	r.s.st.clicks[c.ID] = c
	return true, nil
}
