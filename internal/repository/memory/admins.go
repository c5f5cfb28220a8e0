package memory

import (
	"context"
	"strings"
	"time"

	"github.com/reflink/platform/internal/domain"
	"github.com/reflink/platform/internal/repository"
)

type adminRepo struct {
	s *Store
}

func (r *adminRepo) FindByEmail(_ context.Context, db repository.DBTX, email string) (*domain.AdminUser, error) {
	defer r.s.lock(db)()
	for _, a := range r.s.st.admins {
		if strings.EqualFold(a.Email, email) {
			return &a, nil
		}
	}
	return nil, nil
}

func (r *adminRepo) Create(_ context.Context, db repository.DBTX, a *domain.AdminUser) error {
	defer r.s.lock(db)()
	if _, ok := r.s.st.admins[a.ID]; ok {
		return repository.ErrDuplicate
	}
	for _, existing := range r.s.st.admins {
		if strings.EqualFold(existing.Email, a.Email) {
			return repository.ErrDuplicate
		}
	}
	row := *a
	now := time.Now().UTC()
	row.CreatedAt, row.UpdatedAt = now, now
	r.s.st.admins[a.ID] = row
	return nil
}
