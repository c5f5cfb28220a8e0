package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/reflink/platform/internal/domain"
)

type adminRepo struct{}

// NewAdminRepository returns a pgx-backed AdminRepository.
func NewAdminRepository() AdminRepository {
	return &adminRepo{}
}

func (r *adminRepo) FindByEmail(ctx context.Context, db DBTX, email string) (*domain.AdminUser, error) {
	var a domain.AdminUser
	err := db.QueryRow(ctx, `
		SELECT id, email, password_hash, display_name, role, active, created_at, updated_at
		FROM admin_users WHERE lower(email) = lower($1)`, email,
	).Scan(&a.ID, &a.Email, &a.PasswordHash, &a.DisplayName, &a.Role, &a.Active, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find admin by email: %w", err)
	}
	return &a, nil
}

func (r *adminRepo) Create(ctx context.Context, db DBTX, a *domain.AdminUser) error {
	_, err := db.Exec(ctx, `
		INSERT INTO admin_users (id, email, password_hash, display_name, role, active)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.Email, a.PasswordHash, a.DisplayName, a.Role, a.Active)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert admin: %w", err)
	}
	return nil
}
