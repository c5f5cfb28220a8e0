package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/reflink/platform/internal/auth"
	"github.com/reflink/platform/internal/domain"
	"github.com/reflink/platform/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

// AuthService handles operator login.
type AuthService struct {
	repos  *repository.Repositories
	jwtMgr *auth.JWTManager
	logger *slog.Logger
}

// NewAuthService creates a new AuthService.
func NewAuthService(repos *repository.Repositories, jwtMgr *auth.JWTManager, logger *slog.Logger) *AuthService {
	return &AuthService{repos: repos, jwtMgr: jwtMgr, logger: logger}
}

// AdminLogin authenticates an operator and returns an admin-realm JWT.
func (s *AuthService) AdminLogin(ctx context.Context, input LoginInput) (*AuthResult, error) {
	admin, err := s.repos.Admins.FindByEmail(ctx, s.repos.Tx.DB(), strings.TrimSpace(input.Email))
	if err != nil {
		return nil, domain.ErrInternal("find admin", err)
	}
	if admin == nil || !admin.Active {
		return nil, domain.ErrUnauthorized("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(input.Password)); err != nil {
		return nil, domain.ErrUnauthorized("invalid credentials")
	}

	token, err := s.jwtMgr.Issue(auth.RealmAdmin, auth.Subject{ID: admin.ID, Email: admin.Email, Role: admin.Role})
	if err != nil {
		return nil, domain.ErrInternal("generate token", err)
	}
	return &AuthResult{Token: token, SubjectID: admin.ID, Email: admin.Email, Role: admin.Role}, nil
}

// BootstrapAdmin creates the first superadmin if no admin with that email exists yet.
// It is a no-op when email is empty.
func (s *AuthService) BootstrapAdmin(ctx context.Context, email, password string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil
	}
	if err := domain.ValidateEmail(email); err != nil {
		return domain.ErrValidation(err.Error())
	}
	if len(password) < minPasswordLength {
		return domain.ErrValidation("bootstrap admin password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return domain.ErrInternal("hash password", err)
	}
	admin := &domain.AdminUser{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: string(hash),
		DisplayName:  "bootstrap",
		Role:         domain.RoleSuperAdmin,
		Active:       true,
	}
	err = s.repos.Admins.Create(ctx, s.repos.Tx.DB(), admin)
	if errors.Is(err, repository.ErrDuplicate) {
		return nil
	}
	if err != nil {
		return domain.ErrInternal("create admin", err)
	}
	s.logger.Info("bootstrap admin created", "admin_id", admin.ID)
	return nil
}

