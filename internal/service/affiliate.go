package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/reflink/platform/internal/auth"
	"github.com/reflink/platform/internal/clock"
	"github.com/reflink/platform/internal/domain"
	"github.com/reflink/platform/internal/repository"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 8

// AffiliateService handles affiliate onboarding and portal login.
type AffiliateService struct {
	repos  *repository.Repositories
	jwtMgr *auth.JWTManager
	clock  clock.Clock
	logger *slog.Logger
}

// NewAffiliateService creates an AffiliateService.
func NewAffiliateService(repos *repository.Repositories, jwtMgr *auth.JWTManager, clk clock.Clock, logger *slog.Logger) *AffiliateService {
	return &AffiliateService{repos: repos, jwtMgr: jwtMgr, clock: clk, logger: logger}
}

// CreateAffiliateInput holds affiliate onboarding fields.
type CreateAffiliateInput struct {
	Email          string          `json:"email"`
	Name           string          `json:"name"`
	Password       string          `json:"password,omitempty"`
	CommissionRate decimal.Decimal `json:"commission_rate"`
	BankIBAN       string          `json:"bank_iban,omitempty"`
	CardAccountRef string          `json:"card_account_ref,omitempty"`
}

// CreateAffiliate registers an affiliate. Without a password the affiliate exists for
// attribution and payouts but cannot log in to the portal.
func (s *AffiliateService) CreateAffiliate(ctx context.Context, input CreateAffiliateInput) (*domain.Affiliate, error) {
	input.Email = strings.TrimSpace(input.Email)
	if err := domain.ValidateEmail(input.Email); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}
	if strings.TrimSpace(input.Name) == "" {
		return nil, domain.ErrValidation("name is required")
	}
	if input.CommissionRate.IsNegative() || input.CommissionRate.GreaterThan(decimal.NewFromInt(100)) {
		return nil, domain.ErrValidation("commission_rate must be between 0 and 100")
	}

	now := s.clock.Now()
	a := &domain.Affiliate{
		ID:             uuid.New(),
		Email:          input.Email,
		Name:           strings.TrimSpace(input.Name),
		Status:         domain.AffiliateActive,
		CommissionRate: input.CommissionRate.Round(2),
		BankIBAN:       optional(input.BankIBAN),
		CardAccountRef: optional(input.CardAccountRef),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if input.Password != "" {
		if len(input.Password) < minPasswordLength {
			return nil, domain.ErrValidation("password must be at least 8 characters")
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, domain.ErrInternal("hash password", err)
		}
		a.PasswordHash = string(hash)
	}

	err := s.repos.Affiliates.Create(ctx, s.repos.Tx.DB(), a)
	if errors.Is(err, repository.ErrDuplicate) {
		return nil, domain.ErrConflict("affiliate email already registered")
	}
	if err != nil {
		return nil, domain.ErrInternal("create affiliate", err)
	}

	s.logger.Info("affiliate created", "affiliate_id", a.ID, "commission_rate", a.CommissionRate.String())
	return a, nil
}

// GetAffiliate returns an affiliate with its running totals.
func (s *AffiliateService) GetAffiliate(ctx context.Context, id uuid.UUID) (*domain.Affiliate, error) {
	a, err := s.repos.Affiliates.FindByID(ctx, s.repos.Tx.DB(), id)
	if err != nil {
		return nil, domain.ErrInternal("find affiliate", err)
	}
	if a == nil {
		return nil, domain.ErrNotFound("affiliate", id.String())
	}
	return a, nil
}

// UpdateCommissionRate changes the rate used for the affiliate's future commissions.
// Existing commissions keep the rate they were created with.
func (s *AffiliateService) UpdateCommissionRate(ctx context.Context, id uuid.UUID, rate decimal.Decimal) (*domain.Affiliate, error) {
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(100)) {
		return nil, domain.ErrValidation("commission_rate must be between 0 and 100")
	}
	if _, err := s.GetAffiliate(ctx, id); err != nil {
		return nil, err
	}
	if err := s.repos.Affiliates.SetCommissionRate(ctx, s.repos.Tx.DB(), id, rate.Round(2), s.clock.Now()); err != nil {
		return nil, domain.ErrInternal("update commission rate", err)
	}
	s.logger.Info("commission rate updated", "affiliate_id", id, "commission_rate", rate.Round(2).String())
	return s.GetAffiliate(ctx, id)
}

// SetStatus activates or suspends an affiliate. Suspended affiliates lose portal access
// at their next request; their commissions and payouts are unaffected.
func (s *AffiliateService) SetStatus(ctx context.Context, id uuid.UUID, status domain.AffiliateStatus) (*domain.Affiliate, error) {
	if !status.Valid() {
		return nil, domain.ErrValidation(fmt.Sprintf("status must be %q or %q", domain.AffiliateActive, domain.AffiliateSuspended))
	}
	found, err := s.repos.Affiliates.SetStatus(ctx, s.repos.Tx.DB(), id, status, s.clock.Now())
	if err != nil {
		return nil, domain.ErrInternal("update affiliate status", err)
	}
	if !found {
		return nil, domain.ErrNotFound("affiliate", id.String())
	}
	s.logger.Info("affiliate status changed", "affiliate_id", id, "status", status)
	return s.GetAffiliate(ctx, id)
}

// PortalStatus reports the stored status of an affiliate for token checks.
func (s *AffiliateService) PortalStatus(ctx context.Context, id uuid.UUID) (domain.AffiliateStatus, bool, error) {
	a, err := s.repos.Affiliates.FindByID(ctx, s.repos.Tx.DB(), id)
	if err != nil || a == nil {
		return "", false, err
	}
	return a.Status, true, nil
}

// LoginInput holds login request fields.
type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResult is returned on successful login.
type AuthResult struct {
	Token     string           `json:"token"`
	SubjectID uuid.UUID        `json:"subject_id"`
	Email     string           `json:"email"`
	Role      domain.AdminRole `json:"role,omitempty"`
}

// Login authenticates an affiliate for the portal.
func (s *AffiliateService) Login(ctx context.Context, input LoginInput) (*AuthResult, error) {
	a, err := s.repos.Affiliates.FindByEmail(ctx, s.repos.Tx.DB(), strings.TrimSpace(input.Email))
	if err != nil {
		return nil, domain.ErrInternal("find affiliate", err)
	}
	if a == nil || a.PasswordHash == "" {
		return nil, domain.ErrUnauthorized("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(input.Password)); err != nil {
		return nil, domain.ErrUnauthorized("invalid credentials")
	}
	if a.Status == domain.AffiliateSuspended {
		return nil, domain.ErrForbidden("affiliate account suspended")
	}

	token, err := s.jwtMgr.Issue(auth.RealmAffiliate, auth.Subject{ID: a.ID, Email: a.Email, Status: a.Status})
	if err != nil {
		return nil, domain.ErrInternal("generate token", err)
	}
	return &AuthResult{Token: token, SubjectID: a.ID, Email: a.Email}, nil
}
