package handler

import (
	"context"
	"net/http"

	"github.com/reflink/platform/internal/service"
)

type loginFunc func(ctx context.Context, input service.LoginInput) (*service.AuthResult, error)

// AuthHandler exchanges credentials for realm-scoped tokens.
type AuthHandler struct {
	admin     loginFunc
	affiliate loginFunc
}

func NewAuthHandler(operators *service.AuthService, affiliates *service.AffiliateService) *AuthHandler {
	return &AuthHandler{admin: operators.AdminLogin, affiliate: affiliates.Login}
}

// AdminLogin handles POST /auth/admin/login.
func (h *AuthHandler) AdminLogin(w http.ResponseWriter, r *http.Request) { login(w, r, h.admin) }

// AffiliateLogin handles POST /affiliates/login.
func (h *AuthHandler) AffiliateLogin(w http.ResponseWriter, r *http.Request) { login(w, r, h.affiliate) }

func login(w http.ResponseWriter, r *http.Request, fn loginFunc) {
	var input service.LoginInput
	if err := DecodeJSON(r, &input); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if input.Email == "" || input.Password == "" {
		badRequest(w, "email and password are required")
		return
	}
	result, err := fn(r.Context(), input)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, result)
}
