package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/reflink/platform/internal/domain"
)

type contextKey struct{}

// ClaimsFromContext returns the claims of the authenticated caller, or nil.
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(contextKey{}).(*Claims)
	return claims
}

// SubjectFromContext returns the authenticated caller's ID.
func SubjectFromContext(ctx context.Context) (uuid.UUID, bool) {
	claims := ClaimsFromContext(ctx)
	if claims == nil {
		return uuid.Nil, false
	}
	id, err := claims.SubjectID()
	return id, err == nil
}

// AuthenticateAdmin accepts operator tokens only.
func AuthenticateAdmin(jwtMgr *JWTManager) func(http.Handler) http.Handler {
	return authenticate(jwtMgr, RealmAdmin, nil)
}

// AffiliateStatusFunc returns an affiliate's current status. ok is false when the
// affiliate no longer exists.
type AffiliateStatusFunc func(ctx context.Context, id uuid.UUID) (status domain.AffiliateStatus, ok bool, err error)

// AuthenticateAffiliate accepts portal tokens of active affiliates. With a non-nil
// lookup the stored status is checked on every request, so suspension takes effect on
// tokens issued before it; without one the status claim in the token is trusted.
func AuthenticateAffiliate(jwtMgr *JWTManager, lookup AffiliateStatusFunc) func(http.Handler) http.Handler {
	return authenticate(jwtMgr, RealmAffiliate, func(ctx context.Context, c *Claims) *domain.AppError {
		status := c.Status
		if lookup != nil {
			id, err := c.SubjectID()
			if err != nil {
				return domain.ErrUnauthorized("invalid token subject")
			}
			current, ok, err := lookup(ctx, id)
			if err != nil {
				return domain.ErrInternal("load affiliate status", err)
			}
			if !ok {
				return domain.ErrUnauthorized("affiliate no longer exists")
			}
			status = current
		}
		if status == domain.AffiliateSuspended {
			return domain.ErrForbidden("affiliate account suspended")
		}
		return nil
	})
}

// RequireWriter rejects operators whose role is read-only. It must run after AuthenticateAdmin.
func RequireWriter(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := ClaimsFromContext(r.Context())
		if claims == nil {
			writeError(w, domain.ErrUnauthorized("no auth context"))
			return
		}
		if !claims.Role.CanWrite() {
			writeError(w, domain.ErrForbidden("role "+string(claims.Role)+" is read-only"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func authenticate(jwtMgr *JWTManager, realm Realm, check func(context.Context, *Claims) *domain.AppError) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				writeError(w, domain.ErrUnauthorized("missing bearer token"))
				return
			}
			claims, err := jwtMgr.Validate(token, realm)
			if err != nil {
				msg := "invalid token"
				if errors.Is(err, ErrTokenExpired) || errors.Is(err, ErrWrongRealm) {
					msg = err.Error()
				}
				writeError(w, domain.ErrUnauthorized(msg))
				return
			}
			if check != nil {
				if appErr := check(r.Context(), claims); appErr != nil {
					writeError(w, appErr)
					return
				}
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, claims)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
		return "", false
	}
	return token, true
}

func writeError(w http.ResponseWriter, err *domain.AppError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Status)
	_ = json.NewEncoder(w).Encode(err)
}
