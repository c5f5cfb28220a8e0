package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/reflink/platform/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJWTManager() *JWTManager {
	return NewJWTManager("test-secret-key", 8*time.Hour, 12*time.Hour)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func serve(h http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestIssueAndValidateAdminToken(t *testing.T) {
	mgr := newTestJWTManager()
	adminID := uuid.New()

	token, err := mgr.Issue(RealmAdmin, Subject{ID: adminID, Email: "ops@example.com", Role: domain.RoleSuperAdmin})
	require.NoError(t, err)

	claims, err := mgr.Validate(token, RealmAdmin)
	require.NoError(t, err)
	assert.Equal(t, adminID.String(), claims.Subject)
	assert.Equal(t, "reflink", claims.Issuer)
	assert.Equal(t, RealmAdmin, claims.Realm)
	assert.Equal(t, domain.RoleSuperAdmin, claims.Role)

	id, err := claims.SubjectID()
	require.NoError(t, err)
	assert.Equal(t, adminID, id)
}

func TestIssueAndValidateAffiliateToken(t *testing.T) {
	mgr := newTestJWTManager()

	token, err := mgr.Issue(RealmAffiliate, Subject{ID: uuid.New(), Email: "partner@example.com", Status: domain.AffiliateActive})
	require.NoError(t, err)

	claims, err := mgr.Validate(token, RealmAffiliate)
	require.NoError(t, err)
	assert.Equal(t, RealmAffiliate, claims.Realm)
	assert.Equal(t, domain.AffiliateActive, claims.Status)
	assert.Equal(t, "partner@example.com", claims.Email)
	assert.Empty(t, claims.Role)
}

func TestIssueRejects(t *testing.T) {
	mgr := newTestJWTManager()

	_, err := mgr.Issue(Realm("merchant"), Subject{ID: uuid.New()})
	assert.Error(t, err, "unknown realm")

	_, err = mgr.Issue(RealmAdmin, Subject{ID: uuid.New(), Role: "root"})
	assert.Error(t, err, "unknown operator role")
}

func TestValidateRejects(t *testing.T) {
	mgr := newTestJWTManager()
	portal, err := mgr.Issue(RealmAffiliate, Subject{ID: uuid.New(), Status: domain.AffiliateActive})
	require.NoError(t, err)

	t.Run("realm mismatch", func(t *testing.T) {
		_, err := mgr.Validate(portal, RealmAdmin)
		assert.ErrorIs(t, err, ErrWrongRealm)
	})

	t.Run("other secret", func(t *testing.T) {
		_, err := NewJWTManager("secret-2", time.Hour, time.Hour).Validate(portal, RealmAffiliate)
		assert.Error(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		short := NewJWTManager("test-secret-key", -time.Minute, -time.Minute)
		token, err := short.Issue(RealmAdmin, Subject{ID: uuid.New(), Role: domain.RoleAdmin})
		require.NoError(t, err)
		_, err = mgr.Validate(token, RealmAdmin)
		assert.ErrorIs(t, err, ErrTokenExpired)
	})

	t.Run("foreign issuer", func(t *testing.T) {
		claims := Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "someone-else",
				Subject:   uuid.NewString(),
				IssuedAt:  jwt.NewNumericDate(time.Now()),
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
			Realm: RealmAdmin,
			Role:  domain.RoleSuperAdmin,
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret-key"))
		require.NoError(t, err)
		_, err = mgr.Validate(token, RealmAdmin)
		assert.Error(t, err)
	})

	t.Run("unsigned", func(t *testing.T) {
		claims := jwt.MapClaims{"iss": "reflink", "realm": "admin", "role": "superadmin", "exp": time.Now().Add(time.Hour).Unix()}
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = mgr.Validate(token, RealmAdmin)
		assert.Error(t, err)
	})
}

func TestAuthenticateAffiliate(t *testing.T) {
	mgr := newTestJWTManager()
	h := AuthenticateAffiliate(mgr, nil)(okHandler())

	active, err := mgr.Issue(RealmAffiliate, Subject{ID: uuid.New(), Status: domain.AffiliateActive})
	require.NoError(t, err)
	suspended, err := mgr.Issue(RealmAffiliate, Subject{ID: uuid.New(), Status: domain.AffiliateSuspended})
	require.NoError(t, err)
	admin, err := mgr.Issue(RealmAdmin, Subject{ID: uuid.New(), Role: domain.RoleAdmin})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/affiliates/me", active).Code)
	assert.Equal(t, http.StatusForbidden, serve(h, http.MethodGet, "/affiliates/me", suspended).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(h, http.MethodGet, "/affiliates/me", admin).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(h, http.MethodGet, "/affiliates/me", "").Code)
}

func TestAuthenticateAffiliate_StoredStatusWins(t *testing.T) {
	mgr := newTestJWTManager()
	active, suspended, gone, broken := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	stored := map[uuid.UUID]domain.AffiliateStatus{
		active:    domain.AffiliateActive,
		suspended: domain.AffiliateSuspended,
	}
	lookup := func(_ context.Context, id uuid.UUID) (domain.AffiliateStatus, bool, error) {
		if id == broken {
			return "", false, errors.New("connection refused")
		}
		st, ok := stored[id]
		return st, ok, nil
	}
	h := AuthenticateAffiliate(mgr, lookup)(okHandler())

	tests := []struct {
		name string
		id   uuid.UUID
		want int
	}{
		{"active", active, http.StatusOK},
		{"suspended after login", suspended, http.StatusForbidden},
		{"deleted", gone, http.StatusUnauthorized},
		{"lookup failure", broken, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := mgr.Issue(RealmAffiliate, Subject{ID: tt.id, Status: domain.AffiliateActive})
			require.NoError(t, err)
			assert.Equal(t, tt.want, serve(h, http.MethodGet, "/affiliates/me", token).Code)
		})
	}
}

func TestAuthenticateAdmin_SetsSubject(t *testing.T) {
	mgr := newTestJWTManager()
	adminID := uuid.New()
	token, err := mgr.Issue(RealmAdmin, Subject{ID: adminID, Role: domain.RoleViewer})
	require.NoError(t, err)

	var got uuid.UUID
	h := AuthenticateAdmin(mgr)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = SubjectFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/auto-payments", token).Code)
	assert.Equal(t, adminID, got)
}

func TestRequireWriter(t *testing.T) {
	mgr := newTestJWTManager()
	h := AuthenticateAdmin(mgr)(RequireWriter(okHandler()))

	tests := []struct {
		role domain.AdminRole
		want int
	}{
		{domain.RoleViewer, http.StatusForbidden},
		{domain.RoleAdmin, http.StatusOK},
		{domain.RoleSuperAdmin, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			token, err := mgr.Issue(RealmAdmin, Subject{ID: uuid.New(), Role: tt.role})
			require.NoError(t, err)
			assert.Equal(t, tt.want, serve(h, http.MethodPost, "/auto-payments/process", token).Code)
		})
	}

	t.Run("without authentication", func(t *testing.T) {
		w := serve(RequireWriter(okHandler()), http.MethodPost, "/auto-payments/process", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestAuthErrorsAreJSON(t *testing.T) {
	h := AuthenticateAdmin(newTestJWTManager())(okHandler())

	tests := []struct {
		name    string
		header  string
		message string
	}{
		{"missing header", "", "missing bearer token"},
		{"basic scheme", "Basic dXNlcjpwYXNz", "missing bearer token"},
		{"empty bearer", "Bearer ", "missing bearer token"},
		{"garbage token", `Bearer not"a.token`, "invalid token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/auto-payments", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			assert.JSONEq(t, `{"code":"UNAUTHORIZED","message":"`+tt.message+`"}`, w.Body.String())
		})
	}
}
