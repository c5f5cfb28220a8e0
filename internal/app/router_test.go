package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/reflink/platform/internal/auth"
	"github.com/reflink/platform/internal/clock"
	"github.com/reflink/platform/internal/infra"
	"github.com/reflink/platform/internal/metrics"
	"github.com/reflink/platform/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	t      *testing.T
	router chi.Router
	svc    *Services
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &infra.Config{
		StoreDriver:         infra.StoreMemory,
		PayoutMinAmount:     5000,
		PayoutCurrency:      "TRY",
		PayoutMaxRetries:    3,
		PayoutRetryCooldown: 24 * time.Hour,
		PayoutMethodTimeout: time.Second,
		PayoutSimulate:      true,
		MonthlyRunDay:       1,
		MonthlyRunHour:      10,
		DailyRunHour:        9,
	}
	jwtMgr := auth.NewJWTManager("router-test-secret", time.Hour, time.Hour)
	m := metrics.New(prometheus.NewRegistry())
	clk := clock.NewFakeClock(time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC))

	svc := NewServices(ServiceDeps{
		Config:  cfg,
		Repos:   memory.New(),
		Methods: PayoutMethods(cfg, logger),
		JWTMgr:  jwtMgr,
		Metrics: m,
		Clock:   clk,
		Logger:  logger,
	})
	require.NoError(t, svc.Auth.BootstrapAdmin(context.Background(), "ops@example.com", "ops-password-1"))

	return &testServer{
		t:   t,
		svc: svc,
		router: NewRouter(RouterDeps{
			Services:    svc,
			JWTMgr:      jwtMgr,
			Metrics:     m,
			Clock:       clk,
			Logger:      logger,
			ClickParam:  "aff_click",
			CORSOrigins: "*",
		}),
	}
}

func (s *testServer) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, path, &buf)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, r)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (s *testServer) login(path, email, password string) string {
	s.t.Helper()
	w := s.do(http.MethodPost, path, "", map[string]string{"email": email, "password": password})
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())
	return decode[struct {
		Token string `json:"token"`
	}](s.t, w).Token
}

func TestRouter_ClickToPayout(t *testing.T) {
	s := newTestServer(t)
	admin := s.login("/auth/admin/login", "ops@example.com", "ops-password-1")

	w := s.do(http.MethodPost, "/admin/affiliates", admin, map[string]interface{}{
		"email":           "partner@example.com",
		"name":            "Partner",
		"password":        "partner-pass-1",
		"commission_rate": "10",
		"bank_iban":       "TR330006100519786457841326",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	affiliateID := decode[struct {
		ID string `json:"id"`
	}](t, w).ID

	w = s.do(http.MethodPost, "/admin/links", admin, map[string]interface{}{
		"affiliate_id":    affiliateID,
		"destination_url": "https://shop.example.com/summer",
		"short_code":      "summer",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(http.MethodGet, "/s/summer", "", nil)
	require.Equal(t, http.StatusFound, w.Code)
	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	clickID := loc.Query().Get("aff_click")
	require.NotEmpty(t, clickID)
	require.NoError(t, s.svc.Tracking.Wait(context.Background()))

	w = s.do(http.MethodPost, "/webhooks/orders/completed", "", map[string]interface{}{
		"orderId":     "ORD-5001",
		"totalAmount": 1000,
		"clickId":     clickID,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = s.do(http.MethodPost, "/webhooks/orders/paid", "", map[string]string{"orderId": "ORD-5001"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodPost, "/auto-payments/process", admin, map[string]string{"action": "monthly"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	run := decode[struct {
		Success bool `json:"success"`
		Summary struct {
			Created   int   `json:"created"`
			Completed int   `json:"completed"`
			TotalPaid int64 `json:"total_paid"`
		} `json:"summary"`
	}](t, w)
	assert.True(t, run.Success)
	assert.Equal(t, 1, run.Summary.Created)
	assert.Equal(t, 1, run.Summary.Completed)
	assert.Equal(t, int64(10000), run.Summary.TotalPaid)

	w = s.do(http.MethodGet, "/auto-payments/stats", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(10000), decode[struct {
		TotalPaid int64 `json:"total_paid"`
	}](t, w).TotalPaid)

	portal := s.login("/affiliates/login", "partner@example.com", "partner-pass-1")
	w = s.do(http.MethodGet, "/affiliates/me", portal, nil)
	require.Equal(t, http.StatusOK, w.Code)
	me := decode[struct {
		TotalEarnings int64 `json:"total_earnings"`
		TotalPaid     int64 `json:"total_paid"`
	}](t, w)
	assert.Equal(t, int64(10000), me.TotalEarnings)
	assert.Equal(t, int64(10000), me.TotalPaid)

	w = s.do(http.MethodGet, "/affiliates/me/payouts", portal, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(1), decode[struct {
		Total int64 `json:"total"`
	}](t, w).Total)
}

func TestRouter_AccessControl(t *testing.T) {
	s := newTestServer(t)
	admin := s.login("/auth/admin/login", "ops@example.com", "ops-password-1")

	tests := []struct {
		name       string
		method     string
		path       string
		token      string
		wantStatus int
	}{
		{"payout run needs a token", http.MethodPost, "/auto-payments/process", "", http.StatusUnauthorized},
		{"admin links need a token", http.MethodPost, "/admin/links", "", http.StatusUnauthorized},
		{"portal needs a token", http.MethodGet, "/affiliates/me", "", http.StatusUnauthorized},
		{"admin token is not a portal token", http.MethodGet, "/affiliates/me", admin, http.StatusUnauthorized},
		{"unknown action", http.MethodPost, "/auto-payments/process", admin, http.StatusBadRequest},
		{"unknown payout", http.MethodGet, "/auto-payments/00000000-0000-0000-0000-000000000001", admin, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body interface{}
			if tt.method == http.MethodPost {
				body = map[string]string{"action": "weekly"}
			}
			w := s.do(tt.method, tt.path, tt.token, body)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
		})
	}
}

func TestRouter_SuspensionRevokesPortalAccess(t *testing.T) {
	s := newTestServer(t)
	admin := s.login("/auth/admin/login", "ops@example.com", "ops-password-1")

	w := s.do(http.MethodPost, "/admin/affiliates", admin, map[string]interface{}{
		"email":           "paused@example.com",
		"name":            "Paused",
		"password":        "paused-pass-1",
		"commission_rate": "10",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	affiliateID := decode[struct {
		ID string `json:"id"`
	}](t, w).ID

	portal := s.login("/affiliates/login", "paused@example.com", "paused-pass-1")
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/affiliates/me", portal, nil).Code)

	statusPath := "/admin/affiliates/" + affiliateID + "/status"
	w = s.do(http.MethodPatch, statusPath, admin, map[string]string{"status": "suspended"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "suspended", decode[struct {
		Status string `json:"status"`
	}](t, w).Status)

	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, "/affiliates/me", portal, nil).Code,
		"a token issued before suspension stops working")
	w = s.do(http.MethodPost, "/affiliates/login", "", map[string]string{"email": "paused@example.com", "password": "paused-pass-1"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	assert.Equal(t, http.StatusBadRequest,
		s.do(http.MethodPatch, statusPath, admin, map[string]string{"status": "banned"}).Code)
	assert.Equal(t, http.StatusNotFound,
		s.do(http.MethodPatch, "/admin/affiliates/"+uuid.NewString()+"/status", admin, map[string]string{"status": "active"}).Code)

	w = s.do(http.MethodPatch, statusPath, admin, map[string]string{"status": "active"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/affiliates/me", portal, nil).Code)
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	s.do(http.MethodGet, "/s/missing-code", "", nil)
	w = s.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "reflink_redirects_total")
}

func TestRouter_LoginIsRateLimited(t *testing.T) {
	s := newTestServer(t)
	creds := map[string]string{"email": "ops@example.com", "password": "wrong-password"}

	for i := 0; i < loginRateLimit; i++ {
		w := s.do(http.MethodPost, "/auth/admin/login", "", creds)
		require.Equal(t, http.StatusUnauthorized, w.Code, "attempt %d", i+1)
	}
	w := s.do(http.MethodPost, "/affiliates/login", "", creds)
	assert.Equal(t, http.StatusTooManyRequests, w.Code, "both login routes share one budget")
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, "RATE_LIMITED", decode[map[string]string](t, w)["code"])
}
