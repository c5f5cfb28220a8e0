package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/reflink/platform/internal/auth"
	"github.com/reflink/platform/internal/clock"
	"github.com/reflink/platform/internal/domain"
	"github.com/reflink/platform/internal/guard"
	"github.com/reflink/platform/internal/notify"
	"github.com/reflink/platform/internal/provider"
	"github.com/reflink/platform/internal/repository"
	"github.com/reflink/platform/internal/repository/memory"
	"github.com/reflink/platform/internal/service"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWebhookSecret = "whsec_test"

type webhookEnv struct {
	repos    *repository.Repositories
	clock    *clock.FakeClock
	tracking *service.TrackingService
	verifier *provider.WebhookVerifier
	handler  *OrderWebhookHandler
	link     *domain.Link
}

func newWebhookEnv(t *testing.T, secret string, limiter *guard.RateLimiter) *webhookEnv {
	t.Helper()
	ctx := context.Background()
	repos := memory.New()
	clk := clock.NewFakeClock(time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC))
	logger := noopLogger()

	affiliates := service.NewAffiliateService(repos, auth.NewJWTManager("test-secret-key", time.Hour, time.Hour), clk, logger)
	tracking := service.NewTrackingService(repos, nil, clk, nil, logger)
	attribution := service.NewAttributionService(repos, notify.NewOutboxNotifier(repos.Outbox), clk, nil, logger)

	aff, err := affiliates.CreateAffiliate(ctx, service.CreateAffiliateInput{
		Email:          "partner@example.com",
		Name:           "Partner",
		CommissionRate: decimal.NewFromInt(10),
	})
	require.NoError(t, err)
	link, err := tracking.CreateLink(ctx, service.CreateLinkInput{
		AffiliateID:    aff.ID,
		DestinationURL: "https://shop.example.com/spring",
		ShortCode:      "spring24",
	})
	require.NoError(t, err)

	verifier := provider.NewWebhookVerifier(secret)
	return &webhookEnv{
		repos:    repos,
		clock:    clk,
		tracking: tracking,
		verifier: verifier,
		handler:  NewOrderWebhookHandler(attribution, verifier, limiter, clk, logger),
		link:     link,
	}
}

func (e *webhookEnv) post(h http.HandlerFunc, body string, signed bool) (*httptest.ResponseRecorder, webhookResponse) {
	r := httptest.NewRequest(http.MethodPost, "/webhooks/orders", bytes.NewBufferString(body))
	r.RemoteAddr = "198.51.100.4:4431"
	if signed {
		r.Header.Set(SignatureHeader, e.verifier.Header([]byte(body), e.clock.Now()))
	}
	w := httptest.NewRecorder()
	h(w, r)

	var resp webhookResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func TestOrderWebhook_Lifecycle(t *testing.T) {
	env := newWebhookEnv(t, testWebhookSecret, nil)
	ctx := context.Background()

	completed := `{"orderId":"ORD-1001","totalAmount":500.25,"customerEmail":"buyer@example.com",` +
		`"shippingAddress":{"city":"Izmir","country":"TR"},"shortCode":"spring24"}`
	w, resp := env.post(env.handler.Completed, completed, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, resp.Success)
	assert.False(t, resp.Duplicate)
	require.NotNil(t, resp.CommissionID)

	c, err := env.repos.Commissions.FindByOrderID(ctx, env.repos.Tx.DB(), "ORD-1001")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, int64(50025), c.OrderValue)
	assert.Equal(t, int64(5003), c.CommissionAmount)
	assert.Equal(t, domain.CommissionPending, c.Status)
	require.NotNil(t, c.ShippingCity)
	assert.Equal(t, "Izmir", *c.ShippingCity)

	t.Run("redelivery is a duplicate", func(t *testing.T) {
		w, resp := env.post(env.handler.Completed, completed, true)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.True(t, resp.Duplicate)
		assert.Equal(t, c.ID, *resp.CommissionID)
	})

	t.Run("paid approves", func(t *testing.T) {
		w, resp := env.post(env.handler.Paid, `{"orderId":"ORD-1001"}`, true)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.True(t, resp.Success)

		c, err := env.repos.Commissions.FindByOrderID(ctx, env.repos.Tx.DB(), "ORD-1001")
		require.NoError(t, err)
		assert.Equal(t, domain.CommissionApproved, c.Status)
	})

	t.Run("cancel after approval", func(t *testing.T) {
		w, _ := env.post(env.handler.Cancelled, `{"orderId":"ORD-1001"}`, true)
		assert.Equal(t, http.StatusOK, w.Code)

		w, _ = env.post(env.handler.Paid, `{"orderId":"ORD-1001"}`, true)
		assert.Equal(t, http.StatusBadRequest, w.Code, "cancelled cannot be approved")
	})
}

func TestOrderWebhook_ClickAttribution(t *testing.T) {
	env := newWebhookEnv(t, "", nil)
	clickID, err := env.tracking.RecordClick(context.Background(), service.ClickInput{
		LinkID:      env.link.ID,
		AffiliateID: env.link.OwnerID,
	})
	require.NoError(t, err)

	body := `{"orderId":"ORD-2001","totalAmount":120,"clickId":"` + clickID.String() + `"}`
	w, resp := env.post(env.handler.Completed, body, false)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, resp.Success)

	click, err := env.repos.Clicks.FindByID(context.Background(), env.repos.Tx.DB(), clickID)
	require.NoError(t, err)
	assert.True(t, click.Converted)
}

func TestOrderWebhook_Rejections(t *testing.T) {
	env := newWebhookEnv(t, testWebhookSecret, nil)

	tests := []struct {
		name       string
		handler    http.HandlerFunc
		body       string
		signed     bool
		wantStatus int
	}{
		{"unsigned", env.handler.Completed, `{"orderId":"ORD-1","totalAmount":10,"shortCode":"spring24"}`, false, http.StatusUnauthorized},
		{"bad json", env.handler.Completed, `{"orderId":`, true, http.StatusBadRequest},
		{"missing amount", env.handler.Completed, `{"orderId":"ORD-1","shortCode":"spring24"}`, true, http.StatusBadRequest},
		{"no attribution key", env.handler.Completed, `{"orderId":"ORD-1","totalAmount":10}`, true, http.StatusBadRequest},
		{"amount past int64", env.handler.Completed, `{"orderId":"ORD-1","totalAmount":200000000000000000,"shortCode":"spring24"}`, true, http.StatusBadRequest},
		{"amount past column limit", env.handler.Completed, `{"orderId":"ORD-1","totalAmount":10000000000000,"shortCode":"spring24"}`, true, http.StatusBadRequest},
		{"malformed click id", env.handler.Completed, `{"orderId":"ORD-1","totalAmount":10,"clickId":"nope"}`, true, http.StatusBadRequest},
		{"unknown short code", env.handler.Completed, `{"orderId":"ORD-1","totalAmount":10,"shortCode":"missing"}`, true, http.StatusBadRequest},
		{"paid unknown order", env.handler.Paid, `{"orderId":"ORD-404"}`, true, http.StatusBadRequest},
		{"cancel without order id", env.handler.Cancelled, `{}`, true, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := env.post(tt.handler, tt.body, tt.signed)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Message)
		})
	}
}

func TestOrderWebhook_StaleSignature(t *testing.T) {
	env := newWebhookEnv(t, testWebhookSecret, nil)
	body := `{"orderId":"ORD-1","totalAmount":10,"shortCode":"spring24"}`

	r := httptest.NewRequest(http.MethodPost, "/webhooks/orders/completed", bytes.NewBufferString(body))
	r.Header.Set(SignatureHeader, env.verifier.Header([]byte(body), env.clock.Now().Add(-time.Hour)))
	w := httptest.NewRecorder()
	env.handler.Completed(w, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestOrderWebhook_RateLimited(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC))
	env := newWebhookEnv(t, "", guard.NewRateLimiter(2, time.Minute, clk))

	for i := 0; i < 2; i++ {
		w, _ := env.post(env.handler.Paid, `{"orderId":"ORD-404"}`, false)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	}
	w, _ := env.post(env.handler.Paid, `{"orderId":"ORD-404"}`, false)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
}
