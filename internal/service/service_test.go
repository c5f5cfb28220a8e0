package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/reflink/platform/internal/auth"
	"github.com/reflink/platform/internal/clock"
	"github.com/reflink/platform/internal/domain"
	"github.com/reflink/platform/internal/guard"
	"github.com/reflink/platform/internal/metrics"
	"github.com/reflink/platform/internal/notify"
	"github.com/reflink/platform/internal/provider"
	"github.com/reflink/platform/internal/repository"
	"github.com/reflink/platform/internal/repository/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

const testMinPayout = 5000

type fixture struct {
	ctx         context.Context
	repos       *repository.Repositories
	clock       *clock.FakeClock
	metrics     *metrics.Metrics
	bank        *provider.Simulated
	card        *provider.Simulated
	breaker     *guard.CircuitBreaker
	tracking    *TrackingService
	attribution *AttributionService
	payouts     *PayoutService
	affiliates  *AffiliateService
	auth        *AuthService
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	methods []provider.PayoutMethod
	cache   LinkCache
	timeout time.Duration
}

func withMethods(methods ...provider.PayoutMethod) fixtureOption {
	return func(c *fixtureConfig) { c.methods = methods }
}

func withCache(cache LinkCache) fixtureOption {
	return func(c *fixtureConfig) { c.cache = cache }
}

func withMethodTimeout(d time.Duration) fixtureOption {
	return func(c *fixtureConfig) { c.timeout = d }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	repos := memory.New()
	clk := clock.NewFakeClock(testStart)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New(prometheus.NewRegistry())
	notifier := notify.NewOutboxNotifier(repos.Outbox)
	bank := provider.NewSimulated(domain.MethodBankTransfer)
	card := provider.NewSimulated(domain.MethodCardProcessor)
	breaker := guard.NewCircuitBreaker(5, time.Minute, clk)
	jwtMgr := auth.NewJWTManager("test-secret-key", time.Hour, time.Hour)

	cfg := fixtureConfig{methods: []provider.PayoutMethod{bank, card}, timeout: time.Second}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &fixture{
		ctx:         context.Background(),
		repos:       repos,
		clock:       clk,
		metrics:     m,
		bank:        bank,
		card:        card,
		breaker:     breaker,
		tracking:    NewTrackingService(repos, cfg.cache, clk, m, logger),
		attribution: NewAttributionService(repos, notifier, clk, m, logger),
		payouts: NewPayoutService(repos, cfg.methods, breaker, notifier, clk, m, PayoutConfig{
			MinAmount:     testMinPayout,
			Currency:      "TRY",
			MaxRetries:    3,
			RetryCooldown: 24 * time.Hour,
			MethodTimeout: cfg.timeout,
		}, logger),
		affiliates: NewAffiliateService(repos, jwtMgr, clk, logger),
		auth:       NewAuthService(repos, jwtMgr, logger),
	}
}

type affiliateOpts struct {
	rate string
	iban bool
	card bool
}

func (f *fixture) newAffiliate(t *testing.T, o affiliateOpts) *domain.Affiliate {
	t.Helper()
	if o.rate == "" {
		o.rate = "10"
	}
	in := CreateAffiliateInput{
		Email:          uuid.NewString()[:8] + "@example.com",
		Name:           "Test Affiliate",
		CommissionRate: decimal.RequireFromString(o.rate),
	}
	if o.iban {
		in.BankIBAN = "TR330006100519786457841326"
	}
	if o.card {
		in.CardAccountRef = "acct_test_123"
	}
	a, err := f.affiliates.CreateAffiliate(f.ctx, in)
	require.NoError(t, err)
	return a
}

func (f *fixture) newLink(t *testing.T, a *domain.Affiliate) *domain.Link {
	t.Helper()
	link, err := f.tracking.CreateLink(f.ctx, CreateLinkInput{
		AffiliateID:    a.ID,
		DestinationURL: "https://shop.example.com/products/42",
	})
	require.NoError(t, err)
	return link
}

func (f *fixture) newClick(t *testing.T, link *domain.Link) uuid.UUID {
	t.Helper()
	id, err := f.tracking.RecordClick(f.ctx, ClickInput{
		LinkID:      link.ID,
		AffiliateID: link.OwnerID,
		Meta:        domain.ClickMeta{IPAddress: "203.0.113.7", UserAgent: "test"},
	})
	require.NoError(t, err)
	return id
}

// completeOrder attributes an order worth value (minor units) through a fresh click.
func (f *fixture) completeOrder(t *testing.T, link *domain.Link, orderID string, value int64) *AttributionResult {
	t.Helper()
	clickID := f.newClick(t, link)
	res, err := f.attribution.OrderCompleted(f.ctx, OrderCompletedInput{
		OrderID:    orderID,
		OrderValue: value,
		ClickID:    &clickID,
	})
	require.NoError(t, err)
	return res
}

// approveOrder creates and approves a commission for an order.
func (f *fixture) approveOrder(t *testing.T, link *domain.Link, orderID string, value int64) {
	t.Helper()
	f.completeOrder(t, link, orderID, value)
	_, err := f.attribution.OrderPaid(f.ctx, orderID)
	require.NoError(t, err)
}

func (f *fixture) commission(t *testing.T, orderID string) *domain.Commission {
	t.Helper()
	c, err := f.repos.Commissions.FindByOrderID(f.ctx, f.repos.Tx.DB(), orderID)
	require.NoError(t, err)
	require.NotNil(t, c, "commission for %s", orderID)
	return c
}

func (f *fixture) affiliate(t *testing.T, id uuid.UUID) *domain.Affiliate {
	t.Helper()
	a, err := f.repos.Affiliates.FindByID(f.ctx, f.repos.Tx.DB(), id)
	require.NoError(t, err)
	require.NotNil(t, a)
	return a
}

func (f *fixture) payout(t *testing.T, id uuid.UUID) *domain.Payout {
	t.Helper()
	p, err := f.repos.Payouts.FindByID(f.ctx, f.repos.Tx.DB(), id)
	require.NoError(t, err)
	require.NotNil(t, p)
	return p
}

// notifications returns the event types queued in the outbox, in order.
func (f *fixture) notifications(t *testing.T) []domain.EventType {
	t.Helper()
	drafts, err := f.repos.Outbox.FetchUnpublished(f.ctx, f.repos.Tx.DB(), 1000)
	require.NoError(t, err)
	kinds := make([]domain.EventType, 0, len(drafts))
	for _, d := range drafts {
		kinds = append(kinds, d.EventType)
	}
	return kinds
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	require.True(t, domain.HasCode(err, code), "want %s, got %v", code, err)
}
