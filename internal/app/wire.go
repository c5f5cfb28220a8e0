package app

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/reflink/platform/internal/auth"
	"github.com/reflink/platform/internal/clock"
	"github.com/reflink/platform/internal/domain"
	"github.com/reflink/platform/internal/guard"
	"github.com/reflink/platform/internal/handler"
	"github.com/reflink/platform/internal/infra"
	"github.com/reflink/platform/internal/metrics"
	"github.com/reflink/platform/internal/notify"
	"github.com/reflink/platform/internal/provider"
	"github.com/reflink/platform/internal/repository"
	"github.com/reflink/platform/internal/scheduler"
	"github.com/reflink/platform/internal/service"
)

const (
	breakerFailThreshold = 5
	breakerResetTimeout  = 5 * time.Minute

	webhookRateLimit  = 600
	webhookRateWindow = time.Minute

	loginRateLimit  = 10
	loginRateWindow = time.Minute
)

// ServiceDeps holds what NewServices needs.
type ServiceDeps struct {
	Config  *infra.Config
	Repos   *repository.Repositories
	Cache   service.LinkCache
	Methods []provider.PayoutMethod
	JWTMgr  *auth.JWTManager
	Metrics *metrics.Metrics
	Clock   clock.Clock
	Logger  *slog.Logger
}

// Services bundles the application services.
type Services struct {
	Tracking    *service.TrackingService
	Attribution *service.AttributionService
	Payouts     *service.PayoutService
	Affiliates  *service.AffiliateService
	Auth        *service.AuthService
	Scheduler   *scheduler.Scheduler
}

// NewServices wires services over the given store. The scheduler is built but not started.
func NewServices(d ServiceDeps) *Services {
	cfg := d.Config
	notifier := notify.NewOutboxNotifier(d.Repos.Outbox)
	breaker := guard.NewCircuitBreaker(breakerFailThreshold, breakerResetTimeout, d.Clock)

	payouts := service.NewPayoutService(d.Repos, d.Methods, breaker, notifier, d.Clock, d.Metrics, service.PayoutConfig{
		MinAmount:     cfg.PayoutMinAmount,
		Currency:      cfg.PayoutCurrency,
		MaxRetries:    cfg.PayoutMaxRetries,
		RetryCooldown: cfg.PayoutRetryCooldown,
		MethodTimeout: cfg.PayoutMethodTimeout,
	}, d.Logger)

	return &Services{
		Tracking:    service.NewTrackingService(d.Repos, d.Cache, d.Clock, d.Metrics, d.Logger),
		Attribution: service.NewAttributionService(d.Repos, notifier, d.Clock, d.Metrics, d.Logger),
		Payouts:     payouts,
		Affiliates:  service.NewAffiliateService(d.Repos, d.JWTMgr, d.Clock, d.Logger),
		Auth:        service.NewAuthService(d.Repos, d.JWTMgr, d.Logger),
		Scheduler: scheduler.New(payouts, d.Clock, scheduler.Config{
			MonthlyDay:  cfg.MonthlyRunDay,
			MonthlyHour: cfg.MonthlyRunHour,
			DailyHour:   cfg.DailyRunHour,
		}, d.Logger),
	}
}

// PayoutMethods returns the payout methods in the order they are tried: bank transfer,
// then card processor. With PAYOUT_SIMULATE both are in-process fakes.
func PayoutMethods(cfg *infra.Config, logger *slog.Logger) []provider.PayoutMethod {
	if cfg.PayoutSimulate {
		logger.Warn("payout methods are simulated; no money will move")
		return []provider.PayoutMethod{
			provider.NewSimulated(domain.MethodBankTransfer),
			provider.NewSimulated(domain.MethodCardProcessor),
		}
	}
	client := &http.Client{Timeout: cfg.PayoutMethodTimeout}
	return []provider.PayoutMethod{
		provider.NewBankTransfer(cfg.BankAPIURL, cfg.BankAPIKey, client),
		provider.NewStripeTransfer(cfg.StripeSecretKey, client),
	}
}

// RouterDeps holds all dependencies needed by NewRouter.
type RouterDeps struct {
	Services    *Services
	JWTMgr      *auth.JWTManager
	Metrics     *metrics.Metrics
	Health      handler.HealthCheck
	Clock       clock.Clock
	Logger      *slog.Logger
	WebhookKey  string
	ClickParam  string
	CORSOrigins string
}

// NewRouter assembles the chi.Router with all routes and middleware.
func NewRouter(deps RouterDeps) chi.Router {
	svc := deps.Services
	jwtMgr := deps.JWTMgr
	logger := deps.Logger

	redirectHandler := handler.NewRedirectHandler(svc.Tracking, deps.Metrics, deps.ClickParam, logger)
	webhookHandler := handler.NewOrderWebhookHandler(
		svc.Attribution,
		provider.NewWebhookVerifier(deps.WebhookKey),
		guard.NewRateLimiter(webhookRateLimit, webhookRateWindow, deps.Clock),
		deps.Clock,
		logger,
	)
	payoutHandler := handler.NewPayoutHandler(svc.Payouts, svc.Scheduler)
	linkHandler := handler.NewLinkAdminHandler(svc.Tracking)
	affiliateHandler := handler.NewAffiliateHandler(svc.Affiliates, svc.Attribution, svc.Payouts)
	authHandler := handler.NewAuthHandler(svc.Auth, svc.Affiliates)
	loginLimit := handler.RateLimit(guard.NewRateLimiter(loginRateLimit, loginRateWindow, deps.Clock), "login")

	r := chi.NewRouter()

	// Global middleware (order matters)
	r.Use(handler.Recovery(logger))
	r.Use(handler.RequestID)
	r.Use(handler.RequestLogger(logger))
	r.Use(handler.CORS(deps.CORSOrigins))

	// Redirects and metrics are not JSON
	r.Get("/s/{shortCode}", redirectHandler.Redirect)
	r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(handler.JSONContentType)

		r.Get("/health", handler.HealthHandler(deps.Health, logger))

		// Order webhooks (signature-checked, not JWT)
		r.Route("/webhooks/orders", func(r chi.Router) {
			r.Post("/completed", webhookHandler.Completed)
			r.Post("/paid", webhookHandler.Paid)
			r.Post("/cancelled", webhookHandler.Cancelled)
		})

		r.With(loginLimit).Post("/auth/admin/login", authHandler.AdminLogin)

		r.Route("/affiliates", func(r chi.Router) {
			r.With(loginLimit).Post("/login", authHandler.AffiliateLogin)

			r.Group(func(r chi.Router) {
				r.Use(auth.AuthenticateAffiliate(jwtMgr, svc.Affiliates.PortalStatus))
				r.Get("/me", affiliateHandler.Me)
				r.Get("/me/commissions", affiliateHandler.MyCommissions)
				r.Get("/me/payouts", affiliateHandler.MyPayouts)
			})
		})

		r.Route("/auto-payments", func(r chi.Router) {
			r.Use(auth.AuthenticateAdmin(jwtMgr))

			r.Get("/", payoutHandler.List)
			r.Get("/stats", payoutHandler.Stats)
			r.Get("/{id}", payoutHandler.Get)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireWriter)
				r.Post("/process", payoutHandler.Process)
				r.Post("/{id}/retry", payoutHandler.Retry)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.AuthenticateAdmin(jwtMgr))

			r.Get("/links/{shortCode}", linkHandler.Get)
			r.Get("/affiliates/{id}", affiliateHandler.Get)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireWriter)
				r.Post("/links", linkHandler.Create)
				r.Patch("/links/{shortCode}/status", linkHandler.UpdateStatus)
				r.Post("/affiliates", affiliateHandler.Create)
				r.Patch("/affiliates/{id}/commission-rate", affiliateHandler.UpdateRate)
				r.Patch("/affiliates/{id}/status", affiliateHandler.UpdateStatus)
			})
		})
	})

	return r
}
