package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/reflink/platform/internal/clock"
	"github.com/reflink/platform/internal/domain"
	"github.com/reflink/platform/internal/guard"
	"github.com/reflink/platform/internal/provider"
	"github.com/reflink/platform/internal/service"
	"github.com/shopspring/decimal"
)

// SignatureHeader carries the order webhook HMAC.
const SignatureHeader = "X-Webhook-Signature"

// OrderWebhookHandler receives order lifecycle events from the store.
type OrderWebhookHandler struct {
	attribution *service.AttributionService
	verifier    *provider.WebhookVerifier
	limiter     *guard.RateLimiter
	clock       clock.Clock
	logger      *slog.Logger
}

// NewOrderWebhookHandler creates an OrderWebhookHandler. limiter may be nil.
func NewOrderWebhookHandler(attribution *service.AttributionService, verifier *provider.WebhookVerifier, limiter *guard.RateLimiter, clk clock.Clock, logger *slog.Logger) *OrderWebhookHandler {
	return &OrderWebhookHandler{attribution: attribution, verifier: verifier, limiter: limiter, clock: clk, logger: logger}
}

type shippingAddress struct {
	City    string `json:"city"`
	Country string `json:"country"`
}

type orderPayload struct {
	OrderID         string           `json:"orderId"`
	TotalAmount     *decimal.Decimal `json:"totalAmount,omitempty"`
	CustomerEmail   string           `json:"customerEmail,omitempty"`
	CustomerName    string           `json:"customerName,omitempty"`
	Products        json.RawMessage  `json:"products,omitempty"`
	ShippingAddress *shippingAddress `json:"shippingAddress,omitempty"`
	ClickID         string           `json:"clickId,omitempty"`
	ShortCode       string           `json:"shortCode,omitempty"`
}

type webhookResponse struct {
	Success      bool       `json:"success"`
	Message      string     `json:"message"`
	CommissionID *uuid.UUID `json:"commissionId,omitempty"`
	Duplicate    bool       `json:"duplicate,omitempty"`
}

// Completed handles POST /webhooks/orders/completed.
func (h *OrderWebhookHandler) Completed(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, "completed", func(ctx context.Context, p *orderPayload) (*service.AttributionResult, error) {
		in := service.OrderCompletedInput{
			OrderID:       p.OrderID,
			ShortCode:     strings.TrimSpace(p.ShortCode),
			CustomerEmail: p.CustomerEmail,
			CustomerName:  p.CustomerName,
			Products:      p.Products,
		}
		if p.TotalAmount == nil {
			return nil, domain.ErrValidation("totalAmount is required")
		}
		value, err := domain.MajorToMinor(*p.TotalAmount)
		if err != nil {
			return nil, domain.ErrValidation("totalAmount out of range")
		}
		in.OrderValue = value
		if p.ClickID != "" {
			id, err := uuid.Parse(p.ClickID)
			if err != nil {
				return nil, domain.ErrValidation("clickId must be a UUID")
			}
			in.ClickID = &id
		}
		if p.ShippingAddress != nil {
			in.ShippingCity = p.ShippingAddress.City
			in.ShippingCountry = p.ShippingAddress.Country
		}
		return h.attribution.OrderCompleted(ctx, in)
	})
}

// Paid handles POST /webhooks/orders/paid.
func (h *OrderWebhookHandler) Paid(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, "paid", func(ctx context.Context, p *orderPayload) (*service.AttributionResult, error) {
		return h.attribution.OrderPaid(ctx, p.OrderID)
	})
}

// Cancelled handles POST /webhooks/orders/cancelled.
func (h *OrderWebhookHandler) Cancelled(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, "cancelled", func(ctx context.Context, p *orderPayload) (*service.AttributionResult, error) {
		return h.attribution.OrderCancelled(ctx, p.OrderID)
	})
}

// handle verifies and decodes the raw body, then maps the service result:
// 200 on success and duplicates, 400 on business rejections, 401 on a bad signature,
// 500 otherwise so the sender re-delivers.
func (h *OrderWebhookHandler) handle(w http.ResponseWriter, r *http.Request, event string,
	apply func(ctx context.Context, p *orderPayload) (*service.AttributionResult, error)) {
	if h.limiter != nil {
		if res := h.limiter.Check(r.Context(), "webhook:"+ClientIP(r)); !res.Allowed {
			setRetryAfter(w, res)
			RespondJSON(w, http.StatusTooManyRequests, webhookResponse{Message: res.Reason})
			return
		}
	}

	// Raw body is required for signature verification.
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		RespondJSON(w, http.StatusBadRequest, webhookResponse{Message: "unreadable request body"})
		return
	}

	if h.verifier.Enabled() {
		if err := h.verifier.Verify(body, r.Header.Get(SignatureHeader), h.clock.Now()); err != nil {
			h.logger.Warn("order webhook signature rejected", "event", event, "ip", ClientIP(r), "error", err)
			RespondJSON(w, http.StatusUnauthorized, webhookResponse{Message: "invalid signature"})
			return
		}
	}

	var p orderPayload
	if err := json.Unmarshal(body, &p); err != nil {
		RespondJSON(w, http.StatusBadRequest, webhookResponse{Message: "invalid JSON payload"})
		return
	}

	res, err := apply(r.Context(), &p)
	if err != nil {
		var appErr *domain.AppError
		if domain.IsBusinessRejection(err) && errors.As(err, &appErr) {
			h.logger.Info("order webhook rejected", "event", event, "order_id", p.OrderID, "code", appErr.Code, "reason", appErr.Message)
			RespondJSON(w, http.StatusBadRequest, webhookResponse{Message: appErr.Message})
			return
		}
		h.logger.Error("order webhook failed", "event", event, "order_id", p.OrderID, "error", err)
		RespondJSON(w, http.StatusInternalServerError, webhookResponse{Message: "failed to process webhook"})
		return
	}

	RespondJSON(w, http.StatusOK, webhookResponse{
		Success:      true,
		Message:      res.Message,
		CommissionID: res.CommissionID,
		Duplicate:    res.Duplicate,
	})
}
