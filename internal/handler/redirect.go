package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/reflink/platform/internal/domain"
	"github.com/reflink/platform/internal/metrics"
	"github.com/reflink/platform/internal/service"
)

// RedirectHandler sends visitors from a short link to its destination.
type RedirectHandler struct {
	tracking   *service.TrackingService
	metrics    *metrics.Metrics
	clickParam string
	logger     *slog.Logger
}

// NewRedirectHandler creates a RedirectHandler. clickParam names the query parameter that
// carries the click ID to the store.
func NewRedirectHandler(tracking *service.TrackingService, m *metrics.Metrics, clickParam string, logger *slog.Logger) *RedirectHandler {
	return &RedirectHandler{tracking: tracking, metrics: m, clickParam: clickParam, logger: logger}
}

// Redirect handles GET /s/{shortCode}. The click is recorded in the background so the
// visitor is never held up by the store.
func (h *RedirectHandler) Redirect(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "shortCode")

	link, err := h.tracking.Resolve(r.Context(), code)
	if err != nil {
		h.metrics.Redirect(false)
		if !domain.HasCode(err, domain.CodeNotFound) {
			h.logger.Error("resolve short link", "short_code", code, "error", err)
		}
		w.Header().Set("Content-Type", "application/json")
		RespondError(w, err)
		return
	}

	clickID := h.tracking.RecordClickAsync(*link, domain.ClickMeta{
		IPAddress: ClientIP(r),
		UserAgent: r.UserAgent(),
		Referrer:  r.Referer(),
	})
	h.metrics.Redirect(true)

	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, service.TrackedDestination(link.DestinationURL, h.clickParam, clickID), http.StatusFound)
}
