package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/reflink/platform/internal/domain"
	"github.com/reflink/platform/internal/service"
)

// PayoutRunner runs a payout action; the scheduler guards manual runs against overlap.
type PayoutRunner interface {
	Run(ctx context.Context, action string) (*service.RunSummary, error)
}

// PayoutHandler serves the operator payout endpoints.
type PayoutHandler struct {
	payouts *service.PayoutService
	runner  PayoutRunner
}

// NewPayoutHandler creates a PayoutHandler.
func NewPayoutHandler(payouts *service.PayoutService, runner PayoutRunner) *PayoutHandler {
	return &PayoutHandler{payouts: payouts, runner: runner}
}

// Process handles POST /auto-payments/process.
func (h *PayoutHandler) Process(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Action string `json:"action"`
	}
	if err := DecodeJSON(r, &input); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	summary, err := h.runner.Run(r.Context(), input.Action)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"summary": summary,
	})
}

// List handles GET /auto-payments?status=&affiliate_id=&page=&limit=.
func (h *PayoutHandler) List(w http.ResponseWriter, r *http.Request) {
	var filter domain.PayoutFilter
	filter.Page, filter.Limit = pageParams(r)

	q := r.URL.Query()
	if s := q.Get("status"); s != "" {
		status := domain.PayoutStatus(s)
		filter.Status = &status
	}
	if s := q.Get("affiliate_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			badRequest(w, "affiliate_id must be a UUID")
			return
		}
		filter.AffiliateID = &id
	}

	page, err := h.payouts.ListPayouts(r.Context(), filter)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, page)
}

// Stats handles GET /auto-payments/stats.
func (h *PayoutHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.payouts.Stats(r.Context())
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, stats)
}

// Get handles GET /auto-payments/{id}.
func (h *PayoutHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid payout id")
		return
	}
	detail, err := h.payouts.GetPayout(r.Context(), id)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, detail)
}

// Retry handles POST /auto-payments/{id}/retry.
func (h *PayoutHandler) Retry(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid payout id")
		return
	}
	out, err := h.payouts.ProcessPayout(r.Context(), id)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, out)
}
