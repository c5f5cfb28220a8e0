package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/reflink/platform/internal/auth"
	"github.com/reflink/platform/internal/domain"
	"github.com/reflink/platform/internal/service"
	"github.com/shopspring/decimal"
)

// AffiliateHandler serves affiliate onboarding and the affiliate portal.
type AffiliateHandler struct {
	affiliates  *service.AffiliateService
	attribution *service.AttributionService
	payouts     *service.PayoutService
}

// NewAffiliateHandler creates an AffiliateHandler.
func NewAffiliateHandler(affiliates *service.AffiliateService, attribution *service.AttributionService, payouts *service.PayoutService) *AffiliateHandler {
	return &AffiliateHandler{affiliates: affiliates, attribution: attribution, payouts: payouts}
}

// Create handles POST /admin/affiliates.
func (h *AffiliateHandler) Create(w http.ResponseWriter, r *http.Request) {
	var input service.CreateAffiliateInput
	if err := DecodeJSON(r, &input); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	a, err := h.affiliates.CreateAffiliate(r.Context(), input)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusCreated, a)
}

// Get handles GET /admin/affiliates/{id}.
func (h *AffiliateHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid affiliate id")
		return
	}
	a, err := h.affiliates.GetAffiliate(r.Context(), id)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, a)
}

// UpdateRate handles PATCH /admin/affiliates/{id}/commission-rate.
func (h *AffiliateHandler) UpdateRate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid affiliate id")
		return
	}
	var input struct {
		CommissionRate *decimal.Decimal `json:"commission_rate"`
	}
	if err := DecodeJSON(r, &input); err != nil || input.CommissionRate == nil {
		badRequest(w, "commission_rate is required")
		return
	}
	a, err := h.affiliates.UpdateCommissionRate(r.Context(), id, *input.CommissionRate)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, a)
}

// UpdateStatus handles PATCH /admin/affiliates/{id}/status.
func (h *AffiliateHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid affiliate id")
		return
	}
	var input struct {
		Status domain.AffiliateStatus `json:"status"`
	}
	if err := DecodeJSON(r, &input); err != nil || input.Status == "" {
		badRequest(w, "status is required")
		return
	}
	a, err := h.affiliates.SetStatus(r.Context(), id, input.Status)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, a)
}

// Me handles GET /affiliates/me.
func (h *AffiliateHandler) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := portalSubject(w, r)
	if !ok {
		return
	}
	a, err := h.affiliates.GetAffiliate(r.Context(), id)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, a)
}

// MyCommissions handles GET /affiliates/me/commissions?page=&limit=.
func (h *AffiliateHandler) MyCommissions(w http.ResponseWriter, r *http.Request) {
	id, ok := portalSubject(w, r)
	if !ok {
		return
	}
	page, limit := pageParams(r)
	if page < 1 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	list, err := h.attribution.ListCommissions(r.Context(), id, limit, (page-1)*limit)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]interface{}{
		"commissions": list,
		"page":        page,
		"limit":       limit,
	})
}

// MyPayouts handles GET /affiliates/me/payouts?status=&page=&limit=.
func (h *AffiliateHandler) MyPayouts(w http.ResponseWriter, r *http.Request) {
	id, ok := portalSubject(w, r)
	if !ok {
		return
	}
	filter := domain.PayoutFilter{AffiliateID: &id}
	filter.Page, filter.Limit = pageParams(r)
	if s := r.URL.Query().Get("status"); s != "" {
		status := domain.PayoutStatus(s)
		filter.Status = &status
	}
	page, err := h.payouts.ListPayouts(r.Context(), filter)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, page)
}

func portalSubject(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, ok := auth.SubjectFromContext(r.Context())
	if !ok {
		RespondError(w, domain.ErrUnauthorized("invalid token subject"))
		return uuid.Nil, false
	}
	return id, true
}
