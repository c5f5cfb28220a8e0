package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/reflink/platform/internal/domain"
	"github.com/reflink/platform/internal/service"
)

// LinkAdminHandler manages short links.
type LinkAdminHandler struct {
	tracking *service.TrackingService
}

// NewLinkAdminHandler creates a LinkAdminHandler.
func NewLinkAdminHandler(tracking *service.TrackingService) *LinkAdminHandler {
	return &LinkAdminHandler{tracking: tracking}
}

// Create handles POST /admin/links.
func (h *LinkAdminHandler) Create(w http.ResponseWriter, r *http.Request) {
	var input service.CreateLinkInput
	if err := DecodeJSON(r, &input); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	link, err := h.tracking.CreateLink(r.Context(), input)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusCreated, link)
}

// Get handles GET /admin/links/{shortCode}.
func (h *LinkAdminHandler) Get(w http.ResponseWriter, r *http.Request) {
	link, err := h.tracking.GetLink(r.Context(), chi.URLParam(r, "shortCode"))
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, link)
}

// UpdateStatus handles PATCH /admin/links/{shortCode}/status.
func (h *LinkAdminHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Status domain.LinkStatus `json:"status"`
	}
	if err := DecodeJSON(r, &input); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	link, err := h.tracking.SetLinkStatus(r.Context(), chi.URLParam(r, "shortCode"), input.Status)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, link)
}
