package decisionshandler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"pms/internal/domain/auth"
	"pms/internal/domain/decisions"
	"pms/internal/transport/http/api"
	"pms/internal/transport/http/middleware"
	"pms/internal/transport/http/shared"
)

type Handler struct {
	Service *decisions.Service
	Perms   middleware.PermissionStore
}

func NewHandler(service *decisions.Service, perms middleware.PermissionStore) *Handler {
	return &Handler{Service: service, Perms: perms}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/decisions", func(r chi.Router) {
		r.With(middleware.RequirePermission(auth.PermDecisionsRead, h.Perms)).Get("/", h.handleList)
		r.With(middleware.RequirePermission(auth.PermDecisionsWrite, h.Perms)).Post("/", h.handleCreate)
		r.With(middleware.RequirePermission(auth.PermDecisionsRead, h.Perms)).Get("/{decisionID}", h.handleGet)
		r.With(middleware.RequirePermission(auth.PermDecisionsRead, h.Perms)).Get("/{decisionID}/evidence", h.handleListEvidence)
		r.With(middleware.RequirePermission(auth.PermDecisionsWrite, h.Perms)).Post("/{decisionID}/evidence", h.handleLinkEvidence)
		r.With(middleware.RequirePermission(auth.PermDecisionsWrite, h.Perms)).Post("/{decisionID}/submit", h.handleSubmit)
		r.With(middleware.RequirePermission(auth.PermDecisionsApprove, h.Perms)).Post("/{decisionID}/approve", h.handleApprove)
		r.With(middleware.RequirePermission(auth.PermDecisionsApprove, h.Perms)).Post("/{decisionID}/reject", h.handleReject)
		r.With(middleware.RequirePermission(auth.PermDecisionsApprove, h.Perms)).Post("/{decisionID}/defer", h.handleDefer)
		r.With(middleware.RequirePermission(auth.PermDecisionsImplement, h.Perms)).Post("/{decisionID}/implement", h.handleImplement)
		r.With(middleware.RequirePermission(auth.PermDecisionsWrite, h.Perms)).Post("/{decisionID}/cancel", h.handleCancel)
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}

	query := r.URL.Query()
	list, err := h.Service.List(r.Context(), user.TenantID, query.Get("employeeId"), query.Get("type"))
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "decision_list_failed", "failed to list decisions", middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, list, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}

	var payload struct {
		Type              string   `json:"type"`
		EmployeeID        string   `json:"employeeId"`
		CycleID           string   `json:"cycleId"`
		ReviewID          string   `json:"reviewId"`
		Title             string   `json:"title"`
		Rationale         string   `json:"rationale"`
		PerformanceRating *float64 `json:"performanceRating"`
		Amount            string   `json:"amount"`
		Currency          string   `json:"currency"`
		FromLevel         string   `json:"fromLevel"`
		ToLevel           string   `json:"toLevel"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return
	}

	v := shared.NewValidator()
	v.Required("employeeId", payload.EmployeeID, "employee id is required")
	v.Required("title", payload.Title, "title is required")
	v.Required("rationale", payload.Rationale, "rationale is required")
	v.Enum("type", payload.Type, []string{decisions.TypeCompensation, decisions.TypePromotion}, "unknown decision type")
	if v.Reject(w, middleware.GetRequestID(r.Context())) {
		return
	}

	id, err := h.Service.Create(r.Context(), user.TenantID, decisions.Decision{
		Type:              payload.Type,
		EmployeeID:        payload.EmployeeID,
		CycleID:           payload.CycleID,
		ReviewID:          payload.ReviewID,
		Title:             strings.TrimSpace(payload.Title),
		Rationale:         payload.Rationale,
		PerformanceRating: payload.PerformanceRating,
		Amount:            payload.Amount,
		Currency:          payload.Currency,
		FromLevel:         payload.FromLevel,
		ToLevel:           payload.ToLevel,
		ProposerID:        user.UserID,
	})
	if err != nil {
		api.FromError(w, err, middleware.GetRequestID(r.Context()))
		return
	}
	api.Created(w, map[string]string{"id": id}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}

	decision, err := h.Service.Get(r.Context(), user.TenantID, chi.URLParam(r, "decisionID"))
	if err != nil {
		api.FromError(w, err, middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, decision, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleListEvidence(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}

	refs, err := h.Service.Evidence(r.Context(), user.TenantID, chi.URLParam(r, "decisionID"))
	if err != nil {
		api.FromError(w, err, middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, refs, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleLinkEvidence(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}

	var payload struct {
		EvidenceID string   `json:"evidenceId"`
		Weight     *float64 `json:"weight"`
		Relevance  string   `json:"relevance"`
		Note       string   `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.EvidenceID == "" {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "evidenceId is required", middleware.GetRequestID(r.Context()))
		return
	}

	ref := decisions.EvidenceRef{
		EvidenceID: payload.EvidenceID,
		Weight:     1,
		Relevance:  payload.Relevance,
		Note:       payload.Note,
	}
	if payload.Weight != nil {
		ref.Weight = *payload.Weight
	}
	if err := h.Service.LinkEvidence(r.Context(), user.TenantID, chi.URLParam(r, "decisionID"), ref); err != nil {
		api.FromError(w, err, middleware.GetRequestID(r.Context()))
		return
	}
	api.Created(w, map[string]string{"status": "linked"}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}

	if err := h.Service.Submit(r.Context(), user.TenantID, chi.URLParam(r, "decisionID"), user.UserID); err != nil {
		api.FromError(w, err, middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, map[string]string{"status": decisions.StatusPendingApproval}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}

	if err := h.Service.Approve(r.Context(), user.TenantID, chi.URLParam(r, "decisionID"), user.UserID); err != nil {
		api.FromError(w, err, middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, map[string]string{"status": decisions.StatusApproved}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}

	var payload struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return
	}

	if err := h.Service.Reject(r.Context(), user.TenantID, chi.URLParam(r, "decisionID"), payload.Reason, user.UserID); err != nil {
		api.FromError(w, err, middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, map[string]string{"status": decisions.StatusRejected}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleDefer(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}

	if err := h.Service.Defer(r.Context(), user.TenantID, chi.URLParam(r, "decisionID"), user.UserID); err != nil {
		api.FromError(w, err, middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, map[string]string{"status": decisions.StatusDeferred}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleImplement(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}

	var payload struct {
		EffectiveDate string `json:"effectiveDate"`
		ExternalRef   string `json:"externalRef"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return
	}

	v := shared.NewValidator()
	effective, _ := v.Date("effectiveDate", payload.EffectiveDate)
	v.Required("externalRef", payload.ExternalRef, "externalRef is required")
	if v.Reject(w, middleware.GetRequestID(r.Context())) {
		return
	}

	if err := h.Service.Implement(r.Context(), user.TenantID, chi.URLParam(r, "decisionID"), effective, strings.TrimSpace(payload.ExternalRef), user.UserID); err != nil {
		api.FromError(w, err, middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, map[string]string{"status": decisions.StatusImplemented}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}

	if err := h.Service.Cancel(r.Context(), user.TenantID, chi.URLParam(r, "decisionID"), user.UserID); err != nil {
		api.FromError(w, err, middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, map[string]string{"status": decisions.StatusCancelled}, middleware.GetRequestID(r.Context()))
}
