package evidencehandler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"pms/internal/domain/auth"
	"pms/internal/domain/evidence"
	"pms/internal/transport/http/api"
	"pms/internal/transport/http/middleware"
	"pms/internal/transport/http/shared"
)

type Handler struct {
	Service *evidence.Service
	Perms   middleware.PermissionStore
}

func NewHandler(service *evidence.Service, perms middleware.PermissionStore) *Handler {
	return &Handler{Service: service, Perms: perms}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/evidence", func(r chi.Router) {
		r.With(middleware.RequirePermission(auth.PermEvidenceRead, h.Perms)).Get("/", h.handleList)
		r.With(middleware.RequirePermission(auth.PermEvidenceWrite, h.Perms)).Post("/", h.handleCreate)
		r.With(middleware.RequirePermission(auth.PermEvidenceRead, h.Perms)).Get("/{evidenceID}", h.handleGet)
		r.With(middleware.RequirePermission(auth.PermEvidenceVerify, h.Perms)).Post("/{evidenceID}/verify", h.handleVerify)
		r.With(middleware.RequirePermission(auth.PermEvidenceVerify, h.Perms)).Post("/{evidenceID}/reject", h.handleReject)
		r.With(middleware.RequirePermission(auth.PermEvidenceWrite, h.Perms)).Post("/{evidenceID}/archive", h.handleArchive)
		r.With(middleware.RequirePermission(auth.PermEvidenceWrite, h.Perms)).Delete("/{evidenceID}", h.handleDelete)
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}

	employeeID := r.URL.Query().Get("employeeId")
	if user.RoleName == auth.RoleEmployee {
		employeeID = user.EmployeeID
	}
	list, err := h.Service.List(r.Context(), user.TenantID, employeeID)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "evidence_list_failed", "failed to list evidence", middleware.GetRequestID(r.Context()))
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
		EmployeeID  string `json:"employeeId"`
		Title       string `json:"title"`
		Description string `json:"description"`
		Impact      int    `json:"impact"`
		Effort      int    `json:"effort"`
		Quality     int    `json:"quality"`
		Complexity  int    `json:"complexity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return
	}

	if payload.EmployeeID == "" {
		payload.EmployeeID = user.EmployeeID
	}
	if user.RoleName == auth.RoleEmployee && payload.EmployeeID != user.EmployeeID {
		api.Fail(w, http.StatusForbidden, "forbidden", "employees may only record their own evidence", middleware.GetRequestID(r.Context()))
		return
	}

	v := shared.NewValidator()
	v.Required("employeeId", payload.EmployeeID, "employee id is required")
	v.Required("title", payload.Title, "title is required")
	if v.Reject(w, middleware.GetRequestID(r.Context())) {
		return
	}

	id, err := h.Service.Create(r.Context(), user.TenantID, evidence.Evidence{
		EmployeeID:  payload.EmployeeID,
		Title:       strings.TrimSpace(payload.Title),
		Description: payload.Description,
		Impact:      payload.Impact,
		Effort:      payload.Effort,
		Quality:     payload.Quality,
		Complexity:  payload.Complexity,
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

	item, err := h.Service.Get(r.Context(), user.TenantID, chi.URLParam(r, "evidenceID"))
	if err != nil {
		api.FromError(w, err, middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, item, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}

	if err := h.Service.Verify(r.Context(), user.TenantID, chi.URLParam(r, "evidenceID"), user.UserID); err != nil {
		api.FromError(w, err, middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, map[string]string{"status": evidence.StatusVerified}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}

	if err := h.Service.Reject(r.Context(), user.TenantID, chi.URLParam(r, "evidenceID"), user.UserID); err != nil {
		api.FromError(w, err, middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, map[string]string{"status": evidence.StatusRejected}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleArchive(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}

	if err := h.Service.Archive(r.Context(), user.TenantID, chi.URLParam(r, "evidenceID")); err != nil {
		api.FromError(w, err, middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, map[string]string{"status": evidence.StatusArchived}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}

	if err := h.Service.Delete(r.Context(), user.TenantID, chi.URLParam(r, "evidenceID")); err != nil {
		api.FromError(w, err, middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, map[string]string{"status": "deleted"}, middleware.GetRequestID(r.Context()))
}
