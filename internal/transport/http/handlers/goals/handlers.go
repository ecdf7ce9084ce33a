package goalshandler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"pms/internal/domain/auth"
	"pms/internal/domain/goals"
	"pms/internal/transport/http/api"
	"pms/internal/transport/http/middleware"
	"pms/internal/transport/http/shared"
)

type Handler struct {
	Service *goals.Service
	Perms   middleware.PermissionStore
}

func NewHandler(service *goals.Service, perms middleware.PermissionStore) *Handler {
	return &Handler{Service: service, Perms: perms}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/goals", func(r chi.Router) {
		r.With(middleware.RequirePermission(auth.PermGoalsRead, h.Perms)).Get("/", h.handleList)
		r.With(middleware.RequirePermission(auth.PermGoalsWrite, h.Perms)).Post("/", h.handleCreate)
		r.With(middleware.RequirePermission(auth.PermGoalsRead, h.Perms)).Get("/{goalID}", h.handleGet)
		r.With(middleware.RequirePermission(auth.PermGoalsRead, h.Perms)).Get("/{goalID}/history", h.handleHistory)
		r.With(middleware.RequirePermission(auth.PermGoalsWrite, h.Perms)).Post("/{goalID}/progress", h.handleRecordProgress)
		r.With(middleware.RequirePermission(auth.PermGoalsWrite, h.Perms)).Post("/{goalID}/align", h.handleAlign)
		r.With(middleware.RequirePermission(auth.PermGoalsWrite, h.Perms)).Delete("/{goalID}", h.handleDelete)
		r.With(middleware.RequirePermission(auth.PermGoalsRead, h.Perms)).Get("/snapshot", h.handleSnapshot)
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}

	ownerID := r.URL.Query().Get("ownerId")
	if user.RoleName == auth.RoleEmployee {
		ownerID = user.EmployeeID
	}
	list, err := h.Service.List(r.Context(), user.TenantID, ownerID)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "goal_list_failed", "failed to list goals", middleware.GetRequestID(r.Context()))
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
		OwnerID  string  `json:"ownerId"`
		ParentID string  `json:"parentId"`
		Title    string  `json:"title"`
		Type     string  `json:"type"`
		Priority int     `json:"priority"`
		Weight   float64 `json:"weight"`
		Progress float64 `json:"progress"`
		DueDate  string  `json:"dueDate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return
	}

	if payload.OwnerID == "" {
		payload.OwnerID = user.EmployeeID
	}
	if user.RoleName == auth.RoleEmployee && payload.OwnerID != user.EmployeeID {
		api.Fail(w, http.StatusForbidden, "forbidden", "employees may only create their own goals", middleware.GetRequestID(r.Context()))
		return
	}

	v := shared.NewValidator()
	v.Required("ownerId", payload.OwnerID, "owner id is required")
	v.Required("title", payload.Title, "title is required")
	if payload.Type == "" {
		payload.Type = goals.TypeIndividual
	}
	v.Enum("type", payload.Type, []string{
		goals.TypeIndividual, goals.TypeTeam, goals.TypeDepartment,
		goals.TypeCompany, goals.TypeOKRObjective, goals.TypeOKRKeyResult,
	}, "unknown goal type")
	if v.Reject(w, middleware.GetRequestID(r.Context())) {
		return
	}

	goal := goals.Goal{
		OwnerID:  payload.OwnerID,
		ParentID: payload.ParentID,
		Title:    strings.TrimSpace(payload.Title),
		Type:     payload.Type,
		Priority: payload.Priority,
		Weight:   payload.Weight,
		Progress: payload.Progress,
	}
	if payload.DueDate != "" {
		parsed, err := shared.ParseDate(payload.DueDate)
		if err != nil {
			api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid due date", middleware.GetRequestID(r.Context()))
			return
		}
		goal.DueDate = &parsed
	}

	id, err := h.Service.Create(r.Context(), user.TenantID, goal, user.UserID)
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

	goal, err := h.Service.Get(r.Context(), user.TenantID, chi.URLParam(r, "goalID"))
	if err != nil {
		api.FromError(w, err, middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, goal, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}

	updates, err := h.Service.History(r.Context(), user.TenantID, chi.URLParam(r, "goalID"))
	if err != nil {
		api.FromError(w, err, middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, updates, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleRecordProgress(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}

	var payload struct {
		Progress float64 `json:"progress"`
		Note     string  `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return
	}

	goal, err := h.Service.RecordProgress(r.Context(), user.TenantID, chi.URLParam(r, "goalID"), payload.Progress, payload.Note, user.UserID)
	if err != nil {
		api.FromError(w, err, middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, goal, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleAlign(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}

	var payload struct {
		ToGoalID string `json:"toGoalId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.ToGoalID == "" {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "toGoalId is required", middleware.GetRequestID(r.Context()))
		return
	}

	if err := h.Service.Align(r.Context(), user.TenantID, chi.URLParam(r, "goalID"), payload.ToGoalID); err != nil {
		api.FromError(w, err, middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, map[string]string{"status": "aligned"}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}

	if err := h.Service.Delete(r.Context(), user.TenantID, chi.URLParam(r, "goalID")); err != nil {
		api.FromError(w, err, middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, map[string]string{"status": "deleted"}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}

	ownerID := r.URL.Query().Get("ownerId")
	if ownerID == "" {
		ownerID = user.EmployeeID
	}
	asOf := time.Now()
	if raw := r.URL.Query().Get("asOf"); raw != "" {
		parsed, err := shared.ParseDate(raw)
		if err != nil {
			api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid asOf date", middleware.GetRequestID(r.Context()))
			return
		}
		asOf = parsed
	}

	snapshot, err := h.Service.SnapshotForReview(r.Context(), user.TenantID, ownerID, asOf)
	if err != nil {
		api.FromError(w, err, middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, snapshot, middleware.GetRequestID(r.Context()))
}
