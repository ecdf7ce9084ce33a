package calibrationhandler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"pms/internal/domain/auth"
	"pms/internal/domain/calibration"
	"pms/internal/transport/http/api"
	"pms/internal/transport/http/middleware"
)

type Handler struct {
	Service *calibration.Service
	Perms   middleware.PermissionStore
}

func NewHandler(service *calibration.Service, perms middleware.PermissionStore) *Handler {
	return &Handler{Service: service, Perms: perms}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/calibration", func(r chi.Router) {
		r.With(middleware.RequirePermission(auth.PermCalibrationRead, h.Perms)).Get("/sessions", h.handleListSessions)
		r.With(middleware.RequirePermission(auth.PermCalibrationRead, h.Perms)).Get("/sessions/{sessionID}", h.handleGetSession)
		r.With(middleware.RequirePermission(auth.PermCalibrationRead, h.Perms)).Get("/sessions/{sessionID}/statistics", h.handleStatistics)
		r.With(middleware.RequirePermission(auth.PermCalibrationRead, h.Perms)).Get("/sessions/{sessionID}/adjustments", h.handleListAdjustments)
		r.With(middleware.RequirePermission(auth.PermCalibrationFacilitate, h.Perms)).Post("/sessions/{sessionID}/scope", h.handleSetScope)
		r.With(middleware.RequirePermission(auth.PermCalibrationFacilitate, h.Perms)).Post("/sessions/{sessionID}/adjust", h.handleAdjust)
		r.With(middleware.RequirePermission(auth.PermCalibrationFacilitate, h.Perms)).Post("/sessions/{sessionID}/accept", h.handleAccept)
		r.With(middleware.RequirePermission(auth.PermCalibrationFacilitate, h.Perms)).Post("/sessions/{sessionID}/complete", h.handleComplete)
	})
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}

	sessions, err := h.Service.List(r.Context(), user.TenantID, r.URL.Query().Get("cycleId"))
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "session_list_failed", "failed to list sessions", middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, sessions, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}

	session, err := h.Service.Get(r.Context(), user.TenantID, chi.URLParam(r, "sessionID"))
	if err != nil {
		api.FromError(w, err, middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, session, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleStatistics(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}

	report, err := h.Service.Statistics(r.Context(), user.TenantID, chi.URLParam(r, "sessionID"))
	if err != nil {
		api.FromError(w, err, middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, report, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleListAdjustments(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}

	adjustments, err := h.Service.Adjustments(r.Context(), user.TenantID, chi.URLParam(r, "sessionID"))
	if err != nil {
		api.FromError(w, err, middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, adjustments, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleSetScope(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}

	var payload struct {
		Department string `json:"department"`
		Level      string `json:"level"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return
	}

	err := h.Service.SetScope(r.Context(), user.TenantID, chi.URLParam(r, "sessionID"), payload.Department, payload.Level, user.UserID)
	if err != nil {
		api.FromError(w, err, middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, map[string]string{"status": "scoped"}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleAdjust(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}

	var payload struct {
		ReviewID       string  `json:"reviewId"`
		PreviousRating float64 `json:"previousRating"`
		NewRating      float64 `json:"newRating"`
		Rationale      string  `json:"rationale"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.ReviewID == "" {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "reviewId is required", middleware.GetRequestID(r.Context()))
		return
	}

	err := h.Service.AdjustRating(r.Context(), user.TenantID, chi.URLParam(r, "sessionID"), payload.ReviewID, payload.PreviousRating, payload.NewRating, payload.Rationale, user.UserID)
	if err != nil {
		api.FromError(w, err, middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, map[string]string{"status": "adjusted"}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleAccept(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}

	var payload struct {
		ReviewID  string   `json:"reviewId"`
		Rating    *float64 `json:"rating"`
		Rationale string   `json:"rationale"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.ReviewID == "" {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "reviewId is required", middleware.GetRequestID(r.Context()))
		return
	}

	err := h.Service.AcceptRating(r.Context(), user.TenantID, chi.URLParam(r, "sessionID"), payload.ReviewID, payload.Rating, payload.Rationale, user.UserID)
	if err != nil {
		api.FromError(w, err, middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, map[string]string{"status": "accepted"}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}

	if err := h.Service.Complete(r.Context(), user.TenantID, chi.URLParam(r, "sessionID"), user.UserID); err != nil {
		api.FromError(w, err, middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, map[string]string{"status": calibration.SessionCompleted}, middleware.GetRequestID(r.Context()))
}
