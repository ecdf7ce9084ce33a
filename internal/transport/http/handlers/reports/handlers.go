package reportshandler

import (
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"pms/internal/domain/auth"
	"pms/internal/domain/reports"
	"pms/internal/transport/http/api"
	"pms/internal/transport/http/middleware"
	"pms/internal/transport/http/shared"
)

type Handler struct {
	Service *reports.Service
	Perms   middleware.PermissionStore
}

func NewHandler(service *reports.Service, perms middleware.PermissionStore) *Handler {
	return &Handler{Service: service, Perms: perms}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/reports", func(r chi.Router) {
		r.With(middleware.RequirePermission(auth.PermReportsRead, h.Perms)).Get("/dashboard/employee", h.handleEmployeeDashboard)
		r.With(middleware.RequirePermission(auth.PermReportsRead, h.Perms)).Get("/dashboard/manager", h.handleManagerDashboard)
		r.With(middleware.RequirePermission(auth.PermReportsRead, h.Perms)).Get("/dashboard/hr", h.handleHRDashboard)
		r.With(middleware.RequirePermission(auth.PermSystemAdmin, h.Perms)).Get("/jobs", h.handleJobRuns)
		r.With(middleware.RequirePermission(auth.PermCalibrationRead, h.Perms)).Post("/calibration/{sessionID}/pdf", h.handleSessionPDF)
		r.With(middleware.RequirePermission(auth.PermCalibrationRead, h.Perms)).Get("/calibration/{sessionID}/pdf", h.handleDownloadSessionPDF)
	})
}

func (h *Handler) handleEmployeeDashboard(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}

	employeeID := user.EmployeeID
	if employeeID == "" {
		id, err := h.Service.EmployeeIDByUserID(r.Context(), user.TenantID, user.UserID)
		if err != nil {
			api.Fail(w, http.StatusNotFound, "not_found", "no employee record for user", middleware.GetRequestID(r.Context()))
			return
		}
		employeeID = id
	}

	data, err := h.Service.EmployeeDashboard(r.Context(), user.TenantID, employeeID)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "dashboard_failed", "failed to build dashboard", middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, data, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleManagerDashboard(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	if user.RoleName != auth.RoleManager && user.RoleName != auth.RoleHR && user.RoleName != auth.RoleSystemAdmin {
		api.Fail(w, http.StatusForbidden, "forbidden", "manager or hr required", middleware.GetRequestID(r.Context()))
		return
	}

	managerEmployeeID := user.EmployeeID
	if managerEmployeeID == "" {
		id, err := h.Service.EmployeeIDByUserID(r.Context(), user.TenantID, user.UserID)
		if err != nil {
			api.Fail(w, http.StatusNotFound, "not_found", "no employee record for user", middleware.GetRequestID(r.Context()))
			return
		}
		managerEmployeeID = id
	}

	data, err := h.Service.ManagerDashboard(r.Context(), user.TenantID, managerEmployeeID)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "dashboard_failed", "failed to build dashboard", middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, data, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleHRDashboard(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	if user.RoleName != auth.RoleHR && user.RoleName != auth.RoleSystemAdmin {
		api.Fail(w, http.StatusForbidden, "forbidden", "hr role required", middleware.GetRequestID(r.Context()))
		return
	}

	data, err := h.Service.HRDashboard(r.Context(), user.TenantID)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "dashboard_failed", "failed to build dashboard", middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, data, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleJobRuns(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}

	page := shared.ParsePagination(r, 50, 200)
	runs, err := h.Service.JobRuns(r.Context(), user.TenantID, r.URL.Query().Get("type"), page.Limit, page.Offset)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "job_runs_failed", "failed to list job runs", middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, runs, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleSessionPDF(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}

	path, err := h.Service.GenerateSessionPDF(r.Context(), user.TenantID, chi.URLParam(r, "sessionID"))
	if err != nil {
		api.FromError(w, err, middleware.GetRequestID(r.Context()))
		return
	}
	api.Created(w, map[string]string{"file": filepath.Base(path)}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleDownloadSessionPDF(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	if strings.ContainsAny(sessionID, "/\\.") {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid session id", middleware.GetRequestID(r.Context()))
		return
	}
	if _, err := h.Service.Store.SessionHeader(r.Context(), user.TenantID, sessionID); err != nil {
		api.FromError(w, err, middleware.GetRequestID(r.Context()))
		return
	}

	data, err := h.Service.ReadSessionPDF(sessionID)
	if err != nil {
		api.Fail(w, http.StatusNotFound, "not_found", "report not generated", middleware.GetRequestID(r.Context()))
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", "attachment; filename=calibration-"+sessionID+".pdf")
	if _, err := w.Write(data); err != nil {
		slog.Warn("report download write failed", "err", err)
	}
}
