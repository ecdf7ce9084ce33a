package reviewshandler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"pms/internal/domain/auth"
	"pms/internal/domain/reviews"
	"pms/internal/transport/http/api"
	"pms/internal/transport/http/middleware"
	"pms/internal/transport/http/shared"
)

type Handler struct {
	Cycles      *reviews.CycleService
	Service     *reviews.Service
	Perms       middleware.PermissionStore
	Idempotency *middleware.IdempotencyStore
}

func NewHandler(cycles *reviews.CycleService, service *reviews.Service, perms middleware.PermissionStore, idempotency *middleware.IdempotencyStore) *Handler {
	return &Handler{Cycles: cycles, Service: service, Perms: perms, Idempotency: idempotency}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/cycles", func(r chi.Router) {
		r.With(middleware.RequirePermission(auth.PermReviewsRead, h.Perms)).Get("/", h.handleListCycles)
		r.With(middleware.RequirePermission(auth.PermCyclesManage, h.Perms)).Post("/", h.handleCreateCycle)
		r.With(middleware.RequirePermission(auth.PermReviewsRead, h.Perms)).Get("/{cycleID}", h.handleGetCycle)
		r.With(middleware.RequirePermission(auth.PermCyclesManage, h.Perms)).Post("/{cycleID}/windows", h.handleAddWindow)
		r.With(middleware.RequirePermission(auth.PermCyclesManage, h.Perms)).Post("/{cycleID}/launch", h.handleLaunchCycle)
		r.With(middleware.RequirePermission(auth.PermCyclesManage, h.Perms)).Post("/{cycleID}/advance", h.handleAdvanceCycle)
		r.With(middleware.RequirePermission(auth.PermCyclesManage, h.Perms)).Post("/{cycleID}/cancel", h.handleCancelCycle)
	})
	r.Route("/reviews", func(r chi.Router) {
		r.With(middleware.RequirePermission(auth.PermReviewsRead, h.Perms)).Get("/", h.handleListReviews)
		r.With(middleware.RequirePermission(auth.PermCyclesManage, h.Perms)).Post("/", h.handleAssign)
		r.With(middleware.RequirePermission(auth.PermReviewsRead, h.Perms)).Get("/{reviewID}", h.handleGetReview)
		r.With(middleware.RequirePermission(auth.PermReviewsWrite, h.Perms)).Post("/{reviewID}/start", h.handleStart)
		r.With(middleware.RequirePermission(auth.PermReviewsWrite, h.Perms)).Put("/{reviewID}/draft", h.handleSaveDraft)
		r.With(middleware.RequirePermission(auth.PermReviewsWrite, h.Perms)).Post("/{reviewID}/submit", h.handleSubmit)
		r.With(middleware.RequirePermission(auth.PermReviewsWrite, h.Perms)).Post("/{reviewID}/acknowledge", h.handleAcknowledge)
		r.With(middleware.RequirePermission(auth.PermCyclesManage, h.Perms)).Post("/{reviewID}/waive", h.handleWaive)
		r.With(middleware.RequirePermission(auth.PermReviewsWrite, h.Perms)).Post("/{reviewID}/goals", h.handleLinkGoal)
		r.With(middleware.RequirePermission(auth.PermReviewsWrite, h.Perms)).Post("/{reviewID}/evidence", h.handleLinkEvidence)
	})
}

func (h *Handler) handleListCycles(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}

	cycles, err := h.Cycles.List(r.Context(), user.TenantID)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "cycle_list_failed", "failed to list cycles", middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, cycles, middleware.GetRequestID(r.Context()))
}

type windowPayload struct {
	Phase    string `json:"phase"`
	StartsAt string `json:"startsAt"`
	EndsAt   string `json:"endsAt"`
}

func parseWindows(raw []windowPayload, v *shared.Validator) []reviews.PhaseWindow {
	out := make([]reviews.PhaseWindow, 0, len(raw))
	for _, item := range raw {
		start, okStart := v.Date("windows.startsAt", item.StartsAt)
		end, okEnd := v.Date("windows.endsAt", item.EndsAt)
		if !okStart || !okEnd {
			continue
		}
		out = append(out, reviews.PhaseWindow{Phase: item.Phase, StartsAt: start, EndsAt: end})
	}
	return out
}

func (h *Handler) handleCreateCycle(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}

	var payload struct {
		Name                   string            `json:"name"`
		Type                   string            `json:"type"`
		IncludeGoals           bool              `json:"includeGoals"`
		IncludeFeedback        bool              `json:"includeFeedback"`
		Include360             bool              `json:"include360"`
		RequireAcknowledgment  bool              `json:"requireAcknowledgment"`
		AllowConcurrentWindows bool              `json:"allowConcurrentWindows"`
		AggregationMethod      string            `json:"aggregationMethod"`
		RatingScaleMax         float64           `json:"ratingScaleMax"`
		Sections               []reviews.Section `json:"sections"`
		Windows                []windowPayload   `json:"windows"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return
	}

	v := shared.NewValidator()
	v.Required("name", payload.Name, "name is required")
	windows := parseWindows(payload.Windows, v)
	if v.Reject(w, middleware.GetRequestID(r.Context())) {
		return
	}

	id, err := h.Cycles.Create(r.Context(), user.TenantID, reviews.Cycle{
		Name:                   strings.TrimSpace(payload.Name),
		Type:                   payload.Type,
		IncludeGoals:           payload.IncludeGoals,
		IncludeFeedback:        payload.IncludeFeedback,
		Include360:             payload.Include360,
		RequireAcknowledgment:  payload.RequireAcknowledgment,
		AllowConcurrentWindows: payload.AllowConcurrentWindows,
		AggregationMethod:      payload.AggregationMethod,
		RatingScaleMax:         payload.RatingScaleMax,
		Sections:               payload.Sections,
	}, windows, user.UserID)
	if err != nil {
		api.FromError(w, err, middleware.GetRequestID(r.Context()))
		return
	}
	api.Created(w, map[string]string{"id": id}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleGetCycle(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}

	cycle, err := h.Cycles.Get(r.Context(), user.TenantID, chi.URLParam(r, "cycleID"))
	if err != nil {
		api.FromError(w, err, middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, cycle, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleAddWindow(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}

	var payload windowPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return
	}

	v := shared.NewValidator()
	v.Required("phase", payload.Phase, "phase is required")
	start, _ := v.Date("startsAt", payload.StartsAt)
	end, _ := v.Date("endsAt", payload.EndsAt)
	v.DateOrder("startsAt", start, "endsAt", end)
	if v.Reject(w, middleware.GetRequestID(r.Context())) {
		return
	}

	window := reviews.PhaseWindow{Phase: payload.Phase, StartsAt: start, EndsAt: end}
	if err := h.Cycles.AddWindow(r.Context(), user.TenantID, chi.URLParam(r, "cycleID"), window, user.UserID); err != nil {
		api.FromError(w, err, middleware.GetRequestID(r.Context()))
		return
	}
	api.Created(w, window, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleLaunchCycle(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}

	if err := h.Cycles.Launch(r.Context(), user.TenantID, chi.URLParam(r, "cycleID"), user.UserID); err != nil {
		api.FromError(w, err, middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, map[string]string{"status": "scheduled"}, middleware.GetRequestID(r.Context()))
}

// handleAdvanceCycle honors an optional Idempotency-Key header so a retried
// advance does not move the cycle two phases.
func (h *Handler) handleAdvanceCycle(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}

	var payload struct {
		Force bool `json:"force"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
			return
		}
	}

	cycleID := chi.URLParam(r, "cycleID")
	endpoint := "cycles/advance/" + cycleID
	key := r.Header.Get("Idempotency-Key")
	requestHash := ""
	if key != "" {
		body, _ := json.Marshal(payload)
		requestHash = middleware.RequestHash(body)
		stored, found, err := h.Idempotency.Check(r.Context(), user.TenantID, user.UserID, endpoint, key, requestHash)
		if errors.Is(err, middleware.ErrIdempotencyConflict) {
			api.Fail(w, http.StatusConflict, "idempotency_conflict", "idempotency key was used with a different payload", middleware.GetRequestID(r.Context()))
			return
		}
		if err != nil {
			api.Fail(w, http.StatusInternalServerError, "idempotency_error", "idempotency check failed", middleware.GetRequestID(r.Context()))
			return
		}
		if found {
			var cycle reviews.Cycle
			if err := json.Unmarshal(stored, &cycle); err == nil {
				api.Success(w, cycle, middleware.GetRequestID(r.Context()))
				return
			}
		}
	}

	cycle, err := h.Cycles.Advance(r.Context(), user.TenantID, cycleID, payload.Force, user.UserID)
	if err != nil {
		api.FromError(w, err, middleware.GetRequestID(r.Context()))
		return
	}

	if key != "" {
		response, _ := json.Marshal(cycle)
		if err := h.Idempotency.Save(r.Context(), user.TenantID, user.UserID, endpoint, key, requestHash, response); err != nil {
			slog.Warn("idempotency save failed", "cycleId", cycleID, "err", err)
		}
	}
	api.Success(w, cycle, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleCancelCycle(w http.ResponseWriter, r *http.Request) {
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

	if err := h.Cycles.Cancel(r.Context(), user.TenantID, chi.URLParam(r, "cycleID"), payload.Reason, user.UserID); err != nil {
		api.FromError(w, err, middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, map[string]string{"status": "cancelled"}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleListReviews(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}

	query := r.URL.Query()
	revieweeID := query.Get("revieweeId")
	reviewerID := query.Get("reviewerId")
	if user.RoleName == auth.RoleEmployee && revieweeID == "" && reviewerID == "" {
		reviewerID = user.EmployeeID
	}

	list, err := h.Service.List(r.Context(), user.TenantID, query.Get("cycleId"), revieweeID, reviewerID)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "review_list_failed", "failed to list reviews", middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, list, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleAssign(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}

	var payload struct {
		CycleID    string `json:"cycleId"`
		RevieweeID string `json:"revieweeId"`
		ReviewerID string `json:"reviewerId"`
		Type       string `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return
	}

	v := shared.NewValidator()
	v.Required("cycleId", payload.CycleID, "cycle id is required")
	v.Required("revieweeId", payload.RevieweeID, "reviewee id is required")
	v.Required("reviewerId", payload.ReviewerID, "reviewer id is required")
	v.Required("type", payload.Type, "review type is required")
	if v.Reject(w, middleware.GetRequestID(r.Context())) {
		return
	}

	id, err := h.Service.Assign(r.Context(), user.TenantID, payload.CycleID, payload.RevieweeID, payload.ReviewerID, payload.Type, user.UserID)
	if err != nil {
		api.FromError(w, err, middleware.GetRequestID(r.Context()))
		return
	}
	api.Created(w, map[string]string{"id": id}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleGetReview(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}

	review, goalLinks, evidenceLinks, err := h.Service.Get(r.Context(), user.TenantID, chi.URLParam(r, "reviewID"))
	if err != nil {
		api.FromError(w, err, middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, map[string]any{
		"review":   review,
		"goals":    goalLinks,
		"evidence": evidenceLinks,
	}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}

	if err := h.Service.Start(r.Context(), user.TenantID, chi.URLParam(r, "reviewID"), user.UserID); err != nil {
		api.FromError(w, err, middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, map[string]string{"status": reviews.StatusInProgress}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleSaveDraft(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}

	var payload struct {
		Content map[string]string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return
	}

	if err := h.Service.SaveDraft(r.Context(), user.TenantID, chi.URLParam(r, "reviewID"), payload.Content); err != nil {
		api.FromError(w, err, middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, map[string]string{"status": "saved"}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}

	var payload struct {
		Rating  *float64 `json:"rating"`
		Summary string   `json:"summary"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
			return
		}
	}

	review, err := h.Service.Submit(r.Context(), user.TenantID, chi.URLParam(r, "reviewID"), payload.Rating, payload.Summary, user.UserID)
	if err != nil {
		api.FromError(w, err, middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, review, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}

	if err := h.Service.Acknowledge(r.Context(), user.TenantID, chi.URLParam(r, "reviewID"), user.EmployeeID); err != nil {
		api.FromError(w, err, middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, map[string]string{"status": reviews.StatusAcknowledged}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleWaive(w http.ResponseWriter, r *http.Request) {
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

	if err := h.Service.Waive(r.Context(), user.TenantID, chi.URLParam(r, "reviewID"), payload.Reason, user.UserID); err != nil {
		api.FromError(w, err, middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, map[string]string{"status": reviews.StatusWaived}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleLinkGoal(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}

	var payload reviews.GoalLink
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.GoalID == "" {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "goalId is required", middleware.GetRequestID(r.Context()))
		return
	}

	if err := h.Service.LinkGoal(r.Context(), user.TenantID, chi.URLParam(r, "reviewID"), payload); err != nil {
		api.FromError(w, err, middleware.GetRequestID(r.Context()))
		return
	}
	api.Created(w, payload, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleLinkEvidence(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}

	var payload reviews.EvidenceLink
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.EvidenceID == "" {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "evidenceId is required", middleware.GetRequestID(r.Context()))
		return
	}

	if err := h.Service.LinkEvidence(r.Context(), user.TenantID, chi.URLParam(r, "reviewID"), payload); err != nil {
		api.FromError(w, err, middleware.GetRequestID(r.Context()))
		return
	}
	api.Created(w, payload, middleware.GetRequestID(r.Context()))
}
