package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5"

	"pms/internal/domain/apperrors"
)

// FromError maps a domain error to an HTTP response. State and gate
// conflicts all become 409 with distinct codes so clients can branch
// without parsing messages.
func FromError(w http.ResponseWriter, err error, requestID string) {
	var (
		validation  *apperrors.ValidationError
		notFound    *apperrors.NotFoundError
		config      *apperrors.ConfigurationError
		phase       *apperrors.PhaseMismatchError
		state       *apperrors.StateMismatchError
		gate        *apperrors.PhaseGateError
		incomplete  *apperrors.IncompleteReviewError
		unresolved  *apperrors.UnresolvedOutlierError
		notVerified *apperrors.EvidenceNotVerifiedError
		concurrent  *apperrors.ConcurrentModificationError
	)
	switch {
	case errors.As(err, &validation):
		Fail(w, http.StatusBadRequest, "validation_error", validation.Error(), requestID)
	case errors.As(err, &config):
		Fail(w, http.StatusBadRequest, "configuration_error", config.Error(), requestID)
	case errors.As(err, &notFound):
		Fail(w, http.StatusNotFound, "not_found", notFound.Error(), requestID)
	case errors.Is(err, pgx.ErrNoRows):
		Fail(w, http.StatusNotFound, "not_found", "resource not found", requestID)
	case errors.As(err, &phase):
		Fail(w, http.StatusConflict, "phase_mismatch", phase.Error(), requestID)
	case errors.As(err, &state):
		Fail(w, http.StatusConflict, "state_mismatch", state.Error(), requestID)
	case errors.As(err, &gate):
		FailWithDetails(w, http.StatusConflict, "phase_gate_blocked", gate.Error(), map[string]any{
			"phase":     gate.Phase,
			"next":      gate.Next,
			"condition": gate.Condition,
		}, requestID)
	case errors.As(err, &unresolved):
		FailWithDetails(w, http.StatusConflict, "unresolved_outliers", unresolved.Error(), map[string]any{
			"reviewIds": unresolved.ReviewIDs,
		}, requestID)
	case errors.As(err, &concurrent):
		Fail(w, http.StatusConflict, "concurrent_modification", concurrent.Error(), requestID)
	case errors.As(err, &incomplete):
		FailWithDetails(w, http.StatusUnprocessableEntity, "incomplete_review", incomplete.Error(), map[string]any{
			"missingSections": incomplete.Missing,
		}, requestID)
	case errors.As(err, &notVerified):
		Fail(w, http.StatusUnprocessableEntity, "evidence_not_verified", notVerified.Error(), requestID)
	default:
		slog.Error("request failed", "err", err, "requestId", requestID)
		Fail(w, http.StatusInternalServerError, "internal_error", "an unexpected error occurred", requestID)
	}
}
