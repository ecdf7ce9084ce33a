package calibration

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"

	"pms/internal/domain/apperrors"
	"pms/internal/domain/audit"
	"pms/internal/platform/querier"
	"pms/internal/requestctx"
)

type Service struct {
	store *Store
	audit *audit.Service
	cfg   Config
}

func NewService(store *Store, auditSvc *audit.Service, cfg Config) *Service {
	return &Service{store: store, audit: auditSvc, cfg: cfg}
}

// Ratings may only move while the owning cycle sits in its calibration
// phase.
const phaseCalibration = "calibration"

// EnsureSession opens (or returns) the cycle's active calibration session,
// recording whoever advanced the cycle as its facilitator. Called by the
// cycle service inside its phase-entry transaction.
func (s *Service) EnsureSession(ctx context.Context, q querier.Querier, tenantID, cycleID, facilitatorID string) (string, error) {
	return s.store.EnsureSession(ctx, q, tenantID, cycleID, facilitatorID)
}

// SetScope narrows an active session to a department and/or level. The
// statistics and completion checks then only consider reviewees in scope.
func (s *Service) SetScope(ctx context.Context, tenantID, sessionID, department, level, actorID string) error {
	tx, err := s.store.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	sess, err := s.lockActiveSession(ctx, tx, tenantID, sessionID)
	if err != nil {
		return err
	}
	if _, err := s.store.SetScope(ctx, tx, tenantID, sessionID, strings.TrimSpace(department), strings.TrimSpace(level)); err != nil {
		return err
	}

	fact := s.fact(ctx, "calibration.scope_set", sessionID, actorID, map[string]any{
		"cycleId": sess.CycleID, "department": department, "level": level,
	})
	if err := s.audit.Record(ctx, tx, tenantID, fact); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Service) Get(ctx context.Context, tenantID, sessionID string) (Session, error) {
	sess, err := s.store.GetSession(ctx, s.store.DB, tenantID, sessionID, false)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, &apperrors.NotFoundError{EntityType: "calibration session", EntityID: sessionID}
	}
	return sess, err
}

func (s *Service) List(ctx context.Context, tenantID, cycleID string) ([]Session, error) {
	return s.store.ListSessions(ctx, tenantID, cycleID)
}

func (s *Service) Adjustments(ctx context.Context, tenantID, sessionID string) ([]Adjustment, error) {
	if _, err := s.Get(ctx, tenantID, sessionID); err != nil {
		return nil, err
	}
	return s.store.ListAdjustments(ctx, s.store.DB, tenantID, sessionID)
}

// Statistics recomputes the calibration report from the current ratings.
// Nothing is cached; a report always reflects the adjustments made so far.
func (s *Service) Statistics(ctx context.Context, tenantID, sessionID string) (Report, error) {
	if _, err := s.Get(ctx, tenantID, sessionID); err != nil {
		return Report{}, err
	}
	samples, err := s.store.Samples(ctx, s.store.DB, tenantID, sessionID)
	if err != nil {
		return Report{}, err
	}
	return Analyze(samples, s.cfg), nil
}

// AdjustRating appends a calibration decision and moves the review's rating.
// previous must be the effective rating the facilitator saw; if another
// adjustment landed first the write fails with a conflict instead of
// silently overwriting it.
func (s *Service) AdjustRating(ctx context.Context, tenantID, sessionID, reviewID string, previous, next float64, rationale, actorID string) error {
	if strings.TrimSpace(rationale) == "" {
		return &apperrors.ValidationError{Field: "rationale", Reason: "a rationale is required for every adjustment"}
	}

	tx, err := s.store.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	sess, err := s.lockActiveSession(ctx, tx, tenantID, sessionID)
	if err != nil {
		return err
	}
	if err := s.requireCalibrationPhase(ctx, tx, tenantID, sess); err != nil {
		return err
	}

	scaleMax, err := s.store.RatingScaleMax(ctx, tx, tenantID, sessionID)
	if err != nil {
		return err
	}
	if next < 0 || next > scaleMax {
		return &apperrors.ValidationError{Field: "newRating", Reason: "rating is outside the cycle's scale"}
	}

	current, err := s.store.EffectiveRating(ctx, tx, tenantID, sessionID, reviewID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &apperrors.ValidationError{Field: "reviewId", Reason: "review is not a submitted review in this session's cycle"}
		}
		return err
	}
	if current != previous {
		return &apperrors.ConcurrentModificationError{EntityType: "review", EntityID: reviewID, Expected: "the rating that was read"}
	}

	applied, err := s.store.ApplyRating(ctx, tx, tenantID, sess.CycleID, reviewID, previous, next)
	if err != nil {
		return err
	}
	if !applied {
		return &apperrors.ConcurrentModificationError{EntityType: "review", EntityID: reviewID, Expected: "a submitted or calibrated review at the rating that was read"}
	}

	adj := Adjustment{SessionID: sessionID, ReviewID: reviewID, Resolution: ResolutionAdjusted, PreviousRating: previous, NewRating: next, Rationale: rationale, ActorID: actorID}
	if _, err := s.store.InsertAdjustment(ctx, tx, tenantID, adj); err != nil {
		return err
	}

	fact := s.fact(ctx, "calibration.rating_adjusted", sessionID, actorID, map[string]any{
		"reviewId": reviewID, "cycleId": sess.CycleID, "previousRating": previous, "newRating": next, "rationale": rationale,
	})
	if err := s.audit.Record(ctx, tx, tenantID, fact); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// AcceptRating records an explicit decision to leave an outlier's rating as
// it stands, which counts as resolving it for session completion. The rating
// recorded is the one currently on the review, not whatever the caller saw;
// expected, when set, must still match it.
func (s *Service) AcceptRating(ctx context.Context, tenantID, sessionID, reviewID string, expected *float64, rationale, actorID string) error {
	if strings.TrimSpace(rationale) == "" {
		return &apperrors.ValidationError{Field: "rationale", Reason: "a rationale is required to accept an outlier"}
	}

	tx, err := s.store.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	sess, err := s.lockActiveSession(ctx, tx, tenantID, sessionID)
	if err != nil {
		return err
	}
	if err := s.requireCalibrationPhase(ctx, tx, tenantID, sess); err != nil {
		return err
	}

	rating, err := s.store.EffectiveRating(ctx, tx, tenantID, sessionID, reviewID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &apperrors.ValidationError{Field: "reviewId", Reason: "review is not a submitted review in this session's cycle"}
		}
		return err
	}
	if expected != nil && *expected != rating {
		return &apperrors.ConcurrentModificationError{EntityType: "review", EntityID: reviewID, Expected: "the rating that was read"}
	}

	adj := Adjustment{SessionID: sessionID, ReviewID: reviewID, Resolution: ResolutionAccepted, PreviousRating: rating, NewRating: rating, Rationale: rationale, ActorID: actorID}
	if _, err := s.store.InsertAdjustment(ctx, tx, tenantID, adj); err != nil {
		return err
	}

	fact := s.fact(ctx, "calibration.rating_accepted", sessionID, actorID, map[string]any{
		"reviewId": reviewID, "cycleId": sess.CycleID, "rating": rating, "rationale": rationale,
	})
	if err := s.audit.Record(ctx, tx, tenantID, fact); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Complete closes the session. Every flagged outlier must first be adjusted
// or explicitly accepted; completion re-runs the analysis so outliers
// created by the adjustments themselves are caught too.
func (s *Service) Complete(ctx context.Context, tenantID, sessionID, actorID string) error {
	tx, err := s.store.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	sess, err := s.lockActiveSession(ctx, tx, tenantID, sessionID)
	if err != nil {
		return err
	}

	samples, err := s.store.Samples(ctx, tx, tenantID, sessionID)
	if err != nil {
		return err
	}
	report := Analyze(samples, s.cfg)

	resolved, err := s.store.ResolvedReviewIDs(ctx, tx, tenantID, sessionID)
	if err != nil {
		return err
	}
	var unresolved []string
	for _, outlier := range report.Outliers {
		if !resolved[outlier.ReviewID] {
			unresolved = append(unresolved, outlier.ReviewID)
		}
	}
	if len(unresolved) > 0 {
		return &apperrors.UnresolvedOutlierError{SessionID: sessionID, ReviewIDs: unresolved}
	}

	ok, err := s.store.CompleteSession(ctx, tx, tenantID, sessionID)
	if err != nil {
		return err
	}
	if !ok {
		return &apperrors.ConcurrentModificationError{EntityType: "calibration session", EntityID: sessionID, Expected: SessionActive}
	}

	fact := s.fact(ctx, "calibration.session_completed", sessionID, actorID, map[string]any{
		"cycleId": sess.CycleID, "samples": report.SampleCount, "outliers": len(report.Outliers),
	})
	if err := s.audit.Record(ctx, tx, tenantID, fact); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Service) requireCalibrationPhase(ctx context.Context, tx pgx.Tx, tenantID string, sess Session) error {
	phase, err := s.store.CyclePhase(ctx, tx, tenantID, sess.ID)
	if err != nil {
		return err
	}
	if phase != phaseCalibration {
		return &apperrors.StateMismatchError{EntityType: "cycle", EntityID: sess.CycleID, Current: phase, Required: phaseCalibration}
	}
	return nil
}

func (s *Service) lockActiveSession(ctx context.Context, tx pgx.Tx, tenantID, sessionID string) (Session, error) {
	sess, err := s.store.GetSession(ctx, tx, tenantID, sessionID, true)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, &apperrors.NotFoundError{EntityType: "calibration session", EntityID: sessionID}
		}
		return Session{}, err
	}
	if sess.Status != SessionActive {
		return Session{}, &apperrors.StateMismatchError{EntityType: "calibration session", EntityID: sessionID, Current: sess.Status, Required: SessionActive}
	}
	return sess, nil
}

func (s *Service) fact(ctx context.Context, action, sessionID, actorID string, details any) audit.Fact {
	return audit.Fact{
		Action:     action,
		EntityType: "calibration_session",
		EntityID:   sessionID,
		ActorID:    actorID,
		RequestID:  requestctx.GetRequestID(ctx),
		IP:         requestctx.GetClientIP(ctx),
		Details:    details,
	}
}
