package calibration

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"pms/internal/platform/querier"
)

type Store struct {
	DB *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{DB: db}
}

// EnsureSession returns the cycle's active session, creating one if needed.
// A partial unique index keeps at most one active session per cycle, so the
// insert-then-select pair is race safe.
func (s *Store) EnsureSession(ctx context.Context, q querier.Querier, tenantID, cycleID, facilitatorID string) (string, error) {
	_, err := q.Exec(ctx, `
    INSERT INTO calibration_sessions (tenant_id, cycle_id, facilitator_id, status)
    VALUES ($1, $2, NULLIF($3, '')::uuid, 'active')
    ON CONFLICT (cycle_id) WHERE status = 'active' DO NOTHING
  `, tenantID, cycleID, facilitatorID)
	if err != nil {
		return "", err
	}
	var id string
	err = q.QueryRow(ctx, `
    SELECT id FROM calibration_sessions
    WHERE tenant_id = $1 AND cycle_id = $2 AND status = 'active'
  `, tenantID, cycleID).Scan(&id)
	return id, err
}

func (s *Store) GetSession(ctx context.Context, q querier.Querier, tenantID, sessionID string, forUpdate bool) (Session, error) {
	query := `
    SELECT id, cycle_id, COALESCE(facilitator_id::text, ''), scope_department, scope_level, status, created_at, completed_at
    FROM calibration_sessions
    WHERE tenant_id = $1 AND id = $2`
	if forUpdate {
		query += " FOR UPDATE"
	}
	var sess Session
	err := q.QueryRow(ctx, query, tenantID, sessionID).Scan(&sess.ID, &sess.CycleID, &sess.FacilitatorID, &sess.ScopeDepartment, &sess.ScopeLevel, &sess.Status, &sess.CreatedAt, &sess.CompletedAt)
	return sess, err
}

func (s *Store) ListSessions(ctx context.Context, tenantID, cycleID string) ([]Session, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT id, cycle_id, COALESCE(facilitator_id::text, ''), scope_department, scope_level, status, created_at, completed_at
    FROM calibration_sessions
    WHERE tenant_id = $1 AND cycle_id = $2
    ORDER BY created_at DESC
  `, tenantID, cycleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.CycleID, &sess.FacilitatorID, &sess.ScopeDepartment, &sess.ScopeLevel, &sess.Status, &sess.CreatedAt, &sess.CompletedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

func (s *Store) CompleteSession(ctx context.Context, q querier.Querier, tenantID, sessionID string) (bool, error) {
	tag, err := q.Exec(ctx, `
    UPDATE calibration_sessions
    SET status = 'completed', completed_at = now()
    WHERE tenant_id = $1 AND id = $2 AND status = 'active'
  `, tenantID, sessionID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Samples pulls every effective rating for the session's cycle: submitted
// or calibrated reviews, grouped by the reviewee's department. A session with
// a department or level scope only sees reviewees inside that scope.
func (s *Store) Samples(ctx context.Context, q querier.Querier, tenantID, sessionID string) ([]Sample, error) {
	rows, err := q.Query(ctx, `
    SELECT r.id, r.reviewer_id, COALESCE(e.department, ''), COALESCE(r.calibrated_rating, r.overall_rating)
    FROM calibration_sessions cs
    JOIN reviews r ON r.cycle_id = cs.cycle_id AND r.tenant_id = cs.tenant_id
    JOIN employees e ON e.id = r.reviewee_id AND e.tenant_id = r.tenant_id
    WHERE cs.tenant_id = $1 AND cs.id = $2
      AND r.status IN ('submitted', 'calibrated')
      AND COALESCE(r.calibrated_rating, r.overall_rating) IS NOT NULL
      AND (cs.scope_department = '' OR e.department = cs.scope_department)
      AND (cs.scope_level = '' OR e.level = cs.scope_level)
  `, tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []Sample
	for rows.Next() {
		var sample Sample
		if err := rows.Scan(&sample.ReviewID, &sample.RaterID, &sample.Group, &sample.Rating); err != nil {
			return nil, err
		}
		samples = append(samples, sample)
	}
	return samples, nil
}

func (s *Store) InsertAdjustment(ctx context.Context, q querier.Querier, tenantID string, adj Adjustment) (string, error) {
	var id string
	err := q.QueryRow(ctx, `
    INSERT INTO calibration_adjustments (tenant_id, session_id, review_id, resolution, previous_rating, new_rating, rationale, actor_id)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
    RETURNING id
  `, tenantID, adj.SessionID, adj.ReviewID, adj.Resolution, adj.PreviousRating, adj.NewRating, adj.Rationale, adj.ActorID).Scan(&id)
	return id, err
}

func (s *Store) ListAdjustments(ctx context.Context, q querier.Querier, tenantID, sessionID string) ([]Adjustment, error) {
	rows, err := q.Query(ctx, `
    SELECT id, session_id, review_id, resolution, previous_rating, new_rating, rationale, actor_id, created_at
    FROM calibration_adjustments
    WHERE tenant_id = $1 AND session_id = $2
    ORDER BY created_at
  `, tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var adjustments []Adjustment
	for rows.Next() {
		var adj Adjustment
		if err := rows.Scan(&adj.ID, &adj.SessionID, &adj.ReviewID, &adj.Resolution, &adj.PreviousRating, &adj.NewRating, &adj.Rationale, &adj.ActorID, &adj.CreatedAt); err != nil {
			return nil, err
		}
		adjustments = append(adjustments, adj)
	}
	return adjustments, nil
}

// ResolvedReviewIDs lists reviews the session has already adjusted or
// explicitly accepted.
func (s *Store) ResolvedReviewIDs(ctx context.Context, q querier.Querier, tenantID, sessionID string) (map[string]bool, error) {
	rows, err := q.Query(ctx, `
    SELECT DISTINCT review_id FROM calibration_adjustments
    WHERE tenant_id = $1 AND session_id = $2
  `, tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	resolved := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		resolved[id] = true
	}
	return resolved, nil
}

// EffectiveRating locks and reads the review's effective rating, but only
// when the review belongs to the session's cycle and is in a calibratable
// status. pgx.ErrNoRows means the review is outside the session's reach.
func (s *Store) EffectiveRating(ctx context.Context, q querier.Querier, tenantID, sessionID, reviewID string) (float64, error) {
	var rating float64
	err := q.QueryRow(ctx, `
    SELECT COALESCE(r.calibrated_rating, r.overall_rating)
    FROM calibration_sessions cs
    JOIN reviews r ON r.cycle_id = cs.cycle_id AND r.tenant_id = cs.tenant_id
    WHERE cs.tenant_id = $1 AND cs.id = $2 AND r.id = $3
      AND r.status IN ('submitted', 'calibrated')
      AND COALESCE(r.calibrated_rating, r.overall_rating) IS NOT NULL
    FOR UPDATE OF r
  `, tenantID, sessionID, reviewID).Scan(&rating)
	return rating, err
}

// ApplyRating writes the calibrated rating with an optimistic check on the
// effective rating the caller read, constrained to the owning cycle. A zero
// row count means another facilitator adjusted the review in between.
func (s *Store) ApplyRating(ctx context.Context, q querier.Querier, tenantID, cycleID, reviewID string, previous, next float64) (bool, error) {
	tag, err := q.Exec(ctx, `
    UPDATE reviews
    SET calibrated_rating = $1, status = 'calibrated', updated_at = now()
    WHERE tenant_id = $2 AND cycle_id = $3 AND id = $4
      AND status IN ('submitted', 'calibrated')
      AND COALESCE(calibrated_rating, overall_rating) = $5
  `, next, tenantID, cycleID, reviewID, previous)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// SetScope narrows an active session to a department and level. Empty values
// clear the corresponding dimension.
func (s *Store) SetScope(ctx context.Context, q querier.Querier, tenantID, sessionID, department, level string) (bool, error) {
	tag, err := q.Exec(ctx, `
    UPDATE calibration_sessions
    SET scope_department = $1, scope_level = $2
    WHERE tenant_id = $3 AND id = $4 AND status = 'active'
  `, department, level, tenantID, sessionID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// CyclePhase reads the owning cycle's phase for a session.
func (s *Store) CyclePhase(ctx context.Context, q querier.Querier, tenantID, sessionID string) (string, error) {
	var phase string
	err := q.QueryRow(ctx, `
    SELECT rc.phase
    FROM calibration_sessions cs
    JOIN review_cycles rc ON rc.id = cs.cycle_id AND rc.tenant_id = cs.tenant_id
    WHERE cs.tenant_id = $1 AND cs.id = $2
  `, tenantID, sessionID).Scan(&phase)
	return phase, err
}

// RatingScaleMax reads the owning cycle's scale for validation.
func (s *Store) RatingScaleMax(ctx context.Context, q querier.Querier, tenantID, sessionID string) (float64, error) {
	var max float64
	err := q.QueryRow(ctx, `
    SELECT rc.rating_scale_max
    FROM calibration_sessions cs
    JOIN review_cycles rc ON rc.id = cs.cycle_id AND rc.tenant_id = cs.tenant_id
    WHERE cs.tenant_id = $1 AND cs.id = $2
  `, tenantID, sessionID).Scan(&max)
	return max, err
}
