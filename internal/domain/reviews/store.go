package reviews

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"

	"pms/internal/platform/querier"
)

type Store struct {
	DB *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{DB: db}
}

func (s *Store) InsertCycle(ctx context.Context, q querier.Querier, tenantID string, c Cycle) (string, error) {
	sectionsJSON, err := json.Marshal(c.Sections)
	if err != nil {
		return "", err
	}
	var id string
	err = q.QueryRow(ctx, `
    INSERT INTO review_cycles (tenant_id, name, type, phase, include_goals, include_feedback, include_360,
                               require_acknowledgment, allow_concurrent_windows, aggregation_method, rating_scale_max, sections_json)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
    RETURNING id
  `, tenantID, c.Name, c.Type, PhaseDraft, c.IncludeGoals, c.IncludeFeedback, c.Include360,
		c.RequireAcknowledgment, c.AllowConcurrentWindows, c.AggregationMethod, c.RatingScaleMax, sectionsJSON).Scan(&id)
	return id, err
}

func (s *Store) InsertWindow(ctx context.Context, q querier.Querier, tenantID, cycleID string, w PhaseWindow) error {
	_, err := q.Exec(ctx, `
    INSERT INTO review_cycle_windows (tenant_id, cycle_id, phase, starts_at, ends_at)
    VALUES ($1,$2,$3,$4,$5)
  `, tenantID, cycleID, w.Phase, w.StartsAt, w.EndsAt)
	return err
}

func (s *Store) GetCycle(ctx context.Context, q querier.Querier, tenantID, cycleID string, forUpdate bool) (Cycle, error) {
	query := `
    SELECT id, name, type, phase, include_goals, include_feedback, include_360,
           require_acknowledgment, allow_concurrent_windows, aggregation_method, rating_scale_max,
           sections_json, COALESCE(cancel_reason,''), created_at
    FROM review_cycles
    WHERE tenant_id = $1 AND id = $2`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var c Cycle
	var sectionsJSON []byte
	if err := q.QueryRow(ctx, query, tenantID, cycleID).Scan(
		&c.ID, &c.Name, &c.Type, &c.Phase, &c.IncludeGoals, &c.IncludeFeedback, &c.Include360,
		&c.RequireAcknowledgment, &c.AllowConcurrentWindows, &c.AggregationMethod, &c.RatingScaleMax,
		&sectionsJSON, &c.CancelReason, &c.CreatedAt); err != nil {
		return Cycle{}, err
	}
	if err := json.Unmarshal(sectionsJSON, &c.Sections); err != nil {
		c.Sections = nil
	}
	return c, nil
}

func (s *Store) ListCycles(ctx context.Context, tenantID string) ([]Cycle, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT id, name, type, phase, include_goals, include_feedback, include_360,
           require_acknowledgment, allow_concurrent_windows, aggregation_method, rating_scale_max,
           sections_json, COALESCE(cancel_reason,''), created_at
    FROM review_cycles
    WHERE tenant_id = $1
    ORDER BY created_at DESC
  `, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cycles []Cycle
	for rows.Next() {
		var c Cycle
		var sectionsJSON []byte
		if err := rows.Scan(&c.ID, &c.Name, &c.Type, &c.Phase, &c.IncludeGoals, &c.IncludeFeedback, &c.Include360,
			&c.RequireAcknowledgment, &c.AllowConcurrentWindows, &c.AggregationMethod, &c.RatingScaleMax,
			&sectionsJSON, &c.CancelReason, &c.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(sectionsJSON, &c.Sections); err != nil {
			c.Sections = nil
		}
		cycles = append(cycles, c)
	}
	return cycles, nil
}

func (s *Store) ListWindows(ctx context.Context, q querier.Querier, tenantID, cycleID string) ([]PhaseWindow, error) {
	rows, err := q.Query(ctx, `
    SELECT phase, starts_at, ends_at
    FROM review_cycle_windows
    WHERE tenant_id = $1 AND cycle_id = $2
    ORDER BY starts_at
  `, tenantID, cycleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var windows []PhaseWindow
	for rows.Next() {
		var w PhaseWindow
		if err := rows.Scan(&w.Phase, &w.StartsAt, &w.EndsAt); err != nil {
			return nil, err
		}
		windows = append(windows, w)
	}
	return windows, nil
}

// UpdateCyclePhase performs the optimistic phase write; false means the
// cycle was no longer in the expected phase.
func (s *Store) UpdateCyclePhase(ctx context.Context, q querier.Querier, tenantID, cycleID, expected, next, cancelReason string) (bool, error) {
	tag, err := q.Exec(ctx, `
    UPDATE review_cycles
    SET phase = $1, cancel_reason = COALESCE(NULLIF($2,''), cancel_reason), updated_at = now()
    WHERE tenant_id = $3 AND id = $4 AND phase = $5
  `, next, cancelReason, tenantID, cycleID, expected)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// GateCounts gathers the review/session tallies the advancement gate needs,
// inside the caller's transaction for a consistent read.
func (s *Store) GateCounts(ctx context.Context, q querier.Querier, tenantID, cycleID string) (GateInput, error) {
	var in GateInput
	err := q.QueryRow(ctx, `
    SELECT
      COUNT(1) FILTER (WHERE type = 'self' AND status IN ('not_started','in_progress')),
      COUNT(1) FILTER (WHERE type IN ('self','manager') AND status IN ('not_started','in_progress')),
      COUNT(1) FILTER (WHERE status NOT IN ('finalized','acknowledged','waived','cancelled')),
      COUNT(1) FILTER (WHERE status = 'finalized')
    FROM reviews
    WHERE tenant_id = $1 AND cycle_id = $2
  `, tenantID, cycleID).Scan(&in.OpenSelfReviews, &in.OpenMandatoryReviews, &in.UnfinalizedReviews, &in.UnacknowledgedReviews)
	if err != nil {
		return GateInput{}, err
	}

	if err := q.QueryRow(ctx, `
    SELECT COUNT(1)
    FROM calibration_sessions
    WHERE tenant_id = $1 AND cycle_id = $2 AND status = 'active'
  `, tenantID, cycleID).Scan(&in.OpenSessions); err != nil {
		return GateInput{}, err
	}

	return in, nil
}
