package reviews

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"pms/internal/platform/querier"
)

const reviewColumns = `id, cycle_id, reviewee_id, reviewer_id, type, status, overall_rating, calibrated_rating,
       COALESCE(aggregation_method,''), COALESCE(summary,''), content_json, submitted_at, acknowledged_at, created_at`

func scanReview(row pgx.Row) (Review, error) {
	var r Review
	var contentJSON []byte
	if err := row.Scan(&r.ID, &r.CycleID, &r.RevieweeID, &r.ReviewerID, &r.Type, &r.Status, &r.OverallRating, &r.CalibratedRating,
		&r.AggregationMethod, &r.Summary, &contentJSON, &r.SubmittedAt, &r.AcknowledgedAt, &r.CreatedAt); err != nil {
		return Review{}, err
	}
	if len(contentJSON) > 0 {
		if err := json.Unmarshal(contentJSON, &r.Content); err != nil {
			r.Content = nil
		}
	}
	return r, nil
}

func (s *Store) InsertReview(ctx context.Context, q querier.Querier, tenantID, cycleID, revieweeID, reviewerID, reviewType string) (string, error) {
	var id string
	err := q.QueryRow(ctx, `
    INSERT INTO reviews (tenant_id, cycle_id, reviewee_id, reviewer_id, type, status)
    VALUES ($1,$2,$3,$4,$5,$6)
    ON CONFLICT (cycle_id, reviewee_id, reviewer_id, type) DO UPDATE SET tenant_id = EXCLUDED.tenant_id
    RETURNING id
  `, tenantID, cycleID, revieweeID, reviewerID, reviewType, StatusNotStarted).Scan(&id)
	return id, err
}

// CreateSelfReviews seeds one self review per active employee when the
// cycle enters self assessment.
func (s *Store) CreateSelfReviews(ctx context.Context, q querier.Querier, tenantID, cycleID string) (int64, error) {
	tag, err := q.Exec(ctx, `
    INSERT INTO reviews (tenant_id, cycle_id, reviewee_id, reviewer_id, type, status)
    SELECT $1, $2, e.id, e.id, 'self', 'not_started'
    FROM employees e
    WHERE e.tenant_id = $1 AND e.status = 'active'
    ON CONFLICT (cycle_id, reviewee_id, reviewer_id, type) DO NOTHING
  `, tenantID, cycleID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CreateManagerReviews seeds one manager review per active employee with a
// manager when the cycle enters manager review.
func (s *Store) CreateManagerReviews(ctx context.Context, q querier.Querier, tenantID, cycleID string) (int64, error) {
	tag, err := q.Exec(ctx, `
    INSERT INTO reviews (tenant_id, cycle_id, reviewee_id, reviewer_id, type, status)
    SELECT $1, $2, e.id, e.manager_id, 'manager', 'not_started'
    FROM employees e
    WHERE e.tenant_id = $1 AND e.status = 'active' AND e.manager_id IS NOT NULL
    ON CONFLICT (cycle_id, reviewee_id, reviewer_id, type) DO NOTHING
  `, tenantID, cycleID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// PendingReviewerUserIDs resolves the user accounts behind reviewers with
// a not-yet-started review of the given type, for assignment notifications.
func (s *Store) PendingReviewerUserIDs(ctx context.Context, tenantID, cycleID, reviewType string) ([]string, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT DISTINCT e.user_id
    FROM reviews r
    JOIN employees e ON e.id = r.reviewer_id AND e.tenant_id = r.tenant_id
    WHERE r.tenant_id = $1 AND r.cycle_id = $2 AND r.type = $3 AND r.status = 'not_started'
      AND e.user_id IS NOT NULL
  `, tenantID, cycleID, reviewType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var userIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		userIDs = append(userIDs, id)
	}
	return userIDs, nil
}

func (s *Store) GetReview(ctx context.Context, q querier.Querier, tenantID, reviewID string, forUpdate bool) (Review, error) {
	query := "SELECT " + reviewColumns + " FROM reviews WHERE tenant_id = $1 AND id = $2"
	if forUpdate {
		query += " FOR UPDATE"
	}
	return scanReview(q.QueryRow(ctx, query, tenantID, reviewID))
}

func (s *Store) ListReviews(ctx context.Context, tenantID, cycleID, revieweeID, reviewerID string) ([]Review, error) {
	query := "SELECT " + reviewColumns + " FROM reviews WHERE tenant_id = $1"
	args := []any{tenantID}
	if cycleID != "" {
		args = append(args, cycleID)
		query += " AND cycle_id = $2"
	}
	if revieweeID != "" {
		args = append(args, revieweeID)
		query += fmt.Sprintf(" AND reviewee_id = $%d", len(args))
	}
	if reviewerID != "" {
		args = append(args, reviewerID)
		query += fmt.Sprintf(" AND reviewer_id = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Review
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// UpdateReviewStatus performs the optimistic status write.
func (s *Store) UpdateReviewStatus(ctx context.Context, q querier.Querier, tenantID, reviewID, expected, next string) (bool, error) {
	tag, err := q.Exec(ctx, `
    UPDATE reviews SET status = $1, updated_at = now()
    WHERE tenant_id = $2 AND id = $3 AND status = $4
  `, next, tenantID, reviewID, expected)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) UpdateReviewContent(ctx context.Context, q querier.Querier, tenantID, reviewID string, content map[string]string) (bool, error) {
	contentJSON, err := json.Marshal(content)
	if err != nil {
		return false, err
	}
	tag, err := q.Exec(ctx, `
    UPDATE reviews SET content_json = $1, updated_at = now()
    WHERE tenant_id = $2 AND id = $3 AND status = $4
  `, contentJSON, tenantID, reviewID, StatusInProgress)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) SubmitReview(ctx context.Context, q querier.Querier, tenantID, reviewID string, rating float64, method, summary string) (bool, error) {
	tag, err := q.Exec(ctx, `
    UPDATE reviews
    SET status = $1, overall_rating = $2, aggregation_method = $3, summary = $4, submitted_at = now(), updated_at = now()
    WHERE tenant_id = $5 AND id = $6 AND status = $7
  `, StatusSubmitted, rating, method, summary, tenantID, reviewID, StatusInProgress)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) AcknowledgeReview(ctx context.Context, q querier.Querier, tenantID, reviewID string) (bool, error) {
	tag, err := q.Exec(ctx, `
    UPDATE reviews SET status = $1, acknowledged_at = now(), updated_at = now()
    WHERE tenant_id = $2 AND id = $3 AND status = $4
  `, StatusAcknowledged, tenantID, reviewID, StatusFinalized)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// FinalizeCycleReviews locks all submitted and calibrated reviews when the
// cycle enters finalization.
func (s *Store) FinalizeCycleReviews(ctx context.Context, q querier.Querier, tenantID, cycleID string) (int64, error) {
	tag, err := q.Exec(ctx, `
    UPDATE reviews SET status = $1, updated_at = now()
    WHERE tenant_id = $2 AND cycle_id = $3 AND status IN ('submitted','calibrated')
  `, StatusFinalized, tenantID, cycleID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CancelOpenReviews cascades a cycle cancellation to every review that has
// not reached a final or terminal status.
func (s *Store) CancelOpenReviews(ctx context.Context, q querier.Querier, tenantID, cycleID string) (int64, error) {
	tag, err := q.Exec(ctx, `
    UPDATE reviews SET status = $1, updated_at = now()
    WHERE tenant_id = $2 AND cycle_id = $3 AND status IN ('not_started','in_progress','submitted','calibrated')
  `, StatusCancelled, tenantID, cycleID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) UpsertGoalLink(ctx context.Context, tenantID, reviewID string, link GoalLink) error {
	_, err := s.DB.Exec(ctx, `
    INSERT INTO review_goals (tenant_id, review_id, goal_id, achievement_pct, weight)
    VALUES ($1,$2,$3,$4,$5)
    ON CONFLICT (review_id, goal_id) DO UPDATE SET achievement_pct = EXCLUDED.achievement_pct, weight = EXCLUDED.weight
  `, tenantID, reviewID, link.GoalID, link.AchievementPct, link.Weight)
	return err
}

func (s *Store) ListGoalLinks(ctx context.Context, q querier.Querier, tenantID, reviewID string) ([]GoalLink, error) {
	rows, err := q.Query(ctx, `
    SELECT goal_id, achievement_pct, weight
    FROM review_goals
    WHERE tenant_id = $1 AND review_id = $2
  `, tenantID, reviewID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []GoalLink
	for rows.Next() {
		var link GoalLink
		if err := rows.Scan(&link.GoalID, &link.AchievementPct, &link.Weight); err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	return links, nil
}

func (s *Store) UpsertEvidenceLink(ctx context.Context, tenantID, reviewID string, link EvidenceLink) error {
	_, err := s.DB.Exec(ctx, `
    INSERT INTO review_evidence (tenant_id, review_id, evidence_id, weight, relevance)
    VALUES ($1,$2,$3,$4,$5)
    ON CONFLICT (review_id, evidence_id) DO UPDATE SET weight = EXCLUDED.weight, relevance = EXCLUDED.relevance
  `, tenantID, reviewID, link.EvidenceID, link.Weight, link.Relevance)
	return err
}

func (s *Store) ListEvidenceLinks(ctx context.Context, tenantID, reviewID string) ([]EvidenceLink, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT evidence_id, weight, COALESCE(relevance,'')
    FROM review_evidence
    WHERE tenant_id = $1 AND review_id = $2
  `, tenantID, reviewID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []EvidenceLink
	for rows.Next() {
		var link EvidenceLink
		if err := rows.Scan(&link.EvidenceID, &link.Weight, &link.Relevance); err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	return links, nil
}
