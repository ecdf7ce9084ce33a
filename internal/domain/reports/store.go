package reports

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"pms/internal/platform/querier"
)

type Store struct {
	DB querier.Querier
}

func NewStore(db querier.Querier) *Store {
	return &Store{DB: db}
}

func (s *Store) EmployeeIDByUserID(ctx context.Context, tenantID, userID string) (string, error) {
	var employeeID string
	err := s.DB.QueryRow(ctx, "SELECT id FROM employees WHERE tenant_id = $1 AND user_id = $2", tenantID, userID).Scan(&employeeID)
	if err != nil {
		return "", err
	}
	return employeeID, nil
}

func (s *Store) GoalCount(ctx context.Context, tenantID, employeeID string) (int, error) {
	var count int
	err := s.DB.QueryRow(ctx, "SELECT COUNT(1) FROM goals WHERE tenant_id = $1 AND employee_id = $2 AND deleted_at IS NULL", tenantID, employeeID).Scan(&count)
	return count, err
}

// OpenReviewTasks counts reviews waiting on the employee as reviewer.
func (s *Store) OpenReviewTasks(ctx context.Context, tenantID, employeeID string) (int, error) {
	var count int
	err := s.DB.QueryRow(ctx, `
    SELECT COUNT(1) FROM reviews
    WHERE tenant_id = $1 AND reviewer_id = $2 AND status IN ('not_started','in_progress')
  `, tenantID, employeeID).Scan(&count)
	return count, err
}

// SharedReviews counts finalized reviews awaiting the employee's
// acknowledgment.
func (s *Store) SharedReviews(ctx context.Context, tenantID, employeeID string) (int, error) {
	var count int
	err := s.DB.QueryRow(ctx, `
    SELECT COUNT(1)
    FROM reviews r
    JOIN review_cycles rc ON rc.id = r.cycle_id AND rc.tenant_id = r.tenant_id
    WHERE r.tenant_id = $1 AND r.reviewee_id = $2 AND r.status = 'finalized' AND rc.phase = 'sharing'
  `, tenantID, employeeID).Scan(&count)
	return count, err
}

func (s *Store) TeamOpenReviews(ctx context.Context, tenantID, managerEmployeeID string) (int, error) {
	var count int
	err := s.DB.QueryRow(ctx, `
    SELECT COUNT(1)
    FROM reviews r
    JOIN employees e ON e.id = r.reviewee_id AND e.tenant_id = r.tenant_id
    WHERE r.tenant_id = $1 AND e.manager_id = $2 AND r.status IN ('not_started','in_progress','submitted')
  `, tenantID, managerEmployeeID).Scan(&count)
	return count, err
}

func (s *Store) ActiveCycles(ctx context.Context, tenantID string) (int, error) {
	var count int
	err := s.DB.QueryRow(ctx, `
    SELECT COUNT(1) FROM review_cycles
    WHERE tenant_id = $1 AND phase NOT IN ('draft','completed','cancelled')
  `, tenantID).Scan(&count)
	return count, err
}

func (s *Store) ActiveSessions(ctx context.Context, tenantID string) (int, error) {
	var count int
	err := s.DB.QueryRow(ctx, "SELECT COUNT(1) FROM calibration_sessions WHERE tenant_id = $1 AND status = 'active'", tenantID).Scan(&count)
	return count, err
}

func (s *Store) PendingDecisions(ctx context.Context, tenantID string) (int, error) {
	var count int
	err := s.DB.QueryRow(ctx, "SELECT COUNT(1) FROM decisions WHERE tenant_id = $1 AND status = 'pending_approval'", tenantID).Scan(&count)
	return count, err
}

func (s *Store) PendingEvidence(ctx context.Context, tenantID string) (int, error) {
	var count int
	err := s.DB.QueryRow(ctx, "SELECT COUNT(1) FROM evidence WHERE tenant_id = $1 AND status = 'pending'", tenantID).Scan(&count)
	return count, err
}

// SessionHeader carries the names a session report prints.
type SessionHeader struct {
	SessionID   string
	CycleID     string
	CycleName   string
	Status      string
	CreatedAt   time.Time
	CompletedAt *time.Time
}

func (s *Store) SessionHeader(ctx context.Context, tenantID, sessionID string) (SessionHeader, error) {
	var h SessionHeader
	err := s.DB.QueryRow(ctx, `
    SELECT cs.id, cs.cycle_id, rc.name, cs.status, cs.created_at, cs.completed_at
    FROM calibration_sessions cs
    JOIN review_cycles rc ON rc.id = cs.cycle_id AND rc.tenant_id = cs.tenant_id
    WHERE cs.tenant_id = $1 AND cs.id = $2
  `, tenantID, sessionID).Scan(&h.SessionID, &h.CycleID, &h.CycleName, &h.Status, &h.CreatedAt, &h.CompletedAt)
	return h, err
}

func (s *Store) ListJobRuns(ctx context.Context, tenantID, jobType string, limit, offset int) ([]map[string]any, error) {
	query := `SELECT id, job_type, status, details_json, started_at, completed_at FROM job_runs WHERE tenant_id = $1`
	args := []any{tenantID}
	if jobType != "" {
		args = append(args, jobType)
		query += " AND job_type = $" + strconv.Itoa(len(args))
	}
	query += " ORDER BY started_at DESC LIMIT $" + strconv.Itoa(len(args)+1) + " OFFSET $" + strconv.Itoa(len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []map[string]any
	for rows.Next() {
		var id, jobType, status string
		var detailJSON []byte
		var startedAt time.Time
		var completedAt *time.Time
		if err := rows.Scan(&id, &jobType, &status, &detailJSON, &startedAt, &completedAt); err != nil {
			return nil, err
		}
		run := map[string]any{
			"id": id, "jobType": jobType, "status": status,
			"startedAt": startedAt, "completedAt": completedAt,
		}
		if len(detailJSON) > 0 {
			var detail map[string]any
			if err := json.Unmarshal(detailJSON, &detail); err == nil {
				run["detail"] = detail
			}
		}
		runs = append(runs, run)
	}
	return runs, nil
}
