package evidence

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	DB *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{DB: db}
}

const evidenceColumns = `id, employee_id, title, COALESCE(description,''), impact, effort, quality, complexity, status, COALESCE(verified_by::text,''), verified_at, created_at, archived_at`

func scanEvidence(row pgx.Row) (Evidence, error) {
	var e Evidence
	err := row.Scan(&e.ID, &e.EmployeeID, &e.Title, &e.Description, &e.Impact, &e.Effort, &e.Quality, &e.Complexity, &e.Status, &e.VerifiedBy, &e.VerifiedAt, &e.CreatedAt, &e.ArchivedAt)
	return e, err
}

func (s *Store) Create(ctx context.Context, tenantID string, e Evidence) (string, error) {
	var id string
	err := s.DB.QueryRow(ctx, `
    INSERT INTO evidence (tenant_id, employee_id, title, description, impact, effort, quality, complexity, status)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
    RETURNING id
  `, tenantID, e.EmployeeID, e.Title, e.Description, e.Impact, e.Effort, e.Quality, e.Complexity, StatusPending).Scan(&id)
	return id, err
}

func (s *Store) Get(ctx context.Context, tenantID, evidenceID string) (Evidence, error) {
	return scanEvidence(s.DB.QueryRow(ctx, "SELECT "+evidenceColumns+" FROM evidence WHERE tenant_id = $1 AND id = $2", tenantID, evidenceID))
}

func (s *Store) List(ctx context.Context, tenantID, employeeID string) ([]Evidence, error) {
	query := "SELECT " + evidenceColumns + " FROM evidence WHERE tenant_id = $1"
	args := []any{tenantID}
	if employeeID != "" {
		query += " AND employee_id = $2"
		args = append(args, employeeID)
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Evidence
	for rows.Next() {
		e, err := scanEvidence(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// UpdateStatus applies an optimistic status change: zero rows affected means
// the evidence was not in the expected status anymore.
func (s *Store) UpdateStatus(ctx context.Context, tenantID, evidenceID, expected, next, verifierID string) (bool, error) {
	var query string
	args := []any{tenantID, evidenceID, expected}
	switch next {
	case StatusVerified:
		query = "UPDATE evidence SET status = 'verified', verified_by = $4, verified_at = now() WHERE tenant_id = $1 AND id = $2 AND status = $3"
		args = append(args, verifierID)
	case StatusArchived:
		query = "UPDATE evidence SET status = 'archived', archived_at = now() WHERE tenant_id = $1 AND id = $2 AND status = $3"
	default:
		query = "UPDATE evidence SET status = $4 WHERE tenant_id = $1 AND id = $2 AND status = $3"
		args = append(args, next)
	}

	tag, err := s.DB.Exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ReferencedByImmutable reports whether the evidence backs a finalized review
// or an approved/implemented decision, in which case it can only be archived.
func (s *Store) ReferencedByImmutable(ctx context.Context, tenantID, evidenceID string) (bool, error) {
	var count int
	if err := s.DB.QueryRow(ctx, `
    SELECT
      (SELECT COUNT(1)
       FROM review_evidence re
       JOIN reviews r ON re.review_id = r.id
       WHERE r.tenant_id = $1 AND re.evidence_id = $2 AND r.status IN ('finalized','acknowledged'))
      +
      (SELECT COUNT(1)
       FROM decision_evidence de
       JOIN decisions d ON de.decision_id = d.id
       WHERE d.tenant_id = $1 AND de.evidence_id = $2 AND d.status IN ('approved','implemented'))
  `, tenantID, evidenceID).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Store) Delete(ctx context.Context, tenantID, evidenceID string) (bool, error) {
	tag, err := s.DB.Exec(ctx, "DELETE FROM evidence WHERE tenant_id = $1 AND id = $2", tenantID, evidenceID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
