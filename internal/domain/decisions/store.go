package decisions

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pms/internal/platform/querier"
)

type Store struct {
	DB *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{DB: db}
}

const decisionColumns = `id, type, employee_id, COALESCE(cycle_id::text,''), COALESCE(review_id::text,''), status,
       title, rationale, performance_rating, amount_cipher, COALESCE(currency,''), COALESCE(from_level,''), COALESCE(to_level,''),
       effective_date, COALESCE(external_ref,''), COALESCE(reject_reason,''), proposer_id, COALESCE(approver_id::text,''), implemented_at, created_at`

type row struct {
	Decision
	amountCipher []byte
}

func scanDecision(r pgx.Row) (row, error) {
	var d row
	if err := r.Scan(&d.ID, &d.Type, &d.EmployeeID, &d.CycleID, &d.ReviewID, &d.Status,
		&d.Title, &d.Rationale, &d.PerformanceRating, &d.amountCipher, &d.Currency, &d.FromLevel, &d.ToLevel,
		&d.EffectiveDate, &d.ExternalRef, &d.RejectReason, &d.ProposerID, &d.ApproverID, &d.ImplementedAt, &d.CreatedAt); err != nil {
		return row{}, err
	}
	return d, nil
}

func (s *Store) Insert(ctx context.Context, q querier.Querier, tenantID string, d Decision, amountCipher []byte) (string, error) {
	var id string
	err := q.QueryRow(ctx, `
    INSERT INTO decisions (tenant_id, type, employee_id, cycle_id, review_id, status, title, rationale,
                           performance_rating, amount_cipher, currency, from_level, to_level, effective_date, proposer_id)
    VALUES ($1,$2,$3,NULLIF($4,'')::uuid,NULLIF($5,'')::uuid,$6,$7,$8,$9,$10,NULLIF($11,''),NULLIF($12,''),NULLIF($13,''),$14,$15)
    RETURNING id
  `, tenantID, d.Type, d.EmployeeID, d.CycleID, d.ReviewID, StatusDraft, d.Title, d.Rationale,
		d.PerformanceRating, amountCipher, d.Currency, d.FromLevel, d.ToLevel, d.EffectiveDate, d.ProposerID).Scan(&id)
	return id, err
}

func (s *Store) Get(ctx context.Context, q querier.Querier, tenantID, decisionID string, forUpdate bool) (Decision, []byte, error) {
	query := "SELECT " + decisionColumns + " FROM decisions WHERE tenant_id = $1 AND id = $2"
	if forUpdate {
		query += " FOR UPDATE"
	}
	d, err := scanDecision(q.QueryRow(ctx, query, tenantID, decisionID))
	if err != nil {
		return Decision{}, nil, err
	}
	return d.Decision, d.amountCipher, nil
}

func (s *Store) List(ctx context.Context, tenantID, employeeID, decisionType string) ([]Decision, [][]byte, error) {
	query := "SELECT " + decisionColumns + " FROM decisions WHERE tenant_id = $1"
	args := []any{tenantID}
	if employeeID != "" {
		args = append(args, employeeID)
		query += fmt.Sprintf(" AND employee_id = $%d", len(args))
	}
	if decisionType != "" {
		args = append(args, decisionType)
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var out []Decision
	var ciphers [][]byte
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, d.Decision)
		ciphers = append(ciphers, d.amountCipher)
	}
	return out, ciphers, nil
}

// UpdateStatus performs the optimistic transition write; extra stamps are
// set per target status.
func (s *Store) UpdateStatus(ctx context.Context, q querier.Querier, tenantID, decisionID, expected, next, rejectReason, approverID string) (bool, error) {
	var query string
	args := []any{tenantID, decisionID, expected}
	switch next {
	case StatusApproved:
		query = `UPDATE decisions SET status = 'approved', approver_id = $4, updated_at = now()
             WHERE tenant_id = $1 AND id = $2 AND status = $3`
		args = append(args, approverID)
	case StatusRejected:
		query = `UPDATE decisions SET status = 'rejected', reject_reason = $4, approver_id = $5, updated_at = now()
             WHERE tenant_id = $1 AND id = $2 AND status = $3`
		args = append(args, rejectReason, approverID)
	case StatusImplemented:
		query = `UPDATE decisions SET status = 'implemented', implemented_at = now(), updated_at = now()
             WHERE tenant_id = $1 AND id = $2 AND status = $3`
	default:
		query = `UPDATE decisions SET status = $4, updated_at = now()
             WHERE tenant_id = $1 AND id = $2 AND status = $3`
		args = append(args, next)
	}

	res, err := q.Exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

// UpdateImplementation stamps the effective date and the external system
// reference the implementation was filed under.
func (s *Store) UpdateImplementation(ctx context.Context, q querier.Querier, tenantID, decisionID string, effective time.Time, externalRef string) error {
	_, err := q.Exec(ctx, `
    UPDATE decisions SET effective_date = $1, external_ref = $2, updated_at = now()
    WHERE tenant_id = $3 AND id = $4
  `, effective, externalRef, tenantID, decisionID)
	return err
}

func (s *Store) LinkEvidence(ctx context.Context, q querier.Querier, tenantID, decisionID string, ref EvidenceRef) error {
	_, err := q.Exec(ctx, `
    INSERT INTO decision_evidence (tenant_id, decision_id, evidence_id, weight, relevance, note)
    VALUES ($1,$2,$3,$4,NULLIF($5,''),NULLIF($6,''))
    ON CONFLICT (decision_id, evidence_id)
    DO UPDATE SET weight = EXCLUDED.weight, relevance = EXCLUDED.relevance, note = EXCLUDED.note
  `, tenantID, decisionID, ref.EvidenceID, ref.Weight, ref.Relevance, ref.Note)
	return err
}

func (s *Store) ListEvidence(ctx context.Context, q querier.Querier, tenantID, decisionID string) ([]EvidenceRef, error) {
	rows, err := q.Query(ctx, `
    SELECT evidence_id, weight, COALESCE(relevance,''), COALESCE(note,''), created_at
    FROM decision_evidence
    WHERE tenant_id = $1 AND decision_id = $2
    ORDER BY created_at
  `, tenantID, decisionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []EvidenceRef
	for rows.Next() {
		var ref EvidenceRef
		if err := rows.Scan(&ref.EvidenceID, &ref.Weight, &ref.Relevance, &ref.Note, &ref.LinkedAt); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func (s *Store) EvidenceCount(ctx context.Context, q querier.Querier, tenantID, decisionID string) (int, error) {
	var count int
	err := q.QueryRow(ctx, `
    SELECT COUNT(1) FROM decision_evidence WHERE tenant_id = $1 AND decision_id = $2
  `, tenantID, decisionID).Scan(&count)
	return count, err
}
