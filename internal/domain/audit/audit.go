package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"pms/internal/platform/querier"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Fact is one state transition worth recording.
type Fact struct {
	Action        string
	EntityType    string
	EntityID      string
	PreviousState string
	NewState      string
	ActorID       string
	RequestID     string
	IP            string
	Details       any
}

type Event struct {
	ID            string          `json:"id"`
	ActorID       string          `json:"actorId"`
	Action        string          `json:"action"`
	EntityType    string          `json:"entityType"`
	EntityID      string          `json:"entityId"`
	PreviousState string          `json:"previousState"`
	NewState      string          `json:"newState"`
	RequestID     string          `json:"requestId"`
	IP            string          `json:"ip"`
	CreatedAt     any             `json:"createdAt"`
	Details       json.RawMessage `json:"details,omitempty"`
}

type Filter struct {
	Action     string
	EntityType string
	ActorUser  string
}

type Service struct {
	DB *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Service {
	return &Service{DB: db}
}

// Record writes the fact through q, which may be a transaction so the row
// commits atomically with the transition it documents.
func (s *Service) Record(ctx context.Context, q querier.Querier, tenantID string, fact Fact) error {
	var detailsJSON []byte
	if fact.Details != nil {
		payload, err := json.Marshal(fact.Details)
		if err != nil {
			return err
		}
		detailsJSON = payload
	}

	_, err := q.Exec(ctx, `
    INSERT INTO audit_events (tenant_id, actor_user_id, action, entity_type, entity_id, previous_state, new_state, details_json, request_id, ip)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
  `, tenantID, fact.ActorID, fact.Action, fact.EntityType, fact.EntityID, fact.PreviousState, fact.NewState, detailsJSON, fact.RequestID, fact.IP)
	return err
}

// Emit records the fact outside any transaction and never propagates failure;
// a committed transition must not be rolled back because auditing broke.
func (s *Service) Emit(ctx context.Context, tenantID string, fact Fact) {
	if err := s.Record(ctx, s.DB, tenantID, fact); err != nil {
		slog.Error("audit emission failed", "action", fact.Action, "entityType", fact.EntityType, "entityId", fact.EntityID, "err", err)
	}
}

func (s *Service) Count(ctx context.Context, tenantID string, filter Filter) (int, error) {
	query, args := buildBaseQuery("SELECT COUNT(1)", tenantID, filter)
	var total int
	if err := s.DB.QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Service) List(ctx context.Context, tenantID string, filter Filter, includeDetails bool, limit, offset int) ([]Event, error) {
	selectCols := "id, actor_user_id, action, entity_type, entity_id, previous_state, new_state, request_id, ip, created_at"
	if includeDetails {
		selectCols += ", details_json"
	}
	query, args := buildBaseQuery("SELECT "+selectCols, tenantID, filter)
	limitPos := len(args) + 1
	offsetPos := len(args) + 2
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", limitPos, offsetPos)
	args = append(args, limit, offset)

	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var evt Event
		dest := []any{&evt.ID, &evt.ActorID, &evt.Action, &evt.EntityType, &evt.EntityID, &evt.PreviousState, &evt.NewState, &evt.RequestID, &evt.IP, &evt.CreatedAt}
		if includeDetails {
			dest = append(dest, &evt.Details)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		out = append(out, evt)
	}
	return out, nil
}

func (s *Service) ListExport(ctx context.Context, tenantID string) ([]Event, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT id, actor_user_id, action, entity_type, entity_id, previous_state, new_state, request_id, ip, created_at
    FROM audit_events
    WHERE tenant_id = $1
    ORDER BY created_at DESC
  `, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var evt Event
		if err := rows.Scan(&evt.ID, &evt.ActorID, &evt.Action, &evt.EntityType, &evt.EntityID, &evt.PreviousState, &evt.NewState, &evt.RequestID, &evt.IP, &evt.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, evt)
	}
	return out, nil
}

func buildBaseQuery(selectClause, tenantID string, filter Filter) (string, []any) {
	query := selectClause + " FROM audit_events WHERE tenant_id = $1"
	args := []any{tenantID}
	if filter.Action != "" {
		args = append(args, filter.Action)
		query += fmt.Sprintf(" AND action = $%d", len(args))
	}
	if filter.EntityType != "" {
		args = append(args, filter.EntityType)
		query += fmt.Sprintf(" AND entity_type = $%d", len(args))
	}
	if filter.ActorUser != "" {
		args = append(args, filter.ActorUser)
		query += fmt.Sprintf(" AND actor_user_id = $%d", len(args))
	}
	return query, args
}
