package goals

import (
	"context"
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

const goalColumns = `id, owner_id, COALESCE(parent_id::text,''), title, type, status, progress, priority, weight, due_date, created_at, deleted_at`

func scanGoal(row pgx.Row) (Goal, error) {
	var g Goal
	err := row.Scan(&g.ID, &g.OwnerID, &g.ParentID, &g.Title, &g.Type, &g.Status, &g.Progress, &g.Priority, &g.Weight, &g.DueDate, &g.CreatedAt, &g.DeletedAt)
	return g, err
}

func (s *Store) CreateGoal(ctx context.Context, q querier.Querier, tenantID string, g Goal) (string, error) {
	var id string
	err := q.QueryRow(ctx, `
    INSERT INTO goals (tenant_id, owner_id, parent_id, title, type, status, progress, priority, weight, due_date)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
    RETURNING id
  `, tenantID, g.OwnerID, nullIfEmpty(g.ParentID), g.Title, g.Type, StatusActive, g.Progress, g.Priority, g.Weight, g.DueDate).Scan(&id)
	return id, err
}

func (s *Store) GetGoal(ctx context.Context, q querier.Querier, tenantID, goalID string, forUpdate bool) (Goal, error) {
	query := "SELECT " + goalColumns + " FROM goals WHERE tenant_id = $1 AND id = $2"
	if forUpdate {
		query += " FOR UPDATE"
	}
	return scanGoal(q.QueryRow(ctx, query, tenantID, goalID))
}

func (s *Store) ListGoals(ctx context.Context, tenantID, ownerID string) ([]Goal, error) {
	query := "SELECT " + goalColumns + " FROM goals WHERE tenant_id = $1 AND deleted_at IS NULL"
	args := []any{tenantID}
	if ownerID != "" {
		query += " AND owner_id = $2"
		args = append(args, ownerID)
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

func (s *Store) InsertProgressUpdate(ctx context.Context, q querier.Querier, tenantID, goalID string, progress float64, note, actorID string) error {
	_, err := q.Exec(ctx, `
    INSERT INTO goal_progress_updates (tenant_id, goal_id, progress, note, actor_id)
    VALUES ($1,$2,$3,$4,$5)
  `, tenantID, goalID, progress, note, actorID)
	return err
}

func (s *Store) UpdateGoalProgress(ctx context.Context, q querier.Querier, tenantID, goalID string, progress float64) error {
	_, err := q.Exec(ctx, "UPDATE goals SET progress = $1, updated_at = now() WHERE tenant_id = $2 AND id = $3", progress, tenantID, goalID)
	return err
}

func (s *Store) KeyResultProgress(ctx context.Context, q querier.Querier, tenantID, parentID string) ([]float64, error) {
	rows, err := q.Query(ctx, `
    SELECT progress FROM goals
    WHERE tenant_id = $1 AND parent_id = $2 AND type = $3 AND deleted_at IS NULL
  `, tenantID, parentID, TypeOKRKeyResult)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var p float64
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) ListProgressUpdates(ctx context.Context, tenantID, goalID string) ([]ProgressUpdate, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT id, goal_id, progress, COALESCE(note,''), actor_id, created_at
    FROM goal_progress_updates
    WHERE tenant_id = $1 AND goal_id = $2
    ORDER BY created_at ASC
  `, tenantID, goalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ProgressUpdate
	for rows.Next() {
		var u ProgressUpdate
		if err := rows.Scan(&u.ID, &u.GoalID, &u.Progress, &u.Note, &u.ActorID, &u.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

// UpwardEdges returns the combined parent/alignment adjacency for a tenant,
// keyed by child goal id.
func (s *Store) UpwardEdges(ctx context.Context, tenantID string) (map[string][]string, error) {
	edges := map[string][]string{}

	rows, err := s.DB.Query(ctx, "SELECT id, parent_id::text FROM goals WHERE tenant_id = $1 AND parent_id IS NOT NULL AND deleted_at IS NULL", tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var child, parent string
		if err := rows.Scan(&child, &parent); err != nil {
			return nil, err
		}
		edges[child] = append(edges[child], parent)
	}

	alignRows, err := s.DB.Query(ctx, "SELECT from_goal_id, to_goal_id FROM goal_alignments WHERE tenant_id = $1", tenantID)
	if err != nil {
		return nil, err
	}
	defer alignRows.Close()
	for alignRows.Next() {
		var from, to string
		if err := alignRows.Scan(&from, &to); err != nil {
			return nil, err
		}
		edges[from] = append(edges[from], to)
	}

	return edges, nil
}

func (s *Store) InsertAlignment(ctx context.Context, tenantID, fromGoalID, toGoalID string) error {
	_, err := s.DB.Exec(ctx, `
    INSERT INTO goal_alignments (tenant_id, from_goal_id, to_goal_id)
    VALUES ($1,$2,$3)
    ON CONFLICT DO NOTHING
  `, tenantID, fromGoalID, toGoalID)
	return err
}

func (s *Store) SoftDeleteGoal(ctx context.Context, tenantID, goalID string) error {
	tag, err := s.DB.Exec(ctx, "UPDATE goals SET deleted_at = now() WHERE tenant_id = $1 AND id = $2 AND deleted_at IS NULL", tenantID, goalID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// SnapshotGoals replays the progress log up to asOf for each of the owner's
// goals that existed at that time.
func (s *Store) SnapshotGoals(ctx context.Context, tenantID, ownerID string, asOf time.Time) ([]SnapshotGoal, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT g.id, g.title, g.type, g.weight,
           COALESCE((
             SELECT u.progress
             FROM goal_progress_updates u
             WHERE u.goal_id = g.id AND u.created_at <= $3
             ORDER BY u.created_at DESC
             LIMIT 1
           ), 0)
    FROM goals g
    WHERE g.tenant_id = $1 AND g.owner_id = $2 AND g.created_at <= $3
      AND (g.deleted_at IS NULL OR g.deleted_at > $3)
    ORDER BY g.created_at
  `, tenantID, ownerID, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SnapshotGoal
	for rows.Next() {
		var g SnapshotGoal
		if err := rows.Scan(&g.GoalID, &g.Title, &g.Type, &g.Weight, &g.Progress); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

func (s *Store) ReferencedByReview(ctx context.Context, tenantID, goalID string) (bool, error) {
	var count int
	if err := s.DB.QueryRow(ctx, `
    SELECT COUNT(1)
    FROM review_goals rg
    JOIN reviews r ON rg.review_id = r.id
    WHERE r.tenant_id = $1 AND rg.goal_id = $2
  `, tenantID, goalID).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}
