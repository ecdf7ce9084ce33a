package goals

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"pms/internal/domain/apperrors"
)

type Service struct {
	store *Store
}

func NewService(store *Store) *Service {
	return &Service{store: store}
}

// Create inserts the goal and, when it starts with nonzero progress, writes
// the first progress row so the projected value always has a matching
// history entry.
func (s *Service) Create(ctx context.Context, tenantID string, g Goal, actorID string) (string, error) {
	if strings.TrimSpace(g.Title) == "" {
		return "", &apperrors.ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if !ValidTypes[g.Type] {
		return "", &apperrors.ValidationError{Field: "type", Reason: fmt.Sprintf("unknown goal type %q", g.Type)}
	}
	if g.Progress < 0 || g.Progress > 100 {
		return "", &apperrors.ValidationError{Field: "progress", Reason: "must be between 0 and 100"}
	}
	if g.ParentID != "" {
		parent, err := s.store.GetGoal(ctx, s.store.DB, tenantID, g.ParentID, false)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return "", &apperrors.NotFoundError{EntityType: "goal", EntityID: g.ParentID}
			}
			return "", err
		}
		if parent.DeletedAt != nil {
			return "", &apperrors.NotFoundError{EntityType: "goal", EntityID: g.ParentID}
		}
	}
	tx, err := s.store.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	id, err := s.store.CreateGoal(ctx, tx, tenantID, g)
	if err != nil {
		return "", err
	}
	if g.Progress > 0 {
		if err := s.store.InsertProgressUpdate(ctx, tx, tenantID, id, g.Progress, "initial progress", actorID); err != nil {
			return "", err
		}
	}
	return id, tx.Commit(ctx)
}

func (s *Service) Get(ctx context.Context, tenantID, goalID string) (Goal, error) {
	g, err := s.store.GetGoal(ctx, s.store.DB, tenantID, goalID, false)
	if errors.Is(err, pgx.ErrNoRows) {
		return Goal{}, &apperrors.NotFoundError{EntityType: "goal", EntityID: goalID}
	}
	return g, err
}

func (s *Service) List(ctx context.Context, tenantID, ownerID string) ([]Goal, error) {
	return s.store.ListGoals(ctx, tenantID, ownerID)
}

func (s *Service) History(ctx context.Context, tenantID, goalID string) ([]ProgressUpdate, error) {
	return s.store.ListProgressUpdates(ctx, tenantID, goalID)
}

// RecordProgress appends an immutable progress row and refreshes the goal's
// projected progress. For an OKR key result the parent objective is rolled up
// in the same transaction.
func (s *Service) RecordProgress(ctx context.Context, tenantID, goalID string, newProgress float64, note, actorID string) (Goal, error) {
	if newProgress < 0 || newProgress > 100 {
		return Goal{}, &apperrors.ValidationError{Field: "progress", Reason: "must be between 0 and 100"}
	}

	tx, err := s.store.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Goal{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	goal, err := s.store.GetGoal(ctx, tx, tenantID, goalID, true)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Goal{}, &apperrors.NotFoundError{EntityType: "goal", EntityID: goalID}
		}
		return Goal{}, err
	}
	if goal.DeletedAt != nil {
		return Goal{}, &apperrors.NotFoundError{EntityType: "goal", EntityID: goalID}
	}

	if err := s.store.InsertProgressUpdate(ctx, tx, tenantID, goalID, newProgress, note, actorID); err != nil {
		return Goal{}, err
	}
	if err := s.store.UpdateGoalProgress(ctx, tx, tenantID, goalID, newProgress); err != nil {
		return Goal{}, err
	}
	goal.Progress = newProgress

	if goal.Type == TypeOKRKeyResult && goal.ParentID != "" {
		keyResults, err := s.store.KeyResultProgress(ctx, tx, tenantID, goal.ParentID)
		if err != nil {
			return Goal{}, err
		}
		if err := s.store.UpdateGoalProgress(ctx, tx, tenantID, goal.ParentID, RollupProgress(keyResults)); err != nil {
			return Goal{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Goal{}, err
	}
	return goal, nil
}

// Align adds an alignment edge after checking it keeps the goal graph acyclic.
func (s *Service) Align(ctx context.Context, tenantID, fromGoalID, toGoalID string) error {
	for _, id := range []string{fromGoalID, toGoalID} {
		goal, err := s.store.GetGoal(ctx, s.store.DB, tenantID, id, false)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return &apperrors.NotFoundError{EntityType: "goal", EntityID: id}
			}
			return err
		}
		if goal.DeletedAt != nil {
			return &apperrors.NotFoundError{EntityType: "goal", EntityID: id}
		}
	}

	edges, err := s.store.UpwardEdges(ctx, tenantID)
	if err != nil {
		return err
	}
	if WouldCreateCycle(edges, fromGoalID, toGoalID) {
		return &apperrors.ValidationError{Field: "alignment", Reason: fmt.Sprintf("aligning %s to %s would create a cycle", fromGoalID, toGoalID)}
	}

	return s.store.InsertAlignment(ctx, tenantID, fromGoalID, toGoalID)
}

// Delete soft-deletes a goal. A goal already cited by a review stays; the
// review's goal links must keep resolving.
func (s *Service) Delete(ctx context.Context, tenantID, goalID string) error {
	referenced, err := s.store.ReferencedByReview(ctx, tenantID, goalID)
	if err != nil {
		return err
	}
	if referenced {
		return &apperrors.ValidationError{Field: "goalId", Reason: "goal is referenced by a review and cannot be deleted"}
	}
	if err := s.store.SoftDeleteGoal(ctx, tenantID, goalID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &apperrors.NotFoundError{EntityType: "goal", EntityID: goalID}
		}
		return err
	}
	return nil
}

// SnapshotForReview is the read-only surface the review workflow consumes.
func (s *Service) SnapshotForReview(ctx context.Context, tenantID, ownerID string, asOf time.Time) (Snapshot, error) {
	snapshotGoals, err := s.store.SnapshotGoals(ctx, tenantID, ownerID, asOf)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{OwnerID: ownerID, AsOf: asOf, Goals: snapshotGoals}, nil
}
