package evidence

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"pms/internal/domain/apperrors"
)

type Service struct {
	store *Store
}

func NewService(store *Store) *Service {
	return &Service{store: store}
}

func (s *Service) Create(ctx context.Context, tenantID string, e Evidence) (string, error) {
	if strings.TrimSpace(e.Title) == "" {
		return "", &apperrors.ValidationError{Field: "title", Reason: "must not be empty"}
	}
	for name, score := range map[string]int{"impact": e.Impact, "effort": e.Effort, "quality": e.Quality, "complexity": e.Complexity} {
		if score < 1 || score > 5 {
			return "", &apperrors.ValidationError{Field: name, Reason: "must be between 1 and 5"}
		}
	}
	return s.store.Create(ctx, tenantID, e)
}

func (s *Service) Get(ctx context.Context, tenantID, evidenceID string) (Evidence, error) {
	e, err := s.store.Get(ctx, tenantID, evidenceID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Evidence{}, &apperrors.NotFoundError{EntityType: "evidence", EntityID: evidenceID}
	}
	return e, err
}

func (s *Service) List(ctx context.Context, tenantID, employeeID string) ([]Evidence, error) {
	return s.store.List(ctx, tenantID, employeeID)
}

func (s *Service) Verify(ctx context.Context, tenantID, evidenceID, verifierID string) error {
	return s.transition(ctx, tenantID, evidenceID, StatusPending, StatusVerified, verifierID)
}

func (s *Service) Reject(ctx context.Context, tenantID, evidenceID, verifierID string) error {
	return s.transition(ctx, tenantID, evidenceID, StatusPending, StatusRejected, verifierID)
}

func (s *Service) Archive(ctx context.Context, tenantID, evidenceID string) error {
	current, err := s.Get(ctx, tenantID, evidenceID)
	if err != nil {
		return err
	}
	if current.Status == StatusArchived {
		return nil
	}
	return s.transition(ctx, tenantID, evidenceID, current.Status, StatusArchived, "")
}

// Delete refuses to remove evidence cited by a finalized review or an
// approved decision; such records can only be archived.
func (s *Service) Delete(ctx context.Context, tenantID, evidenceID string) error {
	referenced, err := s.store.ReferencedByImmutable(ctx, tenantID, evidenceID)
	if err != nil {
		return err
	}
	if referenced {
		return &apperrors.ValidationError{Field: "evidence", Reason: fmt.Sprintf("evidence %s is referenced by a finalized review or approved decision; archive it instead", evidenceID)}
	}
	deleted, err := s.store.Delete(ctx, tenantID, evidenceID)
	if err != nil {
		return err
	}
	if !deleted {
		return &apperrors.NotFoundError{EntityType: "evidence", EntityID: evidenceID}
	}
	return nil
}

func (s *Service) transition(ctx context.Context, tenantID, evidenceID, expected, next, verifierID string) error {
	updated, err := s.store.UpdateStatus(ctx, tenantID, evidenceID, expected, next, verifierID)
	if err != nil {
		return err
	}
	if updated {
		return nil
	}

	current, err := s.Get(ctx, tenantID, evidenceID)
	if err != nil {
		return err
	}
	return &apperrors.StateMismatchError{EntityType: "evidence", EntityID: evidenceID, Current: current.Status, Required: expected}
}
