package goals

import (
	"context"
	"errors"
	"testing"

	"pms/internal/domain/apperrors"
)

// Progress bounds are checked before any storage access, so these run
// against a service with no database behind it.

func TestRecordProgressRejectsOutOfRange(t *testing.T) {
	svc := NewService(NewStore(nil))
	for _, progress := range []float64{-1, 100.01} {
		_, err := svc.RecordProgress(context.Background(), "t1", "g1", progress, "", "u1")
		var verr *apperrors.ValidationError
		if !errors.As(err, &verr) || verr.Field != "progress" {
			t.Errorf("progress %v: got %v, want a validation error on progress", progress, err)
		}
	}
}

func TestCreateRejectsOutOfRangeProgress(t *testing.T) {
	svc := NewService(NewStore(nil))
	for _, progress := range []float64{-1, 100.01} {
		g := Goal{OwnerID: "e1", Title: "Ship the thing", Type: TypeIndividual, Progress: progress}
		_, err := svc.Create(context.Background(), "t1", g, "u1")
		var verr *apperrors.ValidationError
		if !errors.As(err, &verr) || verr.Field != "progress" {
			t.Errorf("progress %v: got %v, want a validation error on progress", progress, err)
		}
	}
}
