package reviews

import (
	"errors"
	"testing"
	"time"

	"pms/internal/domain/apperrors"
)

func day(d int) time.Time {
	return time.Date(2026, time.March, d, 0, 0, 0, 0, time.UTC)
}

func TestNextPhaseOrder(t *testing.T) {
	got, ok := NextPhase(PhaseSelfAssessment)
	if !ok || got != PhaseManagerReview {
		t.Fatalf("NextPhase(self_assessment) = %q, %v", got, ok)
	}
	if _, ok := NextPhase(PhaseCompleted); ok {
		t.Fatal("completed must have no next phase")
	}
	if _, ok := NextPhase(PhaseCancelled); ok {
		t.Fatal("cancelled must have no next phase")
	}
}

func TestValidateWindowsRejectsEmpty(t *testing.T) {
	var cfgErr *apperrors.ConfigurationError
	if err := ValidateWindows(nil); !errors.As(err, &cfgErr) {
		t.Fatalf("got %v, want ConfigurationError", err)
	}
}

func TestValidateWindowsRejectsInvertedWindow(t *testing.T) {
	err := ValidateWindows([]PhaseWindow{
		{Phase: PhaseSelfAssessment, StartsAt: day(10), EndsAt: day(5)},
	})
	var cfgErr *apperrors.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("got %v, want ConfigurationError", err)
	}
}

func TestValidateWindowsRejectsDuplicatePhase(t *testing.T) {
	err := ValidateWindows([]PhaseWindow{
		{Phase: PhaseSelfAssessment, StartsAt: day(1), EndsAt: day(5)},
		{Phase: PhaseSelfAssessment, StartsAt: day(6), EndsAt: day(9)},
	})
	var cfgErr *apperrors.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("got %v, want ConfigurationError", err)
	}
}

func TestValidateWindowsRejectsOverlap(t *testing.T) {
	err := ValidateWindows([]PhaseWindow{
		{Phase: PhaseSelfAssessment, StartsAt: day(1), EndsAt: day(10)},
		{Phase: PhaseManagerReview, StartsAt: day(8), EndsAt: day(15)},
	})
	var cfgErr *apperrors.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("got %v, want ConfigurationError", err)
	}
}

func TestValidateWindowsRejectsDraftWindow(t *testing.T) {
	err := ValidateWindows([]PhaseWindow{
		{Phase: PhaseDraft, StartsAt: day(1), EndsAt: day(2)},
	})
	var cfgErr *apperrors.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("got %v, want ConfigurationError", err)
	}
}

func TestValidateWindowsAcceptsOrderedGaps(t *testing.T) {
	err := ValidateWindows([]PhaseWindow{
		{Phase: PhaseSelfAssessment, StartsAt: day(1), EndsAt: day(7)},
		{Phase: PhaseManagerReview, StartsAt: day(7), EndsAt: day(14)},
		{Phase: PhaseCalibration, StartsAt: day(20), EndsAt: day(25)},
	})
	if err != nil {
		t.Fatalf("valid windows rejected: %v", err)
	}
}

// Advancing into a phase before its window opens fails; the same advance
// succeeds once the clock passes the window start, with no intervening
// configuration change.
func TestAdvanceGateWindowStart(t *testing.T) {
	windows := []PhaseWindow{
		{Phase: PhaseSelfAssessment, StartsAt: day(10), EndsAt: day(20)},
	}

	early := GateInput{Now: day(5), Windows: windows}
	err := AdvanceGate("c1", PhaseScheduled, PhaseSelfAssessment, early)
	var gateErr *apperrors.PhaseGateError
	if !errors.As(err, &gateErr) {
		t.Fatalf("got %v, want PhaseGateError before the window opens", err)
	}
	if gateErr.Next != PhaseSelfAssessment {
		t.Fatalf("gate names next phase %q, want %q", gateErr.Next, PhaseSelfAssessment)
	}

	late := GateInput{Now: day(10), Windows: windows}
	if err := AdvanceGate("c1", PhaseScheduled, PhaseSelfAssessment, late); err != nil {
		t.Fatalf("advance after window start failed: %v", err)
	}
}

func TestAdvanceGateSelfAssessmentCompletion(t *testing.T) {
	in := GateInput{Now: day(21), OpenSelfReviews: 3}
	err := AdvanceGate("c1", PhaseSelfAssessment, PhaseManagerReview, in)
	var gateErr *apperrors.PhaseGateError
	if !errors.As(err, &gateErr) {
		t.Fatalf("got %v, want PhaseGateError with open self reviews", err)
	}

	in.OpenSelfReviews = 0
	if err := AdvanceGate("c1", PhaseSelfAssessment, PhaseManagerReview, in); err != nil {
		t.Fatalf("advance with all self reviews closed failed: %v", err)
	}
}

func TestAdvanceGateCalibrationSessions(t *testing.T) {
	in := GateInput{Now: day(1), OpenSessions: 1}
	var gateErr *apperrors.PhaseGateError
	if err := AdvanceGate("c1", PhaseCalibration, PhaseFinalization, in); !errors.As(err, &gateErr) {
		t.Fatalf("got %v, want PhaseGateError with an active session", err)
	}

	in.OpenSessions = 0
	if err := AdvanceGate("c1", PhaseCalibration, PhaseFinalization, in); err != nil {
		t.Fatalf("advance with sessions completed failed: %v", err)
	}
}

func TestAdvanceGateAcknowledgment(t *testing.T) {
	in := GateInput{Now: day(1), UnacknowledgedReviews: 2, RequireAcknowledgment: true}
	var gateErr *apperrors.PhaseGateError
	if err := AdvanceGate("c1", PhaseSharing, PhaseCompleted, in); !errors.As(err, &gateErr) {
		t.Fatalf("got %v, want PhaseGateError with unacknowledged reviews", err)
	}

	in.RequireAcknowledgment = false
	if err := AdvanceGate("c1", PhaseSharing, PhaseCompleted, in); err != nil {
		t.Fatalf("cycle without acknowledgment requirement failed to complete: %v", err)
	}
}

func TestStartEligible(t *testing.T) {
	if !StartEligible(TypeSelf, PhaseSelfAssessment, false) {
		t.Fatal("self review must start in self assessment")
	}
	if StartEligible(TypeSelf, PhaseManagerReview, false) {
		t.Fatal("self review must not start in manager review without concurrency")
	}
	if !StartEligible(TypeSelf, PhaseManagerReview, true) {
		t.Fatal("concurrent windows must let self reviews run into manager review")
	}
	if !StartEligible(TypePeer, PhaseManagerReview, false) {
		t.Fatal("peer review must start in manager review")
	}
	if StartEligible(TypeManager, PhaseCalibration, true) {
		t.Fatal("no review type starts during calibration")
	}
}
