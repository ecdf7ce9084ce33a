package reviews

import (
	"fmt"
	"time"

	"pms/internal/domain/apperrors"
)

var phaseOrder = []string{
	PhaseDraft,
	PhaseScheduled,
	PhaseSelfAssessment,
	PhaseManagerReview,
	PhaseCalibration,
	PhaseFinalization,
	PhaseSharing,
	PhaseCompleted,
}

var phaseIndex = func() map[string]int {
	m := make(map[string]int, len(phaseOrder))
	for i, p := range phaseOrder {
		m[p] = i
	}
	return m
}()

// NextPhase returns the phase that follows p in the cycle graph. The second
// return is false for terminal or unknown phases.
func NextPhase(p string) (string, bool) {
	idx, ok := phaseIndex[p]
	if !ok || idx == len(phaseOrder)-1 {
		return "", false
	}
	return phaseOrder[idx+1], true
}

func IsTerminalPhase(p string) bool {
	return p == PhaseCompleted || p == PhaseCancelled
}

// ValidateWindows enforces the launch configuration invariant: at least one
// window, every window on a known non-terminal phase with start before end,
// at most one window per phase, and windows non-overlapping in phase order.
func ValidateWindows(windows []PhaseWindow) error {
	if len(windows) == 0 {
		return &apperrors.ConfigurationError{Reason: "at least one phase window is required"}
	}

	seen := map[string]PhaseWindow{}
	for _, w := range windows {
		idx, ok := phaseIndex[w.Phase]
		if !ok || idx == 0 {
			return &apperrors.ConfigurationError{Reason: fmt.Sprintf("phase %q cannot carry a window", w.Phase)}
		}
		if !w.EndsAt.After(w.StartsAt) {
			return &apperrors.ConfigurationError{Reason: fmt.Sprintf("phase %s window must start before it ends", w.Phase)}
		}
		if _, dup := seen[w.Phase]; dup {
			return &apperrors.ConfigurationError{Reason: fmt.Sprintf("phase %s has more than one window", w.Phase)}
		}
		seen[w.Phase] = w
	}

	var prev *PhaseWindow
	for _, p := range phaseOrder {
		w, ok := seen[p]
		if !ok {
			continue
		}
		if prev != nil && w.StartsAt.Before(prev.EndsAt) {
			return &apperrors.ConfigurationError{Reason: fmt.Sprintf("phase %s window overlaps the %s window", w.Phase, prev.Phase)}
		}
		prev = &PhaseWindow{Phase: w.Phase, StartsAt: w.StartsAt, EndsAt: w.EndsAt}
	}

	return nil
}

func windowFor(windows []PhaseWindow, phase string) (PhaseWindow, bool) {
	for _, w := range windows {
		if w.Phase == phase {
			return w, true
		}
	}
	return PhaseWindow{}, false
}

// GateInput is the point-in-time state the advancement gate is evaluated
// against. Counts cover reviews and sessions that still block the gate.
type GateInput struct {
	Now                   time.Time
	Windows               []PhaseWindow
	OpenSelfReviews       int
	OpenMandatoryReviews  int
	OpenSessions          int
	UnfinalizedReviews    int
	UnacknowledgedReviews int
	RequireAcknowledgment bool
}

// AdvanceGate checks whether a cycle in phase current may advance to next.
// It returns a PhaseGateError naming the first unmet condition, or nil.
func AdvanceGate(cycleID, current, next string, in GateInput) error {
	if w, ok := windowFor(in.Windows, next); ok && in.Now.Before(w.StartsAt) {
		return &apperrors.PhaseGateError{
			CycleID:   cycleID,
			Phase:     current,
			Next:      next,
			Condition: fmt.Sprintf("%s window opens at %s", next, w.StartsAt.UTC().Format(time.RFC3339)),
		}
	}

	switch current {
	case PhaseSelfAssessment:
		if in.OpenSelfReviews > 0 {
			return &apperrors.PhaseGateError{
				CycleID:   cycleID,
				Phase:     current,
				Next:      next,
				Condition: fmt.Sprintf("%d self reviews are not yet submitted or waived", in.OpenSelfReviews),
			}
		}
	case PhaseManagerReview:
		if in.OpenMandatoryReviews > 0 {
			return &apperrors.PhaseGateError{
				CycleID:   cycleID,
				Phase:     current,
				Next:      next,
				Condition: fmt.Sprintf("%d mandatory reviews are not yet submitted or waived", in.OpenMandatoryReviews),
			}
		}
	case PhaseCalibration:
		if in.OpenSessions > 0 {
			return &apperrors.PhaseGateError{
				CycleID:   cycleID,
				Phase:     current,
				Next:      next,
				Condition: fmt.Sprintf("%d calibration sessions are not yet completed", in.OpenSessions),
			}
		}
	case PhaseFinalization:
		if in.UnfinalizedReviews > 0 {
			return &apperrors.PhaseGateError{
				CycleID:   cycleID,
				Phase:     current,
				Next:      next,
				Condition: fmt.Sprintf("%d reviews are not yet finalized", in.UnfinalizedReviews),
			}
		}
	case PhaseSharing:
		if in.RequireAcknowledgment && in.UnacknowledgedReviews > 0 {
			return &apperrors.PhaseGateError{
				CycleID:   cycleID,
				Phase:     current,
				Next:      next,
				Condition: fmt.Sprintf("%d reviews are not yet acknowledged", in.UnacknowledgedReviews),
			}
		}
	}

	return nil
}

// StartEligible reports whether a review of the given type may start while
// the cycle is in phase. Concurrent windows let self and manager-side
// reviews run side by side.
func StartEligible(reviewType, phase string, allowConcurrent bool) bool {
	switch reviewType {
	case TypeSelf:
		return phase == PhaseSelfAssessment || (allowConcurrent && phase == PhaseManagerReview)
	case TypeManager, TypePeer, TypeUpward, TypeThreeSixty:
		return phase == PhaseManagerReview || (allowConcurrent && phase == PhaseSelfAssessment)
	default:
		return false
	}
}

// EligiblePhase names the phase StartEligible requires, for error messages.
func EligiblePhase(reviewType string) string {
	if reviewType == TypeSelf {
		return PhaseSelfAssessment
	}
	return PhaseManagerReview
}
