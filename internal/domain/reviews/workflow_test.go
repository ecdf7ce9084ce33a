package reviews

import "testing"

func TestReviewTransitions(t *testing.T) {
	allowed := [][2]string{
		{StatusNotStarted, StatusInProgress},
		{StatusNotStarted, StatusWaived},
		{StatusInProgress, StatusSubmitted},
		{StatusInProgress, StatusCancelled},
		{StatusSubmitted, StatusCalibrated},
		{StatusSubmitted, StatusFinalized},
		{StatusCalibrated, StatusCalibrated},
		{StatusCalibrated, StatusFinalized},
		{StatusFinalized, StatusAcknowledged},
	}
	for _, tc := range allowed {
		if !CanReviewTransition(tc[0], tc[1]) {
			t.Errorf("%s -> %s should be allowed", tc[0], tc[1])
		}
	}

	denied := [][2]string{
		{StatusNotStarted, StatusSubmitted},
		{StatusSubmitted, StatusInProgress},
		{StatusSubmitted, StatusWaived},
		{StatusFinalized, StatusCancelled},
		{StatusAcknowledged, StatusFinalized},
		{StatusWaived, StatusInProgress},
		{StatusCancelled, StatusInProgress},
	}
	for _, tc := range denied {
		if CanReviewTransition(tc[0], tc[1]) {
			t.Errorf("%s -> %s should be rejected", tc[0], tc[1])
		}
	}
}

func TestTerminalReviewStatuses(t *testing.T) {
	for _, status := range []string{StatusAcknowledged, StatusWaived, StatusCancelled} {
		if !IsTerminalReviewStatus(status) {
			t.Errorf("%s should be terminal", status)
		}
	}
	for _, status := range []string{StatusNotStarted, StatusSubmitted, StatusFinalized} {
		if IsTerminalReviewStatus(status) {
			t.Errorf("%s should not be terminal", status)
		}
	}
}

func TestOpenForGate(t *testing.T) {
	if !openForGate(StatusNotStarted) || !openForGate(StatusInProgress) {
		t.Fatal("unsubmitted reviews must block the gate")
	}
	for _, status := range []string{StatusSubmitted, StatusWaived, StatusCancelled, StatusCalibrated} {
		if openForGate(status) {
			t.Errorf("%s must not block the gate", status)
		}
	}
}

func TestMissingSections(t *testing.T) {
	content := map[string]string{"achievements": "shipped the migration", "strengths": ""}
	missing := MissingSections(DefaultSections, content)
	if len(missing) != 2 || missing[0] != "strengths" || missing[1] != "growth_areas" {
		t.Fatalf("missing = %v, want [strengths growth_areas]", missing)
	}

	full := map[string]string{"achievements": "a", "strengths": "b", "growth_areas": "c"}
	if got := MissingSections(DefaultSections, full); len(got) != 0 {
		t.Fatalf("missing = %v, want none; optional sections must not be required", got)
	}
}
