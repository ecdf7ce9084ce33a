package decisions

import (
	"errors"
	"testing"

	"pms/internal/domain/apperrors"
)

func TestCanTransition(t *testing.T) {
	allowed := []struct{ kind, from, to string }{
		{TypeCompensation, StatusDraft, StatusPendingApproval},
		{TypeCompensation, StatusDraft, StatusCancelled},
		{TypeCompensation, StatusPendingApproval, StatusApproved},
		{TypeCompensation, StatusPendingApproval, StatusRejected},
		{TypeCompensation, StatusApproved, StatusImplemented},
		{TypeCompensation, StatusApproved, StatusCancelled},
		{TypePromotion, StatusPendingApproval, StatusDeferred},
		{TypePromotion, StatusDeferred, StatusPendingApproval},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.kind, tc.from, tc.to) {
			t.Errorf("%s %s -> %s should be allowed", tc.kind, tc.from, tc.to)
		}
	}

	denied := []struct{ kind, from, to string }{
		{TypeCompensation, StatusPendingApproval, StatusDeferred},
		{TypeCompensation, StatusDraft, StatusApproved},
		{TypeCompensation, StatusDraft, StatusImplemented},
		{TypeCompensation, StatusRejected, StatusPendingApproval},
		{TypeCompensation, StatusImplemented, StatusCancelled},
		{TypeCompensation, StatusCancelled, StatusDraft},
		{TypePromotion, StatusApproved, StatusDeferred},
		{TypePromotion, StatusRejected, StatusApproved},
	}
	for _, tc := range denied {
		if CanTransition(tc.kind, tc.from, tc.to) {
			t.Errorf("%s %s -> %s should be rejected", tc.kind, tc.from, tc.to)
		}
	}
}

func TestTerminalAndImmutable(t *testing.T) {
	for _, status := range []string{StatusImplemented, StatusRejected, StatusCancelled} {
		if !IsTerminal(status) {
			t.Errorf("%s should be terminal", status)
		}
		if !IsImmutable(status) {
			t.Errorf("%s should be immutable", status)
		}
	}
	if IsTerminal(StatusApproved) {
		t.Error("approved is not terminal; it still awaits implementation")
	}
	if !IsImmutable(StatusApproved) {
		t.Error("approved must freeze the decision's evidence")
	}
	for _, status := range []string{StatusDraft, StatusPendingApproval, StatusDeferred} {
		if IsImmutable(status) {
			t.Errorf("%s should stay editable", status)
		}
	}
}

func TestValidateSubmission(t *testing.T) {
	rating := 4.2

	err := ValidateSubmission(Decision{PerformanceRating: &rating}, 0)
	var verr *apperrors.ValidationError
	if !errors.As(err, &verr) || verr.Field != "evidence" {
		t.Fatalf("rating with no evidence: got %v, want a validation error on evidence", err)
	}

	if err := ValidateSubmission(Decision{PerformanceRating: &rating}, 1); err != nil {
		t.Fatalf("rating with evidence: got %v, want nil", err)
	}
	if err := ValidateSubmission(Decision{}, 0); err != nil {
		t.Fatalf("no rating and no evidence: got %v, want nil", err)
	}
}
