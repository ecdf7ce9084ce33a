package decisions

import "pms/internal/domain/apperrors"

// transitions is the shared decision status graph. Deferral exists so a
// promotion can be revisited next cycle; it is gated per type in
// CanTransition.
var transitions = map[string][]string{
	StatusDraft:           {StatusPendingApproval, StatusCancelled},
	StatusPendingApproval: {StatusApproved, StatusRejected, StatusDeferred, StatusCancelled},
	StatusApproved:        {StatusImplemented, StatusCancelled},
	StatusDeferred:        {StatusPendingApproval, StatusCancelled},
}

// CanTransition reports whether a decision of the given type may move
// between the two statuses. Only promotions can be deferred.
func CanTransition(decisionType, from, to string) bool {
	if to == StatusDeferred && decisionType != TypePromotion {
		return false
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func IsTerminal(status string) bool {
	return status == StatusImplemented || status == StatusRejected || status == StatusCancelled
}

// Immutable statuses freeze the decision's evidence links as well.
func IsImmutable(status string) bool {
	return status == StatusApproved || IsTerminal(status)
}

// ValidateSubmission enforces the evidence rule: a decision that cites a
// performance rating must be backed by at least one evidence link. A
// decision without a rating may go to approval unevidenced.
func ValidateSubmission(d Decision, evidenceCount int) error {
	if d.PerformanceRating != nil && evidenceCount == 0 {
		return &apperrors.ValidationError{Field: "evidence", Reason: "evidence required when a performance rating is cited"}
	}
	return nil
}
