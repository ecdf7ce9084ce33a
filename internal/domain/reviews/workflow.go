package reviews

// reviewTransitions is the per-review status graph. Waived and cancelled are
// only reachable before submission; acknowledged only through finalized.
var reviewTransitions = map[string][]string{
	StatusNotStarted: {StatusInProgress, StatusWaived, StatusCancelled},
	StatusInProgress: {StatusSubmitted, StatusWaived, StatusCancelled},
	StatusSubmitted:  {StatusCalibrated, StatusFinalized, StatusCancelled},
	StatusCalibrated: {StatusCalibrated, StatusFinalized, StatusCancelled},
	StatusFinalized:  {StatusAcknowledged},
}

// CanReviewTransition reports whether a review may move from one status to
// another. Re-calibrating an already calibrated review is permitted.
func CanReviewTransition(from, to string) bool {
	for _, allowed := range reviewTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func IsTerminalReviewStatus(status string) bool {
	return status == StatusAcknowledged || status == StatusWaived || status == StatusCancelled
}

// openForGate reports whether a review status still blocks the
// all-submitted gate.
func openForGate(status string) bool {
	switch status {
	case StatusSubmitted, StatusCalibrated, StatusFinalized, StatusAcknowledged, StatusWaived, StatusCancelled:
		return false
	default:
		return true
	}
}

// MissingSections lists required section keys with empty content, in
// template order.
func MissingSections(sections []Section, content map[string]string) []string {
	var missing []string
	for _, section := range sections {
		if !section.Required {
			continue
		}
		if content[section.Key] == "" {
			missing = append(missing, section.Key)
		}
	}
	return missing
}
