package reviews

import "pms/internal/domain/apperrors"

// WeightedGoalAverage folds goal links into an overall rating on the cycle's
// scale: the weighted mean achievement percentage mapped onto [0, scaleMax].
func WeightedGoalAverage(links []GoalLink, scaleMax float64) (float64, error) {
	if len(links) == 0 {
		return 0, &apperrors.ValidationError{Field: "goals", Reason: "weighted goal aggregation requires at least one linked goal"}
	}
	var weightSum, weighted float64
	for _, link := range links {
		if link.Weight < 0 {
			return 0, &apperrors.ValidationError{Field: "weight", Reason: "goal weight must not be negative"}
		}
		if link.AchievementPct < 0 || link.AchievementPct > 100 {
			return 0, &apperrors.ValidationError{Field: "achievementPct", Reason: "must be between 0 and 100"}
		}
		weightSum += link.Weight
		weighted += link.AchievementPct * link.Weight
	}
	if weightSum == 0 {
		return 0, &apperrors.ValidationError{Field: "weight", Reason: "goal weights must not all be zero"}
	}
	return weighted / weightSum / 100 * scaleMax, nil
}

// ResolveRating applies the cycle's aggregation method and returns the
// overall rating plus the method actually used, which is recorded on the
// review for audit replay.
func ResolveRating(method string, supplied *float64, links []GoalLink, scaleMax float64) (float64, string, error) {
	switch method {
	case AggregationWeightedGoals:
		if len(links) > 0 {
			rating, err := WeightedGoalAverage(links, scaleMax)
			return rating, AggregationWeightedGoals, err
		}
		// No goals linked: fall back to the entered rating so goal-less
		// reviews (peer, upward) stay submittable.
		fallthrough
	case AggregationManagerEntered:
		if supplied == nil {
			return 0, "", &apperrors.ValidationError{Field: "overallRating", Reason: "a rating is required"}
		}
		if *supplied < 0 || *supplied > scaleMax {
			return 0, "", &apperrors.ValidationError{Field: "overallRating", Reason: "rating is outside the cycle's scale"}
		}
		return *supplied, AggregationManagerEntered, nil
	default:
		return 0, "", &apperrors.ConfigurationError{Reason: "unknown aggregation method " + method}
	}
}
