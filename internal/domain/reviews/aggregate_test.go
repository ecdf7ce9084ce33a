package reviews

import (
	"errors"
	"math"
	"testing"

	"pms/internal/domain/apperrors"
)

func TestWeightedGoalAverage(t *testing.T) {
	links := []GoalLink{
		{GoalID: "g1", AchievementPct: 100, Weight: 2},
		{GoalID: "g2", AchievementPct: 50, Weight: 1},
		{GoalID: "g3", AchievementPct: 0, Weight: 1},
	}
	got, err := WeightedGoalAverage(links, 5)
	if err != nil {
		t.Fatalf("WeightedGoalAverage: %v", err)
	}
	// (100*2 + 50*1 + 0*1) / 4 = 62.5% of a 5-point scale.
	if math.Abs(got-3.125) > 1e-9 {
		t.Fatalf("rating = %v, want 3.125", got)
	}
}

func TestWeightedGoalAverageRejectsZeroWeights(t *testing.T) {
	links := []GoalLink{{GoalID: "g1", AchievementPct: 80, Weight: 0}}
	var valErr *apperrors.ValidationError
	if _, err := WeightedGoalAverage(links, 5); !errors.As(err, &valErr) {
		t.Fatalf("got %v, want ValidationError for all-zero weights", err)
	}
}

func TestWeightedGoalAverageRejectsOutOfRangePct(t *testing.T) {
	links := []GoalLink{{GoalID: "g1", AchievementPct: 130, Weight: 1}}
	var valErr *apperrors.ValidationError
	if _, err := WeightedGoalAverage(links, 5); !errors.As(err, &valErr) {
		t.Fatalf("got %v, want ValidationError for achievement above 100", err)
	}
}

func TestResolveRatingManagerEntered(t *testing.T) {
	supplied := 4.5
	got, method, err := ResolveRating(AggregationManagerEntered, &supplied, nil, 5)
	if err != nil {
		t.Fatalf("ResolveRating: %v", err)
	}
	if got != 4.5 || method != AggregationManagerEntered {
		t.Fatalf("got %v via %q", got, method)
	}
}

func TestResolveRatingRejectsOutOfScale(t *testing.T) {
	supplied := 6.0
	var valErr *apperrors.ValidationError
	if _, _, err := ResolveRating(AggregationManagerEntered, &supplied, nil, 5); !errors.As(err, &valErr) {
		t.Fatalf("got %v, want ValidationError above the scale", err)
	}
}

func TestResolveRatingRequiresRating(t *testing.T) {
	var valErr *apperrors.ValidationError
	if _, _, err := ResolveRating(AggregationManagerEntered, nil, nil, 5); !errors.As(err, &valErr) {
		t.Fatalf("got %v, want ValidationError for missing rating", err)
	}
}

func TestResolveRatingWeightedGoals(t *testing.T) {
	links := []GoalLink{{GoalID: "g1", AchievementPct: 80, Weight: 1}}
	got, method, err := ResolveRating(AggregationWeightedGoals, nil, links, 5)
	if err != nil {
		t.Fatalf("ResolveRating: %v", err)
	}
	if method != AggregationWeightedGoals {
		t.Fatalf("method = %q, want %q", method, AggregationWeightedGoals)
	}
	if math.Abs(got-4.0) > 1e-9 {
		t.Fatalf("rating = %v, want 4.0", got)
	}
}

func TestResolveRatingWeightedGoalsFallsBack(t *testing.T) {
	supplied := 3.0
	got, method, err := ResolveRating(AggregationWeightedGoals, &supplied, nil, 5)
	if err != nil {
		t.Fatalf("ResolveRating: %v", err)
	}
	if got != 3.0 || method != AggregationManagerEntered {
		t.Fatalf("got %v via %q, want manager-entered fallback without links", got, method)
	}
}

func TestResolveRatingUnknownMethod(t *testing.T) {
	var cfgErr *apperrors.ConfigurationError
	if _, _, err := ResolveRating("median", nil, nil, 5); !errors.As(err, &cfgErr) {
		t.Fatalf("got %v, want ConfigurationError", err)
	}
}
