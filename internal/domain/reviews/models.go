package reviews

import "time"

type Cycle struct {
	ID                     string        `json:"id"`
	Name                   string        `json:"name"`
	Type                   string        `json:"type"`
	Phase                  string        `json:"phase"`
	IncludeGoals           bool          `json:"includeGoals"`
	IncludeFeedback        bool          `json:"includeFeedback"`
	Include360             bool          `json:"include360"`
	RequireAcknowledgment  bool          `json:"requireAcknowledgment"`
	AllowConcurrentWindows bool          `json:"allowConcurrentWindows"`
	AggregationMethod      string        `json:"aggregationMethod"`
	RatingScaleMax         float64       `json:"ratingScaleMax"`
	Sections               []Section     `json:"sections"`
	Windows                []PhaseWindow `json:"windows,omitempty"`
	CancelReason           string        `json:"cancelReason,omitempty"`
	CreatedAt              time.Time     `json:"createdAt"`
}

// PhaseWindow defines when a phase is eligible to begin and end. Windows
// gate advancement eligibility; they never advance the cycle by themselves.
type PhaseWindow struct {
	Phase    string    `json:"phase"`
	StartsAt time.Time `json:"startsAt"`
	EndsAt   time.Time `json:"endsAt"`
}

// Section is one block of review content; required sections must be
// populated before submission.
type Section struct {
	Key      string `json:"key"`
	Title    string `json:"title"`
	Required bool   `json:"required"`
}

type Review struct {
	ID                string            `json:"id"`
	CycleID           string            `json:"cycleId"`
	RevieweeID        string            `json:"revieweeId"`
	ReviewerID        string            `json:"reviewerId"`
	Type              string            `json:"type"`
	Status            string            `json:"status"`
	OverallRating     *float64          `json:"overallRating,omitempty"`
	CalibratedRating  *float64          `json:"calibratedRating,omitempty"`
	AggregationMethod string            `json:"aggregationMethod,omitempty"`
	Summary           string            `json:"summary,omitempty"`
	Content           map[string]string `json:"content,omitempty"`
	SubmittedAt       *time.Time        `json:"submittedAt,omitempty"`
	AcknowledgedAt    *time.Time        `json:"acknowledgedAt,omitempty"`
	CreatedAt         time.Time         `json:"createdAt"`
}

// GoalLink ties a review to one of the reviewee's goals with an achievement
// percentage and a weight used by the weighted-average aggregation.
type GoalLink struct {
	GoalID         string  `json:"goalId"`
	AchievementPct float64 `json:"achievementPct"`
	Weight         float64 `json:"weight"`
}

type EvidenceLink struct {
	EvidenceID string  `json:"evidenceId"`
	Weight     float64 `json:"weight"`
	Relevance  string  `json:"relevance"`
}

// DefaultSections is used when a cycle is created without a custom template.
var DefaultSections = []Section{
	{Key: "achievements", Title: "Key Achievements", Required: true},
	{Key: "strengths", Title: "Strengths", Required: true},
	{Key: "growth_areas", Title: "Growth Areas", Required: true},
	{Key: "comments", Title: "Additional Comments", Required: false},
}
