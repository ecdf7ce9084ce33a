package calibration

import "time"

const (
	SessionActive    = "active"
	SessionCompleted = "completed"
)

const (
	ResolutionAdjusted = "adjusted"
	ResolutionAccepted = "accepted"
)

const (
	BiasLeniency = "leniency"
	BiasSeverity = "severity"
)

type Session struct {
	ID              string     `json:"id"`
	CycleID         string     `json:"cycleId"`
	FacilitatorID   string     `json:"facilitatorId,omitempty"`
	ScopeDepartment string     `json:"scopeDepartment,omitempty"`
	ScopeLevel      string     `json:"scopeLevel,omitempty"`
	Status          string     `json:"status"`
	CreatedAt       time.Time  `json:"createdAt"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
}

// Adjustment is one append-only calibration decision for a review: either a
// rating change or an explicit accept of the rating as it stands.
type Adjustment struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"sessionId"`
	ReviewID       string    `json:"reviewId"`
	Resolution     string    `json:"resolution"`
	PreviousRating float64   `json:"previousRating"`
	NewRating      float64   `json:"newRating"`
	Rationale      string    `json:"rationale"`
	ActorID        string    `json:"actorId"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Sample is one submitted rating feeding the statistics: who rated, which
// group the reviewee belongs to, and the current effective rating.
type Sample struct {
	ReviewID string  `json:"reviewId"`
	RaterID  string  `json:"raterId"`
	Group    string  `json:"group"`
	Rating   float64 `json:"rating"`
}

type RaterStats struct {
	RaterID string  `json:"raterId"`
	Count   int     `json:"count"`
	Mean    float64 `json:"mean"`
	StdDev  float64 `json:"stdDev"`
	Bias    string  `json:"bias,omitempty"`
	Delta   float64 `json:"delta"`
}

type GroupStats struct {
	Group  string  `json:"group"`
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stdDev"`
}

// Outlier flags a rating that sits far outside its group distribution while
// its rater also skews away from the organization mean. RaterZ places the
// rating within the rater's own distribution; it is zero when the rater's
// ratings show no spread.
type Outlier struct {
	ReviewID   string  `json:"reviewId"`
	RaterID    string  `json:"raterId"`
	Group      string  `json:"group"`
	Rating     float64 `json:"rating"`
	GroupZ     float64 `json:"groupZ"`
	RaterZ     float64 `json:"raterZ"`
	RaterDelta float64 `json:"raterDelta"`
}

type Report struct {
	SampleCount int                `json:"sampleCount"`
	OrgMean     float64            `json:"orgMean"`
	OrgStdDev   float64            `json:"orgStdDev"`
	Percentiles map[string]float64 `json:"percentiles"`
	Raters      []RaterStats       `json:"raters"`
	Groups      []GroupStats       `json:"groups"`
	Outliers    []Outlier          `json:"outliers"`
}

// Config carries the statistical thresholds, sourced from the environment.
type Config struct {
	OutlierStdDev     float64
	LeniencyThreshold float64
	BiasMinSample     int
}
