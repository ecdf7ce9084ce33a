package reviews

const (
	PhaseDraft          = "draft"
	PhaseScheduled      = "scheduled"
	PhaseSelfAssessment = "self_assessment"
	PhaseManagerReview  = "manager_review"
	PhaseCalibration    = "calibration"
	PhaseFinalization   = "finalization"
	PhaseSharing        = "sharing"
	PhaseCompleted      = "completed"
	PhaseCancelled      = "cancelled"
)

const (
	CycleTypeAnnual     = "annual"
	CycleTypeSemiAnnual = "semi_annual"
	CycleTypeQuarterly  = "quarterly"
	CycleTypeAdHoc      = "ad_hoc"
)

var ValidCycleTypes = map[string]bool{
	CycleTypeAnnual:     true,
	CycleTypeSemiAnnual: true,
	CycleTypeQuarterly:  true,
	CycleTypeAdHoc:      true,
}

const (
	StatusNotStarted   = "not_started"
	StatusInProgress   = "in_progress"
	StatusSubmitted    = "submitted"
	StatusCalibrated   = "calibrated"
	StatusFinalized    = "finalized"
	StatusAcknowledged = "acknowledged"
	StatusWaived       = "waived"
	StatusCancelled    = "cancelled"
)

const (
	TypeSelf       = "self"
	TypeManager    = "manager"
	TypePeer       = "peer"
	TypeUpward     = "upward"
	TypeThreeSixty = "360"
)

var ValidReviewTypes = map[string]bool{
	TypeSelf:       true,
	TypeManager:    true,
	TypePeer:       true,
	TypeUpward:     true,
	TypeThreeSixty: true,
}

const (
	AggregationManagerEntered = "manager_entered"
	AggregationWeightedGoals  = "weighted_goal_average"
)
