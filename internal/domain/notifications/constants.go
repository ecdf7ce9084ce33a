package notifications

const (
	TypeReviewAssigned       = "review_assigned"
	TypeReviewShared         = "review_shared"
	TypeCyclePhaseChanged    = "cycle_phase_changed"
	TypeCalibrationCompleted = "calibration_completed"
	TypeDecisionSubmitted    = "decision_submitted"
	TypeDecisionApproved     = "decision_approved"
	TypeDecisionRejected     = "decision_rejected"
	TypeEvidenceVerified     = "evidence_verified"
	TypeReviewReminder       = "review_reminder"
)
