package auth

const (
	PermGoalsRead             = "goals.read"
	PermGoalsWrite            = "goals.write"
	PermEvidenceRead          = "evidence.read"
	PermEvidenceWrite         = "evidence.write"
	PermEvidenceVerify        = "evidence.verify"
	PermReviewsRead           = "reviews.read"
	PermReviewsWrite          = "reviews.write"
	PermCyclesManage          = "cycles.manage"
	PermCalibrationRead       = "calibration.read"
	PermCalibrationFacilitate = "calibration.facilitate"
	PermDecisionsRead         = "decisions.read"
	PermDecisionsWrite        = "decisions.write"
	PermDecisionsApprove      = "decisions.approve"
	PermDecisionsImplement    = "decisions.implement"
	PermAuditRead             = "audit.read"
	PermReportsRead           = "reports.read"
	PermSystemAdmin           = "admin.system"
)

var DefaultPermissions = []string{
	PermGoalsRead,
	PermGoalsWrite,
	PermEvidenceRead,
	PermEvidenceWrite,
	PermEvidenceVerify,
	PermReviewsRead,
	PermReviewsWrite,
	PermCyclesManage,
	PermCalibrationRead,
	PermCalibrationFacilitate,
	PermDecisionsRead,
	PermDecisionsWrite,
	PermDecisionsApprove,
	PermDecisionsImplement,
	PermAuditRead,
	PermReportsRead,
	PermSystemAdmin,
}

var RolePermissions = map[string][]string{
	RoleEmployee: {
		PermGoalsRead,
		PermGoalsWrite,
		PermEvidenceRead,
		PermEvidenceWrite,
		PermReviewsRead,
		PermReviewsWrite,
	},
	RoleManager: {
		PermGoalsRead,
		PermGoalsWrite,
		PermEvidenceRead,
		PermEvidenceWrite,
		PermReviewsRead,
		PermReviewsWrite,
		PermCalibrationRead,
		PermDecisionsRead,
		PermDecisionsWrite,
		PermReportsRead,
	},
	RoleHR: {
		PermGoalsRead,
		PermGoalsWrite,
		PermEvidenceRead,
		PermEvidenceWrite,
		PermEvidenceVerify,
		PermReviewsRead,
		PermReviewsWrite,
		PermCyclesManage,
		PermCalibrationRead,
		PermCalibrationFacilitate,
		PermDecisionsRead,
		PermDecisionsWrite,
		PermDecisionsApprove,
		PermDecisionsImplement,
		PermAuditRead,
		PermReportsRead,
	},
	RoleSystemAdmin: DefaultPermissions,
}
