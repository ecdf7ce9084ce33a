package decisions

import "time"

const (
	TypeCompensation = "compensation"
	TypePromotion    = "promotion"
)

const (
	StatusDraft           = "draft"
	StatusPendingApproval = "pending_approval"
	StatusApproved        = "approved"
	StatusImplemented     = "implemented"
	StatusRejected        = "rejected"
	StatusDeferred        = "deferred"
	StatusCancelled       = "cancelled"
)

// Decision is a compensation or promotion outcome tied back to the review
// and evidence that justify it. Compensation amounts are encrypted at rest.
type Decision struct {
	ID                string     `json:"id"`
	Type              string     `json:"type"`
	EmployeeID        string     `json:"employeeId"`
	CycleID           string     `json:"cycleId,omitempty"`
	ReviewID          string     `json:"reviewId,omitempty"`
	Status            string     `json:"status"`
	Title             string     `json:"title"`
	Rationale         string     `json:"rationale"`
	PerformanceRating *float64   `json:"performanceRating,omitempty"`
	Amount            string     `json:"amount,omitempty"`
	Currency          string     `json:"currency,omitempty"`
	FromLevel         string     `json:"fromLevel,omitempty"`
	ToLevel           string     `json:"toLevel,omitempty"`
	EffectiveDate     *time.Time `json:"effectiveDate,omitempty"`
	ExternalRef       string     `json:"externalRef,omitempty"`
	RejectReason      string     `json:"rejectReason,omitempty"`
	ProposerID        string     `json:"proposerId"`
	ApproverID        string     `json:"approverId,omitempty"`
	ImplementedAt     *time.Time `json:"implementedAt,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
}

type EvidenceRef struct {
	EvidenceID string    `json:"evidenceId"`
	Weight     float64   `json:"weight"`
	Relevance  string    `json:"relevance,omitempty"`
	Note       string    `json:"note,omitempty"`
	LinkedAt   time.Time `json:"linkedAt"`
}
