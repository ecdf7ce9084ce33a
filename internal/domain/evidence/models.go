package evidence

import "time"

const (
	StatusPending  = "pending"
	StatusVerified = "verified"
	StatusRejected = "rejected"
	StatusArchived = "archived"
)

type Evidence struct {
	ID          string     `json:"id"`
	EmployeeID  string     `json:"employeeId"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Impact      int        `json:"impact"`
	Effort      int        `json:"effort"`
	Quality     int        `json:"quality"`
	Complexity  int        `json:"complexity"`
	Status      string     `json:"status"`
	VerifiedBy  string     `json:"verifiedBy,omitempty"`
	VerifiedAt  *time.Time `json:"verifiedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	ArchivedAt  *time.Time `json:"archivedAt,omitempty"`
}
