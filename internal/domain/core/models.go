package core

import "time"

type Employee struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	FirstName  string    `json:"firstName"`
	LastName   string    `json:"lastName"`
	Email      string    `json:"email"`
	Department string    `json:"department"`
	Level      string    `json:"level"`
	ManagerID  string    `json:"managerId"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
}

const (
	EmployeeStatusActive   = "active"
	EmployeeStatusInactive = "inactive"
)
