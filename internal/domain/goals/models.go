package goals

import "time"

type Goal struct {
	ID        string     `json:"id"`
	OwnerID   string     `json:"ownerId"`
	ParentID  string     `json:"parentId,omitempty"`
	Title     string     `json:"title"`
	Type      string     `json:"type"`
	Status    string     `json:"status"`
	Progress  float64    `json:"progress"`
	Priority  int        `json:"priority"`
	Weight    float64    `json:"weight"`
	DueDate   *time.Time `json:"dueDate,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

// ProgressUpdate is one row of the append-only progress log. The goal's
// progress column is a projection of the latest row.
type ProgressUpdate struct {
	ID        string    `json:"id"`
	GoalID    string    `json:"goalId"`
	Progress  float64   `json:"progress"`
	Note      string    `json:"note,omitempty"`
	ActorID   string    `json:"actorId"`
	CreatedAt time.Time `json:"createdAt"`
}

// AlignmentEdge links a goal upward to a goal it contributes to.
type AlignmentEdge struct {
	FromGoalID string `json:"fromGoalId"`
	ToGoalID   string `json:"toGoalId"`
}

// Snapshot is a read-only view of an owner's goals as of a timestamp,
// consumed by the review workflow.
type Snapshot struct {
	OwnerID string         `json:"ownerId"`
	AsOf    time.Time      `json:"asOf"`
	Goals   []SnapshotGoal `json:"goals"`
}

type SnapshotGoal struct {
	GoalID   string  `json:"goalId"`
	Title    string  `json:"title"`
	Type     string  `json:"type"`
	Weight   float64 `json:"weight"`
	Progress float64 `json:"progress"`
}
