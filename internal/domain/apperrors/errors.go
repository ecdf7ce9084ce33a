package apperrors

import (
	"fmt"
	"strings"
)

// ValidationError reports malformed input, e.g. an out-of-range progress value.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

type NotFoundError struct {
	EntityType string
	EntityID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.EntityType, e.EntityID)
}

type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return e.Reason
}

// PhaseMismatchError is raised when a review action is attempted while the
// parent cycle is in a phase that does not permit it.
type PhaseMismatchError struct {
	ReviewID string
	Phase    string
	Required string
}

func (e *PhaseMismatchError) Error() string {
	return fmt.Sprintf("review %s: cycle phase is %s, action requires %s", e.ReviewID, e.Phase, e.Required)
}

// StateMismatchError is raised when an entity is not in the state a command
// requires (wrong cycle phase, wrong review or decision status).
type StateMismatchError struct {
	EntityType string
	EntityID   string
	Current    string
	Required   string
}

func (e *StateMismatchError) Error() string {
	return fmt.Sprintf("%s %s is %s, requires %s", e.EntityType, e.EntityID, e.Current, e.Required)
}

// PhaseGateError is raised when a cycle phase transition is blocked by an
// unmet completion or window condition. Condition names the unmet gate.
type PhaseGateError struct {
	CycleID   string
	Phase     string
	Next      string
	Condition string
}

func (e *PhaseGateError) Error() string {
	return fmt.Sprintf("cycle %s cannot advance %s -> %s: %s", e.CycleID, e.Phase, e.Next, e.Condition)
}

type IncompleteReviewError struct {
	ReviewID string
	Missing  []string
}

func (e *IncompleteReviewError) Error() string {
	return fmt.Sprintf("review %s incomplete: missing sections %s", e.ReviewID, strings.Join(e.Missing, ", "))
}

type UnresolvedOutlierError struct {
	SessionID string
	ReviewIDs []string
}

func (e *UnresolvedOutlierError) Error() string {
	return fmt.Sprintf("session %s has unresolved outliers: %s", e.SessionID, strings.Join(e.ReviewIDs, ", "))
}

type EvidenceNotVerifiedError struct {
	EvidenceID string
	Status     string
}

func (e *EvidenceNotVerifiedError) Error() string {
	return fmt.Sprintf("evidence %s is %s, requires verified", e.EvidenceID, e.Status)
}

// ConcurrentModificationError signals an optimistic-check failure: the entity
// changed between read and write. Callers may retry the same command.
type ConcurrentModificationError struct {
	EntityType string
	EntityID   string
	Expected   string
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("%s %s changed concurrently (expected %s)", e.EntityType, e.EntityID, e.Expected)
}
