package reviews

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"pms/internal/domain/apperrors"
	"pms/internal/domain/audit"
	"pms/internal/domain/evidence"
	"pms/internal/domain/goals"
	"pms/internal/requestctx"
)

// Directory answers org-structure questions about employees. Implemented by
// the core store; nil skips the checks that need it.
type Directory interface {
	IsManagerOfEmployee(ctx context.Context, tenantID, employeeID, managerID string) (bool, error)
}

// Service drives individual reviews through their workflow. Cycle-level
// operations live on CycleService.
type Service struct {
	store     *Store
	audit     *audit.Service
	goals     *goals.Service
	evidence  *evidence.Service
	notify    Notifier
	directory Directory
}

func NewService(store *Store, auditSvc *audit.Service, goalSvc *goals.Service, evidenceSvc *evidence.Service, notify Notifier, directory Directory) *Service {
	return &Service{store: store, audit: auditSvc, goals: goalSvc, evidence: evidenceSvc, notify: notify, directory: directory}
}

// Assign creates a peer, upward or 360 review by hand. Self and manager
// reviews are seeded automatically at phase entry.
func (s *Service) Assign(ctx context.Context, tenantID, cycleID, revieweeID, reviewerID, reviewType, actorID string) (string, error) {
	if !ValidReviewTypes[reviewType] {
		return "", &apperrors.ValidationError{Field: "type", Reason: fmt.Sprintf("unknown review type %q", reviewType)}
	}
	if reviewType == TypeSelf && revieweeID != reviewerID {
		return "", &apperrors.ValidationError{Field: "reviewerId", Reason: "a self review must be owned by the reviewee"}
	}

	c, err := s.getCycle(ctx, tenantID, cycleID)
	if err != nil {
		return "", err
	}
	if IsTerminalPhase(c.Phase) || c.Phase == PhaseDraft {
		return "", &apperrors.StateMismatchError{EntityType: "cycle", EntityID: cycleID, Current: c.Phase, Required: "an active phase"}
	}
	if reviewType == TypeThreeSixty && !c.Include360 {
		return "", &apperrors.ValidationError{Field: "type", Reason: "this cycle does not include 360 reviews"}
	}
	if (reviewType == TypePeer || reviewType == TypeUpward) && !c.IncludeFeedback {
		return "", &apperrors.ValidationError{Field: "type", Reason: "this cycle does not include peer feedback"}
	}
	if reviewType == TypeManager && s.directory != nil {
		isManager, err := s.directory.IsManagerOfEmployee(ctx, tenantID, revieweeID, reviewerID)
		if err != nil {
			return "", err
		}
		if !isManager {
			return "", &apperrors.ValidationError{Field: "reviewerId", Reason: "a manager review must be owned by the reviewee's manager"}
		}
	}

	id, err := s.store.InsertReview(ctx, s.store.DB, tenantID, cycleID, revieweeID, reviewerID, reviewType)
	if err != nil {
		return "", err
	}
	s.audit.Emit(ctx, tenantID, s.fact(ctx, "review.assigned", id, "", StatusNotStarted, actorID, map[string]string{"type": reviewType, "revieweeId": revieweeID, "reviewerId": reviewerID}))
	return id, nil
}

func (s *Service) Get(ctx context.Context, tenantID, reviewID string) (Review, []GoalLink, []EvidenceLink, error) {
	r, err := s.getReview(ctx, tenantID, reviewID)
	if err != nil {
		return Review{}, nil, nil, err
	}
	goalLinks, err := s.store.ListGoalLinks(ctx, s.store.DB, tenantID, reviewID)
	if err != nil {
		return Review{}, nil, nil, err
	}
	evidenceLinks, err := s.store.ListEvidenceLinks(ctx, tenantID, reviewID)
	if err != nil {
		return Review{}, nil, nil, err
	}
	return r, goalLinks, evidenceLinks, nil
}

func (s *Service) List(ctx context.Context, tenantID, cycleID, revieweeID, reviewerID string) ([]Review, error) {
	return s.store.ListReviews(ctx, tenantID, cycleID, revieweeID, reviewerID)
}

// Start opens a review for editing. The cycle phase must make the review's
// type eligible; the window configuration only gates cycle advancement.
func (s *Service) Start(ctx context.Context, tenantID, reviewID, actorID string) error {
	r, err := s.getReview(ctx, tenantID, reviewID)
	if err != nil {
		return err
	}
	c, err := s.getCycle(ctx, tenantID, r.CycleID)
	if err != nil {
		return err
	}
	if !StartEligible(r.Type, c.Phase, c.AllowConcurrentWindows) {
		return &apperrors.PhaseMismatchError{ReviewID: reviewID, Phase: c.Phase, Required: EligiblePhase(r.Type)}
	}
	if err := s.transition(ctx, tenantID, reviewID, StatusNotStarted, StatusInProgress); err != nil {
		return err
	}
	s.audit.Emit(ctx, tenantID, s.fact(ctx, "review.started", reviewID, StatusNotStarted, StatusInProgress, actorID, nil))
	return nil
}

// SaveDraft replaces the review's section content. Only in-progress reviews
// are editable.
func (s *Service) SaveDraft(ctx context.Context, tenantID, reviewID string, content map[string]string) error {
	updated, err := s.store.UpdateReviewContent(ctx, s.store.DB, tenantID, reviewID, content)
	if err != nil {
		return err
	}
	if updated {
		return nil
	}
	r, err := s.getReview(ctx, tenantID, reviewID)
	if err != nil {
		return err
	}
	return &apperrors.StateMismatchError{EntityType: "review", EntityID: reviewID, Current: r.Status, Required: StatusInProgress}
}

// Submit locks the review's content and computes its overall rating via the
// cycle's aggregation method.
func (s *Service) Submit(ctx context.Context, tenantID, reviewID string, supplied *float64, summary, actorID string) (Review, error) {
	tx, err := s.store.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Review{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	r, err := s.store.GetReview(ctx, tx, tenantID, reviewID, true)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Review{}, &apperrors.NotFoundError{EntityType: "review", EntityID: reviewID}
		}
		return Review{}, err
	}
	if r.Status != StatusInProgress {
		return Review{}, &apperrors.StateMismatchError{EntityType: "review", EntityID: reviewID, Current: r.Status, Required: StatusInProgress}
	}

	c, err := s.store.GetCycle(ctx, tx, tenantID, r.CycleID, false)
	if err != nil {
		return Review{}, err
	}
	if missing := MissingSections(c.Sections, r.Content); len(missing) > 0 {
		return Review{}, &apperrors.IncompleteReviewError{ReviewID: reviewID, Missing: missing}
	}

	var links []GoalLink
	if c.IncludeGoals {
		links, err = s.store.ListGoalLinks(ctx, tx, tenantID, reviewID)
		if err != nil {
			return Review{}, err
		}
	}
	rating, method, err := ResolveRating(c.AggregationMethod, supplied, links, c.RatingScaleMax)
	if err != nil {
		return Review{}, err
	}

	ok, err := s.store.SubmitReview(ctx, tx, tenantID, reviewID, rating, method, summary)
	if err != nil {
		return Review{}, err
	}
	if !ok {
		return Review{}, &apperrors.ConcurrentModificationError{EntityType: "review", EntityID: reviewID, Expected: StatusInProgress}
	}
	fact := s.fact(ctx, "review.submitted", reviewID, StatusInProgress, StatusSubmitted, actorID, map[string]any{"overallRating": rating, "aggregationMethod": method})
	if err := s.audit.Record(ctx, tx, tenantID, fact); err != nil {
		return Review{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Review{}, err
	}

	r.Status = StatusSubmitted
	r.OverallRating = &rating
	r.AggregationMethod = method
	r.Summary = summary
	return r, nil
}

// Acknowledge records the reviewee's sign-off on a finalized review. The
// sign-off is tied to the review being finalized, not to one phase: it is
// accepted from finalization onward, including after the cycle completes.
// Acknowledging twice is a no-op.
func (s *Service) Acknowledge(ctx context.Context, tenantID, reviewID, actorEmployeeID string) error {
	r, err := s.getReview(ctx, tenantID, reviewID)
	if err != nil {
		return err
	}
	if r.RevieweeID != actorEmployeeID {
		return &apperrors.ValidationError{Field: "reviewId", Reason: "only the reviewee may acknowledge a review"}
	}
	if r.Status == StatusAcknowledged {
		return nil
	}
	c, err := s.getCycle(ctx, tenantID, r.CycleID)
	if err != nil {
		return err
	}
	switch c.Phase {
	case PhaseFinalization, PhaseSharing, PhaseCompleted:
	default:
		return &apperrors.PhaseMismatchError{ReviewID: reviewID, Phase: c.Phase, Required: PhaseFinalization}
	}

	ok, err := s.store.AcknowledgeReview(ctx, s.store.DB, tenantID, reviewID)
	if err != nil {
		return err
	}
	if !ok {
		current, err := s.getReview(ctx, tenantID, reviewID)
		if err != nil {
			return err
		}
		if current.Status == StatusAcknowledged {
			return nil
		}
		return &apperrors.StateMismatchError{EntityType: "review", EntityID: reviewID, Current: current.Status, Required: StatusFinalized}
	}
	s.audit.Emit(ctx, tenantID, s.fact(ctx, "review.acknowledged", reviewID, StatusFinalized, StatusAcknowledged, actorEmployeeID, nil))
	return nil
}

// Waive removes a review from the cycle's gates with an audited reason.
func (s *Service) Waive(ctx context.Context, tenantID, reviewID, reason, actorID string) error {
	if strings.TrimSpace(reason) == "" {
		return &apperrors.ValidationError{Field: "reason", Reason: "a waiver reason is required"}
	}

	tx, err := s.store.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	r, err := s.store.GetReview(ctx, tx, tenantID, reviewID, true)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &apperrors.NotFoundError{EntityType: "review", EntityID: reviewID}
		}
		return err
	}
	if !CanReviewTransition(r.Status, StatusWaived) {
		return &apperrors.StateMismatchError{EntityType: "review", EntityID: reviewID, Current: r.Status, Required: "an unsubmitted status"}
	}

	ok, err := s.store.UpdateReviewStatus(ctx, tx, tenantID, reviewID, r.Status, StatusWaived)
	if err != nil {
		return err
	}
	if !ok {
		return &apperrors.ConcurrentModificationError{EntityType: "review", EntityID: reviewID, Expected: r.Status}
	}
	fact := s.fact(ctx, "review.waived", reviewID, r.Status, StatusWaived, actorID, map[string]string{"reason": reason})
	if err := s.audit.Record(ctx, tx, tenantID, fact); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// LinkGoal attaches one of the reviewee's goals to an in-progress review.
func (s *Service) LinkGoal(ctx context.Context, tenantID, reviewID string, link GoalLink) error {
	if link.AchievementPct < 0 || link.AchievementPct > 100 {
		return &apperrors.ValidationError{Field: "achievementPct", Reason: "must be between 0 and 100"}
	}
	if link.Weight < 0 {
		return &apperrors.ValidationError{Field: "weight", Reason: "must not be negative"}
	}

	r, err := s.getReview(ctx, tenantID, reviewID)
	if err != nil {
		return err
	}
	if r.Status != StatusNotStarted && r.Status != StatusInProgress {
		return &apperrors.StateMismatchError{EntityType: "review", EntityID: reviewID, Current: r.Status, Required: StatusInProgress}
	}
	c, err := s.getCycle(ctx, tenantID, r.CycleID)
	if err != nil {
		return err
	}
	if !c.IncludeGoals {
		return &apperrors.ValidationError{Field: "goalId", Reason: "this cycle does not include goals"}
	}

	g, err := s.goals.Get(ctx, tenantID, link.GoalID)
	if err != nil {
		return err
	}
	if g.OwnerID != r.RevieweeID {
		return &apperrors.ValidationError{Field: "goalId", Reason: "goal does not belong to the reviewee"}
	}

	return s.store.UpsertGoalLink(ctx, tenantID, reviewID, link)
}

// LinkEvidence attaches evidence to an open review. Rejected evidence does
// not count toward anything and cannot be linked.
func (s *Service) LinkEvidence(ctx context.Context, tenantID, reviewID string, link EvidenceLink) error {
	if link.Weight < 0 {
		return &apperrors.ValidationError{Field: "weight", Reason: "must not be negative"}
	}

	r, err := s.getReview(ctx, tenantID, reviewID)
	if err != nil {
		return err
	}
	if r.Status != StatusNotStarted && r.Status != StatusInProgress {
		return &apperrors.StateMismatchError{EntityType: "review", EntityID: reviewID, Current: r.Status, Required: StatusInProgress}
	}

	e, err := s.evidence.Get(ctx, tenantID, link.EvidenceID)
	if err != nil {
		return err
	}
	if e.EmployeeID != r.RevieweeID {
		return &apperrors.ValidationError{Field: "evidenceId", Reason: "evidence does not belong to the reviewee"}
	}
	if e.Status == evidence.StatusRejected {
		return &apperrors.ValidationError{Field: "evidenceId", Reason: "rejected evidence cannot be linked"}
	}

	return s.store.UpsertEvidenceLink(ctx, tenantID, reviewID, link)
}

func (s *Service) getReview(ctx context.Context, tenantID, reviewID string) (Review, error) {
	r, err := s.store.GetReview(ctx, s.store.DB, tenantID, reviewID, false)
	if errors.Is(err, pgx.ErrNoRows) {
		return Review{}, &apperrors.NotFoundError{EntityType: "review", EntityID: reviewID}
	}
	return r, err
}

func (s *Service) getCycle(ctx context.Context, tenantID, cycleID string) (Cycle, error) {
	c, err := s.store.GetCycle(ctx, s.store.DB, tenantID, cycleID, false)
	if errors.Is(err, pgx.ErrNoRows) {
		return Cycle{}, &apperrors.NotFoundError{EntityType: "cycle", EntityID: cycleID}
	}
	return c, err
}

func (s *Service) transition(ctx context.Context, tenantID, reviewID, expected, next string) error {
	ok, err := s.store.UpdateReviewStatus(ctx, s.store.DB, tenantID, reviewID, expected, next)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	current, err := s.getReview(ctx, tenantID, reviewID)
	if err != nil {
		return err
	}
	return &apperrors.StateMismatchError{EntityType: "review", EntityID: reviewID, Current: current.Status, Required: expected}
}

func (s *Service) fact(ctx context.Context, action, reviewID, prev, next, actorID string, details any) audit.Fact {
	return audit.Fact{
		Action:        action,
		EntityType:    "review",
		EntityID:      reviewID,
		PreviousState: prev,
		NewState:      next,
		ActorID:       actorID,
		RequestID:     requestctx.GetRequestID(ctx),
		IP:            requestctx.GetClientIP(ctx),
		Details:       details,
	}
}
