package reviews

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"pms/internal/domain/apperrors"
	"pms/internal/domain/audit"
	"pms/internal/platform/querier"
	"pms/internal/requestctx"
)

// SessionEnsurer opens the calibration session a cycle needs when it enters
// the calibration phase. Implemented by the calibration service.
type SessionEnsurer interface {
	EnsureSession(ctx context.Context, q querier.Querier, tenantID, cycleID, facilitatorID string) (string, error)
}

// Notifier delivers in-app notifications. Implemented by the notifications
// service; nil disables delivery.
type Notifier interface {
	Create(ctx context.Context, tenantID, userID, ntype, title, body string) error
}

type CycleService struct {
	store    *Store
	audit    *audit.Service
	sessions SessionEnsurer
	notify   Notifier
}

func NewCycleService(store *Store, auditSvc *audit.Service, sessions SessionEnsurer, notify Notifier) *CycleService {
	return &CycleService{store: store, audit: auditSvc, sessions: sessions, notify: notify}
}

func (s *CycleService) Create(ctx context.Context, tenantID string, c Cycle, windows []PhaseWindow, actorID string) (string, error) {
	if strings.TrimSpace(c.Name) == "" {
		return "", &apperrors.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if !ValidCycleTypes[c.Type] {
		return "", &apperrors.ValidationError{Field: "type", Reason: fmt.Sprintf("unknown cycle type %q", c.Type)}
	}
	if c.RatingScaleMax == 0 {
		c.RatingScaleMax = 5
	}
	if c.RatingScaleMax < 1 {
		return "", &apperrors.ValidationError{Field: "ratingScaleMax", Reason: "must be at least 1"}
	}
	if c.AggregationMethod == "" {
		c.AggregationMethod = AggregationManagerEntered
	}
	if c.AggregationMethod != AggregationManagerEntered && c.AggregationMethod != AggregationWeightedGoals {
		return "", &apperrors.ValidationError{Field: "aggregationMethod", Reason: fmt.Sprintf("unknown aggregation method %q", c.AggregationMethod)}
	}
	if len(c.Sections) == 0 {
		c.Sections = DefaultSections
	}
	if len(windows) > 0 {
		if err := ValidateWindows(windows); err != nil {
			return "", err
		}
	}

	tx, err := s.store.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	id, err := s.store.InsertCycle(ctx, tx, tenantID, c)
	if err != nil {
		return "", err
	}
	for _, w := range windows {
		if err := s.store.InsertWindow(ctx, tx, tenantID, id, w); err != nil {
			return "", err
		}
	}
	if err := s.audit.Record(ctx, tx, tenantID, s.fact(ctx, "cycle.created", id, "", PhaseDraft, actorID, nil)); err != nil {
		return "", err
	}

	return id, tx.Commit(ctx)
}

func (s *CycleService) Get(ctx context.Context, tenantID, cycleID string) (Cycle, error) {
	c, err := s.store.GetCycle(ctx, s.store.DB, tenantID, cycleID, false)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Cycle{}, &apperrors.NotFoundError{EntityType: "cycle", EntityID: cycleID}
		}
		return Cycle{}, err
	}
	c.Windows, err = s.store.ListWindows(ctx, s.store.DB, tenantID, cycleID)
	return c, err
}

func (s *CycleService) List(ctx context.Context, tenantID string) ([]Cycle, error) {
	return s.store.ListCycles(ctx, tenantID)
}

// AddWindow attaches a phase window to a draft cycle. Windows are frozen at
// launch; later edits would change gates under participants' feet.
func (s *CycleService) AddWindow(ctx context.Context, tenantID, cycleID string, w PhaseWindow, actorID string) error {
	tx, err := s.store.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	c, err := s.lockCycle(ctx, tx, tenantID, cycleID)
	if err != nil {
		return err
	}
	if c.Phase != PhaseDraft {
		return &apperrors.StateMismatchError{EntityType: "cycle", EntityID: cycleID, Current: c.Phase, Required: PhaseDraft}
	}

	windows, err := s.store.ListWindows(ctx, tx, tenantID, cycleID)
	if err != nil {
		return err
	}
	if err := ValidateWindows(append(windows, w)); err != nil {
		return err
	}
	if err := s.store.InsertWindow(ctx, tx, tenantID, cycleID, w); err != nil {
		return err
	}
	if err := s.audit.Record(ctx, tx, tenantID, s.fact(ctx, "cycle.window_added", cycleID, c.Phase, c.Phase, actorID, w)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Launch moves a draft cycle to scheduled once its windows pass validation.
func (s *CycleService) Launch(ctx context.Context, tenantID, cycleID, actorID string) error {
	tx, err := s.store.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	c, err := s.lockCycle(ctx, tx, tenantID, cycleID)
	if err != nil {
		return err
	}
	if c.Phase != PhaseDraft {
		return &apperrors.StateMismatchError{EntityType: "cycle", EntityID: cycleID, Current: c.Phase, Required: PhaseDraft}
	}

	windows, err := s.store.ListWindows(ctx, tx, tenantID, cycleID)
	if err != nil {
		return err
	}
	if err := ValidateWindows(windows); err != nil {
		return err
	}

	ok, err := s.store.UpdateCyclePhase(ctx, tx, tenantID, cycleID, PhaseDraft, PhaseScheduled, "")
	if err != nil {
		return err
	}
	if !ok {
		return &apperrors.ConcurrentModificationError{EntityType: "cycle", EntityID: cycleID, Expected: PhaseDraft}
	}
	if err := s.audit.Record(ctx, tx, tenantID, s.fact(ctx, "cycle.launched", cycleID, PhaseDraft, PhaseScheduled, actorID, nil)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Advance moves the cycle to its next phase. The gate is evaluated inside
// the transaction; force waives the window-start check but never the
// completion conditions. Phase entry side effects (seeding reviews, opening
// the calibration session, finalizing) run in the same transaction.
func (s *CycleService) Advance(ctx context.Context, tenantID, cycleID string, force bool, actorID string) (Cycle, error) {
	tx, err := s.store.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Cycle{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	c, err := s.lockCycle(ctx, tx, tenantID, cycleID)
	if err != nil {
		return Cycle{}, err
	}
	if IsTerminalPhase(c.Phase) {
		return Cycle{}, &apperrors.StateMismatchError{EntityType: "cycle", EntityID: cycleID, Current: c.Phase, Required: "a non-terminal phase"}
	}
	if c.Phase == PhaseDraft {
		return Cycle{}, &apperrors.StateMismatchError{EntityType: "cycle", EntityID: cycleID, Current: PhaseDraft, Required: "a launched cycle"}
	}

	next, ok := NextPhase(c.Phase)
	if !ok {
		return Cycle{}, &apperrors.StateMismatchError{EntityType: "cycle", EntityID: cycleID, Current: c.Phase, Required: "a non-terminal phase"}
	}

	in, err := s.store.GateCounts(ctx, tx, tenantID, cycleID)
	if err != nil {
		return Cycle{}, err
	}
	in.Now = time.Now()
	in.RequireAcknowledgment = c.RequireAcknowledgment
	if !force {
		in.Windows, err = s.store.ListWindows(ctx, tx, tenantID, cycleID)
		if err != nil {
			return Cycle{}, err
		}
	}
	if err := AdvanceGate(cycleID, c.Phase, next, in); err != nil {
		return Cycle{}, err
	}

	if err := s.enterPhase(ctx, tx, tenantID, cycleID, next, actorID); err != nil {
		return Cycle{}, err
	}

	updated, err := s.store.UpdateCyclePhase(ctx, tx, tenantID, cycleID, c.Phase, next, "")
	if err != nil {
		return Cycle{}, err
	}
	if !updated {
		return Cycle{}, &apperrors.ConcurrentModificationError{EntityType: "cycle", EntityID: cycleID, Expected: c.Phase}
	}
	if err := s.audit.Record(ctx, tx, tenantID, s.fact(ctx, "cycle.advanced", cycleID, c.Phase, next, actorID, map[string]bool{"force": force})); err != nil {
		return Cycle{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Cycle{}, err
	}

	s.notifyAssignments(ctx, tenantID, cycleID, c.Name, next)

	c.Phase = next
	return c, nil
}

// Cancel aborts a cycle with a mandatory reason and cascades cancellation
// to every review that has not reached a final status.
func (s *CycleService) Cancel(ctx context.Context, tenantID, cycleID, reason, actorID string) error {
	if strings.TrimSpace(reason) == "" {
		return &apperrors.ValidationError{Field: "reason", Reason: "a cancellation reason is required"}
	}

	tx, err := s.store.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	c, err := s.lockCycle(ctx, tx, tenantID, cycleID)
	if err != nil {
		return err
	}
	if IsTerminalPhase(c.Phase) {
		return &apperrors.StateMismatchError{EntityType: "cycle", EntityID: cycleID, Current: c.Phase, Required: "a non-terminal phase"}
	}

	cancelled, err := s.store.CancelOpenReviews(ctx, tx, tenantID, cycleID)
	if err != nil {
		return err
	}
	ok, err := s.store.UpdateCyclePhase(ctx, tx, tenantID, cycleID, c.Phase, PhaseCancelled, reason)
	if err != nil {
		return err
	}
	if !ok {
		return &apperrors.ConcurrentModificationError{EntityType: "cycle", EntityID: cycleID, Expected: c.Phase}
	}
	fact := s.fact(ctx, "cycle.cancelled", cycleID, c.Phase, PhaseCancelled, actorID, map[string]any{"reason": reason, "reviewsCancelled": cancelled})
	if err := s.audit.Record(ctx, tx, tenantID, fact); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *CycleService) enterPhase(ctx context.Context, tx pgx.Tx, tenantID, cycleID, next, actorID string) error {
	switch next {
	case PhaseSelfAssessment:
		_, err := s.store.CreateSelfReviews(ctx, tx, tenantID, cycleID)
		return err
	case PhaseManagerReview:
		_, err := s.store.CreateManagerReviews(ctx, tx, tenantID, cycleID)
		return err
	case PhaseCalibration:
		if s.sessions == nil {
			return nil
		}
		_, err := s.sessions.EnsureSession(ctx, tx, tenantID, cycleID, actorID)
		return err
	case PhaseFinalization:
		_, err := s.store.FinalizeCycleReviews(ctx, tx, tenantID, cycleID)
		return err
	default:
		return nil
	}
}

// notifyAssignments tells reviewers about reviews seeded by a phase entry.
// Delivery is post-commit and best effort.
func (s *CycleService) notifyAssignments(ctx context.Context, tenantID, cycleID, cycleName, phase string) {
	if s.notify == nil {
		return
	}
	var reviewType string
	switch phase {
	case PhaseSelfAssessment:
		reviewType = TypeSelf
	case PhaseManagerReview:
		reviewType = TypeManager
	default:
		return
	}

	userIDs, err := s.store.PendingReviewerUserIDs(ctx, tenantID, cycleID, reviewType)
	if err != nil {
		return
	}
	title := fmt.Sprintf("Review assigned: %s", cycleName)
	body := fmt.Sprintf("A %s review in cycle %q is waiting for you.", reviewType, cycleName)
	for _, userID := range userIDs {
		_ = s.notify.Create(ctx, tenantID, userID, "review_assigned", title, body)
	}
}

func (s *CycleService) lockCycle(ctx context.Context, tx pgx.Tx, tenantID, cycleID string) (Cycle, error) {
	c, err := s.store.GetCycle(ctx, tx, tenantID, cycleID, true)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Cycle{}, &apperrors.NotFoundError{EntityType: "cycle", EntityID: cycleID}
		}
		return Cycle{}, err
	}
	return c, nil
}

func (s *CycleService) fact(ctx context.Context, action, cycleID, prev, next, actorID string, details any) audit.Fact {
	return audit.Fact{
		Action:        action,
		EntityType:    "cycle",
		EntityID:      cycleID,
		PreviousState: prev,
		NewState:      next,
		ActorID:       actorID,
		RequestID:     requestctx.GetRequestID(ctx),
		IP:            requestctx.GetClientIP(ctx),
		Details:       details,
	}
}
