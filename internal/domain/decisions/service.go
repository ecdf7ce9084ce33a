package decisions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"pms/internal/domain/apperrors"
	"pms/internal/domain/audit"
	"pms/internal/domain/evidence"
	"pms/internal/platform/crypto"
	"pms/internal/requestctx"
)

// Directory resolves an employee to their user account for notification
// delivery. Implemented by the core employee store; nil disables lookups.
type Directory interface {
	EmployeeUserID(ctx context.Context, tenantID, employeeID string) (string, error)
}

// Notifier delivers in-app notifications. Implemented by the notifications
// service; nil disables delivery.
type Notifier interface {
	Create(ctx context.Context, tenantID, userID, ntype, title, body string) error
}

type Service struct {
	store     *Store
	audit     *audit.Service
	evidence  *evidence.Service
	crypto    *crypto.Service
	directory Directory
	notify    Notifier
}

func NewService(store *Store, auditSvc *audit.Service, evidenceSvc *evidence.Service, cryptoSvc *crypto.Service, directory Directory, notify Notifier) *Service {
	return &Service{store: store, audit: auditSvc, evidence: evidenceSvc, crypto: cryptoSvc, directory: directory, notify: notify}
}

func (s *Service) Create(ctx context.Context, tenantID string, d Decision) (string, error) {
	if strings.TrimSpace(d.Title) == "" {
		return "", &apperrors.ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if strings.TrimSpace(d.Rationale) == "" {
		return "", &apperrors.ValidationError{Field: "rationale", Reason: "must not be empty"}
	}
	switch d.Type {
	case TypeCompensation:
		if strings.TrimSpace(d.Amount) == "" {
			return "", &apperrors.ValidationError{Field: "amount", Reason: "a compensation decision requires an amount"}
		}
		if strings.TrimSpace(d.Currency) == "" {
			return "", &apperrors.ValidationError{Field: "currency", Reason: "a compensation decision requires a currency"}
		}
	case TypePromotion:
		if strings.TrimSpace(d.ToLevel) == "" {
			return "", &apperrors.ValidationError{Field: "toLevel", Reason: "a promotion decision requires a target level"}
		}
	default:
		return "", &apperrors.ValidationError{Field: "type", Reason: fmt.Sprintf("unknown decision type %q", d.Type)}
	}

	amountCipher, err := s.crypto.Encrypt([]byte(d.Amount))
	if err != nil {
		return "", err
	}

	id, err := s.store.Insert(ctx, s.store.DB, tenantID, d, amountCipher)
	if err != nil {
		return "", err
	}
	s.audit.Emit(ctx, tenantID, s.fact(ctx, "decision.created", id, "", StatusDraft, d.ProposerID, map[string]string{"type": d.Type, "employeeId": d.EmployeeID}))
	return id, nil
}

func (s *Service) Get(ctx context.Context, tenantID, decisionID string) (Decision, error) {
	d, cipher, err := s.store.Get(ctx, s.store.DB, tenantID, decisionID, false)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Decision{}, &apperrors.NotFoundError{EntityType: "decision", EntityID: decisionID}
		}
		return Decision{}, err
	}
	return s.withAmount(d, cipher)
}

func (s *Service) List(ctx context.Context, tenantID, employeeID, decisionType string) ([]Decision, error) {
	rows, ciphers, err := s.store.List(ctx, tenantID, employeeID, decisionType)
	if err != nil {
		return nil, err
	}
	out := make([]Decision, 0, len(rows))
	for i, d := range rows {
		decrypted, err := s.withAmount(d, ciphers[i])
		if err != nil {
			return nil, err
		}
		out = append(out, decrypted)
	}
	return out, nil
}

func (s *Service) Evidence(ctx context.Context, tenantID, decisionID string) ([]EvidenceRef, error) {
	if _, err := s.Get(ctx, tenantID, decisionID); err != nil {
		return nil, err
	}
	return s.store.ListEvidence(ctx, s.store.DB, tenantID, decisionID)
}

// LinkEvidence cites verified evidence on a still-editable decision.
func (s *Service) LinkEvidence(ctx context.Context, tenantID, decisionID string, ref EvidenceRef) error {
	if ref.Weight < 0 {
		return &apperrors.ValidationError{Field: "weight", Reason: "must not be negative"}
	}

	d, err := s.Get(ctx, tenantID, decisionID)
	if err != nil {
		return err
	}
	if IsImmutable(d.Status) {
		return &apperrors.StateMismatchError{EntityType: "decision", EntityID: decisionID, Current: d.Status, Required: "an editable status"}
	}

	e, err := s.evidence.Get(ctx, tenantID, ref.EvidenceID)
	if err != nil {
		return err
	}
	if e.Status != evidence.StatusVerified {
		return &apperrors.EvidenceNotVerifiedError{EvidenceID: ref.EvidenceID, Status: e.Status}
	}
	if e.EmployeeID != d.EmployeeID {
		return &apperrors.ValidationError{Field: "evidenceId", Reason: "evidence does not belong to the decision's employee"}
	}

	return s.store.LinkEvidence(ctx, s.store.DB, tenantID, decisionID, ref)
}

// Submit sends a draft or deferred decision for approval. A decision that
// cites a performance rating must be evidence-backed.
func (s *Service) Submit(ctx context.Context, tenantID, decisionID, actorID string) error {
	return s.transition(ctx, tenantID, decisionID, StatusPendingApproval, actorID, "", "", func(d Decision) error {
		count, err := s.store.EvidenceCount(ctx, s.store.DB, tenantID, decisionID)
		if err != nil {
			return err
		}
		return ValidateSubmission(d, count)
	})
}

// Approve requires a second pair of eyes: the proposer cannot approve
// their own decision.
func (s *Service) Approve(ctx context.Context, tenantID, decisionID, approverID string) error {
	var employeeID, title string
	err := s.transition(ctx, tenantID, decisionID, StatusApproved, approverID, "", approverID, func(d Decision) error {
		if d.ProposerID == approverID {
			return &apperrors.ValidationError{Field: "approverId", Reason: "a decision cannot be approved by its proposer"}
		}
		employeeID, title = d.EmployeeID, d.Title
		return nil
	})
	if err != nil {
		return err
	}
	s.notifyEmployee(ctx, tenantID, employeeID, "decision_approved", "Decision approved: "+title,
		"A decision concerning you has been approved.")
	return nil
}

func (s *Service) Reject(ctx context.Context, tenantID, decisionID, reason, approverID string) error {
	if strings.TrimSpace(reason) == "" {
		return &apperrors.ValidationError{Field: "reason", Reason: "a rejection reason is required"}
	}
	var employeeID, title string
	err := s.transition(ctx, tenantID, decisionID, StatusRejected, approverID, reason, approverID, func(d Decision) error {
		employeeID, title = d.EmployeeID, d.Title
		return nil
	})
	if err != nil {
		return err
	}
	s.notifyEmployee(ctx, tenantID, employeeID, "decision_rejected", "Decision rejected: "+title,
		"A decision concerning you has been rejected.")
	return nil
}

// notifyEmployee is post-commit and best effort; an employee without a user
// account simply gets nothing.
func (s *Service) notifyEmployee(ctx context.Context, tenantID, employeeID, ntype, title, body string) {
	if s.directory == nil || s.notify == nil {
		return
	}
	userID, err := s.directory.EmployeeUserID(ctx, tenantID, employeeID)
	if err != nil || userID == "" {
		return
	}
	_ = s.notify.Create(ctx, tenantID, userID, ntype, title, body)
}

// Defer parks a promotion for a later cycle.
func (s *Service) Defer(ctx context.Context, tenantID, decisionID, actorID string) error {
	return s.transition(ctx, tenantID, decisionID, StatusDeferred, actorID, "", "", nil)
}

// Implement records that the approved decision took effect, stamped with
// the reference it was filed under in the downstream payroll or HRIS system.
func (s *Service) Implement(ctx context.Context, tenantID, decisionID string, effective time.Time, externalRef, actorID string) error {
	if effective.IsZero() {
		return &apperrors.ValidationError{Field: "effectiveDate", Reason: "an effective date is required"}
	}
	if strings.TrimSpace(externalRef) == "" {
		return &apperrors.ValidationError{Field: "externalRef", Reason: "an external system reference is required"}
	}

	tx, err := s.store.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	d, _, err := s.store.Get(ctx, tx, tenantID, decisionID, true)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &apperrors.NotFoundError{EntityType: "decision", EntityID: decisionID}
		}
		return err
	}
	if !CanTransition(d.Type, d.Status, StatusImplemented) {
		return &apperrors.StateMismatchError{EntityType: "decision", EntityID: decisionID, Current: d.Status, Required: StatusApproved}
	}

	if err := s.store.UpdateImplementation(ctx, tx, tenantID, decisionID, effective, externalRef); err != nil {
		return err
	}
	ok, err := s.store.UpdateStatus(ctx, tx, tenantID, decisionID, d.Status, StatusImplemented, "", "")
	if err != nil {
		return err
	}
	if !ok {
		return &apperrors.ConcurrentModificationError{EntityType: "decision", EntityID: decisionID, Expected: d.Status}
	}
	fact := s.fact(ctx, "decision.implemented", decisionID, d.Status, StatusImplemented, actorID, map[string]string{"effectiveDate": effective.Format("2006-01-02"), "externalRef": externalRef})
	if err := s.audit.Record(ctx, tx, tenantID, fact); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Service) Cancel(ctx context.Context, tenantID, decisionID, actorID string) error {
	return s.transition(ctx, tenantID, decisionID, StatusCancelled, actorID, "", "", nil)
}

// transition moves the decision to next with an optimistic write. check, if
// given, runs against the freshly loaded decision before the write.
func (s *Service) transition(ctx context.Context, tenantID, decisionID, next, actorID, rejectReason, approverID string, check func(Decision) error) error {
	tx, err := s.store.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	d, _, err := s.store.Get(ctx, tx, tenantID, decisionID, true)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &apperrors.NotFoundError{EntityType: "decision", EntityID: decisionID}
		}
		return err
	}
	if !CanTransition(d.Type, d.Status, next) {
		return &apperrors.StateMismatchError{EntityType: "decision", EntityID: decisionID, Current: d.Status, Required: requiredFor(next)}
	}
	if check != nil {
		if err := check(d); err != nil {
			return err
		}
	}

	ok, err := s.store.UpdateStatus(ctx, tx, tenantID, decisionID, d.Status, next, rejectReason, approverID)
	if err != nil {
		return err
	}
	if !ok {
		return &apperrors.ConcurrentModificationError{EntityType: "decision", EntityID: decisionID, Expected: d.Status}
	}

	details := map[string]string{}
	if rejectReason != "" {
		details["reason"] = rejectReason
	}
	fact := s.fact(ctx, "decision."+next, decisionID, d.Status, next, actorID, details)
	if err := s.audit.Record(ctx, tx, tenantID, fact); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// requiredFor names the status a transition expects, for error messages.
func requiredFor(next string) string {
	switch next {
	case StatusPendingApproval:
		return StatusDraft
	case StatusApproved, StatusRejected, StatusDeferred:
		return StatusPendingApproval
	case StatusImplemented:
		return StatusApproved
	default:
		return "a non-terminal status"
	}
}

func (s *Service) withAmount(d Decision, cipher []byte) (Decision, error) {
	if len(cipher) == 0 {
		return d, nil
	}
	plain, err := s.crypto.Decrypt(cipher)
	if err != nil {
		return Decision{}, err
	}
	d.Amount = string(plain)
	return d, nil
}

func (s *Service) fact(ctx context.Context, action, decisionID, prev, next, actorID string, details any) audit.Fact {
	return audit.Fact{
		Action:        action,
		EntityType:    "decision",
		EntityID:      decisionID,
		PreviousState: prev,
		NewState:      next,
		ActorID:       actorID,
		RequestID:     requestctx.GetRequestID(ctx),
		IP:            requestctx.GetClientIP(ctx),
		Details:       details,
	}
}
