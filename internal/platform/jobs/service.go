package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"pms/internal/domain/notifications"
	"pms/internal/platform/config"
)

const (
	JobReviewReminders = "review_reminders"
	JobStaleSessions   = "stale_calibration_sessions"
)

// reminderLead is how close a phase window's end has to be before open
// reviews trigger a reminder.
const reminderLead = 72 * time.Hour

type Service struct {
	DB     *pgxpool.Pool
	Cfg    config.Config
	Notify *notifications.Service
	queue  chan job
	cancel context.CancelFunc
}

type job struct {
	Type     string
	TenantID string
	Run      func(context.Context) (any, error)
}

func New(db *pgxpool.Pool, cfg config.Config, notify *notifications.Service) *Service {
	return &Service{
		DB:     db,
		Cfg:    cfg,
		Notify: notify,
		queue:  make(chan job, 128),
	}
}

func (s *Service) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.worker(ctx)
	if s.Cfg.ReminderInterval > 0 {
		go s.scheduleSweeps(ctx, s.Cfg.ReminderInterval)
	}
}

func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Service) Enqueue(jobType, tenantID string, run func(context.Context) (any, error)) {
	select {
	case s.queue <- job{Type: jobType, TenantID: tenantID, Run: run}:
	default:
		slog.Warn("job queue full", "jobType", jobType, "tenantId", tenantID)
	}
}

func (s *Service) RunNow(ctx context.Context, jobType, tenantID string, run func(context.Context) (any, error)) (any, error) {
	return s.runJob(ctx, job{Type: jobType, TenantID: tenantID, Run: run})
}

func (s *Service) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.queue:
			if _, err := s.runJob(ctx, j); err != nil {
				slog.Warn("job run failed", "jobType", j.Type, "tenantId", j.TenantID, "err", err)
			}
		}
	}
}

func (s *Service) runJob(ctx context.Context, j job) (any, error) {
	runID := ""
	if err := s.DB.QueryRow(ctx, `
    INSERT INTO job_runs (tenant_id, job_type, status)
    VALUES ($1,$2,$3)
    RETURNING id
  `, j.TenantID, j.Type, "running").Scan(&runID); err != nil {
		slog.Warn("job run insert failed", "err", err)
	}

	details, err := j.Run(ctx)
	status := "completed"
	if err != nil {
		status = "failed"
	}
	detailsJSON, marshalErr := json.Marshal(details)
	if marshalErr != nil {
		slog.Warn("job details marshal failed", "err", marshalErr)
		detailsJSON = []byte("{}")
	}
	if runID != "" {
		if _, updErr := s.DB.Exec(ctx, `
      UPDATE job_runs
      SET status = $1, details_json = $2, completed_at = now()
      WHERE id = $3
    `, status, detailsJSON, runID); updErr != nil {
			slog.Warn("job run update failed", "err", updErr)
		}
	}
	return details, err
}

func (s *Service) scheduleSweeps(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tenants, err := s.listTenants(ctx)
			if err != nil {
				slog.Warn("sweep scheduler tenant lookup failed", "err", err)
				continue
			}
			for _, tenantID := range tenants {
				tenant := tenantID
				s.Enqueue(JobReviewReminders, tenant, func(ctx context.Context) (any, error) {
					return s.SweepReminders(ctx, tenant)
				})
				s.Enqueue(JobStaleSessions, tenant, func(ctx context.Context) (any, error) {
					return s.SweepStaleSessions(ctx, tenant)
				})
			}
		}
	}
}

type dueReview struct {
	userID    string
	cycleName string
	phase     string
	endsAt    time.Time
}

// SweepReminders nudges reviewers whose open reviews sit in a phase whose
// window closes within the lead time. The sweep only notifies; advancing a
// cycle stays an explicit command.
func (s *Service) SweepReminders(ctx context.Context, tenantID string) (any, error) {
	due, err := s.dueReviews(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	sent := 0
	for _, d := range due {
		title := fmt.Sprintf("Review due soon: %s", d.cycleName)
		body := fmt.Sprintf("The %s window of cycle %q closes on %s and a review assigned to you is still open.",
			d.phase, d.cycleName, d.endsAt.Format("2006-01-02"))
		if err := s.Notify.Create(ctx, tenantID, d.userID, notifications.TypeReviewReminder, title, body); err != nil {
			slog.Warn("reminder notification failed", "tenantId", tenantID, "err", err)
			continue
		}
		sent++
	}
	return map[string]any{"dueReviews": len(due), "remindersSent": sent}, nil
}

// dueReviews joins open reviews with the window of the cycle's current
// phase; a reminder repeats only after a day without one.
func (s *Service) dueReviews(ctx context.Context, tenantID string) ([]dueReview, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT DISTINCT e.user_id, rc.name, rc.phase, w.ends_at
    FROM reviews r
    JOIN review_cycles rc ON rc.id = r.cycle_id AND rc.tenant_id = r.tenant_id
    JOIN review_cycle_windows w ON w.cycle_id = rc.id AND w.tenant_id = rc.tenant_id AND w.phase = rc.phase
    JOIN employees e ON e.id = r.reviewer_id AND e.tenant_id = r.tenant_id
    WHERE r.tenant_id = $1
      AND r.status IN ('not_started','in_progress')
      AND rc.phase IN ('self_assessment','manager_review')
      AND w.ends_at BETWEEN now() AND now() + make_interval(secs => $2)
      AND e.user_id IS NOT NULL
      AND NOT EXISTS (
        SELECT 1 FROM notifications n
        WHERE n.tenant_id = r.tenant_id AND n.user_id = e.user_id
          AND n.type = 'review_reminder' AND n.created_at > now() - interval '1 day'
      )
  `, tenantID, reminderLead.Seconds())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var due []dueReview
	for rows.Next() {
		var d dueReview
		if err := rows.Scan(&d.userID, &d.cycleName, &d.phase, &d.endsAt); err != nil {
			return nil, err
		}
		due = append(due, d)
	}
	return due, nil
}

// SweepStaleSessions counts calibration sessions still active after their
// cycle's calibration window closed, so HR sees them on the job log.
func (s *Service) SweepStaleSessions(ctx context.Context, tenantID string) (any, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT cs.id, rc.name
    FROM calibration_sessions cs
    JOIN review_cycles rc ON rc.id = cs.cycle_id AND rc.tenant_id = cs.tenant_id
    JOIN review_cycle_windows w ON w.cycle_id = rc.id AND w.tenant_id = rc.tenant_id AND w.phase = 'calibration'
    WHERE cs.tenant_id = $1 AND cs.status = 'active' AND w.ends_at < now()
  `, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stale []map[string]string
	for rows.Next() {
		var sessionID, cycleName string
		if err := rows.Scan(&sessionID, &cycleName); err != nil {
			return nil, err
		}
		stale = append(stale, map[string]string{"sessionId": sessionID, "cycle": cycleName})
	}
	return map[string]any{"staleSessions": stale, "count": len(stale)}, nil
}

func (s *Service) listTenants(ctx context.Context) ([]string, error) {
	rows, err := s.DB.Query(ctx, `SELECT id FROM tenants`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
