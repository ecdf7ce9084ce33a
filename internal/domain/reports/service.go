package reports

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jung-kurt/gofpdf"

	"pms/internal/domain/calibration"
	cryptoutil "pms/internal/platform/crypto"
)

type Service struct {
	Store       *Store
	calibration *calibration.Service
	crypto      *cryptoutil.Service
	reportDir   string
}

func NewService(store *Store, calibrationSvc *calibration.Service, cryptoSvc *cryptoutil.Service, reportDir string) *Service {
	return &Service{Store: store, calibration: calibrationSvc, crypto: cryptoSvc, reportDir: reportDir}
}

func (s *Service) EmployeeIDByUserID(ctx context.Context, tenantID, userID string) (string, error) {
	return s.Store.EmployeeIDByUserID(ctx, tenantID, userID)
}

func (s *Service) ReportDir() string {
	return s.reportDir
}

// EmployeeDashboard summarizes the employee's own work in the current
// cycles.
func (s *Service) EmployeeDashboard(ctx context.Context, tenantID, employeeID string) (map[string]any, error) {
	goalCount, err := s.Store.GoalCount(ctx, tenantID, employeeID)
	if err != nil {
		return nil, err
	}
	openTasks, err := s.Store.OpenReviewTasks(ctx, tenantID, employeeID)
	if err != nil {
		return nil, err
	}
	shared, err := s.Store.SharedReviews(ctx, tenantID, employeeID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"goals":                goalCount,
		"openReviewTasks":      openTasks,
		"reviewsToAcknowledge": shared,
	}, nil
}

func (s *Service) ManagerDashboard(ctx context.Context, tenantID, managerEmployeeID string) (map[string]any, error) {
	openTasks, err := s.Store.OpenReviewTasks(ctx, tenantID, managerEmployeeID)
	if err != nil {
		return nil, err
	}
	teamOpen, err := s.Store.TeamOpenReviews(ctx, tenantID, managerEmployeeID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"openReviewTasks": openTasks,
		"teamOpenReviews": teamOpen,
	}, nil
}

func (s *Service) HRDashboard(ctx context.Context, tenantID string) (map[string]any, error) {
	cycles, err := s.Store.ActiveCycles(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	sessions, err := s.Store.ActiveSessions(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	decisions, err := s.Store.PendingDecisions(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	evidence, err := s.Store.PendingEvidence(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"activeCycles":     cycles,
		"activeSessions":   sessions,
		"pendingDecisions": decisions,
		"evidenceToVerify": evidence,
	}, nil
}

func (s *Service) JobRuns(ctx context.Context, tenantID, jobType string, limit, offset int) ([]map[string]any, error) {
	return s.Store.ListJobRuns(ctx, tenantID, jobType, limit, offset)
}

// GenerateSessionPDF renders the calibration session summary to disk and
// returns the file path. With an encryption key configured the PDF is
// stored encrypted.
func (s *Service) GenerateSessionPDF(ctx context.Context, tenantID, sessionID string) (string, error) {
	header, err := s.Store.SessionHeader(ctx, tenantID, sessionID)
	if err != nil {
		return "", err
	}
	report, err := s.calibration.Statistics(ctx, tenantID, sessionID)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(s.reportDir, 0o755); err != nil {
		return "", err
	}
	filePath := filepath.Join(s.reportDir, "calibration-"+sessionID+".pdf")

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(40, 10, "Calibration Session Summary")
	pdf.Ln(12)
	pdf.SetFont("Helvetica", "", 12)
	pdf.Cell(0, 8, fmt.Sprintf("Cycle: %s", header.CycleName))
	pdf.Ln(7)
	pdf.Cell(0, 8, fmt.Sprintf("Session: %s (%s)", header.SessionID, header.Status))
	pdf.Ln(7)
	pdf.Cell(0, 8, fmt.Sprintf("Ratings: %d   Org mean: %.2f   Std dev: %.2f", report.SampleCount, report.OrgMean, report.OrgStdDev))
	pdf.Ln(7)
	pdf.Cell(0, 8, fmt.Sprintf("Percentiles: p25 %.2f   p50 %.2f   p75 %.2f   p90 %.2f",
		report.Percentiles["p25"], report.Percentiles["p50"], report.Percentiles["p75"], report.Percentiles["p90"]))
	pdf.Ln(10)

	pdf.SetFont("Helvetica", "B", 13)
	pdf.Cell(0, 8, "Raters")
	pdf.Ln(8)
	pdf.SetFont("Helvetica", "", 11)
	for _, rater := range report.Raters {
		line := fmt.Sprintf("%s: n=%d mean=%.2f sd=%.2f", rater.RaterID, rater.Count, rater.Mean, rater.StdDev)
		if rater.Bias != "" {
			line += "  [" + rater.Bias + "]"
		}
		pdf.Cell(0, 6, line)
		pdf.Ln(6)
	}

	pdf.Ln(4)
	pdf.SetFont("Helvetica", "B", 13)
	pdf.Cell(0, 8, fmt.Sprintf("Outliers (%d)", len(report.Outliers)))
	pdf.Ln(8)
	pdf.SetFont("Helvetica", "", 11)
	for _, outlier := range report.Outliers {
		pdf.Cell(0, 6, fmt.Sprintf("review %s: rating %.2f, group z %.2f, rater delta %+.2f",
			outlier.ReviewID, outlier.Rating, outlier.GroupZ, outlier.RaterDelta))
		pdf.Ln(6)
	}

	if err := pdf.OutputFileAndClose(filePath); err != nil {
		return "", err
	}

	if s.crypto != nil && s.crypto.Configured() {
		data, err := os.ReadFile(filePath)
		if err != nil {
			return "", err
		}
		encrypted, err := s.crypto.Encrypt(data)
		if err != nil {
			return "", err
		}
		encryptedPath := filePath + ".enc"
		if err := os.WriteFile(encryptedPath, encrypted, 0o600); err != nil {
			return "", err
		}
		if err := os.Remove(filePath); err != nil {
			return "", err
		}
		return encryptedPath, nil
	}

	return filePath, nil
}

// ReadSessionPDF returns the rendered report bytes, decrypting the stored
// file when encryption is configured.
func (s *Service) ReadSessionPDF(sessionID string) ([]byte, error) {
	filePath := filepath.Join(s.reportDir, "calibration-"+sessionID+".pdf")
	if data, err := os.ReadFile(filePath); err == nil {
		return data, nil
	}
	encrypted, err := os.ReadFile(filePath + ".enc")
	if err != nil {
		return nil, err
	}
	if s.crypto == nil || !s.crypto.Configured() {
		return nil, fmt.Errorf("report %s is encrypted and no key is configured", sessionID)
	}
	return s.crypto.Decrypt(encrypted)
}
