package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"pms/internal/app/server"
	"pms/internal/domain/auth"
	"pms/internal/platform/config"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

type testApp struct {
	*server.App
	cfg config.Config
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if strings.TrimSpace(dbURL) == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	nano := time.Now().UnixNano()
	cfg := config.Config{
		DatabaseURL:        dbURL,
		JWTSecret:          "test-secret",
		DataEncryptionKey:  "0123456789abcdef0123456789abcdef",
		Environment:        "test",
		SeedTenantName:     fmt.Sprintf("Journey Tenant %d", nano),
		SeedAdminEmail:     fmt.Sprintf("admin-%d@journey.local", nano),
		SeedAdminPassword:  "AdminJourney123!",
		EmailFrom:          "no-reply@test.local",
		RunMigrations:      true,
		RunSeed:            true,
		MaxBodyBytes:       1 << 20,
		RateLimitPerMinute: 100000,
		OutlierStdDev:      2.0,
		LeniencyThreshold:  0.5,
		BiasMinSample:      3,
		ReportDir:          t.TempDir(),
	}

	app, err := server.New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("failed to start app: %v", err)
	}
	t.Cleanup(app.Close)
	return &testApp{App: app, cfg: cfg}
}

func (a *testApp) do(t *testing.T, method, path, token string, body any, headers map[string]string) (int, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "198.51.100.10:4321"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	a.Router.ServeHTTP(rec, req)

	var env envelope
	if len(rec.Body.Bytes()) > 0 && strings.Contains(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec.Code, env
}

func (a *testApp) login(t *testing.T, email, password string) string {
	t.Helper()
	status, env := a.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email":    email,
		"password": password,
	}, nil)
	if status != http.StatusOK {
		t.Fatalf("login as %s failed with %d", email, status)
	}
	var data struct {
		Token string `json:"token"`
	}
	decodeData(t, env, &data)
	if data.Token == "" {
		t.Fatal("expected token in login response")
	}
	return data.Token
}

func decodeData(t *testing.T, env envelope, out any) {
	t.Helper()
	if !env.Success {
		t.Fatalf("expected success envelope, got error %+v", env.Error)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		t.Fatalf("decode envelope data %q: %v", string(env.Data), err)
	}
}

// tenantFixtures creates a manager and a direct report, plus a second HR
// user who can approve decisions proposed by the seeded admin. The report
// gets a login of their own so the reviewee-facing flows can run as them.
type tenantFixtures struct {
	TenantID      string
	ManagerID     string
	ReportID      string
	ReportEmail   string
	ReportPass    string
	ApproverEmail string
	ApproverPass  string
}

func (a *testApp) seedFixtures(t *testing.T) tenantFixtures {
	t.Helper()
	ctx := context.Background()
	nano := time.Now().UnixNano()

	var tenantID string
	if err := a.DB.QueryRow(ctx, "SELECT id FROM tenants WHERE name = $1", a.cfg.SeedTenantName).Scan(&tenantID); err != nil {
		t.Fatalf("load tenant: %v", err)
	}

	var managerID string
	if err := a.DB.QueryRow(ctx, `
    INSERT INTO employees (tenant_id, first_name, last_name, email, department, level, status)
    VALUES ($1, 'Maya', 'Lin', $2, 'Engineering', 'M1', 'active')
    RETURNING id
  `, tenantID, fmt.Sprintf("maya-%d@journey.local", nano)).Scan(&managerID); err != nil {
		t.Fatalf("create manager: %v", err)
	}

	var reportID string
	if err := a.DB.QueryRow(ctx, `
    INSERT INTO employees (tenant_id, first_name, last_name, email, department, level, manager_id, status)
    VALUES ($1, 'Noah', 'Reyes', $2, 'Engineering', 'E4', $3, 'active')
    RETURNING id
  `, tenantID, fmt.Sprintf("noah-%d@journey.local", nano), managerID).Scan(&reportID); err != nil {
		t.Fatalf("create report: %v", err)
	}

	var employeeRoleID string
	if err := a.DB.QueryRow(ctx, "SELECT id FROM roles WHERE tenant_id = $1 AND name = $2", tenantID, auth.RoleEmployee).Scan(&employeeRoleID); err != nil {
		t.Fatalf("load employee role: %v", err)
	}

	reportEmail := fmt.Sprintf("noah-login-%d@journey.local", nano)
	reportPass := "ReportJourney123!"
	reportHash, err := auth.HashPassword(reportPass)
	if err != nil {
		t.Fatalf("hash report password: %v", err)
	}
	var reportUserID string
	if err := a.DB.QueryRow(ctx, `
    INSERT INTO users (tenant_id, email, password_hash, role_id)
    VALUES ($1, $2, $3, $4)
    RETURNING id
  `, tenantID, reportEmail, reportHash, employeeRoleID).Scan(&reportUserID); err != nil {
		t.Fatalf("create report user: %v", err)
	}
	if _, err := a.DB.Exec(ctx, "UPDATE employees SET user_id = $1 WHERE id = $2", reportUserID, reportID); err != nil {
		t.Fatalf("link report user: %v", err)
	}

	var hrRoleID string
	if err := a.DB.QueryRow(ctx, "SELECT id FROM roles WHERE tenant_id = $1 AND name = $2", tenantID, auth.RoleHR).Scan(&hrRoleID); err != nil {
		t.Fatalf("load hr role: %v", err)
	}

	approverEmail := fmt.Sprintf("approver-%d@journey.local", nano)
	approverPass := "ApproverJourney123!"
	hash, err := auth.HashPassword(approverPass)
	if err != nil {
		t.Fatalf("hash approver password: %v", err)
	}
	var approverID string
	if err := a.DB.QueryRow(ctx, `
    INSERT INTO users (tenant_id, email, password_hash, role_id)
    VALUES ($1, $2, $3, $4)
    RETURNING id
  `, tenantID, approverEmail, hash, hrRoleID).Scan(&approverID); err != nil {
		t.Fatalf("create approver user: %v", err)
	}

	return tenantFixtures{
		TenantID:      tenantID,
		ManagerID:     managerID,
		ReportID:      reportID,
		ReportEmail:   reportEmail,
		ReportPass:    reportPass,
		ApproverEmail: approverEmail,
		ApproverPass:  approverPass,
	}
}

func (a *testApp) advance(t *testing.T, token, cycleID string, headers map[string]string) (int, envelope) {
	t.Helper()
	return a.do(t, http.MethodPost, "/api/v1/cycles/"+cycleID+"/advance", token, nil, headers)
}

func (a *testApp) mustAdvance(t *testing.T, token, cycleID, wantPhase string) {
	t.Helper()
	status, env := a.advance(t, token, cycleID, nil)
	if status != http.StatusOK {
		t.Fatalf("advance to %s failed with %d: %+v", wantPhase, status, env.Error)
	}
	var cycle struct {
		Phase string `json:"phase"`
	}
	decodeData(t, env, &cycle)
	if cycle.Phase != wantPhase {
		t.Fatalf("expected phase %s after advance, got %s", wantPhase, cycle.Phase)
	}
}

func TestReviewCycleJourney(t *testing.T) {
	app := newTestApp(t)
	fx := app.seedFixtures(t)
	admin := app.login(t, app.cfg.SeedAdminEmail, app.cfg.SeedAdminPassword)
	approver := app.login(t, fx.ApproverEmail, fx.ApproverPass)

	// Goal and verified evidence for the report. The goal starts with some
	// progress already made, which must show up in its history.
	status, env := app.do(t, http.MethodPost, "/api/v1/goals", admin, map[string]any{
		"ownerId":  fx.ReportID,
		"title":    "Ship the billing migration",
		"type":     "individual",
		"weight":   1,
		"progress": 25,
	}, nil)
	if status != http.StatusCreated {
		t.Fatalf("create goal failed with %d: %+v", status, env.Error)
	}
	var created struct {
		ID string `json:"id"`
	}
	decodeData(t, env, &created)
	goalID := created.ID

	status, env = app.do(t, http.MethodGet, "/api/v1/goals/"+goalID+"/history", admin, nil, nil)
	if status != http.StatusOK {
		t.Fatalf("goal history failed with %d", status)
	}
	var history []struct {
		Progress float64 `json:"progress"`
	}
	decodeData(t, env, &history)
	if len(history) != 1 || history[0].Progress != 25 {
		t.Fatalf("expected one history entry at 25 for the initial progress, got %+v", history)
	}

	// Progress is bounded to [0, 100] inclusive.
	for _, bad := range []float64{-1, 100.01} {
		status, env = app.do(t, http.MethodPost, "/api/v1/goals/"+goalID+"/progress", admin, map[string]any{"progress": bad}, nil)
		if status != http.StatusBadRequest {
			t.Fatalf("progress %v accepted with %d: %+v", bad, status, env.Error)
		}
	}
	for _, edge := range []float64{0, 100} {
		status, env = app.do(t, http.MethodPost, "/api/v1/goals/"+goalID+"/progress", admin, map[string]any{"progress": edge}, nil)
		if status != http.StatusOK {
			t.Fatalf("progress %v rejected with %d: %+v", edge, status, env.Error)
		}
	}

	status, _ = app.do(t, http.MethodPost, "/api/v1/goals/"+goalID+"/progress", admin, map[string]any{
		"progress": 80,
		"note":     "cutover complete, backfill running",
	}, nil)
	if status != http.StatusOK {
		t.Fatalf("record progress failed with %d", status)
	}

	status, env = app.do(t, http.MethodPost, "/api/v1/evidence", admin, map[string]any{
		"employeeId": fx.ReportID,
		"title":      "Led the billing migration",
		"impact":     4,
		"effort":     3,
		"quality":    4,
		"complexity": 3,
	}, nil)
	if status != http.StatusCreated {
		t.Fatalf("create evidence failed with %d: %+v", status, env.Error)
	}
	decodeData(t, env, &created)
	evidenceID := created.ID

	if status, env = app.do(t, http.MethodPost, "/api/v1/evidence/"+evidenceID+"/verify", admin, nil, nil); status != http.StatusOK {
		t.Fatalf("verify evidence failed with %d: %+v", status, env.Error)
	}

	// Cycle with a self assessment window already open.
	now := time.Now().UTC()
	status, env = app.do(t, http.MethodPost, "/api/v1/cycles", admin, map[string]any{
		"name":           "FY26 Annual Review",
		"type":           "annual",
		"includeGoals":   true,
		"ratingScaleMax": 5,
		"windows": []map[string]string{
			{
				"phase":    "self_assessment",
				"startsAt": now.Add(-time.Hour).Format(time.RFC3339),
				"endsAt":   now.Add(2 * time.Hour).Format(time.RFC3339),
			},
		},
	}, nil)
	if status != http.StatusCreated {
		t.Fatalf("create cycle failed with %d: %+v", status, env.Error)
	}
	decodeData(t, env, &created)
	cycleID := created.ID

	if status, env = app.do(t, http.MethodPost, "/api/v1/cycles/"+cycleID+"/launch", admin, nil, nil); status != http.StatusOK {
		t.Fatalf("launch failed with %d: %+v", status, env.Error)
	}

	app.mustAdvance(t, admin, cycleID, "self_assessment")

	// Phase entry seeded one self review per employee.
	type reviewRow struct {
		ID         string `json:"id"`
		RevieweeID string `json:"revieweeId"`
		ReviewerID string `json:"reviewerId"`
		Type       string `json:"type"`
		Status     string `json:"status"`
	}
	listReviews := func() []reviewRow {
		status, env := app.do(t, http.MethodGet, "/api/v1/reviews/?cycleId="+cycleID, admin, nil, nil)
		if status != http.StatusOK {
			t.Fatalf("list reviews failed with %d", status)
		}
		var rows []reviewRow
		decodeData(t, env, &rows)
		return rows
	}
	findReview := func(rows []reviewRow, revieweeID, reviewType string) reviewRow {
		for _, r := range rows {
			if r.RevieweeID == revieweeID && r.Type == reviewType {
				return r
			}
		}
		t.Fatalf("no %s review for %s in %+v", reviewType, revieweeID, rows)
		return reviewRow{}
	}

	rows := listReviews()
	reportSelf := findReview(rows, fx.ReportID, "self")
	managerSelf := findReview(rows, fx.ManagerID, "self")

	draft := map[string]any{"content": map[string]string{
		"achievements": "Shipped the billing migration with zero data loss.",
		"strengths":    "Owns hard problems end to end.",
		"growth_areas": "Delegate more of the rollout toil.",
	}}

	if status, env = app.do(t, http.MethodPost, "/api/v1/reviews/"+reportSelf.ID+"/start", admin, nil, nil); status != http.StatusOK {
		t.Fatalf("start self review failed with %d: %+v", status, env.Error)
	}
	if status, env = app.do(t, http.MethodPut, "/api/v1/reviews/"+reportSelf.ID+"/draft", admin, draft, nil); status != http.StatusOK {
		t.Fatalf("save self draft failed with %d: %+v", status, env.Error)
	}
	if status, env = app.do(t, http.MethodPost, "/api/v1/reviews/"+reportSelf.ID+"/submit", admin, map[string]any{"rating": 4.0, "summary": "Strong year."}, nil); status != http.StatusOK {
		t.Fatalf("submit self review failed with %d: %+v", status, env.Error)
	}
	if status, env = app.do(t, http.MethodPost, "/api/v1/reviews/"+managerSelf.ID+"/waive", admin, map[string]string{"reason": "manager self assessments are out of scope this cycle"}, nil); status != http.StatusOK {
		t.Fatalf("waive manager self review failed with %d: %+v", status, env.Error)
	}

	app.mustAdvance(t, admin, cycleID, "manager_review")

	managerReview := findReview(listReviews(), fx.ReportID, "manager")

	if status, env = app.do(t, http.MethodPost, "/api/v1/reviews/"+managerReview.ID+"/start", admin, nil, nil); status != http.StatusOK {
		t.Fatalf("start manager review failed with %d: %+v", status, env.Error)
	}
	if status, env = app.do(t, http.MethodPut, "/api/v1/reviews/"+managerReview.ID+"/draft", admin, draft, nil); status != http.StatusOK {
		t.Fatalf("save manager draft failed with %d: %+v", status, env.Error)
	}
	if status, env = app.do(t, http.MethodPost, "/api/v1/reviews/"+managerReview.ID+"/goals", admin, map[string]any{
		"goalId":         goalID,
		"achievementPct": 80,
		"weight":         1,
	}, nil); status != http.StatusCreated {
		t.Fatalf("link goal failed with %d: %+v", status, env.Error)
	}

	// A goal cited by a review can no longer be deleted.
	status, env = app.do(t, http.MethodDelete, "/api/v1/goals/"+goalID, admin, nil, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 deleting a review-cited goal, got %d: %+v", status, env.Error)
	}

	// A manager review can only be assigned to the reviewee's actual manager.
	status, env = app.do(t, http.MethodPost, "/api/v1/reviews/", admin, map[string]any{
		"cycleId":    cycleID,
		"revieweeId": fx.ManagerID,
		"reviewerId": fx.ReportID,
		"type":       "manager",
	}, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 assigning a manager review to a non-manager, got %d: %+v", status, env.Error)
	}
	if status, env = app.do(t, http.MethodPost, "/api/v1/reviews/"+managerReview.ID+"/evidence", admin, map[string]any{
		"evidenceId": evidenceID,
		"weight":     1,
		"relevance":  "delivered the migration this review covers",
	}, nil); status != http.StatusCreated {
		t.Fatalf("link evidence failed with %d: %+v", status, env.Error)
	}

	status, env = app.do(t, http.MethodPost, "/api/v1/reviews/"+managerReview.ID+"/submit", admin, map[string]any{"rating": 4.5, "summary": "Exceeded expectations."}, nil)
	if status != http.StatusOK {
		t.Fatalf("submit manager review failed with %d: %+v", status, env.Error)
	}
	var submitted struct {
		Status        string   `json:"status"`
		OverallRating *float64 `json:"overallRating"`
	}
	decodeData(t, env, &submitted)
	if submitted.Status != "submitted" || submitted.OverallRating == nil || *submitted.OverallRating != 4.5 {
		t.Fatalf("unexpected submitted review: %+v", submitted)
	}

	app.mustAdvance(t, admin, cycleID, "calibration")

	// Entering calibration opened exactly one active session.
	status, env = app.do(t, http.MethodGet, "/api/v1/calibration/sessions?cycleId="+cycleID, admin, nil, nil)
	if status != http.StatusOK {
		t.Fatalf("list sessions failed with %d", status)
	}
	var sessions []struct {
		ID            string `json:"id"`
		Status        string `json:"status"`
		FacilitatorID string `json:"facilitatorId"`
	}
	decodeData(t, env, &sessions)
	if len(sessions) != 1 || sessions[0].Status != "active" {
		t.Fatalf("expected one active session, got %+v", sessions)
	}
	if sessions[0].FacilitatorID == "" {
		t.Fatal("expected the advancing user stamped as facilitator")
	}
	sessionID := sessions[0].ID

	if status, _ = app.do(t, http.MethodGet, "/api/v1/calibration/sessions/"+sessionID+"/statistics", admin, nil, nil); status != http.StatusOK {
		t.Fatalf("statistics failed with %d", status)
	}

	if status, env = app.do(t, http.MethodPost, "/api/v1/calibration/sessions/"+sessionID+"/adjust", admin, map[string]any{
		"reviewId":       managerReview.ID,
		"previousRating": 4.5,
		"newRating":      4.0,
		"rationale":      "aligned with the Engineering distribution",
	}, nil); status != http.StatusOK {
		t.Fatalf("adjust rating failed with %d: %+v", status, env.Error)
	}

	// A second facilitator working from the stale 4.5 must get a conflict,
	// not silently overwrite the adjustment.
	status, env = app.do(t, http.MethodPost, "/api/v1/calibration/sessions/"+sessionID+"/adjust", admin, map[string]any{
		"reviewId":       managerReview.ID,
		"previousRating": 4.5,
		"newRating":      3.5,
		"rationale":      "still seems high",
	}, nil)
	if status != http.StatusConflict {
		t.Fatalf("expected 409 for a stale adjustment, got %d: %+v", status, env.Error)
	}
	if env.Error == nil || env.Error.Code != "concurrent_modification" {
		t.Fatalf("expected concurrent_modification, got %+v", env.Error)
	}

	// The waived self review never produced a rating, so it is out of the
	// session's reach.
	status, env = app.do(t, http.MethodPost, "/api/v1/calibration/sessions/"+sessionID+"/adjust", admin, map[string]any{
		"reviewId":       managerSelf.ID,
		"previousRating": 3.0,
		"newRating":      4.0,
		"rationale":      "should not work",
	}, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 adjusting a waived review, got %d: %+v", status, env.Error)
	}

	status, env = app.do(t, http.MethodGet, "/api/v1/calibration/sessions/"+sessionID+"/adjustments", admin, nil, nil)
	if status != http.StatusOK {
		t.Fatalf("list adjustments failed with %d", status)
	}
	var adjustments []struct {
		ReviewID  string  `json:"reviewId"`
		NewRating float64 `json:"newRating"`
	}
	decodeData(t, env, &adjustments)
	if len(adjustments) != 1 || adjustments[0].ReviewID != managerReview.ID || adjustments[0].NewRating != 4.0 {
		t.Fatalf("unexpected adjustments: %+v", adjustments)
	}

	if status, env = app.do(t, http.MethodPost, "/api/v1/calibration/sessions/"+sessionID+"/complete", admin, nil, nil); status != http.StatusOK {
		t.Fatalf("complete session failed with %d: %+v", status, env.Error)
	}

	// Advance into finalization with an Idempotency-Key; the retried request
	// must replay the stored response instead of advancing again.
	key := fmt.Sprintf("advance-%d", time.Now().UnixNano())
	status, env = app.advance(t, admin, cycleID, map[string]string{"Idempotency-Key": key})
	if status != http.StatusOK {
		t.Fatalf("advance to finalization failed with %d: %+v", status, env.Error)
	}
	var cycleState struct {
		Phase string `json:"phase"`
	}
	decodeData(t, env, &cycleState)
	if cycleState.Phase != "finalization" {
		t.Fatalf("expected finalization, got %s", cycleState.Phase)
	}

	status, env = app.advance(t, admin, cycleID, map[string]string{"Idempotency-Key": key})
	if status != http.StatusOK {
		t.Fatalf("idempotent advance replay failed with %d: %+v", status, env.Error)
	}
	decodeData(t, env, &cycleState)
	if cycleState.Phase != "finalization" {
		t.Fatalf("replayed advance moved the cycle to %s", cycleState.Phase)
	}

	// The reviewee can sign off as soon as finalization stamps the review;
	// signing the same review again later is a no-op.
	report := app.login(t, fx.ReportEmail, fx.ReportPass)
	if status, env = app.do(t, http.MethodPost, "/api/v1/reviews/"+managerReview.ID+"/acknowledge", report, nil, nil); status != http.StatusOK {
		t.Fatalf("acknowledge in finalization failed with %d: %+v", status, env.Error)
	}

	app.mustAdvance(t, admin, cycleID, "sharing")

	if status, env = app.do(t, http.MethodPost, "/api/v1/reviews/"+managerReview.ID+"/acknowledge", report, nil, nil); status != http.StatusOK {
		t.Fatalf("repeated acknowledge failed with %d: %+v", status, env.Error)
	}

	app.mustAdvance(t, admin, cycleID, "completed")

	// Promotion decision backed by the verified evidence, approved by a
	// second HR user and implemented.
	status, env = app.do(t, http.MethodPost, "/api/v1/decisions", admin, map[string]any{
		"type":              "promotion",
		"employeeId":        fx.ReportID,
		"cycleId":           cycleID,
		"reviewId":          managerReview.ID,
		"title":             "Promote to Senior Engineer",
		"rationale":         "Sustained senior-level impact across the billing migration.",
		"performanceRating": 4.0,
		"fromLevel":         "E4",
		"toLevel":           "E5",
	}, nil)
	if status != http.StatusCreated {
		t.Fatalf("create decision failed with %d: %+v", status, env.Error)
	}
	decodeData(t, env, &created)
	decisionID := created.ID

	// A decision that cites a rating cannot go to approval unevidenced.
	status, env = app.do(t, http.MethodPost, "/api/v1/decisions/"+decisionID+"/submit", admin, nil, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 submitting a rated decision without evidence, got %d: %+v", status, env.Error)
	}

	if status, env = app.do(t, http.MethodPost, "/api/v1/decisions/"+decisionID+"/evidence", admin, map[string]any{
		"evidenceId": evidenceID,
		"weight":     2,
		"relevance":  "the migration the promotion case rests on",
		"note":       "primary supporting work",
	}, nil); status != http.StatusCreated {
		t.Fatalf("link decision evidence failed with %d: %+v", status, env.Error)
	}

	if status, env = app.do(t, http.MethodPost, "/api/v1/decisions/"+decisionID+"/submit", admin, nil, nil); status != http.StatusOK {
		t.Fatalf("submit decision failed with %d: %+v", status, env.Error)
	}

	// The proposer cannot approve their own decision.
	status, env = app.do(t, http.MethodPost, "/api/v1/decisions/"+decisionID+"/approve", admin, nil, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for self approval, got %d", status)
	}

	if status, env = app.do(t, http.MethodPost, "/api/v1/decisions/"+decisionID+"/approve", approver, nil, nil); status != http.StatusOK {
		t.Fatalf("approve decision failed with %d: %+v", status, env.Error)
	}

	// The employee the decision is about gets told once it is approved.
	status, env = app.do(t, http.MethodGet, "/api/v1/notifications/", report, nil, nil)
	if status != http.StatusOK {
		t.Fatalf("list notifications failed with %d", status)
	}
	var notes []map[string]any
	decodeData(t, env, &notes)
	foundApproval := false
	for _, n := range notes {
		if n["type"] == "decision_approved" {
			foundApproval = true
		}
	}
	if !foundApproval {
		t.Fatalf("expected a decision_approved notification, got %+v", notes)
	}
	// Implementation stamps both the effective date and the reference in the
	// downstream system; without the reference nothing happened there yet.
	status, env = app.do(t, http.MethodPost, "/api/v1/decisions/"+decisionID+"/implement", admin, map[string]string{
		"effectiveDate": "2026-09-01",
	}, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 implementing without an external reference, got %d: %+v", status, env.Error)
	}
	if status, env = app.do(t, http.MethodPost, "/api/v1/decisions/"+decisionID+"/implement", admin, map[string]string{
		"effectiveDate": "2026-09-01",
		"externalRef":   "HRIS-2026-0042",
	}, nil); status != http.StatusOK {
		t.Fatalf("implement decision failed with %d: %+v", status, env.Error)
	}

	status, env = app.do(t, http.MethodGet, "/api/v1/decisions/"+decisionID, admin, nil, nil)
	if status != http.StatusOK {
		t.Fatalf("get decision failed with %d", status)
	}
	var decision struct {
		Status      string `json:"status"`
		ToLevel     string `json:"toLevel"`
		ExternalRef string `json:"externalRef"`
	}
	decodeData(t, env, &decision)
	if decision.Status != "implemented" {
		t.Fatalf("expected implemented decision, got %+v", decision)
	}
	if decision.ExternalRef != "HRIS-2026-0042" {
		t.Fatalf("expected the HRIS reference on the decision, got %+v", decision)
	}

	// The whole journey left an audit trail readable by HR.
	status, env = app.do(t, http.MethodGet, "/api/v1/audit/events", admin, nil, nil)
	if status != http.StatusOK {
		t.Fatalf("list audit events failed with %d", status)
	}
	var events []map[string]any
	decodeData(t, env, &events)
	if len(events) == 0 {
		t.Fatal("expected audit events for the journey")
	}

	if status, _ = app.do(t, http.MethodGet, "/api/v1/reports/dashboard/hr", admin, nil, nil); status != http.StatusOK {
		t.Fatalf("hr dashboard failed with %d", status)
	}
}

// A calibration session can only touch reviews in its own cycle. A review id
// from another cycle, even a real submitted one in the same tenant, is
// rejected and left untouched.
func TestCalibrationSessionScopedToOwnCycle(t *testing.T) {
	app := newTestApp(t)
	fx := app.seedFixtures(t)
	admin := app.login(t, app.cfg.SeedAdminEmail, app.cfg.SeedAdminPassword)
	ctx := context.Background()

	insertCycle := func(name string) string {
		var id string
		if err := app.DB.QueryRow(ctx, `
      INSERT INTO review_cycles (tenant_id, name, type, phase, aggregation_method, rating_scale_max)
      VALUES ($1, $2, 'quarterly', 'calibration', 'manager_entered', 5)
      RETURNING id
    `, fx.TenantID, name).Scan(&id); err != nil {
			t.Fatalf("insert cycle %s: %v", name, err)
		}
		return id
	}
	insertSubmittedReview := func(cycleID string, rating float64) string {
		var id string
		if err := app.DB.QueryRow(ctx, `
      INSERT INTO reviews (tenant_id, cycle_id, reviewee_id, reviewer_id, type, status, overall_rating, submitted_at)
      VALUES ($1, $2, $3, $4, 'manager', 'submitted', $5, now())
      RETURNING id
    `, fx.TenantID, cycleID, fx.ReportID, fx.ManagerID, rating).Scan(&id); err != nil {
			t.Fatalf("insert review: %v", err)
		}
		return id
	}

	cycleA := insertCycle("Scope Cycle A")
	cycleB := insertCycle("Scope Cycle B")
	reviewA := insertSubmittedReview(cycleA, 4.0)
	reviewB := insertSubmittedReview(cycleB, 4.5)

	var sessionID string
	if err := app.DB.QueryRow(ctx, `
    INSERT INTO calibration_sessions (tenant_id, cycle_id, status)
    VALUES ($1, $2, 'active')
    RETURNING id
  `, fx.TenantID, cycleA).Scan(&sessionID); err != nil {
		t.Fatalf("insert session: %v", err)
	}

	status, env := app.do(t, http.MethodPost, "/api/v1/calibration/sessions/"+sessionID+"/adjust", admin, map[string]any{
		"reviewId":       reviewB,
		"previousRating": 4.5,
		"newRating":      3.5,
		"rationale":      "wrong cycle, must not land",
	}, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 adjusting a review from another cycle, got %d: %+v", status, env.Error)
	}
	if env.Error == nil || env.Error.Code != "validation_error" {
		t.Fatalf("expected validation_error, got %+v", env.Error)
	}

	status, env = app.do(t, http.MethodPost, "/api/v1/calibration/sessions/"+sessionID+"/adjust", admin, map[string]any{
		"reviewId":       reviewA,
		"previousRating": 4.0,
		"newRating":      3.5,
		"rationale":      "aligned within the session's own cycle",
	}, nil)
	if status != http.StatusOK {
		t.Fatalf("adjust inside the session's cycle failed with %d: %+v", status, env.Error)
	}

	var otherStatus string
	var otherCalibrated *float64
	if err := app.DB.QueryRow(ctx,
		"SELECT status, calibrated_rating FROM reviews WHERE id = $1", reviewB,
	).Scan(&otherStatus, &otherCalibrated); err != nil {
		t.Fatalf("reload other cycle's review: %v", err)
	}
	if otherStatus != "submitted" || otherCalibrated != nil {
		t.Fatalf("review in another cycle was modified: status=%s calibrated=%v", otherStatus, otherCalibrated)
	}

	// Accepting records the rating the review actually carries now, so a
	// second facilitator cannot smuggle in a different number.
	status, env = app.do(t, http.MethodPost, "/api/v1/calibration/sessions/"+sessionID+"/accept", admin, map[string]any{
		"reviewId":  reviewA,
		"rating":    4.0,
		"rationale": "stale read of the original rating",
	}, nil)
	if status != http.StatusConflict {
		t.Fatalf("expected 409 accepting at a stale rating, got %d: %+v", status, env.Error)
	}

	status, env = app.do(t, http.MethodPost, "/api/v1/calibration/sessions/"+sessionID+"/accept", admin, map[string]any{
		"reviewId":  reviewA,
		"rationale": "calibrated value stands",
	}, nil)
	if status != http.StatusOK {
		t.Fatalf("accept failed with %d: %+v", status, env.Error)
	}

	var recorded float64
	if err := app.DB.QueryRow(ctx, `
    SELECT previous_rating FROM calibration_adjustments
    WHERE session_id = $1 AND review_id = $2 AND resolution = 'accepted'
  `, sessionID, reviewA).Scan(&recorded); err != nil {
		t.Fatalf("reload accept row: %v", err)
	}
	if recorded != 3.5 {
		t.Fatalf("accept recorded %v, want the review's current 3.5", recorded)
	}

	// Narrowing the session's scope filters the statistics to reviewees
	// inside it; the sole reviewee here sits at level E4.
	readSampleCount := func() int {
		status, env := app.do(t, http.MethodGet, "/api/v1/calibration/sessions/"+sessionID+"/statistics", admin, nil, nil)
		if status != http.StatusOK {
			t.Fatalf("statistics failed with %d: %+v", status, env.Error)
		}
		var report struct {
			SampleCount int `json:"sampleCount"`
		}
		decodeData(t, env, &report)
		return report.SampleCount
	}

	if status, env = app.do(t, http.MethodPost, "/api/v1/calibration/sessions/"+sessionID+"/scope", admin, map[string]string{"level": "M1"}, nil); status != http.StatusOK {
		t.Fatalf("set scope failed with %d: %+v", status, env.Error)
	}
	if n := readSampleCount(); n != 0 {
		t.Fatalf("M1 scope sample count = %d, want 0", n)
	}
	if status, env = app.do(t, http.MethodPost, "/api/v1/calibration/sessions/"+sessionID+"/scope", admin, map[string]string{"level": "E4"}, nil); status != http.StatusOK {
		t.Fatalf("reset scope failed with %d: %+v", status, env.Error)
	}
	if n := readSampleCount(); n != 1 {
		t.Fatalf("E4 scope sample count = %d, want 1", n)
	}
}

func TestCycleAdvanceGateBlocksOpenReviews(t *testing.T) {
	app := newTestApp(t)
	app.seedFixtures(t)
	admin := app.login(t, app.cfg.SeedAdminEmail, app.cfg.SeedAdminPassword)

	now := time.Now().UTC()
	status, env := app.do(t, http.MethodPost, "/api/v1/cycles", admin, map[string]any{
		"name": "Gate Check Cycle",
		"type": "quarterly",
		"windows": []map[string]string{
			{
				"phase":    "self_assessment",
				"startsAt": now.Add(-time.Hour).Format(time.RFC3339),
				"endsAt":   now.Add(time.Hour).Format(time.RFC3339),
			},
		},
	}, nil)
	if status != http.StatusCreated {
		t.Fatalf("create cycle failed with %d: %+v", status, env.Error)
	}
	var created struct {
		ID string `json:"id"`
	}
	decodeData(t, env, &created)
	cycleID := created.ID

	if status, env = app.do(t, http.MethodPost, "/api/v1/cycles/"+cycleID+"/launch", admin, nil, nil); status != http.StatusOK {
		t.Fatalf("launch failed with %d: %+v", status, env.Error)
	}
	app.mustAdvance(t, admin, cycleID, "self_assessment")

	// Both seeded self reviews are still open, so the gate must hold.
	status, env = app.advance(t, admin, cycleID, nil)
	if status != http.StatusConflict {
		t.Fatalf("expected 409 from the phase gate, got %d", status)
	}
	if env.Error == nil || env.Error.Code != "phase_gate_blocked" {
		t.Fatalf("expected phase_gate_blocked, got %+v", env.Error)
	}

	// Cancelling needs a reason.
	status, env = app.do(t, http.MethodPost, "/api/v1/cycles/"+cycleID+"/cancel", admin, map[string]string{}, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing cancel reason, got %d", status)
	}

	status, env = app.do(t, http.MethodPost, "/api/v1/cycles/"+cycleID+"/cancel", admin, map[string]string{"reason": "reorg"}, nil)
	if status != http.StatusOK {
		t.Fatalf("cancel failed with %d: %+v", status, env.Error)
	}

	// A cancelled cycle is terminal.
	status, env = app.advance(t, admin, cycleID, nil)
	if status != http.StatusConflict {
		t.Fatalf("expected 409 advancing a cancelled cycle, got %d", status)
	}
	if env.Error == nil || env.Error.Code != "state_mismatch" {
		t.Fatalf("expected state_mismatch, got %+v", env.Error)
	}
}
