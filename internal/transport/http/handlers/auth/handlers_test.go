package authhandler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pms/internal/domain/auth"
	"pms/internal/transport/http/middleware"
)

func authed(t *testing.T, secret string, claims auth.Claims, next http.HandlerFunc) (http.Handler, string) {
	t.Helper()
	token, err := auth.GenerateToken(secret, claims, time.Hour)
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	return middleware.Auth(secret)(next), token
}

func TestHandleLoginRejectsBadPayload(t *testing.T) {
	h := NewHandler(&auth.Store{}, "secret")

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	h.HandleLogin(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleMeRequiresUser(t *testing.T) {
	h := NewHandler(&auth.Store{}, "secret")

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	rec := httptest.NewRecorder()
	h.HandleMe(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleMeReturnsClaims(t *testing.T) {
	secret := "test-secret"
	h := NewHandler(&auth.Store{}, secret)
	handler, token := authed(t, secret, auth.Claims{
		UserID:     "u1",
		TenantID:   "t1",
		EmployeeID: "e1",
		RoleID:     "r1",
		RoleName:   auth.RoleManager,
	}, h.HandleMe)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var envelope struct {
		Success bool              `json:"success"`
		Data    map[string]string `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !envelope.Success {
		t.Fatal("expected success envelope")
	}
	if envelope.Data["employeeId"] != "e1" || envelope.Data["role"] != auth.RoleManager {
		t.Fatalf("unexpected claims payload: %+v", envelope.Data)
	}
}

func TestHandleChangePasswordRejectsShortPassword(t *testing.T) {
	secret := "test-secret"
	h := NewHandler(&auth.Store{}, secret)
	handler, token := authed(t, secret, auth.Claims{UserID: "u1", TenantID: "t1", RoleID: "r1", RoleName: auth.RoleEmployee}, h.HandleChangePassword)

	req := httptest.NewRequest(http.MethodPost, "/auth/change-password", strings.NewReader(`{"currentPassword":"old","newPassword":"short"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for weak password, got %d", rec.Code)
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Error.Code != "weak_password" {
		t.Fatalf("expected weak_password code, got %q", envelope.Error.Code)
	}
}

func TestHandleLogoutAlwaysSucceeds(t *testing.T) {
	h := NewHandler(&auth.Store{}, "secret")

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	rec := httptest.NewRecorder()
	h.HandleLogout(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
