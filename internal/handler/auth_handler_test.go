package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/pendant/internal/model"
)

// mockAuthService はAuthServiceInterfaceのモック実装。
type mockAuthService struct {
	isAuthorizedFn          func(userID string) bool
	authorizationURLFn      func(userID string) string
	completeAuthorizationFn func(ctx context.Context, code, userID string) error

	revoked []string
}

func (m *mockAuthService) IsAuthorized(userID string) bool {
	if m.isAuthorizedFn != nil {
		return m.isAuthorizedFn(userID)
	}
	return false
}

func (m *mockAuthService) AuthorizationURL(userID string) string {
	if m.authorizationURLFn != nil {
		return m.authorizationURLFn(userID)
	}
	return ""
}

func (m *mockAuthService) CompleteAuthorization(ctx context.Context, code, userID string) error {
	if m.completeAuthorizationFn != nil {
		return m.completeAuthorizationFn(ctx, code, userID)
	}
	return nil
}

func (m *mockAuthService) Revoke(ctx context.Context, userID string) {
	m.revoked = append(m.revoked, userID)
}

// --- GET /api/auth/status テスト ---

func TestAuthHandler_Status_ReturnsAuthorizedAndConfigured(t *testing.T) {
	svc := &mockAuthService{
		isAuthorizedFn:     func(userID string) bool { return true },
		authorizationURLFn: func(userID string) string { return "https://accounts.google.com/o/oauth2/auth" },
	}
	h := NewAuthHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/status", nil)
	req = withUserID(req, "user-1")
	w := httptest.NewRecorder()

	h.Status(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}

	var result authStatusResponse
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !result.Authorized {
		t.Error("authorized should be true")
	}
	if !result.Configured {
		t.Error("configured should be true")
	}
}

func TestAuthHandler_Status_Unconfigured(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{})

	req := httptest.NewRequest(http.MethodGet, "/api/auth/status", nil)
	req = withUserID(req, "user-1")
	w := httptest.NewRecorder()

	h.Status(w, req)

	var result authStatusResponse
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result.Authorized || result.Configured {
		t.Errorf("unexpected status: %+v", result)
	}
}

// --- GET /api/auth/google/url テスト ---

func TestAuthHandler_AuthURL_ReturnsURL(t *testing.T) {
	svc := &mockAuthService{
		authorizationURLFn: func(userID string) string {
			return "https://accounts.google.com/o/oauth2/auth?state=" + userID
		},
	}
	h := NewAuthHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/google/url", nil)
	req = withUserID(req, "user-1")
	w := httptest.NewRecorder()

	h.AuthURL(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}

	var result authURLResponse
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !strings.Contains(result.URL, "state=user-1") {
		t.Errorf("URL = %q, should carry the user ID as state", result.URL)
	}
}

func TestAuthHandler_AuthURL_NotConfigured_Returns503(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{})

	req := httptest.NewRequest(http.MethodGet, "/api/auth/google/url", nil)
	req = withUserID(req, "user-1")
	w := httptest.NewRecorder()

	h.AuthURL(w, req)

	if w.Result().StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusServiceUnavailable)
	}

	body := parseAPIErrorResponse(t, w)
	if body["code"] != model.ErrCodeNotConfigured {
		t.Errorf("code = %q, want %q", body["code"], model.ErrCodeNotConfigured)
	}
}

// --- GET /api/auth/google/callback テスト ---

func TestAuthHandler_Callback_CompletesAuthorization(t *testing.T) {
	var gotCode, gotUserID string
	svc := &mockAuthService{
		completeAuthorizationFn: func(ctx context.Context, code, userID string) error {
			gotCode = code
			gotUserID = userID
			return nil
		},
	}
	h := NewAuthHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/google/callback?code=auth-code&state=user-1", nil)
	w := httptest.NewRecorder()

	h.Callback(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
	if gotCode != "auth-code" {
		t.Errorf("code = %q, want %q", gotCode, "auth-code")
	}
	// stateには認可フロー開始時のユーザーIDが入る
	if gotUserID != "user-1" {
		t.Errorf("userID = %q, want %q", gotUserID, "user-1")
	}
	if ct := w.Result().Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q, want text/html", ct)
	}
}

func TestAuthHandler_Callback_MissingParams_Returns400(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{})

	req := httptest.NewRequest(http.MethodGet, "/api/auth/google/callback?code=auth-code", nil)
	w := httptest.NewRecorder()

	h.Callback(w, req)

	if w.Result().StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusBadRequest)
	}
}

func TestAuthHandler_Callback_ExchangeFailure_Returns500(t *testing.T) {
	svc := &mockAuthService{
		completeAuthorizationFn: func(ctx context.Context, code, userID string) error {
			return context.DeadlineExceeded
		},
	}
	h := NewAuthHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/google/callback?code=bad&state=user-1", nil)
	w := httptest.NewRecorder()

	h.Callback(w, req)

	if w.Result().StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusInternalServerError)
	}
}

// --- POST /api/auth/google/disconnect テスト ---

func TestAuthHandler_Disconnect_Returns204(t *testing.T) {
	svc := &mockAuthService{}
	h := NewAuthHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/google/disconnect", nil)
	req = withUserID(req, "user-1")
	w := httptest.NewRecorder()

	h.Disconnect(w, req)

	if w.Result().StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusNoContent)
	}
	if len(svc.revoked) != 1 || svc.revoked[0] != "user-1" {
		t.Errorf("revoked = %v, want [user-1]", svc.revoked)
	}
}
