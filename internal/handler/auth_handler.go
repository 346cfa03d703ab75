package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/pendant/internal/middleware"
	"github.com/hitoshi/pendant/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とする認可操作。
type AuthServiceInterface interface {
	// IsAuthorized はユーザーのGoogle連携が有効かを返す。
	IsAuthorized(userID string) bool
	// AuthorizationURL は認可フロー開始URLを返す。未設定の場合は空文字列。
	AuthorizationURL(userID string) string
	// CompleteAuthorization は認可コードをトークンに交換して保管する。
	CompleteAuthorization(ctx context.Context, code, userID string) error
	// Revoke はプロバイダー側の失効とローカルトークンの破棄を行う。
	Revoke(ctx context.Context, userID string)
}

// AuthHandler はGoogle OAuth連携のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface) *AuthHandler {
	return &AuthHandler{service: service}
}

// authStatusResponse はGoogle連携状態のレスポンス。
type authStatusResponse struct {
	Authorized bool `json:"authorized"`
	Configured bool `json:"configured"`
}

// authURLResponse は認可フロー開始URLのレスポンス。
type authURLResponse struct {
	URL string `json:"url"`
}

// Status はGoogle連携の状態を返す。
// GET /api/auth/status
func (h *AuthHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	writeJSON(w, http.StatusOK, authStatusResponse{
		Authorized: h.service.IsAuthorized(userID),
		Configured: h.service.AuthorizationURL(userID) != "",
	})
}

// AuthURL は認可フロー開始URLを返す。
// GET /api/auth/google/url
func (h *AuthHandler) AuthURL(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	url := h.service.AuthorizationURL(userID)
	if url == "" {
		handleServiceError(w, model.NewNotConfiguredError("Google OAuth"))
		return
	}

	writeJSON(w, http.StatusOK, authURLResponse{URL: url})
}

// Callback はGoogleからの認可コールバックを処理する。
// リダイレクト先のためデバイス認証ミドルウェアの外に配置される。
// stateには認可フロー開始時のユーザーIDが入っている。
// GET /api/auth/google/callback
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")

	if code == "" || state == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "認可コードまたはstateがありません。",
			Category: "validation",
			Action:   "認可フローを最初からやり直してください。",
		})
		return
	}

	if err := h.service.CompleteAuthorization(r.Context(), code, state); err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("<html><body>Google連携が完了しました。この画面を閉じてください。</body></html>"))
}

// Disconnect はGoogle連携を解除する。
// POST /api/auth/google/disconnect
func (h *AuthHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	h.service.Revoke(r.Context(), userID)
	w.WriteHeader(http.StatusNoContent)
}
