// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
)

const (
	// deviceKeyHeader はデバイスゲートウェイ・UIが送信する共有シークレットのヘッダー。
	deviceKeyHeader = "X-Device-Key"
	// userIDHeader はリクエスト対象ユーザーを識別するヘッダー。
	userIDHeader = "X-User-ID"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
var userIDContextKey = contextKey("user_id")

// NewDeviceAuthMiddleware は共有シークレットによるデバイス認証ミドルウェアを返す。
// X-Device-Keyヘッダーを検証し、X-User-IDヘッダーのユーザーIDを
// リクエストコンテキストに注入する。検証失敗時は401 Unauthorizedを返す。
func NewDeviceAuthMiddleware(apiKey string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. 共有シークレットの検証（タイミング攻撃対策に定数時間比較）
			provided := r.Header.Get(deviceKeyHeader)
			if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			// 2. 対象ユーザーIDの取得
			userID := r.Header.Get(userIDHeader)
			if userID == "" {
				http.Error(w, "missing user id", http.StatusBadRequest)
				return
			}

			// 3. ユーザーIDをコンテキストに注入
			ctx := context.WithValue(r.Context(), userIDContextKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// デバイス認証ミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}
