// Package shopping はショッピングセッションの作成を提供する。
// チェックアウトWebビュー自体は外部サービスが提供するため、
// ここではセッションURLの発行のみを行う。
package shopping

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/pendant/internal/model"
)

// Session はショッピングセッション1件を表す。
type Session struct {
	ID          string    `json:"id"`
	CheckoutURL string    `json:"checkout_url"`
	CreatedAt   time.Time `json:"created_at"`
}

// Config はServiceの設定。
type Config struct {
	// CheckoutBaseURL はチェックアウトWebビューのベースURL。
	// 空の場合はショッピング機能が無効になる。
	CheckoutBaseURL string
}

// Service はショッピングセッションの作成を行う。
// セッションはユーザーごとに最新の1件のみ保持する。
type Service struct {
	config Config
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewService はServiceを生成する。
func NewService(config Config, logger *slog.Logger) *Service {
	return &Service{
		config:   config,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Configured はショッピング機能が利用可能かを返す。
func (s *Service) Configured() bool {
	return s.config.CheckoutBaseURL != ""
}

// CreateSession はユーザーの新しいショッピングセッションを作成する。
// チェックアウトURLを返す。未設定の場合はNotConfiguredエラーを返す。
func (s *Service) CreateSession(ctx context.Context, userID string) (*Session, error) {
	if !s.Configured() {
		s.logger.Warn("チェックアウトURLが未設定のためショッピングセッションを作成できません",
			slog.String("user_id", userID),
		)
		return nil, model.NewNotConfiguredError("ショッピングチェックアウト")
	}

	session := &Session{
		ID:          uuid.New().String(),
		CheckoutURL: strings.TrimRight(s.config.CheckoutBaseURL, "/") + "/checkout?session=" + uuid.New().String(),
		CreatedAt:   time.Now(),
	}

	s.mu.Lock()
	s.sessions[userID] = session
	s.mu.Unlock()

	s.logger.Info("ショッピングセッションを作成しました",
		slog.String("user_id", userID),
		slog.String("session_id", session.ID),
	)
	return session, nil
}

// CurrentSession はユーザーの最新セッションを返す。存在しない場合はnil。
func (s *Service) CurrentSession(userID string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[userID]
}
