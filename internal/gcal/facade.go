// Package gcal はカレンダープロバイダーのファサードを提供する。
// 認可フロー（認可URL生成・コールバック・連携解除）の入り口も兼ねるが、
// クレデンシャルの実体はメールファサードと共有するTokenVaultが保持する。
package gcal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/pendant/internal/model"
	"github.com/hitoshi/pendant/internal/vault"
)

const defaultBaseURL = "https://www.googleapis.com"

// Event はカレンダーの予定1件を表す。
type Event struct {
	ID      string    `json:"id"`
	Summary string    `json:"summary"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
}

// EventDraft は作成する予定の内容を表す。
type EventDraft struct {
	Summary string    `json:"summary"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
}

// Facade はカレンダープロバイダーのファサード。
type Facade struct {
	vault      *vault.Vault
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string // テスト用にオーバーライド可能
}

// Config はFacadeの設定。
type Config struct {
	// BaseURL はAPIのベースURL。テスト用。空の場合はGoogle Calendar APIを使用する。
	BaseURL string
	// Timeout はAPI呼び出し1回のタイムアウト。
	Timeout time.Duration
}

// NewFacade はFacadeを生成する。
func NewFacade(v *vault.Vault, logger *slog.Logger, config Config) *Facade {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	return &Facade{
		vault:      v,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     logger,
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
	}
}

// IsAuthorized はユーザーのクレデンシャルが存在するかを返す。
func (f *Facade) IsAuthorized(userID string) bool {
	return f.vault.IsAuthorized(userID)
}

// AuthorizationURL は同意画面URLを生成する。未設定時は空文字列を返す。
func (f *Facade) AuthorizationURL(userID string) string {
	return f.vault.AuthorizationURL(userID)
}

// CompleteAuthorization は認可コードを交換し、クレデンシャルを保存する。
// 保存されたクレデンシャルはメールファサードからも同一のものが観測される。
func (f *Facade) CompleteAuthorization(ctx context.Context, code, userID string) error {
	return f.vault.CompleteAuthorization(ctx, code, userID)
}

// Revoke は連携を解除する。プロバイダー側の失効はベストエフォート。
func (f *Facade) Revoke(ctx context.Context, userID string) {
	f.vault.Revoke(ctx, userID)
}

// StoreTokens はVaultからのクレデンシャル更新通知を受け取る。
func (f *Facade) StoreTokens(userID string, tokens *model.TokenSet) {
	f.logger.Info("カレンダーファサードのクレデンシャルが更新されました",
		slog.String("user_id", userID),
		slog.Bool("authorized", tokens.Valid()),
	)
}

// --- Google Calendar APIレスポンス型 ---

type eventTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

type eventResource struct {
	ID      string    `json:"id,omitempty"`
	Summary string    `json:"summary"`
	Start   eventTime `json:"start"`
	End     eventTime `json:"end"`
}

type eventListResponse struct {
	Items []eventResource `json:"items"`
}

// Events は指定期間の予定を開始時刻順に取得する。
func (f *Facade) Events(ctx context.Context, userID string, start, end time.Time) ([]*Event, error) {
	var events []*Event
	err := f.vault.Do(ctx, userID, func(ctx context.Context, tokens *model.TokenSet) error {
		params := url.Values{
			"timeMin":      {start.Format(time.RFC3339)},
			"timeMax":      {end.Format(time.RFC3339)},
			"singleEvents": {"true"},
			"orderBy":      {"startTime"},
		}
		listURL := f.baseURL + "/calendar/v3/calendars/primary/events?" + params.Encode()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, listURL, nil)
		if err != nil {
			return fmt.Errorf("failed to create events request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)

		resp, err := f.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("events request failed: %w", err)
		}
		defer resp.Body.Close()

		if err := f.checkStatus(resp, "予定一覧の取得"); err != nil {
			return err
		}

		var list eventListResponse
		if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
			return fmt.Errorf("failed to parse events response: %w", err)
		}

		events = events[:0]
		for _, item := range list.Items {
			events = append(events, toEvent(&item))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// CreateEvent は予定を作成し、作成された予定を返す。
func (f *Facade) CreateEvent(ctx context.Context, userID string, draft *EventDraft) (*Event, error) {
	if draft == nil || draft.Summary == "" {
		return nil, fmt.Errorf("予定のタイトルが指定されていません")
	}

	payload, err := json.Marshal(eventResource{
		Summary: draft.Summary,
		Start:   eventTime{DateTime: draft.Start.Format(time.RFC3339)},
		End:     eventTime{DateTime: draft.End.Format(time.RFC3339)},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode event: %w", err)
	}

	var created *Event
	err = f.vault.Do(ctx, userID, func(ctx context.Context, tokens *model.TokenSet) error {
		createURL := f.baseURL + "/calendar/v3/calendars/primary/events"
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, createURL, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to create event request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)

		resp, err := f.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("event request failed: %w", err)
		}
		defer resp.Body.Close()

		if err := f.checkStatus(resp, "予定の作成"); err != nil {
			return err
		}

		var res eventResource
		if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
			return fmt.Errorf("failed to parse event response: %w", err)
		}
		created = toEvent(&res)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// toEvent はAPIの予定リソースをEventへ変換する。
func toEvent(res *eventResource) *Event {
	return &Event{
		ID:      res.ID,
		Summary: res.Summary,
		Start:   parseEventTime(res.Start),
		End:     parseEventTime(res.End),
	}
}

// parseEventTime は日時指定（dateTime）と終日指定（date）の両方をパースする。
func parseEventTime(et eventTime) time.Time {
	if et.DateTime != "" {
		if t, err := time.Parse(time.RFC3339, et.DateTime); err == nil {
			return t
		}
	}
	if et.Date != "" {
		if t, err := time.Parse("2006-01-02", et.Date); err == nil {
			return t
		}
	}
	return time.Time{}
}

// checkStatus はレスポンスのステータスを検査し、エラーを分類する。
// 401は認可期限切れシグナル、それ以外の非2xxは本文の先頭付きで記録・返却する。
func (f *Facade) checkStatus(resp *http.Response, operation string) error {
	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%s: %w", operation, vault.ErrAuthExpired)
	}

	f.logger.Warn("カレンダーAPIがエラーを返しました",
		slog.String("operation", operation),
		slog.Int("status", resp.StatusCode),
		slog.String("body", string(body)),
	)
	return fmt.Errorf("%s failed with status %d", operation, resp.StatusCode)
}
