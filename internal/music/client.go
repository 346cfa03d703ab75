// Package music は楽曲生成ベンダーとの連携を提供する。
// ジョブ送信・状態ポーリングのクライアント、ジョブIDと所有ユーザーの
// 対応を管理するトラッカー、ポーリングワーカーを含む。
package music

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// JobStatus はベンダーのポーリング結果を表す。
// 省略されたフィールドは空文字列となり、トラッカーは既存値を維持する（部分更新）。
type JobStatus struct {
	Status   string            `json:"status"`
	Title    string            `json:"title,omitempty"`
	AudioURL string            `json:"audio_url,omitempty"`
	ImageURL string            `json:"image_url,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// SafeClientProvider はSSRF防止機能付きHTTPクライアントの生成インターフェース。
// ベンダーAPIへの外向きリクエストにもDialerレベルのIP検証を適用する。
type SafeClientProvider interface {
	NewSafeClient(timeout time.Duration) *http.Client
}

// Generator は楽曲生成ベンダーのインターフェース。テスト時にモックに差し替え可能。
type Generator interface {
	// Submit は生成ジョブを送信し、ベンダー発行のジョブIDを返す。
	Submit(ctx context.Context, prompt, tags string) (string, error)
	// PollStatus はジョブの現在状態を取得する。
	PollStatus(ctx context.Context, jobID string) (*JobStatus, error)
	// Configured は楽曲生成機能が利用可能かを返す。
	Configured() bool
}

// ClientConfig は楽曲生成APIクライアントの設定。
type ClientConfig struct {
	// APIURL は楽曲生成APIのベースURL。
	APIURL string
	// APIKey は認証キー。空の場合は機能が無効になる。
	APIKey string
	// Timeout はAPI呼び出し1回のタイムアウト。
	Timeout time.Duration
}

// Client は楽曲生成APIを呼び出すGeneratorの実装。
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient はClientを生成する。
// 外向きHTTPクライアントはguardから取得し、SSRF防止を常時有効にする。
func NewClient(config ClientConfig, guard SafeClientProvider, logger *slog.Logger) *Client {
	if config.APIURL == "" {
		config.APIURL = "https://api.sunoapi.org"
	}
	if config.Timeout <= 0 {
		config.Timeout = 20 * time.Second
	}
	return &Client{
		config:     config,
		httpClient: guard.NewSafeClient(config.Timeout),
		logger:     logger,
	}
}

// Configured はAPIキーが設定されているかを返す。
func (c *Client) Configured() bool {
	return c.config.APIKey != ""
}

// submitRequest は生成ジョブ送信のリクエストボディ。
type submitRequest struct {
	Prompt string `json:"prompt"`
	Tags   string `json:"tags"`
}

// submitResponse は生成ジョブ送信のレスポンスボディ。
type submitResponse struct {
	JobID string `json:"job_id"`
}

// Submit は生成ジョブを送信する。
func (c *Client) Submit(ctx context.Context, prompt, tags string) (string, error) {
	if !c.Configured() {
		return "", fmt.Errorf("music API is not configured")
	}

	payload, err := json.Marshal(submitRequest{Prompt: prompt, Tags: tags})
	if err != nil {
		return "", fmt.Errorf("failed to encode submit request: %w", err)
	}

	endpoint := strings.TrimRight(c.config.APIURL, "/") + "/v1/generate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("submit request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read submit response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		c.logger.Warn("楽曲生成ジョブの送信がエラーを返しました",
			slog.Int("status", resp.StatusCode),
			slog.String("body", truncate(string(body), 256)),
		)
		return "", fmt.Errorf("submit failed with status %d", resp.StatusCode)
	}

	var sr submitResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return "", fmt.Errorf("failed to parse submit response: %w", err)
	}
	if sr.JobID == "" {
		return "", fmt.Errorf("empty job id in submit response")
	}

	return sr.JobID, nil
}

// PollStatus はジョブの現在状態を取得する。
func (c *Client) PollStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("music API is not configured")
	}

	endpoint := strings.TrimRight(c.config.APIURL, "/") + "/v1/generate/" + jobID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create poll request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read poll response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("楽曲生成ジョブのポーリングがエラーを返しました",
			slog.String("job_id", jobID),
			slog.Int("status", resp.StatusCode),
			slog.String("body", truncate(string(body), 256)),
		)
		return nil, fmt.Errorf("poll failed with status %d", resp.StatusCode)
	}

	var st JobStatus
	if err := json.Unmarshal(body, &st); err != nil {
		return nil, fmt.Errorf("failed to parse poll response: %w", err)
	}

	return &st, nil
}

// truncate はログ出力用に文字列をmax文字で切り詰める。
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// compile-time interface check
var _ Generator = (*Client)(nil)
