package device

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// CapturedPhoto はデバイスのカメラから取得した撮影結果。
type CapturedPhoto struct {
	ID          string
	Data        []byte
	Timestamp   time.Time
	ContentType string
	Filename    string
	Size        int64
}

// Camera は撮影機能のインターフェース。テスト時にモックに差し替え可能。
type Camera interface {
	// RequestPhoto はデバイスに撮影を要求し、写真データを取得する。
	// デバイスゲートウェイが未設定の場合はConfiguredがfalseを返す。
	RequestPhoto(ctx context.Context, userID string) (*CapturedPhoto, error)
	// Configured は撮影機能が利用可能かを返す。
	Configured() bool
}

// CameraClientConfig はCameraClientの設定。
type CameraClientConfig struct {
	// GatewayURL はデバイスゲートウェイのベースURL。空の場合は撮影機能が無効になる。
	GatewayURL string
	// APIKey はゲートウェイの認証キー。
	APIKey string
	// Timeout は撮影リクエスト1回のタイムアウト。
	Timeout time.Duration
}

// CameraClient はデバイスゲートウェイ経由で撮影を行うCameraの実装。
type CameraClient struct {
	config     CameraClientConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// NewCameraClient はCameraClientを生成する。
func NewCameraClient(config CameraClientConfig, logger *slog.Logger) *CameraClient {
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	return &CameraClient{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     logger,
	}
}

// Configured はゲートウェイURLが設定されているかを返す。
func (c *CameraClient) Configured() bool {
	return c.config.GatewayURL != ""
}

// captureResponse はゲートウェイの撮影レスポンス。
type captureResponse struct {
	ID          string `json:"id"`
	Data        string `json:"data"` // base64エンコード
	Timestamp   int64  `json:"timestamp"`
	ContentType string `json:"content_type"`
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
}

// RequestPhoto はデバイスに撮影を要求する。
func (c *CameraClient) RequestPhoto(ctx context.Context, userID string) (*CapturedPhoto, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("device gateway is not configured")
	}

	endpoint := strings.TrimRight(c.config.GatewayURL, "/") + "/v1/devices/" + userID + "/capture"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("capture request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read capture response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		// 診断用にステータスと先頭のみ記録する
		c.logger.Warn("撮影リクエストがエラーを返しました",
			slog.String("user_id", userID),
			slog.Int("status", resp.StatusCode),
			slog.String("body", truncate(string(body), 256)),
		)
		return nil, fmt.Errorf("capture failed with status %d", resp.StatusCode)
	}

	var cr captureResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return nil, fmt.Errorf("failed to parse capture response: %w", err)
	}

	data, err := base64.StdEncoding.DecodeString(cr.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode photo data: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty photo data in response")
	}

	contentType := cr.ContentType
	if contentType == "" {
		contentType = "image/jpeg"
	}

	// timestamp省略時はゼロ値のまま返し、呼び出し側の受信時刻フォールバックに委ねる
	var capturedAt time.Time
	if cr.Timestamp != 0 {
		capturedAt = time.Unix(cr.Timestamp, 0)
	}

	return &CapturedPhoto{
		ID:          cr.ID,
		Data:        data,
		Timestamp:   capturedAt,
		ContentType: contentType,
		Filename:    cr.Filename,
		Size:        int64(len(data)),
	}, nil
}

// truncate はログ出力用に文字列をmax文字で切り詰める。
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// compile-time interface check
var _ Camera = (*CameraClient)(nil)
