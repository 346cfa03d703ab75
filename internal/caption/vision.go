// Package caption は撮影済み写真への非同期キャプション付与を提供する。
// 低速になりうる画像説明APIの呼び出しを撮影パスから切り離し、
// 完了時に保存済みの写真レコードをその場で1回だけ更新する。
package caption

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultVisionPrompt = "この写真に写っているものを1〜2文の日本語で簡潔に説明してください。"

// Describer は画像説明生成のインターフェース。テスト時にモックに差し替え可能。
type Describer interface {
	// Describe は画像データの説明文を生成する。
	Describe(ctx context.Context, data []byte, contentType string) (string, error)
	// Configured は画像説明機能が利用可能かを返す。
	Configured() bool
}

// SafeClientProvider はSSRF防止機能付きHTTPクライアントの生成インターフェース。
type SafeClientProvider interface {
	NewSafeClient(timeout time.Duration) *http.Client
}

// VisionClientConfig はVisionClientの設定。
type VisionClientConfig struct {
	// APIURL は画像説明APIのエンドポイント（OpenAI互換のchat completions）。
	APIURL string
	// APIKey は画像説明APIの認証キー。空の場合は機能が無効になる。
	APIKey string
	// Model は使用するモデル名。
	Model string
	// Timeout はAPI呼び出し1回のタイムアウト。
	Timeout time.Duration
}

// VisionClient はOpenAI互換の画像説明APIを呼び出すDescriberの実装。
type VisionClient struct {
	config     VisionClientConfig
	httpClient *http.Client
}

// NewVisionClient はVisionClientを生成する。
// 外向きHTTPクライアントはguardから取得し、SSRF防止を常時有効にする。
func NewVisionClient(config VisionClientConfig, guard SafeClientProvider) *VisionClient {
	if config.APIURL == "" {
		config.APIURL = "https://api.openai.com/v1/chat/completions"
	}
	if config.Model == "" {
		config.Model = "gpt-4o-mini"
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &VisionClient{
		config:     config,
		httpClient: guard.NewSafeClient(config.Timeout),
	}
}

// Configured はAPIキーが設定されているかを返す。
func (c *VisionClient) Configured() bool {
	return c.config.APIKey != ""
}

// visionRequest は画像説明APIへのリクエストボディ。
type visionRequest struct {
	Model     string          `json:"model"`
	Messages  []visionMessage `json:"messages"`
	MaxTokens int             `json:"max_tokens"`
}

type visionMessage struct {
	Role    string          `json:"role"`
	Content []visionContent `json:"content"`
}

type visionContent struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *visionImageURL `json:"image_url,omitempty"`
}

type visionImageURL struct {
	URL string `json:"url"`
}

// visionResponse は画像説明APIのレスポンスボディ。
type visionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Describe は画像データの説明文を生成する。
func (c *VisionClient) Describe(ctx context.Context, data []byte, contentType string) (string, error) {
	if !c.Configured() {
		return "", fmt.Errorf("vision API is not configured")
	}

	dataURL := "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
	reqBody := visionRequest{
		Model: c.config.Model,
		Messages: []visionMessage{
			{
				Role: "user",
				Content: []visionContent{
					{Type: "text", Text: defaultVisionPrompt},
					{Type: "image_url", ImageURL: &visionImageURL{URL: dataURL}},
				},
			},
		},
		MaxTokens: 120,
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to encode vision request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.APIURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create vision request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("vision request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read vision response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("vision API returned status %d: %s", resp.StatusCode, truncate(string(body), 256))
	}

	var vr visionResponse
	if err := json.Unmarshal(body, &vr); err != nil {
		return "", fmt.Errorf("failed to parse vision response: %w", err)
	}
	if len(vr.Choices) == 0 {
		return "", fmt.Errorf("empty choices in vision response")
	}

	return vr.Choices[0].Message.Content, nil
}

// truncate はログ・エラー出力用に文字列をmax文字で切り詰める。
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// compile-time interface check
var _ Describer = (*VisionClient)(nil)
