// Package vault はOAuth2クレデンシャルの保管とライフサイクル管理を提供する。
// ユーザーごとに高々1つのトークンセットを保持し、期限切れ時の透過的な
// リフレッシュと失効処理を単一のコードパスに集約する。
package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultGoogleAuthURL   = "https://accounts.google.com/o/oauth2/auth"
	defaultGoogleTokenURL  = "https://oauth2.googleapis.com/token"
	defaultGoogleRevokeURL = "https://oauth2.googleapis.com/revoke"
)

// googleScopes はメール・カレンダー両ファサードが必要とするスコープ。
// 両ファサードは同一のトークンセットを共有するため、スコープも一括で要求する。
const googleScopes = "https://www.googleapis.com/auth/gmail.modify https://www.googleapis.com/auth/calendar"

// GoogleOAuthConfig はGoogle OAuthプロバイダーの設定。
type GoogleOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// テスト用にオーバーライド可能なURL
	AuthURL   string
	TokenURL  string
	RevokeURL string
}

// GoogleOAuthClient はGoogle OAuth 2.0のトークンエンドポイントを操作する。
type GoogleOAuthClient struct {
	config     GoogleOAuthConfig
	httpClient *http.Client
}

// NewGoogleOAuthClient はGoogleOAuthClientを生成する。
func NewGoogleOAuthClient(config GoogleOAuthConfig) *GoogleOAuthClient {
	if config.AuthURL == "" {
		config.AuthURL = defaultGoogleAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultGoogleTokenURL
	}
	if config.RevokeURL == "" {
		config.RevokeURL = defaultGoogleRevokeURL
	}
	return &GoogleOAuthClient{
		config:     config,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Configured はクライアントクレデンシャルが設定されているかを返す。
// 未設定の場合、認可URL生成を含むすべての操作は空結果に縮退する。
func (c *GoogleOAuthClient) Configured() bool {
	return c.config.ClientID != "" && c.config.ClientSecret != ""
}

// AuthCodeURL はGoogle OAuthの同意画面URLを生成する。
// stateには呼び出し元のユーザーIDを不透明な値として埋め込む。
// オフラインアクセスを要求し、リフレッシュトークンを確実に取得する。
func (c *GoogleOAuthClient) AuthCodeURL(state string) string {
	params := url.Values{
		"client_id":     {c.config.ClientID},
		"redirect_uri":  {c.config.RedirectURL},
		"response_type": {"code"},
		"scope":         {googleScopes},
		"state":         {state},
		"access_type":   {"offline"},
		"prompt":        {"consent"},
	}
	return c.config.AuthURL + "?" + params.Encode()
}

// googleTokenResponse はGoogleのトークンエンドポイントのレスポンス。
type googleTokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

// Exchange は認可コードをトークンセットに交換する。
func (c *GoogleOAuthClient) Exchange(ctx context.Context, code string) (*TokenResult, error) {
	data := url.Values{
		"code":          {code},
		"client_id":     {c.config.ClientID},
		"client_secret": {c.config.ClientSecret},
		"redirect_uri":  {c.config.RedirectURL},
		"grant_type":    {"authorization_code"},
	}
	return c.requestToken(ctx, data)
}

// Refresh はリフレッシュトークンで新しいアクセストークンを取得する。
// Googleはリフレッシュレスポンスにrefresh_tokenを含めないことがあるため、
// 呼び出し元は空のRefreshTokenを既存の値で補う必要がある。
func (c *GoogleOAuthClient) Refresh(ctx context.Context, refreshToken string) (*TokenResult, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("refresh token is empty")
	}
	data := url.Values{
		"refresh_token": {refreshToken},
		"client_id":     {c.config.ClientID},
		"client_secret": {c.config.ClientSecret},
		"grant_type":    {"refresh_token"},
	}
	return c.requestToken(ctx, data)
}

// Revoke はGoogle側でトークンを失効させる。
func (c *GoogleOAuthClient) Revoke(ctx context.Context, token string) error {
	data := url.Values{"token": {token}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.RevokeURL, strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("revoke request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("revoke failed with status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// TokenResult はトークンエンドポイントから取得した結果を表す。
type TokenResult struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	Scope        string
}

// requestToken はトークンエンドポイントにリクエストを送り、結果をパースする。
func (c *GoogleOAuthClient) requestToken(ctx context.Context, data url.Values) (*TokenResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var tokenResp googleTokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}

	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("empty access token in response")
	}

	return &TokenResult{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
		Expiry:       time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second),
		Scope:        tokenResp.Scope,
	}, nil
}

// compile-time interface check
var _ OAuthClient = (*GoogleOAuthClient)(nil)
