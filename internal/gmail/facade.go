// Package gmail はメールプロバイダーのファサードを提供する。
// クレデンシャルはTokenVaultを唯一の参照元とし、期限切れ時の
// リフレッシュと再試行はVault側で一元的に処理される。
package gmail

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/pendant/internal/model"
	"github.com/hitoshi/pendant/internal/security"
	"github.com/hitoshi/pendant/internal/vault"
)

const defaultBaseURL = "https://gmail.googleapis.com"

// unreadCacheTTL は未読数キャッシュの有効期間。
const unreadCacheTTL = 30 * time.Second

// EmailSummary は受信メール1件の要約を表す。
type EmailSummary struct {
	ID         string    `json:"id"`
	From       string    `json:"from"`
	Subject    string    `json:"subject"`
	Snippet    string    `json:"snippet"`   // プレーンテキストの要約（読み上げ用）
	BodyHTML   string    `json:"body_html"` // サニタイズ済みHTML
	Unread     bool      `json:"unread"`
	ReceivedAt time.Time `json:"received_at"`
}

// EmailDraft は送信メールの内容を表す。
type EmailDraft struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// unreadEntry は未読数キャッシュの1エントリ。
type unreadEntry struct {
	count     int
	fetchedAt time.Time
}

// Facade はメールプロバイダーのファサード。
// TokenVaultをカレンダーファサードと共有し、常に同一のクレデンシャルを観測する。
type Facade struct {
	vault      *vault.Vault
	sanitizer  security.MailSanitizerService
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string // テスト用にオーバーライド可能

	mu          sync.Mutex
	unreadCache map[string]unreadEntry
}

// Config はFacadeの設定。
type Config struct {
	// BaseURL はAPIのベースURL。テスト用。空の場合はGmail APIを使用する。
	BaseURL string
	// Timeout はAPI呼び出し1回のタイムアウト。
	Timeout time.Duration
}

// NewFacade はFacadeを生成する。
func NewFacade(v *vault.Vault, sanitizer security.MailSanitizerService, logger *slog.Logger, config Config) *Facade {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	return &Facade{
		vault:       v,
		sanitizer:   sanitizer,
		httpClient:  &http.Client{Timeout: config.Timeout},
		logger:      logger,
		baseURL:     strings.TrimRight(config.BaseURL, "/"),
		unreadCache: make(map[string]unreadEntry),
	}
}

// IsAuthorized はユーザーのクレデンシャルが存在するかを返す。
func (f *Facade) IsAuthorized(userID string) bool {
	return f.vault.IsAuthorized(userID)
}

// StoreTokens はVaultからのクレデンシャル更新通知を受け取る。
// トークン自体はVaultが保持するため、ここではユーザーごとの
// キャッシュの無効化のみを行う。
func (f *Facade) StoreTokens(userID string, tokens *model.TokenSet) {
	f.mu.Lock()
	delete(f.unreadCache, userID)
	f.mu.Unlock()

	f.logger.Info("メールファサードのクレデンシャルが更新されました",
		slog.String("user_id", userID),
		slog.Bool("authorized", tokens.Valid()),
	)
}

// --- Gmail APIレスポンス型 ---

type messageListResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type messagePart struct {
	MimeType string `json:"mimeType"`
	Body     struct {
		Data string `json:"data"` // base64url
	} `json:"body"`
	Parts []messagePart `json:"parts"`
}

type messageResponse struct {
	ID       string   `json:"id"`
	Snippet  string   `json:"snippet"`
	LabelIDs []string `json:"labelIds"`
	Payload  struct {
		Headers []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"headers"`
		messagePart
	} `json:"payload"`
	InternalDate string `json:"internalDate"` // エポックミリ秒の文字列
}

type labelResponse struct {
	MessagesUnread int `json:"messagesUnread"`
}

// RecentEmails は受信トレイの最新メールを最大max件取得する。
// 本文HTMLはサニタイズされ、読み上げ用のプレーンテキスト要約が付与される。
func (f *Facade) RecentEmails(ctx context.Context, userID string, max int) ([]*EmailSummary, error) {
	if max <= 0 {
		max = 5
	}

	var summaries []*EmailSummary
	err := f.vault.Do(ctx, userID, func(ctx context.Context, tokens *model.TokenSet) error {
		var list messageListResponse
		listURL := fmt.Sprintf("%s/gmail/v1/users/me/messages?maxResults=%d&labelIds=INBOX", f.baseURL, max)
		if err := f.getJSON(ctx, tokens.AccessToken, listURL, &list); err != nil {
			return err
		}

		summaries = summaries[:0]
		for _, m := range list.Messages {
			msgURL := fmt.Sprintf("%s/gmail/v1/users/me/messages/%s?format=full", f.baseURL, m.ID)
			var msg messageResponse
			if err := f.getJSON(ctx, tokens.AccessToken, msgURL, &msg); err != nil {
				return err
			}
			summaries = append(summaries, f.toSummary(&msg))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return summaries, nil
}

// UnreadCount は未読メール数を返す。結果は30秒間キャッシュされる。
func (f *Facade) UnreadCount(ctx context.Context, userID string) (int, error) {
	f.mu.Lock()
	entry, ok := f.unreadCache[userID]
	f.mu.Unlock()
	if ok && time.Since(entry.fetchedAt) < unreadCacheTTL {
		return entry.count, nil
	}

	var count int
	err := f.vault.Do(ctx, userID, func(ctx context.Context, tokens *model.TokenSet) error {
		var label labelResponse
		labelURL := f.baseURL + "/gmail/v1/users/me/labels/UNREAD"
		if err := f.getJSON(ctx, tokens.AccessToken, labelURL, &label); err != nil {
			return err
		}
		count = label.MessagesUnread
		return nil
	})
	if err != nil {
		return 0, err
	}

	f.mu.Lock()
	f.unreadCache[userID] = unreadEntry{count: count, fetchedAt: time.Now()}
	f.mu.Unlock()

	return count, nil
}

// Send はメールを送信する。
func (f *Facade) Send(ctx context.Context, userID string, draft *EmailDraft) error {
	if draft == nil || draft.To == "" {
		return fmt.Errorf("宛先が指定されていません")
	}

	raw := buildRawMessage(draft)
	payload, err := json.Marshal(map[string]string{"raw": raw})
	if err != nil {
		return fmt.Errorf("failed to encode send request: %w", err)
	}

	return f.vault.Do(ctx, userID, func(ctx context.Context, tokens *model.TokenSet) error {
		sendURL := f.baseURL + "/gmail/v1/users/me/messages/send"
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, sendURL, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to create send request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)

		resp, err := f.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("send request failed: %w", err)
		}
		defer resp.Body.Close()

		return f.checkStatus(resp, "メール送信")
	})
}

// toSummary はGmail APIのメッセージをEmailSummaryへ変換する。
func (f *Facade) toSummary(msg *messageResponse) *EmailSummary {
	summary := &EmailSummary{
		ID:      msg.ID,
		Snippet: msg.Snippet,
	}

	for _, h := range msg.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "from":
			summary.From = h.Value
		case "subject":
			summary.Subject = h.Value
		}
	}

	for _, label := range msg.LabelIDs {
		if label == "UNREAD" {
			summary.Unread = true
			break
		}
	}

	if ms, err := parseEpochMillis(msg.InternalDate); err == nil {
		summary.ReceivedAt = ms
	}

	// 本文: text/htmlパートをサニタイズし、要約テキストを抽出する
	if rawHTML := findBody(&msg.Payload.messagePart, "text/html"); rawHTML != "" {
		summary.BodyHTML = f.sanitizer.Sanitize(rawHTML)
		if summary.Snippet == "" {
			summary.Snippet = extractText(summary.BodyHTML)
		}
	} else if plain := findBody(&msg.Payload.messagePart, "text/plain"); plain != "" && summary.Snippet == "" {
		summary.Snippet = collapseWhitespace(plain)
	}

	return summary
}

// findBody はMIMEパートツリーからmimeTypeの本文を探してデコードする。
func findBody(part *messagePart, mimeType string) string {
	if part.MimeType == mimeType && part.Body.Data != "" {
		decoded, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(part.Body.Data)
		if err != nil {
			return ""
		}
		return string(decoded)
	}
	for i := range part.Parts {
		if body := findBody(&part.Parts[i], mimeType); body != "" {
			return body
		}
	}
	return ""
}

// buildRawMessage はRFC 2822形式のメッセージを構築しbase64urlエンコードする。
func buildRawMessage(draft *EmailDraft) string {
	var sb strings.Builder
	sb.WriteString("To: " + draft.To + "\r\n")
	sb.WriteString("Subject: " + draft.Subject + "\r\n")
	sb.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(draft.Body)
	return base64.URLEncoding.EncodeToString([]byte(sb.String()))
}

// parseEpochMillis はエポックミリ秒の文字列をtime.Timeへ変換する。
func parseEpochMillis(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	var ms int64
	if _, err := fmt.Sscanf(s, "%d", &ms); err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}

// getJSON は認証付きGETを実行しレスポンスJSONをoutへデコードする。
// 401はvault.ErrAuthExpiredへ変換され、Vaultのリフレッシュ・再試行を誘発する。
func (f *Facade) getJSON(ctx context.Context, accessToken, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := f.checkStatus(resp, "メールAPI"); err != nil {
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// checkStatus はレスポンスのステータスを検査し、エラーを分類する。
// 401は認可期限切れシグナル、それ以外の非2xxは本文の先頭付きで記録・返却する。
func (f *Facade) checkStatus(resp *http.Response, operation string) error {
	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%s: %w", operation, vault.ErrAuthExpired)
	}

	f.logger.Warn("メールAPIがエラーを返しました",
		slog.String("operation", operation),
		slog.Int("status", resp.StatusCode),
		slog.String("body", string(body)),
	)
	return fmt.Errorf("%s failed with status %d", operation, resp.StatusCode)
}
