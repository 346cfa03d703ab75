package caption

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// plainClientProvider は検証なしの素のHTTPクライアントを返すSafeClientProviderモック。
// httptestサーバーはループバックで起動されるため、本番のSSRF防止クライアントでは
// 到達できない。
type plainClientProvider struct {
	created int
}

func (p *plainClientProvider) NewSafeClient(timeout time.Duration) *http.Client {
	p.created++
	return &http.Client{Timeout: timeout}
}

// TestNewVisionClient_TakesHTTPClientFromGuard は外向きHTTPクライアントが
// ガード経由で生成されることを検証する。
func TestNewVisionClient_TakesHTTPClientFromGuard(t *testing.T) {
	provider := &plainClientProvider{}

	NewVisionClient(VisionClientConfig{APIKey: "key-1"}, provider)

	if provider.created != 1 {
		t.Errorf("NewSafeClient calls = %d, want 1", provider.created)
	}
}

// TestDescribe_SendsImageAndReturnsCaption は画像データの送信形式と
// キャプションの取り出しを検証する。
func TestDescribe_SendsImageAndReturnsCaption(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key-1" {
			t.Errorf("unexpected Authorization: %s", r.Header.Get("Authorization"))
		}

		var req visionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.Model != "gpt-4o-mini" {
			t.Errorf("model = %q", req.Model)
		}
		if len(req.Messages) != 1 || len(req.Messages[0].Content) != 2 {
			t.Fatalf("unexpected message shape: %+v", req.Messages)
		}
		imageURL := req.Messages[0].Content[1].ImageURL
		if imageURL == nil || !strings.HasPrefix(imageURL.URL, "data:image/jpeg;base64,") {
			t.Errorf("unexpected image URL: %+v", imageURL)
		}

		w.Write([]byte(`{"choices":[{"message":{"content":"公園のベンチに座る猫の写真です。"}}]}`))
	}))
	defer server.Close()

	c := NewVisionClient(VisionClientConfig{APIURL: server.URL, APIKey: "key-1"}, &plainClientProvider{})

	caption, err := c.Describe(context.Background(), []byte{0xFF, 0xD8, 0xFF}, "image/jpeg")
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	if caption != "公園のベンチに座る猫の写真です。" {
		t.Errorf("caption = %q", caption)
	}
}

// TestDescribe_NotConfigured はAPIキー未設定時のエラーを検証する。
func TestDescribe_NotConfigured(t *testing.T) {
	c := NewVisionClient(VisionClientConfig{}, &plainClientProvider{})

	if _, err := c.Describe(context.Background(), []byte{0x01}, "image/jpeg"); err == nil {
		t.Error("expected error when API key is not configured")
	}
}

// TestDescribe_ServerError はAPIのエラーレスポンスがエラーとして
// 返ることを検証する。
func TestDescribe_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	c := NewVisionClient(VisionClientConfig{APIURL: server.URL, APIKey: "key-1"}, &plainClientProvider{})

	if _, err := c.Describe(context.Background(), []byte{0x01}, "image/jpeg"); err == nil {
		t.Error("expected error for server failure")
	}
}

// TestDescribe_EmptyChoices は選択肢のないレスポンスがエラーになることを検証する。
func TestDescribe_EmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	c := NewVisionClient(VisionClientConfig{APIURL: server.URL, APIKey: "key-1"}, &plainClientProvider{})

	if _, err := c.Describe(context.Background(), []byte{0x01}, "image/jpeg"); err == nil {
		t.Error("expected error for empty choices")
	}
}
