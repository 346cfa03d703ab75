package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// TestNewURLGuard はURLGuardの生成をテストする。
func TestNewURLGuard(t *testing.T) {
	guard := NewURLGuard()
	if guard == nil {
		t.Fatal("NewURLGuard() returned nil")
	}
}

// TestNewSafeClient はSSRF防止付きHTTPクライアントの生成をテストする。
func TestNewSafeClient(t *testing.T) {
	guard := NewURLGuard()
	client := guard.NewSafeClient(10 * time.Second)
	if client == nil {
		t.Fatal("NewSafeClient() returned nil")
	}
}

// TestNewSafeClientHasTransport はSafeClientにカスタムTransportが設定されていることをテストする。
// safeurlはnet.DialerのControlフックでIPアドレス検証を行うため、
// Transportが標準のhttp.DefaultTransportではないことを確認する。
func TestNewSafeClientHasTransport(t *testing.T) {
	guard := NewURLGuard()
	client := guard.NewSafeClient(5 * time.Second)

	if client.Transport == nil {
		t.Fatal("expected custom Transport to be set, got nil")
	}
	if client.Transport == http.DefaultTransport {
		t.Fatal("expected custom Transport, got http.DefaultTransport")
	}
}

// TestNewSafeClientBlocksLoopback はSafeClientがループバックへのリクエストをブロックすることをテストする。
// httptestサーバーは127.0.0.1で起動されるため、safeurlがブロックする。
func TestNewSafeClientBlocksLoopback(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	guard := NewURLGuard()
	client := guard.NewSafeClient(5 * time.Second)

	_, err := client.Get(ts.URL)
	if err == nil {
		t.Fatal("expected error for loopback address request, got nil")
	}
}

// TestValidateURL_PublicURL は公開URLの検証が成功することをテストする。
func TestValidateURL_PublicURL(t *testing.T) {
	guard := NewURLGuard()

	publicURLs := []string{
		"https://example.com",
		"https://cdn.example.com/songs/abc.mp3",
		"http://media.example.org/covers/1.png",
	}

	for _, u := range publicURLs {
		t.Run(u, func(t *testing.T) {
			err := guard.ValidateURL(u)
			if err != nil {
				t.Errorf("ValidateURL(%q) returned error: %v", u, err)
			}
		})
	}
}

// TestValidateURL_PrivateIP はプライベートIPアドレスの拒否をテストする。
func TestValidateURL_PrivateIP(t *testing.T) {
	guard := NewURLGuard()

	privateURLs := []string{
		"http://10.0.0.1/audio.mp3",
		"http://10.255.255.255/audio.mp3",
		"http://172.16.0.1/audio.mp3",
		"http://172.31.255.255/audio.mp3",
		"http://192.168.0.1/audio.mp3",
		"http://192.168.1.100/audio.mp3",
	}

	for _, u := range privateURLs {
		t.Run(u, func(t *testing.T) {
			err := guard.ValidateURL(u)
			if err == nil {
				t.Errorf("ValidateURL(%q) should have returned error for private IP", u)
			}
		})
	}
}

// TestValidateURL_LoopbackAndMetadata はループバックとメタデータIPの拒否をテストする。
func TestValidateURL_LoopbackAndMetadata(t *testing.T) {
	guard := NewURLGuard()

	blockedURLs := []string{
		"http://127.0.0.1/audio.mp3",
		"http://127.0.0.2/audio.mp3",
		"http://localhost/audio.mp3",
		"http://169.254.169.254/latest/meta-data/",
		"http://0.0.0.0/audio.mp3",
		"http://[::1]/audio.mp3",
		"http://[fe80::1]/audio.mp3",
	}

	for _, u := range blockedURLs {
		t.Run(u, func(t *testing.T) {
			err := guard.ValidateURL(u)
			if err == nil {
				t.Errorf("ValidateURL(%q) should have returned error", u)
			}
		})
	}
}

// TestValidateURL_DisallowedScheme はhttp/https以外のスキームの拒否をテストする。
func TestValidateURL_DisallowedScheme(t *testing.T) {
	guard := NewURLGuard()

	badURLs := []string{
		"file:///etc/passwd",
		"ftp://example.com/audio.mp3",
		"gopher://example.com/",
		"javascript:alert(1)",
	}

	for _, u := range badURLs {
		t.Run(u, func(t *testing.T) {
			err := guard.ValidateURL(u)
			if err == nil {
				t.Errorf("ValidateURL(%q) should have returned error for scheme", u)
			}
		})
	}
}

// TestValidateURL_MalformedInput は不正な入力の拒否をテストする。
func TestValidateURL_MalformedInput(t *testing.T) {
	guard := NewURLGuard()

	tests := []struct {
		name string
		url  string
	}{
		{"empty", ""},
		{"no host", "https://"},
		{"relative path", "/songs/abc.mp3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := guard.ValidateURL(tt.url); err == nil {
				t.Errorf("ValidateURL(%q) should have returned error", tt.url)
			}
		})
	}
}
