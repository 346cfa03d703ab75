// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
//
// Google OAuth・画像説明API・楽曲生成API・デバイスゲートウェイの
// クレデンシャルはいずれも任意で、未設定の場合は該当機能が
// 空結果への縮退モードで動作する（起動は失敗しない）。
type Config struct {
	// Device
	DeviceAPIKey      string
	DeviceGatewayURL  string
	DeviceCallTimeout time.Duration

	// OAuth (Google)
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Vision (キャプション生成)
	VisionAPIURL  string
	VisionAPIKey  string
	VisionModel   string
	VisionTimeout time.Duration

	// Music (楽曲生成)
	MusicAPIURL      string
	MusicAPIKey      string
	MusicPollInterval time.Duration

	// Shopping
	CheckoutBaseURL string

	// Rate Limit
	RateLimitGeneral int
	RateLimitEvent   int

	// Server
	ServerPort string
	BaseURL    string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DeviceAPIKey = os.Getenv("DEVICE_API_KEY")
	if cfg.DeviceAPIKey == "" {
		missing = append(missing, "DEVICE_API_KEY")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.DeviceGatewayURL = getEnvString("DEVICE_GATEWAY_URL", "")
	cfg.DeviceCallTimeout = getEnvDuration("DEVICE_CALL_TIMEOUT", 15*time.Second)

	cfg.GoogleClientID = getEnvString("GOOGLE_CLIENT_ID", "")
	cfg.GoogleClientSecret = getEnvString("GOOGLE_CLIENT_SECRET", "")
	cfg.GoogleRedirectURL = getEnvString("GOOGLE_REDIRECT_URL",
		strings.TrimRight(cfg.BaseURL, "/")+"/api/auth/google/callback")

	cfg.VisionAPIURL = getEnvString("VISION_API_URL", "")
	cfg.VisionAPIKey = getEnvString("VISION_API_KEY", "")
	cfg.VisionModel = getEnvString("VISION_MODEL", "gpt-4o-mini")
	cfg.VisionTimeout = getEnvDuration("VISION_TIMEOUT", 30*time.Second)

	cfg.MusicAPIURL = getEnvString("MUSIC_API_URL", "")
	cfg.MusicAPIKey = getEnvString("MUSIC_API_KEY", "")
	cfg.MusicPollInterval = getEnvDuration("MUSIC_POLL_INTERVAL", 5*time.Second)

	cfg.CheckoutBaseURL = getEnvString("CHECKOUT_BASE_URL", "")

	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitEvent = getEnvInt("RATE_LIMIT_EVENT", 600)

	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
