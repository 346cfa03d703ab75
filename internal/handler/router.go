package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/pendant/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	DeviceAPIKey      string
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// イベント取り込み
	EventService EventServiceInterface

	// ギャラリー
	PhotoStores         PhotoStoreProvider
	TranscriptionStores TranscriptionStoreProvider
	SongStores          SongStoreProvider

	// 撮影・楽曲生成
	CaptureService CaptureServiceInterface
	SongGenerator  SongGeneratorInterface
	JobTracker     JobUnregisterer

	// Google連携
	AuthService AuthServiceInterface

	// 観測
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	CORSMiddleware → LoggingMiddleware → RecoveryMiddleware → DeviceAuthMiddleware → RateLimitMiddleware
//
// OAuthコールバック（Googleからのリダイレクト）、ヘルスチェック、メトリクスは
// デバイス認証の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	if deps.Logger != nil {
		r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	}
	r.Use(middleware.NewRecoveryMiddleware())

	eventHandler := NewEventHandler(deps.EventService)
	photoHandler := NewPhotoHandler(deps.PhotoStores, deps.CaptureService)
	transcriptionHandler := NewTranscriptionHandler(deps.TranscriptionStores)
	songHandler := NewSongHandler(deps.SongStores, deps.SongGenerator, deps.JobTracker)
	authHandler := NewAuthHandler(deps.AuthService)

	// --- デバイス認証不要のルート ---

	r.Get("/healthz", Healthz)
	r.Get("/api/auth/google/callback", authHandler.Callback)

	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- デバイス認証が必要なルート ---
	// ミドルウェアスタック: DeviceAuth → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewDeviceAuthMiddleware(deps.DeviceAPIKey))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// デバイスイベント取り込み（イベント専用レート制限を追加）
		r.Route("/api/events", func(r chi.Router) {
			r.With(deps.RateLimiter.EventMiddleware()).Post("/utterance", eventHandler.Utterance)
			r.With(deps.RateLimiter.EventMiddleware()).Post("/button", eventHandler.Button)
			r.Post("/disconnect", eventHandler.Disconnect)
		})

		// ストリーミング撮影モード
		r.Route("/api/streaming", func(r chi.Router) {
			r.Get("/", eventHandler.GetStreaming)
			r.Post("/", eventHandler.SetStreaming)
		})

		// 写真ギャラリー
		r.Route("/api/photos", func(r chi.Router) {
			r.Get("/", photoHandler.ListPhotos)
			r.Post("/capture", photoHandler.Capture)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/data", photoHandler.GetPhotoData)
				r.Post("/select", photoHandler.SelectPhoto)
			})
		})

		// 文字起こし履歴
		r.Route("/api/transcriptions", func(r chi.Router) {
			r.Get("/", transcriptionHandler.ListTranscriptions)
			r.Post("/{id}/select", transcriptionHandler.SelectTranscription)
		})

		// 楽曲ギャラリー
		r.Route("/api/songs", func(r chi.Router) {
			r.Get("/", songHandler.ListSongs)
			r.Post("/generate", songHandler.GenerateSong)

			r.Route("/{id}", func(r chi.Router) {
				r.Post("/favorite", songHandler.FavoriteSong)
				r.Delete("/", songHandler.DeleteSong)
			})
		})

		// Google連携
		r.Route("/api/auth", func(r chi.Router) {
			r.Get("/status", authHandler.Status)
			r.Get("/google/url", authHandler.AuthURL)
			r.Post("/google/disconnect", authHandler.Disconnect)
		})
	})

	return r
}

// Healthz はヘルスチェックエンドポイント。
// GET /healthz
func Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
