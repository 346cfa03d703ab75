// Package app はアプリケーションの起動・配線・シャットダウンを提供する。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/pendant/internal/capture"
	"github.com/hitoshi/pendant/internal/caption"
	"github.com/hitoshi/pendant/internal/config"
	"github.com/hitoshi/pendant/internal/device"
	"github.com/hitoshi/pendant/internal/gcal"
	"github.com/hitoshi/pendant/internal/gmail"
	"github.com/hitoshi/pendant/internal/handler"
	"github.com/hitoshi/pendant/internal/intent"
	"github.com/hitoshi/pendant/internal/logger"
	"github.com/hitoshi/pendant/internal/metrics"
	"github.com/hitoshi/pendant/internal/middleware"
	"github.com/hitoshi/pendant/internal/music"
	"github.com/hitoshi/pendant/internal/security"
	"github.com/hitoshi/pendant/internal/session"
	"github.com/hitoshi/pendant/internal/shopping"
	"github.com/hitoshi/pendant/internal/store"
	"github.com/hitoshi/pendant/internal/vault"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	return runServe(cfg)
}

// runServe はAPIサーバーモードで起動する。
// 全依存関係をワイヤリングし、撮影スケジューラとポーリングワーカーを
// バックグラウンドで開始してからHTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	log := slog.Default()

	// 1. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 2. ストアの初期化
	stores := store.NewUserStores()

	// 3. セキュリティサービスの初期化
	urlGuard := security.NewURLGuard()
	sanitizer := security.NewMailSanitizer()

	// 4. トークン保管庫とGoogleファサードの初期化
	oauthClient := vault.NewGoogleOAuthClient(vault.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	})
	tokenVault := vault.New(oauthClient, log, collector)

	mailFacade := gmail.NewFacade(tokenVault, sanitizer, log, gmail.Config{})
	calendarFacade := gcal.NewFacade(tokenVault, log, gcal.Config{})
	tokenVault.AddSink(mailFacade)
	tokenVault.AddSink(calendarFacade)

	// 5. 撮影パイプラインの初期化
	camera := device.NewCameraClient(device.CameraClientConfig{
		GatewayURL: cfg.DeviceGatewayURL,
		APIKey:     cfg.DeviceAPIKey,
		Timeout:    cfg.DeviceCallTimeout,
	}, log)

	describer := caption.NewVisionClient(caption.VisionClientConfig{
		APIURL:  cfg.VisionAPIURL,
		APIKey:  cfg.VisionAPIKey,
		Model:   cfg.VisionModel,
		Timeout: cfg.VisionTimeout,
	}, urlGuard)
	pipeline := caption.NewPipeline(describer, stores, log, collector)

	captureService := capture.NewService(camera, stores, pipeline, log, collector)
	scheduler := capture.NewScheduler(captureService, log)

	// 6. 楽曲生成の初期化
	musicClient := music.NewClient(music.ClientConfig{
		APIURL: cfg.MusicAPIURL,
		APIKey: cfg.MusicAPIKey,
	}, urlGuard, log)
	tracker := music.NewTracker(stores, urlGuard, log)

	pollerCfg := music.DefaultPollerConfig()
	if cfg.MusicPollInterval > 0 {
		pollerCfg.Interval = cfg.MusicPollInterval
	}
	poller := music.NewPoller(musicClient, tracker, log, collector, pollerCfg)

	// 7. ショッピングとセッションレジストリの初期化
	shoppingService := shopping.NewService(shopping.Config{
		CheckoutBaseURL: cfg.CheckoutBaseURL,
	}, log)

	sessionRegistry := session.NewRegistry(
		intent.NewClassifier(),
		stores,
		captureService,
		scheduler,
		mailFacade,
		calendarFacade,
		shoppingService,
		musicClient,
		tracker,
		log,
		collector,
	)

	// 8. ルーターの構築
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		DeviceAPIKey:      cfg.DeviceAPIKey,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            log,

		EventService: sessionRegistry,

		PhotoStores:         stores,
		TranscriptionStores: stores,
		SongStores:          stores,

		CaptureService: captureService,
		SongGenerator:  sessionRegistry,
		JobTracker:     tracker,

		AuthService: calendarFacade,

		MetricsHandler: metrics.Handler(registry),
	}

	router := handler.NewRouter(deps)

	// 9. バックグラウンドワーカーの起動
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	go scheduler.Start(workerCtx)
	go poller.Start(workerCtx)

	// 10. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	// ワーカーを止めてからHTTPサーバーをドレインする
	cancelWorkers()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	// 実行中のキャプション生成goroutineの完了を待つ
	pipeline.Wait()

	slog.Info("API server stopped gracefully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /healthz エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/healthz", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}
