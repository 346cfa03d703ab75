// Package capture は写真撮影の実行と、ストリーミングモードの
// 自己修復型スケジューリングを提供する。
package capture

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/pendant/internal/caption"
	"github.com/hitoshi/pendant/internal/device"
	"github.com/hitoshi/pendant/internal/model"
	"github.com/hitoshi/pendant/internal/store"
)

// MetricsRecorder は撮影結果のメトリクス記録インターフェース。
type MetricsRecorder interface {
	RecordCapture(success bool)
	RecordCaptureLatency(duration time.Duration)
}

// Service は1回分の撮影処理を実行する。
// 撮影成功時は写真をストアへ同期的に追加し、キャプション生成を
// 非同期で開始してから戻る。
type Service struct {
	camera   device.Camera
	stores   *store.UserStores
	pipeline *caption.Pipeline
	logger   *slog.Logger
	metrics  MetricsRecorder
}

// NewService はServiceを生成する。metricsはnil可。
func NewService(
	camera device.Camera,
	stores *store.UserStores,
	pipeline *caption.Pipeline,
	logger *slog.Logger,
	metrics MetricsRecorder,
) *Service {
	return &Service{
		camera:   camera,
		stores:   stores,
		pipeline: pipeline,
		logger:   logger,
		metrics:  metrics,
	}
}

// Capture は撮影を1回実行する。
// デバイスゲートウェイが未設定の場合はNotConfiguredエラーを返す。
// 撮影エラーはここで変換され、ユーザーセッションを終了させることはない。
func (s *Service) Capture(ctx context.Context, userID string) (*model.Photo, error) {
	if !s.camera.Configured() {
		s.logger.Warn("デバイスゲートウェイが未設定のため撮影できません",
			slog.String("user_id", userID),
		)
		return nil, model.NewNotConfiguredError("デバイスゲートウェイ")
	}

	start := time.Now()
	captured, err := s.camera.RequestPhoto(ctx, userID)
	if s.metrics != nil {
		s.metrics.RecordCaptureLatency(time.Since(start))
		s.metrics.RecordCapture(err == nil)
	}
	if err != nil {
		s.logger.Warn("写真の撮影に失敗しました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewCaptureFailedError(err.Error())
	}

	photo := &model.Photo{
		ID:          uuid.New().String(),
		Data:        captured.Data,
		CapturedAt:  captured.Timestamp,
		ContentType: captured.ContentType,
		Filename:    captured.Filename,
		Size:        captured.Size,
	}
	if photo.CapturedAt.IsZero() {
		photo.CapturedAt = time.Now()
	}

	// キャプション未設定のまま同期的に保存してからパイプラインへ渡す
	s.stores.Photos(userID).Append(photo)
	s.pipeline.Enqueue(userID, photo)

	s.logger.Info("写真を保存しました",
		slog.String("user_id", userID),
		slog.String("photo_id", photo.ID),
		slog.Int64("size", photo.Size),
	)
	return photo, nil
}
