package caption

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/pendant/internal/model"
	"github.com/hitoshi/pendant/internal/store"
)

// MetricsRecorder はキャプション生成結果のメトリクス記録インターフェース。
type MetricsRecorder interface {
	RecordCaption(success bool)
}

// Pipeline は保存済み写真へのキャプション付与を非同期に実行する。
// 撮影パスをブロックしないfire-and-forget方式で、完了時（成功・失敗を問わず）に
// 写真レコードのCaptionGeneratedをちょうど1回trueにする。
// 画像説明APIが未設定の場合は処理全体をスキップし、フラグは設定されない。
type Pipeline struct {
	describer Describer
	stores    *store.UserStores
	logger    *slog.Logger
	metrics   MetricsRecorder
	timeout   time.Duration

	// wg は実行中のキャプション生成を追跡する。シャットダウンとテストで待機に使う。
	wg sync.WaitGroup
}

// NewPipeline はPipelineを生成する。metricsはnil可。
func NewPipeline(describer Describer, stores *store.UserStores, logger *slog.Logger, metrics MetricsRecorder) *Pipeline {
	return &Pipeline{
		describer: describer,
		stores:    stores,
		logger:    logger,
		metrics:   metrics,
		timeout:   45 * time.Second,
	}
}

// Enqueue は写真のキャプション生成を開始する。呼び出しは即座に戻り、
// 生成はバックグラウンドで進行する。写真は事前にストアへ追加済みであること。
// 写真が後から削除・追い出された場合でも生成は完了まで実行される
// （更新先が見つからなければ結果は破棄される）。
func (p *Pipeline) Enqueue(userID string, photo *model.Photo) {
	if !p.describer.Configured() {
		p.logger.Warn("画像説明APIが未設定のためキャプション生成をスキップします",
			slog.String("user_id", userID),
			slog.String("photo_id", photo.ID),
		)
		return
	}

	data := photo.Data
	contentType := photo.ContentType
	photoID := photo.ID

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()

		text, err := p.describer.Describe(ctx, data, contentType)
		if err != nil {
			p.logger.Warn("キャプション生成に失敗しました",
				slog.String("user_id", userID),
				slog.String("photo_id", photoID),
				slog.String("error", err.Error()),
			)
			text = ""
		}

		// 成功・失敗を問わずフラグを1回だけ立てる。失敗時はキャプションが空のまま残る。
		updated := p.stores.Photos(userID).Update(
			func(ph *model.Photo) bool { return ph.ID == photoID },
			func(ph *model.Photo) {
				ph.Caption = text
				ph.CaptionGenerated = true
			},
		)
		if !updated {
			p.logger.Info("キャプション生成完了時に写真が見つかりませんでした",
				slog.String("user_id", userID),
				slog.String("photo_id", photoID),
			)
		}

		if p.metrics != nil {
			p.metrics.RecordCaption(err == nil)
		}
	}()
}

// Wait は実行中のキャプション生成がすべて完了するまで待機する。
// グレースフルシャットダウンとテストで使用する。
func (p *Pipeline) Wait() {
	p.wg.Wait()
}
