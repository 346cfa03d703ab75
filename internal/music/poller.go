package music

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// MetricsRecorder はポーリング結果のメトリクス記録インターフェース。
type MetricsRecorder interface {
	RecordJobPoll(success bool)
}

// PollerConfig はポーリングワーカーの設定パラメータ。
type PollerConfig struct {
	// Interval はポーリングサイクルの実行間隔（デフォルト: 5秒）。
	Interval time.Duration
	// APIRate はベンダーAPI呼び出しのレート上限（デフォルト: 2 req/sec）。
	APIRate rate.Limit
	// APIBurst はベンダーAPI呼び出しのバーストサイズ（デフォルト: 2）。
	APIBurst int
	// MaxBackoff は連続エラー時のバックオフ上限（デフォルト: 5分）。
	MaxBackoff time.Duration
}

// DefaultPollerConfig はデフォルトのポーリングワーカー設定を返す。
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		Interval:   5 * time.Second,
		APIRate:    rate.Limit(2),
		APIBurst:   2,
		MaxBackoff: 5 * time.Minute,
	}
}

// Poller は追跡中の全ジョブの状態を定期的にベンダーへ問い合わせ、
// 結果をTrackerへ書き戻すワーカー。ベンダーAPIの呼び出しは
// rate.Limiterでペーシングし、連続エラー時は指数バックオフでサイクルを
// スキップする。
type Poller struct {
	generator Generator
	tracker   *Tracker
	logger    *slog.Logger
	metrics   MetricsRecorder
	config    PollerConfig

	limiter           *rate.Limiter
	consecutiveErrors int
	backoffUntil      time.Time
}

// NewPoller はPollerを生成する。metricsはnil可。
func NewPoller(generator Generator, tracker *Tracker, logger *slog.Logger, metrics MetricsRecorder, config PollerConfig) *Poller {
	if config.Interval <= 0 {
		config.Interval = 5 * time.Second
	}
	if config.APIRate <= 0 {
		config.APIRate = rate.Limit(2)
	}
	if config.APIBurst <= 0 {
		config.APIBurst = 2
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 5 * time.Minute
	}
	return &Poller{
		generator: generator,
		tracker:   tracker,
		logger:    logger,
		metrics:   metrics,
		config:    config,
		limiter:   rate.NewLimiter(config.APIRate, config.APIBurst),
	}
}

// Start はポーリングワーカーをティッカーで定期実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (p *Poller) Start(ctx context.Context) {
	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	p.logger.Info("楽曲生成ポーリングワーカーを開始しました",
		slog.Duration("interval", p.config.Interval),
	)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("楽曲生成ポーリングワーカーを停止しました")
			return
		case <-ticker.C:
			p.RunOnce(ctx)
		}
	}
}

// RunOnce は1回のポーリングサイクルを実行する。
// 追跡中の各ジョブについてベンダーへ状態を問い合わせ、結果を適用する。
func (p *Poller) RunOnce(ctx context.Context) {
	if !p.generator.Configured() {
		return
	}

	// バックオフ中の場合はスキップ
	if !p.backoffUntil.IsZero() && time.Now().Before(p.backoffUntil) {
		return
	}

	jobs := p.tracker.Jobs()
	if len(jobs) == 0 {
		return
	}

	var failures int
	for _, job := range jobs {
		if err := p.limiter.Wait(ctx); err != nil {
			// コンテキストキャンセル時はサイクルを打ち切る
			return
		}

		status, err := p.generator.PollStatus(ctx, job.JobID)
		if p.metrics != nil {
			p.metrics.RecordJobPoll(err == nil)
		}
		if err != nil {
			failures++
			p.logger.Warn("ジョブ状態のポーリングに失敗しました",
				slog.String("job_id", job.JobID),
				slog.String("error", err.Error()),
			)
			continue
		}

		p.tracker.ApplyStatus(job.JobID, status)
	}

	p.updateBackoff(failures, len(jobs))
}

// updateBackoff は全件失敗が続いた場合に指数バックオフを設定する。
// 1件でも成功したサイクルでバックオフはリセットされる。
func (p *Poller) updateBackoff(failures, total int) {
	if failures < total || total == 0 {
		p.consecutiveErrors = 0
		p.backoffUntil = time.Time{}
		return
	}

	p.consecutiveErrors++
	backoff := p.config.Interval * time.Duration(1<<uint(p.consecutiveErrors))
	if backoff > p.config.MaxBackoff {
		backoff = p.config.MaxBackoff
	}
	p.backoffUntil = time.Now().Add(backoff)

	p.logger.Warn("ポーリングの連続失敗によりバックオフします",
		slog.Int("consecutive_errors", p.consecutiveErrors),
		slog.Duration("backoff", backoff),
	)
}
