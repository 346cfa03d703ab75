// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hitoshi/pendant/internal/intent"
)

// Collector はPrometheusメトリクスを収集する実装。
// 撮影・キャプション・トークンリフレッシュ・ジョブポーリングの
// 各外部呼び出しと、インテント分類結果を記録する。
type Collector struct {
	captureSuccess prometheus.Counter
	captureFail    prometheus.Counter
	captureLatency prometheus.Histogram
	captionSuccess prometheus.Counter
	captionFail    prometheus.Counter
	refreshSuccess prometheus.Counter
	refreshFail    prometheus.Counter
	pollSuccess    prometheus.Counter
	pollFail       prometheus.Counter
	intentMatches  *prometheus.CounterVec
	songsSubmitted prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		captureSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pendant_capture_success_total",
			Help: "写真撮影成功の合計数",
		}),
		captureFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pendant_capture_fail_total",
			Help: "写真撮影失敗の合計数",
		}),
		captureLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pendant_capture_latency_seconds",
			Help:    "写真撮影のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		captionSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pendant_caption_success_total",
			Help: "キャプション生成成功の合計数",
		}),
		captionFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pendant_caption_fail_total",
			Help: "キャプション生成失敗の合計数",
		}),
		refreshSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pendant_token_refresh_success_total",
			Help: "トークンリフレッシュ成功の合計数",
		}),
		refreshFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pendant_token_refresh_fail_total",
			Help: "トークンリフレッシュ失敗の合計数",
		}),
		pollSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pendant_job_poll_success_total",
			Help: "楽曲生成ジョブポーリング成功の合計数",
		}),
		pollFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pendant_job_poll_fail_total",
			Help: "楽曲生成ジョブポーリング失敗の合計数",
		}),
		intentMatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pendant_intent_total",
			Help: "インテント分類結果別の発話数",
		}, []string{"intent"}),
		songsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pendant_songs_submitted_total",
			Help: "送信された楽曲生成ジョブの合計数",
		}),
	}

	reg.MustRegister(
		c.captureSuccess,
		c.captureFail,
		c.captureLatency,
		c.captionSuccess,
		c.captionFail,
		c.refreshSuccess,
		c.refreshFail,
		c.pollSuccess,
		c.pollFail,
		c.intentMatches,
		c.songsSubmitted,
	)

	return c
}

// RecordCapture は撮影結果を記録する。
func (c *Collector) RecordCapture(success bool) {
	if success {
		c.captureSuccess.Inc()
	} else {
		c.captureFail.Inc()
	}
}

// RecordCaptureLatency は撮影のレイテンシを記録する。
func (c *Collector) RecordCaptureLatency(duration time.Duration) {
	c.captureLatency.Observe(duration.Seconds())
}

// RecordCaption はキャプション生成結果を記録する。
func (c *Collector) RecordCaption(success bool) {
	if success {
		c.captionSuccess.Inc()
	} else {
		c.captionFail.Inc()
	}
}

// RecordTokenRefresh はトークンリフレッシュ結果を記録する。
func (c *Collector) RecordTokenRefresh(success bool) {
	if success {
		c.refreshSuccess.Inc()
	} else {
		c.refreshFail.Inc()
	}
}

// RecordJobPoll はジョブポーリング結果を記録する。
func (c *Collector) RecordJobPoll(success bool) {
	if success {
		c.pollSuccess.Inc()
	} else {
		c.pollFail.Inc()
	}
}

// RecordIntent はインテント分類結果を記録する。
func (c *Collector) RecordIntent(matched intent.Intent) {
	c.intentMatches.WithLabelValues(string(matched)).Inc()
}

// RecordSongSubmitted は楽曲生成ジョブの送信を記録する。
func (c *Collector) RecordSongSubmitted() {
	c.songsSubmitted.Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
