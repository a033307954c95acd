// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 会話エンジン、スイープワーカー、ディスパッチャーから利用する。
type MetricsCollector interface {
	RecordFetchSuccess()
	RecordFetchFailure()
	RecordParseFailure()
	RecordFetchLatency(duration time.Duration)
	RecordReadingRecorded()
	RecordReminderSent()
	RecordAlertSent()
	RecordDispatchFailure(channel string)
	RecordSweepDuration(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	fetchSuccess     prometheus.Counter
	fetchFail        prometheus.Counter
	parseFail        prometheus.Counter
	fetchLatency     prometheus.Histogram
	readingsRecorded prometheus.Counter
	remindersSent    prometheus.Counter
	alertsSent       prometheus.Counter
	dispatchFail     *prometheus.CounterVec
	sweepDuration    prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		fetchSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meterman_fetch_success_total",
			Help: "残高フェッチ成功の合計数",
		}),
		fetchFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meterman_fetch_fail_total",
			Help: "残高フェッチ失敗の合計数",
		}),
		parseFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meterman_parse_fail_total",
			Help: "ポータルページのパース失敗の合計数",
		}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "meterman_fetch_latency_seconds",
			Help:    "残高フェッチのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		readingsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meterman_readings_recorded_total",
			Help: "記録された残高観測の合計数",
		}),
		remindersSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meterman_reminders_sent_total",
			Help: "送信された日次リマインダーの合計数",
		}),
		alertsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meterman_alerts_sent_total",
			Help: "送信された低残高アラートの合計数",
		}),
		dispatchFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meterman_dispatch_fail_total",
			Help: "チャネル別のメッセージ送信失敗数",
		}, []string{"channel"}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "meterman_sweep_duration_seconds",
			Help:    "スイープ1回あたりの所要時間（秒）",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
	}

	reg.MustRegister(
		c.fetchSuccess,
		c.fetchFail,
		c.parseFail,
		c.fetchLatency,
		c.readingsRecorded,
		c.remindersSent,
		c.alertsSent,
		c.dispatchFail,
		c.sweepDuration,
	)

	return c
}

// RecordFetchSuccess はフェッチ成功を記録する。
func (c *Collector) RecordFetchSuccess() {
	c.fetchSuccess.Inc()
}

// RecordFetchFailure はフェッチ失敗を記録する。
func (c *Collector) RecordFetchFailure() {
	c.fetchFail.Inc()
}

// RecordParseFailure はパース失敗を記録する。
func (c *Collector) RecordParseFailure() {
	c.parseFail.Inc()
}

// RecordFetchLatency はフェッチのレイテンシを記録する。
func (c *Collector) RecordFetchLatency(duration time.Duration) {
	c.fetchLatency.Observe(duration.Seconds())
}

// RecordReadingRecorded は残高観測の記録を1件カウントする。
func (c *Collector) RecordReadingRecorded() {
	c.readingsRecorded.Inc()
}

// RecordReminderSent は日次リマインダーの送信を記録する。
func (c *Collector) RecordReminderSent() {
	c.remindersSent.Inc()
}

// RecordAlertSent は低残高アラートの送信を記録する。
func (c *Collector) RecordAlertSent() {
	c.alertsSent.Inc()
}

// RecordDispatchFailure はメッセージ送信失敗をチャネル別に記録する。
func (c *Collector) RecordDispatchFailure(channel string) {
	c.dispatchFail.WithLabelValues(channel).Inc()
}

// RecordSweepDuration はスイープ1回の所要時間を記録する。
func (c *Collector) RecordSweepDuration(duration time.Duration) {
	c.sweepDuration.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
