// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 更新処理の結果ラベル
const (
	OutcomeConfirmed        = "confirmed"
	OutcomePartiallyApplied = "partially_applied"
	OutcomeFailed           = "failed"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ミドルウェアやサービス層から利用する。
type MetricsCollector interface {
	RecordIdentityResolution(source string)
	RecordSearch(mode string, results int, duration time.Duration)
	RecordSearchFailure(mode string)
	RecordMutation(operation, outcome string)
	RecordHTTPStatus(statusCode int)
	RecordSessionsCleaned(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	identityResolutions *prometheus.CounterVec
	searches            *prometheus.CounterVec
	searchResults       *prometheus.HistogramVec
	searchLatency       prometheus.Histogram
	searchFailures      *prometheus.CounterVec
	mutations           *prometheus.CounterVec
	httpStatus          *prometheus.CounterVec
	sessionsCleaned     prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		identityResolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "postboard_identity_resolutions_total",
			Help: "解決元別の呼び出し元解決数",
		}, []string{"source"}),
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "postboard_searches_total",
			Help: "モード別の検索実行数",
		}, []string{"mode"}),
		searchResults: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "postboard_search_results",
			Help:    "検索1回あたりの結果件数",
			Buckets: []float64{0, 1, 5, 10, 50, 100, 500},
		}, []string{"mode"}),
		searchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "postboard_search_latency_seconds",
			Help:    "検索のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		searchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "postboard_search_failures_total",
			Help: "モード別の検索失敗数",
		}, []string{"mode"}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "postboard_mutations_total",
			Help: "操作・結果別の更新処理数",
		}, []string{"operation", "outcome"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "postboard_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		sessionsCleaned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "postboard_sessions_cleaned_total",
			Help: "削除された期限切れセッションの合計数",
		}),
	}

	reg.MustRegister(
		c.identityResolutions,
		c.searches,
		c.searchResults,
		c.searchLatency,
		c.searchFailures,
		c.mutations,
		c.httpStatus,
		c.sessionsCleaned,
	)

	return c
}

// RecordIdentityResolution は呼び出し元の解決元を記録する。
func (c *Collector) RecordIdentityResolution(source string) {
	c.identityResolutions.WithLabelValues(source).Inc()
}

// RecordSearch は検索の成功を記録する。
func (c *Collector) RecordSearch(mode string, results int, duration time.Duration) {
	c.searches.WithLabelValues(mode).Inc()
	c.searchResults.WithLabelValues(mode).Observe(float64(results))
	c.searchLatency.Observe(duration.Seconds())
}

// RecordSearchFailure は検索の失敗を記録する。
func (c *Collector) RecordSearchFailure(mode string) {
	c.searchFailures.WithLabelValues(mode).Inc()
}

// RecordMutation は更新処理の結果を記録する。
func (c *Collector) RecordMutation(operation, outcome string) {
	c.mutations.WithLabelValues(operation, outcome).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordSessionsCleaned は削除した期限切れセッション数を記録する。
func (c *Collector) RecordSessionsCleaned(count int64) {
	c.sessionsCleaned.Add(float64(count))
}

// Nop は何も記録しないMetricsCollector。テストとメトリクス無効時に使用する。
type Nop struct{}

func (Nop) RecordIdentityResolution(string) {}
func (Nop) RecordSearch(string, int, time.Duration) {}
func (Nop) RecordSearchFailure(string) {}
func (Nop) RecordMutation(string, string) {}
func (Nop) RecordHTTPStatus(int) {}
func (Nop) RecordSessionsCleaned(int64) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
