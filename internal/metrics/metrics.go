// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/prdatur/soopfw-openid/internal/audit"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ログインフロー、HTTP層、ワーカーから利用する。
type MetricsCollector interface {
	ObserveLogin(state, reason string)
	ObserveCallback(d time.Duration)
	RecordHTTPStatus(statusCode int)
	RecordSessionsPurged(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
// 監査イベントも数えるため、audit.Sinkとしても使用できる。
type Collector struct {
	logins          *prometheus.CounterVec
	loginFailures   *prometheus.CounterVec
	callbackLatency prometheus.Histogram
	auditEvents     *prometheus.CounterVec
	httpStatus      *prometheus.CounterVec
	sessionsPurged  prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "soopfw_openid_login_total",
			Help: "終了状態別のOpenIDログイン試行数",
		}, []string{"state"}),
		loginFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "soopfw_openid_login_failures_total",
			Help: "理由別のOpenIDログイン失敗数",
		}, []string{"reason"}),
		callbackLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "soopfw_openid_callback_latency_seconds",
			Help:    "プロバイダーからのコールバック処理のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		auditEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "soopfw_openid_audit_events_total",
			Help: "カテゴリ・重要度別の監査イベント数",
		}, []string{"category", "severity"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "soopfw_openid_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		sessionsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "soopfw_openid_sessions_purged_total",
			Help: "削除された期限切れセッションの合計数",
		}),
	}

	reg.MustRegister(
		c.logins,
		c.loginFailures,
		c.callbackLatency,
		c.auditEvents,
		c.httpStatus,
		c.sessionsPurged,
	)

	return c
}

// ObserveLogin はログイン試行の終了状態を記録する。reasonが空でなければ失敗として数える。
func (c *Collector) ObserveLogin(state, reason string) {
	c.logins.WithLabelValues(state).Inc()
	if reason != "" {
		c.loginFailures.WithLabelValues(reason).Inc()
	}
}

// ObserveCallback はコールバック処理のレイテンシを記録する。
func (c *Collector) ObserveCallback(d time.Duration) {
	c.callbackLatency.Observe(d.Seconds())
}

// Record は監査イベントを数える。
func (c *Collector) Record(_, category string, severity audit.Severity) {
	c.auditEvents.WithLabelValues(category, severity.String()).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordSessionsPurged は削除した期限切れセッション数を記録する。
func (c *Collector) RecordSessionsPurged(count int64) {
	c.sessionsPurged.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsを登録済みのServeMuxを返す。
// ワーカーはここに/healthを追加して公開する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

var _ audit.Sink = (*Collector)(nil)
