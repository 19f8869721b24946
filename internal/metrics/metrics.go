// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// セッションワークフローやミドルウェアから利用する。
type MetricsCollector interface {
	RecordOperation(op, kind string)
	RecordProviderCall(call string, duration time.Duration, err error)
	RecordHTTPStatus(statusCode int)
	RecordRateLimited(scope string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	operations      *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	providerErrors  *prometheus.CounterVec
	httpStatus      *prometheus.CounterVec
	rateLimited     *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sessionauth_operation_total",
			Help: "セッション操作の結果別の合計数",
		}, []string{"op", "kind"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sessionauth_provider_latency_seconds",
			Help:    "Identity Provider・Profile Store呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"call"}),
		providerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sessionauth_provider_errors_total",
			Help: "Identity Provider・Profile Store呼び出しのエラー数",
		}, []string{"call"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sessionauth_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sessionauth_rate_limited_total",
			Help: "レート制限により拒否されたリクエスト数",
		}, []string{"scope"}),
	}

	reg.MustRegister(
		c.operations,
		c.providerLatency,
		c.providerErrors,
		c.httpStatus,
		c.rateLimited,
	)

	return c
}

// RecordOperation はセッション操作の結果を記録する。
func (c *Collector) RecordOperation(op, kind string) {
	c.operations.WithLabelValues(op, kind).Inc()
}

// RecordProviderCall は外部コラボレーター呼び出しのレイテンシとエラーを記録する。
func (c *Collector) RecordProviderCall(call string, duration time.Duration, err error) {
	c.providerLatency.WithLabelValues(call).Observe(duration.Seconds())
	if err != nil {
		c.providerErrors.WithLabelValues(call).Inc()
	}
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRateLimited はレート制限による拒否を記録する。
func (c *Collector) RecordRateLimited(scope string) {
	c.rateLimited.WithLabelValues(scope).Inc()
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordOperation(string, string) {}
func (Nop) RecordProviderCall(string, time.Duration, error) {}
func (Nop) RecordHTTPStatus(int) {}
func (Nop) RecordRateLimited(string) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
