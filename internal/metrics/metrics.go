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
// 分析サービス、ディスパッチャ、HTTPミドルウェアから利用する。
type MetricsCollector interface {
	RecordAnalysisStarted(analysisType string)
	RecordAnalysisFinished(status string, duration time.Duration)
	RecordStageLatency(stage string, duration time.Duration)
	RecordProviderFailure(stage string)
	RecordRecovered(action string, count int)
	SetAnalysesInFlight(n int)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	analysisStarted  *prometheus.CounterVec
	analysisFinished *prometheus.CounterVec
	analysisDuration prometheus.Histogram
	stageLatency     *prometheus.HistogramVec
	providerFail     *prometheus.CounterVec
	recovered        *prometheus.CounterVec
	inFlight         prometheus.Gauge
	httpStatus       *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		analysisStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hirely_analysis_started_total",
			Help: "開始された分析の合計数",
		}, []string{"analysis_type"}),
		analysisFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hirely_analysis_finished_total",
			Help: "終端状態に到達した分析の合計数",
		}, []string{"status"}),
		analysisDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hirely_analysis_duration_seconds",
			Help:    "分析の処理時間（秒）",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600},
		}),
		stageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hirely_analysis_stage_latency_seconds",
			Help:    "分析パイプラインの段階別レイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		providerFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hirely_provider_failures_total",
			Help: "外部プロバイダ呼び出し失敗の合計数",
		}, []string{"stage"}),
		recovered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hirely_analysis_recovered_total",
			Help: "リカバリジョブが処理した分析の合計数",
		}, []string{"action"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hirely_analysis_in_flight",
			Help: "実行中のバックグラウンド分析タスク数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hirely_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.analysisStarted,
		c.analysisFinished,
		c.analysisDuration,
		c.stageLatency,
		c.providerFail,
		c.recovered,
		c.inFlight,
		c.httpStatus,
	)

	return c
}

// RecordAnalysisStarted は分析の開始を記録する。
func (c *Collector) RecordAnalysisStarted(analysisType string) {
	c.analysisStarted.WithLabelValues(analysisType).Inc()
}

// RecordAnalysisFinished は分析の終端遷移と処理時間を記録する。
func (c *Collector) RecordAnalysisFinished(status string, duration time.Duration) {
	c.analysisFinished.WithLabelValues(status).Inc()
	c.analysisDuration.Observe(duration.Seconds())
}

// RecordStageLatency はパイプライン段階のレイテンシを記録する。
func (c *Collector) RecordStageLatency(stage string, duration time.Duration) {
	c.stageLatency.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordProviderFailure は外部プロバイダ呼び出しの失敗を記録する。
func (c *Collector) RecordProviderFailure(stage string) {
	c.providerFail.WithLabelValues(stage).Inc()
}

// RecordRecovered はリカバリジョブの処理件数を記録する。
func (c *Collector) RecordRecovered(action string, count int) {
	c.recovered.WithLabelValues(action).Add(float64(count))
}

// SetAnalysesInFlight は実行中タスク数を設定する。
func (c *Collector) SetAnalysesInFlight(n int) {
	c.inFlight.Set(float64(n))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// NopCollector は何も記録しないMetricsCollector。テストや計測不要な構成で使用する。
type NopCollector struct{}

func (NopCollector) RecordAnalysisStarted(string)                {}
func (NopCollector) RecordAnalysisFinished(string, time.Duration) {}
func (NopCollector) RecordStageLatency(string, time.Duration)     {}
func (NopCollector) RecordProviderFailure(string)                 {}
func (NopCollector) RecordRecovered(string, int)                  {}
func (NopCollector) SetAnalysesInFlight(int)                      {}
func (NopCollector) RecordHTTPStatus(int)                         {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)
