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
// リゾルバー・コーディネーター・サービス層から利用する。
type MetricsCollector interface {
	RecordStateTransition(kind string)
	RecordProvisionAttempt()
	RecordProvisionExhausted()
	RecordResolveLatency(d time.Duration)
	RecordCallbackAttempt()
	RecordCallbackOutcome(success bool)
	RecordVerificationDecision(status string)
	RecordIDImageSubmitted()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	stateTransitions     *prometheus.CounterVec
	provisionAttempts    prometheus.Counter
	provisionExhausted   prometheus.Counter
	resolveLatency       prometheus.Histogram
	callbackAttempts     prometheus.Counter
	callbackOutcomes     *prometheus.CounterVec
	verificationDecision *prometheus.CounterVec
	idImageSubmitted     prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		stateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idgate_state_transitions_total",
			Help: "アイデンティティ状態遷移の状態別合計数",
		}, []string{"kind"}),
		provisionAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "idgate_provision_attempts_total",
			Help: "プロファイルプロビジョニング試行の合計数",
		}),
		provisionExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "idgate_provision_exhausted_total",
			Help: "リトライ上限に達したプロビジョニングの合計数",
		}),
		resolveLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "idgate_resolve_latency_seconds",
			Help:    "アイデンティティ解決のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		callbackAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "idgate_callback_attempts_total",
			Help: "OAuthコールバック完了ポーリング試行の合計数",
		}),
		callbackOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idgate_callback_outcomes_total",
			Help: "OAuthコールバック完了処理の成否別合計数",
		}, []string{"success"}),
		verificationDecision: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idgate_verification_decisions_total",
			Help: "管理者による審査決定の結果別合計数",
		}, []string{"status"}),
		idImageSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "idgate_id_image_submitted_total",
			Help: "本人確認書類提出の合計数",
		}),
	}

	reg.MustRegister(
		c.stateTransitions,
		c.provisionAttempts,
		c.provisionExhausted,
		c.resolveLatency,
		c.callbackAttempts,
		c.callbackOutcomes,
		c.verificationDecision,
		c.idImageSubmitted,
	)

	return c
}

// RecordStateTransition は状態遷移を記録する。
func (c *Collector) RecordStateTransition(kind string) {
	c.stateTransitions.WithLabelValues(kind).Inc()
}

// RecordProvisionAttempt はプロビジョニング試行を記録する。
func (c *Collector) RecordProvisionAttempt() {
	c.provisionAttempts.Inc()
}

// RecordProvisionExhausted はリトライ上限到達を記録する。
func (c *Collector) RecordProvisionExhausted() {
	c.provisionExhausted.Inc()
}

// RecordResolveLatency は解決処理のレイテンシを記録する。
func (c *Collector) RecordResolveLatency(d time.Duration) {
	c.resolveLatency.Observe(d.Seconds())
}

// RecordCallbackAttempt はコールバック完了ポーリングの試行を記録する。
func (c *Collector) RecordCallbackAttempt() {
	c.callbackAttempts.Inc()
}

// RecordCallbackOutcome はコールバック完了処理の成否を記録する。
func (c *Collector) RecordCallbackOutcome(success bool) {
	c.callbackOutcomes.WithLabelValues(strconv.FormatBool(success)).Inc()
}

// RecordVerificationDecision は審査決定を記録する。
func (c *Collector) RecordVerificationDecision(status string) {
	c.verificationDecision.WithLabelValues(status).Inc()
}

// RecordIDImageSubmitted は書類提出を記録する。
func (c *Collector) RecordIDImageSubmitted() {
	c.idImageSubmitted.Inc()
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
