// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ログイン結果のラベル値。
const (
	LoginSuccess         = "success"
	LoginInvalidState    = "invalid_state"
	LoginInvalidProvider = "invalid_provider"
	LoginOAuthError      = "oauth_error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ハンドラー・ミドルウェア・ワーカーから利用する。
type MetricsCollector interface {
	RecordLogin(provider, outcome string)
	RecordProviderLatency(provider string, duration time.Duration)
	RecordGuardDecision(decision string)
	RecordRateLimited(scope string)
	RecordSessionRefresh(strategy, outcome string)
	RecordSweep(kind string, deleted int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins          *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	guardDecisions  *prometheus.CounterVec
	rateLimited     *prometheus.CounterVec
	refreshes       *prometheus.CounterVec
	swept           *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authbridge_logins_total",
			Help: "OAuthログインの試行数（プロバイダー・結果別）",
		}, []string{"provider", "outcome"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "authbridge_provider_exchange_seconds",
			Help:    "プロバイダーとのコード交換とプロフィール取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		guardDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authbridge_guard_decisions_total",
			Help: "アクセスガードの判定数",
		}, []string{"decision"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authbridge_rate_limited_total",
			Help: "レート制限で拒否されたリクエスト数",
		}, []string{"scope"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authbridge_session_refresh_total",
			Help: "セッション更新の試行数（戦略・結果別）",
		}, []string{"strategy", "outcome"}),
		swept: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authbridge_swept_records_total",
			Help: "クリーンアップで削除された期限切れレコード数",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		c.logins,
		c.providerLatency,
		c.guardDecisions,
		c.rateLimited,
		c.refreshes,
		c.swept,
	)

	return c
}

// RecordLogin はログイン試行の結果を記録する。
func (c *Collector) RecordLogin(provider, outcome string) {
	c.logins.WithLabelValues(provider, outcome).Inc()
}

// RecordProviderLatency はプロバイダー通信のレイテンシを記録する。
func (c *Collector) RecordProviderLatency(provider string, duration time.Duration) {
	c.providerLatency.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordGuardDecision はアクセスガードの判定を記録する。
func (c *Collector) RecordGuardDecision(decision string) {
	c.guardDecisions.WithLabelValues(decision).Inc()
}

func (c *Collector) RecordRateLimited(scope string) {
	c.rateLimited.WithLabelValues(scope).Inc()
}

func (c *Collector) RecordSessionRefresh(strategy, outcome string) {
	c.refreshes.WithLabelValues(strategy, outcome).Inc()
}

// RecordSweep は削除件数を加算する。
func (c *Collector) RecordSweep(kind string, deleted int64) {
	if deleted <= 0 {
		return
	}
	c.swept.WithLabelValues(kind).Add(float64(deleted))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop は何も記録しないMetricsCollector。メトリクス未設定時とテストで使用する。
type Nop struct{}

func (Nop) RecordLogin(string, string) {}
func (Nop) RecordProviderLatency(string, time.Duration) {}
func (Nop) RecordGuardDecision(string) {}
func (Nop) RecordRateLimited(string) {}
func (Nop) RecordSessionRefresh(string, string) {}
func (Nop) RecordSweep(string, int64) {}

// compile-time interface checks
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
