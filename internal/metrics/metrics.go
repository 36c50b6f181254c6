// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ログイン結果のラベル値。
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層・ミドルウェア・ワーカーから利用する。
type MetricsCollector interface {
	RecordLogin(outcome string)
	RecordUserCreated(role string)
	RecordGradeUpdate(outcome string)
	RecordSessionsRevoked(count int)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins          *prometheus.CounterVec
	usersCreated    *prometheus.CounterVec
	gradeUpdates    *prometheus.CounterVec
	sessionsRevoked prometheus.Counter
	httpStatus      *prometheus.CounterVec
	requestLatency  prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gradebook_logins_total",
			Help: "OAuthログイン試行の結果別の合計数",
		}, []string{"outcome"}),
		usersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gradebook_users_created_total",
			Help: "ロール別の新規ユーザー作成数",
		}, []string{"role"}),
		gradeUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gradebook_grade_updates_total",
			Help: "成績更新の結果別の合計数",
		}, []string{"outcome"}),
		sessionsRevoked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gradebook_sessions_revoked_total",
			Help: "ログアウトと期限切れ削除で破棄されたセッション数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gradebook_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gradebook_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.logins,
		c.usersCreated,
		c.gradeUpdates,
		c.sessionsRevoked,
		c.httpStatus,
		c.requestLatency,
	)

	return c
}

// RecordLogin はログイン試行の結果を記録する。
func (c *Collector) RecordLogin(outcome string) {
	c.logins.WithLabelValues(outcome).Inc()
}

// RecordUserCreated は新規ユーザーの作成を記録する。
func (c *Collector) RecordUserCreated(role string) {
	c.usersCreated.WithLabelValues(role).Inc()
}

// RecordGradeUpdate は成績更新の結果を記録する。
func (c *Collector) RecordGradeUpdate(outcome string) {
	c.gradeUpdates.WithLabelValues(outcome).Inc()
}

// RecordSessionsRevoked は破棄されたセッション数を記録する。
func (c *Collector) RecordSessionsRevoked(count int) {
	if count > 0 {
		c.sessionsRevoked.Add(float64(count))
	}
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエスト処理時間を記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// Nop は何も記録しないMetricsCollector。コレクタ未指定時の既定値として使う。
type Nop struct{}

func (Nop) RecordLogin(string)                 {}
func (Nop) RecordUserCreated(string)           {}
func (Nop) RecordGradeUpdate(string)           {}
func (Nop) RecordSessionsRevoked(int)          {}
func (Nop) RecordHTTPStatus(int)               {}
func (Nop) RecordRequestLatency(time.Duration) {}

// OrNop はcがnilの場合にNopを返す。
func OrNop(c MetricsCollector) MetricsCollector {
	if c == nil {
		return Nop{}
	}
	return c
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Middleware はレスポンスのステータスコードと処理時間を記録するHTTPミドルウェアを返す。
func Middleware(c MetricsCollector) func(http.Handler) http.Handler {
	c = OrNop(c)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)
			c.RecordHTTPStatus(rec.statusCode)
			c.RecordRequestLatency(time.Since(start))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
