// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hitoshi/cardshelf/internal/model"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層・ミドルウェア・クリーンアップから利用する。
type MetricsCollector interface {
	RecordCommand(name string, err error)
	RecordQueryLatency(name string, duration time.Duration)
	RecordProvenanceStamp(created bool)
	RecordMetadataFetch(success bool)
	RecordHTTPStatus(statusCode int)
	RecordOrphansDeleted(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	commands       *prometheus.CounterVec
	queryLatency   *prometheus.HistogramVec
	provenance     *prometheus.CounterVec
	metadataFetch  *prometheus.CounterVec
	httpStatus     *prometheus.CounterVec
	orphansDeleted prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cardshelf_commands_total",
			Help: "コマンド名と結果別の実行回数",
		}, []string{"command", "outcome"}),
		queryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cardshelf_query_latency_seconds",
			Help:    "クエリ別のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"query"}),
		provenance: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cardshelf_provenance_stamps_total",
			Help: "公開記録の保存回数。resultはcreatedまたはdeduplicated",
		}, []string{"result"}),
		metadataFetch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cardshelf_metadata_fetch_total",
			Help: "URLメタデータ取得の結果別回数",
		}, []string{"result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cardshelf_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		orphansDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cardshelf_orphan_records_deleted_total",
			Help: "削除された未参照の公開記録の合計数",
		}),
	}

	reg.MustRegister(
		c.commands,
		c.queryLatency,
		c.provenance,
		c.metadataFetch,
		c.httpStatus,
		c.orphansDeleted,
	)

	return c
}

// Outcome はエラーをメトリクスのラベル値に変換する。nilは"ok"。
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Category
	}
	return model.CategorySystem
}

// RecordCommand はコマンドの実行結果を記録する。
func (c *Collector) RecordCommand(name string, err error) {
	c.commands.WithLabelValues(name, Outcome(err)).Inc()
}

// RecordQueryLatency はクエリのレイテンシを記録する。
func (c *Collector) RecordQueryLatency(name string, duration time.Duration) {
	c.queryLatency.WithLabelValues(name).Observe(duration.Seconds())
}

// RecordProvenanceStamp は公開記録の保存結果を記録する。
func (c *Collector) RecordProvenanceStamp(created bool) {
	result := "deduplicated"
	if created {
		result = "created"
	}
	c.provenance.WithLabelValues(result).Inc()
}

// RecordMetadataFetch はメタデータ取得の成否を記録する。
func (c *Collector) RecordMetadataFetch(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.metadataFetch.WithLabelValues(result).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordOrphansDeleted は削除された公開記録数を記録する。
func (c *Collector) RecordOrphansDeleted(count int64) {
	c.orphansDeleted.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
