// Package metrics 定义服务的 Prometheus 指标，由 /metrics 暴露。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 网关
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "phoenix_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "status"},
	)

	PipelineStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "phoenix_pipeline_stage_duration_seconds",
			Help:    "Duration of pipeline nodes in seconds",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"node", "kind"},
	)

	FeedResponses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phoenix_feed_responses_total",
			Help: "Feed responses by terminal state",
		},
		[]string{"state", "degraded"},
	)

	// ANN 索引
	ANNQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "phoenix_ann_query_duration_seconds",
			Help:    "Duration of ANN index queries in seconds",
			Buckets: []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05},
		},
		[]string{"family"},
	)

	IndexRebuilds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phoenix_index_rebuilds_total",
			Help: "Index rebuild attempts by result",
		},
		[]string{"result"}, // success / failed / rejected
	)

	IndexSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "phoenix_index_vectors",
			Help: "Number of vectors in the live index",
		},
	)

	IndexVersion = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "phoenix_index_version",
			Help: "Version of the live index snapshot",
		},
	)

	// 特征刷新
	RefreshBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phoenix_refresh_batches_total",
			Help: "Feature refresh batches by result",
		},
		[]string{"result"}, // success / failed
	)

	RefreshUsers = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "phoenix_refresh_users_total",
			Help: "Total number of user embeddings written by the refresh job",
		},
	)

	// 下游
	SafetyCheckFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phoenix_safety_check_failures_total",
			Help: "Safety checker failures that were failed closed",
		},
		[]string{"checker", "reason"},
	)

	FilteredItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phoenix_filtered_items_total",
			Help: "Candidates removed by filter nodes",
		},
		[]string{"filter"},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phoenix_cache_lookups_total",
			Help: "Cache lookups by cache name and result",
		},
		[]string{"cache", "result"}, // hit / miss
	)
)

// BoolLabel 把布尔值转为标签值
func BoolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
