package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 阶段流转计数
	DealTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deal_stage_transitions_total",
			Help: "Total number of accepted deal stage transitions",
		},
		[]string{"direction"}, // direction: forward, backward
	)

	// 被拒绝的流转
	TransitionRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deal_stage_transition_rejections_total",
			Help: "Total number of rejected deal stage transitions",
		},
		[]string{"reason"},
	)

	// 交易生命周期事件
	DealLifecycle = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deal_lifecycle_events_total",
			Help: "Deals created, closed, reopened and deleted",
		},
		[]string{"event"},
	)

	// 当前逾期交易数（由逾期扫描器更新）
	OverdueDeals = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "deals_overdue",
			Help: "Active deals past their stage deadline at the last scan",
		},
	)

	// Outbox 发布结果
	OutboxPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_events_published_total",
			Help: "Outbox events handed to the broker",
		},
		[]string{"status"}, // status: sent, failed, skipped
	)

	// MQ 消费延迟（毫秒）
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"routing_key", "queue"},
	)

	// 数据库查询延迟（秒）
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation"},
	)

	// 慢查询计数
	SlowQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_slow_queries_total",
			Help: "Queries slower than the configured threshold",
		},
		[]string{"operation"}, // operation: select, insert, update, delete
	)

	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)
)

// RecordTransition 记录一次成功的阶段流转
func RecordTransition(backward bool) {
	direction := "forward"
	if backward {
		direction = "backward"
	}
	DealTransitions.WithLabelValues(direction).Inc()
}

// RecordRejection 记录一次被拒绝的流转
func RecordRejection(reason string) {
	TransitionRejections.WithLabelValues(reason).Inc()
}

// RecordLifecycle 记录交易生命周期事件
func RecordLifecycle(event string) {
	DealLifecycle.WithLabelValues(event).Inc()
}

// SetOverdueDeals 设置逾期交易数
func SetOverdueDeals(n int) {
	OverdueDeals.Set(float64(n))
}

// RecordOutboxPublish 记录 outbox 发布结果
func RecordOutboxPublish(status string) {
	OutboxPublished.WithLabelValues(status).Inc()
}

// RecordMQConsumeLatency 记录 MQ 消费延迟
func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

// RecordDBQueryDuration 记录数据库查询延迟
func RecordDBQueryDuration(operation string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// IncrementSlowQuery 记录慢查询
func IncrementSlowQuery(operation string) {
	SlowQueries.WithLabelValues(operation).Inc()
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}
