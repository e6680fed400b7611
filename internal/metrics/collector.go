// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
//
// 同时实现 llm.MetricsRecorder 与 store.QueryRecorder，
// 由 cmd/qaflow 在组装时注入各组件。
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 解析指标
	resolutionsTotal   *prometheus.CounterVec
	resolutionDuration *prometheus.HistogramVec
	inflight           prometheus.Gauge

	// 上游客户端指标
	clientAttemptsTotal   *prometheus.CounterVec
	clientAttemptDuration *prometheus.HistogramVec
	tokensUsed            *prometheus.CounterVec
	credentialCooldowns   *prometheus.CounterVec
	credentialsAvailable  prometheus.Gauge

	// 缓存指标
	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
	cacheEvictions *prometheus.CounterVec
	cacheKeys      prometheus.Gauge

	// 存储指标
	storeQueriesTotal  *prometheus.CounterVec
	storeQueryDuration *prometheus.HistogramVec
	dbConnectionsOpen  *prometheus.GaugeVec
	dbConnectionsIdle  *prometheus.GaugeVec

	// 批处理指标
	batchKeysTotal *prometheus.CounterVec
	batchRuns      *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器。
// reg 为 nil 时注册到 prometheus.DefaultRegisterer。
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 解析指标
	c.resolutionsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "Total number of key resolutions by source and status",
		},
		[]string{"source", "status"},
	)

	c.resolutionDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resolution_duration_seconds",
			Help:      "Key resolution duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"source"},
	)

	c.inflight = f.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "resolutions_inflight",
			Help:      "Number of resolutions currently in progress",
		},
	)

	// 上游客户端指标
	c.clientAttemptsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_attempts_total",
			Help:      "Total number of upstream call attempts",
		},
		[]string{"model", "status"},
	)

	c.clientAttemptDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "client_attempt_duration_seconds",
			Help:      "Upstream call attempt duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"model"},
	)

	c.tokensUsed = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_tokens_used_total",
			Help:      "Total number of tokens used",
		},
		[]string{"model", "type"}, // type: prompt, completion
	)

	c.credentialCooldowns = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credential_cooldowns_total",
			Help:      "Total number of times a credential entered cooldown",
		},
		[]string{"credential"},
	)

	c.credentialsAvailable = f.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "credentials_available",
			Help:      "Number of credentials not cooling down",
		},
	)

	// 缓存指标
	c.cacheHits = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"policy"},
	)

	c.cacheMisses = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"policy"},
	)

	c.cacheEvictions = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Total number of cache evictions",
		},
		[]string{"policy"},
	)

	c.cacheKeys = f.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_keys",
			Help:      "Number of keys tracked by the cache index",
		},
	)

	// 存储指标
	c.storeQueriesTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_queries_total",
			Help:      "Total number of record store queries",
		},
		[]string{"backend", "operation", "status"},
	)

	c.storeQueryDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_query_duration_seconds",
			Help:      "Record store query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	c.dbConnectionsOpen = f.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = f.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	// 批处理指标
	c.batchKeysTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_keys_total",
			Help:      "Total number of keys processed by batch runs",
		},
		[]string{"status"},
	)

	c.batchRuns = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_runs_total",
			Help:      "Total number of batch runs",
		},
		[]string{"status"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusClass(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🔎 解析指标记录
// =============================================================================

// RecordResolution 记录一次键解析，source 为空表示失败前未得到来源
func (c *Collector) RecordResolution(source, status string, duration time.Duration) {
	if source == "" {
		source = "none"
	}
	c.resolutionsTotal.WithLabelValues(source, status).Inc()
	c.resolutionDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// ResolutionStarted 解析开始，返回结束回调
func (c *Collector) ResolutionStarted() func() {
	c.inflight.Inc()
	return c.inflight.Dec
}

// =============================================================================
// 🤖 上游客户端指标记录
// =============================================================================

// RecordClientAttempt 记录一次上游调用尝试
func (c *Collector) RecordClientAttempt(model, status string, duration time.Duration) {
	c.clientAttemptsTotal.WithLabelValues(model, status).Inc()
	c.clientAttemptDuration.WithLabelValues(model).Observe(duration.Seconds())
}

// RecordTokens 记录 token 用量
func (c *Collector) RecordTokens(model string, prompt, completion int) {
	c.tokensUsed.WithLabelValues(model, "prompt").Add(float64(prompt))
	c.tokensUsed.WithLabelValues(model, "completion").Add(float64(completion))
}

// RecordCredentialCooldown 记录凭证进入冷却，label 为脱敏后的凭证标识
func (c *Collector) RecordCredentialCooldown(label string, failures int) {
	c.credentialCooldowns.WithLabelValues(label).Inc()
}

// SetCredentialsAvailable 设置当前可用凭证数
func (c *Collector) SetCredentialsAvailable(n int) {
	c.credentialsAvailable.Set(float64(n))
}

// =============================================================================
// 💾 缓存指标记录
// =============================================================================

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(policy string) {
	c.cacheHits.WithLabelValues(policy).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(policy string) {
	c.cacheMisses.WithLabelValues(policy).Inc()
}

// EvictionHook 返回供 cache.WithEvictionHook 使用的回调
func (c *Collector) EvictionHook(policy string) func(key string) {
	counter := c.cacheEvictions.WithLabelValues(policy)
	return func(string) { counter.Inc() }
}

// SetCacheKeys 设置缓存索引中的键数
func (c *Collector) SetCacheKeys(n int) {
	c.cacheKeys.Set(float64(n))
}

// =============================================================================
// 🗄️ 存储指标记录
// =============================================================================

// RecordStoreQuery 记录一次存储查询
func (c *Collector) RecordStoreQuery(backend, operation, status string, duration time.Duration) {
	c.storeQueriesTotal.WithLabelValues(backend, operation, status).Inc()
	c.storeQueryDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// =============================================================================
// 📦 批处理指标记录
// =============================================================================

// RecordBatchKey 记录批处理中单个键的结果
func (c *Collector) RecordBatchKey(status string) {
	c.batchKeysTotal.WithLabelValues(status).Inc()
}

// RecordBatchRun 记录一次批处理运行结束
func (c *Collector) RecordBatchRun(status string) {
	c.batchRuns.WithLabelValues(status).Inc()
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusClass 将 HTTP 状态码归类为 2xx/3xx/4xx/5xx
func statusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return strconv.Itoa(code)
	}
}
