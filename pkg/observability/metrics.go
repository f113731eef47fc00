package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "pluginkernel"

// Prometheus 指标
// 使用默认注册表，由 server 通过 promhttp 暴露
var (
	FunctionCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "function_calls_total",
		Help:      "Number of dispatched function calls by function and status.",
	}, []string{"function", "status"})

	FunctionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "function_call_duration_seconds",
		Help:      "Function call latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"function"})

	CompletionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "completion_duration_seconds",
		Help:      "Completion request latency by provider.",
		Buckets:   []float64{.25, .5, 1, 2, 5, 10, 30, 60},
	}, []string{"provider"})

	Retrievals = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "retrievals_total",
		Help:      "Number of index searches by status.",
	}, []string{"status"})

	ConversationHops = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "conversation_hops",
		Help:      "Completion requests needed to produce one final answer.",
		Buckets:   []float64{1, 2, 3, 4, 6, 8, 12, 16},
	})

	ConversationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "conversation_errors_total",
		Help:      "Aborted conversation turns by reason.",
	}, []string{"reason"})
)
