// Package metrics registers and exposes the gateway's Prometheus counters, histograms, and
// gauges on a dedicated registry.
package metrics

import (
	"encoding/json"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every metric the gateway emits, named and labeled exactly as the external
// contract requires.
type Metrics struct {
	Registry *prometheus.Registry

	NumRequests         prometheus.Counter
	RequestsPerPolicy   *prometheus.CounterVec
	RequestsPerModel    *prometheus.CounterVec
	RequestLatency      prometheus.Histogram
	RequestSuccess      prometheus.Counter
	RequestFailure      *prometheus.CounterVec
	RoutingPolicyUsage  *prometheus.CounterVec
	ModelSelectionTime  prometheus.Histogram
	LLMResponseTime     *prometheus.HistogramVec
	TokenUsage          *prometheus.CounterVec
	ProxyOverheadLatency prometheus.Histogram
	RetryCount          *prometheus.CounterVec
	CacheHitCount       prometheus.Counter
	CacheMissCount      prometheus.Counter
	CacheSize           prometheus.Gauge
	CircuitBreakerOpen  *prometheus.CounterVec
	CircuitBreakerStatus *prometheus.GaugeVec
	LoadBalancerUsage   *prometheus.CounterVec
}

// New constructs a Metrics bundle registered on a fresh prometheus.Registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		NumRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "num_requests", Help: "Total number of requests",
		}),
		RequestsPerPolicy: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "requests_per_policy", Help: "Total number of requests per policy",
		}, []string{"policy"}),
		RequestsPerModel: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "requests_per_model", Help: "Total number of requests per model",
		}, []string{"model"}),
		RequestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "request_latency_seconds", Help: "Latency of processing requests in seconds",
		}),
		RequestSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "request_success_total", Help: "Total successful requests",
		}),
		RequestFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "request_failure_total", Help: "Total failed requests, broken down by error type",
		}, []string{"error_type"}),
		RoutingPolicyUsage: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "routing_policy_usage", Help: "Number of times each routing policy was used",
		}, []string{"routing_policy"}),
		ModelSelectionTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "model_selection_time_seconds", Help: "Time taken for model selection",
		}),
		LLMResponseTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "llm_response_time_seconds", Help: "Response time for each LLM",
		}, []string{"llm"}),
		TokenUsage: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_token_usage", Help: "Token usage per LLM category",
		}, []string{"llm_name", "category"}),
		ProxyOverheadLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "proxy_overhead_latency_seconds", Help: "Overhead latency of the proxy",
		}),
		RetryCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_retry_count", Help: "Number of retries per LLM",
		}, []string{"llm_name"}),
		CacheHitCount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cache_hit_count", Help: "Number of cache hits",
		}),
		CacheMissCount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cache_miss_count", Help: "Number of cache misses",
		}),
		CacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cache_size", Help: "Current number of entries in the response cache",
		}),
		CircuitBreakerOpen: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "circuit_breaker_open", Help: "Number of times a circuit breaker opened",
		}, []string{"endpoint"}),
		CircuitBreakerStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_status", Help: "Current circuit breaker status (1 = active)",
		}, []string{"endpoint", "status"}),
		LoadBalancerUsage: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "load_balancer_usage", Help: "Number of times each instance was selected",
		}, []string{"llm_name", "api_base"}),
	}

	reg.MustRegister(
		m.NumRequests, m.RequestsPerPolicy, m.RequestsPerModel, m.RequestLatency,
		m.RequestSuccess, m.RequestFailure, m.RoutingPolicyUsage, m.ModelSelectionTime,
		m.LLMResponseTime, m.TokenUsage, m.ProxyOverheadLatency, m.RetryCount,
		m.CacheHitCount, m.CacheMissCount, m.CacheSize, m.CircuitBreakerOpen,
		m.CircuitBreakerStatus, m.LoadBalancerUsage,
	)

	return m
}

// TrackTokenUsage reads usage.{prompt_tokens,completion_tokens,total_tokens} from a provider
// JSON response body and increments the per-category counters.
func (m *Metrics) TrackTokenUsage(body []byte, llmName string) {
	var parsed struct {
		Usage struct {
			PromptTokens     *float64 `json:"prompt_tokens"`
			CompletionTokens *float64 `json:"completion_tokens"`
			TotalTokens      *float64 `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return
	}
	if parsed.Usage.PromptTokens != nil {
		m.TokenUsage.WithLabelValues(llmName, "prompt").Add(*parsed.Usage.PromptTokens)
	}
	if parsed.Usage.CompletionTokens != nil {
		m.TokenUsage.WithLabelValues(llmName, "completion").Add(*parsed.Usage.CompletionTokens)
	}
	if parsed.Usage.TotalTokens != nil {
		m.TokenUsage.WithLabelValues(llmName, "total").Add(*parsed.Usage.TotalTokens)
	}
}

// UpdateBreakerStatus resets the per-status gauges for endpoint and sets the current one,
// incrementing the open counter on every call that reports "open" (repeated reports of an
// already-open breaker are counted too).
func (m *Metrics) UpdateBreakerStatus(endpoint, status string) {
	for _, s := range []string{"closed", "half-open", "open"} {
		m.CircuitBreakerStatus.WithLabelValues(endpoint, s).Set(0)
	}
	m.CircuitBreakerStatus.WithLabelValues(endpoint, status).Set(1)
	if status == "open" {
		m.CircuitBreakerOpen.WithLabelValues(endpoint).Inc()
	}
}
