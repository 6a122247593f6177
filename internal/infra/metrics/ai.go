package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		modelAttemptsTotal,
		modelCallLatencyMs,
		modelFailedGauge,
		modelGatewayResets,
		modelTokensIn,
	)
}

var (
	modelAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "model_attempts_total",
			Help: "Provider invocations made by the gateway per model and outcome category.",
		},
		[]string{"model", "category"}, // category: ok | rate_limited | model_unavailable | other
	)

	modelCallLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "model_call_latency_ms",
			Help:    "Single provider call latency distribution in milliseconds.",
			Buckets: []float64{10, 25, 50, 100, 200, 400, 800, 1600, 3000, 5000, 10000},
		},
		[]string{"model", "success"},
	)

	modelFailedGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "model_failed_models",
			Help: "Number of models currently excluded from rotation.",
		},
	)

	modelGatewayResets = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "model_gateway_resets_total",
			Help: "Times the failed-model set was cleared.",
		},
	)

	modelTokensIn = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "model_tokens_in",
			Help: "Estimated prompt tokens sent per model.",
		},
		[]string{"model"},
	)
)

func ObserveModelAttempt(model, category string, latency time.Duration, success bool) {
	if success {
		category = "ok"
	}
	modelAttemptsTotal.WithLabelValues(norm(model), norm(category)).Inc()
	modelCallLatencyMs.WithLabelValues(norm(model), strconv.FormatBool(success)).
		Observe(float64(latency.Milliseconds()))
}

func SetFailedModels(n int) { modelFailedGauge.Set(float64(n)) }

func IncGatewayReset() { modelGatewayResets.Inc() }

func AddPromptTokens(model string, n int) {
	modelTokensIn.WithLabelValues(norm(model)).Add(float64(n))
}
