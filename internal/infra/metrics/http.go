package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(httpRequestsTotal, rateLimitedTotal) }

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "API requests by route pattern and status code.",
		},
		[]string{"route", "code"},
	)

	rateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "http_rate_limited_total",
			Help: "Turns rejected by the per-user rate limiter.",
		},
	)
)

func IncHTTPRequest(route string, code int) {
	httpRequestsTotal.WithLabelValues(norm(route), strconv.Itoa(code)).Inc()
}

func IncRateLimited() { rateLimitedTotal.Inc() }
