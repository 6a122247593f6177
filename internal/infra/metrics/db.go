package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(storePoolConns, storeOpSeconds) }

var (
	storePoolConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "session_store_pool_connections",
			Help: "Connections of the session store pool by state.",
		},
		[]string{"state"}, // total | idle | in_use
	)
	storeOpSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "session_store_op_seconds",
			Help:    "Latency of session store operations.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"backend", "op", "outcome"},
	)
)

func SetDBPoolStats(total, idle, inUse int32) {
	storePoolConns.WithLabelValues("total").Set(float64(total))
	storePoolConns.WithLabelValues("idle").Set(float64(idle))
	storePoolConns.WithLabelValues("in_use").Set(float64(inUse))
}

// ObserveStoreOp records one store call started at start. Use it deferred:
//
//	defer metrics.ObserveStoreOp("postgres", "save", time.Now(), &err)
func ObserveStoreOp(backend, op string, start time.Time, errp *error) {
	outcome := "ok"
	if errp != nil && *errp != nil {
		outcome = "error"
	}
	storeOpSeconds.WithLabelValues(backend, op, outcome).Observe(time.Since(start).Seconds())
}
