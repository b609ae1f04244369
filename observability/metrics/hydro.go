package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HydroMetrics collects Prometheus series for the hydro lockup-voting-scoring
// core, mirroring the module-level request/latency/error shape used for the
// rest of the JSON-RPC surface.
type HydroMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	lockedNow prometheus.Gauge
}

var (
	hydroOnce sync.Once
	hydroReg  *HydroMetrics
)

// Hydro returns the lazily-initialised hydro metrics registry.
func Hydro() *HydroMetrics {
	hydroOnce.Do(func() {
		hydroReg = &HydroMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "hydro",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Total hydro engine operations segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "hydro",
				Subsystem: "engine",
				Name:      "errors_total",
				Help:      "Count of hydro engine operation failures segmented by method and reason.",
			}, []string{"method", "reason"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "hydro",
				Subsystem: "engine",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for hydro engine operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
			lockedNow: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "hydro",
				Subsystem: "lockup",
				Name:      "total_locked",
				Help:      "Total funds currently locked across every denom, as a float64 approximation.",
			}),
		}
		prometheus.MustRegister(hydroReg.requests, hydroReg.errors, hydroReg.latency, hydroReg.lockedNow)
	})
	return hydroReg
}

// Observe records the outcome and latency of a single engine operation
// invoked through the RPC surface.
func (m *HydroMetrics) Observe(method string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	method = strings.TrimSpace(method)
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
		reason := strings.TrimSpace(err.Error())
		if reason == "" {
			reason = "unknown"
		}
		m.errors.WithLabelValues(method, reason).Inc()
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	m.latency.WithLabelValues(method).Observe(duration.Seconds())
}

// SetLocked updates the total-locked gauge (a float64 approximation of the
// underlying *big.Int; Prometheus gauges are float64-native, so large values
// lose precision beyond 2^53 — acceptable for dashboards, not for
// settlement).
func (m *HydroMetrics) SetLocked(value float64) {
	if m == nil {
		return
	}
	m.lockedNow.Set(value)
}
