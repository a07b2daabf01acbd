package observability

import (
	"errors"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SaleMetrics wraps the collectors describing sale activity.
type SaleMetrics struct {
	calls          *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	errors         *prometheus.CounterVec
	throttles      *prometheus.CounterVec
	cumulativePaid *prometheus.GaugeVec
	capRemaining   *prometheus.GaugeVec
	state          *prometheus.GaugeVec
}

var (
	saleMetricsOnce sync.Once
	saleRegistry    *SaleMetrics
)

// Sale returns the lazily-initialised sale metrics registry.
func Sale() *SaleMetrics {
	saleMetricsOnce.Do(func() {
		saleRegistry = &SaleMetrics{
			calls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "crowdsale",
				Subsystem: "sequencer",
				Name:      "calls_total",
				Help:      "Count of sequenced calls segmented by operation and outcome.",
			}, []string{"op", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "crowdsale",
				Subsystem: "sequencer",
				Name:      "call_duration_seconds",
				Help:      "Latency distribution for sequenced calls.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"op"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "crowdsale",
				Subsystem: "sequencer",
				Name:      "rejections_total",
				Help:      "Count of rejected calls segmented by operation and reason.",
			}, []string{"op", "reason"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "crowdsale",
				Subsystem: "http",
				Name:      "throttles_total",
				Help:      "Count of requests rejected by the rate limiter.",
			}, []string{"route"}),
			cumulativePaid: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "crowdsale",
				Subsystem: "sale",
				Name:      "cumulative_paid_wei",
				Help:      "Accepted value per sale phase.",
			}, []string{"sale"}),
			capRemaining: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "crowdsale",
				Subsystem: "sale",
				Name:      "cap_remaining_wei",
				Help:      "Headroom below the current cap per sale phase.",
			}, []string{"sale"}),
			state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "crowdsale",
				Subsystem: "sale",
				Name:      "state",
				Help:      "Lifecycle state per sale phase (0 pending, 1 open, 2 grace, 3 closed).",
			}, []string{"sale"}),
		}
		prometheus.MustRegister(
			saleRegistry.calls,
			saleRegistry.latency,
			saleRegistry.errors,
			saleRegistry.throttles,
			saleRegistry.cumulativePaid,
			saleRegistry.capRemaining,
			saleRegistry.state,
		)
	})
	return saleRegistry
}

// ObserveCall records the outcome of a sequenced call. Rejection reasons are
// the sentinel error text with the package prefix removed.
func (m *SaleMetrics) ObserveCall(op string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	op = strings.TrimSpace(op)
	if op == "" {
		op = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
		m.errors.WithLabelValues(op, reason(err)).Inc()
	}
	m.calls.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for route.
func (m *SaleMetrics) RecordThrottle(route string) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	m.throttles.WithLabelValues(route).Inc()
}

// RecordSale publishes the counters of a sale phase.
func (m *SaleMetrics) RecordSale(sale string, state uint8, paid, remaining *big.Int) {
	if m == nil {
		return
	}
	m.cumulativePaid.WithLabelValues(sale).Set(bigToFloat(paid))
	m.capRemaining.WithLabelValues(sale).Set(bigToFloat(remaining))
	m.state.WithLabelValues(sale).Set(float64(state))
}

func reason(err error) string {
	for unwrapped := errors.Unwrap(err); unwrapped != nil; unwrapped = errors.Unwrap(err) {
		err = unwrapped
	}
	text := err.Error()
	if _, after, found := strings.Cut(text, ": "); found {
		text = after
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "unknown"
	}
	return text
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
