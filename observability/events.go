package observability

import (
	"math/big"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"crowdsale/core/events"
)

type eventMetrics struct {
	emitted  *prometheus.CounterVec
	accepted *prometheus.CounterVec
	refunded *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking published sale events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "crowdsale",
				Subsystem: "events",
				Name:      "published_total",
				Help:      "Count of committed events segmented by type.",
			}, []string{"type"}),
			accepted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "crowdsale",
				Subsystem: "events",
				Name:      "accepted_wei_total",
				Help:      "Value accepted by contributions segmented by sale.",
			}, []string{"sale"}),
			refunded: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "crowdsale",
				Subsystem: "events",
				Name:      "refunded_wei_total",
				Help:      "Cap excess refunded to contributors segmented by sale.",
			}, []string{"sale"}),
		}
		prometheus.MustRegister(eventRegistry.emitted, eventRegistry.accepted, eventRegistry.refunded)
	})
	return eventRegistry
}

// Emit implements events.Emitter so the registry can sit in the publish fan-out.
func (m *eventMetrics) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	eventType := strings.TrimSpace(evt.EventType())
	if eventType == "" {
		eventType = "unknown"
	}
	m.emitted.WithLabelValues(eventType).Inc()
	payload, ok := events.Unwrap(evt)
	if !ok {
		return
	}
	sale := payload.Attributes["sale"]
	switch eventType {
	case "sale.contribution.accepted":
		m.accepted.WithLabelValues(sale).Add(amountFloat(payload.Attributes["amount"]))
	case "sale.contribution.refund":
		m.refunded.WithLabelValues(sale).Add(amountFloat(payload.Attributes["amount"]))
	}
}

func amountFloat(raw string) float64 {
	value, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok || value.Sign() < 0 {
		return 0
	}
	return bigToFloat(value)
}
