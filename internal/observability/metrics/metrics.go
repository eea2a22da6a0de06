package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebhookMetrics exposes counters/histograms for the lead webhook flow.
type WebhookMetrics struct {
	inboundTotal   *prometheus.CounterVec
	webhookLatency *prometheus.HistogramVec
	stepTotal      *prometheus.CounterVec
}

func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	m := &WebhookMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "salesai",
			Subsystem: "webhook",
			Name:      "inbound_total",
			Help:      "Total inbound lead webhooks",
		}, []string{"status"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "salesai",
			Subsystem: "webhook",
			Name:      "latency_seconds",
			Help:      "Latency of lead webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		stepTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "salesai",
			Subsystem: "funnel",
			Name:      "step_total",
			Help:      "Funnel steps reached after processing a message",
		}, []string{"step"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.webhookLatency, m.stepTotal)
	return m
}

func (m *WebhookMetrics) ObserveInbound(status string, seconds float64) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(status).Inc()
	m.webhookLatency.WithLabelValues(status).Observe(seconds)
}

func (m *WebhookMetrics) ObserveStep(step string) {
	if m == nil {
		return
	}
	m.stepTotal.WithLabelValues(step).Inc()
}

// GatewayMetrics tracks CRM gateway health: call outcomes, breaker state,
// and retry queue depth.
type GatewayMetrics struct {
	callsTotal   *prometheus.CounterVec
	breakerState *prometheus.GaugeVec
	queueDepth   prometheus.Gauge
	queueDropped prometheus.Counter
}

func NewGatewayMetrics(reg prometheus.Registerer) *GatewayMetrics {
	m := &GatewayMetrics{
		callsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "salesai",
			Subsystem: "crm",
			Name:      "calls_total",
			Help:      "CRM gateway call outcomes",
		}, []string{"operation", "outcome"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "salesai",
			Subsystem: "crm",
			Name:      "breaker_state",
			Help:      "Circuit breaker state (1 for the active state)",
		}, []string{"state"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "salesai",
			Subsystem: "crm",
			Name:      "retry_queue_depth",
			Help:      "Items parked in the fire-and-forget retry queue",
		}),
		queueDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "salesai",
			Subsystem: "crm",
			Name:      "retry_queue_dropped_total",
			Help:      "Retry queue items dropped after exhausting attempts",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.callsTotal, m.breakerState, m.queueDepth, m.queueDropped)
	return m
}

func (m *GatewayMetrics) ObserveCall(operation, outcome string) {
	if m == nil {
		return
	}
	m.callsTotal.WithLabelValues(operation, outcome).Inc()
}

func (m *GatewayMetrics) SetBreakerState(state string) {
	if m == nil {
		return
	}
	for _, s := range []string{"closed", "open", "half_open"} {
		v := 0.0
		if s == state {
			v = 1.0
		}
		m.breakerState.WithLabelValues(s).Set(v)
	}
}

func (m *GatewayMetrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

func (m *GatewayMetrics) ObserveQueueDrop() {
	if m == nil {
		return
	}
	m.queueDropped.Inc()
}
