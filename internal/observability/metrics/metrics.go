package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "clinic"

// MessagingMetrics exposes counters/histograms for WhatsApp webhook and send flows.
type MessagingMetrics struct {
	inboundTotal   *prometheus.CounterVec
	outboundTotal  *prometheus.CounterVec
	webhookLatency *prometheus.HistogramVec
}

func NewMessagingMetrics(reg prometheus.Registerer) *MessagingMetrics {
	m := &MessagingMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "whatsapp",
			Name:      "inbound_webhook_total",
			Help:      "Total inbound WhatsApp webhook messages",
		}, []string{"message_type", "status"}),
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "whatsapp",
			Name:      "outbound_total",
			Help:      "Total outbound WhatsApp sends",
		}, []string{"status"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "whatsapp",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of WhatsApp webhook acknowledgement",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.outboundTotal, m.webhookLatency)
	return m
}

func (m *MessagingMetrics) ObserveInbound(messageType, status string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(messageType, status).Inc()
}

func (m *MessagingMetrics) ObserveOutbound(status string) {
	if m == nil {
		return
	}
	m.outboundTotal.WithLabelValues(status).Inc()
}

func (m *MessagingMetrics) ObserveWebhookLatency(method string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(method).Observe(seconds)
}

// ConversationMetrics tracks booking-flow progress.
type ConversationMetrics struct {
	transitions *prometheus.CounterVec
	outcomes    *prometheus.CounterVec
}

func NewConversationMetrics(reg prometheus.Registerer) *ConversationMetrics {
	m := &ConversationMetrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conversation",
			Name:      "transitions_total",
			Help:      "State transitions of WhatsApp booking sessions",
		}, []string{"from", "to"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conversation",
			Name:      "outcomes_total",
			Help:      "Terminal outcomes of WhatsApp booking sessions",
		}, []string{"outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.transitions, m.outcomes)
	return m
}

func (m *ConversationMetrics) ObserveTransition(from, to string) {
	if m == nil || from == to {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// ObserveOutcome records booked, cancelled, expired or failed sessions.
func (m *ConversationMetrics) ObserveOutcome(outcome string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(outcome).Inc()
}

// TenantCacheMetrics covers the per-tenant connection cache.
type TenantCacheMetrics struct {
	opened    prometheus.Counter
	evictions *prometheus.CounterVec
	resident  prometheus.Gauge
}

func NewTenantCacheMetrics(reg prometheus.Registerer) *TenantCacheMetrics {
	m := &TenantCacheMetrics{
		opened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tenantdb",
			Name:      "open_total",
			Help:      "Tenant database handles opened",
		}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tenantdb",
			Name:      "evictions_total",
			Help:      "Tenant database handles released, by reason",
		}, []string{"reason"}),
		resident: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tenantdb",
			Name:      "resident",
			Help:      "Tenant database handles currently cached",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.opened, m.evictions, m.resident)
	return m
}

func (m *TenantCacheMetrics) ObserveOpen() {
	if m == nil {
		return
	}
	m.opened.Inc()
}

func (m *TenantCacheMetrics) ObserveEviction(reason string) {
	if m == nil {
		return
	}
	m.evictions.WithLabelValues(reason).Inc()
}

func (m *TenantCacheMetrics) SetResident(n int) {
	if m == nil {
		return
	}
	m.resident.Set(float64(n))
}
