package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMessagingMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMessagingMetrics(reg)
	m.ObserveInbound("text", "queued")
	m.ObserveInbound("text", "queued")
	m.ObserveOutbound("sent")
	m.ObserveWebhookLatency("POST", 0.5)

	if got := testutil.ToFloat64(m.inboundTotal.WithLabelValues("text", "queued")); got != 2 {
		t.Fatalf("expected 2 inbound, got %v", got)
	}
	if got := testutil.ToFloat64(m.outboundTotal.WithLabelValues("sent")); got != 1 {
		t.Fatalf("expected 1 outbound, got %v", got)
	}
}

func TestMessagingMetricsDefaultRegistry(t *testing.T) {
	m := NewMessagingMetrics(nil)
	m.ObserveOutbound("failed")
}

func TestConversationMetricsSkipsSelfTransitions(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewConversationMetrics(reg)
	m.ObserveTransition("date", "date")
	m.ObserveTransition("date", "slot")
	m.ObserveOutcome("booked")

	if got := testutil.CollectAndCount(m.transitions); got != 1 {
		t.Fatalf("expected 1 transition series, got %d", got)
	}
	if got := testutil.ToFloat64(m.outcomes.WithLabelValues("booked")); got != 1 {
		t.Fatalf("expected 1 booked outcome, got %v", got)
	}
}

func TestTenantCacheMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewTenantCacheMetrics(reg)
	m.ObserveOpen()
	m.ObserveEviction("capacity")
	m.SetResident(3)

	if got := testutil.ToFloat64(m.opened); got != 1 {
		t.Fatalf("expected 1 open, got %v", got)
	}
	if got := testutil.ToFloat64(m.resident); got != 3 {
		t.Fatalf("expected resident 3, got %v", got)
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *MessagingMetrics
	m.ObserveInbound("text", "queued")
	m.ObserveOutbound("sent")
	m.ObserveWebhookLatency("POST", 0.1)

	var c *ConversationMetrics
	c.ObserveTransition("a", "b")
	c.ObserveOutcome("failed")

	var tc *TenantCacheMetrics
	tc.ObserveOpen()
	tc.ObserveEviction("idle")
	tc.SetResident(1)
}
