package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestConversationMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewConversationMetrics(reg)
	m.ObserveTurn("book_appointment", "ok")
	m.ObserveBookingConflict()
	m.ObserveSearchMode("extended")
	m.ObserveTurnLatency("text", 0.25)
}

func TestConversationMetricsNilSafe(t *testing.T) {
	var m *ConversationMetrics
	m.ObserveTurn("book_appointment", "ok")
	m.ObserveBookingConflict()
	m.ObserveSearchMode("preferred")
	m.ObserveTurnLatency("voice", 0.1)
}
