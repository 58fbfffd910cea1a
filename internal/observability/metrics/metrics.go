package metrics

import "github.com/prometheus/client_golang/prometheus"

// ConversationMetrics exposes counters/histograms for the chat pipeline.
type ConversationMetrics struct {
	turnsTotal       *prometheus.CounterVec
	bookingConflicts prometheus.Counter
	searchMode       *prometheus.CounterVec
	turnLatency      *prometheus.HistogramVec
}

func NewConversationMetrics(reg prometheus.Registerer) *ConversationMetrics {
	m := &ConversationMetrics{
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scheduler",
			Subsystem: "conversation",
			Name:      "turns_total",
			Help:      "Total processed conversation turns",
		}, []string{"action", "kind"}),
		bookingConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scheduler",
			Subsystem: "conversation",
			Name:      "booking_conflicts_total",
			Help:      "Total reservations lost to a concurrent booking",
		}),
		searchMode: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scheduler",
			Subsystem: "conversation",
			Name:      "search_results_total",
			Help:      "Availability searches by cascade step that produced results",
		}, []string{"mode"}),
		turnLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "scheduler",
			Subsystem: "conversation",
			Name:      "turn_latency_seconds",
			Help:      "End-to-end latency of one conversation turn",
			Buckets:   prometheus.DefBuckets,
		}, []string{"input_mode"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.turnsTotal, m.bookingConflicts, m.searchMode, m.turnLatency)
	return m
}

func (m *ConversationMetrics) ObserveTurn(action, kind string) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(action, kind).Inc()
}

func (m *ConversationMetrics) ObserveBookingConflict() {
	if m == nil {
		return
	}
	m.bookingConflicts.Inc()
}

func (m *ConversationMetrics) ObserveSearchMode(mode string) {
	if m == nil {
		return
	}
	m.searchMode.WithLabelValues(mode).Inc()
}

func (m *ConversationMetrics) ObserveTurnLatency(inputMode string, seconds float64) {
	if m == nil {
		return
	}
	m.turnLatency.WithLabelValues(inputMode).Observe(seconds)
}
