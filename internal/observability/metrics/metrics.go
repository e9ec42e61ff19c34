package metrics

import "github.com/prometheus/client_golang/prometheus"

// CalendarMetrics exposes counters for availability writes and recurrence
// materialization.
type CalendarMetrics struct {
	proposalsTotal    *prometheus.CounterVec
	materializedTotal *prometheus.CounterVec
}

func NewCalendarMetrics(reg prometheus.Registerer) *CalendarMetrics {
	m := &CalendarMetrics{
		proposalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "servicehub",
			Subsystem: "calendar",
			Name:      "proposals_total",
			Help:      "Slot proposals by outcome",
		}, []string{"outcome"}),
		materializedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "servicehub",
			Subsystem: "calendar",
			Name:      "occurrences_total",
			Help:      "Recurring occurrences considered during materialization",
		}, []string{"trigger", "result"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.proposalsTotal, m.materializedTotal)
	return m
}

func (m *CalendarMetrics) ObserveProposal(outcome string) {
	if m == nil {
		return
	}
	m.proposalsTotal.WithLabelValues(outcome).Inc()
}

func (m *CalendarMetrics) ObserveMaterialized(trigger string, created, duplicates, skipped, clashing int) {
	if m == nil {
		return
	}
	m.materializedTotal.WithLabelValues(trigger, "created").Add(float64(created))
	m.materializedTotal.WithLabelValues(trigger, "duplicate").Add(float64(duplicates))
	m.materializedTotal.WithLabelValues(trigger, "skipped").Add(float64(skipped))
	m.materializedTotal.WithLabelValues(trigger, "clashing").Add(float64(clashing))
}

// BookingMetrics exposes counters/histograms for the booking coordinator.
type BookingMetrics struct {
	outcomesTotal      *prometheus.CounterVec
	compensationsTotal *prometheus.CounterVec
	latency            *prometheus.HistogramVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		outcomesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "servicehub",
			Subsystem: "booking",
			Name:      "operations_total",
			Help:      "Booking operations by outcome",
		}, []string{"op", "outcome"}),
		compensationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "servicehub",
			Subsystem: "booking",
			Name:      "compensations_total",
			Help:      "Compensating writes issued after a partial failure",
		}, []string{"step", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "servicehub",
			Subsystem: "booking",
			Name:      "operation_latency_seconds",
			Help:      "Latency of booking operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.outcomesTotal, m.compensationsTotal, m.latency)
	return m
}

func (m *BookingMetrics) ObserveOutcome(op, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.outcomesTotal.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(seconds)
}

func (m *BookingMetrics) ObserveCompensation(step string, ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "failed"
	}
	m.compensationsTotal.WithLabelValues(step, status).Inc()
}
