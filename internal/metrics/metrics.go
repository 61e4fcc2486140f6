package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "appointments"

// SchedulingMetrics exposes counters for appointment transitions.
type SchedulingMetrics struct {
	transitions *prometheus.CounterVec
	conflicts   *prometheus.CounterVec
}

func NewSchedulingMetrics(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduling",
			Name:      "transitions_total",
			Help:      "Committed appointment transitions by event type",
		}, []string{"event"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduling",
			Name:      "conflicts_total",
			Help:      "Scheduling attempts rejected because the slot was taken or locked",
		}, []string{"reason"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.transitions, m.conflicts)
	return m
}

func (m *SchedulingMetrics) ObserveTransition(event string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(event).Inc()
}

func (m *SchedulingMetrics) ObserveConflict(reason string) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(reason).Inc()
}

// DispatchMetrics exposes counters for the notification pipeline.
type DispatchMetrics struct {
	created       *prometheus.CounterVec
	deliveries    *prometheus.CounterVec
	dndSuppressed prometheus.Counter
	queueDropped  prometheus.Counter
	deliveryTime  *prometheus.HistogramVec
}

func NewDispatchMetrics(reg prometheus.Registerer) *DispatchMetrics {
	m := &DispatchMetrics{
		created: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "created_total",
			Help:      "Notifications created by type and audience",
		}, []string{"type", "audience"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "channel_deliveries_total",
			Help:      "Channel delivery attempts by channel and outcome",
		}, []string{"channel", "status"}),
		dndSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "dnd_suppressed_total",
			Help:      "Deliveries deferred by do-not-disturb",
		}),
		queueDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "queue_dropped_total",
			Help:      "Domain events dropped because the dispatch queue was full",
		}),
		deliveryTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "channel_latency_seconds",
			Help:      "Latency of channel sends",
			Buckets:   prometheus.DefBuckets,
		}, []string{"channel"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.created, m.deliveries, m.dndSuppressed, m.queueDropped, m.deliveryTime)
	return m
}

func (m *DispatchMetrics) ObserveCreated(notificationType, audience string) {
	if m == nil {
		return
	}
	m.created.WithLabelValues(notificationType, audience).Inc()
}

func (m *DispatchMetrics) ObserveDelivery(channel, status string, seconds float64) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(channel, status).Inc()
	m.deliveryTime.WithLabelValues(channel).Observe(seconds)
}

func (m *DispatchMetrics) ObserveDNDSuppressed() {
	if m == nil {
		return
	}
	m.dndSuppressed.Inc()
}

func (m *DispatchMetrics) ObserveQueueDropped() {
	if m == nil {
		return
	}
	m.queueDropped.Inc()
}
