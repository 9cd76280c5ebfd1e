package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Jira operation label values.
const (
	JiraOpUpdateReportField = "update_report_field"
	JiraOpUpdateCohortField = "update_cohort_field"
	JiraOpInvalidate        = "invalidate"
	JiraOpFetchCohort       = "fetch_cohort"
)

// Metrics contains all Prometheus metrics for the recontact service.
// Every Record method is safe to call on a nil *Metrics, which records nothing.
type Metrics struct {
	// RequestsCreated counts requests created from a ticket.
	RequestsCreated prometheus.Counter

	// RequestsCancelled counts cancelled requests.
	RequestsCancelled prometheus.Counter

	// MessagesCreated counts messages created by fan-out.
	MessagesCreated prometheus.Counter

	// MessageStateChanges counts state changes, labeled by the new state.
	MessageStateChanges *prometheus.CounterVec

	// JiraCalls counts calls to the ticketing system, labeled by operation.
	JiraCalls *prometheus.CounterVec

	// JiraCallFailures counts failed calls to the ticketing system, labeled by operation.
	JiraCallFailures *prometheus.CounterVec

	// JiraCallDuration observes call duration in seconds, labeled by operation.
	JiraCallDuration *prometheus.HistogramVec

	// EventsPublished counts events accepted by the bus, labeled by event type.
	EventsPublished *prometheus.CounterVec

	// EventsDropped counts events rejected because the bus was full or closed.
	EventsDropped *prometheus.CounterVec

	// EventHandlerFailures counts handler errors and panics, labeled by event type.
	EventHandlerFailures *prometheus.CounterVec

	// Sweeps counts completed report sweeps.
	Sweeps prometheus.Counter

	// SweepRequests counts requests whose report a sweep pushed.
	SweepRequests prometheus.Counter

	// SweepFailures counts requests a sweep failed to push.
	SweepFailures prometheus.Counter
}

// NewMetrics creates metrics registered with the default Prometheus registry.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegistry(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates metrics registered with reg.
func NewMetricsWithRegistry(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Requests
		RequestsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_created_total",
			Help:      "Total number of recontact requests created",
		}),
		RequestsCancelled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_cancelled_total",
			Help:      "Total number of recontact requests cancelled",
		}),

		// Messages
		MessagesCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_created_total",
			Help:      "Total number of messages created by fan-out",
		}),
		MessageStateChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "message_state_changes_total",
			Help:      "Total number of message state changes by target state",
		}, []string{"state"}),

		// Jira
		JiraCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jira_calls_total",
			Help:      "Total number of calls to Jira by operation",
		}, []string{"operation"}),
		JiraCallFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jira_call_failures_total",
			Help:      "Total number of failed calls to Jira by operation",
		}, []string{"operation"}),
		JiraCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "jira_call_duration_seconds",
			Help:      "Duration of calls to Jira in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"operation"}),

		// Events
		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Total number of events accepted by the event bus",
		}, []string{"type"}),
		EventsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Total number of events dropped because the bus was full or closed",
		}, []string{"type"}),
		EventHandlerFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_handler_failures_total",
			Help:      "Total number of event handler errors and panics",
		}, []string{"type"}),

		// Sweeps
		Sweeps: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeps_total",
			Help:      "Total number of report sweeps",
		}),
		SweepRequests: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_requests_total",
			Help:      "Total number of reports pushed by sweeps",
		}),
		SweepFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_failures_total",
			Help:      "Total number of reports sweeps failed to push",
		}),
	}
}

// RecordRequestCreated records a created request and its fanned-out messages.
func (m *Metrics) RecordRequestCreated(messages int) {
	if m == nil {
		return
	}
	m.RequestsCreated.Inc()
	m.MessagesCreated.Add(float64(messages))
}

// RecordRequestCancelled records a cancelled request.
func (m *Metrics) RecordRequestCancelled() {
	if m == nil {
		return
	}
	m.RequestsCancelled.Inc()
}

// RecordMessageCreated records a single message created outside fan-out.
func (m *Metrics) RecordMessageCreated() {
	if m == nil {
		return
	}
	m.MessagesCreated.Inc()
}

// RecordStateChange records a message moving to state.
func (m *Metrics) RecordStateChange(state string) {
	if m == nil {
		return
	}
	m.MessageStateChanges.WithLabelValues(state).Inc()
}

// RecordJiraCall records one call to Jira. A non-nil err counts as a failure.
func (m *Metrics) RecordJiraCall(operation string, durationSeconds float64, err error) {
	if m == nil {
		return
	}
	m.JiraCalls.WithLabelValues(operation).Inc()
	m.JiraCallDuration.WithLabelValues(operation).Observe(durationSeconds)
	if err != nil {
		m.JiraCallFailures.WithLabelValues(operation).Inc()
	}
}

// RecordEventPublished records an event accepted by the bus.
func (m *Metrics) RecordEventPublished(eventType string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(eventType).Inc()
}

// RecordEventDropped records an event the bus could not accept.
func (m *Metrics) RecordEventDropped(eventType string) {
	if m == nil {
		return
	}
	m.EventsDropped.WithLabelValues(eventType).Inc()
}

// RecordHandlerFailure records a failed or panicking event handler.
func (m *Metrics) RecordHandlerFailure(eventType string) {
	if m == nil {
		return
	}
	m.EventHandlerFailures.WithLabelValues(eventType).Inc()
}

// RecordSweep records a finished sweep.
func (m *Metrics) RecordSweep(pushed, failed int) {
	if m == nil {
		return
	}
	m.Sweeps.Inc()
	m.SweepRequests.Add(float64(pushed))
	m.SweepFailures.Add(float64(failed))
}
