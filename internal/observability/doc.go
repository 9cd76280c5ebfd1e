// Package observability provides logging and metrics support for the
// recontact service.
//
// # Logging
//
// Create a logger from configuration:
//
//	logger := observability.NewLogger(observability.LoggingConfig{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "stdout",
//	})
//	logger = observability.WithComponent(logger, "report-sweeper")
//	observability.WithRequestContext(logger, ticketID).Info().Msg("report pushed")
//
// # Metrics
//
// Initialize metrics once per process:
//
//	metrics := observability.NewMetrics("recontact")
//	metrics.RecordRequestCreated(len(citizens))
//	metrics.RecordJiraCall("update_report_field", time.Since(start).Seconds(), err)
//
// # Context Helpers
//
//	ctx = observability.WithCorrelationID(ctx, id)
//	logger = observability.FromContext(ctx, logger)
//
// # Standard Fields
//
//   - request_id: recontact request (ticket) identifier
//   - issue_id: ticket identifier used by cohort-info sync
//   - message_id: message identifier
//   - citizen_id: citizen identifier
//   - correlation_id: HTTP request correlation identifier
//   - component: owning component
//
// All components are safe for concurrent use from multiple goroutines.
package observability
