package metrics

import "fundingarb/logger"

// DropMetric names the metric emitted when a subscriber misses a message.
type DropMetric string

const (
	// DropMetricCycleReport counts cycle reports a full subscriber buffer refused.
	DropMetricCycleReport DropMetric = "cycle_reports_dropped"
	// DropMetricQuoteArchive counts quote records the archive could not buffer.
	DropMetricQuoteArchive DropMetric = "quote_records_dropped"
)

// EmitDropMetric counts one dropped message for subscriber.
func EmitDropMetric(log *logger.Log, metric DropMetric, subscriber string) {
	fields := logger.Fields{}
	if subscriber != "" {
		fields["subscriber"] = subscriber
	}
	EmitMetric(log, "channel_drops", string(metric), 1, "counter", fields)
}
