package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all ariabot metrics instruments.
type Metrics struct {
	MonitorTickDuration   metric.Float64Histogram
	MonitorEdits          metric.Int64Counter
	MonitorEditErrors     metric.Int64Counter
	EngineRequestDuration metric.Float64Histogram
	EngineRequestErrors   metric.Int64Counter
	NotifierSent          metric.Int64Counter
	NotifierFailures      metric.Int64Counter
	HistoryRecords        metric.Int64Counter
	DigestRuns            metric.Int64Counter
	AuditDenies           metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.MonitorTickDuration, err = meter.Float64Histogram("ariabot.monitor.tick.duration",
		metric.WithDescription("Duration of one monitor poll tick across all tracked tasks"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.MonitorEdits, err = meter.Int64Counter("ariabot.monitor.edits",
		metric.WithDescription("Total live message edits sent for tracked tasks"),
	)
	if err != nil {
		return nil, err
	}

	m.MonitorEditErrors, err = meter.Int64Counter("ariabot.monitor.edit_errors",
		metric.WithDescription("Total live message edits that failed after retry"),
	)
	if err != nil {
		return nil, err
	}

	m.EngineRequestDuration, err = meter.Float64Histogram("ariabot.engine.request.duration",
		metric.WithDescription("JSON-RPC round-trip duration against the download engine"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.EngineRequestErrors, err = meter.Int64Counter("ariabot.engine.request_errors",
		metric.WithDescription("Total JSON-RPC requests that returned an error"),
	)
	if err != nil {
		return nil, err
	}

	m.NotifierSent, err = meter.Int64Counter("ariabot.notifier.sent",
		metric.WithDescription("Total terminal-state notifications delivered to at least one recipient"),
	)
	if err != nil {
		return nil, err
	}

	m.NotifierFailures, err = meter.Int64Counter("ariabot.notifier.failures",
		metric.WithDescription("Total per-recipient notification send failures"),
	)
	if err != nil {
		return nil, err
	}

	m.HistoryRecords, err = meter.Int64Counter("ariabot.history.records",
		metric.WithDescription("Total history records written (upserts)"),
	)
	if err != nil {
		return nil, err
	}

	m.DigestRuns, err = meter.Int64Counter("ariabot.digest.runs",
		metric.WithDescription("Total scheduled digest runs executed"),
	)
	if err != nil {
		return nil, err
	}

	m.AuditDenies, err = meter.Int64Counter("ariabot.audit.denies",
		metric.WithDescription("Total authorization decisions that were denied"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
