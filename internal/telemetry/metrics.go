package telemetry

import "go.opentelemetry.io/otel/metric"

// Metrics holds the gateway's metric instruments.
type Metrics struct {
	ExecutionsStarted  metric.Int64Counter
	ExecutionsFinished metric.Int64Counter // attribute: status
	ExecutionDuration  metric.Float64Histogram
	ActiveExecutions   metric.Int64UpDownCounter
	SweepReclaimed     metric.Int64Counter
	WriteFailures      metric.Int64Counter
	RateLimitRejects   metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.ExecutionsStarted, err = meter.Int64Counter("crewdeck.executions.started",
		metric.WithDescription("Executions accepted and dispatched"),
	)
	if err != nil {
		return nil, err
	}

	m.ExecutionsFinished, err = meter.Int64Counter("crewdeck.executions.finished",
		metric.WithDescription("Executions that reached a terminal status"),
	)
	if err != nil {
		return nil, err
	}

	m.ExecutionDuration, err = meter.Float64Histogram("crewdeck.execution.duration",
		metric.WithDescription("Wall time from dispatch to terminal status"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.ActiveExecutions, err = meter.Int64UpDownCounter("crewdeck.executions.active",
		metric.WithDescription("Executions currently in flight"),
	)
	if err != nil {
		return nil, err
	}

	m.SweepReclaimed, err = meter.Int64Counter("crewdeck.sweep.reclaimed",
		metric.WithDescription("Stuck executions force-failed by the sweep"),
	)
	if err != nil {
		return nil, err
	}

	m.WriteFailures, err = meter.Int64Counter("crewdeck.executions.write_failures",
		metric.WithDescription("Terminal status writes that failed"),
	)
	if err != nil {
		return nil, err
	}

	m.RateLimitRejects, err = meter.Int64Counter("crewdeck.ratelimit.rejects",
		metric.WithDescription("Requests rejected by rate limiter"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
