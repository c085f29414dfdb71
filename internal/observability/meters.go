package observability

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// EngineMetrics holds the instruments recorded by the learning cycle.
type EngineMetrics struct {
	CyclesStarted      metric.Int64Counter
	CyclesFailed       metric.Int64Counter
	StageDuration      metric.Float64Histogram
	PatternsDetected   metric.Int64Counter
	OptimizationsMade  metric.Int64Counter
	AlertsRaised       metric.Int64Counter
	IngestedExecutions metric.Int64Counter
}

// NewEngineMetrics registers the engine instruments on the global meter
// provider. Call after InitMetrics.
func NewEngineMetrics() (*EngineMetrics, error) {
	meter := otel.Meter("optiplane/engine")

	cyclesStarted, err := meter.Int64Counter("engine_cycles_started_total",
		metric.WithDescription("Learning cycles started, by trigger"))
	if err != nil {
		return nil, fmt.Errorf("failed to create cycle counter: %w", err)
	}

	cyclesFailed, err := meter.Int64Counter("engine_cycles_failed_total",
		metric.WithDescription("Learning cycles that ended with a stage failure"))
	if err != nil {
		return nil, fmt.Errorf("failed to create failure counter: %w", err)
	}

	stageDuration, err := meter.Float64Histogram("engine_stage_duration_seconds",
		metric.WithDescription("Per-stage duration of the learning cycle"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("failed to create stage histogram: %w", err)
	}

	patternsDetected, err := meter.Int64Counter("engine_patterns_detected_total",
		metric.WithDescription("Patterns inserted by the detector"))
	if err != nil {
		return nil, fmt.Errorf("failed to create pattern counter: %w", err)
	}

	optimizationsMade, err := meter.Int64Counter("engine_optimizations_applied_total",
		metric.WithDescription("Optimizations applied by the optimizer"))
	if err != nil {
		return nil, fmt.Errorf("failed to create optimization counter: %w", err)
	}

	alertsRaised, err := meter.Int64Counter("engine_alerts_raised_total",
		metric.WithDescription("Alerts raised, by type"))
	if err != nil {
		return nil, fmt.Errorf("failed to create alert counter: %w", err)
	}

	ingestedExecutions, err := meter.Int64Counter("engine_executions_ingested_total",
		metric.WithDescription("Execution records accepted by the ingest endpoint"))
	if err != nil {
		return nil, fmt.Errorf("failed to create ingest counter: %w", err)
	}

	return &EngineMetrics{
		CyclesStarted:      cyclesStarted,
		CyclesFailed:       cyclesFailed,
		StageDuration:      stageDuration,
		PatternsDetected:   patternsDetected,
		OptimizationsMade:  optimizationsMade,
		AlertsRaised:       alertsRaised,
		IngestedExecutions: ingestedExecutions,
	}, nil
}
