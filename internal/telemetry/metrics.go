package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the pipeline's OTEL instruments. Instances are safe for
// concurrent use by every engine in a batch.
type Metrics struct {
	stageDuration metric.Float64Histogram
	stageTokens   metric.Int64Counter
	stageCost     metric.Float64Counter
	decisions     metric.Int64Counter
	terminals     metric.Int64Counter
}

// NewMetrics registers the pipeline instruments on the global meter.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("patchsmith/pipeline")

	stageDuration, err := meter.Float64Histogram("patchsmith.stage.duration",
		metric.WithDescription("Stage attempt duration"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	stageTokens, err := meter.Int64Counter("patchsmith.stage.tokens",
		metric.WithDescription("Tokens consumed by stage attempts"))
	if err != nil {
		return nil, err
	}
	stageCost, err := meter.Float64Counter("patchsmith.stage.cost_usd",
		metric.WithDescription("USD consumed by stage attempts"))
	if err != nil {
		return nil, err
	}
	decisions, err := meter.Int64Counter("patchsmith.policy.decisions",
		metric.WithDescription("Policy decisions by action and source"))
	if err != nil {
		return nil, err
	}
	terminals, err := meter.Int64Counter("patchsmith.run.terminals",
		metric.WithDescription("Runs reaching a terminal state"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		stageDuration: stageDuration,
		stageTokens:   stageTokens,
		stageCost:     stageCost,
		decisions:     decisions,
		terminals:     terminals,
	}, nil
}

// RecordStage records one stage attempt's duration and consumption.
func (m *Metrics) RecordStage(ctx context.Context, stage, outcome string, dur time.Duration, tokens int, usd float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("outcome", outcome),
	)
	m.stageDuration.Record(ctx, dur.Seconds(), attrs)
	m.stageTokens.Add(ctx, int64(tokens), attrs)
	m.stageCost.Add(ctx, usd, attrs)
}

// RecordDecision counts one policy decision.
func (m *Metrics) RecordDecision(ctx context.Context, action, source string) {
	if m == nil {
		return
	}
	m.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("source", source),
	))
}

// RecordTerminal counts one run reaching a terminal state.
func (m *Metrics) RecordTerminal(ctx context.Context, state string) {
	if m == nil {
		return
	}
	m.terminals.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}
