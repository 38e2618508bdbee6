package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/petal-labs/vineflow/engine"
)

// MetricsObserver records counters and histograms for node executions,
// failures, run durations, and token usage.
type MetricsObserver struct {
	nodeExecutions metric.Int64Counter
	nodeFailures   metric.Int64Counter
	nodeDuration   metric.Float64Histogram
	runDuration    metric.Float64Histogram
	tokensUsed     metric.Int64Counter
}

// NewMetricsObserver creates a MetricsObserver that uses the given meter
// to create its instruments.
func NewMetricsObserver(meter metric.Meter) (*MetricsObserver, error) {
	nodeExec, err := meter.Int64Counter("vineflow.node.executions",
		metric.WithDescription("Number of node executions"),
	)
	if err != nil {
		return nil, err
	}

	nodeFail, err := meter.Int64Counter("vineflow.node.failures",
		metric.WithDescription("Number of node failures"),
	)
	if err != nil {
		return nil, err
	}

	nodeDur, err := meter.Float64Histogram("vineflow.node.duration",
		metric.WithDescription("Duration of node execution in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	runDur, err := meter.Float64Histogram("vineflow.run.duration",
		metric.WithDescription("Duration of workflow run in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	tokens, err := meter.Int64Counter("vineflow.tokens.used",
		metric.WithDescription("LLM tokens consumed by node executions"),
	)
	if err != nil {
		return nil, err
	}

	return &MetricsObserver{
		nodeExecutions: nodeExec,
		nodeFailures:   nodeFail,
		nodeDuration:   nodeDur,
		runDuration:    runDur,
		tokensUsed:     tokens,
	}, nil
}

// OnEvent implements engine.Observer.
func (o *MetricsObserver) OnEvent(e engine.Event) {
	switch e.Kind {
	case engine.EventNodeCompleted:
		o.nodeCompleted(e)
	case engine.EventNodeFailed:
		o.nodeFailed(e)
	case engine.EventWorkflowCompleted, engine.EventWorkflowFailed:
		o.workflowEnded(e)
	}
}

func (o *MetricsObserver) nodeCompleted(e engine.Event) {
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("workflow", e.Workflow),
		attribute.String("node", e.Node),
	)
	o.nodeExecutions.Add(ctx, 1, attrs)
	o.nodeDuration.Record(ctx, e.Duration.Seconds(), attrs)
	if e.Usage != nil {
		o.tokensUsed.Add(ctx, int64(e.Usage.TotalTokens), metric.WithAttributes(
			attribute.String("workflow", e.Workflow),
			attribute.String("node", e.Node),
		))
	}
}

func (o *MetricsObserver) nodeFailed(e engine.Event) {
	o.nodeFailures.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("workflow", e.Workflow),
		attribute.String("node", e.Node),
	))
}

func (o *MetricsObserver) workflowEnded(e engine.Event) {
	o.runDuration.Record(context.Background(), e.Duration.Seconds(), metric.WithAttributes(
		attribute.String("workflow", e.Workflow),
		attribute.String("status", runStatus(e)),
	))
}

func runStatus(e engine.Event) string {
	if e.Kind == engine.EventWorkflowFailed {
		return "failed"
	}
	return "completed"
}

var _ engine.Observer = (*MetricsObserver)(nil)
