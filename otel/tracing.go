// Package otel translates engine lifecycle events into OpenTelemetry
// traces and metrics.
package otel

import (
	"context"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/vineflow/engine"
)

// TracingObserver turns run and node events into spans: one span per
// workflow run (sub-workflow runs nest under their parent, since they
// share the parent's run ID) and one child span per node execution.
type TracingObserver struct {
	tracer trace.Tracer

	mu        sync.RWMutex
	runSpans  map[string]trace.Span       // runID:depth -> span
	runCtxs   map[string][]context.Context // runID -> context stack, innermost last
	nodeSpans map[string]trace.Span       // runID:node -> span
}

// NewTracingObserver creates a TracingObserver that starts spans with the
// given tracer.
func NewTracingObserver(tracer trace.Tracer) *TracingObserver {
	return &TracingObserver{
		tracer:    tracer,
		runSpans:  make(map[string]trace.Span),
		runCtxs:   make(map[string][]context.Context),
		nodeSpans: make(map[string]trace.Span),
	}
}

// OnEvent implements engine.Observer.
func (o *TracingObserver) OnEvent(e engine.Event) {
	switch e.Kind {
	case engine.EventWorkflowStarted:
		o.workflowStarted(e)
	case engine.EventWorkflowCompleted:
		o.workflowEnded(e, codes.Ok, "")
	case engine.EventWorkflowFailed:
		o.workflowEnded(e, codes.Error, errorMessage(e, "workflow failed"))
	case engine.EventNodeStarted:
		o.nodeStarted(e)
	case engine.EventNodeCompleted:
		o.nodeEnded(e, codes.Ok, "")
	case engine.EventNodeFailed:
		o.nodeEnded(e, codes.Error, errorMessage(e, "node failed"))
	case engine.EventTransitionEvaluated:
		o.addRunEvent(e, "transition.evaluated",
			attribute.String("vineflow.from", e.Node),
			attribute.String("vineflow.to", e.Target),
			attribute.String("vineflow.condition", e.Condition),
			attribute.Bool("vineflow.matched", e.Matched),
		)
	case engine.EventSubWorkflowEntered:
		o.addRunEvent(e, "sub_workflow.entered",
			attribute.String("vineflow.workflow", e.Target),
		)
	case engine.EventSubWorkflowExited:
		o.addRunEvent(e, "sub_workflow.exited",
			attribute.String("vineflow.workflow", e.Target),
		)
	}
}

// ActiveRunSpanContext returns the span context of the innermost active
// run span for runID, or an invalid context when none is active.
func (o *TracingObserver) ActiveRunSpanContext(runID string) trace.SpanContext {
	o.mu.RLock()
	defer o.mu.RUnlock()
	stack := o.runCtxs[runID]
	if len(stack) == 0 {
		return trace.SpanContext{}
	}
	return trace.SpanContextFromContext(stack[len(stack)-1])
}

// ActiveSpanContext returns the span context of an active node span, or
// an invalid context when the node is not running.
func (o *TracingObserver) ActiveSpanContext(runID, node string) trace.SpanContext {
	o.mu.RLock()
	defer o.mu.RUnlock()
	span, ok := o.nodeSpans[runID+":"+node]
	if !ok {
		return trace.SpanContext{}
	}
	return span.SpanContext()
}

func (o *TracingObserver) workflowStarted(e engine.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()

	parentCtx := context.Background()
	if stack := o.runCtxs[e.RunID]; len(stack) > 0 {
		parentCtx = stack[len(stack)-1]
	}

	ctx, span := o.tracer.Start(parentCtx, "workflow:"+e.Workflow,
		trace.WithAttributes(
			attribute.String("vineflow.run_id", e.RunID),
			attribute.String("vineflow.workflow", e.Workflow),
			attribute.Int("vineflow.depth", e.Depth),
		),
		trace.WithTimestamp(e.Time),
	)

	o.runSpans[runKey(e)] = span
	o.runCtxs[e.RunID] = append(o.runCtxs[e.RunID], ctx)
}

func (o *TracingObserver) workflowEnded(e engine.Event, code codes.Code, msg string) {
	key := runKey(e)

	o.mu.Lock()
	span, ok := o.runSpans[key]
	if ok {
		delete(o.runSpans, key)
		if stack := o.runCtxs[e.RunID]; len(stack) > 0 {
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				delete(o.runCtxs, e.RunID)
			} else {
				o.runCtxs[e.RunID] = stack
			}
		}
	}
	o.mu.Unlock()

	if !ok {
		return
	}
	span.SetStatus(code, msg)
	if e.Err != nil {
		span.RecordError(e.Err, trace.WithTimestamp(e.Time))
	}
	span.End(trace.WithTimestamp(e.Time))
}

func (o *TracingObserver) nodeStarted(e engine.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()

	parentCtx := context.Background()
	if stack := o.runCtxs[e.RunID]; len(stack) > 0 {
		parentCtx = stack[len(stack)-1]
	}

	_, span := o.tracer.Start(parentCtx, "node:"+e.Node,
		trace.WithAttributes(
			attribute.String("vineflow.run_id", e.RunID),
			attribute.String("vineflow.node", e.Node),
		),
		trace.WithTimestamp(e.Time),
	)

	o.nodeSpans[e.RunID+":"+e.Node] = span
}

func (o *TracingObserver) nodeEnded(e engine.Event, code codes.Code, msg string) {
	key := e.RunID + ":" + e.Node

	o.mu.Lock()
	span, ok := o.nodeSpans[key]
	if ok {
		delete(o.nodeSpans, key)
	}
	o.mu.Unlock()

	if !ok {
		return
	}
	if e.Usage != nil {
		span.SetAttributes(
			attribute.Int("vineflow.tokens.input", e.Usage.InputTokens),
			attribute.Int("vineflow.tokens.output", e.Usage.OutputTokens),
			attribute.Int("vineflow.tokens.total", e.Usage.TotalTokens),
		)
	}
	span.SetStatus(code, msg)
	if e.Err != nil {
		span.RecordError(e.Err, trace.WithTimestamp(e.Time))
	}
	span.End(trace.WithTimestamp(e.Time))
}

// addRunEvent records an event on the innermost active run span. These
// happen between node spans, so the run span is the natural carrier.
func (o *TracingObserver) addRunEvent(e engine.Event, name string, attrs ...attribute.KeyValue) {
	o.mu.RLock()
	span, ok := o.runSpans[runKey(e)]
	o.mu.RUnlock()
	if !ok {
		return
	}
	span.AddEvent(name,
		trace.WithTimestamp(e.Time),
		trace.WithAttributes(attrs...),
	)
}

func runKey(e engine.Event) string {
	return e.RunID + ":" + strconv.Itoa(e.Depth)
}

func errorMessage(e engine.Event, fallback string) string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fallback
}

var _ engine.Observer = (*TracingObserver)(nil)
