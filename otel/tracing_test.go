package otel_test

import (
	"errors"
	"testing"
	"time"

	otelcodes "go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/petal-labs/vineflow/core"
	"github.com/petal-labs/vineflow/engine"
	vineotel "github.com/petal-labs/vineflow/otel"
)

// newTestTracer returns a tracer backed by an in-memory span exporter.
func newTestTracer() (*tracetest.InMemoryExporter, *sdktrace.TracerProvider) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
	)
	return exporter, tp
}

func findSpan(spans tracetest.SpanStubs, name string) *tracetest.SpanStub {
	for i := range spans {
		if spans[i].Name == name {
			return &spans[i]
		}
	}
	return nil
}

func TestTracingObserver_WorkflowSpan(t *testing.T) {
	exporter, tp := newTestTracer()
	obs := vineotel.NewTracingObserver(tp.Tracer("test"))

	now := time.Now()
	obs.OnEvent(engine.Event{Kind: engine.EventWorkflowStarted, RunID: "run-1", Workflow: "demo", Time: now})

	if !obs.ActiveRunSpanContext("run-1").IsValid() {
		t.Fatal("expected valid run span context after workflow_started")
	}

	obs.OnEvent(engine.Event{Kind: engine.EventWorkflowCompleted, RunID: "run-1", Workflow: "demo", Time: now.Add(100 * time.Millisecond)})

	if obs.ActiveRunSpanContext("run-1").IsValid() {
		t.Error("expected invalid run span context after workflow_completed")
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name != "workflow:demo" {
		t.Errorf("span name = %q, want workflow:demo", span.Name)
	}
	if span.Status.Code != otelcodes.Ok {
		t.Errorf("status = %v, want Ok", span.Status.Code)
	}
	found := false
	for _, attr := range span.Attributes {
		if string(attr.Key) == "vineflow.run_id" && attr.Value.AsString() == "run-1" {
			found = true
		}
	}
	if !found {
		t.Error("expected vineflow.run_id attribute on workflow span")
	}
}

func TestTracingObserver_NodeSpanNestsUnderRun(t *testing.T) {
	exporter, tp := newTestTracer()
	obs := vineotel.NewTracingObserver(tp.Tracer("test"))

	now := time.Now()
	obs.OnEvent(engine.Event{Kind: engine.EventWorkflowStarted, RunID: "run-1", Workflow: "demo", Time: now})
	obs.OnEvent(engine.Event{Kind: engine.EventNodeStarted, RunID: "run-1", Workflow: "demo", Node: "ask", Time: now.Add(time.Millisecond)})

	runSC := obs.ActiveRunSpanContext("run-1")
	nodeSC := obs.ActiveSpanContext("run-1", "ask")
	if !nodeSC.IsValid() {
		t.Fatal("expected valid node span context after node_started")
	}
	if nodeSC.TraceID() != runSC.TraceID() {
		t.Error("expected node span to share trace ID with run span")
	}

	usage := core.TokenUsage{InputTokens: 3, OutputTokens: 4, TotalTokens: 7}
	obs.OnEvent(engine.Event{
		Kind: engine.EventNodeCompleted, RunID: "run-1", Workflow: "demo", Node: "ask",
		Duration: 2 * time.Millisecond, Usage: &usage, Time: now.Add(3 * time.Millisecond),
	})

	if obs.ActiveSpanContext("run-1", "ask").IsValid() {
		t.Error("expected invalid node span context after node_completed")
	}

	obs.OnEvent(engine.Event{Kind: engine.EventWorkflowCompleted, RunID: "run-1", Workflow: "demo", Time: now.Add(4 * time.Millisecond)})

	spans := exporter.GetSpans()
	nodeSpan := findSpan(spans, "node:ask")
	if nodeSpan == nil {
		t.Fatal("node:ask span not found")
	}
	if nodeSpan.Parent.SpanID() != runSC.SpanID() {
		t.Error("expected node span parent to be the run span")
	}
	if nodeSpan.Status.Code != otelcodes.Ok {
		t.Errorf("node status = %v, want Ok", nodeSpan.Status.Code)
	}
	foundTokens := false
	for _, attr := range nodeSpan.Attributes {
		if string(attr.Key) == "vineflow.tokens.total" && attr.Value.AsInt64() == 7 {
			foundTokens = true
		}
	}
	if !foundTokens {
		t.Error("expected vineflow.tokens.total attribute on node span")
	}
}

func TestTracingObserver_NodeFailureSetsErrorStatus(t *testing.T) {
	exporter, tp := newTestTracer()
	obs := vineotel.NewTracingObserver(tp.Tracer("test"))

	now := time.Now()
	obs.OnEvent(engine.Event{Kind: engine.EventWorkflowStarted, RunID: "run-1", Workflow: "demo", Time: now})
	obs.OnEvent(engine.Event{Kind: engine.EventNodeStarted, RunID: "run-1", Node: "boom", Time: now})
	obs.OnEvent(engine.Event{
		Kind: engine.EventNodeFailed, RunID: "run-1", Node: "boom",
		Err: errors.New("something went wrong"), Time: now.Add(time.Millisecond),
	})
	obs.OnEvent(engine.Event{
		Kind: engine.EventWorkflowFailed, RunID: "run-1", Workflow: "demo",
		Err: errors.New("something went wrong"), Time: now.Add(2 * time.Millisecond),
	})

	spans := exporter.GetSpans()
	nodeSpan := findSpan(spans, "node:boom")
	if nodeSpan == nil {
		t.Fatal("node:boom span not found")
	}
	if nodeSpan.Status.Code != otelcodes.Error {
		t.Errorf("node status = %v, want Error", nodeSpan.Status.Code)
	}
	if nodeSpan.Status.Description != "something went wrong" {
		t.Errorf("status description = %q", nodeSpan.Status.Description)
	}
	foundException := false
	for _, ev := range nodeSpan.Events {
		if ev.Name == "exception" {
			foundException = true
		}
	}
	if !foundException {
		t.Error("expected exception event on failed node span")
	}

	runSpan := findSpan(spans, "workflow:demo")
	if runSpan == nil {
		t.Fatal("workflow:demo span not found")
	}
	if runSpan.Status.Code != otelcodes.Error {
		t.Errorf("run status = %v, want Error", runSpan.Status.Code)
	}
}

func TestTracingObserver_TransitionBecomesSpanEvent(t *testing.T) {
	exporter, tp := newTestTracer()
	obs := vineotel.NewTracingObserver(tp.Tracer("test"))

	now := time.Now()
	obs.OnEvent(engine.Event{Kind: engine.EventWorkflowStarted, RunID: "run-1", Workflow: "demo", Time: now})
	obs.OnEvent(engine.Event{
		Kind: engine.EventTransitionEvaluated, RunID: "run-1", Workflow: "demo",
		Node: "start", Target: "branch1", Condition: "use_branch1", Matched: true,
		Time: now.Add(time.Millisecond),
	})
	obs.OnEvent(engine.Event{Kind: engine.EventWorkflowCompleted, RunID: "run-1", Workflow: "demo", Time: now.Add(2 * time.Millisecond)})

	spans := exporter.GetSpans()
	runSpan := findSpan(spans, "workflow:demo")
	if runSpan == nil {
		t.Fatal("workflow:demo span not found")
	}
	found := false
	for _, ev := range runSpan.Events {
		if ev.Name == "transition.evaluated" {
			found = true
			for _, attr := range ev.Attributes {
				if string(attr.Key) == "vineflow.to" && attr.Value.AsString() != "branch1" {
					t.Errorf("vineflow.to = %q, want branch1", attr.Value.AsString())
				}
			}
		}
	}
	if !found {
		t.Error("expected transition.evaluated event on run span")
	}
}

func TestTracingObserver_SubWorkflowNestsUnderParent(t *testing.T) {
	exporter, tp := newTestTracer()
	obs := vineotel.NewTracingObserver(tp.Tracer("test"))

	now := time.Now()
	obs.OnEvent(engine.Event{Kind: engine.EventWorkflowStarted, RunID: "run-1", Workflow: "outer", Depth: 0, Time: now})
	outerSC := obs.ActiveRunSpanContext("run-1")

	obs.OnEvent(engine.Event{Kind: engine.EventWorkflowStarted, RunID: "run-1", Workflow: "inner", Depth: 1, Time: now.Add(time.Millisecond)})
	obs.OnEvent(engine.Event{Kind: engine.EventNodeStarted, RunID: "run-1", Node: "inner_step", Depth: 1, Time: now.Add(2 * time.Millisecond)})
	obs.OnEvent(engine.Event{Kind: engine.EventNodeCompleted, RunID: "run-1", Node: "inner_step", Depth: 1, Time: now.Add(3 * time.Millisecond)})
	obs.OnEvent(engine.Event{Kind: engine.EventWorkflowCompleted, RunID: "run-1", Workflow: "inner", Depth: 1, Time: now.Add(4 * time.Millisecond)})

	// After the sub-workflow ends the outer run context is active again.
	if obs.ActiveRunSpanContext("run-1").SpanID() != outerSC.SpanID() {
		t.Error("expected outer run span context restored after sub-workflow end")
	}

	obs.OnEvent(engine.Event{Kind: engine.EventWorkflowCompleted, RunID: "run-1", Workflow: "outer", Depth: 0, Time: now.Add(5 * time.Millisecond)})

	spans := exporter.GetSpans()
	innerSpan := findSpan(spans, "workflow:inner")
	if innerSpan == nil {
		t.Fatal("workflow:inner span not found")
	}
	if innerSpan.Parent.SpanID() != outerSC.SpanID() {
		t.Error("expected inner workflow span to be a child of the outer run span")
	}

	nodeSpan := findSpan(spans, "node:inner_step")
	if nodeSpan == nil {
		t.Fatal("node:inner_step span not found")
	}
	if nodeSpan.Parent.SpanID() != innerSpan.SpanContext.SpanID() {
		t.Error("expected inner node span to be a child of the inner workflow span")
	}
}
