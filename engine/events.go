package engine

import (
	"time"

	"github.com/petal-labs/vineflow/core"
)

// EventKind identifies a lifecycle event emitted during a run.
type EventKind string

const (
	EventWorkflowStarted   EventKind = "workflow_started"
	EventWorkflowCompleted EventKind = "workflow_completed"
	EventWorkflowFailed    EventKind = "workflow_failed"

	EventNodeStarted   EventKind = "node_started"
	EventNodeCompleted EventKind = "node_completed"
	EventNodeFailed    EventKind = "node_failed"

	EventTransitionEvaluated EventKind = "transition_evaluated"

	EventSubWorkflowEntered EventKind = "sub_workflow_entered"
	EventSubWorkflowExited  EventKind = "sub_workflow_exited"
)

// Event is a single lifecycle notification. Fields beyond Kind, RunID,
// Workflow, and Time are populated per kind: Node for node events, Target
// plus Condition plus Matched for transition evaluations, Usage for
// completed llm nodes, Result and Context for completions, Err for
// failures.
type Event struct {
	Kind     EventKind
	RunID    string
	Workflow string
	Time     time.Time

	// Depth is the sub-workflow nesting level, 0 for the top-level run.
	Depth int

	Node     string
	Duration time.Duration
	Usage    *core.TokenUsage

	// Result is the value a completed node produced.
	Result any

	// Context is a snapshot of the run context, taken when a node or the
	// workflow completes. Observers may inspect it freely; later node
	// executions never show through it.
	Context core.Context

	// Target is the destination of an evaluated transition, or the
	// sub-workflow name for enter and exit events.
	Target    string
	Condition string
	Matched   bool

	Err error
}

// Observer receives lifecycle events. Implementations must be safe for
// concurrent calls; parallel branches emit node events from separate
// goroutines.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

// OnEvent invokes the wrapped function.
func (f ObserverFunc) OnEvent(ev Event) {
	f(ev)
}

// multiObserver fans one event out to several observers in order.
type multiObserver []Observer

func (m multiObserver) OnEvent(ev Event) {
	for _, o := range m {
		o.OnEvent(ev)
	}
}
