// Package engine executes workflow graphs: it walks transitions, invokes
// nodes by kind, clones and merges context around parallel branches,
// repeats loop regions, and emits lifecycle events to observers.
package engine

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/petal-labs/vineflow"
	"github.com/petal-labs/vineflow/catalog"
	"github.com/petal-labs/vineflow/core"
	"github.com/petal-labs/vineflow/llm"
)

// DefaultMaxHops bounds node executions per run. Loops with a continuation
// condition that never turns false hit this instead of spinning forever.
const DefaultMaxHops = 1000

// Engine runs workflow graphs. An Engine is stateless across runs and safe
// for concurrent use.
type Engine struct {
	client    core.CompletionClient
	observers multiObserver
	maxHops   int
	model     string

	emitMu sync.Mutex
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClient sets the completion client used by llm and structured-llm
// nodes.
func WithClient(c core.CompletionClient) EngineOption {
	return func(e *Engine) { e.client = c }
}

// WithObserver subscribes an observer to lifecycle events. May be given
// multiple times; observers are notified in registration order.
func WithObserver(o Observer) EngineOption {
	return func(e *Engine) { e.observers = append(e.observers, o) }
}

// WithMaxHops overrides the per-run node execution budget.
func WithMaxHops(n int) EngineOption {
	return func(e *Engine) { e.maxHops = n }
}

// WithDefaultModel sets the model used by llm nodes that do not declare
// their own.
func WithDefaultModel(model string) EngineOption {
	return func(e *Engine) { e.model = model }
}

// New creates an engine.
func New(opts ...EngineOption) *Engine {
	e := &Engine{maxHops: DefaultMaxHops}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result is the outcome of a run.
type Result struct {
	RunID   string
	Context core.Context
	Path    []string // node names in execution order
	Usage   core.TokenUsage
}

type runInfo struct {
	runID string
	depth int
}

type runInfoKey struct{}

// runState carries per-run bookkeeping through the executor.
type runState struct {
	g     *vineflow.Graph
	vars  core.Context
	runID string
	depth int
}

// Run executes the graph from its start node over the initial context and
// returns the final context, the executed path, and accumulated token
// usage. The context value is mutated in place; pass a clone to keep the
// original.
func (e *Engine) Run(ctx context.Context, g *vineflow.Graph, initial core.Context) (*Result, error) {
	return e.run(ctx, g, initial, uuid.NewString(), 0)
}

// RunSubWorkflow executes sub as a nested run. When ctx belongs to an
// active run the nested run shares its run ID and deepens the event depth;
// entered and exited events bracket the inner lifecycle. view becomes the
// sub-workflow's context, so the caller controls what the sub-graph sees.
func (e *Engine) RunSubWorkflow(ctx context.Context, sub *vineflow.Graph, view core.Context) (*Result, error) {
	runID := uuid.NewString()
	depth := 0
	if info, ok := ctx.Value(runInfoKey{}).(runInfo); ok {
		runID = info.runID
		depth = info.depth
	}

	e.emit(Event{
		Kind:     EventSubWorkflowEntered,
		RunID:    runID,
		Workflow: sub.Name(),
		Target:   sub.Name(),
		Depth:    depth,
		Time:     time.Now(),
	})
	res, err := e.run(ctx, sub, view, runID, depth+1)
	e.emit(Event{
		Kind:     EventSubWorkflowExited,
		RunID:    runID,
		Workflow: sub.Name(),
		Target:   sub.Name(),
		Depth:    depth,
		Time:     time.Now(),
		Err:      err,
	})
	return res, err
}

func (e *Engine) run(ctx context.Context, g *vineflow.Graph, vars core.Context, runID string, depth int) (*Result, error) {
	if vars == nil {
		vars = core.NewContext()
	}
	ctx = context.WithValue(ctx, runInfoKey{}, runInfo{runID: runID, depth: depth})

	st := &runState{g: g, vars: vars, runID: runID, depth: depth}
	res := &Result{RunID: runID, Context: vars}
	started := time.Now()

	e.emitRun(st, Event{Kind: EventWorkflowStarted})

	fail := func(err error) (*Result, error) {
		e.emitRun(st, Event{Kind: EventWorkflowFailed, Duration: time.Since(started), Err: err})
		return res, err
	}

	current := g.Start()
	hops := 0
	for current != "" {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		hops++
		if hops > e.maxHops {
			return fail(&HopLimitError{Limit: e.maxHops})
		}

		usage, err := e.execNode(ctx, st, current)
		res.Path = append(res.Path, current)
		res.Usage = res.Usage.Add(usage)
		if err != nil {
			return fail(err)
		}

		// Loop continuation takes precedence over ordinary routes when
		// the finished node closes one or more regions.
		next, looped, err := e.loopNext(st, current)
		if err != nil {
			return fail(err)
		}
		if looped {
			current = next
			continue
		}

		route, ok := g.Route(current)
		if !ok {
			current = ""
			break
		}

		if route.Parallel {
			executed, join, usage, err := e.runParallel(ctx, st, route)
			res.Path = append(res.Path, executed...)
			res.Usage = res.Usage.Add(usage)
			if err != nil {
				return fail(err)
			}
			current = join
			continue
		}

		current, err = e.pickEdge(st, route)
		if err != nil {
			return fail(err)
		}
	}

	e.emitRun(st, Event{Kind: EventWorkflowCompleted, Duration: time.Since(started), Context: st.vars.Clone()})
	return res, nil
}

// loopNext evaluates continuation conditions for every region whose last
// member is the node just executed, innermost region first. A true
// condition repeats from the region's first member; false moves on to its
// exit node and hands the decision to the next enclosing region.
func (e *Engine) loopNext(st *runState, node string) (string, bool, error) {
	type leveled struct {
		region *vineflow.LoopRegion
		level  int
	}
	var closing []leveled
	var walk func(regions []*vineflow.LoopRegion, level int)
	walk = func(regions []*vineflow.LoopRegion, level int) {
		for _, r := range regions {
			if r.Last() == node {
				closing = append(closing, leveled{region: r, level: level})
			}
			walk(r.Nested, level+1)
		}
	}
	walk(st.g.Loops(), 0)
	if len(closing) == 0 {
		return "", false, nil
	}

	// Deepest region first.
	for i := 0; i < len(closing); i++ {
		for j := i + 1; j < len(closing); j++ {
			if closing[j].level > closing[i].level {
				closing[i], closing[j] = closing[j], closing[i]
			}
		}
	}

	next := ""
	for _, c := range closing {
		region := c.region
		matched, err := region.Continue.Eval(st.vars)
		if err != nil {
			return "", false, fmt.Errorf("loop %s: evaluating continuation: %w", region.ID, err)
		}
		target := region.Exit
		if matched {
			target = region.First()
		}
		e.emitRun(st, Event{
			Kind:      EventTransitionEvaluated,
			Node:      node,
			Target:    target,
			Condition: region.Continue.Source,
			Matched:   matched,
		})
		if matched {
			return region.First(), true, nil
		}
		next = region.Exit
	}
	return next, true, nil
}

// pickEdge selects the next node from an ordinary route: conditional edges
// in declared order, then an unconditional edge, then the default. The
// chosen edge is always reported; unconditional and default edges carry no
// condition source and Matched true.
func (e *Engine) pickEdge(st *runState, route vineflow.Route) (string, error) {
	for _, edge := range route.Edges {
		if edge.Cond == nil {
			e.emitRun(st, Event{
				Kind:    EventTransitionEvaluated,
				Node:    route.From,
				Target:  edge.To,
				Matched: true,
			})
			return edge.To, nil
		}
		matched, err := edge.Cond.Eval(st.vars)
		if err != nil {
			return "", fmt.Errorf("node %q: evaluating transition to %q: %w", route.From, edge.To, err)
		}
		e.emitRun(st, Event{
			Kind:      EventTransitionEvaluated,
			Node:      route.From,
			Target:    edge.To,
			Condition: edge.Cond.Source,
			Matched:   matched,
		})
		if matched {
			return edge.To, nil
		}
	}
	if route.Default != "" {
		e.emitRun(st, Event{
			Kind:    EventTransitionEvaluated,
			Node:    route.From,
			Target:  route.Default,
			Matched: true,
		})
		return route.Default, nil
	}
	return "", &NoMatchingTransitionError{Node: route.From}
}

// runParallel executes every member of a parallel route on its own context
// clone, merges what the members wrote back into the shared context, and
// returns the common join node.
func (e *Engine) runParallel(ctx context.Context, st *runState, route vineflow.Route) ([]string, string, core.TokenUsage, error) {
	var total core.TokenUsage

	join := ""
	members := make([]string, len(route.Edges))
	for i, edge := range route.Edges {
		members[i] = edge.To
		mr, ok := st.g.Route(edge.To)
		if !ok || !mr.Straight() {
			return nil, "", total, fmt.Errorf("parallel member %q of %q has no single unconditional transition to a join node", edge.To, route.From)
		}
		if join == "" {
			join = mr.Edges[0].To
		} else if join != mr.Edges[0].To {
			return nil, "", total, fmt.Errorf("parallel members of %q disagree on the join node: %q vs %q", route.From, join, mr.Edges[0].To)
		}
	}

	for _, member := range members {
		e.emitRun(st, Event{
			Kind:    EventTransitionEvaluated,
			Node:    route.From,
			Target:  member,
			Matched: true,
		})
	}

	base := st.vars.Clone()
	clones := make([]core.Context, len(members))
	usages := make([]core.TokenUsage, len(members))
	errs := make([]error, len(members))

	var wg sync.WaitGroup
	for i, member := range members {
		clones[i] = st.vars.Clone()
		wg.Add(1)
		go func(i int, member string) {
			defer wg.Done()
			branch := &runState{g: st.g, vars: clones[i], runID: st.runID, depth: st.depth}
			usages[i], errs[i] = e.execNode(ctx, branch, member)
		}(i, member)
	}
	wg.Wait()

	for i := range members {
		total = total.Add(usages[i])
	}
	for i := range members {
		if errs[i] != nil {
			return members, "", total, errs[i]
		}
	}

	// Merge in declared member order: keys a member added or changed win
	// over the pre-branch value, later members over earlier ones.
	for _, clone := range clones {
		for key, val := range clone {
			prev, had := base[key]
			if !had || !reflect.DeepEqual(prev, val) {
				st.vars.Set(key, val)
			}
		}
	}

	return members, join, total, nil
}

// execNode dispatches a node by kind and records its output in the context.
func (e *Engine) execNode(ctx context.Context, st *runState, name string) (core.TokenUsage, error) {
	var usage core.TokenUsage
	var result any

	def, ok := st.g.Node(name)
	if !ok {
		return usage, &NodeError{Node: name, Err: fmt.Errorf("not in graph")}
	}

	e.emitRun(st, Event{Kind: EventNodeStarted, Node: name})
	start := time.Now()

	fail := func(err error) (core.TokenUsage, error) {
		nerr := &NodeError{Node: name, Err: err}
		e.emitRun(st, Event{Kind: EventNodeFailed, Node: name, Duration: time.Since(start), Err: err})
		return usage, nerr
	}

	var usagePtr *core.TokenUsage

	switch def.Kind {
	case core.KindFunc, core.KindValidate:
		out, err := def.Fn(ctx, st.vars)
		if err != nil {
			return fail(err)
		}
		if def.Output != "" && out != nil {
			st.vars.Set(def.Output, out)
		}
		result = out

	case core.KindLLM:
		resp, err := e.complete(ctx, def, st.vars, nil)
		if err != nil {
			return fail(err)
		}
		st.vars.Set(outputKey(def), resp.Text)
		result = resp.Text
		usage = resp.Usage
		usagePtr = &resp.Usage

	case core.KindStructuredLLM:
		resp, err := e.complete(ctx, def, st.vars, def.Schema)
		if err != nil {
			return fail(err)
		}
		obj := resp.JSON
		if obj == nil {
			obj, err = llm.ParseStructured(resp.Text, def.Schema)
			if err != nil {
				return fail(err)
			}
		}
		st.vars.Set(outputKey(def), obj)
		result = obj
		usage = resp.Usage
		usagePtr = &resp.Usage

	default:
		return fail(fmt.Errorf("unknown node kind %q", def.Kind))
	}

	e.emitRun(st, Event{
		Kind:     EventNodeCompleted,
		Node:     name,
		Duration: time.Since(start),
		Usage:    usagePtr,
		Result:   result,
		Context:  st.vars.Clone(),
	})
	return usage, nil
}

// complete renders the node's prompt and calls the completion client.
func (e *Engine) complete(ctx context.Context, def catalog.Definition, vars core.Context, schema map[string]any) (core.CompletionResponse, error) {
	if e.client == nil {
		return core.CompletionResponse{}, ErrNoClient
	}
	prompt, err := llm.RenderPrompt(def.Prompt, vars)
	if err != nil {
		return core.CompletionResponse{}, err
	}
	model := def.Model
	if model == "" {
		model = e.model
	}
	return e.client.Complete(ctx, core.CompletionRequest{
		Model:  model,
		System: def.System,
		Prompt: prompt,
		Schema: schema,
	})
}

// outputKey is the context key a completion node writes to.
func outputKey(def catalog.Definition) string {
	if def.Output != "" {
		return def.Output
	}
	return def.Name + "_output"
}

func (e *Engine) emitRun(st *runState, ev Event) {
	ev.RunID = st.runID
	ev.Workflow = st.g.Name()
	ev.Depth = st.depth
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	e.emit(ev)
}

func (e *Engine) emit(ev Event) {
	if len(e.observers) == 0 {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	e.emitMu.Lock()
	defer e.emitMu.Unlock()
	e.observers.OnEvent(ev)
}
