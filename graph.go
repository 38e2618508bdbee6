// Package vineflow provides a declarative directed-graph model of
// computational steps and a fluent builder for assembling it: sequences,
// parallel branches with convergence, and loops including nested loops.
// Frozen graphs are consumed by the engine, validate, and gen packages.
package vineflow

import (
	"errors"
	"fmt"

	"github.com/petal-labs/vineflow/catalog"
	"github.com/petal-labs/vineflow/core"
)

// Graph errors
var (
	ErrNoStartNode  = errors.New("no start node defined")
	ErrUnknownNode  = errors.New("unknown node referenced")
	ErrBuilderState = errors.New("invalid builder state")
	ErrEmptyLoop    = errors.New("loop region has no member nodes")
)

// Edge is a single transition target, optionally guarded by a condition.
// A nil Cond makes the edge unconditional.
type Edge struct {
	To   string
	Cond *Condition
}

// Route describes the outgoing transitions of one node: an ordered edge
// list evaluated in declared order, an optional bare default target, and a
// parallel flag marking every edge as a concurrent successor.
type Route struct {
	From     string
	Edges    []Edge
	Default  string
	Parallel bool
}

// Straight reports whether the route is a single unconditional transition.
func (r Route) Straight() bool {
	return !r.Parallel && len(r.Edges) == 1 && r.Edges[0].Cond == nil && r.Default == ""
}

// Targets returns every node name the route can reach, including the default.
func (r Route) Targets() []string {
	out := make([]string, 0, len(r.Edges)+1)
	seen := make(map[string]bool, len(r.Edges)+1)
	for _, e := range r.Edges {
		if !seen[e.To] {
			seen[e.To] = true
			out = append(out, e.To)
		}
	}
	if r.Default != "" && !seen[r.Default] {
		out = append(out, r.Default)
	}
	return out
}

// LoopRegion is a designated node subsequence that repeats while its
// continuation condition holds, then exits to a named node outside the
// region. Regions may nest; nested members must be a subset of the parent's.
type LoopRegion struct {
	ID       string
	Members  []string
	Continue Condition
	Exit     string
	Nested   []*LoopRegion
}

// Contains reports whether name is a member of the region (not of nested
// regions only — nested members are parent members by construction).
func (l *LoopRegion) Contains(name string) bool {
	for _, m := range l.Members {
		if m == name {
			return true
		}
	}
	return false
}

// Last returns the final member of the region.
func (l *LoopRegion) Last() string {
	if len(l.Members) == 0 {
		return ""
	}
	return l.Members[len(l.Members)-1]
}

// First returns the first member of the region.
func (l *LoopRegion) First() string {
	if len(l.Members) == 0 {
		return ""
	}
	return l.Members[0]
}

// BranchRecord captures how a branch was declared so the code generator can
// reproduce automatic versus manual convergence faithfully.
type BranchRecord struct {
	Source  string
	Targets []Edge
	Default string
	Next    string // convergence target
	Manual  bool   // true when Next was supplied by a later Converge call
}

// Graph is the frozen workflow model: start node, node set, per-source
// routes, loop regions, and branch bookkeeping. Graphs are built through
// the Workflow builder and are immutable once built.
type Graph struct {
	name     string
	start    string
	nodes    map[string]catalog.Definition
	order    []string
	routes   map[string]*Route
	loops    []*LoopRegion
	branches []BranchRecord
}

// Name returns the workflow name.
func (g *Graph) Name() string {
	return g.name
}

// Start returns the start node name.
func (g *Graph) Start() string {
	return g.start
}

// Nodes returns all node names in first-reference order.
func (g *Graph) Nodes() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Node returns the catalog definition for a node name.
func (g *Graph) Node(name string) (catalog.Definition, bool) {
	def, ok := g.nodes[name]
	return def, ok
}

// HasNode reports whether name is part of the graph.
func (g *Graph) HasNode(name string) bool {
	_, ok := g.nodes[name]
	return ok
}

// Route returns the outgoing route of a node, if any.
func (g *Graph) Route(from string) (Route, bool) {
	r, ok := g.routes[from]
	if !ok {
		return Route{}, false
	}
	return *r, true
}

// Routes returns every route in node first-reference order.
func (g *Graph) Routes() []Route {
	out := make([]Route, 0, len(g.routes))
	for _, name := range g.order {
		if r, ok := g.routes[name]; ok {
			out = append(out, *r)
		}
	}
	return out
}

// Loops returns the declared top-level loop regions.
func (g *Graph) Loops() []*LoopRegion {
	return g.loops
}

// Branches returns the recorded branch declarations.
func (g *Graph) Branches() []BranchRecord {
	return g.branches
}

// allRegions returns every region including nested ones, parents first.
func (g *Graph) allRegions() []*LoopRegion {
	var out []*LoopRegion
	var walk func(regions []*LoopRegion)
	walk = func(regions []*LoopRegion) {
		for _, r := range regions {
			out = append(out, r)
			walk(r.Nested)
		}
	}
	walk(g.loops)
	return out
}

// AllRegions returns every loop region, including nested regions,
// parents before children.
func (g *Graph) AllRegions() []*LoopRegion {
	return g.allRegions()
}

// RawGraph is the low-level graph description consumed by Assemble. The
// fluent Builder is the usual way to make a Graph; RawGraph exists for
// loaders that already hold an explicit transition list, such as parsed
// workflow documents.
type RawGraph struct {
	Name     string
	Start    string
	Routes   []Route
	Loops    []*LoopRegion
	Branches []BranchRecord
}

// Assemble resolves a RawGraph against a catalog and freezes it. Node
// names are collected from the start node, route sources and targets, and
// loop members, in first-reference order.
func Assemble(raw RawGraph, cat *catalog.Catalog) (*Graph, error) {
	if cat == nil {
		cat = catalog.Default()
	}

	var order []string
	known := make(map[string]bool)
	add := func(name string) {
		if name == "" || known[name] {
			return
		}
		known[name] = true
		order = append(order, name)
	}

	add(raw.Start)
	routes := make(map[string]*Route, len(raw.Routes))
	for _, r := range raw.Routes {
		if r.From == "" {
			return nil, fmt.Errorf("route with empty source node")
		}
		if _, dup := routes[r.From]; dup {
			return nil, fmt.Errorf("duplicate route for node %q", r.From)
		}
		add(r.From)
		cp := r
		cp.Edges = append([]Edge(nil), r.Edges...)
		routes[r.From] = &cp
		for _, e := range r.Edges {
			add(e.To)
		}
		add(r.Default)
	}
	var walkLoops func(regions []*LoopRegion)
	walkLoops = func(regions []*LoopRegion) {
		for _, region := range regions {
			for _, m := range region.Members {
				add(m)
			}
			add(region.Exit)
			walkLoops(region.Nested)
		}
	}
	walkLoops(raw.Loops)

	nodes := make(map[string]catalog.Definition, len(order))
	var errs []error
	for _, name := range order {
		def, err := cat.Lookup(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		nodes[name] = def
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	name := raw.Name
	if name == "" {
		name = "workflow"
	}
	g := &Graph{
		name:     name,
		start:    raw.Start,
		nodes:    nodes,
		order:    order,
		routes:   routes,
		loops:    raw.Loops,
		branches: raw.Branches,
	}
	if err := g.validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// validate checks the definition-level invariants that must hold before a
// graph is handed to the engine. Structural issues that are better reported
// in bulk live in the validate package.
func (g *Graph) validate() error {
	if g.start == "" {
		return ErrNoStartNode
	}
	if _, ok := g.nodes[g.start]; !ok {
		return fmt.Errorf("%w: start node %q", ErrUnknownNode, g.start)
	}

	for from, route := range g.routes {
		for _, e := range route.Edges {
			if _, ok := g.nodes[e.To]; !ok {
				return fmt.Errorf("%w: transition %s -> %s", ErrUnknownNode, from, e.To)
			}
		}
		if route.Default != "" {
			if _, ok := g.nodes[route.Default]; !ok {
				return fmt.Errorf("%w: default transition %s -> %s", ErrUnknownNode, from, route.Default)
			}
		}
		// Parallel members merge into one context after the join, so
		// their declared output keys must be disjoint.
		if route.Parallel {
			writers := make(map[string]string)
			for _, e := range route.Edges {
				def, ok := g.nodes[e.To]
				if !ok {
					continue
				}
				key := def.Output
				if key == "" && (def.Kind == core.KindLLM || def.Kind == core.KindStructuredLLM) {
					key = def.Name + "_output"
				}
				if key == "" {
					continue
				}
				if prev, dup := writers[key]; dup {
					return fmt.Errorf("parallel members %q and %q of %q both write output key %q", prev, e.To, from, key)
				}
				writers[key] = e.To
			}
		}
	}

	for _, region := range g.allRegions() {
		if len(region.Members) == 0 {
			return fmt.Errorf("%w: %s", ErrEmptyLoop, region.ID)
		}
		if region.Contains(region.Exit) {
			return fmt.Errorf("loop %s: exit node %q is a member of the region", region.ID, region.Exit)
		}
	}

	return nil
}
