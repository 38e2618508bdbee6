package validate

import (
	"strings"

	"github.com/petal-labs/vineflow"
)

// Check runs every static analysis on the graph and returns the combined
// issue list: structure, loop regions, and circular dependencies.
func Check(g *vineflow.Graph) []Issue {
	var issues []Issue
	issues = append(issues, checkStructure(g)...)
	issues = append(issues, ValidateLoops(g)...)
	issues = append(issues, DetectCircularDependencies(g)...)
	return issues
}

// checkStructure flags reachability and transition-shape problems.
func checkStructure(g *vineflow.Graph) []Issue {
	var issues []Issue

	reachable := reachableFrom(g, g.Start())
	for _, name := range g.Nodes() {
		if !reachable[name] {
			issues = append(issues, warnf("WF-002", name, "node is unreachable from start node %q", g.Start()))
		}
	}

	for _, r := range g.Routes() {
		if r.Parallel {
			issues = append(issues, checkParallelJoin(g, r)...)
			continue
		}

		// A purely conditional route with no default can strand a run
		// when nothing matches.
		conditional := false
		fallback := r.Default != ""
		for _, e := range r.Edges {
			if e.Cond == nil {
				fallback = true
			} else {
				conditional = true
			}
		}
		if conditional && !fallback {
			issues = append(issues, warnf("WF-001", r.From, "conditional transitions have no default; a run fails when no condition matches"))
		}
	}

	return issues
}

// checkParallelJoin verifies every parallel member rejoins at one common
// node through a single unconditional transition.
func checkParallelJoin(g *vineflow.Graph, r vineflow.Route) []Issue {
	var issues []Issue
	join := ""
	for _, e := range r.Edges {
		mr, ok := g.Route(e.To)
		if !ok {
			issues = append(issues, errorf("WF-003", e.To, "parallel member of %q has no transition to a join node", r.From))
			continue
		}
		if !mr.Straight() {
			issues = append(issues, errorf("WF-003", e.To, "parallel member of %q must have exactly one unconditional transition", r.From))
			continue
		}
		target := mr.Edges[0].To
		if join == "" {
			join = target
		} else if join != target {
			issues = append(issues, errorf("WF-004", e.To, "parallel members of %q disagree on the join node: %q vs %q", r.From, join, target))
		}
	}
	return issues
}

// ValidateLoops checks every declared loop region, nested regions included.
func ValidateLoops(g *vineflow.Graph) []Issue {
	var issues []Issue
	var walk func(regions []*vineflow.LoopRegion, parent *vineflow.LoopRegion)
	walk = func(regions []*vineflow.LoopRegion, parent *vineflow.LoopRegion) {
		for _, region := range regions {
			issues = append(issues, checkRegion(g, region, parent)...)
			walk(region.Nested, region)
		}
	}
	walk(g.Loops(), nil)
	return issues
}

func checkRegion(g *vineflow.Graph, region, parent *vineflow.LoopRegion) []Issue {
	var issues []Issue
	path := "loop " + region.ID

	if len(region.Members) == 0 {
		issues = append(issues, errorf("LP-001", path, "region has no member nodes"))
		return issues
	}
	for _, m := range region.Members {
		if !g.HasNode(m) {
			issues = append(issues, errorf("LP-002", path, "member %q is not a node of the graph", m))
		}
	}

	switch {
	case region.Exit == "":
		issues = append(issues, errorf("LP-003", path, "region has no exit node"))
	case region.Contains(region.Exit):
		issues = append(issues, errorf("LP-004", path, "exit node %q is a member of the region", region.Exit))
	case !g.HasNode(region.Exit):
		issues = append(issues, errorf("LP-003", path, "exit node %q is not a node of the graph", region.Exit))
	}

	if region.Continue.Zero() {
		issues = append(issues, errorf("LP-005", path, "region has no continuation condition"))
	} else if !region.Continue.Serializable() {
		issues = append(issues, warnf("LP-006", path, "continuation condition has no source text and cannot be serialized"))
	}

	if parent != nil {
		var outside []string
		for _, m := range region.Members {
			if !parent.Contains(m) {
				outside = append(outside, m)
			}
		}
		if len(outside) > 0 {
			issues = append(issues, errorf("LP-007", path, "members [%s] are outside enclosing loop %s", strings.Join(outside, ", "), parent.ID))
		}
	}

	return issues
}

// DetectCircularDependencies finds cycles in the transition graph. Cycles
// whose nodes all belong to one declared loop region are the loop's own
// repetition and are not reported; anything else is an unintended circular
// dependency.
func DetectCircularDependencies(g *vineflow.Graph) []Issue {
	var issues []Issue

	const (
		white = iota // unvisited
		gray         // on the current DFS path
		black        // done
	)
	color := make(map[string]int)
	var stack []string

	var visit func(name string)
	visit = func(name string) {
		color[name] = gray
		stack = append(stack, name)

		r, ok := g.Route(name)
		if ok {
			for _, to := range r.Targets() {
				switch color[to] {
				case white:
					visit(to)
				case gray:
					cycle := extractCycle(stack, to)
					if !coveredByRegion(g, cycle) {
						issues = append(issues, errorf("CY-001", name,
							"circular dependency outside any declared loop: %s", strings.Join(cycle, " -> ")))
					}
				}
			}
		}

		stack = stack[:len(stack)-1]
		color[name] = black
	}

	for _, name := range g.Nodes() {
		if color[name] == white {
			visit(name)
		}
	}
	return issues
}

// extractCycle returns the stack suffix starting at the back-edge target.
func extractCycle(stack []string, target string) []string {
	for i, name := range stack {
		if name == target {
			out := make([]string, len(stack)-i)
			copy(out, stack[i:])
			return out
		}
	}
	return append([]string(nil), stack...)
}

// coveredByRegion reports whether some declared region contains every node
// of the cycle.
func coveredByRegion(g *vineflow.Graph, cycle []string) bool {
	for _, region := range g.AllRegions() {
		all := true
		for _, name := range cycle {
			if !region.Contains(name) {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}

// reachableFrom walks the transition graph from start, following routes and
// the implicit loop edges (last member back to first, and out to the exit).
func reachableFrom(g *vineflow.Graph, start string) map[string]bool {
	seen := make(map[string]bool)
	var visit func(name string)
	visit = func(name string) {
		if seen[name] || !g.HasNode(name) {
			return
		}
		seen[name] = true
		if r, ok := g.Route(name); ok {
			for _, to := range r.Targets() {
				visit(to)
			}
		}
		for _, region := range g.AllRegions() {
			if region.Last() == name {
				visit(region.First())
				visit(region.Exit)
			}
		}
	}
	visit(start)
	return seen
}
