package validate

import (
	"fmt"

	"github.com/petal-labs/vineflow"
)

// SubWorkflowNodes extracts the node set of the sub-workflow rooted at
// start: every node reachable from it through conditional targets,
// defaults, parallel members, and the implicit loop edges. Names come back
// in discovery order from start, collected during the walk itself, so the
// cost is bounded by the sub-workflow rather than the whole graph.
func SubWorkflowNodes(g *vineflow.Graph, start string) ([]string, error) {
	if !g.HasNode(start) {
		return nil, fmt.Errorf("%w: sub-workflow start %q", vineflow.ErrUnknownNode, start)
	}

	seen := make(map[string]bool)
	var out []string
	var visit func(name string)
	visit = func(name string) {
		if seen[name] || !g.HasNode(name) {
			return
		}
		seen[name] = true
		out = append(out, name)
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
	return out, nil
}
