// Package gen renders workflow graphs into other representations: Mermaid
// diagrams for documentation and a standalone Go program that rebuilds and
// runs the same workflow.
package gen

import (
	"fmt"
	"strings"

	"github.com/petal-labs/vineflow"
)

// DiagramKind selects the Mermaid output flavor.
type DiagramKind string

const (
	DiagramFlowchart DiagramKind = "flowchart"
	DiagramState     DiagramKind = "state"
)

// Mermaid renders the graph as a Mermaid diagram. Flowcharts group loop
// regions into subgraphs and draw the implicit repeat edge dashed; state
// diagrams mark entry and terminal nodes with [*].
func Mermaid(g *vineflow.Graph, kind DiagramKind) (string, error) {
	switch kind {
	case DiagramFlowchart:
		return flowchart(g), nil
	case DiagramState:
		return stateDiagram(g), nil
	default:
		return "", fmt.Errorf("unknown diagram kind %q", kind)
	}
}

func flowchart(g *vineflow.Graph) string {
	var sb strings.Builder
	sb.WriteString("flowchart TD\n")

	innermost := innermostRegions(g)

	// Free nodes first, then one subgraph per loop region.
	for _, name := range g.Nodes() {
		if innermost[name] == nil {
			sb.WriteString(fmt.Sprintf("    %s[\"%s\"]\n", nodeID(name), name))
		}
	}
	var renderRegion func(region *vineflow.LoopRegion, indent string)
	renderRegion = func(region *vineflow.LoopRegion, indent string) {
		sb.WriteString(fmt.Sprintf("%ssubgraph %s[\"loop %s\"]\n", indent, nodeID("loop_"+region.ID), region.ID))
		for _, m := range region.Members {
			if innermost[m] == region {
				sb.WriteString(fmt.Sprintf("%s    %s[\"%s\"]\n", indent, nodeID(m), m))
			}
		}
		for _, nested := range region.Nested {
			renderRegion(nested, indent+"    ")
		}
		sb.WriteString(indent + "end\n")
	}
	for _, region := range g.Loops() {
		renderRegion(region, "    ")
	}

	for _, r := range g.Routes() {
		from := nodeID(r.From)
		for _, e := range r.Edges {
			switch {
			case r.Parallel:
				sb.WriteString(fmt.Sprintf("    %s ==> %s\n", from, nodeID(e.To)))
			case e.Cond != nil:
				sb.WriteString(fmt.Sprintf("    %s -->|%s| %s\n", from, edgeLabel(e.Cond.Source), nodeID(e.To)))
			default:
				sb.WriteString(fmt.Sprintf("    %s --> %s\n", from, nodeID(e.To)))
			}
		}
		if r.Default != "" {
			sb.WriteString(fmt.Sprintf("    %s -->|default| %s\n", from, nodeID(r.Default)))
		}
	}

	// Implicit loop edges: dashed repeat from last to first member, and
	// the exit transition.
	for _, region := range g.AllRegions() {
		last := nodeID(region.Last())
		sb.WriteString(fmt.Sprintf("    %s -.->|%s| %s\n", last, edgeLabel(region.Continue.Source), nodeID(region.First())))
		sb.WriteString(fmt.Sprintf("    %s -->|exit| %s\n", last, nodeID(region.Exit)))
	}

	return sb.String()
}

func stateDiagram(g *vineflow.Graph) string {
	var sb strings.Builder
	sb.WriteString("stateDiagram-v2\n")
	sb.WriteString(fmt.Sprintf("    [*] --> %s\n", nodeID(g.Start())))

	lastMembers := make(map[string]bool)
	for _, region := range g.AllRegions() {
		lastMembers[region.Last()] = true
	}

	for _, r := range g.Routes() {
		from := nodeID(r.From)
		for _, e := range r.Edges {
			if e.Cond != nil {
				sb.WriteString(fmt.Sprintf("    %s --> %s: %s\n", from, nodeID(e.To), e.Cond.Source))
			} else {
				sb.WriteString(fmt.Sprintf("    %s --> %s\n", from, nodeID(e.To)))
			}
		}
		if r.Default != "" {
			sb.WriteString(fmt.Sprintf("    %s --> %s: default\n", from, nodeID(r.Default)))
		}
	}

	for _, region := range g.AllRegions() {
		last := nodeID(region.Last())
		sb.WriteString(fmt.Sprintf("    %s --> %s: %s\n", last, nodeID(region.First()), region.Continue.Source))
		sb.WriteString(fmt.Sprintf("    %s --> %s: exit\n", last, nodeID(region.Exit)))
	}

	for _, name := range g.Nodes() {
		if _, ok := g.Route(name); ok {
			continue
		}
		if lastMembers[name] {
			continue
		}
		sb.WriteString(fmt.Sprintf("    %s --> [*]\n", nodeID(name)))
	}

	return sb.String()
}

// innermostRegions maps each node to the deepest loop region containing it.
func innermostRegions(g *vineflow.Graph) map[string]*vineflow.LoopRegion {
	out := make(map[string]*vineflow.LoopRegion)
	var walk func(regions []*vineflow.LoopRegion)
	walk = func(regions []*vineflow.LoopRegion) {
		for _, region := range regions {
			for _, m := range region.Members {
				out[m] = region
			}
			// Deeper regions overwrite the parent's claim.
			walk(region.Nested)
		}
	}
	walk(g.Loops())
	return out
}

// nodeID sanitizes a node name into a Mermaid identifier.
func nodeID(name string) string {
	var sb strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	return sb.String()
}

// edgeLabel escapes a condition for use in a Mermaid edge label.
func edgeLabel(src string) string {
	if src == "" {
		return "fn"
	}
	src = strings.ReplaceAll(src, "\"", "#quot;")
	if strings.ContainsAny(src, "|<>") {
		return "\"" + src + "\""
	}
	return src
}
