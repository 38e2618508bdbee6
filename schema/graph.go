package schema

import (
	"fmt"
	"sort"

	"github.com/petal-labs/vineflow"
	"github.com/petal-labs/vineflow/catalog"
	"github.com/petal-labs/vineflow/core"
)

// ToGraph turns the document into an executable graph. Completion nodes are
// built entirely from the document; func and validate nodes take their
// callable from cat, with document fields and function sources layered on
// top. Nodes the document references but does not declare are copied from
// cat unchanged.
func (d *Document) ToGraph(cat *catalog.Catalog) (*vineflow.Graph, error) {
	if cat == nil {
		cat = catalog.Default()
	}
	resolved := catalog.New()

	names := make([]string, 0, len(d.Workflow.Nodes))
	for name := range d.Workflow.Nodes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		def, err := d.resolveNode(name, d.Workflow.Nodes[name], cat)
		if err != nil {
			return nil, err
		}
		if err := resolved.Register(def); err != nil {
			return nil, err
		}
	}

	raw, err := d.rawGraph()
	if err != nil {
		return nil, err
	}

	// Referenced-only nodes come straight from the base catalog.
	for _, name := range referencedNodes(raw) {
		if resolved.Has(name) {
			continue
		}
		def, err := cat.Lookup(name)
		if err != nil {
			return nil, fmt.Errorf("node %q referenced by the document: %w", name, err)
		}
		if err := resolved.Register(def); err != nil {
			return nil, err
		}
	}

	return vineflow.Assemble(raw, resolved)
}

// resolveNode merges a document node declaration with the catalog.
func (d *Document) resolveNode(name string, n Node, cat *catalog.Catalog) (catalog.Definition, error) {
	kind := core.ParseKind(n.Kind)

	var def catalog.Definition
	switch kind {
	case core.KindLLM, core.KindStructuredLLM:
		def = catalog.Definition{
			Name:   name,
			Kind:   kind,
			Prompt: n.Prompt,
			System: n.System,
			Model:  n.Model,
			Schema: n.Schema,
		}
	default:
		base, err := cat.Lookup(name)
		if err != nil {
			return catalog.Definition{}, fmt.Errorf("node %q: func nodes need a catalog registration: %w", name, err)
		}
		def = base
		if n.Kind != "" {
			def.Kind = kind
		}
	}

	if len(n.Inputs) > 0 {
		def.Inputs = n.Inputs
	}
	if n.Output != "" {
		def.Output = n.Output
	}
	if fn, ok := d.Functions[name]; ok && fn.Source != "" {
		def.Source = fn.Source
	}
	return def, nil
}

// rawGraph converts transitions and loops into the assembler's form.
func (d *Document) rawGraph() (vineflow.RawGraph, error) {
	w := d.Workflow
	raw := vineflow.RawGraph{Name: w.Name, Start: w.Start}

	froms := make([]string, 0, len(w.Transitions))
	for from := range w.Transitions {
		froms = append(froms, from)
	}
	sort.Strings(froms)

	for _, from := range froms {
		tr := w.Transitions[from]
		route := vineflow.Route{From: from, Default: tr.Default, Parallel: tr.Parallel}
		for _, target := range tr.To {
			edge := vineflow.Edge{To: target.ToNode}
			if target.Condition != "" {
				cond, err := vineflow.Cond(target.Condition)
				if err != nil {
					return vineflow.RawGraph{}, fmt.Errorf("transition %s -> %s: %w", from, target.ToNode, err)
				}
				edge.Cond = &cond
			}
			route.Edges = append(route.Edges, edge)
		}
		raw.Routes = append(raw.Routes, route)
	}

	loops, err := convertLoops(w.Loops, "")
	if err != nil {
		return vineflow.RawGraph{}, err
	}
	raw.Loops = loops
	return raw, nil
}

func convertLoops(loops []Loop, parentID string) ([]*vineflow.LoopRegion, error) {
	var out []*vineflow.LoopRegion
	for i, l := range loops {
		id := l.ID
		if id == "" {
			id = fmt.Sprintf("loop_%d", i+1)
			if parentID != "" {
				id = parentID + "_" + id
			}
		}
		cond, err := vineflow.Cond(l.Condition)
		if err != nil {
			return nil, fmt.Errorf("loop %q: %w", id, err)
		}
		nested, err := convertLoops(l.Nested, id)
		if err != nil {
			return nil, err
		}
		out = append(out, &vineflow.LoopRegion{
			ID:       id,
			Members:  l.Nodes,
			Continue: cond,
			Exit:     l.Exit,
			Nested:   nested,
		})
	}
	return out, nil
}

// referencedNodes lists every node name the raw graph mentions.
func referencedNodes(raw vineflow.RawGraph) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	add(raw.Start)
	for _, r := range raw.Routes {
		add(r.From)
		for _, e := range r.Edges {
			add(e.To)
		}
		add(r.Default)
	}
	var walk func(regions []*vineflow.LoopRegion)
	walk = func(regions []*vineflow.LoopRegion) {
		for _, region := range regions {
			for _, m := range region.Members {
				add(m)
			}
			add(region.Exit)
			walk(region.Nested)
		}
	}
	walk(raw.Loops)
	return out
}
