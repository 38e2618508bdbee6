package gen

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/petal-labs/vineflow"
	"github.com/petal-labs/vineflow/core"
)

// ProgramOption configures code generation.
type ProgramOption func(*programConfig)

type programConfig struct {
	modulePath string
}

// WithModulePath overrides the import path of the workflow module in the
// generated program.
func WithModulePath(path string) ProgramOption {
	return func(c *programConfig) { c.modulePath = path }
}

// Program emits a standalone Go program that re-registers the graph's node
// definitions, rebuilds the graph through the builder API, runs it, and
// prints the final context as JSON. Function node sources are embedded
// verbatim and condition sources are serialized, so the generated program
// is a faithful, self-contained copy of the workflow.
//
// Graphs holding func-backed conditions, or func nodes registered without
// source text, cannot be serialized and return an error.
func Program(g *vineflow.Graph, opts ...ProgramOption) (string, error) {
	cfg := programConfig{modulePath: "github.com/petal-labs/vineflow"}
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := checkSerializable(g); err != nil {
		return "", err
	}

	chain, err := builderChain(g)
	if err != nil {
		return "", err
	}

	regs, usesSchema, err := registrations(g)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("// Code generated by vineflow codegen. DO NOT EDIT.\n")
	sb.WriteString("package main\n\n")
	sb.WriteString("import (\n")
	sb.WriteString("\t\"context\"\n")
	sb.WriteString("\t\"encoding/json\"\n")
	sb.WriteString("\t\"fmt\"\n")
	sb.WriteString("\t\"os\"\n\n")
	sb.WriteString("\t\"" + cfg.modulePath + "\"\n")
	sb.WriteString("\t\"" + cfg.modulePath + "/catalog\"\n")
	sb.WriteString("\t\"" + cfg.modulePath + "/core\"\n")
	sb.WriteString("\t\"" + cfg.modulePath + "/engine\"\n")
	sb.WriteString(")\n\n")

	sb.WriteString("func main() {\n")
	sb.WriteString("\tcat := catalog.New()\n\n")
	sb.WriteString(regs)
	sb.WriteString("\n")

	sb.WriteString(fmt.Sprintf("\tg, err := vineflow.NewWorkflow(%s,\n", strconv.Quote(g.Start())))
	sb.WriteString("\t\tvineflow.WithCatalog(cat),\n")
	sb.WriteString(fmt.Sprintf("\t\tvineflow.WithName(%s),\n", strconv.Quote(g.Name())))
	sb.WriteString("\t).\n")
	for _, call := range chain {
		sb.WriteString("\t\t" + call + ".\n")
	}
	sb.WriteString("\t\tBuild()\n")
	sb.WriteString("\tif err != nil {\n")
	sb.WriteString("\t\tfmt.Fprintln(os.Stderr, \"building workflow:\", err)\n")
	sb.WriteString("\t\tos.Exit(1)\n")
	sb.WriteString("\t}\n\n")

	sb.WriteString("\tres, err := engine.New().Run(context.Background(), g, core.NewContext())\n")
	sb.WriteString("\tif err != nil {\n")
	sb.WriteString("\t\tfmt.Fprintln(os.Stderr, \"run failed:\", err)\n")
	sb.WriteString("\t\tos.Exit(1)\n")
	sb.WriteString("\t}\n\n")
	sb.WriteString("\tout, err := json.MarshalIndent(res.Context, \"\", \"  \")\n")
	sb.WriteString("\tif err != nil {\n")
	sb.WriteString("\t\tfmt.Fprintln(os.Stderr, \"encoding result:\", err)\n")
	sb.WriteString("\t\tos.Exit(1)\n")
	sb.WriteString("\t}\n")
	sb.WriteString("\tfmt.Println(string(out))\n")
	sb.WriteString("}\n")

	if usesSchema {
		sb.WriteString("\nfunc mustSchema(src string) map[string]any {\n")
		sb.WriteString("\tvar m map[string]any\n")
		sb.WriteString("\tif err := json.Unmarshal([]byte(src), &m); err != nil {\n")
		sb.WriteString("\t\tpanic(err)\n")
		sb.WriteString("\t}\n")
		sb.WriteString("\treturn m\n")
		sb.WriteString("}\n")
	}

	return sb.String(), nil
}

// checkSerializable rejects graphs that cannot round-trip through source.
func checkSerializable(g *vineflow.Graph) error {
	for _, r := range g.Routes() {
		for _, e := range r.Edges {
			if e.Cond != nil && !e.Cond.Serializable() {
				return fmt.Errorf("transition %s -> %s: condition has no source text", r.From, e.To)
			}
		}
	}
	for _, region := range g.AllRegions() {
		if !region.Continue.Serializable() {
			return fmt.Errorf("loop %s: continuation condition has no source text", region.ID)
		}
	}
	for _, name := range g.Nodes() {
		def, _ := g.Node(name)
		switch def.Kind {
		case core.KindFunc, core.KindValidate:
			if def.Source == "" {
				return fmt.Errorf("node %q: %s node has no source text to embed", name, def.Kind)
			}
		}
	}
	return nil
}

// registrations emits one MustRegister call per node in graph order.
func registrations(g *vineflow.Graph) (string, bool, error) {
	var sb strings.Builder
	usesSchema := false

	kindName := map[core.Kind]string{
		core.KindFunc:          "core.KindFunc",
		core.KindValidate:      "core.KindValidate",
		core.KindLLM:           "core.KindLLM",
		core.KindStructuredLLM: "core.KindStructuredLLM",
	}

	for _, name := range g.Nodes() {
		def, _ := g.Node(name)
		kn, ok := kindName[def.Kind]
		if !ok {
			return "", false, fmt.Errorf("node %q: unknown kind %q", name, def.Kind)
		}

		sb.WriteString("\tcat.MustRegister(catalog.Definition{\n")
		sb.WriteString(fmt.Sprintf("\t\tName: %s,\n", strconv.Quote(def.Name)))
		sb.WriteString(fmt.Sprintf("\t\tKind: %s,\n", kn))
		if len(def.Inputs) > 0 {
			quoted := make([]string, len(def.Inputs))
			for i, in := range def.Inputs {
				quoted[i] = strconv.Quote(in)
			}
			sb.WriteString(fmt.Sprintf("\t\tInputs: []string{%s},\n", strings.Join(quoted, ", ")))
		}
		if def.Output != "" {
			sb.WriteString(fmt.Sprintf("\t\tOutput: %s,\n", strconv.Quote(def.Output)))
		}
		switch def.Kind {
		case core.KindFunc, core.KindValidate:
			sb.WriteString("\t\tFn: " + def.Source + ",\n")
			sb.WriteString(fmt.Sprintf("\t\tSource: %s,\n", strconv.Quote(def.Source)))
		case core.KindLLM, core.KindStructuredLLM:
			sb.WriteString(fmt.Sprintf("\t\tPrompt: %s,\n", strconv.Quote(def.Prompt)))
			if def.System != "" {
				sb.WriteString(fmt.Sprintf("\t\tSystem: %s,\n", strconv.Quote(def.System)))
			}
			if def.Model != "" {
				sb.WriteString(fmt.Sprintf("\t\tModel: %s,\n", strconv.Quote(def.Model)))
			}
			if len(def.Schema) > 0 {
				raw, err := json.Marshal(def.Schema)
				if err != nil {
					return "", false, fmt.Errorf("node %q: marshaling schema: %w", name, err)
				}
				sb.WriteString(fmt.Sprintf("\t\tSchema: mustSchema(%s),\n", rawString(string(raw))))
				usesSchema = true
			}
		}
		sb.WriteString("\t})\n")
	}

	return sb.String(), usesSchema, nil
}

// builderChain replays the graph as a sequence of builder calls.
func builderChain(g *vineflow.Graph) ([]string, error) {
	var calls []string

	branchBySource := make(map[string]vineflow.BranchRecord)
	for _, rec := range g.Branches() {
		branchBySource[rec.Source] = rec
	}
	loopByFirst := make(map[string]*vineflow.LoopRegion)
	for _, region := range g.Loops() {
		loopByFirst[region.First()] = region
	}

	visited := make(map[string]bool)
	current := g.Start()
	for current != "" {
		if visited[current] {
			return nil, fmt.Errorf("node %q revisited while replaying the graph; transitions do not form a builder chain", current)
		}
		visited[current] = true

		if rec, ok := branchBySource[current]; ok {
			calls = append(calls, branchCall(rec)...)
			if rec.Next == "" {
				return nil, fmt.Errorf("branch from %q has no convergence target", rec.Source)
			}
			current = rec.Next
			continue
		}

		r, ok := g.Route(current)
		if !ok {
			break
		}

		if r.Parallel {
			targets := make([]string, len(r.Edges))
			for i, e := range r.Edges {
				targets[i] = strconv.Quote(e.To)
			}
			mr, ok := g.Route(r.Edges[0].To)
			if !ok || !mr.Straight() {
				return nil, fmt.Errorf("parallel members of %q have no common join node", current)
			}
			join := mr.Edges[0].To
			calls = append(calls,
				fmt.Sprintf("Parallel(%s)", strings.Join(targets, ", ")),
				fmt.Sprintf("Then(%s)", strconv.Quote(join)))
			current = join
			continue
		}

		if !r.Straight() {
			return nil, fmt.Errorf("node %q has conditional transitions that were not declared through Branch", current)
		}
		next := r.Edges[0].To

		if region, ok := loopByFirst[next]; ok && !visited["loop:"+region.ID] {
			visited["loop:"+region.ID] = true
			loopCalls, err := loopBlock(g, region)
			if err != nil {
				return nil, err
			}
			calls = append(calls, loopCalls...)
			current = region.Exit
			continue
		}

		calls = append(calls, fmt.Sprintf("Then(%s)", strconv.Quote(next)))
		current = next
	}

	return calls, nil
}

// branchCall renders one Branch declaration, reproducing whether the graph
// was converged automatically (WithNext) or manually (Converge).
func branchCall(rec vineflow.BranchRecord) []string {
	var sb strings.Builder
	sb.WriteString("Branch([]vineflow.Edge{\n")
	for _, e := range rec.Targets {
		sb.WriteString(fmt.Sprintf("\t\t\tvineflow.When(vineflow.MustCond(%s), %s),\n",
			strconv.Quote(e.Cond.Source), strconv.Quote(e.To)))
	}
	sb.WriteString("\t\t}")
	if rec.Default != "" {
		sb.WriteString(fmt.Sprintf(", vineflow.WithDefault(%s)", strconv.Quote(rec.Default)))
	}
	if !rec.Manual {
		sb.WriteString(fmt.Sprintf(", vineflow.WithNext(%s)", strconv.Quote(rec.Next)))
	}
	sb.WriteString(")")

	calls := []string{sb.String()}
	if rec.Manual {
		calls = append(calls, fmt.Sprintf("Converge(%s)", strconv.Quote(rec.Next)))
	}
	return calls
}

// loopBlock renders a loop region as StartLoop/Node/EndLoop calls, nesting
// recursively.
func loopBlock(g *vineflow.Graph, region *vineflow.LoopRegion) ([]string, error) {
	calls := []string{fmt.Sprintf("StartLoop(%s)", strconv.Quote(region.ID))}

	nestedByFirst := make(map[string]*vineflow.LoopRegion)
	for _, nested := range region.Nested {
		nestedByFirst[nested.First()] = nested
	}

	consumed := make(map[string]bool)
	for _, m := range region.Members {
		if consumed[m] {
			continue
		}
		if nested, ok := nestedByFirst[m]; ok {
			nestedCalls, err := loopBlock(g, nested)
			if err != nil {
				return nil, err
			}
			calls = append(calls, nestedCalls...)
			for _, nm := range nested.Members {
				consumed[nm] = true
			}
			// The nested exit is the cursor after its EndLoop.
			consumed[nested.Exit] = true
			continue
		}
		calls = append(calls, fmt.Sprintf("Node(%s)", strconv.Quote(m)))
	}

	calls = append(calls, fmt.Sprintf("EndLoop(vineflow.MustCond(%s), %s)",
		strconv.Quote(region.Continue.Source), strconv.Quote(region.Exit)))
	return calls, nil
}

// rawString renders s as a backquoted literal when possible, falling back
// to an interpreted literal.
func rawString(s string) string {
	if !strings.Contains(s, "`") {
		return "`" + s + "`"
	}
	return strconv.Quote(s)
}
