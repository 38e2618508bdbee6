package gen

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/petal-labs/vineflow"
	"github.com/petal-labs/vineflow/catalog"
	"github.com/petal-labs/vineflow/core"
	"github.com/petal-labs/vineflow/engine"
)

const fnSource = `func(ctx context.Context, c core.Context) (any, error) {
	return "ok", nil
}`

func sourcedCatalog(t *testing.T, names ...string) *catalog.Catalog {
	t.Helper()
	cat := catalog.New()
	for _, name := range names {
		cat.MustRegister(catalog.Definition{
			Name:   name,
			Kind:   core.KindFunc,
			Output: name + "_out",
			Source: fnSource,
			Fn: func(ctx context.Context, c core.Context) (any, error) {
				return "ok", nil
			},
		})
	}
	return cat
}

func branchGraph(t *testing.T, manual bool) *vineflow.Graph {
	t.Helper()
	cat := sourcedCatalog(t, "start", "branch1", "branch2", "convergence")
	b := vineflow.NewWorkflow("start", vineflow.WithCatalog(cat), vineflow.WithName("demo"))
	if manual {
		b = b.Branch([]vineflow.Edge{
			vineflow.When(vineflow.MustCond("use_branch1"), "branch1"),
		}, vineflow.WithDefault("branch2")).Converge("convergence")
	} else {
		b = b.Branch([]vineflow.Edge{
			vineflow.When(vineflow.MustCond("use_branch1"), "branch1"),
		}, vineflow.WithDefault("branch2"), vineflow.WithNext("convergence"))
	}
	g, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func loopGraph(t *testing.T) *vineflow.Graph {
	t.Helper()
	cat := sourcedCatalog(t, "init", "work", "check", "done")
	g, err := vineflow.NewWorkflow("init", vineflow.WithCatalog(cat)).
		StartLoop("retry").
		Node("work").
		Node("check").
		EndLoop(vineflow.MustCond("!passed"), "done").
		Build()
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func mustContain(t *testing.T, out string, wants ...string) {
	t.Helper()
	for _, want := range wants {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\n---\n%s", want, out)
		}
	}
}

func TestMermaid_Flowchart(t *testing.T) {
	out, err := Mermaid(branchGraph(t, false), DiagramFlowchart)
	if err != nil {
		t.Fatal(err)
	}
	mustContain(t, out,
		"flowchart TD",
		`start["start"]`,
		"start -->|use_branch1| branch1",
		"start -->|default| branch2",
		"branch1 --> convergence",
		"branch2 --> convergence",
	)
}

func TestMermaid_FlowchartLoop(t *testing.T) {
	out, err := Mermaid(loopGraph(t), DiagramFlowchart)
	if err != nil {
		t.Fatal(err)
	}
	mustContain(t, out,
		`subgraph loop_retry["loop retry"]`,
		"check -.->|!passed| work",
		"check -->|exit| done",
	)
	// Loop members live inside the subgraph, not at top level.
	if strings.Index(out, `work["work"]`) < strings.Index(out, "subgraph") {
		t.Error("loop member declared outside its subgraph")
	}
}

func TestMermaid_State(t *testing.T) {
	out, err := Mermaid(branchGraph(t, false), DiagramState)
	if err != nil {
		t.Fatal(err)
	}
	mustContain(t, out,
		"stateDiagram-v2",
		"[*] --> start",
		"start --> branch1: use_branch1",
		"start --> branch2: default",
		"convergence --> [*]",
	)
}

func TestMermaid_UnknownKind(t *testing.T) {
	if _, err := Mermaid(branchGraph(t, false), DiagramKind("pie")); err == nil {
		t.Error("Mermaid(pie) = nil error, want error")
	}
}

func TestProgram_AutoConvergence(t *testing.T) {
	out, err := Program(branchGraph(t, false))
	if err != nil {
		t.Fatal(err)
	}
	mustContain(t, out,
		"package main",
		`vineflow.NewWorkflow("start",`,
		`vineflow.WithName("demo")`,
		`vineflow.When(vineflow.MustCond("use_branch1"), "branch1")`,
		`vineflow.WithDefault("branch2")`,
		`vineflow.WithNext("convergence")`,
		fnSource,
		"engine.New().Run(context.Background(), g, core.NewContext())",
	)
	if strings.Contains(out, "Converge(") {
		t.Error("auto-converged branch must not emit Converge")
	}
}

func TestProgram_ManualConvergence(t *testing.T) {
	out, err := Program(branchGraph(t, true))
	if err != nil {
		t.Fatal(err)
	}
	mustContain(t, out, `Converge("convergence")`)
	if strings.Contains(out, "WithNext(") {
		t.Error("manually converged branch must not emit WithNext")
	}
}

func TestProgram_Loop(t *testing.T) {
	out, err := Program(loopGraph(t))
	if err != nil {
		t.Fatal(err)
	}
	mustContain(t, out,
		`StartLoop("retry")`,
		`Node("work")`,
		`Node("check")`,
		`EndLoop(vineflow.MustCond("!passed"), "done")`,
	)
	// Builder calls must appear in declaration order.
	if strings.Index(out, `StartLoop("retry")`) > strings.Index(out, `Node("work")`) {
		t.Error("StartLoop must precede its member nodes")
	}
}

func TestProgram_StructuredNode(t *testing.T) {
	cat := sourcedCatalog(t, "load")
	cat.MustRegister(catalog.Definition{
		Name:   "grade",
		Kind:   core.KindStructuredLLM,
		Prompt: "Grade {{.item}}",
		Schema: map[string]any{"type": "object", "required": []any{"score"}},
		Output: "report",
	})
	g, err := vineflow.NewWorkflow("load", vineflow.WithCatalog(cat)).
		Then("grade").
		Build()
	if err != nil {
		t.Fatal(err)
	}

	out, err := Program(g)
	if err != nil {
		t.Fatal(err)
	}
	mustContain(t, out,
		"core.KindStructuredLLM",
		`Prompt: "Grade {{.item}}"`,
		"Schema: mustSchema(",
		"func mustSchema(src string) map[string]any {",
	)
}

func TestProgram_RoundTripExecution(t *testing.T) {
	if testing.Short() {
		t.Skip("round-trip execution needs the go tool")
	}
	goBin, err := exec.LookPath("go")
	if err != nil {
		t.Skip("go tool not on PATH")
	}

	g := branchGraph(t, false)
	src, err := Program(g)
	if err != nil {
		t.Fatal(err)
	}

	mainPath := filepath.Join(t.TempDir(), "main.go")
	if err := os.WriteFile(mainPath, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}

	// Build the generated file from the module root so its imports
	// resolve to the working tree.
	cmd := exec.Command(goBin, "run", mainPath)
	cmd.Dir = ".."
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		t.Fatalf("go run: %v\n%s", err, stderr.String())
	}

	var got map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &got); err != nil {
		t.Fatalf("decoding generated program output: %v\n%s", err, stdout.String())
	}

	res, err := engine.New().Run(context.Background(), g, core.NewContext())
	if err != nil {
		t.Fatal(err)
	}
	raw, err := json.Marshal(res.Context)
	if err != nil {
		t.Fatal(err)
	}
	var want map[string]any
	if err := json.Unmarshal(raw, &want); err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("generated program context = %v, want %v", got, want)
	}
}

func TestProgram_RejectsUnserializable(t *testing.T) {
	t.Run("func condition", func(t *testing.T) {
		cat := sourcedCatalog(t, "start", "a", "b", "x")
		g, err := vineflow.NewWorkflow("start", vineflow.WithCatalog(cat)).
			Branch([]vineflow.Edge{
				vineflow.When(vineflow.CondFunc(func(c core.Context) bool { return true }), "a"),
			}, vineflow.WithDefault("b"), vineflow.WithNext("x")).
			Build()
		if err != nil {
			t.Fatal(err)
		}
		if _, err := Program(g); err == nil {
			t.Error("Program() = nil error, want unserializable condition error")
		}
	})

	t.Run("missing node source", func(t *testing.T) {
		cat := catalog.New()
		cat.MustRegister(catalog.Definition{
			Name: "start",
			Kind: core.KindFunc,
			Fn: func(ctx context.Context, c core.Context) (any, error) {
				return nil, nil
			},
		})
		g, err := vineflow.NewWorkflow("start", vineflow.WithCatalog(cat)).Build()
		if err != nil {
			t.Fatal(err)
		}
		if _, err := Program(g); err == nil {
			t.Error("Program() = nil error, want missing source error")
		}
	})
}
