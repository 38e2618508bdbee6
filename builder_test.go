package vineflow

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/petal-labs/vineflow/catalog"
	"github.com/petal-labs/vineflow/core"
)

func testCatalog(t *testing.T, names ...string) *catalog.Catalog {
	t.Helper()
	cat := catalog.New()
	for _, name := range names {
		cat.MustRegister(catalog.Definition{
			Name: name,
			Kind: core.KindFunc,
			Fn: func(ctx context.Context, c core.Context) (any, error) {
				return nil, nil
			},
		})
	}
	return cat
}

func straightTarget(t *testing.T, g *Graph, from string) string {
	t.Helper()
	r, ok := g.Route(from)
	if !ok {
		t.Fatalf("no route from %q", from)
	}
	if !r.Straight() {
		t.Fatalf("route from %q is not a single unconditional transition: %+v", from, r)
	}
	return r.Edges[0].To
}

func TestBuilder_Sequence(t *testing.T) {
	cat := testCatalog(t, "fetch", "clean", "store")
	g, err := NewWorkflow("fetch", WithCatalog(cat)).
		Then("clean").
		Then("store").
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if g.Start() != "fetch" {
		t.Errorf("Start() = %q, want fetch", g.Start())
	}
	if got := straightTarget(t, g, "fetch"); got != "clean" {
		t.Errorf("fetch -> %q, want clean", got)
	}
	if got := straightTarget(t, g, "clean"); got != "store" {
		t.Errorf("clean -> %q, want store", got)
	}
	if _, ok := g.Route("store"); ok {
		t.Error("terminal node store should have no route")
	}
	want := []string{"fetch", "clean", "store"}
	if !reflect.DeepEqual(g.Nodes(), want) {
		t.Errorf("Nodes() = %v, want %v", g.Nodes(), want)
	}
}

func TestBuilder_BranchAutoConverge(t *testing.T) {
	cat := testCatalog(t, "start", "branch1", "branch2", "merge")
	b := NewWorkflow("start", WithCatalog(cat)).
		Branch([]Edge{
			When(MustCond("use_branch1"), "branch1"),
		}, WithDefault("branch2"), WithNext("merge"))

	if b.IsBranching() {
		t.Error("IsBranching() = true after WithNext, want false")
	}
	if b.CurrentNode() != "merge" {
		t.Errorf("CurrentNode() = %q, want merge", b.CurrentNode())
	}

	g, err := b.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	// Both branch targets converge unconditionally on merge.
	for _, from := range []string{"branch1", "branch2"} {
		if got := straightTarget(t, g, from); got != "merge" {
			t.Errorf("%s -> %q, want merge", from, got)
		}
	}

	r, _ := g.Route("start")
	if len(r.Edges) != 1 || r.Edges[0].To != "branch1" || r.Edges[0].Cond == nil {
		t.Errorf("start route edges = %+v, want one conditional edge to branch1", r.Edges)
	}
	if r.Default != "branch2" {
		t.Errorf("start route default = %q, want branch2", r.Default)
	}

	recs := g.Branches()
	if len(recs) != 1 {
		t.Fatalf("Branches() len = %d, want 1", len(recs))
	}
	if recs[0].Manual {
		t.Error("branch record Manual = true, want false for WithNext")
	}
	if recs[0].Next != "merge" {
		t.Errorf("branch record Next = %q, want merge", recs[0].Next)
	}
}

func TestBuilder_BranchManualConverge(t *testing.T) {
	cat := testCatalog(t, "start", "a", "b", "x")
	b := NewWorkflow("start", WithCatalog(cat)).
		Branch([]Edge{
			When(MustCond("take_a"), "a"),
		}, WithDefault("b"))

	if !b.IsBranching() {
		t.Fatal("IsBranching() = false, want true")
	}
	// The open branch chains from its default target.
	if b.CurrentNode() != "b" {
		t.Errorf("CurrentNode() = %q, want default b", b.CurrentNode())
	}
	if got, want := b.BranchNodes(), []string{"a", "b"}; !reflect.DeepEqual(got, want) {
		t.Errorf("BranchNodes() = %v, want %v", got, want)
	}

	g, err := b.Converge("x").Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	// Converge adds exactly the two missing transitions.
	for _, from := range []string{"a", "b"} {
		if got := straightTarget(t, g, from); got != "x" {
			t.Errorf("%s -> %q, want x", from, got)
		}
	}

	recs := g.Branches()
	if len(recs) != 1 {
		t.Fatalf("Branches() len = %d, want 1", len(recs))
	}
	if !recs[0].Manual {
		t.Error("branch record Manual = false, want true for Converge")
	}
	if recs[0].Next != "x" {
		t.Errorf("branch record Next = %q, want x", recs[0].Next)
	}
}

func TestBuilder_BranchCursorWithoutDefault(t *testing.T) {
	cat := testCatalog(t, "start", "a", "b")
	b := NewWorkflow("start", WithCatalog(cat)).
		Branch([]Edge{
			When(MustCond("take_a"), "a"),
			When(MustCond("take_b"), "b"),
		})
	if b.CurrentNode() != "a" {
		t.Errorf("CurrentNode() = %q, want first target a", b.CurrentNode())
	}
}

func TestBuilder_ConvergeSkipsRoutedTargets(t *testing.T) {
	cat := testCatalog(t, "start", "a", "b", "x")
	b := NewWorkflow("start", WithCatalog(cat)).
		Branch([]Edge{
			When(MustCond("take_a"), "a"),
			When(MustCond("take_b"), "b"),
		})
	// Give a its own continuation before converging.
	b.addStraight("a", "x")

	g, err := b.Converge("x").Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	ra, _ := g.Route("a")
	if len(ra.Edges) != 1 {
		t.Errorf("a has %d edges, want 1 (converge must not duplicate)", len(ra.Edges))
	}
	if got := straightTarget(t, g, "b"); got != "x" {
		t.Errorf("b -> %q, want x", got)
	}
}

func TestBuilder_ParallelJoin(t *testing.T) {
	cat := testCatalog(t, "split", "left", "right", "join")
	g, err := NewWorkflow("split", WithCatalog(cat)).
		Parallel("left", "right").
		Then("join").
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	r, _ := g.Route("split")
	if !r.Parallel {
		t.Error("split route Parallel = false, want true")
	}
	if got, want := r.Targets(), []string{"left", "right"}; !reflect.DeepEqual(got, want) {
		t.Errorf("split targets = %v, want %v", got, want)
	}
	for _, from := range []string{"left", "right"} {
		if got := straightTarget(t, g, from); got != "join" {
			t.Errorf("%s -> %q, want join", from, got)
		}
	}
}

func TestBuilder_ParallelOverlappingOutputs(t *testing.T) {
	cat := testCatalog(t, "split", "join")
	for _, name := range []string{"left", "right"} {
		cat.MustRegister(catalog.Definition{
			Name:   name,
			Kind:   core.KindFunc,
			Output: "res",
			Fn: func(ctx context.Context, c core.Context) (any, error) {
				return nil, nil
			},
		})
	}

	_, err := NewWorkflow("split", WithCatalog(cat)).
		Parallel("left", "right").
		Then("join").
		Build()
	if err == nil {
		t.Error("Build() = nil error, want overlapping output key error")
	}
}

func TestBuilder_Loop(t *testing.T) {
	cat := testCatalog(t, "init", "work", "check", "done")
	g, err := NewWorkflow("init", WithCatalog(cat)).
		StartLoop("retry").
		Node("work").
		Node("check").
		EndLoop(MustCond("!check_passed"), "done").
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	loops := g.Loops()
	if len(loops) != 1 {
		t.Fatalf("Loops() len = %d, want 1", len(loops))
	}
	l := loops[0]
	if l.ID != "retry" {
		t.Errorf("loop ID = %q, want retry", l.ID)
	}
	if got, want := l.Members, []string{"work", "check"}; !reflect.DeepEqual(got, want) {
		t.Errorf("loop members = %v, want %v", got, want)
	}
	if l.Exit != "done" {
		t.Errorf("loop exit = %q, want done", l.Exit)
	}
	if got := straightTarget(t, g, "init"); got != "work" {
		t.Errorf("init -> %q, want work", got)
	}
	if got := straightTarget(t, g, "work"); got != "check" {
		t.Errorf("work -> %q, want check", got)
	}
}

func TestBuilder_NestedLoop(t *testing.T) {
	cat := testCatalog(t, "start", "outer_a", "inner_a", "inner_b", "outer_b", "end")
	g, err := NewWorkflow("start", WithCatalog(cat)).
		StartLoop("outer").
		Node("outer_a").
		StartLoop("inner").
		Node("inner_a").
		Node("inner_b").
		EndLoop(MustCond("inner_more"), "outer_b").
		EndLoop(MustCond("outer_more"), "end").
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	loops := g.Loops()
	if len(loops) != 1 {
		t.Fatalf("top-level loops = %d, want 1", len(loops))
	}
	outer := loops[0]
	if len(outer.Nested) != 1 {
		t.Fatalf("nested loops = %d, want 1", len(outer.Nested))
	}
	inner := outer.Nested[0]

	wantOuter := []string{"outer_a", "inner_a", "inner_b", "outer_b"}
	if !reflect.DeepEqual(outer.Members, wantOuter) {
		t.Errorf("outer members = %v, want %v", outer.Members, wantOuter)
	}
	wantInner := []string{"inner_a", "inner_b"}
	if !reflect.DeepEqual(inner.Members, wantInner) {
		t.Errorf("inner members = %v, want %v", inner.Members, wantInner)
	}
	// Inner members must be a subset of the outer region.
	for _, m := range inner.Members {
		if !outer.Contains(m) {
			t.Errorf("inner member %q missing from outer region", m)
		}
	}
	if inner.Exit != "outer_b" || outer.Exit != "end" {
		t.Errorf("exits = %q/%q, want outer_b/end", inner.Exit, outer.Exit)
	}
}

func TestBuilder_StateErrors(t *testing.T) {
	cat := testCatalog(t, "start", "a", "b", "x")

	t.Run("then inside branch", func(t *testing.T) {
		_, err := NewWorkflow("start", WithCatalog(cat)).
			Branch([]Edge{When(MustCond("c"), "a")}, WithDefault("b")).
			Then("x").
			Converge("x").
			Build()
		if !errors.Is(err, ErrBuilderState) {
			t.Errorf("Build() error = %v, want ErrBuilderState", err)
		}
	})

	t.Run("converge without branch", func(t *testing.T) {
		_, err := NewWorkflow("start", WithCatalog(cat)).Converge("x").Build()
		if !errors.Is(err, ErrBuilderState) {
			t.Errorf("Build() error = %v, want ErrBuilderState", err)
		}
	})

	t.Run("unconverged branch at build", func(t *testing.T) {
		_, err := NewWorkflow("start", WithCatalog(cat)).
			Branch([]Edge{When(MustCond("c"), "a")}, WithDefault("b")).
			Build()
		if !errors.Is(err, ErrBuilderState) {
			t.Errorf("Build() error = %v, want ErrBuilderState", err)
		}
	})

	t.Run("end loop without start", func(t *testing.T) {
		_, err := NewWorkflow("start", WithCatalog(cat)).
			EndLoop(MustCond("c"), "x").
			Build()
		if !errors.Is(err, ErrBuilderState) {
			t.Errorf("Build() error = %v, want ErrBuilderState", err)
		}
	})

	t.Run("unclosed loop at build", func(t *testing.T) {
		_, err := NewWorkflow("start", WithCatalog(cat)).
			StartLoop().
			Node("a").
			Build()
		if !errors.Is(err, ErrBuilderState) {
			t.Errorf("Build() error = %v, want ErrBuilderState", err)
		}
	})

	t.Run("branch target without condition", func(t *testing.T) {
		_, err := NewWorkflow("start", WithCatalog(cat)).
			Branch([]Edge{{To: "a"}}, WithNext("x")).
			Build()
		if err == nil {
			t.Error("Build() = nil error, want condition error")
		}
	})
}

func TestBuilder_UnknownCatalogNode(t *testing.T) {
	cat := testCatalog(t, "start")
	_, err := NewWorkflow("start", WithCatalog(cat)).
		Then("ghost").
		Build()
	if !errors.Is(err, catalog.ErrUnknownNode) {
		t.Errorf("Build() error = %v, want catalog.ErrUnknownNode", err)
	}
}

func TestBuilder_DuplicateUnconditionalTransition(t *testing.T) {
	cat := testCatalog(t, "start", "a", "b")
	b := NewWorkflow("start", WithCatalog(cat)).Then("a")
	b.cursor = []string{"start"}
	_, err := b.Then("b").Build()
	if err == nil {
		t.Error("Build() = nil error, want duplicate transition error")
	}
}

func TestCondition_Serializable(t *testing.T) {
	c := MustCond("count > 2")
	if !c.Serializable() {
		t.Error("parsed condition not serializable")
	}
	ok, err := c.Eval(core.Context{"count": 3})
	if err != nil || !ok {
		t.Errorf("Eval = %v, %v, want true, nil", ok, err)
	}

	fc := CondFunc(func(c core.Context) bool { return c.GetBool("flag") })
	if fc.Serializable() {
		t.Error("func condition reported serializable")
	}
	ok, err = fc.Eval(core.Context{"flag": true})
	if err != nil || !ok {
		t.Errorf("func Eval = %v, %v, want true, nil", ok, err)
	}
}
