package vineflow

import (
	"errors"
	"fmt"

	"github.com/petal-labs/vineflow/catalog"
)

// Option configures a Builder.
type Option func(*Builder)

// WithName sets the workflow name.
func WithName(name string) Option {
	return func(b *Builder) { b.name = name }
}

// WithCatalog resolves node names against cat instead of the default catalog.
func WithCatalog(cat *catalog.Catalog) Option {
	return func(b *Builder) { b.cat = cat }
}

// BranchOption configures a Branch call.
type BranchOption func(*branchSpec)

type branchSpec struct {
	def  string
	next string
}

// WithDefault adds an unconditional fallback target taken when no branch
// condition matches.
func WithDefault(node string) BranchOption {
	return func(s *branchSpec) { s.def = node }
}

// WithNext converges the branch automatically: every branch target gets an
// unconditional transition to node and the cursor moves there.
func WithNext(node string) BranchOption {
	return func(s *branchSpec) { s.next = node }
}

// When builds a conditionally guarded branch target.
func When(cond Condition, to string) Edge {
	return Edge{To: to, Cond: &cond}
}

// Builder assembles a Graph through chained calls. Errors are accumulated
// and surfaced by Build, so call sites stay linear:
//
//	g, err := vineflow.NewWorkflow("fetch").
//		Then("clean").
//		Branch([]vineflow.Edge{
//			vineflow.When(vineflow.MustCond("score > 0.5"), "publish"),
//		}, vineflow.WithDefault("review"), vineflow.WithNext("archive")).
//		Build()
//
// The builder moves through three states: open (linear chaining), branching
// (a Branch without WithNext is awaiting Converge), and looping (between
// StartLoop and EndLoop). Calls invalid in the current state record an error.
type Builder struct {
	name string
	cat  *catalog.Catalog
	errs []error

	start  string
	order  []string
	known  map[string]bool
	routes map[string]*Route

	cursor []string

	branching    bool
	branchSource string
	branchNodes  []string
	branches     []BranchRecord

	loops     []*LoopRegion
	loopStack []*LoopRegion
	loopSeq   int
}

// NewWorkflow starts a builder with the given start node.
func NewWorkflow(start string, opts ...Option) *Builder {
	b := &Builder{
		name:   "workflow",
		cat:    catalog.Default(),
		known:  make(map[string]bool),
		routes: make(map[string]*Route),
	}
	for _, opt := range opts {
		opt(b)
	}
	if start == "" {
		b.errf("start node name is empty")
		return b
	}
	b.start = start
	b.addNode(start)
	b.cursor = []string{start}
	return b
}

func (b *Builder) errf(format string, args ...any) {
	b.errs = append(b.errs, fmt.Errorf(format, args...))
}

func (b *Builder) addNode(name string) {
	if name == "" || b.known[name] {
		return
	}
	b.known[name] = true
	b.order = append(b.order, name)
}

func (b *Builder) route(from string) *Route {
	r, ok := b.routes[from]
	if !ok {
		r = &Route{From: from}
		b.routes[from] = r
	}
	return r
}

// addStraight appends an unconditional edge, rejecting ambiguous sources.
func (b *Builder) addStraight(from, to string) {
	r := b.route(from)
	if r.Parallel {
		b.errf("node %q already fans out in parallel", from)
		return
	}
	if r.Default != "" {
		b.errf("node %q already has a default transition", from)
		return
	}
	for _, e := range r.Edges {
		if e.Cond == nil {
			b.errf("node %q already has an unconditional transition to %q", from, e.To)
			return
		}
	}
	r.Edges = append(r.Edges, Edge{To: to})
}

// Then adds the next sequential node, linking it from the current cursor.
// After Parallel, Then is the join point: every parallel member transitions
// to it.
func (b *Builder) Then(name string) *Builder {
	if b.branching {
		b.errf("%w: Then(%q) inside an unconverged branch", ErrBuilderState, name)
		return b
	}
	if len(b.loopStack) > 0 {
		b.errf("%w: Then(%q) inside a loop, use Node", ErrBuilderState, name)
		return b
	}
	if name == "" {
		b.errf("Then: empty node name")
		return b
	}
	b.addNode(name)
	for _, c := range b.cursor {
		b.addStraight(c, name)
	}
	b.cursor = []string{name}
	return b
}

// Parallel fans the current node out to several concurrent successors. The
// following Then call is the join: all members must reach it.
func (b *Builder) Parallel(targets ...string) *Builder {
	if b.branching || len(b.loopStack) > 0 {
		b.errf("%w: Parallel inside a branch or loop", ErrBuilderState)
		return b
	}
	if len(targets) < 2 {
		b.errf("Parallel: need at least two targets, got %d", len(targets))
		return b
	}
	if len(b.cursor) != 1 {
		b.errf("%w: Parallel requires a single cursor node", ErrBuilderState)
		return b
	}
	source := b.cursor[0]
	r := b.route(source)
	if len(r.Edges) > 0 || r.Default != "" {
		b.errf("node %q already has outgoing transitions", source)
		return b
	}
	r.Parallel = true
	for _, t := range targets {
		if t == "" {
			b.errf("Parallel: empty target name")
			continue
		}
		b.addNode(t)
		r.Edges = append(r.Edges, Edge{To: t})
	}
	b.cursor = append([]string(nil), targets...)
	return b
}

// Branch adds conditional transitions from the current node. Targets are
// evaluated in declared order; WithDefault names the fallback when nothing
// matches. With WithNext the branch converges automatically; without it the
// builder enters the branching state and Converge must close it.
func (b *Builder) Branch(targets []Edge, opts ...BranchOption) *Builder {
	if b.branching || len(b.loopStack) > 0 {
		b.errf("%w: Branch inside a branch or loop", ErrBuilderState)
		return b
	}
	if len(targets) == 0 {
		b.errf("Branch: no targets")
		return b
	}
	if len(b.cursor) != 1 {
		b.errf("%w: Branch requires a single cursor node", ErrBuilderState)
		return b
	}
	var spec branchSpec
	for _, opt := range opts {
		opt(&spec)
	}

	source := b.cursor[0]
	r := b.route(source)
	if len(r.Edges) > 0 || r.Default != "" || r.Parallel {
		b.errf("node %q already has outgoing transitions", source)
		return b
	}

	seen := make(map[string]bool)
	var members []string
	for _, e := range targets {
		if e.To == "" {
			b.errf("Branch: empty target name")
			return b
		}
		if e.Cond == nil || e.Cond.Zero() {
			b.errf("Branch: target %q has no condition, use WithDefault for the fallback", e.To)
			return b
		}
		b.addNode(e.To)
		r.Edges = append(r.Edges, e)
		if !seen[e.To] {
			seen[e.To] = true
			members = append(members, e.To)
		}
	}
	if spec.def != "" {
		b.addNode(spec.def)
		r.Default = spec.def
		if !seen[spec.def] {
			seen[spec.def] = true
			members = append(members, spec.def)
		}
	}

	rec := BranchRecord{
		Source:  source,
		Targets: append([]Edge(nil), targets...),
		Default: spec.def,
	}

	if spec.next != "" {
		// Automatic convergence.
		b.addNode(spec.next)
		for _, m := range members {
			b.addStraight(m, spec.next)
		}
		rec.Next = spec.next
		b.branches = append(b.branches, rec)
		b.cursor = []string{spec.next}
		return b
	}

	b.branches = append(b.branches, rec)
	b.branching = true
	b.branchSource = source
	b.branchNodes = members
	// Until Converge, chaining continues from the fallback target.
	if spec.def != "" {
		b.cursor = []string{spec.def}
	} else {
		b.cursor = members[:1]
	}
	return b
}

// Converge closes a manual branch: every branch target that has no outgoing
// transition yet gets an unconditional one to target, and the cursor moves
// there.
func (b *Builder) Converge(target string) *Builder {
	if !b.branching {
		b.errf("%w: Converge(%q) without an open branch", ErrBuilderState, target)
		return b
	}
	if target == "" {
		b.errf("Converge: empty target name")
		return b
	}
	b.addNode(target)
	for _, m := range b.branchNodes {
		if _, ok := b.routes[m]; ok {
			continue
		}
		b.addStraight(m, target)
	}
	if n := len(b.branches); n > 0 {
		b.branches[n-1].Next = target
		b.branches[n-1].Manual = true
	}
	b.branching = false
	b.branchSource = ""
	b.branchNodes = nil
	b.cursor = []string{target}
	return b
}

// StartLoop opens a loop region. Nodes added with Node until the matching
// EndLoop become its members. Regions nest; an optional id overrides the
// generated one.
func (b *Builder) StartLoop(id ...string) *Builder {
	if b.branching {
		b.errf("%w: StartLoop inside an unconverged branch", ErrBuilderState)
		return b
	}
	b.loopSeq++
	region := &LoopRegion{ID: fmt.Sprintf("loop_%d", b.loopSeq)}
	if len(id) > 0 && id[0] != "" {
		region.ID = id[0]
	}
	b.loopStack = append(b.loopStack, region)
	return b
}

// Node adds the next member of the open loop region, linking it from the
// cursor like Then does.
func (b *Builder) Node(name string) *Builder {
	if len(b.loopStack) == 0 {
		b.errf("%w: Node(%q) outside a loop, use Then", ErrBuilderState, name)
		return b
	}
	if name == "" {
		b.errf("Node: empty node name")
		return b
	}
	b.addNode(name)
	for _, c := range b.cursor {
		b.addStraight(c, name)
	}
	for _, region := range b.loopStack {
		region.Members = append(region.Members, name)
	}
	b.cursor = []string{name}
	return b
}

// EndLoop closes the innermost open region. cont is evaluated after the
// region's last member: true repeats from the first member, false moves to
// next. When the closed region is nested, next also becomes a member of the
// enclosing region.
func (b *Builder) EndLoop(cont Condition, next string) *Builder {
	if len(b.loopStack) == 0 {
		b.errf("%w: EndLoop without StartLoop", ErrBuilderState)
		return b
	}
	region := b.loopStack[len(b.loopStack)-1]
	b.loopStack = b.loopStack[:len(b.loopStack)-1]

	if cont.Zero() {
		b.errf("loop %s: missing continuation condition", region.ID)
	}
	if next == "" {
		b.errf("loop %s: missing exit node", region.ID)
		return b
	}
	if len(region.Members) == 0 {
		b.errs = append(b.errs, fmt.Errorf("%w: %s", ErrEmptyLoop, region.ID))
	}
	region.Continue = cont
	region.Exit = next

	b.addNode(next)
	if len(b.loopStack) > 0 {
		parent := b.loopStack[len(b.loopStack)-1]
		parent.Nested = append(parent.Nested, region)
		for _, r := range b.loopStack {
			r.Members = append(r.Members, next)
		}
	} else {
		b.loops = append(b.loops, region)
	}
	b.cursor = []string{next}
	return b
}

// CurrentNode returns the node the builder would chain from next. After a
// manual Branch it is the default target when one exists, else the first
// branch target.
func (b *Builder) CurrentNode() string {
	if len(b.cursor) == 0 {
		return ""
	}
	return b.cursor[0]
}

// IsBranching reports whether a Branch is awaiting Converge.
func (b *Builder) IsBranching() bool {
	return b.branching
}

// BranchNodes returns the targets of the unconverged branch, or nil.
func (b *Builder) BranchNodes() []string {
	return append([]string(nil), b.branchNodes...)
}

// Err returns the errors accumulated so far.
func (b *Builder) Err() error {
	return errors.Join(b.errs...)
}

// Build resolves every node against the catalog, freezes the graph, and
// returns it together with any accumulated builder errors.
func (b *Builder) Build() (*Graph, error) {
	if b.branching {
		b.errf("%w: branch from %q never converged", ErrBuilderState, b.branchSource)
	}
	if len(b.loopStack) > 0 {
		b.errf("%w: %d unclosed loop region(s)", ErrBuilderState, len(b.loopStack))
	}

	nodes := make(map[string]catalog.Definition, len(b.order))
	for _, name := range b.order {
		def, err := b.cat.Lookup(name)
		if err != nil {
			b.errs = append(b.errs, err)
			continue
		}
		nodes[name] = def
	}

	if err := errors.Join(b.errs...); err != nil {
		return nil, err
	}

	g := &Graph{
		name:     b.name,
		start:    b.start,
		nodes:    nodes,
		order:    append([]string(nil), b.order...),
		routes:   make(map[string]*Route, len(b.routes)),
		loops:    b.loops,
		branches: b.branches,
	}
	for from, r := range b.routes {
		cp := *r
		cp.Edges = append([]Edge(nil), r.Edges...)
		g.routes[from] = &cp
	}
	if err := g.validate(); err != nil {
		return nil, err
	}
	return g, nil
}
