// Package catalog provides the node catalog: a registry mapping node names
// to their callable, declared inputs, optional output slot, and kind. The
// builder resolves workflow node names against a catalog at build time.
package catalog

import (
	"errors"
	"fmt"
	"sync"

	"github.com/petal-labs/vineflow/core"
)

// Catalog errors
var (
	ErrDuplicateNode = errors.New("duplicate node name")
	ErrUnknownNode   = errors.New("unknown node")
	ErrInvalidNode   = errors.New("invalid node definition")
)

// Definition describes a registered node.
type Definition struct {
	// Name is the unique key for the node within a catalog.
	Name string

	// Kind selects how the engine invokes the node.
	Kind core.Kind

	// Fn backs func and validate nodes. Ignored for llm kinds.
	Fn core.NodeFunc

	// Inputs are the context keys the node consumes, in declared order.
	Inputs []string

	// Output is the context key the node's result is written to
	// ("" = no output slot).
	Output string

	// Prompt is a Go text/template rendered against the context for
	// llm and structured-llm nodes.
	Prompt string

	// System is the optional system prompt for llm kinds.
	System string

	// Model overrides the engine's default model for llm kinds.
	Model string

	// Schema constrains structured-llm output. Required for that kind.
	Schema map[string]any

	// Source is the verbatim function source text embedded into
	// generated programs. Optional; codegen fails without it for
	// func and validate nodes.
	Source string

	// Override replaces an existing registration instead of failing.
	Override bool
}

// validate checks internal consistency of a definition.
func (d Definition) validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidNode)
	}
	if !d.Kind.Valid() {
		return fmt.Errorf("%w: %s: unknown kind %q", ErrInvalidNode, d.Name, d.Kind)
	}
	switch d.Kind {
	case core.KindFunc, core.KindValidate:
		if d.Fn == nil {
			return fmt.Errorf("%w: %s: %s node requires a callable", ErrInvalidNode, d.Name, d.Kind)
		}
	case core.KindLLM:
		if d.Prompt == "" {
			return fmt.Errorf("%w: %s: llm node requires a prompt template", ErrInvalidNode, d.Name)
		}
	case core.KindStructuredLLM:
		if d.Prompt == "" {
			return fmt.Errorf("%w: %s: structured-llm node requires a prompt template", ErrInvalidNode, d.Name)
		}
		if len(d.Schema) == 0 {
			return fmt.Errorf("%w: %s: structured-llm node requires a schema", ErrInvalidNode, d.Name)
		}
	}
	return nil
}

// Catalog holds node definitions. It is safe for concurrent lookup;
// registration during an active run is undefined and should be avoided.
type Catalog struct {
	mu    sync.RWMutex
	nodes map[string]Definition
	order []string // preserves registration order
}

// New creates an empty catalog.
func New() *Catalog {
	return &Catalog{
		nodes: make(map[string]Definition),
	}
}

// Register adds a node definition. It fails with ErrDuplicateNode if the
// name is taken, unless the definition sets Override.
func (c *Catalog) Register(def Definition) error {
	if err := def.validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.nodes[def.Name]; exists {
		if !def.Override {
			return fmt.Errorf("%w: %s", ErrDuplicateNode, def.Name)
		}
	} else {
		c.order = append(c.order, def.Name)
	}
	c.nodes[def.Name] = def
	return nil
}

// MustRegister is like Register but panics on error.
// Useful in generated programs and tests.
func (c *Catalog) MustRegister(def Definition) {
	if err := c.Register(def); err != nil {
		panic(err)
	}
}

// Lookup returns the definition for name, or ErrUnknownNode.
func (c *Catalog) Lookup(name string) (Definition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.nodes[name]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", ErrUnknownNode, name)
	}
	return def, nil
}

// Has reports whether name is registered.
func (c *Catalog) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.nodes[name]
	return ok
}

// Names returns all registered node names in registration order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Len returns the number of registered nodes.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.nodes)
}

// Snapshot captures the current catalog contents for later Restore.
type Snapshot struct {
	nodes map[string]Definition
	order []string
}

// Snapshot returns a copy of the catalog state.
func (c *Catalog) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		nodes: make(map[string]Definition, len(c.nodes)),
		order: make([]string, len(c.order)),
	}
	for name, def := range c.nodes {
		snap.nodes[name] = def
	}
	copy(snap.order, c.order)
	return snap
}

// Restore replaces the catalog contents with a previously taken snapshot.
// Intended for test teardown.
func (c *Catalog) Restore(snap Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nodes = make(map[string]Definition, len(snap.nodes))
	for name, def := range snap.nodes {
		c.nodes[name] = def
	}
	c.order = make([]string, len(snap.order))
	copy(c.order, snap.order)
}

// Clear removes every registration.
func (c *Catalog) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodes = make(map[string]Definition)
	c.order = nil
}

var (
	defaultCatalog *Catalog
	defaultOnce    sync.Once
)

// Default returns the process-wide catalog instance. Prefer passing an
// explicit *Catalog; Default exists for small programs and generated code.
func Default() *Catalog {
	defaultOnce.Do(func() {
		defaultCatalog = New()
	})
	return defaultCatalog
}
