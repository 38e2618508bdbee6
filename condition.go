package vineflow

import (
	"fmt"

	"github.com/petal-labs/vineflow/core"
	"github.com/petal-labs/vineflow/expr"
)

// Condition is a predicate over the execution context guarding a transition
// or a loop continuation. Conditions built from source text are evaluated
// through the sandboxed expression language and can be serialized by the
// code generator; conditions built from a raw Go function cannot.
type Condition struct {
	// Source is the original expression text ("" for func-backed conditions).
	Source string

	ast expr.Node
	fn  func(core.Context) bool
}

// Cond parses a condition from expression source text.
func Cond(source string) (Condition, error) {
	ast, err := expr.Parse(source)
	if err != nil {
		return Condition{}, fmt.Errorf("parsing condition %q: %w", source, err)
	}
	return Condition{Source: source, ast: ast}, nil
}

// MustCond is like Cond but panics on a syntax error.
// Useful in tests and generated programs.
func MustCond(source string) Condition {
	c, err := Cond(source)
	if err != nil {
		panic(err)
	}
	return c
}

// CondFunc wraps a Go predicate as a condition. The result has no source
// text and is rejected by the code generator.
func CondFunc(fn func(core.Context) bool) Condition {
	return Condition{fn: fn}
}

// Zero reports whether the condition is unset.
func (c Condition) Zero() bool {
	return c.ast == nil && c.fn == nil
}

// Serializable reports whether the condition carries source text the code
// generator can embed.
func (c Condition) Serializable() bool {
	return c.Source != "" && c.ast != nil
}

// Eval evaluates the condition against a context.
func (c Condition) Eval(vars core.Context) (bool, error) {
	if c.fn != nil {
		return c.fn(vars), nil
	}
	if c.ast == nil {
		return false, fmt.Errorf("evaluating empty condition")
	}
	return expr.EvalBool(c.ast, vars)
}
