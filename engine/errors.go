package engine

import (
	"errors"
	"fmt"
)

// Engine errors
var (
	// ErrNoClient is returned when a graph contains llm nodes but the
	// engine was built without a completion client.
	ErrNoClient = errors.New("no completion client configured")
)

// NodeError wraps a failure inside a node, keeping the node name for
// reporting and for the node_failed event.
type NodeError struct {
	Node string
	Err  error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %q: %v", e.Node, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

// NoMatchingTransitionError is returned when a node's conditional
// transitions all evaluate false and no default exists.
type NoMatchingTransitionError struct {
	Node string
}

func (e *NoMatchingTransitionError) Error() string {
	return fmt.Sprintf("node %q: no transition condition matched and no default is declared", e.Node)
}

// HopLimitError is returned when a run exceeds the engine's hop budget,
// which usually means a loop condition never turns false.
type HopLimitError struct {
	Limit int
}

func (e *HopLimitError) Error() string {
	return fmt.Sprintf("run exceeded %d node executions; check loop continuation conditions", e.Limit)
}
