// Package schema defines the declarative workflow document format and its
// YAML and JSON loaders. A document names its nodes, transitions, and loop
// regions; ToGraph turns it into an executable graph against a node
// catalog.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Document is the root of a workflow file.
type Document struct {
	Workflow Workflow `yaml:"workflow" json:"workflow"`

	// Functions carries the portable source of func and validate nodes,
	// keyed by node name. The source is embedded by the code generator;
	// the runnable Go callable still comes from the catalog.
	Functions map[string]Function `yaml:"functions,omitempty" json:"functions,omitempty"`
}

// Workflow describes the graph itself.
type Workflow struct {
	Name        string                `yaml:"name" json:"name"`
	Start       string                `yaml:"start" json:"start"`
	Nodes       map[string]Node       `yaml:"nodes,omitempty" json:"nodes,omitempty"`
	Transitions map[string]Transition `yaml:"transitions,omitempty" json:"transitions,omitempty"`
	Loops       []Loop                `yaml:"loops,omitempty" json:"loops,omitempty"`
}

// Node declares a workflow node. Nodes absent from the map but referenced
// by transitions are resolved entirely from the catalog.
type Node struct {
	Kind   string         `yaml:"kind" json:"kind"`
	Inputs []string       `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	Output string         `yaml:"output,omitempty" json:"output,omitempty"`
	Prompt string         `yaml:"prompt,omitempty" json:"prompt,omitempty"`
	System string         `yaml:"system,omitempty" json:"system,omitempty"`
	Model  string         `yaml:"model,omitempty" json:"model,omitempty"`
	Schema map[string]any `yaml:"schema,omitempty" json:"schema,omitempty"`
}

// Transition is the outgoing edge set of one node. In documents it takes
// three shapes: a bare string (single unconditional target), a list of
// targets, or a mapping with to, default, and parallel keys.
type Transition struct {
	To       []Target `yaml:"to" json:"to"`
	Default  string   `yaml:"default,omitempty" json:"default,omitempty"`
	Parallel bool     `yaml:"parallel,omitempty" json:"parallel,omitempty"`
}

// Target is one transition destination, optionally guarded. In documents a
// plain string is shorthand for an unconditional target.
type Target struct {
	ToNode    string `yaml:"to_node" json:"to_node"`
	Condition string `yaml:"condition,omitempty" json:"condition,omitempty"`
}

// Loop declares a loop region.
type Loop struct {
	ID        string   `yaml:"loop_id,omitempty" json:"loop_id,omitempty"`
	Nodes     []string `yaml:"nodes" json:"nodes"`
	Condition string   `yaml:"condition" json:"condition"`
	Exit      string   `yaml:"exit" json:"exit"`

	// Nested regions; their nodes must also appear in this loop's list.
	Nested []Loop `yaml:"nested_loops,omitempty" json:"nested_loops,omitempty"`
}

// Function is the portable source record of a func or validate node.
type Function struct {
	Source string `yaml:"source" json:"source"`
	Async  bool   `yaml:"is_async,omitempty" json:"is_async,omitempty"`
}

// UnmarshalYAML accepts the three transition shapes.
func (t *Transition) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		t.To = []Target{{ToNode: s}}
		return nil

	case yaml.SequenceNode:
		return value.Decode(&t.To)

	case yaml.MappingNode:
		var raw struct {
			To       yaml.Node `yaml:"to"`
			Default  string    `yaml:"default"`
			Parallel bool      `yaml:"parallel"`
		}
		if err := value.Decode(&raw); err != nil {
			return err
		}
		t.Default = raw.Default
		t.Parallel = raw.Parallel
		switch raw.To.Kind {
		case 0: // absent: default-only transition
		case yaml.ScalarNode:
			var s string
			if err := raw.To.Decode(&s); err != nil {
				return err
			}
			t.To = []Target{{ToNode: s}}
		case yaml.SequenceNode:
			if err := raw.To.Decode(&t.To); err != nil {
				return err
			}
		default:
			return fmt.Errorf("transition to: unsupported YAML shape")
		}
		return nil
	}
	return fmt.Errorf("transition: unsupported YAML shape")
}

// UnmarshalYAML accepts a bare string as an unconditional target.
func (tg *Target) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		tg.ToNode = s
		return nil
	}
	type plain Target
	return value.Decode((*plain)(tg))
}

// UnmarshalJSON accepts the three transition shapes.
func (t *Transition) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return fmt.Errorf("transition: empty value")
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		t.To = []Target{{ToNode: s}}
		return nil

	case '[':
		return json.Unmarshal(trimmed, &t.To)

	case '{':
		var raw struct {
			To       json.RawMessage `json:"to"`
			Default  string          `json:"default"`
			Parallel bool            `json:"parallel"`
		}
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return err
		}
		t.Default = raw.Default
		t.Parallel = raw.Parallel
		to := bytes.TrimSpace(raw.To)
		switch {
		case len(to) == 0 || bytes.Equal(to, []byte("null")):
		case to[0] == '"':
			var s string
			if err := json.Unmarshal(to, &s); err != nil {
				return err
			}
			t.To = []Target{{ToNode: s}}
		case to[0] == '[':
			if err := json.Unmarshal(to, &t.To); err != nil {
				return err
			}
		default:
			return fmt.Errorf("transition to: unsupported JSON shape")
		}
		return nil
	}
	return fmt.Errorf("transition: unsupported JSON shape")
}

// UnmarshalJSON accepts a bare string as an unconditional target.
func (tg *Target) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		tg.ToNode = s
		return nil
	}
	type plain Target
	return json.Unmarshal(trimmed, (*plain)(tg))
}
