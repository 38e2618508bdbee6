package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/petal-labs/vineflow/core"
	"github.com/petal-labs/vineflow/expr"
)

// Format identifies a document encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// Detect sniffs the encoding of a workflow document. JSON documents start
// with an object or array delimiter; everything else is treated as YAML.
func Detect(data []byte) Format {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		return FormatJSON
	}
	return FormatYAML
}

// Parse decodes a workflow document, detecting the encoding, and checks it
// for well-formedness.
func Parse(data []byte) (*Document, error) {
	var doc Document
	switch Detect(data) {
	case FormatJSON:
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing JSON document: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing YAML document: %w", err)
		}
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Load reads and parses a workflow document from disk.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Validate checks document-level well-formedness: required fields, node
// kinds, and condition syntax. Graph-level analysis happens after ToGraph
// through the validate package.
func (d *Document) Validate() error {
	var errs []error
	w := d.Workflow

	if w.Start == "" {
		errs = append(errs, errors.New("workflow.start is required"))
	}

	for name, n := range w.Nodes {
		if n.Kind != "" && !core.ParseKind(n.Kind).Valid() {
			errs = append(errs, fmt.Errorf("node %q: unknown kind %q", name, n.Kind))
		}
		switch core.ParseKind(n.Kind) {
		case core.KindLLM:
			if n.Prompt == "" {
				errs = append(errs, fmt.Errorf("node %q: llm node requires a prompt", name))
			}
		case core.KindStructuredLLM:
			if n.Prompt == "" {
				errs = append(errs, fmt.Errorf("node %q: structured-llm node requires a prompt", name))
			}
			if len(n.Schema) == 0 {
				errs = append(errs, fmt.Errorf("node %q: structured-llm node requires a schema", name))
			}
		}
	}

	for from, tr := range w.Transitions {
		if len(tr.To) == 0 && tr.Default == "" {
			errs = append(errs, fmt.Errorf("transition from %q: no targets and no default", from))
		}
		for _, target := range tr.To {
			if target.ToNode == "" {
				errs = append(errs, fmt.Errorf("transition from %q: target with empty to_node", from))
				continue
			}
			if target.Condition != "" {
				if err := expr.Validate(target.Condition); err != nil {
					errs = append(errs, fmt.Errorf("transition %s -> %s: %w", from, target.ToNode, err))
				}
			}
			if tr.Parallel && target.Condition != "" {
				errs = append(errs, fmt.Errorf("transition from %q: parallel targets cannot be conditional", from))
			}
		}
	}

	var checkLoops func(loops []Loop)
	checkLoops = func(loops []Loop) {
		for _, l := range loops {
			if len(l.Nodes) == 0 {
				errs = append(errs, fmt.Errorf("loop %q: no nodes", l.ID))
			}
			if l.Exit == "" {
				errs = append(errs, fmt.Errorf("loop %q: exit is required", l.ID))
			}
			if l.Condition == "" {
				errs = append(errs, fmt.Errorf("loop %q: condition is required", l.ID))
			} else if err := expr.Validate(l.Condition); err != nil {
				errs = append(errs, fmt.Errorf("loop %q: %w", l.ID, err))
			}
			checkLoops(l.Nested)
		}
	}
	checkLoops(w.Loops)

	return errors.Join(errs...)
}
