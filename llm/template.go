// Package llm holds the pieces the engine needs to run llm and
// structured-llm nodes: prompt template rendering, structured output
// parsing, and a completion client backed by the iris provider registry.
package llm

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/petal-labs/vineflow/core"
)

// RenderPrompt renders a node's prompt template against the execution
// context. Templates use text/template syntax with context keys as the
// data root, e.g. {{.customer_name}}.
func RenderPrompt(tmpl string, c core.Context) (string, error) {
	t, err := template.New("prompt").Option("missingkey=zero").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("parsing prompt template: %w", err)
	}
	var sb strings.Builder
	if err := t.Execute(&sb, map[string]any(c)); err != nil {
		return "", fmt.Errorf("rendering prompt template: %w", err)
	}
	// missingkey=zero prints "<no value>" for absent context keys; blank
	// those out so a skipped branch's keys do not leak into the prompt.
	return strings.ReplaceAll(sb.String(), "<no value>", ""), nil
}
