package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ParseStructured parses model output into the object a structured-llm
// node's schema describes. Code fences are stripped, malformed JSON is
// repaired and retried, and the schema's required keys are enforced.
func ParseStructured(text string, schema map[string]any) (map[string]any, error) {
	raw := stripFences(text)

	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(raw)
		if repairErr != nil {
			return nil, fmt.Errorf("output is not valid JSON: %w (repair failed: %v)", err, repairErr)
		}
		if err := json.Unmarshal([]byte(repaired), &out); err != nil {
			return nil, fmt.Errorf("output is not valid JSON after repair: %w", err)
		}
	}

	if missing := missingRequired(out, schema); len(missing) > 0 {
		return nil, fmt.Errorf("output is missing required keys: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// stripFences removes a surrounding markdown code fence, with or without a
// language tag.
func stripFences(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// missingRequired returns the schema's required keys absent from obj.
func missingRequired(obj, schema map[string]any) []string {
	req, ok := schema["required"].([]any)
	if !ok {
		return nil
	}
	var missing []string
	for _, k := range req {
		key, ok := k.(string)
		if !ok {
			continue
		}
		if _, present := obj[key]; !present {
			missing = append(missing, key)
		}
	}
	return missing
}
