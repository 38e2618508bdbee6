// Package validate performs static analysis of workflow graphs before
// execution: structural checks, loop region validation, cycle detection,
// and sub-workflow node extraction. Checks collect issues instead of
// stopping at the first problem so a caller can report everything at once.
package validate

import "fmt"

// Severity classifies an issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is a single finding. Code is a stable machine-readable identifier
// (WF-* structure, LP-* loops, CY-* cycles); Path locates the finding
// within the graph.
type Issue struct {
	Code     string   `json:"code"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Path     string   `json:"path,omitempty"`
}

func (i Issue) String() string {
	if i.Path != "" {
		return fmt.Sprintf("%s [%s] %s: %s", i.Severity, i.Code, i.Path, i.Message)
	}
	return fmt.Sprintf("%s [%s] %s", i.Severity, i.Code, i.Message)
}

func errorf(code, path, format string, args ...any) Issue {
	return Issue{Code: code, Severity: SeverityError, Path: path, Message: fmt.Sprintf(format, args...)}
}

func warnf(code, path, format string, args ...any) Issue {
	return Issue{Code: code, Severity: SeverityWarning, Path: path, Message: fmt.Sprintf(format, args...)}
}

// HasErrors reports whether any issue has error severity.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Errors returns only the error-severity issues.
func Errors(issues []Issue) []Issue {
	return filter(issues, SeverityError)
}

// Warnings returns only the warning-severity issues.
func Warnings(issues []Issue) []Issue {
	return filter(issues, SeverityWarning)
}

func filter(issues []Issue, sev Severity) []Issue {
	var out []Issue
	for _, i := range issues {
		if i.Severity == sev {
			out = append(out, i)
		}
	}
	return out
}
