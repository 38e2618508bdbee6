package expr

import (
	"testing"
)

func mustEval(t *testing.T, src string, vars map[string]any) any {
	t.Helper()
	n, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse(%q) error = %v", src, err)
	}
	val, err := Eval(n, vars)
	if err != nil {
		t.Fatalf("Eval(%q) error = %v", src, err)
	}
	return val
}

func TestEval_Comparisons(t *testing.T) {
	vars := map[string]any{
		"count":  float64(3),
		"name":   "widget",
		"active": true,
	}

	tests := []struct {
		src  string
		want any
	}{
		{"count == 3", true},
		{"count != 3", false},
		{"count > 2", true},
		{"count >= 3", true},
		{"count < 2", false},
		{"count <= 3", true},
		{`name == "widget"`, true},
		{`name != "gadget"`, true},
		{"active", true},
		{"!active", false},
		{"count > 1 && active", true},
		{"count > 5 || active", true},
		{"count > 5 && active", false},
		{"missing == null", true},
		{"missing", nil},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got := mustEval(t, tt.src, vars)
			if got != tt.want {
				t.Errorf("Eval(%q) = %v, want %v", tt.src, got, tt.want)
			}
		})
	}
}

func TestEval_MemberAndIndex(t *testing.T) {
	vars := map[string]any{
		"report": map[string]any{
			"score": float64(0.9),
			"tags":  []any{"alpha", "beta"},
		},
	}

	tests := []struct {
		src  string
		want any
	}{
		{"report.score > 0.5", true},
		{`report.tags[0] == "alpha"`, true},
		{"report.tags.length == 2", true},
		{"report.missing == null", true},
		{"report.tags[9] == null", true},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got := mustEval(t, tt.src, vars)
			if got != tt.want {
				t.Errorf("Eval(%q) = %v, want %v", tt.src, got, tt.want)
			}
		})
	}
}

func TestEval_Membership(t *testing.T) {
	vars := map[string]any{
		"status": "approved",
		"labels": []any{"urgent", "billing"},
		"note":   "please retry later",
	}

	tests := []struct {
		src  string
		want any
	}{
		{`status in ["approved", "done"]`, true},
		{`status in ["rejected"]`, false},
		{`labels contains "urgent"`, true},
		{`labels contains "minor"`, false},
		{`note contains "retry"`, true},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got := mustEval(t, tt.src, vars)
			if got != tt.want {
				t.Errorf("Eval(%q) = %v, want %v", tt.src, got, tt.want)
			}
		})
	}
}

func TestEval_ShortCircuit(t *testing.T) {
	// The right side indexes a missing array; && must not evaluate it.
	vars := map[string]any{"flag": false}
	got := mustEval(t, "flag && missing[0] == 1", vars)
	if got != false {
		t.Errorf("short-circuit && = %v, want false", got)
	}
}

func TestEvalBool(t *testing.T) {
	n, err := Parse(`count`)
	if err != nil {
		t.Fatal(err)
	}
	ok, err := EvalBool(n, map[string]any{"count": 2})
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("EvalBool(count=2) = false, want true")
	}
}

func TestParse_Errors(t *testing.T) {
	bad := []string{
		"",
		"count >",
		"(count == 1",
		`"unterminated`,
		"a ?? b",
		"a + b",
		"count == 1 extra",
	}
	for _, src := range bad {
		if err := Validate(src); err == nil {
			t.Errorf("Validate(%q) = nil, want error", src)
		}
	}
}

func TestTruthy(t *testing.T) {
	tests := []struct {
		val  any
		want bool
	}{
		{nil, false},
		{false, false},
		{true, true},
		{float64(0), false},
		{float64(1), true},
		{"", false},
		{"x", true},
		{[]any{}, false},
		{[]any{1}, true},
		{map[string]any{}, false},
		{map[string]any{"k": 1}, true},
	}
	for _, tt := range tests {
		if got := Truthy(tt.val); got != tt.want {
			t.Errorf("Truthy(%v) = %v, want %v", tt.val, got, tt.want)
		}
	}
}

func TestString_RoundTrip(t *testing.T) {
	// String() output must re-parse to an equivalent expression; the code
	// generator relies on serialized condition source staying parseable.
	sources := []string{
		"count > 2 && active",
		`status in ["a", "b"]`,
		"report.score >= 0.5",
		"!(done || failed)",
	}
	for _, src := range sources {
		n, err := Parse(src)
		if err != nil {
			t.Fatalf("Parse(%q) error = %v", src, err)
		}
		if err := Validate(n.String()); err != nil {
			t.Errorf("re-parse of %q (%q) error = %v", src, n.String(), err)
		}
	}
}
