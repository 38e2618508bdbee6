package expr

import (
	"fmt"
	"reflect"
	"strings"
)

// Eval evaluates a parsed expression against a variable map
// (typically the execution context).
func Eval(n Node, vars map[string]any) (any, error) {
	switch e := n.(type) {
	case *Literal:
		return e.Value, nil

	case *Ident:
		// Undefined context keys resolve to nil rather than erroring,
		// so conditions can probe keys an earlier branch never wrote.
		return vars[e.Name], nil

	case *Member:
		obj, err := Eval(e.Object, vars)
		if err != nil {
			return nil, err
		}
		return member(obj, e.Property), nil

	case *Index:
		obj, err := Eval(e.Object, vars)
		if err != nil {
			return nil, err
		}
		idx, err := Eval(e.Index, vars)
		if err != nil {
			return nil, err
		}
		return index(obj, idx)

	case *List:
		out := make([]any, len(e.Elements))
		for i, elem := range e.Elements {
			val, err := Eval(elem, vars)
			if err != nil {
				return nil, err
			}
			out[i] = val
		}
		return out, nil

	case *Not:
		val, err := Eval(e.Operand, vars)
		if err != nil {
			return nil, err
		}
		return !Truthy(val), nil

	case *Binary:
		return evalBinary(e, vars)

	default:
		return nil, fmt.Errorf("unknown expression type %T", n)
	}
}

// EvalBool evaluates an expression and coerces the result to a boolean.
func EvalBool(n Node, vars map[string]any) (bool, error) {
	val, err := Eval(n, vars)
	if err != nil {
		return false, err
	}
	return Truthy(val), nil
}

func evalBinary(e *Binary, vars map[string]any) (any, error) {
	// Short-circuit boolean operators.
	switch e.Op {
	case "&&":
		left, err := Eval(e.Left, vars)
		if err != nil {
			return nil, err
		}
		if !Truthy(left) {
			return false, nil
		}
		right, err := Eval(e.Right, vars)
		if err != nil {
			return nil, err
		}
		return Truthy(right), nil

	case "||":
		left, err := Eval(e.Left, vars)
		if err != nil {
			return nil, err
		}
		if Truthy(left) {
			return true, nil
		}
		right, err := Eval(e.Right, vars)
		if err != nil {
			return nil, err
		}
		return Truthy(right), nil
	}

	left, err := Eval(e.Left, vars)
	if err != nil {
		return nil, err
	}
	right, err := Eval(e.Right, vars)
	if err != nil {
		return nil, err
	}

	switch e.Op {
	case "==":
		return equal(left, right), nil
	case "!=":
		return !equal(left, right), nil
	case ">", ">=", "<", "<=":
		cmp, ok := compare(left, right)
		if !ok {
			return false, nil
		}
		switch e.Op {
		case ">":
			return cmp > 0, nil
		case ">=":
			return cmp >= 0, nil
		case "<":
			return cmp < 0, nil
		default:
			return cmp <= 0, nil
		}
	case "in":
		return contains(right, left), nil
	case "contains":
		if ls, ok := left.(string); ok {
			rs, rok := right.(string)
			return rok && strings.Contains(ls, rs), nil
		}
		return contains(left, right), nil
	default:
		return nil, fmt.Errorf("unknown binary operator %q", e.Op)
	}
}

// Truthy implements the boolean coercion rules of the condition language.
// Falsy: false, 0, "", null, empty array, empty map.
func Truthy(val any) bool {
	if val == nil {
		return false
	}
	switch v := val.(type) {
	case bool:
		return v
	case float64:
		return v != 0
	case int:
		return v != 0
	case string:
		return v != ""
	default:
		rv := reflect.ValueOf(val)
		switch rv.Kind() {
		case reflect.Slice, reflect.Array, reflect.Map:
			return rv.Len() > 0
		}
		return true
	}
}

// equal compares with numeric normalization, falling back to DeepEqual.
func equal(a, b any) bool {
	af, aOK := toFloat(a)
	bf, bOK := toFloat(b)
	if aOK && bOK {
		return af == bf
	}
	return reflect.DeepEqual(a, b)
}

// compare orders two values numerically, or lexically for string pairs.
// ok is false when the values are not comparable.
func compare(a, b any) (int, bool) {
	af, aOK := toFloat(a)
	bf, bOK := toFloat(b)
	if aOK && bOK {
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	as, aStr := a.(string)
	bs, bStr := b.(string)
	if aStr && bStr {
		return strings.Compare(as, bs), true
	}
	return 0, false
}

func toFloat(val any) (float64, bool) {
	switch v := val.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	}
	return 0, false
}

// member resolves property access on maps; nil objects yield nil.
func member(obj any, prop string) any {
	if obj == nil {
		return nil
	}

	if prop == "length" {
		if n, ok := length(obj); ok {
			return n
		}
	}

	if m, ok := obj.(map[string]any); ok {
		return m[prop]
	}
	rv := reflect.ValueOf(obj)
	if rv.Kind() == reflect.Map {
		val := rv.MapIndex(reflect.ValueOf(prop))
		if val.IsValid() {
			return val.Interface()
		}
	}
	return nil
}

func length(obj any) (float64, bool) {
	rv := reflect.ValueOf(obj)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.String:
		return float64(rv.Len()), true
	}
	return 0, false
}

// index resolves bracketed access: numeric for arrays, string for maps.
// Out-of-range access yields nil, not an error.
func index(obj, idx any) (any, error) {
	if obj == nil {
		return nil, nil
	}

	if key, ok := idx.(string); ok {
		return member(obj, key), nil
	}

	f, ok := toFloat(idx)
	if !ok {
		return nil, fmt.Errorf("invalid index type %T", idx)
	}
	i := int(f)

	rv := reflect.ValueOf(obj)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		if i < 0 || i >= rv.Len() {
			return nil, nil
		}
		return rv.Index(i).Interface(), nil
	}
	return nil, nil
}

// contains reports whether collection holds an element equal to elem.
func contains(collection, elem any) bool {
	if collection == nil {
		return false
	}
	rv := reflect.ValueOf(collection)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return false
	}
	for i := 0; i < rv.Len(); i++ {
		if equal(elem, rv.Index(i).Interface()) {
			return true
		}
	}
	return false
}
