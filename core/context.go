package core

import (
	"strings"
)

// Context is the single shared mutable key-value store read and written by
// all nodes during one run. It is passed by reference: no node may assume
// exclusive ownership of any key. For parallel branches the engine clones
// the context before dispatch and merges declared outputs after the join.
type Context map[string]any

// NewContext creates an empty execution context.
func NewContext() Context {
	return make(Context)
}

// Get retrieves a value by key.
func (c Context) Get(key string) (any, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c[key]
	return v, ok
}

// GetString retrieves a value as a string.
// Returns empty string if absent or not a string.
func (c Context) GetString(key string) string {
	v, ok := c.Get(key)
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

// GetBool retrieves a value as a bool. Returns false if absent or not a bool.
func (c Context) GetBool(key string) bool {
	v, ok := c.Get(key)
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// GetNested retrieves a nested value using dot notation (e.g. "report.score").
func (c Context) GetNested(path string) (any, bool) {
	if c == nil {
		return nil, false
	}

	parts := strings.Split(path, ".")
	var current any = map[string]any(c)

	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			if cc, isCtx := current.(Context); isCtx {
				m = map[string]any(cc)
			} else {
				return nil, false
			}
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

// Set stores a value under key.
func (c Context) Set(key string, value any) {
	c[key] = value
}

// Has reports whether key is present.
func (c Context) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Clone returns a shallow copy suitable for parallel branch dispatch.
// Values are shared; only the top-level map is copied.
func (c Context) Clone() Context {
	if c == nil {
		return nil
	}
	out := make(Context, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Merge copies every key from other into c, overwriting existing keys.
func (c Context) Merge(other Context) {
	for k, v := range other {
		c[k] = v
	}
}

// Keys returns the context keys in unspecified order.
func (c Context) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
