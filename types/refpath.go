package types

import "strings"

// Walk calls fn for every string found at path inside attrs.
//
// A path is a dot separated list of keys. A key ending in "[]" iterates
// over a list; "auto_key.ike_gateway[].name" visits the name of every
// gateway entry. Missing keys and non-string leaves are ignored.
func Walk(attrs map[string]any, path string, fn func(string)) {
	walk(attrs, strings.Split(path, "."), false, func(v string) string {
		fn(v)
		return v
	})
}

// Rewrite replaces every string at path with the result of fn.
// It mutates attrs; callers rewrite copies, never captured records.
func Rewrite(attrs map[string]any, path string, fn func(string) string) {
	walk(attrs, strings.Split(path, "."), true, fn)
}

func walk(node map[string]any, segs []string, write bool, fn func(string) string) {
	if node == nil || len(segs) == 0 {
		return
	}
	key, isList := strings.CutSuffix(segs[0], "[]")
	val, ok := node[key]
	if !ok {
		return
	}
	rest := segs[1:]

	if !isList {
		if len(rest) == 0 {
			if s, ok := val.(string); ok {
				if v := fn(s); write {
					node[key] = v
				}
			}
			return
		}
		if child, ok := val.(map[string]any); ok {
			walk(child, rest, write, fn)
		}
		return
	}

	switch items := val.(type) {
	case []any:
		for i, item := range items {
			if len(rest) == 0 {
				if s, ok := item.(string); ok {
					if v := fn(s); write {
						items[i] = v
					}
				}
				continue
			}
			if child, ok := item.(map[string]any); ok {
				walk(child, rest, write, fn)
			}
		}
	case []string:
		if len(rest) == 0 {
			for i, s := range items {
				if v := fn(s); write {
					items[i] = v
				}
			}
		}
	}
}

// CloneAttributes deep copies a decoded JSON object.
func CloneAttributes(attrs map[string]any) map[string]any {
	if attrs == nil {
		return nil
	}
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneAttributes(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	default:
		return v
	}
}
