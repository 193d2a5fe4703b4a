package store

// Merge returns a new map holding dst overlaid with src. Nested maps are
// merged recursively; every other value in src replaces the one in dst, so
// the later key wins. Neither argument is modified and the result shares no
// mutable state with them.
func Merge(dst, src map[string]any) map[string]any {
	out := make(map[string]any, len(dst)+len(src))
	for k, v := range dst {
		out[k] = cloneValue(v)
	}
	for k, v := range src {
		srcMap, srcIsMap := asMap(v)
		dstMap, dstIsMap := asMap(out[k])
		if srcIsMap && dstIsMap {
			out[k] = Merge(dstMap, srcMap)
			continue
		}
		out[k] = cloneValue(v)
	}
	return out
}

// Clone returns a deep copy of m. Maps and slices are copied; other values
// are treated as immutable.
func Clone(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case Group:
		return t, true
	case Patch:
		return t, true
	}
	return nil, false
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return Clone(t)
	case Group:
		return Group(Clone(t))
	case Patch:
		return Clone(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
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
