package jobspec

// mergeProperties deep-merges overrides onto a copy of base. Nested maps
// merge key by key; any other override value replaces the base value.
func mergeProperties(base, overrides map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(overrides))
	for k, v := range base {
		out[k] = copyValue(v)
	}
	for k, v := range overrides {
		if over, ok := v.(map[string]any); ok {
			if existing, ok := out[k].(map[string]any); ok {
				out[k] = mergeProperties(existing, over)
				continue
			}
		}
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return mergeProperties(t, nil)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = copyValue(item)
		}
		return out
	default:
		return v
	}
}
