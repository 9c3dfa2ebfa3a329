package graphfetch

// Prune projects v onto the tree: objects keep only the properties the tree
// selects, recursively. Lists are pruned element-wise and scalars are
// returned unchanged. A nil tree or a tree without properties keeps v as is.
func Prune(t *Tree, v any) any {
	if t == nil || len(t.Properties) == 0 {
		return v
	}
	return prune(t.Properties, v)
}

func prune(props []*PropertyTree, v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(props))
		for _, p := range props {
			val, ok := x[p.Property]
			if !ok {
				if val, ok = x[p.Key()]; !ok {
					continue
				}
			}
			if len(p.Properties) > 0 {
				val = prune(p.Properties, val)
			}
			out[p.Key()] = val
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = prune(props, item)
		}
		return out
	default:
		return v
	}
}
