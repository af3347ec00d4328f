package pipeline

// assembleProfile merges per-chunk partial profiles into one final
// profile: for scalar fields, the non-empty value from the earliest
// chunk wins; for list fields, values union with duplicates removed.
// partials must already be in chunk-index order so "earliest" is
// well-defined.
func assembleProfile(partials []map[string]any) map[string]any {
	final := make(map[string]any)
	listSeen := make(map[string]map[string]struct{})

	for _, partial := range partials {
		for key, value := range partial {
			if list, ok := toStringList(value); ok {
				merged, _ := final[key].([]string)
				seen := listSeen[key]
				if seen == nil {
					seen = make(map[string]struct{}, len(merged))
					for _, v := range merged {
						seen[v] = struct{}{}
					}
					listSeen[key] = seen
				}
				for _, item := range list {
					if _, dup := seen[item]; dup {
						continue
					}
					seen[item] = struct{}{}
					merged = append(merged, item)
				}
				final[key] = merged
				continue
			}

			if !isEmptyScalar(value) {
				if existing, ok := final[key]; !ok || isEmptyScalar(existing) {
					final[key] = value
				}
			}
		}
	}
	return final
}

func toStringList(value any) ([]string, bool) {
	switch v := value.(type) {
	case []string:
		return v, true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

func isEmptyScalar(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return v == ""
	default:
		return false
	}
}
