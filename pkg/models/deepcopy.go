package models

// DeepCopyMap returns a recursive copy of a JSON-shaped value bag. Nested
// maps and slices are copied; scalar values are shared (they are immutable
// once decoded from JSON).
func DeepCopyMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}

	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = deepCopyValue(v)
	}

	return dst
}

func deepCopyValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		return DeepCopyMap(typed)
	case []any:
		copied := make([]any, len(typed))
		for i, item := range typed {
			copied[i] = deepCopyValue(item)
		}

		return copied
	default:
		return v
	}
}

// MergeMaps copies every entry of src into dst, allocating dst if needed.
// Later sources win on key collisions.
func MergeMaps(dst map[string]any, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}

	for k, v := range src {
		dst[k] = deepCopyValue(v)
	}

	return dst
}
