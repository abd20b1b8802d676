package llm

// NormalizeSchema rewrites a hand-written JSON Schema object into the
// OpenAI-strict form structured outputs require:
//   - every object gets additionalProperties: false
//   - every property is listed in required (optional properties instead get
//     "null" added to their type union, since strict mode forbids omission)
//   - $ref siblings are stripped, since OpenAI's strict validator rejects any
//     keyword alongside $ref
//
// Grounded on haivivi-giztoy's FormatOpenAISchema walk, adapted to operate on
// plain map[string]any schema literals instead of a typed schema struct, so
// callers never hand-craft SDK-specific schema types.
func NormalizeSchema(schema map[string]any) map[string]any {
	return normalize(schema).(map[string]any)
}

func normalize(in any) any {
	switch v := in.(type) {
	case map[string]any:
		return normalizeObject(v)
	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			out[i] = normalize(child)
		}
		return out
	default:
		return in
	}
}

func normalizeObject(v map[string]any) map[string]any {
	if ref, ok := v["$ref"]; ok {
		// Strict mode rejects sibling keywords next to $ref; collapse to a
		// bare ref node.
		return map[string]any{"$ref": ref}
	}

	for _, key := range []string{"oneOf", "anyOf", "allOf"} {
		if list, ok := v[key].([]any); ok {
			norm := make([]any, len(list))
			for i, child := range list {
				norm[i] = normalize(child)
			}
			v[key] = norm
		}
	}

	if items, ok := v["items"]; ok {
		v["items"] = normalize(items)
	}

	if typ, _ := v["type"].(string); typ == "object" || v["properties"] != nil {
		if _, hasType := v["type"]; !hasType {
			v["type"] = "object"
		}
		v["additionalProperties"] = false

		props, _ := v["properties"].(map[string]any)
		required := make(map[string]struct{})
		if existing, ok := v["required"].([]string); ok {
			for _, r := range existing {
				required[r] = struct{}{}
			}
		}
		if existing, ok := v["required"].([]any); ok {
			for _, r := range existing {
				if s, ok := r.(string); ok {
					required[s] = struct{}{}
				}
			}
		}

		reqList := make([]string, 0, len(props))
		for name, child := range props {
			childMap, _ := child.(map[string]any)
			if childMap != nil {
				if _, already := required[name]; !already {
					childMap = unionWithNull(childMap)
				}
				props[name] = normalize(childMap)
			}
			required[name] = struct{}{}
			reqList = append(reqList, name)
		}
		v["properties"] = props
		v["required"] = reqList
	}

	return v
}

// unionWithNull adds "null" to a property's type, since OpenAI strict mode
// requires every property to be listed in "required" — properties that were
// logically optional become nullable instead of absent.
func unionWithNull(schema map[string]any) map[string]any {
	switch t := schema["type"].(type) {
	case string:
		if t != "null" {
			schema["type"] = []any{t, "null"}
		}
	case []any:
		for _, existing := range t {
			if existing == "null" {
				return schema
			}
		}
		schema["type"] = append(t, "null")
	}
	return schema
}
