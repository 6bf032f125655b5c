package mock

import "sort"

// canonical format constants, used when a string schema declares a format
// the generator recognizes.
const (
	canonicalEmail    = "user@example.com"
	canonicalDate     = "2024-01-01"
	canonicalDateTime = "2024-01-01T00:00:00Z"
	canonicalUUID     = "00000000-0000-0000-0000-000000000000"
	canonicalURI      = "https://example.com"
)

// GenerateOptions bounds response generation.
type GenerateOptions struct {
	MaxDepth int
}

// GenerateResponse produces a value from schema following the
// generation rules, recursing through object/array structure until
// MaxDepth is exhausted.
func GenerateResponse(schema map[string]interface{}, opts GenerateOptions) interface{} {
	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 5
	}
	return generate(schema, maxDepth)
}

func generate(schema map[string]interface{}, depth int) interface{} {
	if depth <= 0 {
		return nil
	}
	if schema == nil {
		return nil
	}

	if example, ok := schema["example"]; ok {
		return example
	}

	if enumRaw, ok := schema["enum"].([]interface{}); ok {
		if len(enumRaw) == 0 {
			return nil
		}
		return enumRaw[0]
	}

	if variants, ok := firstOf(schema, "oneOf"); ok {
		return generate(variants, depth)
	}
	if variants, ok := firstOf(schema, "anyOf"); ok {
		return generate(variants, depth)
	}
	if all, ok := schema["allOf"].([]interface{}); ok {
		return generateAllOf(all, depth)
	}

	switch schemaType(schema) {
	case "string":
		return stringValue(schema)
	case "integer":
		return numericValue(schema, true)
	case "number":
		return numericValue(schema, false)
	case "boolean":
		return true
	case "array":
		return arrayValue(schema, depth)
	case "null":
		return nil
	case "object":
		return objectValue(schema, depth)
	default:
		if _, hasProps := schema["properties"]; hasProps {
			return objectValue(schema, depth)
		}
		return nil
	}
}

func schemaType(schema map[string]interface{}) string {
	t, _ := schema["type"].(string)
	return t
}

func firstOf(schema map[string]interface{}, key string) (map[string]interface{}, bool) {
	list, ok := schema[key].([]interface{})
	if !ok || len(list) == 0 {
		return nil, false
	}
	variant, ok := list[0].(map[string]interface{})
	return variant, ok
}

func generateAllOf(all []interface{}, depth int) interface{} {
	merged := map[string]interface{}{}
	for _, rawVariant := range all {
		variant, ok := rawVariant.(map[string]interface{})
		if !ok {
			continue
		}
		value := generate(variant, depth)
		if asMap, ok := value.(map[string]interface{}); ok {
			for k, v := range asMap {
				merged[k] = v
			}
		}
	}
	return merged
}

func stringValue(schema map[string]interface{}) interface{} {
	format, _ := schema["format"].(string)
	switch format {
	case "email":
		return canonicalEmail
	case "date":
		return canonicalDate
	case "date-time":
		return canonicalDateTime
	case "uuid":
		return canonicalUUID
	case "uri":
		return canonicalURI
	default:
		return "string"
	}
}

func numericValue(schema map[string]interface{}, integer bool) interface{} {
	if min, ok := schema["minimum"]; ok {
		if integer {
			switch v := min.(type) {
			case int:
				return v
			case float64:
				return int(v)
			}
		}
		return min
	}
	if integer {
		return 0
	}
	return 0.0
}

func arrayValue(schema map[string]interface{}, depth int) interface{} {
	items, ok := schema["items"].(map[string]interface{})
	if !ok {
		return []interface{}{}
	}
	return []interface{}{generate(items, depth-1)}
}

func objectValue(schema map[string]interface{}, depth int) interface{} {
	props, ok := schema["properties"].(map[string]interface{})
	if !ok {
		return map[string]interface{}{}
	}

	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]interface{}, len(props))
	for _, key := range keys {
		propSchema, _ := props[key].(map[string]interface{})
		out[key] = generate(propSchema, depth-1)
	}
	return out
}
