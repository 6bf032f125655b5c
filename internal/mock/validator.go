package mock

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// ValidationError is one schema violation, located precisely enough for a
// caller to point at the offending field.
type ValidationError struct {
	Location string // "body" | "query" | "path" | "header"
	Pointer  string
	Message  string
	Expected interface{}
	Actual   interface{}
}

// Validator compiles a route's body/parameter schemas once at startup and
// validates individual requests against them.
type Validator struct {
	bodySchema   gojsonschema.JSONLoader
	paramSchemas map[string]gojsonschema.JSONLoader // "in:name" -> schema loader
}

// NewValidator compiles the schemas declared on route.
func NewValidator(route Route) *Validator {
	v := &Validator{paramSchemas: map[string]gojsonschema.JSONLoader{}}

	if route.RequestSchema != nil {
		v.bodySchema = gojsonschema.NewGoLoader(route.RequestSchema)
	}
	for _, p := range route.Parameters {
		if p.Schema == nil {
			continue
		}
		v.paramSchemas[p.In+":"+p.Name] = gojsonschema.NewGoLoader(p.Schema)
	}
	return v
}

// ValidateBody validates a decoded JSON body against the route's request
// schema. A route without a declared body schema always passes.
func (v *Validator) ValidateBody(body interface{}) []ValidationError {
	if v.bodySchema == nil {
		return nil
	}
	return v.validateAgainst("body", "/", v.bodySchema, body)
}

// ValidateParam validates one path/query/header parameter value.
func (v *Validator) ValidateParam(location, name string, value interface{}) []ValidationError {
	loader, ok := v.paramSchemas[location+":"+name]
	if !ok {
		return nil
	}
	return v.validateAgainst(location, "/"+name, loader, value)
}

func (v *Validator) validateAgainst(location, pointer string, schemaLoader gojsonschema.JSONLoader, value interface{}) []ValidationError {
	encoded, err := json.Marshal(value)
	if err != nil {
		return []ValidationError{{Location: location, Pointer: pointer, Message: fmt.Sprintf("failed to encode value: %v", err)}}
	}

	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(encoded))
	if err != nil {
		return []ValidationError{{Location: location, Pointer: pointer, Message: fmt.Sprintf("schema validation failed: %v", err)}}
	}
	if result.Valid() {
		return nil
	}

	errs := make([]ValidationError, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		field := desc.Field()
		p := pointer
		if field != "" && field != "(root)" {
			p = pointer + "/" + field
		}
		errs = append(errs, ValidationError{
			Location: location,
			Pointer:  p,
			Message:  desc.Description(),
			Expected: desc.Details()["expected"],
			Actual:   desc.Value(),
		})
	}
	return errs
}

// MatchRoute finds the route matching method and path using colon-segment
// template equality: a template segment beginning with ':' matches any
// single path segment.
func MatchRoute(routes []Route, method, path string) (*Route, map[string]string) {
	pathSegments := splitSegments(path)

	for i := range routes {
		route := &routes[i]
		if route.Method != method {
			continue
		}
		templateSegments := splitSegments(route.Path)
		if len(templateSegments) != len(pathSegments) {
			continue
		}

		params := map[string]string{}
		matched := true
		for i, tmplSeg := range templateSegments {
			if len(tmplSeg) > 0 && (tmplSeg[0] == ':' || (tmplSeg[0] == '{' && tmplSeg[len(tmplSeg)-1] == '}')) {
				name := tmplSeg
				switch {
				case tmplSeg[0] == ':':
					name = tmplSeg[1:]
				default:
					name = tmplSeg[1 : len(tmplSeg)-1]
				}
				params[name] = pathSegments[i]
				continue
			}
			if tmplSeg != pathSegments[i] {
				matched = false
				break
			}
		}

		if matched {
			return route, params
		}
	}

	return nil, nil
}

func splitSegments(path string) []string {
	var segments []string
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '/' {
			if i > start {
				segments = append(segments, path[start:i])
			}
			start = i + 1
		}
	}
	return segments
}
