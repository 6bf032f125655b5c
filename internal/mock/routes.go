package mock

import (
	"sort"
	"strconv"
	"strings"
)

// Parameter is one path/query/header parameter declared on a route.
type Parameter struct {
	Name     string
	In       string // "path" | "query" | "header"
	Required bool
	Schema   map[string]interface{}
}

// Route is one (path, method) operation extracted from an OpenAPI document.
type Route struct {
	Path          string
	Method        string
	Parameters    []Parameter
	RequestSchema map[string]interface{}
	Responses     map[int]ResponseSpec // status -> spec
	DefaultStatus int
}

// ResponseSpec is one declared response's content.
type ResponseSpec struct {
	ContentType string
	Schema      map[string]interface{}
	Example     interface{}
}

var httpMethods = []string{"get", "put", "post", "delete", "options", "head", "patch", "trace"}

// ExtractRoutes walks doc.Raw's "paths" object and produces one Route per
// (path, method), merging path-level and operation-level parameters.
func ExtractRoutes(doc *Document) []Route {
	paths, _ := doc.Raw["paths"].(map[string]interface{})
	var routes []Route

	for path, rawItem := range paths {
		item, ok := rawItem.(map[string]interface{})
		if !ok {
			continue
		}

		pathParams := extractParameters(item["parameters"])

		for _, method := range httpMethods {
			rawOp, ok := item[method]
			if !ok {
				continue
			}
			op, ok := rawOp.(map[string]interface{})
			if !ok {
				continue
			}

			opParams := extractParameters(op["parameters"])
			route := Route{
				Path:       path,
				Method:     strings.ToUpper(method),
				Parameters: mergeParameters(pathParams, opParams),
			}

			if body, ok := op["requestBody"].(map[string]interface{}); ok {
				route.RequestSchema = pickContentSchema(body["content"])
			}

			route.Responses = extractResponses(op["responses"])
			route.DefaultStatus = defaultStatus(route.Responses)

			routes = append(routes, route)
		}
	}

	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Path != routes[j].Path {
			return routes[i].Path < routes[j].Path
		}
		return routes[i].Method < routes[j].Method
	})

	return routes
}

func extractParameters(raw interface{}) []Parameter {
	list, _ := raw.([]interface{})
	out := make([]Parameter, 0, len(list))
	for _, rawParam := range list {
		p, ok := rawParam.(map[string]interface{})
		if !ok {
			continue
		}
		name, _ := p["name"].(string)
		in, _ := p["in"].(string)
		required, _ := p["required"].(bool)
		schema, _ := p["schema"].(map[string]interface{})
		out = append(out, Parameter{Name: name, In: in, Required: required, Schema: schema})
	}
	return out
}

// mergeParameters combines path-level and operation-level parameters,
// operation-level taking precedence for a given (name, in) pair.
func mergeParameters(pathParams, opParams []Parameter) []Parameter {
	merged := map[string]Parameter{}
	order := []string{}

	add := func(p Parameter) {
		key := p.In + ":" + p.Name
		if _, exists := merged[key]; !exists {
			order = append(order, key)
		}
		merged[key] = p
	}

	for _, p := range pathParams {
		add(p)
	}
	for _, p := range opParams {
		add(p)
	}

	out := make([]Parameter, 0, len(order))
	for _, key := range order {
		out = append(out, merged[key])
	}
	return out
}

// pickContentSchema prefers application/json, falling back to the first
// media type present.
func pickContentSchema(raw interface{}) map[string]interface{} {
	content, ok := raw.(map[string]interface{})
	if !ok || len(content) == 0 {
		return nil
	}

	if jsonMedia, ok := content["application/json"].(map[string]interface{}); ok {
		schema, _ := jsonMedia["schema"].(map[string]interface{})
		return schema
	}

	keys := make([]string, 0, len(content))
	for k := range content {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) == 0 {
		return nil
	}
	media, _ := content[keys[0]].(map[string]interface{})
	schema, _ := media["schema"].(map[string]interface{})
	return schema
}

func extractResponses(raw interface{}) map[int]ResponseSpec {
	responses := map[int]ResponseSpec{}
	rawResponses, ok := raw.(map[string]interface{})
	if !ok {
		return responses
	}

	for code, rawResp := range rawResponses {
		status, err := strconv.Atoi(code)
		if err != nil {
			continue // "default" and similar non-numeric keys are not mockable statuses
		}

		resp, ok := rawResp.(map[string]interface{})
		if !ok {
			continue
		}

		content, _ := resp["content"].(map[string]interface{})
		contentType := "application/json"
		var media map[string]interface{}
		if jsonMedia, ok := content["application/json"].(map[string]interface{}); ok {
			media = jsonMedia
		} else {
			keys := make([]string, 0, len(content))
			for k := range content {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			if len(keys) > 0 {
				contentType = keys[0]
				media, _ = content[keys[0]].(map[string]interface{})
			}
		}

		spec := ResponseSpec{ContentType: contentType}
		if media != nil {
			spec.Schema, _ = media["schema"].(map[string]interface{})
			spec.Example = media["example"]
		}
		responses[status] = spec
	}

	return responses
}

// defaultStatus picks the lowest 2xx status if any, else the lowest status
// of any kind, else 200.
func defaultStatus(responses map[int]ResponseSpec) int {
	if len(responses) == 0 {
		return 200
	}

	lowest2xx := -1
	lowestAny := -1
	for status := range responses {
		if lowestAny == -1 || status < lowestAny {
			lowestAny = status
		}
		if status >= 200 && status < 300 {
			if lowest2xx == -1 || status < lowest2xx {
				lowest2xx = status
			}
		}
	}

	if lowest2xx != -1 {
		return lowest2xx
	}
	if lowestAny != -1 {
		return lowestAny
	}
	return 200
}
