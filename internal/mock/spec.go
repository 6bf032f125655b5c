// Package mock implements the OpenAPI-driven mock server subsystem: spec
// loading with reference resolution, route extraction, schema-driven
// response generation, request validation, and a record/replay store
//.
package mock

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const subsystem = "Mock"

// Document is a parsed OpenAPI document, fully dereferenced: every $ref
// node has been replaced in place with the node it points to.
type Document struct {
	Raw     map[string]interface{}
	BaseDir string
}

// LoadSpecError distinguishes the three failure modes spec loading must
// surface precisely.
type LoadSpecError struct {
	Kind string // "file-missing" | "invalid-document" | "unresolvable-reference"
	Path string
	Err  error
}

func (e *LoadSpecError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Path, e.Err)
}

func (e *LoadSpecError) Unwrap() error { return e.Err }

// LoadSpec reads path (YAML or JSON) and recursively resolves every $ref
// node, internal (#/...) or cross-file, tolerating reference cycles by
// returning the already-resolving node unexpanded rather than looping
// forever.
func LoadSpec(path string) (*Document, error) {
	raw, err := readDocument(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &LoadSpecError{Kind: "file-missing", Path: path, Err: err}
		}
		return nil, &LoadSpecError{Kind: "invalid-document", Path: path, Err: err}
	}

	doc := &Document{BaseDir: filepath.Dir(path)}
	resolver := &refResolver{baseDir: doc.BaseDir, cache: map[string]map[string]interface{}{}, resolving: map[string]bool{}}

	resolved, err := resolver.resolve(raw, path)
	if err != nil {
		return nil, err
	}
	asMap, ok := resolved.(map[string]interface{})
	if !ok {
		return nil, &LoadSpecError{Kind: "invalid-document", Path: path, Err: fmt.Errorf("document root is not an object")}
	}
	doc.Raw = asMap
	return doc, nil
}

func readDocument(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var out map[string]interface{}
	switch filepath.Ext(path) {
	case ".json":
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, err
		}
	default:
		if err := yaml.Unmarshal(data, &out); err != nil {
			return nil, err
		}
		out = normalizeYAMLMaps(out).(map[string]interface{})
	}
	return out, nil
}

// normalizeYAMLMaps converts map[string]interface{} trees produced by
// gopkg.in/yaml.v3 (which already uses string keys) recursively so that
// nested maps are consistently map[string]interface{}, matching what
// encoding/json would have produced.
func normalizeYAMLMaps(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, vv := range val {
			out[k] = normalizeYAMLMaps(vv)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, vv := range val {
			out[i] = normalizeYAMLMaps(vv)
		}
		return out
	default:
		return v
	}
}
