package mock

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// refResolver walks a decoded document tree replacing every {"$ref": "..."}
// node with the node it points to, following internal (#/a/b) and
// cross-file (other.yaml#/a/b) references. resolving tracks refs currently
// being expanded on the current path so a cycle returns the raw $ref node
// instead of recursing forever.
type refResolver struct {
	baseDir   string
	cache     map[string]map[string]interface{} // file path -> parsed document
	resolving map[string]bool
}

func (r *refResolver) resolve(node interface{}, currentFile string) (interface{}, error) {
	switch val := node.(type) {
	case map[string]interface{}:
		if ref, ok := val["$ref"].(string); ok && len(val) == 1 {
			return r.resolveRef(ref, currentFile)
		}
		out := make(map[string]interface{}, len(val))
		for k, v := range val {
			resolved, err := r.resolve(v, currentFile)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, v := range val {
			resolved, err := r.resolve(v, currentFile)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return val, nil
	}
}

func (r *refResolver) resolveRef(ref, currentFile string) (interface{}, error) {
	filePart, pointer := splitRef(ref)

	targetFile := currentFile
	if filePart != "" {
		targetFile = filepath.Join(filepath.Dir(currentFile), filePart)
	}

	key := targetFile + "#" + pointer
	if r.resolving[key] {
		// cycle: return an unexpanded marker rather than recursing forever.
		return map[string]interface{}{"$ref": ref}, nil
	}

	doc, err := r.loadFile(targetFile)
	if err != nil {
		return nil, &LoadSpecError{Kind: "unresolvable-reference", Path: ref, Err: err}
	}

	target, err := lookupPointer(doc, pointer)
	if err != nil {
		return nil, &LoadSpecError{Kind: "unresolvable-reference", Path: ref, Err: err}
	}

	r.resolving[key] = true
	defer delete(r.resolving, key)

	return r.resolve(target, targetFile)
}

func (r *refResolver) loadFile(path string) (map[string]interface{}, error) {
	if doc, ok := r.cache[path]; ok {
		return doc, nil
	}
	doc, err := readDocument(path)
	if err != nil {
		return nil, err
	}
	r.cache[path] = doc
	return doc, nil
}

// splitRef splits "other.yaml#/components/schemas/Foo" into file and
// pointer parts. A purely internal ref ("#/components/...") has an empty
// file part.
func splitRef(ref string) (file, pointer string) {
	parts := strings.SplitN(ref, "#", 2)
	file = parts[0]
	if len(parts) == 2 {
		pointer = parts[1]
	}
	return file, pointer
}

// lookupPointer resolves a JSON-pointer-like "/a/b/0" path within doc.
func lookupPointer(doc map[string]interface{}, pointer string) (interface{}, error) {
	var current interface{} = doc
	pointer = strings.TrimPrefix(pointer, "/")
	if pointer == "" {
		return current, nil
	}

	for _, segment := range strings.Split(pointer, "/") {
		segment = strings.ReplaceAll(segment, "~1", "/")
		segment = strings.ReplaceAll(segment, "~0", "~")

		switch node := current.(type) {
		case map[string]interface{}:
			next, ok := node[segment]
			if !ok {
				return nil, fmt.Errorf("pointer segment %q not found", segment)
			}
			current = next
		case []interface{}:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, fmt.Errorf("pointer segment %q is not a valid array index", segment)
			}
			current = node[idx]
		default:
			return nil, fmt.Errorf("cannot descend into non-container at segment %q", segment)
		}
	}
	return current, nil
}
