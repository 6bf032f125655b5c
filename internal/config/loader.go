package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"e2eforge/pkg/logging"

	"gopkg.in/yaml.v3"
)

const subsystem = "Config"

// manifestCandidates is the discovery order for a project manifest file,
// conventionally `e2e.yaml` with `e2e.yml` as fallback.
var manifestCandidates = []string{"e2e.yaml", "e2e.yml"}

// DiscoverManifestPath finds the manifest file in a project directory.
func DiscoverManifestPath(projectDir string) (string, error) {
	for _, candidate := range manifestCandidates {
		p := filepath.Join(projectDir, candidate)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no manifest found in %s (tried %v)", projectDir, manifestCandidates)
}

// Load reads, variable-resolves and validates a project manifest at path.
// Variable substitution runs before validation: `service.vars` seeds
// `config.*`, the process environment seeds `env.*`.
func Load(path string) (*Project, *ConfigurationErrorCollection, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("manifest not found: %s", path)
		}
		return nil, nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}

	// First pass: decode into a generic document so we can variable-resolve
	// before strict schema validation, and so unknown keys are caught by the
	// KnownFields decoder below.
	var generic map[string]interface{}
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}

	vars := map[string]string{}
	if svc, ok := generic["service"].(map[string]interface{}); ok {
		if v, ok := svc["vars"].(map[string]interface{}); ok {
			for k, val := range v {
				vars[k] = fmt.Sprintf("%v", val)
			}
		}
	}
	resolver := NewResolver(vars)
	resolved := resolver.ResolveDeep(generic)

	resolvedYAML, err := yaml.Marshal(resolved)
	if err != nil {
		return nil, nil, fmt.Errorf("re-encoding resolved manifest %s: %w", path, err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(resolvedYAML))
	decoder.KnownFields(true)
	var project Project
	if err := decoder.Decode(&project); err != nil {
		return nil, nil, fmt.Errorf("decoding manifest %s: %w", path, err)
	}
	project.SetSourcePath(path)

	applyDefaults(&project)

	errs := Validate(&project)
	logging.Info(subsystem, "Loaded manifest %s (project=%s, errors=%d)", path, project.Project.Name, errs.Count())
	return &project, errs, nil
}

// LoadProject discovers and loads the manifest for a project directory.
func LoadProject(projectDir string) (*Project, *ConfigurationErrorCollection, error) {
	path, err := DiscoverManifestPath(projectDir)
	if err != nil {
		return nil, nil, err
	}
	return Load(path)
}
