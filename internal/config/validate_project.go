package config

import "fmt"

// Validate checks a loaded, defaulted Project against the manifest
// schema and returns every violation found (never stops at the first).
func Validate(p *Project) *ConfigurationErrorCollection {
	errs := NewConfigurationErrorCollection()
	fileName := p.SourcePath()

	add := func(path, errType, message string) {
		errs.Add(NewConfigurationError(fileName, fileName, "project", "manifest", errType, fmt.Sprintf("%s: %s", path, message)))
	}

	if p.Project.Name == "" {
		add("project.name", "validation", "is required")
	}

	services := NormalizeServices(p)
	seen := map[string]bool{}
	for i, svc := range services {
		path := fmt.Sprintf("services[%d]", i)
		if svc.Name == "" {
			add(path+".name", "validation", "is required")
			continue
		}
		if seen[svc.Name] {
			add(path+".name", "validation", fmt.Sprintf("duplicate service name %q", svc.Name))
		}
		seen[svc.Name] = true
	}
	for i, svc := range services {
		path := fmt.Sprintf("services[%d].dependsOn", i)
		for _, dep := range svc.DependsOn {
			if !seen[dep] {
				add(path, "validation", fmt.Sprintf("unknown service dependency %q", dep))
			}
		}
	}

	for name, m := range p.Mocks {
		path := fmt.Sprintf("mocks.%s", name)
		if m.Port == 0 {
			add(path+".port", "validation", "is required")
		}
		switch m.Mode {
		case "", MockModeAuto, MockModeRecord, MockModeReplay, MockModeSmart:
		default:
			add(path+".mode", "validation", fmt.Sprintf("invalid mode %q", m.Mode))
		}
		if len(m.Routes) == 0 && m.OpenAPISpecPath == "" {
			add(path, "validation", "must declare routes or openapiSpecPath")
		}
	}

	for i, suite := range p.Tests.Suites {
		path := fmt.Sprintf("tests.suites[%d]", i)
		if suite.ID == "" {
			add(path+".id", "validation", "is required")
		}
		if suite.Runner == "" {
			add(path+".runner", "validation", "is required")
		}
	}

	switch p.Resilience.Network.PortConflictStrategy {
	case PortStrategyAuto, PortStrategyManual, PortStrategyFail:
	default:
		add("resilience.network.portConflictStrategy", "validation",
			fmt.Sprintf("invalid strategy %q, must be one of auto|manual|fail", p.Resilience.Network.PortConflictStrategy))
	}

	if mr := p.Resilience.Container.MaxRestarts; mr < 0 || mr > 10 {
		add("resilience.container.maxRestarts", "validation", "must be between 0 and 10")
	}

	return errs
}

// NormalizeServices returns the normalized service list: `services` wins
// when present, else a single `service` is wrapped, else empty.
// Exported so internal/orchestrator can reuse the same normalization rule.
func NormalizeServices(p *Project) []Service {
	if len(p.Services) > 0 {
		return p.Services
	}
	if p.Service != nil {
		return []Service{*p.Service}
	}
	return nil
}
