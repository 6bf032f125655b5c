// Package config defines the project manifest schema and the
// variable resolver used to expand `{{...}}` expressions throughout it.
package config

// BackoffKind selects the shape of the delay curve between retry attempts.
type BackoffKind string

const (
	BackoffLinear      BackoffKind = "linear"
	BackoffExponential BackoffKind = "exponential"
)

// PortConflictStrategy selects how the resilience layer reacts to a busy
// host port.
type PortConflictStrategy string

const (
	PortStrategyAuto   PortConflictStrategy = "auto"
	PortStrategyManual PortConflictStrategy = "manual"
	PortStrategyFail   PortConflictStrategy = "fail"
)

// MockMode selects how a mock server answers requests.
type MockMode string

const (
	MockModeAuto    MockMode = "auto"
	MockModeRecord  MockMode = "record"
	MockModeReplay  MockMode = "replay"
	MockModeSmart   MockMode = "smart"
)

// HistoryStorageKind selects the history store's persistence backend.
type HistoryStorageKind string

const (
	HistoryStorageLocal  HistoryStorageKind = "local"
	HistoryStorageMemory HistoryStorageKind = "memory"
)

// Project is the root document of a project manifest, conventionally
// loaded from `<project>/e2e.yaml` (fallback `e2e.yml`).
type Project struct {
	Version string        `yaml:"version"`
	Project ProjectMeta   `yaml:"project"`
	Service *Service      `yaml:"service,omitempty"`
	Services []Service    `yaml:"services,omitempty"`
	Mocks    map[string]MockConfig   `yaml:"mocks,omitempty"`
	Tests    TestsConfig   `yaml:"tests,omitempty"`
	Retry    *RetryPolicy  `yaml:"retry,omitempty"`
	Parallel ParallelConfig `yaml:"parallel,omitempty"`
	Network  NetworkConfig `yaml:"network,omitempty"`
	Resilience ResilienceConfig `yaml:"resilience,omitempty"`
	History  HistoryConfig `yaml:"history,omitempty"`
	Dashboard DashboardConfig `yaml:"dashboard,omitempty"`

	// sourcePath is the file the manifest was loaded from; not serialized.
	sourcePath string `yaml:"-"`
}

// SourcePath returns the on-disk location the manifest was loaded from.
func (p *Project) SourcePath() string { return p.sourcePath }

// SetSourcePath records where the manifest was loaded from.
func (p *Project) SetSourcePath(path string) { p.sourcePath = path }

// ProjectMeta carries project identity.
type ProjectMeta struct {
	Name string `yaml:"name"`
}

// BuildConfig describes how to build a service's image.
type BuildConfig struct {
	Dockerfile string            `yaml:"dockerfile,omitempty"`
	Context    string            `yaml:"context,omitempty"`
	Image      string            `yaml:"image,omitempty"`
	BuildArgs  map[string]string `yaml:"buildArgs,omitempty"`
}

// HealthCheck describes a container healthcheck probe.
type HealthCheck struct {
	Command      []string      `yaml:"command,omitempty"`
	Interval     string        `yaml:"interval,omitempty"`
	Timeout      string        `yaml:"timeout,omitempty"`
	Retries      int           `yaml:"retries,omitempty"`
	StartPeriod  string        `yaml:"startPeriod,omitempty"`
}

// ContainerConfig describes the runtime shape of a service's container.
type ContainerConfig struct {
	Name        string            `yaml:"name,omitempty"`
	Ports       []string          `yaml:"ports,omitempty"`
	Env         map[string]string `yaml:"env,omitempty"`
	Volumes     []string          `yaml:"volumes,omitempty"`
	Healthcheck *HealthCheck      `yaml:"healthcheck,omitempty"`
}

// Service is one buildable, runnable unit in the topology.
type Service struct {
	Name      string            `yaml:"name"`
	Build     *BuildConfig      `yaml:"build,omitempty"`
	Container ContainerConfig   `yaml:"container,omitempty"`
	DependsOn []string          `yaml:"dependsOn,omitempty"`
	Vars      map[string]string `yaml:"vars,omitempty"`
}

// MockConfig describes one mock server definition.
type MockConfig struct {
	Port            int          `yaml:"port"`
	Routes          []MockRoute  `yaml:"routes,omitempty"`
	OpenAPISpecPath string       `yaml:"openapiSpecPath,omitempty"`
	Mode            MockMode     `yaml:"mode,omitempty"`
	Overrides       []MockRoute  `yaml:"overrides,omitempty"`
}

// MockRoute is a manually declared mock route (as opposed to one extracted
// from an OpenAPI spec).
type MockRoute struct {
	Method   string                 `yaml:"method"`
	Path     string                 `yaml:"path"`
	Status   int                    `yaml:"status,omitempty"`
	Body     map[string]interface{} `yaml:"body,omitempty"`
	Headers  map[string]string      `yaml:"headers,omitempty"`
}

// TestSuiteDef declares one test suite entry in the manifest.
type TestSuiteDef struct {
	ID      string                 `yaml:"id"`
	Name    string                 `yaml:"name,omitempty"`
	File    string                 `yaml:"file,omitempty"`
	Runner  string                 `yaml:"runner"`
	Command string                 `yaml:"command,omitempty"`
	Config  map[string]interface{} `yaml:"config,omitempty"`
	Retry   *RetryPolicy           `yaml:"retry,omitempty"`
}

// TestsConfig groups all declared suites.
type TestsConfig struct {
	Suites []TestSuiteDef `yaml:"suites,omitempty"`
}

// RetryPolicy is resolved case > suite > global, first-defined wins.
type RetryPolicy struct {
	MaxAttempts       int         `yaml:"maxAttempts"`
	Delay             string      `yaml:"delay"`
	Backoff           BackoffKind `yaml:"backoff,omitempty"`
	BackoffMultiplier float64     `yaml:"backoffMultiplier,omitempty"`
}

// ParallelConfig controls the parallel suite executor.
type ParallelConfig struct {
	Concurrency int `yaml:"concurrency,omitempty"`
}

// NetworkConfig names the dedicated docker network for a project's topology.
type NetworkConfig struct {
	Name string `yaml:"name,omitempty"`
}

// PreflightConfig controls the preflight checker.
type PreflightConfig struct {
	Enabled           bool   `yaml:"enabled"`
	DiskSpaceThreshold string `yaml:"diskSpaceThreshold"`
	CleanOrphans      bool   `yaml:"cleanOrphans"`
}

// ContainerResilienceConfig controls the container guardian.
type ContainerResilienceConfig struct {
	RestartOnFailure bool        `yaml:"restartOnFailure"`
	MaxRestarts      int         `yaml:"maxRestarts"`
	RestartDelay     string      `yaml:"restartDelay"`
	RestartBackoff   BackoffKind `yaml:"restartBackoff"`
}

// NetworkResilienceConfig controls the port resolver and network verifier.
type NetworkResilienceConfig struct {
	PortConflictStrategy PortConflictStrategy `yaml:"portConflictStrategy"`
	VerifyConnectivity   bool                 `yaml:"verifyConnectivity"`
}

// CircuitBreakerConfig controls the breaker guarding the container runtime.
type CircuitBreakerConfig struct {
	Enabled         bool `yaml:"enabled"`
	FailureThreshold int `yaml:"failureThreshold"`
	ResetTimeoutMs  int  `yaml:"resetTimeoutMs"`
}

// ResilienceConfig groups every resilience sub-config, with defaults
// applied when unset.
type ResilienceConfig struct {
	Preflight       PreflightConfig           `yaml:"preflight,omitempty"`
	Container       ContainerResilienceConfig `yaml:"container,omitempty"`
	Network         NetworkResilienceConfig   `yaml:"network,omitempty"`
	CircuitBreaker  CircuitBreakerConfig      `yaml:"circuitBreaker,omitempty"`
}

// RetentionConfig bounds how long / how much history is kept.
type RetentionConfig struct {
	MaxAge  string `yaml:"maxAge,omitempty"`
	MaxRuns int    `yaml:"maxRuns,omitempty"`
}

// HistoryConfig controls run/case persistence.
type HistoryConfig struct {
	Enabled     bool               `yaml:"enabled"`
	Storage     HistoryStorageKind `yaml:"storage,omitempty"`
	Path        string             `yaml:"path,omitempty"`
	Retention   RetentionConfig    `yaml:"retention,omitempty"`
	FlakyWindow int                `yaml:"flakyWindow,omitempty"`
}

// DashboardConfig controls the HTTP/SSE surface.
type DashboardConfig struct {
	Port   int `yaml:"port,omitempty"`
	UIPort int `yaml:"uiPort,omitempty"`
}

// FieldError names one invalid/unknown field encountered during validation.
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}
