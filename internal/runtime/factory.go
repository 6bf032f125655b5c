package runtime

import (
	"fmt"
	"strings"
)

// EngineType identifies which container engine CLI to shell out to.
type EngineType string

const (
	EngineDocker     EngineType = "docker"
	EnginePodman     EngineType = "podman"
	EngineKubernetes EngineType = "kubernetes"
)

// New creates a Runtime for the named engine. An empty name defaults to
// Docker. "kubernetes" (or "k8s") selects the remote-cluster variant,
// which shells out to kubectl instead of a local daemon.
func New(engine string) (Runtime, error) {
	switch EngineType(strings.ToLower(engine)) {
	case EngineDocker, "":
		return NewDockerRuntime()
	case EngineKubernetes, "k8s":
		return NewKubernetesRuntime()
	case EnginePodman:
		return nil, fmt.Errorf("podman engine not yet implemented")
	default:
		return nil, fmt.Errorf("unsupported container engine: %s", engine)
	}
}
