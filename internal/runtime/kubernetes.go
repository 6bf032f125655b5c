package runtime

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"e2eforge/pkg/logging"

	"gopkg.in/yaml.v3"
)

const kubernetesSubsystem = "Runtime"

// KubernetesRuntime implements Runtime against a remote cluster by
// shelling out to kubectl, the same way DockerRuntime shells out to
// docker: every operation is one kubectl invocation, and a Service's
// ContainerConfig is translated into a single-container Pod manifest
// applied with `kubectl apply -f -`. Network.Name (the docker bridge
// network name elsewhere) is reused here as the cluster namespace a
// project's pods run in. Since Runtime's other methods only take the
// opaque containerID StartContainer returned, that ID encodes the
// namespace as "namespace/name" (or bare "name" when no namespace was
// set) so later calls target the right one.
type KubernetesRuntime struct{}

// containerRef splits a containerID produced by StartContainer back into
// its namespace and pod name.
func containerRef(containerID string) (namespace, name string) {
	if ns, n, ok := strings.Cut(containerID, "/"); ok {
		return ns, n
	}
	return "", containerID
}

// NewKubernetesRuntime verifies a working kubectl binary with access to a
// cluster and returns a runtime that applies manifests to it.
func NewKubernetesRuntime() (*KubernetesRuntime, error) {
	if _, err := exec.LookPath("kubectl"); err != nil {
		return nil, fmt.Errorf("kubectl command not found in PATH: %w", err)
	}

	ctx := context.Background()
	cmd := execCommandContext(ctx, "kubectl", "cluster-info")
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("kubernetes cluster not accessible: %w", err)
	}

	return &KubernetesRuntime{}, nil
}

type podManifest struct {
	APIVersion string      `yaml:"apiVersion"`
	Kind       string      `yaml:"kind"`
	Metadata   podMetadata `yaml:"metadata"`
	Spec       podSpec     `yaml:"spec"`
}

type podMetadata struct {
	Name      string            `yaml:"name"`
	Namespace string            `yaml:"namespace,omitempty"`
	Labels    map[string]string `yaml:"labels,omitempty"`
}

type podSpec struct {
	RestartPolicy string         `yaml:"restartPolicy"`
	Containers    []podContainer `yaml:"containers"`
}

type podContainer struct {
	Name            string          `yaml:"name"`
	Image           string          `yaml:"image"`
	Command         []string        `yaml:"command,omitempty"`
	Args            []string        `yaml:"args,omitempty"`
	Env             []podEnvVar     `yaml:"env,omitempty"`
	Ports           []podPort       `yaml:"ports,omitempty"`
	SecurityContext *podSecurityCtx `yaml:"securityContext,omitempty"`
	ReadinessProbe  *podProbe       `yaml:"readinessProbe,omitempty"`
}

type podEnvVar struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

type podPort struct {
	ContainerPort int `yaml:"containerPort"`
}

type podSecurityCtx struct {
	RunAsUser *int64 `yaml:"runAsUser,omitempty"`
}

type podProbe struct {
	Exec                *podExecAction `yaml:"exec,omitempty"`
	InitialDelaySeconds int            `yaml:"initialDelaySeconds,omitempty"`
	PeriodSeconds       int            `yaml:"periodSeconds,omitempty"`
	FailureThreshold    int            `yaml:"failureThreshold,omitempty"`
}

type podExecAction struct {
	Command []string `yaml:"command"`
}

func buildPodManifest(config ContainerConfig) podManifest {
	container := podContainer{
		Name:  config.Name,
		Image: config.Image,
	}

	if len(config.Entrypoint) > 0 {
		container.Command = []string{config.Entrypoint[0]}
		if len(config.Entrypoint) > 1 {
			container.Args = config.Entrypoint[1:]
		}
	}

	for k, v := range config.Env {
		container.Env = append(container.Env, podEnvVar{Name: k, Value: v})
	}

	for _, p := range config.Ports {
		if port, ok := containerPortOf(p); ok {
			container.Ports = append(container.Ports, podPort{ContainerPort: port})
		}
	}

	if config.User != "" {
		if uid, err := strconv.ParseInt(config.User, 10, 64); err == nil {
			container.SecurityContext = &podSecurityCtx{RunAsUser: &uid}
		}
	}

	if config.HealthCheck != nil && len(config.HealthCheck.Command) > 0 {
		container.ReadinessProbe = &podProbe{
			Exec:             &podExecAction{Command: config.HealthCheck.Command},
			FailureThreshold: config.HealthCheck.Retries,
		}
	}

	return podManifest{
		APIVersion: "v1",
		Kind:       "Pod",
		Metadata: podMetadata{
			Name:      config.Name,
			Namespace: config.Network,
			Labels:    map[string]string{"app": config.Name},
		},
		Spec: podSpec{
			RestartPolicy: "Never",
			Containers:    []podContainer{container},
		},
	}
}

// containerPortOf pulls the container-side port out of a "host:container"
// mapping. Kubernetes pods have no host port to bind, so only the
// container side is meaningful.
func containerPortOf(mapping string) (int, bool) {
	parts := strings.Split(mapping, ":")
	raw := parts[len(parts)-1]
	port, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return port, true
}

// nsArgs returns the "-n <namespace>" flag pair, or nil when namespace is
// empty, to prepend to a kubectl invocation's arguments.
func nsArgs(namespace string) []string {
	if namespace == "" {
		return nil
	}
	return []string{"-n", namespace}
}

// BuildImage is not supported against a remote cluster: there is no local
// daemon to build into, and the cluster has no notion of a build context.
// Projects targeting the kubernetes runtime must reference pre-built
// images in a registry the cluster can pull from.
func (k *KubernetesRuntime) BuildImage(ctx context.Context, config BuildConfig) error {
	return fmt.Errorf("building images is not supported by the kubernetes runtime; push %s to a registry the cluster can pull from", config.Tag)
}

// PullImage is a no-op: the kubelet pulls a pod's image on scheduling.
func (k *KubernetesRuntime) PullImage(ctx context.Context, image string) error {
	return nil
}

// StartContainer applies a single-container Pod manifest translated from
// config and returns "namespace/name" as its identifier, or the bare pod
// name when config.Network (the namespace) is empty.
func (k *KubernetesRuntime) StartContainer(ctx context.Context, config ContainerConfig) (string, error) {
	manifest := buildPodManifest(config)
	data, err := yaml.Marshal(manifest)
	if err != nil {
		return "", fmt.Errorf("marshaling pod manifest for %s: %w", config.Name, err)
	}

	logging.Debug(kubernetesSubsystem, "Applying pod manifest for %s", config.Name)

	args := append(nsArgs(config.Network), "apply", "-f", "-")
	cmd := execCommandContext(ctx, "kubectl", args...)
	cmd.Stdin = bytes.NewReader(data)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("failed to apply pod %s: %w\nOutput: %s", config.Name, err, string(output))
	}

	logging.Info(kubernetesSubsystem, "Applied pod %s", config.Name)
	if config.Network != "" {
		return config.Network + "/" + config.Name, nil
	}
	return config.Name, nil
}

// StopContainer deletes the pod with a grace period, approximating
// docker stop's SIGTERM-then-wait semantics.
func (k *KubernetesRuntime) StopContainer(ctx context.Context, containerID string) error {
	namespace, name := containerRef(containerID)
	args := append(nsArgs(namespace), "delete", "pod", name, "--grace-period=10", "--wait=false")
	cmd := execCommandContext(ctx, "kubectl", args...)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to stop pod %s: %w", logging.TruncateID(name), err)
	}
	return nil
}

// RemoveContainer force-deletes the pod immediately.
func (k *KubernetesRuntime) RemoveContainer(ctx context.Context, containerID string) error {
	namespace, name := containerRef(containerID)
	args := append(nsArgs(namespace), "delete", "pod", name, "--grace-period=0", "--force", "--ignore-not-found")
	cmd := execCommandContext(ctx, "kubectl", args...)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to remove pod %s: %w", logging.TruncateID(name), err)
	}
	return nil
}

// GetContainerLogs streams the pod's logs, combining all containers since
// this runtime only ever creates one per pod.
func (k *KubernetesRuntime) GetContainerLogs(ctx context.Context, containerID string) (io.ReadCloser, error) {
	namespace, name := containerRef(containerID)
	args := append(nsArgs(namespace), "logs", "-f", name)
	cmd := execCommandContext(ctx, "kubectl", args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get log stream for pod %s: %w", logging.TruncateID(name), err)
	}
	if err := cmd.Start(); err != nil {
		stdout.Close()
		return nil, fmt.Errorf("failed to start log stream for pod %s: %w", logging.TruncateID(name), err)
	}

	pr, pw := io.Pipe()
	go func() {
		defer pw.Close()
		defer stdout.Close()
		io.Copy(pw, stdout)
		cmd.Wait()
	}()

	return pr, nil
}

// Exec runs a command inside the pod's single container.
func (k *KubernetesRuntime) Exec(ctx context.Context, containerID string, cmdArgs []string) ([]byte, error) {
	namespace, name := containerRef(containerID)
	args := append(nsArgs(namespace), "exec", name, "--")
	args = append(args, cmdArgs...)
	cmd := execCommandContext(ctx, "kubectl", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return output, fmt.Errorf("exec in pod %s failed: %w", logging.TruncateID(name), err)
	}
	return output, nil
}

// Status maps the pod's phase onto ContainerStatus.
func (k *KubernetesRuntime) Status(ctx context.Context, containerID string) (ContainerStatus, error) {
	namespace, name := containerRef(containerID)
	args := append(nsArgs(namespace), "get", "pod", name, "-o", "jsonpath={.status.phase}")
	cmd := execCommandContext(ctx, "kubectl", args...)
	output, err := cmd.Output()
	if err != nil {
		return StatusUnknown, fmt.Errorf("failed to get phase of pod %s: %w", logging.TruncateID(name), err)
	}

	switch strings.TrimSpace(string(output)) {
	case "Pending":
		return StatusCreated, nil
	case "Running":
		return StatusRunning, nil
	case "Succeeded", "Failed":
		return StatusExited, nil
	default:
		return StatusUnknown, nil
	}
}

// IsContainerRunning reports whether the pod's phase is Running.
func (k *KubernetesRuntime) IsContainerRunning(ctx context.Context, containerID string) (bool, error) {
	status, err := k.Status(ctx, containerID)
	if err != nil {
		return false, err
	}
	return status == StatusRunning, nil
}

// GetContainerPort returns containerPort unchanged: pods in the same
// cluster reach each other by DNS name and container port directly,
// with no host-side mapping to resolve.
func (k *KubernetesRuntime) GetContainerPort(ctx context.Context, containerID string, containerPort string) (string, error) {
	return containerPort, nil
}

// WaitHealthy polls the pod's readiness until true, the context is
// cancelled, or timeout elapses.
func (k *KubernetesRuntime) WaitHealthy(ctx context.Context, containerID string, timeout string) error {
	deadline := 60 * time.Second
	if timeout != "" {
		if parsed, err := time.ParseDuration(timeout); err == nil {
			deadline = parsed
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		ready, err := k.podReady(waitCtx, containerID)
		if err == nil && ready {
			return nil
		}

		select {
		case <-waitCtx.Done():
			_, name := containerRef(containerID)
			return fmt.Errorf("pod %s did not become ready within %s", logging.TruncateID(name), deadline)
		case <-ticker.C:
		}
	}
}

func (k *KubernetesRuntime) podReady(ctx context.Context, containerID string) (bool, error) {
	namespace, name := containerRef(containerID)
	args := append(nsArgs(namespace), "get", "pod", name, "-o", "jsonpath={.status.containerStatuses[0].ready}")
	cmd := execCommandContext(ctx, "kubectl", args...)
	output, err := cmd.Output()
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(string(output)) == "true", nil
}

// ExitInfo reports the container's last terminated state.
func (k *KubernetesRuntime) ExitInfo(ctx context.Context, containerID string) (ExitInfo, error) {
	namespace, name := containerRef(containerID)
	args := append(nsArgs(namespace), "get", "pod", name, "-o",
		"jsonpath={.status.containerStatuses[0].lastState.terminated.exitCode} {.status.containerStatuses[0].lastState.terminated.reason}")
	cmd := execCommandContext(ctx, "kubectl", args...)
	output, err := cmd.Output()
	if err != nil {
		return ExitInfo{}, fmt.Errorf("failed to get exit state of pod %s: %w", logging.TruncateID(name), err)
	}

	fields := strings.Fields(strings.TrimSpace(string(output)))
	if len(fields) == 0 {
		return ExitInfo{}, nil
	}

	code, _ := strconv.Atoi(fields[0])
	oomKilled := len(fields) > 1 && fields[1] == "OOMKilled"
	return ExitInfo{ExitCode: code, OOMKilled: oomKilled}, nil
}

// EnsureNetwork creates the namespace a project's pods run in, reusing
// the manifest's network name field as the namespace name.
func (k *KubernetesRuntime) EnsureNetwork(ctx context.Context, name string) error {
	checkCmd := execCommandContext(ctx, "kubectl", "get", "namespace", name)
	if err := checkCmd.Run(); err == nil {
		return nil
	}

	logging.Info(kubernetesSubsystem, "Creating namespace %s", name)
	cmd := execCommandContext(ctx, "kubectl", "create", "namespace", name)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to create namespace %s: %w", name, err)
	}
	return nil
}

// RemoveNetwork deletes the namespace and everything in it.
func (k *KubernetesRuntime) RemoveNetwork(ctx context.Context, name string) error {
	cmd := execCommandContext(ctx, "kubectl", "delete", "namespace", name, "--ignore-not-found")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to remove namespace %s: %w", name, err)
	}
	return nil
}
