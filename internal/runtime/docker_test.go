package runtime

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"
)

func init() {
	execCommandContext = mockExecCommandContext
}

func mockExecCommandContext(ctx context.Context, name string, args ...string) *exec.Cmd {
	return mockExecCommand(name, args...)
}

func mockExecCommand(command string, args ...string) *exec.Cmd {
	cs := []string{"-test.run=TestHelperProcess", "--", command}
	cs = append(cs, args...)
	cmd := exec.Command(os.Args[0], cs...)
	cmd.Env = []string{"GO_WANT_HELPER_PROCESS=1"}
	return cmd
}

// TestHelperProcess is not a real test; it is re-executed as a subprocess by
// mockExecCommand to stand in for the docker CLI.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	args := os.Args
	for i, arg := range args {
		if arg == "--" {
			args = args[i+1:]
			break
		}
	}
	if len(args) == 0 {
		fmt.Fprintf(os.Stderr, "No command\n")
		os.Exit(2)
	}

	cmd, args := args[0], args[1:]
	if cmd != "docker" || len(args) == 0 {
		fmt.Fprintf(os.Stderr, "unsupported command: %s %v\n", cmd, args)
		os.Exit(1)
	}

	switch args[0] {
	case "info":
		os.Exit(0)

	case "build":
		fmt.Println("Successfully built abc123")
		os.Exit(0)

	case "image":
		if len(args) > 2 && args[1] == "inspect" {
			if args[2] == "alpine:latest" {
				os.Exit(0)
			}
			os.Exit(1)
		}

	case "pull":
		if len(args) > 1 {
			if args[1] == "nonexistent/image:doesnotexist" {
				fmt.Fprintf(os.Stderr, "pull access denied\n")
				os.Exit(1)
			}
			os.Exit(0)
		}

	case "run":
		fmt.Println("abc123def456789")
		os.Exit(0)

	case "stop", "rm":
		os.Exit(0)

	case "exec":
		fmt.Println("exec output")
		os.Exit(0)

	case "inspect":
		if len(args) > 3 && args[1] == "-f" {
			switch args[2] {
			case "{{.State.Running}}":
				fmt.Println("true")
			case "{{.State.Status}}":
				fmt.Println("running")
			case "{{if .State.Health}}{{.State.Health.Status}}{{else}}none{{end}}":
				fmt.Println("healthy")
			case "{{.State.ExitCode}} {{.State.OOMKilled}}":
				fmt.Println("137 true")
			}
			os.Exit(0)
		}

	case "port":
		if len(args) > 2 {
			switch args[2] {
			case "80":
				fmt.Println("0.0.0.0:32768")
			case "443":
				fmt.Println("[::]:32769")
			default:
				os.Exit(1)
			}
			os.Exit(0)
		}

	case "logs":
		fmt.Println("Container started")
		os.Exit(0)

	case "network":
		if len(args) > 1 {
			switch args[1] {
			case "inspect":
				os.Exit(1) // force create path in tests
			case "create", "rm":
				os.Exit(0)
			}
		}
	}

	fmt.Fprintf(os.Stderr, "unknown docker subcommand: %v\n", args)
	os.Exit(1)
}

func TestNewDockerRuntime(t *testing.T) {
	rt, err := NewDockerRuntime()
	if err != nil {
		t.Fatalf("NewDockerRuntime() error = %v, want nil", err)
	}
	if rt == nil {
		t.Fatal("NewDockerRuntime() returned nil")
	}
}

func TestDockerRuntime_BuildImage(t *testing.T) {
	d := &DockerRuntime{}
	err := d.BuildImage(context.Background(), BuildConfig{Context: ".", Tag: "e2eforge/api:test"})
	if err != nil {
		t.Errorf("BuildImage() error = %v, want nil", err)
	}
}

func TestDockerRuntime_PullImage(t *testing.T) {
	tests := []struct {
		name        string
		image       string
		expectError bool
	}{
		{"image already exists", "alpine:latest", false},
		{"image needs pull", "hello-world:latest", false},
		{"pull fails", "nonexistent/image:doesnotexist", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &DockerRuntime{}
			err := d.PullImage(context.Background(), tt.image)
			if (err != nil) != tt.expectError {
				t.Errorf("PullImage() error = %v, expectError %v", err, tt.expectError)
			}
		})
	}
}

func TestDockerRuntime_StartContainer(t *testing.T) {
	d := &DockerRuntime{}
	id, err := d.StartContainer(context.Background(), ContainerConfig{
		Name:    "api-test",
		Image:   "alpine:latest",
		Network: "e2e-network",
		Ports:   []string{"8080:80"},
		Env:     map[string]string{"ENV": "test"},
	})
	if err != nil {
		t.Fatalf("StartContainer() error = %v, want nil", err)
	}
	if id == "" {
		t.Error("StartContainer() returned empty container ID")
	}
}

func TestDockerRuntime_StopAndRemoveContainer(t *testing.T) {
	d := &DockerRuntime{}
	ctx := context.Background()
	if err := d.StopContainer(ctx, "abc123def456"); err != nil {
		t.Errorf("StopContainer() error = %v, want nil", err)
	}
	if err := d.RemoveContainer(ctx, "abc123def456"); err != nil {
		t.Errorf("RemoveContainer() error = %v, want nil", err)
	}
}

func TestDockerRuntime_Exec(t *testing.T) {
	d := &DockerRuntime{}
	out, err := d.Exec(context.Background(), "abc123", []string{"echo", "hi"})
	if err != nil {
		t.Fatalf("Exec() error = %v, want nil", err)
	}
	if !strings.Contains(string(out), "exec output") {
		t.Errorf("Exec() output = %q", out)
	}
}

func TestDockerRuntime_Status(t *testing.T) {
	d := &DockerRuntime{}
	status, err := d.Status(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("Status() error = %v, want nil", err)
	}
	if status != StatusRunning {
		t.Errorf("Status() = %v, want %v", status, StatusRunning)
	}
}

func TestDockerRuntime_IsContainerRunning(t *testing.T) {
	d := &DockerRuntime{}
	running, err := d.IsContainerRunning(context.Background(), "abc123def456")
	if err != nil {
		t.Fatalf("IsContainerRunning() error = %v, want nil", err)
	}
	if !running {
		t.Error("IsContainerRunning() = false, want true")
	}
}

func TestDockerRuntime_WaitHealthy(t *testing.T) {
	d := &DockerRuntime{}
	if err := d.WaitHealthy(context.Background(), "abc123", "5s"); err != nil {
		t.Errorf("WaitHealthy() error = %v, want nil", err)
	}
}

func TestDockerRuntime_GetContainerPort(t *testing.T) {
	tests := []struct {
		name          string
		containerPort string
		expectedPort  string
		expectError   bool
	}{
		{"standard format", "80", "32768", false},
		{"IPv6 format", "443", "32769", false},
		{"no mapping", "8080", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &DockerRuntime{}
			port, err := d.GetContainerPort(context.Background(), "abc123", tt.containerPort)
			if (err != nil) != tt.expectError {
				t.Errorf("GetContainerPort() error = %v, expectError %v", err, tt.expectError)
			}
			if !tt.expectError && port != tt.expectedPort {
				t.Errorf("GetContainerPort() = %v, want %v", port, tt.expectedPort)
			}
		})
	}
}

func TestDockerRuntime_ExitInfo(t *testing.T) {
	d := &DockerRuntime{}
	info, err := d.ExitInfo(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("ExitInfo() error = %v, want nil", err)
	}
	if info.ExitCode != 137 || !info.OOMKilled {
		t.Errorf("ExitInfo() = %+v, want {ExitCode:137 OOMKilled:true}", info)
	}
}

func TestDockerRuntime_EnsureNetwork(t *testing.T) {
	d := &DockerRuntime{}
	if err := d.EnsureNetwork(context.Background(), "e2e-network"); err != nil {
		t.Errorf("EnsureNetwork() error = %v, want nil", err)
	}
}

func TestDockerRuntime_RemoveNetwork(t *testing.T) {
	d := &DockerRuntime{}
	if err := d.RemoveNetwork(context.Background(), "e2e-network"); err != nil {
		t.Errorf("RemoveNetwork() error = %v, want nil", err)
	}
}

func TestExpandPath(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		contains string
	}{
		{"no tilde", "/absolute/path", "/absolute/path"},
		{"relative path", "relative/path", "relative/path"},
		{"tilde path", "~/test/path", "/test/path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := expandPath(tt.input)
			if !strings.Contains(result, tt.contains) {
				t.Errorf("expandPath(%q) = %q, want to contain %q", tt.input, result, tt.contains)
			}
		})
	}
}

func TestParsePortFromLogLine(t *testing.T) {
	tests := []struct {
		name         string
		line         string
		expectedPort int
		expectFound  bool
	}{
		{"JSON with port field", `{"port": 8080, "message": "Server started"}`, 8080, true},
		{"JSON with port in message", `{"message": "Server listening on port 3000"}`, 3000, true},
		{"no port information", `{"message": "Server started"}`, 0, false},
		{"plain text line", "Server running", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port, found := parsePortFromLogLine(tt.line)
			if found != tt.expectFound {
				t.Errorf("parsePortFromLogLine() found = %v, want %v", found, tt.expectFound)
			}
			if port != tt.expectedPort {
				t.Errorf("parsePortFromLogLine() = %v, want %v", port, tt.expectedPort)
			}
		})
	}
}
