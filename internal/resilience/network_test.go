package resilience

import (
	"context"
	"fmt"
	"testing"
)

func TestCheckDNSResolutionSuccess(t *testing.T) {
	v := &NetworkVerifier{
		Exec: func(ctx context.Context, containerID string, cmd []string) ([]byte, error) {
			return []byte("10.0.0.5  db\n"), nil
		},
	}

	result, err := v.CheckDNSResolution(context.Background(), "api", "db")
	if err != nil {
		t.Fatalf("CheckDNSResolution() error = %v", err)
	}
	if !result.Resolved || result.Address != "10.0.0.5" {
		t.Errorf("CheckDNSResolution() = %+v", result)
	}
}

func TestCheckDNSResolutionFailure(t *testing.T) {
	v := &NetworkVerifier{
		Exec: func(ctx context.Context, containerID string, cmd []string) ([]byte, error) {
			return nil, fmt.Errorf("getent: not found")
		},
	}

	result, err := v.CheckDNSResolution(context.Background(), "api", "nope")
	if err != nil {
		t.Fatalf("CheckDNSResolution() error = %v, want nil", err)
	}
	if result.Resolved {
		t.Error("expected Resolved = false")
	}
}

func TestVerifyConnectivityAllReachable(t *testing.T) {
	v := &NetworkVerifier{
		Exec: func(ctx context.Context, containerID string, cmd []string) ([]byte, error) {
			if cmd[0] == "getent" {
				return []byte("10.0.0.5 host\n"), nil
			}
			return nil, nil
		},
	}

	results, err := v.VerifyConnectivity(context.Background(), "api", []string{"db", "cache"}, "e2e-network")
	if err != nil {
		t.Fatalf("VerifyConnectivity() error = %v", err)
	}
	for _, target := range []string{"db", "cache"} {
		if !results[target] {
			t.Errorf("expected %s reachable", target)
		}
	}
}

func TestVerifyConnectivityDetectsUnreachableTarget(t *testing.T) {
	v := &NetworkVerifier{
		Exec: func(ctx context.Context, containerID string, cmd []string) ([]byte, error) {
			if cmd[0] == "getent" {
				if containsArg(cmd, "down") {
					return nil, fmt.Errorf("not found")
				}
				return []byte("10.0.0.5 host\n"), nil
			}
			return nil, nil
		},
	}

	results, err := v.VerifyConnectivity(context.Background(), "api", []string{"db", "down"}, "e2e-network")
	if err == nil {
		t.Fatal("expected error when a target is unreachable")
	}
	if results["db"] != true {
		t.Error("expected db reachable")
	}
	if results["down"] != false {
		t.Error("expected down unreachable")
	}
}

func containsArg(cmd []string, arg string) bool {
	for _, c := range cmd {
		if c == arg {
			return true
		}
	}
	return false
}
