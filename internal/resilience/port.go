package resilience

import (
	"fmt"
	"net"
	"strconv"

	"e2eforge/internal/config"
	"e2eforge/internal/eventbus"
	"e2eforge/pkg/logging"
)

// PortResolvedEvent is emitted whenever a busy host port is remapped.
type PortResolvedEvent struct {
	Service  string
	Original int
	Resolved int
}

// PortResolver scans a service's configured host ports and, under the
// "auto" strategy, rebinds any busy one to an ephemeral port.
type PortResolver struct {
	Strategy config.PortConflictStrategy
	Bus      *eventbus.Bus
}

// Resolve checks hostPort for service and, if busy, applies Strategy:
// "auto" rebinds to an OS-assigned ephemeral port, "fail" returns an error,
// "manual" returns hostPort unchanged and lets the caller surface the
// conflict to the user.
func (r *PortResolver) Resolve(service string, hostPort int) (int, error) {
	if !portBusy(hostPort) {
		return hostPort, nil
	}

	switch r.Strategy {
	case config.PortStrategyFail:
		return 0, fmt.Errorf("port %d for service %s is already in use", hostPort, service)
	case config.PortStrategyManual:
		logging.Warn(subsystem, "port %d for service %s is busy; manual strategy leaves it unresolved", hostPort, service)
		return hostPort, nil
	default: // auto
		resolved, err := ephemeralPort()
		if err != nil {
			return 0, fmt.Errorf("resolving ephemeral port for service %s: %w", service, err)
		}
		logging.Info(subsystem, "port %d busy for service %s, resolved to %d", hostPort, service, resolved)
		if r.Bus != nil {
			r.Bus.Emit(eventbus.ChannelResilience, PortResolvedEvent{Service: service, Original: hostPort, Resolved: resolved})
		}
		return resolved, nil
	}
}

func portBusy(port int) bool {
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return true
	}
	ln.Close()
	return false
}

func ephemeralPort() (int, error) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		return 0, err
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}
