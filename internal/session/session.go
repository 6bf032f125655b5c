// Package session owns the per-(client,project) state machine that every
// tool-call and CLI operation acts through: exactly one session per key,
// restricted state transitions, an exclusive per-session lock, and a
// background TTL sweeper that reclaims abandoned sessions.
package session

import (
	"fmt"
	"sync"
	"time"

	"e2eforge/internal/config"
	"e2eforge/internal/eventbus"
	"e2eforge/pkg/logging"

	"github.com/google/uuid"
)

const subsystem = "Session"

// State is one of a session's four lifecycle states.
type State string

const (
	StateInitialized State = "initialized"
	StateBuilt       State = "built"
	StateRunning     State = "running"
	StateStopped     State = "stopped"
)

var allowedTransitions = map[State][]State{
	StateInitialized: {StateBuilt, StateStopped},
	StateBuilt:       {StateRunning, StateStopped},
	StateRunning:     {StateStopped},
	StateStopped:     {StateInitialized},
}

// ErrorCode is a stable, tool-call-facing session error code.
type ErrorCode string

const (
	CodeSessionExists   ErrorCode = "SESSION_EXISTS"
	CodeSessionNotFound ErrorCode = "SESSION_NOT_FOUND"
	CodeInvalidState    ErrorCode = "INVALID_STATE"
)

// Error is a typed session error carrying a stable code.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

// MockServerHandle is a running mock server owned by a session, closed when
// the session is destroyed or swept.
type MockServerHandle struct {
	Closer func() error
	Port   int
}

// Key identifies a session by the client that opened it and the project
// directory it targets.
type Key struct {
	ClientID    string
	ProjectPath string
}

func (k Key) String() string { return k.ClientID + ":" + k.ProjectPath }

// Session is the per-(client,project) state object that owns a manifest and
// the resources brought up for it.
type Session struct {
	Key         Key
	RunID       string
	Config      *config.Project
	ConfigPath  string
	NetworkName string

	mu               sync.Mutex
	state            State
	containerIDs     map[string]string
	mockServers      map[string]MockServerHandle
	activeGuardians  map[string]func()
	portMappings     map[string]int
	createdAt        time.Time
	lastAccessedAt   time.Time
	lockedByOp       string
}

func newSession(key Key, cfg *config.Project, configPath string) *Session {
	now := time.Now()
	return &Session{
		Key:            key,
		RunID:          uuid.NewString(),
		Config:         cfg,
		ConfigPath:     configPath,
		state:          StateInitialized,
		containerIDs:   map[string]string{},
		mockServers:    map[string]MockServerHandle{},
		activeGuardians: map[string]func(){},
		portMappings:   map[string]int{},
		createdAt:      now,
		lastAccessedAt: now,
	}
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Touch refreshes lastAccessedAt, called by every accessor.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAccessedAt = time.Now()
}

// LastAccessedAt returns when the session was last touched.
func (s *Session) LastAccessedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAccessedAt
}

// SetContainerID records a service's started container ID.
func (s *Session) SetContainerID(service, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.containerIDs[service] = id
}

// ContainerIDs returns a copy of the service→containerID map.
func (s *Session) ContainerIDs() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.containerIDs))
	for k, v := range s.containerIDs {
		out[k] = v
	}
	return out
}

// SetMockServer records a running mock server for a service.
func (s *Session) SetMockServer(service string, handle MockServerHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mockServers[service] = handle
}

// MockServers returns a copy of the service→mock-server map.
func (s *Session) MockServers() map[string]MockServerHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]MockServerHandle, len(s.mockServers))
	for k, v := range s.mockServers {
		out[k] = v
	}
	return out
}

// SetGuardianStop records the stop function for a service's container
// guardian goroutine.
func (s *Session) SetGuardianStop(service string, stop func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeGuardians[service] = stop
}

// transition enforces the allowed-transitions table, raising INVALID_STATE
// on a disallowed move.
func (s *Session) transition(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, allowed := range allowedTransitions[s.state] {
		if allowed == to {
			s.state = to
			s.lastAccessedAt = time.Now()
			return nil
		}
	}
	return &Error{Code: CodeInvalidState, Message: fmt.Sprintf("cannot transition from %s to %s", s.state, to)}
}

// acquireLock tries to take the session's exclusive operation lock, failing
// fast naming the current holder if one exists.
func (s *Session) acquireLock(operation string) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lockedByOp != "" {
		return nil, &Error{Code: CodeInvalidState, Message: fmt.Sprintf("operation %s is already in progress", s.lockedByOp)}
	}
	s.lockedByOp = operation

	release := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.lockedByOp = ""
	}
	return release, nil
}

func (s *Session) isLocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lockedByOp != ""
}

// Manager owns every live Session, keyed by (clientId, projectPath), and
// sweeps abandoned ones after a TTL.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	bus      *eventbus.Bus
	ttl      time.Duration

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewManager returns a manager whose sweeper reclaims sessions idle past
// ttl (defaulting to 2h) every sweepInterval.
func NewManager(bus *eventbus.Bus, ttl, sweepInterval time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	if sweepInterval <= 0 {
		sweepInterval = 5 * time.Minute
	}

	m := &Manager{
		sessions: map[string]*Session{},
		bus:      bus,
		ttl:      ttl,
		stop:     make(chan struct{}),
	}

	m.wg.Add(1)
	go m.sweepLoop(sweepInterval)

	return m
}

// Create opens a new session for key, failing with SESSION_EXISTS if one
// is already open.
func (m *Manager) Create(key Key, cfg *config.Project, configPath string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key.String()
	if _, exists := m.sessions[k]; exists {
		return nil, &Error{Code: CodeSessionExists, Message: fmt.Sprintf("a session already exists for %s", k)}
	}

	s := newSession(key, cfg, configPath)
	m.sessions[k] = s
	logging.Info(subsystem, "created session %s (run %s)", k, s.RunID)
	return s, nil
}

// GetOrThrow returns the session for key or a SESSION_NOT_FOUND error.
func (m *Manager) GetOrThrow(key Key) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[key.String()]
	if !ok {
		return nil, &Error{Code: CodeSessionNotFound, Message: fmt.Sprintf("no session for %s", key.String())}
	}
	s.Touch()
	return s, nil
}

// Transition moves the session for key to the given state.
func (m *Manager) Transition(key Key, to State) error {
	s, err := m.GetOrThrow(key)
	if err != nil {
		return err
	}
	return s.transition(to)
}

// AcquireLock acquires the named session's exclusive operation lock and
// returns a release function to call when the operation completes.
func (m *Manager) AcquireLock(key Key, operation string) (func(), error) {
	s, err := m.GetOrThrow(key)
	if err != nil {
		return nil, err
	}
	return s.acquireLock(operation)
}

// Destroy removes the session for key, releasing everything it owns.
// Each mock server's Closer and each active container guardian's stop
// function is called, best-effort.
func (m *Manager) Destroy(key Key) error {
	m.mu.Lock()
	k := key.String()
	s, ok := m.sessions[k]
	if !ok {
		m.mu.Unlock()
		return &Error{Code: CodeSessionNotFound, Message: fmt.Sprintf("no session for %s", k)}
	}
	delete(m.sessions, k)
	m.mu.Unlock()

	s.release()
	logging.Info(subsystem, "destroyed session %s", k)
	return nil
}

func (s *Session) release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, handle := range s.mockServers {
		if handle.Closer == nil {
			continue
		}
		if err := handle.Closer(); err != nil {
			logging.Warn(subsystem, "failed to close mock server for %s: %v", name, err)
		}
	}
	for _, stop := range s.activeGuardians {
		stop()
	}
}

// Stop halts the background sweeper. Call once, at process shutdown.
func (m *Manager) Stop() {
	close(m.stop)
	m.wg.Wait()
}

func (m *Manager) sweepLoop(interval time.Duration) {
	defer m.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	now := time.Now()
	var cleaned []string

	m.mu.Lock()
	for k, s := range m.sessions {
		if s.isLocked() {
			logging.Debug(subsystem, "sweeper skipping locked session %s", k)
			continue
		}
		if now.Sub(s.LastAccessedAt()) > m.ttl {
			s.release()
			delete(m.sessions, k)
			cleaned = append(cleaned, k)
		}
	}
	m.mu.Unlock()

	if len(cleaned) > 0 {
		logging.Info(subsystem, "swept %d expired sessions", len(cleaned))
		if m.bus != nil {
			m.bus.Emit(eventbus.ChannelActivity, SessionsCleanedEvent{Keys: cleaned})
		}
	}
}

// SessionsCleanedEvent is emitted after a sweep pass removes one or more
// expired sessions.
type SessionsCleanedEvent struct {
	Keys []string
}
