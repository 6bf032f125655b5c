package session

import (
	"testing"
	"time"

	"e2eforge/internal/config"
	"e2eforge/internal/eventbus"
)

func testKey() Key { return Key{ClientID: "agent-1", ProjectPath: "/tmp/project"} }

func TestCreateRejectsDuplicate(t *testing.T) {
	m := NewManager(nil, time.Hour, time.Hour)
	defer m.Stop()

	if _, err := m.Create(testKey(), &config.Project{}, "project.yaml"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	_, err := m.Create(testKey(), &config.Project{}, "project.yaml")
	if err == nil {
		t.Fatal("expected SESSION_EXISTS error")
	}
	if se, ok := err.(*Error); !ok || se.Code != CodeSessionExists {
		t.Errorf("expected CodeSessionExists, got %v", err)
	}
}

func TestGetOrThrowNotFound(t *testing.T) {
	m := NewManager(nil, time.Hour, time.Hour)
	defer m.Stop()

	_, err := m.GetOrThrow(testKey())
	if se, ok := err.(*Error); !ok || se.Code != CodeSessionNotFound {
		t.Errorf("expected CodeSessionNotFound, got %v", err)
	}
}

func TestTransitionEnforcesStateMachine(t *testing.T) {
	m := NewManager(nil, time.Hour, time.Hour)
	defer m.Stop()
	key := testKey()
	m.Create(key, &config.Project{}, "project.yaml")

	if err := m.Transition(key, StateBuilt); err != nil {
		t.Fatalf("initialized->built should be allowed, got %v", err)
	}
	if err := m.Transition(key, StateInitialized); err == nil {
		t.Fatal("built->initialized should be rejected")
	}
	if err := m.Transition(key, StateRunning); err != nil {
		t.Fatalf("built->running should be allowed, got %v", err)
	}
	if err := m.Transition(key, StateStopped); err != nil {
		t.Fatalf("running->stopped should be allowed, got %v", err)
	}
	if err := m.Transition(key, StateInitialized); err != nil {
		t.Fatalf("stopped->initialized should be allowed, got %v", err)
	}
}

func TestAcquireLockFailsFastWhenHeld(t *testing.T) {
	m := NewManager(nil, time.Hour, time.Hour)
	defer m.Stop()
	key := testKey()
	m.Create(key, &config.Project{}, "project.yaml")

	release, err := m.AcquireLock(key, "build")
	if err != nil {
		t.Fatalf("AcquireLock() error = %v", err)
	}

	_, err = m.AcquireLock(key, "run")
	if err == nil {
		t.Fatal("expected lock conflict error")
	}
	if se, ok := err.(*Error); !ok || se.Code != CodeInvalidState {
		t.Errorf("expected CodeInvalidState, got %v", err)
	}

	release()
	if _, err := m.AcquireLock(key, "run"); err != nil {
		t.Errorf("expected lock to be free after release, got %v", err)
	}
}

func TestDestroyClosesMocksAndGuardians(t *testing.T) {
	m := NewManager(nil, time.Hour, time.Hour)
	defer m.Stop()
	key := testKey()
	s, _ := m.Create(key, &config.Project{}, "project.yaml")

	closed := false
	s.SetMockServer("api", MockServerHandle{Closer: func() error { closed = true; return nil }, Port: 9000})

	stopped := false
	s.SetGuardianStop("api", func() { stopped = true })

	if err := m.Destroy(key); err != nil {
		t.Fatalf("Destroy() error = %v", err)
	}
	if !closed {
		t.Error("expected mock server closer to be invoked")
	}
	if !stopped {
		t.Error("expected guardian stop to be invoked")
	}
	if _, err := m.GetOrThrow(key); err == nil {
		t.Error("expected session to be gone after destroy")
	}
}

func TestSweepRemovesExpiredUnlockedSessions(t *testing.T) {
	bus := eventbus.New()
	var cleanedEvents []SessionsCleanedEvent
	bus.Subscribe(eventbus.ChannelActivity, func(msg interface{}) {
		if e, ok := msg.(SessionsCleanedEvent); ok {
			cleanedEvents = append(cleanedEvents, e)
		}
	})

	m := NewManager(bus, 10*time.Millisecond, 5*time.Millisecond)
	defer m.Stop()
	key := testKey()
	m.Create(key, &config.Project{}, "project.yaml")

	time.Sleep(60 * time.Millisecond)

	if _, err := m.GetOrThrow(key); err == nil {
		t.Error("expected expired session to have been swept")
	}
	if len(cleanedEvents) == 0 {
		t.Error("expected a sessions_cleaned event")
	}
}

func TestSweepSkipsLockedSessions(t *testing.T) {
	m := NewManager(nil, 10*time.Millisecond, 5*time.Millisecond)
	defer m.Stop()
	key := testKey()
	m.Create(key, &config.Project{}, "project.yaml")

	release, err := m.AcquireLock(key, "run")
	if err != nil {
		t.Fatalf("AcquireLock() error = %v", err)
	}
	defer release()

	time.Sleep(60 * time.Millisecond)

	if _, err := m.GetOrThrow(key); err != nil {
		t.Errorf("expected locked session to survive sweep, got %v", err)
	}
}
