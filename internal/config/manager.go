package config

import (
	"sync"

	"e2eforge/pkg/logging"

	"github.com/fsnotify/fsnotify"
)

// Manager owns the currently loaded manifest for one project directory and
// watches it for changes so the dashboard's project list can react without
// a restart.
type Manager struct {
	mu          sync.RWMutex
	projectDir  string
	manifestPath string
	project     *Project
	errors      *ConfigurationErrorCollection

	watcher    *fsnotify.Watcher
	onReload   []func(*Project)
}

// NewManager loads the manifest for projectDir and starts watching it.
func NewManager(projectDir string) (*Manager, error) {
	project, errs, err := LoadProject(projectDir)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		projectDir:   projectDir,
		manifestPath: project.SourcePath(),
		project:      project,
		errors:       errs,
	}

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if watchErr := watcher.Add(m.manifestPath); watchErr == nil {
			m.watcher = watcher
			go m.watchLoop()
		} else {
			watcher.Close()
		}
	}

	return m, nil
}

// Current returns the currently loaded manifest and its validation errors.
func (m *Manager) Current() (*Project, *ConfigurationErrorCollection) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.project, m.errors
}

// OnReload registers a callback invoked every time the manifest is
// successfully reloaded from disk.
func (m *Manager) OnReload(fn func(*Project)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReload = append(m.onReload, fn)
}

func (m *Manager) watchLoop() {
	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			m.reload()
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			logging.Warn(subsystem, "manifest watcher error: %v", err)
		}
	}
}

func (m *Manager) reload() {
	project, errs, err := Load(m.manifestPath)
	if err != nil {
		logging.Error(subsystem, err, "failed to reload manifest %s", m.manifestPath)
		return
	}

	m.mu.Lock()
	m.project = project
	m.errors = errs
	callbacks := append([]func(*Project){}, m.onReload...)
	m.mu.Unlock()

	for _, cb := range callbacks {
		cb(project)
	}
}

// Close stops watching the manifest file.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}
