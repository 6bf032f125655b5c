package dashboard

import (
	"sort"
	"sync"

	"e2eforge/internal/config"
)

// projectRegistry tracks the projects the dashboard has been told about,
// each backed by its own watched config.Manager so edits made through
// the config endpoints are picked up the same way a CLI-driven reload
// would be.
type projectRegistry struct {
	mu       sync.RWMutex
	managers map[string]*config.Manager
}

func newProjectRegistry() *projectRegistry {
	return &projectRegistry{managers: map[string]*config.Manager{}}
}

// add registers projectDir, loading and watching its manifest. Calling
// add again for an already-registered directory is a no-op that returns
// the existing manager.
func (p *projectRegistry) add(projectDir string) (*config.Manager, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if m, ok := p.managers[projectDir]; ok {
		return m, nil
	}
	m, err := config.NewManager(projectDir)
	if err != nil {
		return nil, err
	}
	p.managers[projectDir] = m
	return m, nil
}

func (p *projectRegistry) remove(projectDir string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	m, ok := p.managers[projectDir]
	if !ok {
		return false
	}
	m.Close()
	delete(p.managers, projectDir)
	return true
}

func (p *projectRegistry) get(projectDir string) (*config.Manager, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	m, ok := p.managers[projectDir]
	return m, ok
}

func (p *projectRegistry) list() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	dirs := make([]string, 0, len(p.managers))
	for dir := range p.managers {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)
	return dirs
}

func (p *projectRegistry) closeAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range p.managers {
		m.Close()
	}
}
