package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Manager creates one scratch directory per module invocation so that
// subprocess executors never share a working directory.
type Manager struct {
	config ManagerConfig
	mu     sync.Mutex
	active map[string]*Info // path -> info
}

// NewManager creates a new workspace manager
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Root == "" {
		cfg.Root = filepath.Join(os.TempDir(), "pipelined")
	}
	return &Manager{
		config: cfg,
		active: make(map[string]*Info),
	}
}

// Root returns the directory workspaces are created under
func (m *Manager) Root() string {
	return m.config.Root
}

// Create creates a fresh workspace for one invocation of module
func (m *Manager) Create(runID, module string, attempt int) (*Info, error) {
	if err := os.MkdirAll(m.config.Root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workspace root: %w", err)
	}

	pattern := fmt.Sprintf("%s-%s-%d-*", sanitize(module), shortID(runID), attempt)
	path, err := os.MkdirTemp(m.config.Root, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace for %q: %w", module, err)
	}

	info := &Info{
		Path:    path,
		Module:  module,
		RunID:   runID,
		Attempt: attempt,
	}

	m.mu.Lock()
	m.active[path] = info
	m.mu.Unlock()

	return info, nil
}

// Cleanup removes the workspace directory and forgets it
func (m *Manager) Cleanup(info *Info) error {
	if info == nil {
		return nil
	}

	m.mu.Lock()
	delete(m.active, info.Path)
	m.mu.Unlock()

	if m.config.KeepDirs {
		return nil
	}
	if err := os.RemoveAll(info.Path); err != nil {
		return fmt.Errorf("failed to remove workspace %s: %w", info.Path, err)
	}
	return nil
}

// CleanupAll removes every workspace that is still active (shutdown path)
func (m *Manager) CleanupAll() error {
	m.mu.Lock()
	infos := make([]*Info, 0, len(m.active))
	for _, info := range m.active {
		infos = append(infos, info)
	}
	m.mu.Unlock()

	var errs []error
	for _, info := range infos {
		if err := m.Cleanup(info); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors cleaning workspaces: %v", errs)
	}
	return nil
}

// Prune removes leftover workspaces from prior crashes.
// Directories tracked as active are left alone.
func (m *Manager) Prune() error {
	entries, err := os.ReadDir(m.config.Root)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read workspace root: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(m.config.Root, entry.Name())
		if _, busy := m.active[path]; busy {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("failed to prune %s: %w", path, err)
		}
	}
	return nil
}

// ActiveCount returns the number of workspaces not yet cleaned up
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	if id == "" {
		return "adhoc"
	}
	return id
}
