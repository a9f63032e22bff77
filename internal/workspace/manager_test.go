package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(ManagerConfig{Root: filepath.Join(t.TempDir(), "ws")})
}

func TestCreateAndCleanup(t *testing.T) {
	m := newTestManager(t)

	info, err := m.Create("3f2a9c1e-aaaa-bbbb", "code_generation", 2)
	require.NoError(t, err)

	assert.DirExists(t, info.Path)
	assert.True(t, strings.HasPrefix(filepath.Base(info.Path), "code_generation-3f2a9c1e-2-"))
	assert.Equal(t, 1, m.ActiveCount())

	require.NoError(t, m.Cleanup(info))
	assert.NoDirExists(t, info.Path)
	assert.Equal(t, 0, m.ActiveCount())
}

func TestCreate_DistinctPerAttempt(t *testing.T) {
	m := newTestManager(t)

	a, err := m.Create("run", "testing", 1)
	require.NoError(t, err)
	b, err := m.Create("run", "testing", 1)
	require.NoError(t, err)

	assert.NotEqual(t, a.Path, b.Path, "every invocation gets its own directory")
}

func TestCreate_SanitizesModuleName(t *testing.T) {
	m := newTestManager(t)

	info, err := m.Create("", "../escape/me", 1)
	require.NoError(t, err)

	assert.Equal(t, m.Root(), filepath.Dir(info.Path))
	assert.Contains(t, filepath.Base(info.Path), "___escape_me-adhoc-1-")
}

func TestKeepDirs(t *testing.T) {
	m := NewManager(ManagerConfig{Root: t.TempDir(), KeepDirs: true})

	info, err := m.Create("run", "deployment", 1)
	require.NoError(t, err)
	require.NoError(t, m.Cleanup(info))

	assert.DirExists(t, info.Path)
	assert.Equal(t, 0, m.ActiveCount())
}

func TestCleanupAll(t *testing.T) {
	m := newTestManager(t)

	var paths []string
	for i := 1; i <= 3; i++ {
		info, err := m.Create("run", "module", i)
		require.NoError(t, err)
		paths = append(paths, info.Path)
	}

	require.NoError(t, m.CleanupAll())
	for _, p := range paths {
		assert.NoDirExists(t, p)
	}
}

func TestPrune_RemovesStaleKeepsActive(t *testing.T) {
	m := newTestManager(t)

	stale := filepath.Join(m.Root(), "stale-from-crash")
	require.NoError(t, os.MkdirAll(stale, 0755))

	active, err := m.Create("run", "analysis", 1)
	require.NoError(t, err)

	require.NoError(t, m.Prune())

	assert.NoDirExists(t, stale)
	assert.DirExists(t, active.Path)
}

func TestPrune_MissingRootIsNotError(t *testing.T) {
	m := NewManager(ManagerConfig{Root: filepath.Join(t.TempDir(), "never-created")})
	assert.NoError(t, m.Prune())
}
