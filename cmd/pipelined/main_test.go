package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/pipelined/internal/persistence"
)

const testConfigYAML = `
default_pipeline: demo
storage:
  path: {{DIR}}/history.db
logging:
  level: error
retry:
  strategy: fixed
  base_delay: 1ms
  max_delay: 1ms
pipelines:
  demo:
    input:
      app_type: crud
    modules:
      fetch:
        critical: true
        executor:
          type: static
          output:
            rows: 3
      transform:
        depends_on: [fetch]
        fallback: cached
        executor:
          type: fail
          message: transformer offline
          permanent: true
      report:
        depends_on: [transform]
        executor:
          type: static
          output: done
    fallbacks:
      cached:
        candidates:
          - id: cache
            when:
              app_type: crud
            executor:
              type: static
              output: cached
  critical:
    modules:
      gate:
        critical: true
        executor:
          type: fail
          message: gate closed
          permanent: true
      after:
        depends_on: [gate]
        executor:
          type: static
  broken:
    modules:
      a:
        depends_on: [b]
        executor:
          type: static
      b:
        depends_on: [a]
        executor:
          type: static
`

// setup writes a config into a fresh HOME and returns its path.
func setup(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)

	path := filepath.Join(dir, "config.yaml")
	content := strings.ReplaceAll(testConfigYAML, "{{DIR}}", dir)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCmd_Commands(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, cmd := range root.Commands() {
		names = append(names, cmd.Name())
		assert.NotEmpty(t, cmd.Short, cmd.Name())
		assert.NotEmpty(t, cmd.Long, cmd.Name())
	}
	assert.Subset(t, names, []string{"run", "validate", "history", "show"})
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestValidate(t *testing.T) {
	cfg := setup(t)

	out, err := execute(t, "validate", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "Pipeline demo: 3 modules in 3 phases")
	assert.Contains(t, out, "phase-1: fetch*")
	assert.Contains(t, out, "phase-3: report")
}

func TestValidate_JSON(t *testing.T) {
	cfg := setup(t)

	out, err := execute(t, "validate", "fullstack-app", "--config", cfg, "--json")
	require.NoError(t, err)

	var phases []phaseView
	require.NoError(t, json.Unmarshal([]byte(out), &phases))
	require.Len(t, phases, 6)
	assert.Equal(t, []string{"requirement_analysis"}, phases[0].Modules)
}

func TestValidate_Cycle(t *testing.T) {
	cfg := setup(t)

	_, err := execute(t, "validate", "broken", "--config", cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestRun_JSONAndHistory(t *testing.T) {
	cfg := setup(t)

	out, err := execute(t, "run", "--config", cfg, "--json")
	require.NoError(t, err)

	var rec persistence.RunRecord
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, "demo", rec.Pipeline)
	assert.Equal(t, "completed", rec.Status)
	require.Len(t, rec.Modules, 3)
	assert.Equal(t, "succeeded_via_fallback", rec.Modules[1].State)
	assert.Equal(t, "cache", rec.Modules[1].UsedFallback)
	assert.Equal(t, "succeeded", rec.Modules[2].State)

	out, err = execute(t, "history", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, rec.ID)
	assert.Contains(t, out, "completed")

	out, err = execute(t, "show", rec.ID, "--config", cfg, "--json")
	require.NoError(t, err)
	var shown persistence.RunRecord
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	assert.Equal(t, rec.ID, shown.ID)
	require.Len(t, shown.Modules, 3)
	assert.Contains(t, shown.Modules[1].Attempts[0].Error, "transformer offline")

	out, err = execute(t, "show", rec.ID, "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "MODULE")
	assert.Contains(t, out, "transform")
}

func TestRun_InputOverrideDisablesFallback(t *testing.T) {
	cfg := setup(t)

	out, err := execute(t, "run", "--config", cfg, "--input", "app_type=cli", "--json")
	require.NoError(t, err)

	var rec persistence.RunRecord
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, "completed", rec.Status)
	assert.Equal(t, "skipped", rec.Modules[1].State)
	assert.Equal(t, "skipped", rec.Modules[2].State, "dependents of a skipped module are skipped")
}

func TestRun_CriticalFailure(t *testing.T) {
	cfg := setup(t)

	out, err := execute(t, "run", "critical", "--config", cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed")
	assert.Contains(t, out, "gate")
	assert.Contains(t, out, "gate closed")
}

func TestRun_UnknownPipeline(t *testing.T) {
	cfg := setup(t)

	_, err := execute(t, "run", "missing", "--config", cfg)
	assert.ErrorContains(t, err, `pipeline "missing" is not defined`)
}

func TestShow_UnknownRun(t *testing.T) {
	cfg := setup(t)

	_, err := execute(t, "show", "nope", "--config", cfg)
	assert.ErrorIs(t, err, persistence.ErrRunNotFound)
}

func TestHistory_Empty(t *testing.T) {
	cfg := setup(t)

	out, err := execute(t, "history", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "No runs recorded")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
