package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/pipelined/internal/executor"
	"github.com/aristath/pipelined/internal/resilience"
)

var noop = executor.Func(func(ctx context.Context, inv executor.Invocation) (any, error) {
	return nil, nil
})

func mod(name string, deps ...string) Descriptor {
	return Descriptor{Name: name, Dependencies: deps, Executor: noop}
}

func mustRegister(t *testing.T, r *Registry, ds ...Descriptor) {
	t.Helper()
	for _, d := range ds {
		require.NoError(t, r.Register(d))
	}
}

func TestRegister_Normalises(t *testing.T) {
	r := New(time.Minute)
	mustRegister(t, r, Descriptor{Name: "a", Executor: noop, MaxRetries: -2})

	d, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, d.MaxRetries)
	assert.Equal(t, time.Minute, d.Timeout)

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRegister_Rejects(t *testing.T) {
	r := New(0)
	mustRegister(t, r, mod("a"))

	var dup *DuplicateModuleError
	assert.ErrorAs(t, r.Register(mod("a")), &dup)
	assert.Equal(t, "a", dup.Name)

	var invalid *InvalidModuleError
	assert.ErrorAs(t, r.Register(Descriptor{Executor: noop}), &invalid)
	assert.ErrorAs(t, r.Register(Descriptor{Name: "b"}), &invalid)
}

func TestResolvePhases_SelfDependency(t *testing.T) {
	r := New(0)
	require.NoError(t, r.Register(mod("self", "self")), "cycles are reported when phases are resolved")
	mustRegister(t, r, mod("other"))

	_, err := r.ResolvePhases()

	var cycle *DependencyCycleError
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, []string{"self"}, cycle.Members)
}

func TestGet_ReturnsCopy(t *testing.T) {
	r := New(0)
	settings := &resilience.BreakerSettings{Threshold: 2}
	d := mod("b", "a")
	d.Breaker = settings
	mustRegister(t, r, mod("a"), d)

	got, _ := r.Get("b")
	got.Dependencies[0] = "mutated"
	got.Breaker.Threshold = 99

	again, _ := r.Get("b")
	assert.Equal(t, []string{"a"}, again.Dependencies)
	assert.Equal(t, uint32(2), again.Breaker.Threshold)
	assert.Equal(t, uint32(2), settings.Threshold)
}

func TestResolvePhases_FullstackShape(t *testing.T) {
	r := New(0)
	mustRegister(t, r,
		mod("requirement_analysis"),
		mod("architecture_planning", "requirement_analysis"),
		mod("template_selection", "architecture_planning"),
		mod("code_generation", "architecture_planning", "template_selection"),
		mod("testing", "code_generation"),
		mod("deployment", "code_generation", "testing"),
	)

	phases, err := r.ResolvePhases()
	require.NoError(t, err)
	require.Len(t, phases, 6)
	assert.Equal(t, "phase-1", phases[0].Name)
	assert.Equal(t, []string{"requirement_analysis"}, phases[0].Names())
	assert.Equal(t, []string{"code_generation"}, phases[3].Names())
	assert.Equal(t, []string{"deployment"}, phases[5].Names())
}

func TestResolvePhases_GroupsSiblingsInRegistrationOrder(t *testing.T) {
	r := New(0)
	mustRegister(t, r, mod("c", "root"), mod("root"), mod("a", "root"), mod("b"), mod("join", "a", "c"))

	phases, err := r.ResolvePhases()
	require.NoError(t, err)
	require.Len(t, phases, 3)
	assert.Equal(t, []string{"root", "b"}, phases[0].Names())
	assert.Equal(t, []string{"c", "a"}, phases[1].Names())
	assert.Equal(t, []string{"join"}, phases[2].Names())
}

func TestResolvePhases_Cycle(t *testing.T) {
	r := New(0)
	mustRegister(t, r, mod("A", "C"), mod("B", "A"), mod("C", "B"), mod("D", "A"), mod("E"))

	_, err := r.ResolvePhases()

	var cycle *DependencyCycleError
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, []string{"A", "B", "C"}, cycle.Members)
}

func TestResolvePhases_UnknownReferences(t *testing.T) {
	r := New(0)
	mustRegister(t, r, mod("a", "ghost"))

	var unknownDep *UnknownDependencyError
	_, err := r.ResolvePhases()
	require.ErrorAs(t, err, &unknownDep)
	assert.Equal(t, "ghost", unknownDep.Dependency)

	r = New(0)
	d := mod("a")
	d.FallbackID = "missing-chain"
	mustRegister(t, r, d)

	var unknownFallback *UnknownFallbackError
	_, err = r.ResolvePhases()
	require.ErrorAs(t, err, &unknownFallback)
	assert.Equal(t, "missing-chain", unknownFallback.FallbackID)
}

func TestRegisterFallback(t *testing.T) {
	r := New(0)
	chain := &resilience.FallbackChain{ID: "codegen", Candidates: []resilience.Candidate{{ID: "template", Executor: noop}}}
	require.NoError(t, r.RegisterFallback(chain))
	assert.Error(t, r.RegisterFallback(chain), "duplicate ids are rejected")
	assert.Error(t, r.RegisterFallback(&resilience.FallbackChain{ID: "empty"}))

	d := mod("code_generation")
	d.FallbackID = "codegen"
	mustRegister(t, r, d)

	_, err := r.ResolvePhases()
	require.NoError(t, err)

	got, ok := r.Fallback("codegen")
	require.True(t, ok)
	assert.Equal(t, "template", got.Candidates[0].ID)
}

func TestModules_RegistrationOrder(t *testing.T) {
	r := New(0)
	mustRegister(t, r, mod("z"), mod("a"), mod("m"))

	var names []string
	for _, d := range r.Modules() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"z", "a", "m"}, names)
	assert.Equal(t, 3, r.Len())
}
