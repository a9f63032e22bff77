package app

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/aristath/pipelined/internal/config"
	"github.com/aristath/pipelined/internal/executor"
	"github.com/aristath/pipelined/internal/registry"
	"github.com/aristath/pipelined/internal/resilience"
)

// BuildRegistry turns a pipeline declaration into a registry. Modules are
// registered in name order so phases list them deterministically.
func BuildRegistry(p config.PipelineConfig, defaultTimeout time.Duration, deps executor.Deps) (*registry.Registry, error) {
	reg := registry.New(defaultTimeout)

	for _, id := range slices.Sorted(maps.Keys(p.Fallbacks)) {
		chain, err := buildChain(id, p.Fallbacks[id], deps)
		if err != nil {
			return nil, err
		}
		if err := reg.RegisterFallback(chain); err != nil {
			return nil, err
		}
	}

	for _, name := range slices.Sorted(maps.Keys(p.Modules)) {
		m := p.Modules[name]
		exec, err := executor.New(executorConfig(m.Executor), deps)
		if err != nil {
			return nil, fmt.Errorf("module %q: %w", name, err)
		}

		d := registry.Descriptor{
			Name:             name,
			Dependencies:     slices.Clone(m.DependsOn),
			Critical:         m.Critical,
			Timeout:          m.Timeout.Std(),
			MaxRetries:       m.MaxRetries,
			FallbackID:       m.Fallback,
			ParallelEligible: m.Parallel,
			Executor:         exec,
		}
		if m.Breaker != nil {
			d.Breaker = &resilience.BreakerSettings{
				Threshold: m.Breaker.Threshold,
				Cooldown:  m.Breaker.Cooldown.Std(),
			}
		}
		if err := reg.Register(d); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func buildChain(id string, fc config.FallbackConfig, deps executor.Deps) (*resilience.FallbackChain, error) {
	chain := &resilience.FallbackChain{ID: id}
	for _, c := range fc.Candidates {
		exec, err := executor.New(executorConfig(c.Executor), deps)
		if err != nil {
			return nil, fmt.Errorf("fallback %q candidate %q: %w", id, c.ID, err)
		}
		chain.Candidates = append(chain.Candidates, resilience.Candidate{
			ID:        c.ID,
			Executor:  exec,
			Condition: inputMatches(c.When),
		})
	}
	return chain, nil
}

// inputMatches gates a candidate on run input values. Values are compared
// in their printed form so YAML numbers and booleans match.
func inputMatches(when map[string]string) func(executor.Invocation) bool {
	if len(when) == 0 {
		return nil
	}
	want := maps.Clone(when)
	return func(inv executor.Invocation) bool {
		input, _ := inv.Input.(map[string]any)
		for k, v := range want {
			got, ok := input[k]
			if !ok || fmt.Sprint(got) != v {
				return false
			}
		}
		return true
	}
}

func executorConfig(c config.ExecutorConfig) executor.Config {
	return executor.Config{
		Type:      c.Type,
		Command:   c.Command,
		Args:      slices.Clone(c.Args),
		Env:       slices.Clone(c.Env),
		Output:    c.Output,
		Message:   c.Message,
		Permanent: c.Permanent,
		Delay:     c.Delay.Std(),
	}
}
