package config

import (
	"errors"
	"fmt"
	"sort"

	"github.com/aristath/pipelined/internal/logging"
)

func defaultLogging() logging.Config {
	return logging.Config{Level: "info", Format: "console"}
}

// Validate checks scalar settings and pipeline references. Graph problems
// such as cycles are reported when the pipeline is resolved.
func (c *Config) Validate() error {
	var errs []error

	if c.Scheduler.PoolSize < 1 {
		errs = append(errs, fmt.Errorf("scheduler.pool_size must be at least 1, got %d", c.Scheduler.PoolSize))
	}
	switch c.Scheduler.PhasePolicy {
	case "", "parallel-first", "concurrent", "sequential":
	default:
		errs = append(errs, fmt.Errorf("scheduler.phase_policy %q is not one of parallel-first, concurrent, sequential", c.Scheduler.PhasePolicy))
	}
	if c.Scheduler.DefaultTimeout < 0 {
		errs = append(errs, errors.New("scheduler.default_timeout must not be negative"))
	}
	if c.Breaker.Threshold < 1 {
		errs = append(errs, errors.New("breaker.threshold must be at least 1"))
	}
	if c.Breaker.Cooldown <= 0 {
		errs = append(errs, errors.New("breaker.cooldown must be positive"))
	}
	switch c.Retry.Strategy {
	case "", "exponential", "linear", "fixed":
	default:
		errs = append(errs, fmt.Errorf("retry.strategy %q is not one of exponential, linear, fixed", c.Retry.Strategy))
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < 0 {
		errs = append(errs, errors.New("retry delays must not be negative"))
	}
	if c.Health.RestartFailures < 0 {
		errs = append(errs, errors.New("health.restart_failures must not be negative"))
	}

	for _, name := range c.PipelineNames() {
		if err := c.Pipelines[name].validate(); err != nil {
			errs = append(errs, fmt.Errorf("pipeline %q: %w", name, err))
		}
	}
	if c.DefaultPipeline != "" {
		if _, ok := c.Pipelines[c.DefaultPipeline]; !ok {
			errs = append(errs, fmt.Errorf("default_pipeline %q is not defined", c.DefaultPipeline))
		}
	}

	return errors.Join(errs...)
}

func (p PipelineConfig) validate() error {
	var errs []error
	for _, name := range sortedKeys(p.Modules) {
		m := p.Modules[name]
		if m.Fallback != "" {
			if _, ok := p.Fallbacks[m.Fallback]; !ok {
				errs = append(errs, fmt.Errorf("module %q: unknown fallback %q", name, m.Fallback))
			}
		}
		if m.MaxRetries < 0 {
			errs = append(errs, fmt.Errorf("module %q: max_retries must not be negative", name))
		}
		if err := m.Executor.validate(); err != nil {
			errs = append(errs, fmt.Errorf("module %q: %w", name, err))
		}
	}
	for _, id := range sortedKeys(p.Fallbacks) {
		if len(p.Fallbacks[id].Candidates) == 0 {
			errs = append(errs, fmt.Errorf("fallback %q has no candidates", id))
		}
		for _, c := range p.Fallbacks[id].Candidates {
			if c.ID == "" {
				errs = append(errs, fmt.Errorf("fallback %q: candidate without id", id))
			}
			if err := c.Executor.validate(); err != nil {
				errs = append(errs, fmt.Errorf("fallback %q candidate %q: %w", id, c.ID, err))
			}
		}
	}
	return errors.Join(errs...)
}

func (e ExecutorConfig) validate() error {
	switch e.Type {
	case "", "static", "fail":
		return nil
	case "command":
		if e.Command == "" {
			return errors.New("command executor needs a command")
		}
		return nil
	default:
		return fmt.Errorf("unknown executor type %q", e.Type)
	}
}

// Pipeline returns the named pipeline, or the default one when name is empty.
func (c *Config) Pipeline(name string) (string, PipelineConfig, error) {
	if name == "" {
		name = c.DefaultPipeline
	}
	p, ok := c.Pipelines[name]
	if !ok {
		return name, PipelineConfig{}, fmt.Errorf("pipeline %q is not defined", name)
	}
	return name, p, nil
}

// PipelineNames returns the configured pipeline names in sorted order.
func (c *Config) PipelineNames() []string {
	return sortedKeys(c.Pipelines)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
