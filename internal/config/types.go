package config

import (
	"time"

	"github.com/aristath/pipelined/internal/logging"
)

// Duration is a time.Duration that reads and writes as "30s" style text.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// SchedulerConfig sizes the worker pool and picks the phase policy.
type SchedulerConfig struct {
	PoolSize       int      `koanf:"pool_size" yaml:"pool_size"`
	PhasePolicy    string   `koanf:"phase_policy" yaml:"phase_policy"` // parallel-first, concurrent, sequential
	DefaultTimeout Duration `koanf:"default_timeout" yaml:"default_timeout"`
	WorkspaceRoot  string   `koanf:"workspace_root" yaml:"workspace_root,omitempty"`
	KeepWorkspaces bool     `koanf:"keep_workspaces" yaml:"keep_workspaces,omitempty"`
}

// BreakerConfig configures circuit breakers.
type BreakerConfig struct {
	Threshold uint32   `koanf:"threshold" yaml:"threshold"`
	Cooldown  Duration `koanf:"cooldown" yaml:"cooldown"`
}

// RetryConfig configures the retry policy.
type RetryConfig struct {
	Strategy      string   `koanf:"strategy" yaml:"strategy"` // exponential, linear, fixed
	BaseDelay     Duration `koanf:"base_delay" yaml:"base_delay"`
	BackoffFactor float64  `koanf:"backoff_factor" yaml:"backoff_factor"`
	MaxDelay      Duration `koanf:"max_delay" yaml:"max_delay"`
	Jitter        bool     `koanf:"jitter" yaml:"jitter"`
}

// HealthConfig configures the health monitor.
type HealthConfig struct {
	SweepInterval   Duration `koanf:"sweep_interval" yaml:"sweep_interval"`
	RestartScore    float64  `koanf:"restart_score" yaml:"restart_score"`
	RestartFailures int      `koanf:"restart_failures" yaml:"restart_failures"`
	CriticalScore   float64  `koanf:"critical_score" yaml:"critical_score"`
}

// StorageConfig locates the run history database.
type StorageConfig struct {
	Path     string `koanf:"path" yaml:"path,omitempty"` // empty means ~/.pipelined/history.db
	Disabled bool   `koanf:"disabled" yaml:"disabled,omitempty"`
}

// MetricsConfig enables the Prometheus endpoint.
type MetricsConfig struct {
	ListenAddr string `koanf:"listen_addr" yaml:"listen_addr,omitempty"` // e.g. ":9090"; empty disables
}

// ExecutorConfig declares how a module or fallback candidate runs.
type ExecutorConfig struct {
	Type      string   `koanf:"type" yaml:"type"` // command, static, fail
	Command   string   `koanf:"command" yaml:"command,omitempty"`
	Args      []string `koanf:"args" yaml:"args,omitempty"`
	Env       []string `koanf:"env" yaml:"env,omitempty"` // KEY=VALUE
	Output    any      `koanf:"output" yaml:"output,omitempty"`
	Message   string   `koanf:"message" yaml:"message,omitempty"`
	Permanent bool     `koanf:"permanent" yaml:"permanent,omitempty"`
	Delay     Duration `koanf:"delay" yaml:"delay,omitempty"`
}

// ModuleConfig declares one module of a pipeline.
type ModuleConfig struct {
	DependsOn  []string       `koanf:"depends_on" yaml:"depends_on,omitempty"`
	Critical   bool           `koanf:"critical" yaml:"critical,omitempty"`
	Timeout    Duration       `koanf:"timeout" yaml:"timeout,omitempty"`
	MaxRetries int            `koanf:"max_retries" yaml:"max_retries,omitempty"`
	Fallback   string         `koanf:"fallback" yaml:"fallback,omitempty"` // key into the pipeline's fallbacks
	Parallel   bool           `koanf:"parallel" yaml:"parallel,omitempty"`
	Breaker    *BreakerConfig `koanf:"breaker" yaml:"breaker,omitempty"`
	Executor   ExecutorConfig `koanf:"executor" yaml:"executor"`
}

// CandidateConfig is one fallback candidate.
type CandidateConfig struct {
	ID       string            `koanf:"id" yaml:"id"`
	When     map[string]string `koanf:"when" yaml:"when,omitempty"` // run input key -> required value
	Executor ExecutorConfig    `koanf:"executor" yaml:"executor"`
}

// FallbackConfig is an ordered fallback chain.
type FallbackConfig struct {
	Candidates []CandidateConfig `koanf:"candidates" yaml:"candidates"`
}

// PipelineConfig declares a named module graph.
type PipelineConfig struct {
	Description string                    `koanf:"description" yaml:"description,omitempty"`
	Input       map[string]any            `koanf:"input" yaml:"input,omitempty"`
	Modules     map[string]ModuleConfig   `koanf:"modules" yaml:"modules"`
	Fallbacks   map[string]FallbackConfig `koanf:"fallbacks" yaml:"fallbacks,omitempty"`
}

// Config is the top-level configuration.
type Config struct {
	DefaultPipeline string                    `koanf:"default_pipeline" yaml:"default_pipeline"`
	Scheduler       SchedulerConfig           `koanf:"scheduler" yaml:"scheduler"`
	Breaker         BreakerConfig             `koanf:"breaker" yaml:"breaker"`
	Retry           RetryConfig               `koanf:"retry" yaml:"retry"`
	Health          HealthConfig              `koanf:"health" yaml:"health"`
	Logging         logging.Config            `koanf:"logging" yaml:"logging"`
	Storage         StorageConfig             `koanf:"storage" yaml:"storage"`
	Metrics         MetricsConfig             `koanf:"metrics" yaml:"metrics"`
	Pipelines       map[string]PipelineConfig `koanf:"pipelines" yaml:"pipelines"`
}
