package config

import "time"

// DefaultPipelineName is the built-in full-stack application pipeline.
const DefaultPipelineName = "fullstack-app"

// DefaultConfig returns the default configuration with the built-in
// fullstack-app pipeline. Its modules use static executors that stand in
// for the real analysis and generation services.
func DefaultConfig() *Config {
	return &Config{
		DefaultPipeline: DefaultPipelineName,
		Scheduler: SchedulerConfig{
			PoolSize:       4,
			PhasePolicy:    "parallel-first",
			DefaultTimeout: Duration(300 * time.Second),
		},
		Breaker: BreakerConfig{
			Threshold: 5,
			Cooldown:  Duration(30 * time.Second),
		},
		Retry: RetryConfig{
			Strategy:      "exponential",
			BaseDelay:     Duration(time.Second),
			BackoffFactor: 2,
			MaxDelay:      Duration(60 * time.Second),
			Jitter:        true,
		},
		Health: HealthConfig{
			SweepInterval:   Duration(60 * time.Second),
			RestartScore:    50,
			RestartFailures: 5,
			CriticalScore:   70,
		},
		Logging: defaultLogging(),
		Pipelines: map[string]PipelineConfig{
			DefaultPipelineName: fullstackPipeline(),
		},
	}
}

func fullstackPipeline() PipelineConfig {
	stub := func(d time.Duration) ExecutorConfig {
		return ExecutorConfig{Type: "static", Delay: Duration(d)}
	}

	return PipelineConfig{
		Description: "Generate a full-stack application from requirements",
		Input:       map[string]any{"app_type": "crud"},
		Modules: map[string]ModuleConfig{
			"requirement_analysis": {
				Critical:   true,
				Timeout:    Duration(180 * time.Second),
				MaxRetries: 3,
				Executor:   stub(100 * time.Millisecond),
			},
			"architecture_planning": {
				DependsOn:  []string{"requirement_analysis"},
				Critical:   true,
				Timeout:    Duration(300 * time.Second),
				MaxRetries: 3,
				Executor:   stub(100 * time.Millisecond),
			},
			"template_selection": {
				DependsOn:  []string{"architecture_planning"},
				Timeout:    Duration(120 * time.Second),
				MaxRetries: 2,
				Fallback:   "default-template",
				Executor:   stub(100 * time.Millisecond),
			},
			"code_generation": {
				DependsOn:  []string{"template_selection"},
				Critical:   true,
				Timeout:    Duration(600 * time.Second),
				MaxRetries: 3,
				Fallback:   "template-codegen",
				Executor:   stub(100 * time.Millisecond),
			},
			"testing": {
				DependsOn:  []string{"code_generation"},
				Timeout:    Duration(300 * time.Second),
				MaxRetries: 3,
				Executor:   stub(100 * time.Millisecond),
			},
			"deployment": {
				DependsOn:  []string{"testing"},
				Timeout:    Duration(600 * time.Second),
				MaxRetries: 3,
				Executor:   stub(100 * time.Millisecond),
			},
		},
		Fallbacks: map[string]FallbackConfig{
			"default-template": {
				Candidates: []CandidateConfig{
					{ID: "crud-template", When: map[string]string{"app_type": "crud"}, Executor: ExecutorConfig{Type: "static", Output: "crud-starter"}},
					{ID: "blank-template", Executor: ExecutorConfig{Type: "static", Output: "blank-starter"}},
				},
			},
			"template-codegen": {
				Candidates: []CandidateConfig{
					{ID: "scaffold", Executor: ExecutorConfig{Type: "static", Output: "scaffolded project"}},
				},
			},
		},
	}
}
