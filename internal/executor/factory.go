package executor

import (
	"fmt"
	"time"

	"github.com/aristath/pipelined/internal/workspace"
)

// Executor types understood by New.
const (
	TypeCommand = "command"
	TypeStatic  = "static"
	TypeFail    = "fail"
)

// Config describes an executor declaratively.
type Config struct {
	Type      string // "command", "static" or "fail"
	Command   string
	Args      []string
	Env       []string
	Output    any
	Message   string
	Permanent bool
	Delay     time.Duration
}

// Deps are the shared resources executors may need.
type Deps struct {
	Processes  *ProcessManager
	Workspaces *workspace.Manager
}

// New builds an executor from cfg. Unknown types are rejected here, at
// registry load time, rather than on first call.
func New(cfg Config, deps Deps) (Executor, error) {
	switch cfg.Type {
	case TypeCommand:
		if cfg.Command == "" {
			return nil, fmt.Errorf("command executor requires a command")
		}
		return &CommandExecutor{
			Command:    cfg.Command,
			Args:       append([]string(nil), cfg.Args...),
			Env:        append([]string(nil), cfg.Env...),
			Processes:  deps.Processes,
			Workspaces: deps.Workspaces,
		}, nil
	case TypeStatic, "":
		return &Static{Output: cfg.Output, Delay: cfg.Delay}, nil
	case TypeFail:
		return &Fail{Message: cfg.Message, Permanent: cfg.Permanent, Delay: cfg.Delay}, nil
	default:
		return nil, fmt.Errorf("unknown executor type: %s", cfg.Type)
	}
}
