package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/aristath/pipelined/internal/workspace"
)

// exitDataErr is the sysexits EX_DATAERR code. A command exiting with it
// signals that its input was invalid and the call should not be retried.
const exitDataErr = 65

// commandPayload is the JSON document written to a command's stdin.
type commandPayload struct {
	RunID    string         `json:"run_id"`
	Module   string         `json:"module"`
	Attempt  int            `json:"attempt"`
	Input    any            `json:"input,omitempty"`
	Upstream map[string]any `json:"upstream,omitempty"`
}

// CommandExecutor runs an external program per invocation.
// The program gets its own process group and scratch directory; the whole
// group is killed when the invocation's context ends.
type CommandExecutor struct {
	Command    string
	Args       []string
	Env        []string
	Processes  *ProcessManager    // optional
	Workspaces *workspace.Manager // optional; without it the current directory is used
	WaitDelay  time.Duration      // grace period for pipe close after kill (default 2s)
}

// newCommand creates an exec.Cmd in its own process group whose
// cancellation kills the entire group.
func newCommand(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
	cmd.Cancel = func() error {
		return killGroup(cmd)
	}
	return cmd
}

// Execute implements Executor.
func (c *CommandExecutor) Execute(ctx context.Context, inv Invocation) (any, error) {
	if c.Command == "" {
		return nil, NonRetryable(errors.New("command executor has no command"))
	}

	payload, err := json.Marshal(commandPayload{
		RunID:    inv.RunID,
		Module:   inv.Module,
		Attempt:  inv.Attempt,
		Input:    inv.Input,
		Upstream: inv.Upstream,
	})
	if err != nil {
		return nil, NonRetryable(fmt.Errorf("encoding invocation for %q: %w", inv.Module, err))
	}

	cmd := newCommand(ctx, c.Command, c.Args...)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.WaitDelay = c.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = 2 * time.Second
	}

	env := append(os.Environ(), c.Env...)
	env = append(env,
		"PIPELINED_RUN_ID="+inv.RunID,
		"PIPELINED_MODULE="+inv.Module,
		"PIPELINED_ATTEMPT="+strconv.Itoa(inv.Attempt),
	)

	if c.Workspaces != nil {
		ws, err := c.Workspaces.Create(inv.RunID, inv.Module, inv.Attempt)
		if err != nil {
			return nil, err
		}
		defer c.Workspaces.Cleanup(ws)
		cmd.Dir = ws.Path
		env = append(env, "PIPELINED_WORKSPACE="+ws.Path)
	}
	cmd.Env = env

	stdout, err := runProcess(cmd, c.Processes, inv.Module)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %v", ctxErr, err)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == exitDataErr {
			return nil, NonRetryable(err)
		}
		return nil, err
	}

	return decodeOutput(stdout), nil
}

// decodeOutput returns stdout as a JSON value when it parses, otherwise as
// a trimmed string.
func decodeOutput(stdout []byte) any {
	trimmed := bytes.TrimSpace(stdout)
	if len(trimmed) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(trimmed, &v); err == nil {
		return v
	}
	return string(trimmed)
}
