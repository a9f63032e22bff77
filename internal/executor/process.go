package executor

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
)

// maxStderr bounds how much stderr is quoted in an error.
const maxStderr = 2048

// runProcess starts cmd on behalf of module and returns its stdout.
// A failure quotes the tail of stderr.
func runProcess(cmd *exec.Cmd, pm *ProcessManager, module string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s for module %q: %w", cmd.Path, module, err)
	}
	if pm != nil {
		pm.Track(cmd, module)
		defer pm.Untrack(cmd)
	}

	if err := cmd.Wait(); err != nil {
		msg := bytes.TrimSpace(stderr.Bytes())
		if len(msg) > maxStderr {
			msg = msg[len(msg)-maxStderr:]
		}
		if len(msg) == 0 {
			return stdout.Bytes(), fmt.Errorf("module %q process: %w", module, err)
		}
		return stdout.Bytes(), fmt.Errorf("module %q process: %w: %s", module, err, msg)
	}
	return stdout.Bytes(), nil
}

// killGroup sends SIGKILL to the process group led by cmd.
func killGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return errors.New("process not started")
	}
	// negative pid addresses the whole group
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("killing process group %d: %w", cmd.Process.Pid, err)
	}
	return nil
}

type trackedProcess struct {
	cmd    *exec.Cmd
	module string
}

// ProcessManager knows every executor subprocess still running so a
// shutdown can take them all down.
type ProcessManager struct {
	mu    sync.Mutex
	procs map[int]trackedProcess
}

// NewProcessManager creates an empty ProcessManager.
func NewProcessManager() *ProcessManager {
	return &ProcessManager{procs: make(map[int]trackedProcess)}
}

// Track registers a started subprocess running for module.
func (pm *ProcessManager) Track(cmd *exec.Cmd, module string) {
	if cmd.Process == nil {
		return
	}
	pm.mu.Lock()
	pm.procs[cmd.Process.Pid] = trackedProcess{cmd: cmd, module: module}
	pm.mu.Unlock()
}

// Untrack forgets a subprocess once it has been waited on.
func (pm *ProcessManager) Untrack(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pm.mu.Lock()
	delete(pm.procs, cmd.Process.Pid)
	pm.mu.Unlock()
}

// Modules lists the modules that currently have a subprocess.
func (pm *ProcessManager) Modules() []string {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	out := make([]string, 0, len(pm.procs))
	for _, p := range pm.procs {
		out = append(out, p.module)
	}
	return out
}

// KillAll kills every tracked process group.
func (pm *ProcessManager) KillAll() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	var errs []error
	for _, p := range pm.procs {
		if err := killGroup(p.cmd); err != nil {
			errs = append(errs, fmt.Errorf("module %q: %w", p.module, err))
		}
	}
	return errors.Join(errs...)
}

// Count returns the number of tracked processes.
func (pm *ProcessManager) Count() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return len(pm.procs)
}
