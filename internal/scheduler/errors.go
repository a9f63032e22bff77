package scheduler

import "fmt"

// DependencyFailedError marks a module that could not run because a
// dependency did not succeed.
type DependencyFailedError struct {
	Module     string
	Dependency string
	State      ModuleState
}

func (e *DependencyFailedError) Error() string {
	return fmt.Sprintf("module %q cannot run: dependency %q is %s", e.Module, e.Dependency, e.State)
}

// PipelineAbortedError is the run error after a critical module failed.
type PipelineAbortedError struct {
	RunID  string
	Module string
	Err    error
}

func (e *PipelineAbortedError) Error() string {
	return fmt.Sprintf("pipeline run %s aborted: critical module %q failed: %v", e.RunID, e.Module, e.Err)
}

func (e *PipelineAbortedError) Unwrap() error { return e.Err }
