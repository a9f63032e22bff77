package registry

import (
	"fmt"
	"strings"
)

// DuplicateModuleError is returned when a module name is registered twice.
type DuplicateModuleError struct {
	Name string
}

func (e *DuplicateModuleError) Error() string {
	return fmt.Sprintf("module %q already registered", e.Name)
}

// InvalidModuleError is returned for descriptors that cannot run.
type InvalidModuleError struct {
	Name   string
	Reason string
}

func (e *InvalidModuleError) Error() string {
	if e.Name == "" {
		return "invalid module: " + e.Reason
	}
	return fmt.Sprintf("invalid module %q: %s", e.Name, e.Reason)
}

// UnknownDependencyError is returned when a module depends on a name that
// was never registered.
type UnknownDependencyError struct {
	Module     string
	Dependency string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("module %q depends on unknown module %q", e.Module, e.Dependency)
}

// UnknownFallbackError is returned when a module names a fallback chain that
// was never registered.
type UnknownFallbackError struct {
	Module     string
	FallbackID string
}

func (e *UnknownFallbackError) Error() string {
	return fmt.Sprintf("module %q references unknown fallback chain %q", e.Module, e.FallbackID)
}

// DependencyCycleError lists the modules that sit on a dependency cycle.
type DependencyCycleError struct {
	Members []string
}

func (e *DependencyCycleError) Error() string {
	return "dependency cycle between modules: " + strings.Join(e.Members, ", ")
}
