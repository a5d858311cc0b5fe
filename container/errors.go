package container

import (
	"fmt"
	"strings"

	"github.com/vk/solvent/dependant"
)

// Path is a chain of dependants from the solved root down to a node,
// reconstructed from the traversal's parent map for diagnostics.
type Path []dependant.Dependant

func (p Path) String() string {
	parts := make([]string, len(p))
	for i, dep := range p {
		parts[i] = fmt.Sprint(dep)
	}
	return strings.Join(parts, " -> ")
}

// pathTo reconstructs the root-to-dep path from the parent map. The parent
// map may contain loops when the graph itself is cyclic; the walk stops at
// the first repeated node.
func pathTo(dep dependant.Dependant, parents map[dependant.Dependant]dependant.Dependant) Path {
	var rev Path
	visited := make(map[dependant.Dependant]bool)
	for dep != nil && !visited[dep] {
		visited[dep] = true
		rev = append(rev, dep)
		next, ok := parents[dep]
		if !ok {
			break
		}
		dep = next
	}
	path := make(Path, len(rev))
	for i, d := range rev {
		path[len(rev)-1-i] = d
	}
	return path
}

// WiringError reports a required parameter that cannot be satisfied: its
// dependency has no usable call and the parameter declares no fallback.
type WiringError struct {
	Param     string
	Dependant dependant.Dependant
	Path      Path
}

func (e *WiringError) Error() string {
	return fmt.Sprintf(
		"wiring error: parameter %q of %v has no usable dependency and no default value\npath: %s",
		e.Param, e.Dependant, e.Path,
	)
}

// SolvingError reports the same cache key declared with two different scopes.
type SolvingError struct {
	Key    dependant.CacheKey
	ScopeA dependant.Scope
	ScopeB dependant.Scope
	Path   Path
}

func (e *SolvingError) Error() string {
	return fmt.Sprintf(
		"solving error: the same dependency is used with multiple scopes (%q and %q)\npath: %s",
		e.ScopeA, e.ScopeB, e.Path,
	)
}

// CycleError reports a dependency cycle. Path runs from the root into the
// cycle; its last element is part of the cycle.
type CycleError struct {
	Path Path
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle error\npath: %s", e.Path)
}

// ScopeValidationError reports a node whose scope would close before a
// dependent's scope, or a node declaring a scope absent from the declared
// ordering (Dependent is nil in that case).
type ScopeValidationError struct {
	Dependant      dependant.Dependant
	Scope          dependant.Scope
	Dependent      dependant.Dependant
	DependentScope dependant.Scope
}

func (e *ScopeValidationError) Error() string {
	if e.Dependent == nil {
		return fmt.Sprintf(
			"scope validation error: scope %q of %v is not in the declared scope ordering",
			e.Scope, e.Dependant,
		)
	}
	return fmt.Sprintf(
		"scope validation error: %v (scope %q) depends on %v (scope %q), which closes first",
		e.Dependent, e.DependentScope, e.Dependant, e.Scope,
	)
}

// UsageError is a fatal programmer error: scopes entered or exited out of
// their declared order, or executing against a stack missing a required
// scope. It is never recoverable.
type UsageError struct {
	Msg string
}

func (e *UsageError) Error() string {
	return "usage error: " + e.Msg
}

func usageErrorf(format string, args ...any) *UsageError {
	return &UsageError{Msg: fmt.Sprintf(format, args...)}
}
