// Package container couples the two halves of the engine: solving a declared
// dependant graph into an immutable, reusable SolvedPlan, and executing that
// plan against a live stack of nested lifetime scopes.
//
// A Container is configured once with the legal scope nesting (outermost
// first) and optional bind hooks. Solve validates and compiles a root
// dependant eagerly, so a returned plan can never fail later for structural
// reasons. Executions share the plan read-only; each one owns its transient
// results buffer, while value caches belong to the open scope frames on the
// ScopeStack and live exactly as long as those frames.
package container

import (
	"github.com/vk/solvent/dependant"
)

// BindHook substitutes one dependant for another before an edge is expanded
// during solving. param is nil when the hook is applied to the root itself.
// Returning nil declines the substitution. Hooks must be pure: the solver
// calls each hook at most once per discovered edge.
type BindHook func(param *dependant.Parameter, dep dependant.Dependant) dependant.Dependant

// Container holds the declared scope ordering and the registered bind hooks.
type Container struct {
	scopes     []dependant.Scope
	scopeIndex map[dependant.Scope]int
	binds      []BindHook
}

// Option configures a Container.
type Option func(*Container)

// WithBind registers a bind hook. Hooks are tried in registration order and
// the first non-nil replacement wins.
func WithBind(hook BindHook) Option {
	return func(c *Container) { c.binds = append(c.binds, hook) }
}

// New creates a Container with the given scope ordering, outermost first.
// Every scope referenced by a dependant, including the innermost execution
// scope (conventionally ""), must appear exactly once.
func New(scopes []dependant.Scope, opts ...Option) (*Container, error) {
	c := &Container{
		scopes:     append([]dependant.Scope(nil), scopes...),
		scopeIndex: make(map[dependant.Scope]int, len(scopes)),
	}
	for i, s := range scopes {
		if _, dup := c.scopeIndex[s]; dup {
			return nil, usageErrorf("scope %q declared twice in the scope ordering", s)
		}
		c.scopeIndex[s] = i
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Bind registers an additional bind hook after construction. It affects
// subsequent Solve calls only; already-solved plans are immutable.
func (c *Container) Bind(hook BindHook) {
	c.binds = append(c.binds, hook)
}

// Scopes returns the declared scope ordering, outermost first.
func (c *Container) Scopes() []dependant.Scope {
	return append([]dependant.Scope(nil), c.scopes...)
}

// applyBinds runs the hook chain for one edge. The first hook returning a
// non-nil dependant wins; nil means no hook matched.
func (c *Container) applyBinds(param *dependant.Parameter, dep dependant.Dependant) dependant.Dependant {
	for _, hook := range c.binds {
		if rep := hook(param, dep); rep != nil {
			return rep
		}
	}
	return nil
}
