package dependant

import (
	"context"
	"fmt"
)

// Scope identifies a lifetime level. Scopes nest according to the
// outermost-first ordering declared on the container; by convention the
// empty string names the innermost execution scope and is declared like
// any other scope.
type Scope string

// CacheKey is the logical identity of a dependency. It is used both to
// deduplicate dependants during solving and to index scope caches at
// runtime, so it must be a comparable value.
type CacheKey = any

// Call is the underlying computation of a dependant. Positional argument
// values arrive in declaration order; keyword values arrive by parameter
// name. Values of parameters whose dependency produced no task (call-less
// markers with defaults) are omitted.
type Call func(ctx context.Context, args []any, kwargs map[string]any) (any, error)

// ParamKind distinguishes how a resolved dependency value is handed to the
// consuming call.
type ParamKind int

const (
	// Positional parameters are passed in declaration order.
	Positional ParamKind = iota
	// Keyword parameters are passed by name.
	Keyword
)

// Parameter binds one formal parameter of a consuming dependant to the
// dependant that satisfies it. An empty Name marks a structural edge: the
// dependency is computed before the consumer runs but its value is not
// passed to the call.
type Parameter struct {
	Name       string
	Kind       ParamKind
	HasDefault bool
	Dependency Dependant
}

// Dependant is a declared dependency unit. Implementations must be
// comparable (pointer receivers are fine) because dependants are used as
// map keys during solving.
//
// Dependencies is the parameter-introspection collaborator: it returns the
// ordered parameter descriptors of the underlying call, each already bound
// to the dependant that satisfies it.
type Dependant interface {
	// Call returns the underlying computation, or nil for pure markers.
	Call() Call
	// Scope returns the declared lifetime scope.
	Scope() Scope
	// UseCache reports whether the computed value participates in scope caching.
	UseCache() bool
	// CacheKey returns the logical identity used for deduplication and caching.
	CacheKey() CacheKey
	// Dependencies returns the ordered parameter descriptors.
	Dependencies() []Parameter
}

// Registered is the standard Dependant implementation, built via New or
// Marker with explicit registration options.
type Registered struct {
	call     Call
	scope    Scope
	useCache bool
	cacheKey CacheKey
	params   []Parameter
	name     string
}

// Option configures a Registered dependant.
type Option func(*Registered)

// WithScope declares the lifetime scope of the dependant.
func WithScope(s Scope) Option {
	return func(r *Registered) { r.scope = s }
}

// WithUseCache controls participation in scope caching. The default is true.
func WithUseCache(use bool) Option {
	return func(r *Registered) { r.useCache = use }
}

// WithCacheKey sets an explicit logical identity. Dependants sharing a key
// are deduplicated into a single task; the key must be comparable.
func WithCacheKey(key CacheKey) Option {
	return func(r *Registered) { r.cacheKey = key }
}

// WithName sets a human-readable name used in error paths and logs.
func WithName(name string) Option {
	return func(r *Registered) { r.name = name }
}

// WithParam registers a named positional parameter satisfied by dep.
func WithParam(name string, dep Dependant) Option {
	return func(r *Registered) {
		r.params = append(r.params, Parameter{Name: name, Kind: Positional, Dependency: dep})
	}
}

// WithKeywordParam registers a keyword-only parameter satisfied by dep.
func WithKeywordParam(name string, dep Dependant) Option {
	return func(r *Registered) {
		r.params = append(r.params, Parameter{Name: name, Kind: Keyword, Dependency: dep})
	}
}

// WithDefaultParam registers a positional parameter that carries a fallback
// value inside the call itself, so a call-less dependency is acceptable.
func WithDefaultParam(name string, dep Dependant) Option {
	return func(r *Registered) {
		r.params = append(r.params, Parameter{Name: name, Kind: Positional, HasDefault: true, Dependency: dep})
	}
}

// WithDefaultKeywordParam registers a keyword parameter with a fallback.
func WithDefaultKeywordParam(name string, dep Dependant) Option {
	return func(r *Registered) {
		r.params = append(r.params, Parameter{Name: name, Kind: Keyword, HasDefault: true, Dependency: dep})
	}
}

// WithStructuralDep registers an anonymous edge: dep is computed before this
// dependant runs, but its value is not passed to the call.
func WithStructuralDep(dep Dependant) Option {
	return func(r *Registered) {
		r.params = append(r.params, Parameter{Dependency: dep})
	}
}

// New builds a dependant around the given call.
func New(call Call, opts ...Option) *Registered {
	r := &Registered{call: call, useCache: true}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Marker builds a call-less dependant. Markers enforce their own sub-edges
// during solving but are excluded from the compiled task graph.
func Marker(opts ...Option) *Registered {
	return New(nil, opts...)
}

// Call returns the underlying computation, or nil for markers.
func (r *Registered) Call() Call { return r.call }

// Scope returns the declared lifetime scope.
func (r *Registered) Scope() Scope { return r.scope }

// UseCache reports whether the value participates in scope caching.
func (r *Registered) UseCache() bool { return r.useCache }

// CacheKey returns the explicit key when one was registered and caching is
// enabled; otherwise the dependant's own identity.
func (r *Registered) CacheKey() CacheKey {
	if r.useCache && r.cacheKey != nil {
		return r.cacheKey
	}
	return r
}

// Dependencies returns the ordered parameter descriptors.
func (r *Registered) Dependencies() []Parameter {
	params := make([]Parameter, len(r.params))
	copy(params, r.params)
	return params
}

func (r *Registered) String() string {
	if r.name != "" {
		return r.name
	}
	return fmt.Sprintf("dependant(%p)", r)
}
