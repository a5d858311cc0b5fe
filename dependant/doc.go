// Package dependant defines the declarative node model of the dependency
// graph: what a dependency is, which scope it lives in, whether its value
// participates in caching, and how it names its own parameters.
//
// # Why Dependant Exists
//
// The solver and the execution engine never look at user code directly. They
// only see Dependant values: small, immutable descriptions carrying a call,
// a scope, a cache key and an ordered parameter list. This keeps the core
// free of reflection: dependencies are registered explicitly through the
// option API rather than discovered from function signatures.
//
// # Identity
//
// Two dependants are the same logical dependency when their cache keys are
// equal. Go function values are not comparable, so the default cache key is
// the dependant value itself: distinct registrations are distinct
// dependencies unless an explicit comparable key is shared via WithCacheKey.
// A dependant registered with WithUseCache(false) always keeps its identity
// key, so it is never deduplicated against other registrations.
//
// # Lifecycle
//
// 1. **Registered** by the caller via New or Marker
// 2. **Resolved** during solving (bind hooks may swap one dependant for another)
// 3. **Compiled** into a task.Task, one per distinct cache key
// 4. **Invoked** by the execution engine, never by the solver
package dependant
