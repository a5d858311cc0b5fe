package container

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/vk/solvent/ctxlog"
	"github.com/vk/solvent/dependant"
)

// scopeFrame is one live scope instance: every Enter creates a fresh frame
// with its own empty cache, and the matching Exit discards it.
type scopeFrame struct {
	scope dependant.Scope
	id    uuid.UUID
	cache *scopeCache
}

// ScopeStack is the runtime stack of currently open scope instances for one
// logical session. Frames nest strictly LIFO; the stack starts closed.
//
// A stack may be shared by concurrent executions: they then share (and
// race on) the caches of the frames that were already open, which is
// exactly the compute-once contract those caches enforce.
type ScopeStack struct {
	mu     sync.Mutex
	frames []*scopeFrame
}

// NewScopeStack returns an empty, closed stack.
func NewScopeStack() *ScopeStack {
	return &ScopeStack{}
}

// Depth returns the number of currently open scopes.
func (s *ScopeStack) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// Fork returns a new stack sharing every currently open frame with the
// receiver. Concurrent executions that should be nested inside the same
// outer scope instances each take a fork and open their own inner scopes on
// it; the shared frames' caches keep enforcing compute-once across all
// forks for as long as those frames live.
func (s *ScopeStack) Fork() *ScopeStack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &ScopeStack{frames: append([]*scopeFrame(nil), s.frames...)}
}

// frameFor returns the open frame for the given scope, innermost first.
func (s *ScopeStack) frameFor(scope dependant.Scope) (*scopeFrame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.frames) - 1; i >= 0; i-- {
		if s.frames[i].scope == scope {
			return s.frames[i], true
		}
	}
	return nil, false
}

// EnterScope opens a new instance of the given scope on the stack. The scope
// must be declared on the container, and it must nest strictly inside the
// currently innermost open scope according to the declared ordering.
func (c *Container) EnterScope(ctx context.Context, stack *ScopeStack, scope dependant.Scope) error {
	idx, ok := c.scopeIndex[scope]
	if !ok {
		return usageErrorf("scope %q is not in the declared scope ordering", scope)
	}
	stack.mu.Lock()
	defer stack.mu.Unlock()
	if n := len(stack.frames); n > 0 {
		top := stack.frames[n-1]
		if c.scopeIndex[top.scope] >= idx {
			return usageErrorf("scope %q entered out of declared order (innermost open scope is %q)", scope, top.scope)
		}
	}
	frame := &scopeFrame{scope: scope, id: uuid.New(), cache: newScopeCache()}
	stack.frames = append(stack.frames, frame)
	ctxlog.FromContext(ctx).Debug("Scope entered.", "scope", string(scope), "instance", frame.id)
	return nil
}

// ExitScope closes the innermost open scope, discarding its cache and
// everything cached in it.
func (c *Container) ExitScope(ctx context.Context, stack *ScopeStack) error {
	stack.mu.Lock()
	defer stack.mu.Unlock()
	n := len(stack.frames)
	if n == 0 {
		return usageErrorf("exit on a closed scope stack")
	}
	frame := stack.frames[n-1]
	stack.frames[n-1] = nil
	stack.frames = stack.frames[:n-1]
	ctxlog.FromContext(ctx).Debug("Scope exited.", "scope", string(frame.scope), "instance", frame.id)
	return nil
}

// cacheEntry is a future: the creator computes the value and closes done;
// racing readers wait on done instead of recomputing.
type cacheEntry struct {
	done  chan struct{}
	value any
	err   error
}

// scopeCache maps cache keys to computed values for one living scope
// instance. It guarantees the underlying call runs at most once per key per
// frame, even when concurrent executions race on a shared outer frame.
type scopeCache struct {
	mu      sync.Mutex
	entries map[dependant.CacheKey]*cacheEntry
}

func newScopeCache() *scopeCache {
	return &scopeCache{entries: make(map[dependant.CacheKey]*cacheEntry)}
}

// getOrCompute returns the cached value for key, computing it with compute
// if absent. A failed computation is not cached: the entry is removed so a
// later execution may retry, while in-flight waiters observe the error.
func (c *scopeCache) getOrCompute(ctx context.Context, key dependant.CacheKey, compute func() (any, error)) (any, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		c.mu.Unlock()
		select {
		case <-e.done:
			return e.value, e.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	e := &cacheEntry{done: make(chan struct{})}
	c.entries[key] = e
	c.mu.Unlock()

	e.value, e.err = compute()
	if e.err != nil {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
	}
	close(e.done)
	return e.value, e.err
}

// snapshot returns a copy of the cache contents, for tests and debugging.
func (c *scopeCache) snapshot() map[dependant.CacheKey]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[dependant.CacheKey]any, len(c.entries))
	for k, e := range c.entries {
		select {
		case <-e.done:
			if e.err == nil {
				out[k] = e.value
			}
		default:
		}
	}
	return out
}

// CacheSnapshot exposes the cache contents of the open frame for the given
// scope. Intended for tests and debugging tooling.
func (s *ScopeStack) CacheSnapshot(scope dependant.Scope) (map[dependant.CacheKey]any, bool) {
	frame, ok := s.frameFor(scope)
	if !ok {
		return nil, false
	}
	return frame.cache.snapshot(), true
}
