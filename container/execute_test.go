package container

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/solvent/dependant"
	"github.com/vk/solvent/executors"
)

// runOnce executes the plan inside a fresh innermost scope on the stack.
func runOnce(t *testing.T, c *Container, plan *SolvedPlan, stack *ScopeStack) any {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, c.EnterScope(ctx, stack, ""))
	got, err := c.ExecuteSequential(ctx, plan, stack)
	require.NoError(t, err)
	require.NoError(t, c.ExitScope(ctx, stack))
	return got
}

func TestCacheRulesSingleDep(t *testing.T) {
	cases := []struct {
		name     string
		useCache bool
		scope    dependant.Scope
		cached   bool
	}{
		{"cached in outer scope", true, "outer", true},
		{"execution scoped, fresh per run", true, "", false},
		{"cache disabled", false, "outer", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newContainer(t, "outer", "")
			dep := dependant.New(counterCall(),
				dependant.WithName("dep"),
				dependant.WithScope(tc.scope),
				dependant.WithUseCache(tc.useCache),
			)
			plan, err := c.Solve(context.Background(), dep)
			require.NoError(t, err)

			stack := NewScopeStack()
			require.NoError(t, c.EnterScope(context.Background(), stack, "outer"))
			v1 := runOnce(t, c, plan, stack)
			v2 := runOnce(t, c, plan, stack)

			assert.Equal(t, tc.cached, v1 == v2, "v1=%v v2=%v", v1, v2)
		})
	}
}

func TestCacheRulesTwoUsesOfOneDep(t *testing.T) {
	set := func(vals ...int) map[int]bool {
		s := make(map[int]bool, len(vals))
		for _, v := range vals {
			s[v] = true
		}
		return s
	}
	cases := []struct {
		name         string
		dep1UseCache bool
		dep2UseCache bool
		scope        dependant.Scope
		want1, want2 map[int]bool
	}{
		{"both cached, outer", true, true, "outer", set(0), set(0)},
		{"first uncached, outer", false, true, "outer", set(0, 1), set(2, 1)},
		{"second uncached, outer", true, false, "outer", set(0, 1), set(0, 2)},
		{"none cached, outer", false, false, "outer", set(0, 1), set(2, 3)},
		{"both cached, execution scope", true, true, "", set(0), set(1)},
		{"first uncached, execution scope", false, true, "", set(0, 1), set(2, 3)},
		{"second uncached, execution scope", true, false, "", set(0, 1), set(2, 3)},
		{"none cached, execution scope", false, false, "", set(0, 1), set(2, 3)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newContainer(t, "outer", "")
			gen := counterCall()
			d1 := dependant.New(gen,
				dependant.WithName("d1"),
				dependant.WithScope(tc.scope),
				dependant.WithUseCache(tc.dep1UseCache),
				dependant.WithCacheKey("dep"),
			)
			d2 := dependant.New(gen,
				dependant.WithName("d2"),
				dependant.WithScope(tc.scope),
				dependant.WithUseCache(tc.dep2UseCache),
				dependant.WithCacheKey("dep"),
			)
			// The order in which v1 and v2 execute is an implementation
			// detail; results are sets to avoid depending on it.
			root := dependant.New(
				func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
					got := make(map[int]bool, len(args))
					for _, a := range args {
						got[a.(int)] = true
					}
					return got, nil
				},
				dependant.WithName("root"),
				dependant.WithParam("v1", d1),
				dependant.WithParam("v2", d2),
			)
			plan, err := c.Solve(context.Background(), root)
			require.NoError(t, err)

			stack := NewScopeStack()
			require.NoError(t, c.EnterScope(context.Background(), stack, "outer"))
			v1 := runOnce(t, c, plan, stack)
			v2 := runOnce(t, c, plan, stack)

			assert.Equal(t, tc.want1, v1)
			assert.Equal(t, tc.want2, v2)
		})
	}
}

func TestKeywordParamsDeliveredByName(t *testing.T) {
	c := newContainer(t, "")
	host := dependant.New(constCall("localhost"), dependant.WithName("host"))
	port := dependant.New(constCall(5432), dependant.WithName("port"))
	root := dependant.New(
		func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
			require.Empty(t, args)
			return fmt.Sprintf("%v:%v", kwargs["host"], kwargs["port"]), nil
		},
		dependant.WithName("root"),
		dependant.WithKeywordParam("host", host),
		dependant.WithKeywordParam("port", port),
	)

	plan, err := c.Solve(context.Background(), root)
	require.NoError(t, err)

	stack := NewScopeStack()
	got := runOnce(t, c, plan, stack)
	assert.Equal(t, "localhost:5432", got)
}

func TestSequentialConcurrentEquivalence(t *testing.T) {
	c := newContainer(t, "outer", "")
	cfg := dependant.New(constCall(7), dependant.WithName("cfg"), dependant.WithScope("outer"))
	svcA := dependant.New(
		func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
			return args[0].(int) + 1, nil
		},
		dependant.WithName("svcA"),
		dependant.WithParam("cfg", cfg),
	)
	svcB := dependant.New(
		func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
			return args[0].(int) * 2, nil
		},
		dependant.WithName("svcB"),
		dependant.WithParam("cfg", cfg),
	)
	root := dependant.New(
		func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
			return args[0].(int) + args[1].(int), nil
		},
		dependant.WithName("root"),
		dependant.WithParam("a", svcA),
		dependant.WithParam("b", svcB),
	)

	plan, err := c.Solve(context.Background(), root)
	require.NoError(t, err)

	type outcome struct {
		value any
		outer map[dependant.CacheKey]any
		inner map[dependant.CacheKey]any
	}
	run := func(mode string, exec executors.Executor) outcome {
		ctx := context.Background()
		stack := NewScopeStack()
		require.NoError(t, c.EnterScope(ctx, stack, "outer"))
		require.NoError(t, c.EnterScope(ctx, stack, ""))
		var got any
		if exec == nil {
			got, err = c.ExecuteSequential(ctx, plan, stack)
		} else {
			got, err = c.ExecuteConcurrent(ctx, plan, stack, exec)
		}
		require.NoError(t, err, "mode %s", mode)
		outer, ok := stack.CacheSnapshot("outer")
		require.True(t, ok)
		inner, ok := stack.CacheSnapshot("")
		require.True(t, ok)
		return outcome{value: got, outer: outer, inner: inner}
	}

	want := run("sequential", nil)
	assert.Equal(t, 22, want.value)

	modes := map[string]executors.Executor{
		"sync":    executors.Sync{},
		"group":   executors.Group{},
		"bounded": executors.Group{Limit: 2},
		"pool":    executors.Pool{MaxGoroutines: 2},
		"workers": executors.Workers{Count: 2},
	}
	for name, exec := range modes {
		got := run(name, exec)
		assert.Equal(t, want.value, got.value, "mode %s", name)
		assert.Equal(t, want.outer, got.outer, "mode %s", name)
		assert.Equal(t, want.inner, got.inner, "mode %s", name)
	}
}

func TestScopeUsageErrors(t *testing.T) {
	c := newContainer(t, "outer", "")
	ctx := context.Background()

	var usageErr *UsageError

	stack := NewScopeStack()
	require.ErrorAs(t, c.EnterScope(ctx, stack, "bogus"), &usageErr)

	require.NoError(t, c.EnterScope(ctx, stack, ""))
	require.ErrorAs(t, c.EnterScope(ctx, stack, "outer"), &usageErr)

	require.NoError(t, c.ExitScope(ctx, stack))
	require.ErrorAs(t, c.ExitScope(ctx, stack), &usageErr)

	require.NoError(t, c.EnterScope(ctx, stack, "outer"))
	require.ErrorAs(t, c.EnterScope(ctx, stack, "outer"), &usageErr)
	assert.Equal(t, 1, stack.Depth())
}

func TestExecuteRequiresOpenScope(t *testing.T) {
	c := newContainer(t, "outer", "")
	dep := dependant.New(constCall(1), dependant.WithName("dep"), dependant.WithScope("outer"))
	plan, err := c.Solve(context.Background(), dep)
	require.NoError(t, err)

	// Only the execution scope is open; the task's own scope is not.
	stack := NewScopeStack()
	require.NoError(t, c.EnterScope(context.Background(), stack, ""))
	_, err = c.ExecuteSequential(context.Background(), plan, stack)
	var usageErr *UsageError
	require.ErrorAs(t, err, &usageErr)
}

func TestCallFailureIsFailFast(t *testing.T) {
	errBoom := errors.New("boom")
	var downstream atomic.Int64

	failing := dependant.New(
		func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
			return nil, errBoom
		},
		dependant.WithName("failing"),
	)
	root := dependant.New(
		func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
			downstream.Add(1)
			return nil, nil
		},
		dependant.WithName("root"),
		dependant.WithParam("v", failing),
	)

	c := newContainer(t, "")
	plan, err := c.Solve(context.Background(), root)
	require.NoError(t, err)

	for name, exec := range map[string]executors.Executor{
		"sequential": nil,
		"group":      executors.Group{},
		"workers":    executors.Workers{Count: 2},
	} {
		t.Run(name, func(t *testing.T) {
			downstream.Store(0)
			ctx := context.Background()
			stack := NewScopeStack()
			require.NoError(t, c.EnterScope(ctx, stack, ""))

			if exec == nil {
				_, err = c.ExecuteSequential(ctx, plan, stack)
			} else {
				_, err = c.ExecuteConcurrent(ctx, plan, stack, exec)
			}
			require.ErrorIs(t, err, errBoom)
			assert.Equal(t, int64(0), downstream.Load(), "dependent task must not run after a failure")
		})
	}
}

func TestComputeOnceAcrossConcurrentExecutions(t *testing.T) {
	c := newContainer(t, "outer", "")

	var invocations atomic.Int64
	shared := dependant.New(
		func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
			invocations.Add(1)
			time.Sleep(30 * time.Millisecond)
			return "expensive", nil
		},
		dependant.WithName("shared"),
		dependant.WithScope("outer"),
	)
	plan, err := c.Solve(context.Background(), shared)
	require.NoError(t, err)

	stack := NewScopeStack()
	require.NoError(t, c.EnterScope(context.Background(), stack, "outer"))

	const runs = 8
	values := make([]any, runs)
	var wg sync.WaitGroup
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx := context.Background()
			fork := stack.Fork()
			if !assert.NoError(t, c.EnterScope(ctx, fork, "")) {
				return
			}
			got, err := c.ExecuteSequential(ctx, plan, fork)
			if !assert.NoError(t, err) {
				return
			}
			values[i] = got
			assert.NoError(t, c.ExitScope(ctx, fork))
		}(i)
	}
	wg.Wait()

	// The call ran once for the living outer scope instance, no matter how
	// many executions raced on it.
	assert.Equal(t, int64(1), invocations.Load())
	for _, v := range values {
		assert.Equal(t, "expensive", v)
	}
}

func TestFreshCachePerScopeEntry(t *testing.T) {
	c := newContainer(t, "outer", "")
	dep := dependant.New(counterCall(), dependant.WithName("dep"), dependant.WithScope("outer"))
	plan, err := c.Solve(context.Background(), dep)
	require.NoError(t, err)

	ctx := context.Background()
	stack := NewScopeStack()

	require.NoError(t, c.EnterScope(ctx, stack, "outer"))
	first := runOnce(t, c, plan, stack)
	require.NoError(t, c.ExitScope(ctx, stack))

	// Re-entering the outer scope creates a fresh cache: the old value is
	// unreachable.
	require.NoError(t, c.EnterScope(ctx, stack, "outer"))
	second := runOnce(t, c, plan, stack)

	assert.Equal(t, 0, first)
	assert.Equal(t, 1, second)
}

func TestPlanReuseAcrossExecutions(t *testing.T) {
	c := newContainer(t, "")
	dep := dependant.New(counterCall(), dependant.WithName("dep"), dependant.WithUseCache(false))
	plan, err := c.Solve(context.Background(), dep)
	require.NoError(t, err)

	stack := NewScopeStack()
	require.NoError(t, c.EnterScope(context.Background(), stack, ""))

	assert.Equal(t, 0, runOnce(t, c, plan, stack))
	assert.Equal(t, 1, runOnce(t, c, plan, stack))
	assert.Equal(t, 2, runOnce(t, c, plan, stack))
}
