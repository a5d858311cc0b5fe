package container

import (
	"context"
	"fmt"

	"github.com/vk/solvent/ctxlog"
	"github.com/vk/solvent/executors"
	"github.com/vk/solvent/task"
)

// ExecuteSequential runs the plan by walking its precomputed static order
// exactly once, in order, and returns the root task's value. Every scope
// referenced by the plan must currently be open on the stack.
func (c *Container) ExecuteSequential(ctx context.Context, plan *SolvedPlan, stack *ScopeStack) (any, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Execute: sequential run starting.", "plan_id", plan.ID, "tasks", plan.taskCount)

	results := make([]any, plan.taskCount)
	for _, t := range plan.staticOrder {
		if err := c.computeTask(ctx, t, results, stack); err != nil {
			return nil, err
		}
	}
	logger.Debug("Execute: sequential run complete.", "plan_id", plan.ID)
	return results[plan.RootTask.ID], nil
}

// ExecuteConcurrent runs the plan by repeatedly dispatching the current
// ready set to the executor until every task is done. Tasks within a batch
// may run in parallel; ordering across batches is enforced by the plan's
// topological structure. Results and caching effects are identical to
// sequential execution. The first task failure aborts the run: no further
// batches are dispatched.
func (c *Container) ExecuteConcurrent(ctx context.Context, plan *SolvedPlan, stack *ScopeStack, ex executors.Executor) (any, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Execute: concurrent run starting.", "plan_id", plan.ID, "tasks", plan.taskCount)

	results := make([]any, plan.taskCount)
	sorter := plan.template.Copy()
	for sorter.IsActive() {
		batch, err := sorter.Ready()
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			return nil, usageErrorf("no runnable tasks but %d still pending; plan %s is inconsistent", plan.taskCount, plan.ID)
		}
		work := make([]executors.Work, len(batch))
		for i, t := range batch {
			t := t
			work[i] = func(wctx context.Context) error {
				if err := c.computeTask(wctx, t, results, stack); err != nil {
					return err
				}
				return sorter.Done(t)
			}
		}
		if err := ex.Execute(ctx, work); err != nil {
			return nil, err
		}
	}
	logger.Debug("Execute: concurrent run complete.", "plan_id", plan.ID)
	return results[plan.RootTask.ID], nil
}

// computeTask resolves one task against the live stack: find the owning
// frame, consult its cache when the task participates in caching, invoke the
// call otherwise, and record the value in the results buffer.
func (c *Container) computeTask(ctx context.Context, t *task.Task, results []any, stack *ScopeStack) error {
	frame, ok := stack.frameFor(t.Scope)
	if !ok {
		return usageErrorf("scope %q required by %v is not open", t.Scope, t.Dependant)
	}

	var value any
	var err error
	if t.UseCache {
		value, err = frame.cache.getOrCompute(ctx, t.CacheKey, func() (any, error) {
			return t.Invoke(ctx, results)
		})
	} else {
		value, err = t.Invoke(ctx, results)
	}
	if err != nil {
		return fmt.Errorf("executing %v: %w", t.Dependant, err)
	}
	results[t.ID] = value
	return nil
}
