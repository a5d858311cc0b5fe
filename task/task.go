// Package task holds the compiled, executable counterpart of a dependant:
// a node fully prepared for execution, with direct references to the tasks
// of its dependencies instead of declarative parameter edges. Tasks are
// built once per solve, in dependency order, and are immutable afterwards;
// a single task graph is shared read-only by every execution of its plan.
package task

import (
	"context"

	"github.com/vk/solvent/dependant"
)

// KeywordRef binds a keyword parameter name to the task computing its value.
type KeywordRef struct {
	Name string
	Task *Task
}

// Task is one compiled dependency unit. ID is a dense index into the
// per-execution results buffer.
type Task struct {
	ID       int
	Scope    dependant.Scope
	UseCache bool
	CacheKey dependant.CacheKey
	Call     dependant.Call

	// Dependant is the declarative node this task was compiled from, kept
	// for diagnostics.
	Dependant dependant.Dependant

	// Positional tasks feed the call in declaration order, Keyword tasks by
	// name. Structural tasks are ordering-only: computed first, not passed.
	Positional []*Task
	Keyword    []KeywordRef
	Structural []*Task
}

// Predecessors returns every task that must complete before this one runs.
func (t *Task) Predecessors() []*Task {
	preds := make([]*Task, 0, len(t.Positional)+len(t.Keyword)+len(t.Structural))
	preds = append(preds, t.Positional...)
	for _, kw := range t.Keyword {
		preds = append(preds, kw.Task)
	}
	preds = append(preds, t.Structural...)
	return preds
}

// Invoke gathers this task's argument values from the results buffer and
// runs the underlying call.
func (t *Task) Invoke(ctx context.Context, results []any) (any, error) {
	args := make([]any, len(t.Positional))
	for i, p := range t.Positional {
		args[i] = results[p.ID]
	}
	var kwargs map[string]any
	if len(t.Keyword) > 0 {
		kwargs = make(map[string]any, len(t.Keyword))
		for _, kw := range t.Keyword {
			kwargs[kw.Name] = results[kw.Task.ID]
		}
	}
	return t.Call(ctx, args, kwargs)
}
