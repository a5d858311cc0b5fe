package container

import (
	"github.com/google/uuid"
	"github.com/vk/solvent/dependant"
	"github.com/vk/solvent/task"
	"github.com/vk/solvent/topo"
)

// SolvedPlan is the immutable output of Solve: the compiled task graph
// packaged for repeated execution. A plan is safe to share across
// concurrent executions; all mutable execution state (results buffer,
// sorter copy) is allocated per run.
type SolvedPlan struct {
	// ID identifies the plan in logs.
	ID uuid.UUID
	// Root is the dependant the plan was solved for, after bind resolution.
	Root dependant.Dependant
	// RootTask computes the plan's output value.
	RootTask *task.Task
	// Graph is the solved dependency DAG, markers included, for diagnostics.
	Graph map[dependant.Dependant][]dependant.Parameter

	// template is the prepared execution-time sorter; every concurrent
	// execution walks its own Copy.
	template *topo.Sorter[*task.Task]
	// staticOrder is the frozen linear order used by sequential execution.
	staticOrder []*task.Task
	// taskCount sizes the per-execution results buffer.
	taskCount int
}

func newSolvedPlan(
	root dependant.Dependant,
	rootTask *task.Task,
	graph map[dependant.Dependant][]dependant.Parameter,
	template *topo.Sorter[*task.Task],
	staticOrder []*task.Task,
	taskCount int,
) *SolvedPlan {
	return &SolvedPlan{
		ID:          uuid.New(),
		Root:        root,
		RootTask:    rootTask,
		Graph:       graph,
		template:    template,
		staticOrder: staticOrder,
		taskCount:   taskCount,
	}
}

// StaticOrder returns the precomputed linear task order. The returned slice
// is shared and must be treated as read-only.
func (p *SolvedPlan) StaticOrder() []*task.Task {
	return p.staticOrder
}

// TaskCount returns the number of compiled tasks.
func (p *SolvedPlan) TaskCount() int {
	return p.taskCount
}
