package container

import (
	"context"
	"errors"

	"github.com/vk/solvent/ctxlog"
	"github.com/vk/solvent/dependant"
	"github.com/vk/solvent/task"
	"github.com/vk/solvent/topo"
)

// Solve validates and compiles the graph rooted at root into a SolvedPlan.
//
// Solving runs four passes: a worklist traversal that applies bind hooks,
// deduplicates dependants by cache key and records a parent map; a
// topological sort of the computable nodes (cycle check); task compilation
// in dependency order; and static scope validation. Every structural error
// (wiring, scope conflict, cycle, scope validation) is raised here, never
// at execution time.
func (c *Container) Solve(ctx context.Context, root dependant.Dependant) (*SolvedPlan, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Solve: starting graph traversal.", "root", root)

	if rep := c.applyBinds(nil, root); rep != nil {
		logger.Debug("Solve: root replaced by bind hook.", "root", rep)
		root = rep
	}

	// Dedup table, solved DAG and parent map. The discovery list keeps the
	// traversal order so later passes stay deterministic for a fixed graph.
	byKey := make(map[dependant.CacheKey]dependant.Dependant)
	paramGraph := make(map[dependant.Dependant][]dependant.Parameter)
	parents := make(map[dependant.Dependant]dependant.Dependant)
	var discovered []dependant.Dependant

	queue := []dependant.Dependant{root}
	seen := make(map[dependant.Dependant]bool)
	for len(queue) > 0 {
		dep := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		seen[dep] = true

		key := dep.CacheKey()
		if other, ok := byKey[key]; ok {
			if other.Scope() != dep.Scope() {
				return nil, &SolvingError{
					Key:    key,
					ScopeA: dep.Scope(),
					ScopeB: other.Scope(),
					Path:   pathTo(dep, parents),
				}
			}
			// First occurrence wins structurally.
			continue
		}
		byKey[key] = dep
		discovered = append(discovered, dep)

		params, err := c.resolveParams(dep, parents)
		if err != nil {
			return nil, err
		}
		paramGraph[dep] = params
		for _, p := range params {
			if p.Dependency == nil {
				continue
			}
			parents[p.Dependency] = dep
			if !seen[p.Dependency] {
				queue = append(queue, p.Dependency)
			}
		}
	}
	logger.Debug("Solve: traversal complete.", "dependants", len(discovered))

	// Restrict to computable nodes. A call-less marker never becomes a task,
	// but its computable descendants still gate the nodes that depend on it:
	// the edge is collapsed into direct structural edges.
	computable := make(map[dependant.Dependant][]dependant.Parameter, len(paramGraph))
	nodeSorter := topo.New[dependant.CacheKey]()
	for _, dep := range discovered {
		if dep.Call() == nil {
			continue
		}
		var params []dependant.Parameter
		var preds []dependant.CacheKey
		for _, p := range paramGraph[dep] {
			if p.Dependency == nil {
				continue
			}
			if p.Dependency.Call() != nil {
				params = append(params, p)
				preds = append(preds, p.Dependency.CacheKey())
				continue
			}
			for _, desc := range computableDescendants(p.Dependency, byKey, paramGraph, nil) {
				params = append(params, dependant.Parameter{Dependency: desc})
				preds = append(preds, desc.CacheKey())
			}
		}
		computable[dep] = params
		if err := nodeSorter.Add(dep.CacheKey(), preds...); err != nil {
			return nil, err
		}
	}

	order, err := nodeSorter.StaticOrder()
	if err != nil {
		var cycleErr *topo.CycleError[dependant.CacheKey]
		if errors.As(err, &cycleErr) {
			inCycle := byKey[cycleErr.Cycle[len(cycleErr.Cycle)-1]]
			return nil, &CycleError{Path: pathTo(inCycle, parents)}
		}
		return nil, err
	}
	logger.Debug("Solve: topological sort complete.", "computable", len(order))

	rootTask, execSorter, staticOrder, taskCount, err := buildTasks(byKey, computable, order, root)
	if err != nil {
		return nil, err
	}
	logger.Debug("Solve: task compilation complete.", "tasks", taskCount)

	if err := c.validateScopes(discovered, paramGraph); err != nil {
		return nil, err
	}
	logger.Debug("Solve: scope validation passed.")

	plan := newSolvedPlan(root, rootTask, paramGraph, execSorter, staticOrder, taskCount)
	logger.Debug("Solve: plan ready.", "plan_id", plan.ID)
	return plan, nil
}

// resolveParams applies bind hooks to every parameter edge of dep and runs
// the wiring check: a named parameter must end up with a usable call or
// carry a default.
func (c *Container) resolveParams(
	dep dependant.Dependant,
	parents map[dependant.Dependant]dependant.Dependant,
) ([]dependant.Parameter, error) {
	params := dep.Dependencies()
	for i := range params {
		if rep := c.applyBinds(&params[i], params[i].Dependency); rep != nil {
			params[i].Dependency = rep
		}
		p := params[i]
		if p.Name == "" {
			continue
		}
		if (p.Dependency == nil || p.Dependency.Call() == nil) && !p.HasDefault {
			return nil, &WiringError{
				Param:     p.Name,
				Dependant: dep,
				Path:      pathTo(dep, parents),
			}
		}
	}
	return params, nil
}

// computableDescendants collects the nearest computable nodes reachable from
// a call-less dependant, resolving every hop to its canonical instance. The
// seen set breaks loops made of call-less nodes only; computable cycles are
// caught by the topological sort.
func computableDescendants(
	dep dependant.Dependant,
	byKey map[dependant.CacheKey]dependant.Dependant,
	paramGraph map[dependant.Dependant][]dependant.Parameter,
	seen map[dependant.Dependant]bool,
) []dependant.Dependant {
	if seen == nil {
		seen = make(map[dependant.Dependant]bool)
	}
	canonical := byKey[dep.CacheKey()]
	if canonical == nil || seen[canonical] {
		return nil
	}
	seen[canonical] = true

	var out []dependant.Dependant
	for _, p := range paramGraph[canonical] {
		if p.Dependency == nil {
			continue
		}
		if p.Dependency.Call() != nil {
			out = append(out, p.Dependency)
			continue
		}
		out = append(out, computableDescendants(p.Dependency, byKey, paramGraph, seen)...)
	}
	return out
}

// buildTasks compiles the topologically ordered nodes into tasks with direct
// references to their dependency tasks, registers them in the execution-time
// sorter and freezes a static order snapshot.
func buildTasks(
	byKey map[dependant.CacheKey]dependant.Dependant,
	computable map[dependant.Dependant][]dependant.Parameter,
	order []dependant.CacheKey,
	root dependant.Dependant,
) (*task.Task, *topo.Sorter[*task.Task], []*task.Task, int, error) {
	tasks := make(map[dependant.CacheKey]*task.Task, len(order))
	execSorter := topo.New[*task.Task]()

	for id, key := range order {
		dep := byKey[key]
		var positional []*task.Task
		var keyword []task.KeywordRef
		var structural []*task.Task
		for _, p := range computable[dep] {
			// Dependencies precede dependents in the order, so the task is
			// guaranteed to exist.
			depTask := tasks[p.Dependency.CacheKey()]
			switch {
			case p.Name == "":
				structural = append(structural, depTask)
			case p.Kind == dependant.Keyword:
				keyword = append(keyword, task.KeywordRef{Name: p.Name, Task: depTask})
			default:
				positional = append(positional, depTask)
			}
		}
		t := &task.Task{
			ID:         id,
			Scope:      dep.Scope(),
			UseCache:   dep.UseCache(),
			CacheKey:   key,
			Call:       dep.Call(),
			Dependant:  dep,
			Positional: positional,
			Keyword:    keyword,
			Structural: structural,
		}
		tasks[key] = t
		if err := execSorter.Add(t, t.Predecessors()...); err != nil {
			return nil, nil, nil, 0, err
		}
	}

	rootTask, ok := tasks[root.CacheKey()]
	if !ok {
		return nil, nil, nil, 0, usageErrorf("root dependant %v has no call and cannot be executed", root)
	}

	staticOrder, err := execSorter.StaticOrder()
	if err != nil {
		return nil, nil, nil, 0, err
	}
	if err := execSorter.Prepare(); err != nil {
		return nil, nil, nil, 0, err
	}
	return rootTask, execSorter, staticOrder, len(tasks), nil
}
