package container

import (
	"github.com/vk/solvent/dependant"
)

// validateScopes statically checks the full solved DAG, markers included,
// against the declared outermost-first scope ordering. A dependency may not
// live in a scope that closes before its dependent's scope: for every edge
// the dependency's scope index must be less than or equal to the dependent's.
func (c *Container) validateScopes(
	discovered []dependant.Dependant,
	paramGraph map[dependant.Dependant][]dependant.Parameter,
) error {
	index := func(dep dependant.Dependant) (int, error) {
		idx, ok := c.scopeIndex[dep.Scope()]
		if !ok {
			return 0, &ScopeValidationError{Dependant: dep, Scope: dep.Scope()}
		}
		return idx, nil
	}

	for _, dep := range discovered {
		depIdx, err := index(dep)
		if err != nil {
			return err
		}
		for _, p := range paramGraph[dep] {
			if p.Dependency == nil {
				continue
			}
			predIdx, err := index(p.Dependency)
			if err != nil {
				return err
			}
			if predIdx > depIdx {
				return &ScopeValidationError{
					Dependant:      p.Dependency,
					Scope:          p.Dependency.Scope(),
					Dependent:      dep,
					DependentScope: dep.Scope(),
				}
			}
		}
	}
	return nil
}
