package topo

import (
	"errors"
	"fmt"
	"sync"
)

// node processing states.
const (
	statePending int8 = iota
	statePassedOut
	stateDone
)

// CycleError reports that the graph contains a cycle. Cycle holds a concrete
// cycle path: the first and last elements are the same node.
type CycleError[N comparable] struct {
	Cycle []N
}

func (e *CycleError[N]) Error() string {
	return fmt.Sprintf("nodes are in a cycle: %v", e.Cycle)
}

var (
	// ErrPrepared is returned when the graph is mutated after Prepare.
	ErrPrepared = errors.New("topo: sorter already prepared")
	// ErrNotPrepared is returned when the incremental protocol is used before Prepare.
	ErrNotPrepared = errors.New("topo: sorter not prepared")
)

type nodeInfo[N comparable] struct {
	succ   []N
	npreds int
	state  int8
}

// Sorter is an incremental topological sorter. The zero value is not usable;
// create instances with New.
type Sorter[N comparable] struct {
	mu       sync.Mutex
	info     map[N]*nodeInfo[N]
	order    []N // insertion order, drives deterministic tie-breaking
	ready    []N // ready but not yet passed out
	prepared bool
	nDone    int
}

// New creates an empty Sorter.
func New[N comparable]() *Sorter[N] {
	return &Sorter[N]{info: make(map[N]*nodeInfo[N])}
}

func (s *Sorter[N]) node(n N) *nodeInfo[N] {
	in, ok := s.info[n]
	if !ok {
		in = &nodeInfo[N]{}
		s.info[n] = in
		s.order = append(s.order, n)
	}
	return in
}

// Add registers a node and its direct predecessors. Nodes may be added
// multiple times to accumulate predecessors. Add fails after Prepare.
func (s *Sorter[N]) Add(n N, preds ...N) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prepared {
		return ErrPrepared
	}
	in := s.node(n)
	in.npreds += len(preds)
	for _, p := range preds {
		pi := s.node(p)
		pi.succ = append(pi.succ, n)
	}
	return nil
}

// Len returns the number of registered nodes.
func (s *Sorter[N]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Prepare freezes the graph, checks it for cycles and primes the initial
// ready set. It returns a *CycleError if any cycle exists.
func (s *Sorter[N]) Prepare() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prepared {
		return ErrPrepared
	}
	if cycle := s.findCycle(); cycle != nil {
		return &CycleError[N]{Cycle: cycle}
	}
	s.prepared = true
	for _, n := range s.order {
		if s.info[n].npreds == 0 {
			s.ready = append(s.ready, n)
		}
	}
	return nil
}

// findCycle runs an iterative depth-first search with the classic
// three-color marking. It returns a concrete cycle path when one exists,
// with the offending node repeated at both ends.
func (s *Sorter[N]) findCycle() []N {
	const (
		white = 0 // unvisited
		gray  = 1 // on the current DFS path
		black = 2 // fully explored
	)
	color := make(map[N]int, len(s.order))

	type frame struct {
		n    N
		next int
	}

	for _, start := range s.order {
		if color[start] != white {
			continue
		}
		stack := []frame{{n: start}}
		color[start] = gray
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			succ := s.info[top.n].succ
			if top.next < len(succ) {
				child := succ[top.next]
				top.next++
				switch color[child] {
				case white:
					color[child] = gray
					stack = append(stack, frame{n: child})
				case gray:
					// The path from child's position on the stack back to
					// the top, plus child again, is a concrete cycle.
					var cycle []N
					for i := range stack {
						if len(cycle) > 0 || stack[i].n == child {
							cycle = append(cycle, stack[i].n)
						}
					}
					return append(cycle, child)
				}
				continue
			}
			color[top.n] = black
			stack = stack[:len(stack)-1]
		}
	}
	return nil
}

// Ready returns every node whose predecessors have all been marked done and
// which has not been passed out before. The batch preserves insertion order.
func (s *Sorter[N]) Ready() ([]N, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.prepared {
		return nil, ErrNotPrepared
	}
	batch := s.ready
	s.ready = nil
	for _, n := range batch {
		s.info[n].state = statePassedOut
	}
	return batch, nil
}

// Done marks previously passed-out nodes as finished, unlocking their
// dependents for a subsequent Ready call. Done is safe for concurrent use.
func (s *Sorter[N]) Done(nodes ...N) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.prepared {
		return ErrNotPrepared
	}
	for _, n := range nodes {
		in, ok := s.info[n]
		if !ok {
			return fmt.Errorf("topo: unknown node %v", n)
		}
		if in.state != statePassedOut {
			return fmt.Errorf("topo: node %v was not passed out by Ready", n)
		}
		in.state = stateDone
		s.nDone++
		for _, succ := range in.succ {
			si := s.info[succ]
			si.npreds--
			if si.npreds == 0 {
				s.ready = append(s.ready, succ)
			}
		}
	}
	return nil
}

// IsActive reports whether any node has not yet been marked done.
func (s *Sorter[N]) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nDone < len(s.order)
}

// Copy returns an independent clone of the sorter in its current state.
func (s *Sorter[N]) Copy() *Sorter[N] {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &Sorter[N]{
		info:     make(map[N]*nodeInfo[N], len(s.info)),
		order:    append([]N(nil), s.order...),
		ready:    append([]N(nil), s.ready...),
		prepared: s.prepared,
		nDone:    s.nDone,
	}
	for n, in := range s.info {
		c.info[n] = &nodeInfo[N]{
			succ:   append([]N(nil), in.succ...),
			npreds: in.npreds,
			state:  in.state,
		}
	}
	return c
}

// StaticOrder returns a full linear order with every dependency preceding
// its dependents. The receiver is left untouched; an unprepared receiver is
// cycle-checked first.
func (s *Sorter[N]) StaticOrder() ([]N, error) {
	c := s.Copy()
	if !c.prepared {
		if err := c.Prepare(); err != nil {
			return nil, err
		}
	}
	out := make([]N, 0, len(c.order))
	for c.IsActive() {
		batch, err := c.Ready()
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			return nil, fmt.Errorf("topo: no progress possible with %d nodes unfinished", len(c.order)-c.nDone)
		}
		out = append(out, batch...)
		if err := c.Done(batch...); err != nil {
			return nil, err
		}
	}
	return out, nil
}
