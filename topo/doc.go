// Package topo provides an incremental topological sorter over a directed
// acyclic graph of comparable nodes.
//
// # Why Topo Exists
//
// The solver needs a one-shot dependency ordering to compile tasks, and the
// execution engine needs the same structure kept "primed" so it can repeatedly
// ask for the current ready set while marking tasks done from concurrent
// workers. Both are served by one Sorter exposing the incremental protocol
// (Prepare, Ready, Done, IsActive) plus the batch convenience StaticOrder.
//
// # Protocol
//
//	s := topo.New[string]()
//	s.Add("b", "a")            // b depends on a
//	if err := s.Prepare(); err != nil { ... } // cycle check, primes ready set
//	for s.IsActive() {
//	    batch, _ := s.Ready()  // nodes whose predecessors are all done
//	    ...                    // process batch, possibly in parallel
//	    s.Done(batch...)       // unlocks dependents
//	}
//
// Ready batches preserve node insertion order, so the order produced for a
// fixed graph is deterministic. Done is safe to call from multiple
// goroutines; Ready and Done must not be interleaved with Add.
//
// # Reuse
//
// A prepared Sorter is consumed by Ready/Done. Copy returns an independent
// clone, so a prepared Sorter can serve as a reusable template: copy once per
// run, walk the copy.
package topo
