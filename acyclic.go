package mediasched

import "fmt"

// dfsState is a node's visitation state during the acyclicity check,
// mirroring CYCLE_NODE_NEW/STARTED/DONE from the C implementation this is
// grounded on.
type dfsState int

const (
	dfsNew dfsState = iota
	dfsStarted
	dfsDone
)

type nodeKey struct {
	kind NodeKind
	idx  int
}

// checkAcyclic verifies the graph has no cycles, reachable only through
// the two destination kinds that can ever lead back to their own source —
// a filtergraph (via its own output feeding, directly or indirectly, one
// of its own inputs) or an encoder/decoder loopback (S7's subtitle
// re-decode path looping back into the same encoder). Demuxers are only
// ever DFS starting points: nothing ever feeds a demuxer, so they can
// never participate in a cycle.
//
// Uses a plain recursive depth-first search rather than the teacher's
// explicit-stack iterative one: Go goroutine stacks grow on demand, and
// graphs built through the Add*/Connect API top out at a handful of nodes,
// so the extra bookkeeping an explicit stack needs buys nothing here.
func (s *Scheduler) checkAcyclic() error {
	adj := s.buildAdjacency()
	state := make(map[nodeKey]dfsState)

	var visit func(n nodeKey) error
	visit = func(n nodeKey) error {
		switch state[n] {
		case dfsDone:
			return nil
		case dfsStarted:
			return fmt.Errorf("%w: cycle detected at %s node %d", ErrInvalidArg, n.kind, n.idx)
		}
		state[n] = dfsStarted
		for _, next := range adj[n] {
			if err := visit(next); err != nil {
				return err
			}
		}
		state[n] = dfsDone
		return nil
	}

	for i := range s.demux {
		if err := visit(nodeKey{KindDemux, i}); err != nil {
			return err
		}
	}
	for i := range s.filters {
		if err := visit(nodeKey{KindFilterOut, i}); err != nil {
			return err
		}
	}
	for i := range s.enc {
		if err := visit(nodeKey{KindEncode, i}); err != nil {
			return err
		}
	}
	return nil
}

// buildAdjacency flattens every node kind's per-output destination lists
// into a single kind+index adjacency map, and adds an internal
// FilterIn -> FilterOut edge for every filtergraph (the graph's internals
// are opaque to the scheduler, so any input is conservatively assumed able
// to reach any output).
func (s *Scheduler) buildAdjacency() map[nodeKey][]nodeKey {
	adj := make(map[nodeKey][]nodeKey)
	add := func(k nodeKey, dsts []NodeRef) {
		for _, d := range dsts {
			adj[k] = append(adj[k], nodeKey{d.Kind, d.Node})
		}
	}

	for i, n := range s.demux {
		for _, ds := range n.streams {
			add(nodeKey{KindDemux, i}, ds.dst)
		}
	}
	for i, n := range s.dec {
		for _, o := range n.outputs {
			add(nodeKey{KindDecode, i}, o.dst)
		}
	}
	for i, n := range s.filters {
		for _, o := range n.outputs {
			add(nodeKey{KindFilterOut, i}, o.dst)
		}
		adj[nodeKey{KindFilterIn, i}] = append(adj[nodeKey{KindFilterIn, i}], nodeKey{KindFilterOut, i})
	}
	for i, n := range s.enc {
		add(nodeKey{KindEncode, i}, n.dst)
	}

	return adj
}
