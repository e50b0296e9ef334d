// Package chunk implements the streaming protocol layer: adaptive
// packetization of media payloads into prioritized packets, and
// dependency-aware sequencing of chunk graphs.
package chunk

import (
	"errors"
	"fmt"
)

// ErrCycle is returned by Sequence when the dependency graph is not
// acyclic. Well-formed input never contains cycles, but malformed input
// must be rejected rather than recursed into forever.
var ErrCycle = errors.New("chunk: dependency cycle")

// node is one chunk entry in the arena. Dependencies are stable integer
// ids into the same arena, never pointers, so ownership cycles cannot
// arise even from malformed input.
type node struct {
	id        uint32
	timestamp uint64
	size      uint32
	deps      []uint32
	leaf      bool
}

// Graph is an arena of chunks with explicit dependency-id lists. Despite
// the original protocol calling this a tree, it is a general DAG: a chunk
// may be depended on by many others. A chunk is a leaf iff it declares no
// dependencies. Not safe for concurrent use; a Graph belongs to a single
// stream session.
type Graph struct {
	nodes []node
	index map[uint32]int
}

// NewGraph creates a Graph seeded with a synthetic root (id 0) that the
// sequencer starts traversal from.
func NewGraph() *Graph {
	g := &Graph{index: make(map[uint32]int)}
	g.nodes = append(g.nodes, node{id: 0})
	g.index[0] = 0
	return g
}

// Insert records a chunk and its dependency ids. Dependencies must refer
// to chunks inserted earlier; a forward or unknown reference is rejected.
// Inserted chunks are immutable thereafter.
func (g *Graph) Insert(id uint32, timestamp uint64, size uint32, deps []uint32) error {
	if _, ok := g.index[id]; ok {
		return fmt.Errorf("chunk %d: already inserted", id)
	}
	for _, dep := range deps {
		if _, ok := g.index[dep]; !ok {
			return fmt.Errorf("chunk %d: unknown dependency %d", id, dep)
		}
	}
	g.nodes = append(g.nodes, node{
		id:        id,
		timestamp: timestamp,
		size:      size,
		deps:      append([]uint32(nil), deps...),
		leaf:      len(deps) == 0,
	})
	g.index[id] = len(g.nodes) - 1
	// The root depends on every top-level chunk so a single traversal
	// reaches the whole graph.
	g.nodes[0].deps = append(g.nodes[0].deps, id)
	return nil
}

// Len returns the number of inserted chunks, excluding the root.
func (g *Graph) Len() int {
	return len(g.nodes) - 1
}

// Sequence returns chunk ids in dependency-first order: a chunk's
// declared dependencies are always emitted before the chunk itself, and
// leaf chunks are emitted in visitation order. Returns ErrCycle if the
// graph is cyclic.
func (g *Graph) Sequence() ([]uint32, error) {
	const (
		unvisited = iota
		inProgress
		done
	)
	state := make([]uint8, len(g.nodes))
	sequence := make([]uint32, 0, g.Len())

	// Iterative DFS with an explicit stack; chunk graphs can be deep
	// enough that recursion risks stack growth on long dependency chains.
	type frame struct {
		idx  int
		next int
	}
	stack := []frame{{idx: 0}}
	state[0] = inProgress

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		n := &g.nodes[top.idx]

		if top.next < len(n.deps) {
			depIdx := g.index[n.deps[top.next]]
			top.next++
			switch state[depIdx] {
			case inProgress:
				return nil, fmt.Errorf("%w involving chunk %d", ErrCycle, g.nodes[depIdx].id)
			case unvisited:
				state[depIdx] = inProgress
				stack = append(stack, frame{idx: depIdx})
			}
			continue
		}

		if n.leaf && top.idx != 0 {
			sequence = append(sequence, n.id)
		}
		state[top.idx] = done
		stack = stack[:len(stack)-1]
	}

	return sequence, nil
}
