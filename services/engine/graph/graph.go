// Copyright (C) 2025 Loomworks (engineering@loomworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package graph validates workflow edge sets and schedules DAG execution.
//
// The package is pure: it operates on node-id sets and edge lists with no
// I/O, which is what makes the scheduler's batch layering and the AND-join
// aggregation deterministic and cheap to test.
//
// # Thread Safety
//
// All functions are stateless and safe for concurrent use. A BatchIterator
// is single-consumer and must not be shared across goroutines.
package graph

import (
	"sort"
	"strings"

	"github.com/loomworks/loom/services/engine/model"
)

// color values for the depth-first cycle scan.
type color uint8

const (
	white color = iota // unvisited
	gray               // in progress
	black              // done
)

// ValidateEdges verifies that every edge references a node in nodeIDs and
// that the edge relation is acyclic.
//
// Description:
//
//	Reference violations are checked first across the whole edge list, so
//	a bad endpoint is always reported in preference to a cycle involving
//	the same edge. Cycle detection is a three-color depth-first scan,
//	implemented iteratively with an explicit stack so very large graphs
//	cannot exhaust the call stack. Disconnected components are valid;
//	self-loops are cycles.
//
// Inputs:
//
//	nodeIDs - The workflow's node ids. Need only be unique within the set.
//	edges - The workflow's edges.
//
// Outputs:
//
//	error - Nil when the edges form a DAG over nodeIDs. A *ReferenceError
//	(wrapping ErrInvalidNodeReference) or *CycleError (wrapping
//	ErrCycleDetected) otherwise.
func ValidateEdges(nodeIDs []string, edges []model.Edge) error {
	nodeSet := make(map[string]struct{}, len(nodeIDs))
	for _, id := range nodeIDs {
		nodeSet[id] = struct{}{}
	}

	for _, edge := range edges {
		if _, ok := nodeSet[edge.FromNodeID]; !ok {
			return &ReferenceError{NodeID: edge.FromNodeID}
		}
		if _, ok := nodeSet[edge.ToNodeID]; !ok {
			return &ReferenceError{NodeID: edge.ToNodeID}
		}
	}

	adjacency := buildAdjacency(edges)

	colors := make(map[string]color, len(nodeIDs))

	// Iterate in sorted order so the reported cycle node is stable.
	sorted := append([]string(nil), nodeIDs...)
	sort.Strings(sorted)

	type frame struct {
		id   string
		next int
	}

	for _, start := range sorted {
		if colors[start] != white {
			continue
		}

		stack := []frame{{id: start}}
		colors[start] = gray

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			neighbors := adjacency[top.id]

			if top.next < len(neighbors) {
				next := neighbors[top.next]
				top.next++

				switch colors[next] {
				case gray:
					return &CycleError{NodeID: next}
				case white:
					colors[next] = gray
					stack = append(stack, frame{id: next})
				}
				continue
			}

			colors[top.id] = black
			stack = stack[:len(stack)-1]
		}
	}

	return nil
}

// Dependencies returns the distinct direct predecessors of nodeID.
//
// Order is unspecified; callers that need determinism sort the result
// (AggregateInputs does).
func Dependencies(nodeID string, edges []model.Edge) []string {
	seen := make(map[string]struct{})
	deps := make([]string, 0)
	for _, edge := range edges {
		if edge.ToNodeID != nodeID {
			continue
		}
		if _, ok := seen[edge.FromNodeID]; ok {
			continue
		}
		seen[edge.FromNodeID] = struct{}{}
		deps = append(deps, edge.FromNodeID)
	}
	return deps
}

// AggregateInputs joins predecessor outputs into a single input text.
//
// Description:
//
//	Implements the deterministic AND-join: dependency ids are sorted
//	lexicographically, ids with no recorded or empty output are skipped,
//	and the surviving outputs are joined with a blank line. Sorting by id
//	rather than completion time is what makes fan-in deterministic
//	regardless of goroutine completion order.
//
//	Zero dependencies yields "" regardless of outputs; the caller
//	substitutes the workflow-level seed text in that case.
func AggregateInputs(dependencyIDs []string, outputs map[string]string) string {
	if len(dependencyIDs) == 0 {
		return ""
	}

	sorted := append([]string(nil), dependencyIDs...)
	sort.Strings(sorted)

	parts := make([]string, 0, len(sorted))
	for _, id := range sorted {
		output, ok := outputs[id]
		if !ok || output == "" {
			continue
		}
		parts = append(parts, output)
	}

	return strings.Join(parts, "\n\n")
}

// BatchIterator yields successive parallel-execution batches of a DAG.
//
// Description:
//
//	Pure Kahn layering by in-degree: the first batch is every node with
//	no incoming edge, and each following batch is exactly the nodes whose
//	in-degree reaches zero once the previous batch is removed. A fan-out
//	of k children appears as one batch of k ids; a fan-in child appears
//	alone after all its parents' batches.
//
//	The sequence is lazy, finite, and non-restartable. An empty node set
//	yields zero batches.
//
// Thread Safety:
//
//	Not safe for concurrent use; a BatchIterator belongs to one consumer.
type BatchIterator struct {
	adjacency map[string][]string
	inDegree  map[string]int
	ready     []string
}

// Schedule builds a BatchIterator over the given nodes and edges.
//
// The edge set must already have passed ValidateEdges; scheduling a
// cyclic graph simply terminates early with the cyclic remainder never
// yielded.
func Schedule(nodeIDs []string, edges []model.Edge) *BatchIterator {
	adjacency := buildAdjacency(edges)

	inDegree := make(map[string]int, len(nodeIDs))
	for _, id := range nodeIDs {
		inDegree[id] = 0
	}
	for _, edge := range edges {
		inDegree[edge.ToNodeID]++
	}

	ready := make([]string, 0, len(nodeIDs))
	for _, id := range nodeIDs {
		if inDegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	return &BatchIterator{
		adjacency: adjacency,
		inDegree:  inDegree,
		ready:     ready,
	}
}

// Next returns the next batch of node ids eligible to run in parallel.
//
// Outputs:
//
//	[]string - The batch. Membership is exact; order within it carries
//	no meaning.
//	bool - False when the sequence is exhausted.
func (it *BatchIterator) Next() ([]string, bool) {
	if len(it.ready) == 0 {
		return nil, false
	}

	batch := it.ready
	next := make([]string, 0)

	for _, id := range batch {
		for _, neighbor := range it.adjacency[id] {
			it.inDegree[neighbor]--
			if it.inDegree[neighbor] == 0 {
				next = append(next, neighbor)
			}
		}
	}

	it.ready = next
	return batch, true
}

// buildAdjacency converts an edge list into a successor map.
func buildAdjacency(edges []model.Edge) map[string][]string {
	adjacency := make(map[string][]string)
	for _, edge := range edges {
		adjacency[edge.FromNodeID] = append(adjacency[edge.FromNodeID], edge.ToNodeID)
	}
	return adjacency
}
