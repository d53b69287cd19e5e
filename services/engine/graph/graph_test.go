// Copyright (C) 2025 Loomworks (engineering@loomworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graph

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/services/engine/model"
)

func edge(from, to string) model.Edge {
	return model.Edge{FromNodeID: from, ToNodeID: to}
}

func collectBatches(t *testing.T, it *BatchIterator) [][]string {
	t.Helper()
	var batches [][]string
	for {
		batch, ok := it.Next()
		if !ok {
			return batches
		}
		batches = append(batches, batch)
	}
}

// --- ValidateEdges ---

func TestValidateEdges_EmptyGraph(t *testing.T) {
	require.NoError(t, ValidateEdges(nil, nil))
	require.NoError(t, ValidateEdges([]string{"A", "B"}, nil))
}

func TestValidateEdges_LinearChain(t *testing.T) {
	edges := []model.Edge{edge("A", "B"), edge("B", "C")}
	require.NoError(t, ValidateEdges([]string{"A", "B", "C"}, edges))
}

func TestValidateEdges_DisconnectedComponents(t *testing.T) {
	edges := []model.Edge{edge("A", "B"), edge("C", "D")}
	require.NoError(t, ValidateEdges([]string{"A", "B", "C", "D", "E"}, edges))
}

func TestValidateEdges_SelfLoop(t *testing.T) {
	err := ValidateEdges([]string{"A"}, []model.Edge{edge("A", "A")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCycleDetected))

	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Equal(t, "A", cycleErr.NodeID)
	assert.Contains(t, err.Error(), "cycle detected in workflow graph")
}

func TestValidateEdges_TwoNodeCycle(t *testing.T) {
	edges := []model.Edge{edge("A", "B"), edge("B", "A")}
	err := ValidateEdges([]string{"A", "B"}, edges)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCycleDetected))
}

func TestValidateEdges_LongCycle(t *testing.T) {
	edges := []model.Edge{edge("A", "B"), edge("B", "C"), edge("C", "D"), edge("D", "B")}
	err := ValidateEdges([]string{"A", "B", "C", "D"}, edges)
	require.Error(t, err)

	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Contains(t, []string{"B", "C", "D"}, cycleErr.NodeID,
		"reported node must lie on the cycle")
}

func TestValidateEdges_InvalidFromReference(t *testing.T) {
	err := ValidateEdges([]string{"A"}, []model.Edge{edge("ghost", "A")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidNodeReference))

	var refErr *ReferenceError
	require.ErrorAs(t, err, &refErr)
	assert.Equal(t, "ghost", refErr.NodeID)
	assert.Contains(t, err.Error(), "edge references unknown node",
		"sentinel text is part of the message, not only the Unwrap chain")
}

func TestValidateEdges_InvalidToReference(t *testing.T) {
	err := ValidateEdges([]string{"A"}, []model.Edge{edge("A", "ghost")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidNodeReference))
}

func TestValidateEdges_ReferenceReportedBeforeCycle(t *testing.T) {
	// The edge set has both a bad reference and a cycle; the reference
	// violation must win.
	edges := []model.Edge{edge("A", "B"), edge("B", "A"), edge("B", "ghost")}
	err := ValidateEdges([]string{"A", "B"}, edges)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidNodeReference))
}

// --- Schedule ---

func TestSchedule_Diamond(t *testing.T) {
	// A -> B, A -> C, B -> D, C -> D
	edges := []model.Edge{edge("A", "B"), edge("A", "C"), edge("B", "D"), edge("C", "D")}
	batches := collectBatches(t, Schedule([]string{"A", "B", "C", "D"}, edges))

	require.Len(t, batches, 3)
	assert.Equal(t, []string{"A"}, batches[0])
	assert.ElementsMatch(t, []string{"B", "C"}, batches[1])
	assert.Equal(t, []string{"D"}, batches[2])
}

func TestSchedule_LinearChain(t *testing.T) {
	ids := []string{"n1", "n2", "n3", "n4", "n5"}
	edges := []model.Edge{edge("n1", "n2"), edge("n2", "n3"), edge("n3", "n4"), edge("n4", "n5")}

	batches := collectBatches(t, Schedule(ids, edges))
	require.Len(t, batches, len(ids))
	for i, batch := range batches {
		assert.Equal(t, []string{ids[i]}, batch)
	}
}

func TestSchedule_NoEdges_SingleBatch(t *testing.T) {
	ids := []string{"A", "B", "C", "D"}
	batches := collectBatches(t, Schedule(ids, nil))

	require.Len(t, batches, 1)
	assert.ElementsMatch(t, ids, batches[0])
}

func TestSchedule_EmptyNodeSet(t *testing.T) {
	it := Schedule(nil, nil)
	_, ok := it.Next()
	assert.False(t, ok, "empty node set yields zero batches")
}

func TestSchedule_FanOutFanIn(t *testing.T) {
	// root fans out to 4 workers which fan in to sink.
	ids := []string{"root", "w1", "w2", "w3", "w4", "sink"}
	edges := []model.Edge{
		edge("root", "w1"), edge("root", "w2"), edge("root", "w3"), edge("root", "w4"),
		edge("w1", "sink"), edge("w2", "sink"), edge("w3", "sink"), edge("w4", "sink"),
	}

	batches := collectBatches(t, Schedule(ids, edges))
	require.Len(t, batches, 3)
	assert.Equal(t, []string{"root"}, batches[0])
	assert.ElementsMatch(t, []string{"w1", "w2", "w3", "w4"}, batches[1])
	assert.Equal(t, []string{"sink"}, batches[2])
}

func TestSchedule_NonRestartable(t *testing.T) {
	it := Schedule([]string{"A"}, nil)

	_, ok := it.Next()
	require.True(t, ok)

	_, ok = it.Next()
	assert.False(t, ok)
	_, ok = it.Next()
	assert.False(t, ok, "exhausted iterator stays exhausted")
}

// --- Dependencies / AggregateInputs ---

func TestDependencies(t *testing.T) {
	edges := []model.Edge{
		edge("A", "D"), edge("B", "D"), edge("C", "D"),
		edge("A", "B"),
		edge("B", "D"), // duplicate edge must not duplicate the dependency
	}

	deps := Dependencies("D", edges)
	assert.ElementsMatch(t, []string{"A", "B", "C"}, deps)

	assert.Empty(t, Dependencies("A", edges))
}

func TestAggregateInputs_Deterministic(t *testing.T) {
	outputs := map[string]string{"A": "a", "B": "b", "C": "c"}

	// Same result regardless of the order dependencies are listed in.
	for i := 0; i < 10; i++ {
		got := AggregateInputs([]string{"B", "A", "C"}, outputs)
		assert.Equal(t, "a\n\nb\n\nc", got)
	}
	assert.Equal(t, "a\n\nb\n\nc", AggregateInputs([]string{"C", "B", "A"}, outputs))
}

func TestAggregateInputs_SkipsMissingAndEmpty(t *testing.T) {
	outputs := map[string]string{"A": "a", "B": "", "D": "d"}

	got := AggregateInputs([]string{"A", "B", "C", "D"}, outputs)
	assert.Equal(t, "a\n\nd", got)
}

func TestAggregateInputs_ZeroDependencies(t *testing.T) {
	outputs := map[string]string{"A": "a"}
	assert.Equal(t, "", AggregateInputs(nil, outputs))
	assert.Equal(t, "", AggregateInputs([]string{}, outputs))
}
