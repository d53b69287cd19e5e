// Copyright (C) 2025 Loomworks (engineering@loomworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graph

import (
	"errors"
	"fmt"
)

// Sentinel errors for the graph package.
var (
	// ErrCycleDetected is returned when the edge relation is not acyclic.
	ErrCycleDetected = errors.New("cycle detected in workflow graph")

	// ErrInvalidNodeReference is returned when an edge references a node
	// that is not part of the workflow.
	ErrInvalidNodeReference = errors.New("edge references unknown node")
)

// CycleError reports a cycle, naming one node on it.
type CycleError struct {
	NodeID string
}

// Error returns the cycle description, prefixed with the sentinel text.
func (e *CycleError) Error() string {
	return fmt.Sprintf("%s: involves node %s", ErrCycleDetected, e.NodeID)
}

// Unwrap returns ErrCycleDetected so callers can match with errors.Is.
func (e *CycleError) Unwrap() error {
	return ErrCycleDetected
}

// ReferenceError reports an edge endpoint that is absent from the
// workflow's node set.
type ReferenceError struct {
	NodeID string
}

// Error returns the violation description, prefixed with the sentinel text.
func (e *ReferenceError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidNodeReference, e.NodeID)
}

// Unwrap returns ErrInvalidNodeReference so callers can match with errors.Is.
func (e *ReferenceError) Unwrap() error {
	return ErrInvalidNodeReference
}
