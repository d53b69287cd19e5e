// Copyright (C) 2025 Loomworks (engineering@loomworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package model defines the domain types shared across the engine service.
//
// The records here mirror what the store persists: a Workflow owns Nodes
// and Edges, and each asynchronous execution of a workflow is a Job with
// an ordered history of JobSteps.
package model

import "time"

// Status represents the lifecycle state of a Job or JobStep.
type Status string

const (
	// StatusPending indicates the record was created but hasn't started.
	StatusPending Status = "Pending"

	// StatusRunning indicates execution is in progress.
	StatusRunning Status = "Running"

	// StatusSucceeded indicates successful completion.
	StatusSucceeded Status = "Succeeded"

	// StatusFailed indicates execution failed.
	StatusFailed Status = "Failed"
)

// Terminal returns true if the status is a final state.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// NodeType identifies the processing behavior of a workflow node.
//
// The set is closed: the node executor dispatches on NodeType with an
// exhaustive switch, and an unknown value is an execution error rather
// than a silent pass-through.
type NodeType string

const (
	// NodeTypeExtractText extracts text from an uploaded file, or marks
	// pass-through input in fallback mode.
	NodeTypeExtractText NodeType = "extract_text"

	// NodeTypeGenerativeAI calls the configured generative model with the
	// input substituted into the prompt template.
	NodeTypeGenerativeAI NodeType = "generative_ai"

	// NodeTypeFormatter applies an ordered list of text-formatting rules.
	NodeTypeFormatter NodeType = "formatter"

	// NodeTypeAgent runs the bounded agent loop.
	NodeTypeAgent NodeType = "agent"
)

// Valid returns true if t is one of the supported node types.
func (t NodeType) Valid() bool {
	switch t {
	case NodeTypeExtractText, NodeTypeGenerativeAI, NodeTypeFormatter, NodeTypeAgent:
		return true
	}
	return false
}

// Workflow is a named, user-defined processing pipeline.
type Workflow struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Node is a single typed step within a workflow.
//
// Config is an opaque map whose semantics depend on Type; it is
// admission-validated at creation time by the node package. OrderIndex
// preserves insertion order and drives linear execution when the
// workflow has no edges.
type Node struct {
	ID         string         `json:"id"`
	WorkflowID string         `json:"workflow_id"`
	Type       NodeType       `json:"node_type"`
	Config     map[string]any `json:"config"`
	OrderIndex int            `json:"order_index"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Edge is a directed dependency between two nodes of the same workflow.
//
// Condition is reserved metadata: stored and returned verbatim, never
// evaluated by the engine.
type Edge struct {
	ID         string    `json:"id"`
	WorkflowID string    `json:"workflow_id"`
	FromNodeID string    `json:"from_node_id"`
	FromPort   string    `json:"from_port"`
	ToNodeID   string    `json:"to_node_id"`
	ToPort     string    `json:"to_port"`
	Condition  string    `json:"condition,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// DefaultFromPort and DefaultToPort are applied when an edge is created
// without explicit ports.
const (
	DefaultFromPort = "output"
	DefaultToPort   = "input"
)

// Job is one asynchronous execution instance of a workflow.
type Job struct {
	ID           string     `json:"id"`
	WorkflowID   string     `json:"workflow_id"`
	Status       Status     `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	FinalOutput  string     `json:"final_output,omitempty"`
}

// JobStep records the execution of one node instance within a job.
//
// NodeID is nullable: deleting a node nulls the reference on historical
// steps, while the denormalized NodeType keeps the history readable.
// ConfigSnapshot is the node configuration at execution time and is
// immutable once written. Seq is assigned by the store on first save and
// fixes the step's position in the job's execution history.
type JobStep struct {
	ID             string         `json:"id"`
	JobID          string         `json:"job_id"`
	Seq            uint64         `json:"seq"`
	NodeID         *string        `json:"node_id"`
	NodeType       NodeType       `json:"node_type"`
	Status         Status         `json:"status"`
	StartedAt      time.Time      `json:"started_at"`
	FinishedAt     *time.Time     `json:"finished_at,omitempty"`
	InputText      string         `json:"input_text,omitempty"`
	OutputText     string         `json:"output_text,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	ConfigSnapshot map[string]any `json:"config_snapshot,omitempty"`
}

// UploadedFile is the metadata record for a stored upload.
type UploadedFile struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	MimeType  string    `json:"mime_type"`
	SizeBytes int64     `json:"size_bytes"`
	FilePath  string    `json:"file_path"`
	CreatedAt time.Time `json:"created_at"`
}
