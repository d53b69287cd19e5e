// Copyright (C) 2025 Loomworks (engineering@loomworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes holds the request and response shapes of the REST API.
package datatypes

import "github.com/loomworks/loom/services/engine/model"

// CreateWorkflowRequest creates a named workflow.
type CreateWorkflowRequest struct {
	Name string `json:"name" binding:"required"`
}

// CreateNodeRequest adds a typed node to a workflow. OrderIndex is
// optional; omitted, the node is appended after existing nodes.
type CreateNodeRequest struct {
	NodeType   string         `json:"node_type" binding:"required"`
	Config     map[string]any `json:"config"`
	OrderIndex *int           `json:"order_index" binding:"omitempty,gte=0"`
}

// CreateEdgeRequest adds a directed dependency between two nodes.
type CreateEdgeRequest struct {
	FromNodeID string `json:"from_node_id" binding:"required"`
	ToNodeID   string `json:"to_node_id" binding:"required"`
	FromPort   string `json:"from_port"`
	ToPort     string `json:"to_port"`
	Condition  string `json:"condition"`
}

// WorkflowDetail is a workflow with its full graph.
type WorkflowDetail struct {
	model.Workflow
	Nodes []model.Node `json:"nodes"`
	Edges []model.Edge `json:"edges"`
}

// JobDetail is a job with its ordered step history.
type JobDetail struct {
	model.Job
	Steps []model.JobStep `json:"steps"`
}

// UploadResponse describes a stored file.
type UploadResponse struct {
	FileID    string `json:"file_id"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
}

// QueueStatus reports the orchestrator's admission state.
type QueueStatus struct {
	PendingDepth int `json:"pending_depth"`
	MaxQueueSize int `json:"max_queue_size"`
}
