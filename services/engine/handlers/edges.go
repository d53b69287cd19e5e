// Copyright (C) 2025 Loomworks (engineering@loomworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/loomworks/loom/services/engine/datatypes"
	"github.com/loomworks/loom/services/engine/graph"
	"github.com/loomworks/loom/services/engine/model"
	"github.com/loomworks/loom/services/engine/store"
)

// CreateEdge adds a dependency edge. The whole graph including the
// candidate edge is validated synchronously: a cycle or a reference to
// an unknown node rejects the request and nothing is persisted.
func CreateEdge(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		workflowID := c.Param("workflowId")
		if _, err := st.GetWorkflow(workflowID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Workflow not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load workflow"})
			return
		}

		var req datatypes.CreateEdgeRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: from_node_id and to_node_id are required"})
			return
		}

		nodes, err := st.ListNodes(workflowID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load nodes"})
			return
		}
		edges, err := st.ListEdges(workflowID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load edges"})
			return
		}

		edge := model.Edge{
			ID:         uuid.NewString(),
			WorkflowID: workflowID,
			FromNodeID: req.FromNodeID,
			FromPort:   req.FromPort,
			ToNodeID:   req.ToNodeID,
			ToPort:     req.ToPort,
			Condition:  req.Condition,
			CreatedAt:  time.Now().UTC(),
		}
		if edge.FromPort == "" {
			edge.FromPort = model.DefaultFromPort
		}
		if edge.ToPort == "" {
			edge.ToPort = model.DefaultToPort
		}

		nodeIDs := make([]string, len(nodes))
		for i, n := range nodes {
			nodeIDs[i] = n.ID
		}
		if err := graph.ValidateEdges(nodeIDs, append(edges, edge)); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := st.CreateEdge(edge); err != nil {
			slog.Error("create edge", "workflow_id", workflowID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create edge"})
			return
		}
		c.JSON(http.StatusCreated, edge)
	}
}

// ListEdges returns a workflow's edges.
func ListEdges(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		edges, err := st.ListEdges(c.Param("workflowId"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list edges"})
			return
		}
		c.JSON(http.StatusOK, edges)
	}
}
