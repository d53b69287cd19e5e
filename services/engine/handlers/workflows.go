// Copyright (C) 2025 Loomworks (engineering@loomworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the REST endpoints of the engine API.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/loomworks/loom/services/engine/datatypes"
	"github.com/loomworks/loom/services/engine/model"
	"github.com/loomworks/loom/services/engine/store"
)

// CreateWorkflow registers a new empty workflow.
func CreateWorkflow(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.CreateWorkflowRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: name is required"})
			return
		}

		now := time.Now().UTC()
		wf := model.Workflow{
			ID:        uuid.NewString(),
			Name:      req.Name,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := st.CreateWorkflow(wf); err != nil {
			slog.Error("create workflow", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create workflow"})
			return
		}
		c.JSON(http.StatusCreated, wf)
	}
}

// ListWorkflows returns every workflow.
func ListWorkflows(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		workflows, err := st.ListWorkflows()
		if err != nil {
			slog.Error("list workflows", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list workflows"})
			return
		}
		c.JSON(http.StatusOK, workflows)
	}
}

// GetWorkflow returns one workflow with its nodes and edges.
func GetWorkflow(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		workflowID := c.Param("workflowId")

		wf, err := st.GetWorkflow(workflowID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Workflow not found"})
				return
			}
			slog.Error("get workflow", "workflow_id", workflowID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load workflow"})
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

		c.JSON(http.StatusOK, datatypes.WorkflowDetail{Workflow: wf, Nodes: nodes, Edges: edges})
	}
}
