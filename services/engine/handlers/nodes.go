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
	"github.com/loomworks/loom/services/engine/model"
	"github.com/loomworks/loom/services/engine/node"
	"github.com/loomworks/loom/services/engine/store"
)

// CreateNode adds a node to a workflow. The configuration is
// admission-validated for the node type; rejections name the offending
// field so remediation is unambiguous.
func CreateNode(st *store.Store) gin.HandlerFunc {
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

		var req datatypes.CreateNodeRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: node_type is required"})
			return
		}

		nodeType := model.NodeType(req.NodeType)
		if !nodeType.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unsupported node_type: " + req.NodeType})
			return
		}

		cfg := req.Config
		if cfg == nil {
			cfg = map[string]any{}
		}
		if ok, reason := node.ValidateConfig(nodeType, cfg); !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": reason})
			return
		}

		orderIndex := 0
		if req.OrderIndex != nil {
			orderIndex = *req.OrderIndex
		} else {
			existing, err := st.ListNodes(workflowID)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load nodes"})
				return
			}
			orderIndex = len(existing)
		}

		n := model.Node{
			ID:         uuid.NewString(),
			WorkflowID: workflowID,
			Type:       nodeType,
			Config:     cfg,
			OrderIndex: orderIndex,
			CreatedAt:  time.Now().UTC(),
		}
		if err := st.CreateNode(n); err != nil {
			slog.Error("create node", "workflow_id", workflowID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create node"})
			return
		}
		c.JSON(http.StatusCreated, n)
	}
}

// ListNodes returns a workflow's nodes in declaration order.
func ListNodes(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		nodes, err := st.ListNodes(c.Param("workflowId"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list nodes"})
			return
		}
		c.JSON(http.StatusOK, nodes)
	}
}

// DeleteNode removes a node. Historical job steps keep their denormalized
// node type but lose the reference.
func DeleteNode(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		workflowID := c.Param("workflowId")
		nodeID := c.Param("nodeId")

		if err := st.DeleteNode(workflowID, nodeID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Node not found"})
				return
			}
			slog.Error("delete node", "node_id", nodeID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete node"})
			return
		}
		c.Status(http.StatusNoContent)
	}
}
