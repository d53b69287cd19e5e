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

	"github.com/gin-gonic/gin"

	"github.com/loomworks/loom/services/engine/datatypes"
	"github.com/loomworks/loom/services/engine/job"
	"github.com/loomworks/loom/services/engine/store"
)

// CreateJob submits a workflow for asynchronous execution. A full queue
// answers 429 and leaves no job record behind.
func CreateJob(orch *job.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		workflowID := c.Param("workflowId")

		jb, err := orch.Submit(workflowID)
		if err != nil {
			switch {
			case errors.Is(err, job.ErrWorkflowNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "Workflow not found"})
			case errors.Is(err, job.ErrQueueFull):
				c.JSON(http.StatusTooManyRequests, gin.H{"error": "Job queue is full, try again later"})
			default:
				slog.Error("submit job", "workflow_id", workflowID, "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create job"})
			}
			return
		}
		c.JSON(http.StatusAccepted, jb)
	}
}

// GetJob returns a job with its ordered step history.
func GetJob(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := c.Param("jobId")

		jb, err := st.GetJob(jobID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load job"})
			return
		}

		steps, err := st.ListJobSteps(jobID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load job steps"})
			return
		}
		c.JSON(http.StatusOK, datatypes.JobDetail{Job: jb, Steps: steps})
	}
}

// ListJobs returns a workflow's jobs, newest first.
func ListJobs(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobs, err := st.ListJobsByWorkflow(c.Param("workflowId"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list jobs"})
			return
		}
		c.JSON(http.StatusOK, jobs)
	}
}

// QueueStatus reports the orchestrator's admission state.
func QueueStatus(orch *job.Orchestrator, maxQueueSize int) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, datatypes.QueueStatus{
			PendingDepth: orch.Queue().Depth(),
			MaxQueueSize: maxQueueSize,
		})
	}
}
