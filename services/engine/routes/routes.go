// Copyright (C) 2025 Loomworks (engineering@loomworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/loomworks/loom/services/engine/extract"
	"github.com/loomworks/loom/services/engine/handlers"
	"github.com/loomworks/loom/services/engine/job"
	"github.com/loomworks/loom/services/engine/store"
)

// SetupRoutes mounts the engine API on the router.
func SetupRoutes(router *gin.Engine, st *store.Store, orch *job.Orchestrator,
	files *extract.FileStore, maxQueueSize int) {

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/workflows", handlers.CreateWorkflow(st))
		v1.GET("/workflows", handlers.ListWorkflows(st))
		v1.GET("/workflows/:workflowId", handlers.GetWorkflow(st))

		workflows := v1.Group("/workflows/:workflowId")
		{
			workflows.POST("/nodes", handlers.CreateNode(st))
			workflows.GET("/nodes", handlers.ListNodes(st))
			workflows.DELETE("/nodes/:nodeId", handlers.DeleteNode(st))

			workflows.POST("/edges", handlers.CreateEdge(st))
			workflows.GET("/edges", handlers.ListEdges(st))

			workflows.POST("/jobs", handlers.CreateJob(orch))
			workflows.GET("/jobs", handlers.ListJobs(st))
		}

		v1.GET("/jobs/:jobId", handlers.GetJob(st))
		v1.GET("/queue", handlers.QueueStatus(orch, maxQueueSize))

		v1.POST("/files", handlers.UploadFile(st, files))
		v1.GET("/files/:fileId", handlers.GetFile(st))
	}
}
