// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jinterlante1206/AleutianPipeline/services/pipeline/coordinator"
	"github.com/jinterlante1206/AleutianPipeline/services/pipeline/events"
	"github.com/jinterlante1206/AleutianPipeline/services/pipeline/gate"
	"github.com/jinterlante1206/AleutianPipeline/services/pipeline/handlers"
	"github.com/jinterlante1206/AleutianPipeline/services/pipeline/store"
)

func SetupRoutes(router *gin.Engine, coord *coordinator.Coordinator, g *gate.Gate,
	st store.Store, hub *events.Hub) {

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		tasks := v1.Group("/tasks")
		{
			tasks.POST("", handlers.SubmitTask(coord))
			tasks.GET("", handlers.ListTasks(coord))
			tasks.DELETE("", handlers.ClearTasks(coord))
			tasks.GET("/:taskId", handlers.GetTask(coord))
			tasks.DELETE("/:taskId", handlers.DeleteTask(coord))
			tasks.POST("/:taskId/stage", handlers.StageTask(coord))
			tasks.POST("/:taskId/test", handlers.RunTest(coord))
			tasks.GET("/:taskId/proposals", handlers.ListProposals(st))
		}
		proposals := v1.Group("/proposals")
		{
			proposals.POST("/:proposalId/approve", handlers.ApproveProposal(g))
			proposals.POST("/:proposalId/deny", handlers.DenyProposal(g))
			proposals.POST("/bulk-approve", handlers.BulkApprove(g))
			proposals.POST("/bulk-deny", handlers.BulkDeny(g))
		}
		v1.GET("/events/ws", handlers.HandleEventsWebSocket(hub))
	}
}
