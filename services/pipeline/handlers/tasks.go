// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jinterlante1206/AleutianPipeline/services/pipeline/coordinator"
	"github.com/jinterlante1206/AleutianPipeline/services/pipeline/datatypes"
	"github.com/jinterlante1206/AleutianPipeline/services/pipeline/task"
	"github.com/jinterlante1206/AleutianPipeline/services/pipeline/testrun"
)

func SubmitTask(coord *coordinator.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.SubmitRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
				Kind: task.KindInvalidPrompt, Error: err.Error()})
			return
		}

		t, err := coord.Submit(c.Request.Context(), req.Prompt, req.IdempotencyKey)
		if err != nil {
			var collab *task.CollaboratorError
			if errors.As(err, &collab) && t != nil {
				// The task exists but staging failed; return both so the
				// client can retry the staging step.
				c.JSON(http.StatusBadGateway, gin.H{
					"task":  t,
					"kind":  task.Kind(err),
					"error": err.Error(),
				})
				return
			}
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, t)
	}
}

func ListTasks(coord *coordinator.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		tasks, err := coord.List(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"tasks": tasks})
	}
}

func GetTask(coord *coordinator.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		t, err := coord.Get(c.Request.Context(), c.Param("taskId"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, t)
	}
}

func StageTask(coord *coordinator.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.StageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
				Kind: task.KindPreconditionFailed, Error: err.Error()})
			return
		}
		files := make([]task.StagedFile, 0, len(req.Files))
		for _, f := range req.Files {
			files = append(files, task.StagedFile{Path: f.Path, Content: f.Content})
		}

		t, err := coord.Stage(c.Request.Context(), c.Param("taskId"), files)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, t)
	}
}

func RunTest(coord *coordinator.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		// The body is optional; an absent mode defaults to auto.
		var req datatypes.TestRequest
		_ = c.ShouldBindJSON(&req)
		mode := testrun.Mode(req.Mode)
		if req.Mode == "" {
			mode = testrun.ModeAuto
		}
		if !mode.Valid() {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
				Kind: task.KindPreconditionFailed, Error: "mode must be auto or manual"})
			return
		}

		t, err := coord.RunTest(c.Request.Context(), c.Param("taskId"), mode)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, t)
	}
}

func DeleteTask(coord *coordinator.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		taskID := c.Param("taskId")
		if err := coord.Delete(c.Request.Context(), taskID); err != nil {
			respondError(c, err)
			return
		}
		slog.Info("task deleted via API", "task_id", taskID)
		c.JSON(http.StatusOK, gin.H{"status": "deleted", "task_id": taskID})
	}
}

func ClearTasks(coord *coordinator.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := coord.ClearAll(c.Request.Context()); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "cleared"})
	}
}
