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
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jinterlante1206/AleutianPipeline/services/pipeline/datatypes"
	"github.com/jinterlante1206/AleutianPipeline/services/pipeline/task"
)

// statusFor maps the pipeline error taxonomy to HTTP status codes.
func statusFor(kind string) int {
	switch kind {
	case task.KindInvalidPrompt:
		return http.StatusBadRequest
	case task.KindDuplicate:
		return http.StatusConflict
	case task.KindInvalidTransition:
		return http.StatusConflict
	case task.KindPreconditionFailed:
		return http.StatusConflict
	case task.KindNoStagedFiles:
		return http.StatusUnprocessableEntity
	case task.KindConcurrentManualRun:
		return http.StatusConflict
	case task.KindNotFound:
		return http.StatusNotFound
	case task.KindExternalCollaboratorFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the uniform error body for err.
func respondError(c *gin.Context, err error) {
	kind := task.Kind(err)
	c.JSON(statusFor(kind), datatypes.ErrorResponse{
		Kind:  kind,
		Error: err.Error(),
	})
}
