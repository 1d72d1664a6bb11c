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
	"github.com/jinterlante1206/AleutianPipeline/services/pipeline/gate"
	"github.com/jinterlante1206/AleutianPipeline/services/pipeline/store"
	"github.com/jinterlante1206/AleutianPipeline/services/pipeline/task"
)

func ListProposals(st store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		props, err := st.ListProposalsByTask(c.Request.Context(), c.Param("taskId"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"proposals": props})
	}
}

func ApproveProposal(g *gate.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		dec, err := g.Approve(c.Request.Context(), c.Param("proposalId"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, dec)
	}
}

func DenyProposal(g *gate.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		dec, err := g.Deny(c.Request.Context(), c.Param("proposalId"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, dec)
	}
}

func BulkApprove(g *gate.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.BulkDecisionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
				Kind: task.KindPreconditionFailed, Error: err.Error()})
			return
		}
		decs, err := g.BulkApprove(c.Request.Context(), req.ProposalIDs)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"decisions": decs})
	}
}

func BulkDeny(g *gate.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.BulkDecisionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
				Kind: task.KindPreconditionFailed, Error: err.Error()})
			return
		}
		decs, err := g.BulkDeny(c.Request.Context(), req.ProposalIDs)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"decisions": decs})
	}
}
