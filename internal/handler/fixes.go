package handler

import (
	"net/http"
	"strconv"

	"github.com/cicd-fixer/internal/service"
	"github.com/gin-gonic/gin"
)

type decisionRequest struct {
	Comment  string `json:"comment"`
	CreatePR bool   `json:"create_pr"`
}

func queryInt(c *gin.Context, key string) int {
	n, _ := strconv.Atoi(c.Query(key))
	return n
}

// PendingFixes handles GET /api/v1/fixes.
func (h *Handlers) PendingFixes(c *gin.Context) {
	fixes, err := h.pipeline.PendingFixes(c.Request.Context(), queryInt(c, "limit"))
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"fixes": fixes, "count": len(fixes)})
}

// Fix handles GET /api/v1/fixes/:id.
func (h *Handlers) Fix(c *gin.Context) {
	detail, err := h.pipeline.Fix(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, detail)
}

// Approve handles POST /api/v1/fixes/:id/approve.
func (h *Handlers) Approve(c *gin.Context) {
	var req decisionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.badRequest(c, err)
			return
		}
	}

	result, err := h.pipeline.Approve(c.Request.Context(), c.Param("id"), req.Comment, req.CreatePR)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, result)
}

// Reject handles POST /api/v1/fixes/:id/reject.
func (h *Handlers) Reject(c *gin.Context) {
	var req decisionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.badRequest(c, err)
			return
		}
	}

	fb, err := h.pipeline.Reject(c.Request.Context(), c.Param("id"), req.Comment)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, fb)
}

// History handles GET /api/v1/fixes/history/:owner/:repo.
func (h *Handlers) History(c *gin.Context) {
	records, err := h.pipeline.History(c.Request.Context(), c.Param("owner"), c.Param("repo"), queryInt(c, "limit"))
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"history": records, "count": len(records)})
}

// SimilarFixes handles POST /api/v1/fixes/similar.
func (h *Handlers) SimilarFixes(c *gin.Context) {
	var req service.SimilarRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	matches, err := h.pipeline.SimilarFixes(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"similar_fixes": matches, "count": len(matches)})
}
