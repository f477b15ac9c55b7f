package handler

import (
	"io"
	"net/http"

	"github.com/cicd-fixer/internal/scm"
	"github.com/gin-gonic/gin"
)

const maxWebhookBody = 5 << 20

// Webhook handles POST /webhook/github.
func (h *Handlers) Webhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		h.badRequest(c, err)
		return
	}

	result, err := h.pipeline.HandleWebhook(c.GetHeader("X-GitHub-Event"), c.GetHeader(scm.SignatureHeader), body)
	if err != nil {
		h.fail(c, err)
		return
	}

	status := http.StatusOK
	if result.Accepted {
		status = http.StatusAccepted
	}
	ok(c, status, result)
}
