package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cicd-fixer/internal/domain"
	"github.com/cicd-fixer/internal/scm"
	"go.uber.org/zap"
)

const backgroundAnalysisTimeout = 5 * time.Minute

// WebhookResult says what happened to a delivery.
type WebhookResult struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// HandleWebhook verifies a GitHub delivery and, for failed workflow runs,
// starts a background analysis. It returns scm.ErrBadSignature for
// deliveries that fail verification.
func (p *Pipeline) HandleWebhook(event, signature string, body []byte) (*WebhookResult, error) {
	if err := scm.VerifySignature(p.secret, body, signature); err != nil {
		return nil, err
	}
	if event != "workflow_run" {
		return &WebhookResult{Reason: "ignored event " + event}, nil
	}

	var ev scm.WorkflowRunEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, domain.NewValidationError("webhook", errors.New("malformed workflow_run payload"))
	}
	if !ev.IsFailure() {
		return &WebhookResult{Reason: "run did not fail"}, nil
	}

	req := AnalyzeRequest{
		Owner:        ev.Repository.Owner.Login,
		Repo:         ev.Repository.Name,
		RunID:        ev.WorkflowRun.ID,
		WorkflowName: ev.WorkflowRun.Name,
	}

	p.background.Add(1)
	go func() {
		defer p.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), backgroundAnalysisTimeout)
		defer cancel()

		if _, err := p.Analyze(ctx, req); err != nil {
			p.logger.Warn("background analysis failed",
				zap.String("repo", req.Owner+"/"+req.Repo),
				zap.Int64("run_id", req.RunID),
				zap.Error(err),
			)
		}
	}()

	return &WebhookResult{Accepted: true}, nil
}
