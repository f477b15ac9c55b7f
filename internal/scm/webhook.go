package scm

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// SignatureHeader carries the HMAC of a webhook delivery.
const SignatureHeader = "X-Hub-Signature-256"

// ErrBadSignature is returned when a delivery fails verification.
var ErrBadSignature = errors.New("invalid webhook signature")

// VerifySignature checks a "sha256=<hex>" header against body. An empty
// secret disables verification.
func VerifySignature(secret string, body []byte, header string) error {
	if secret == "" {
		return nil
	}
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return ErrBadSignature
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return ErrBadSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrBadSignature
	}
	return nil
}

// Sign returns the header value GitHub would send for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// WorkflowRunEvent is the workflow_run webhook payload.
type WorkflowRunEvent struct {
	Action      string      `json:"action"`
	WorkflowRun WorkflowRun `json:"workflow_run"`
	Repository  struct {
		Name  string `json:"name"`
		Owner struct {
			Login string `json:"login"`
		} `json:"owner"`
	} `json:"repository"`
}

// IsFailure reports whether the event is a completed, failed run.
func (e *WorkflowRunEvent) IsFailure() bool {
	return e.Action == "completed" && e.WorkflowRun.Conclusion == "failure"
}
