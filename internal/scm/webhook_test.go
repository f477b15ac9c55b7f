package scm

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"action":"completed"}`)

	tests := []struct {
		name    string
		secret  string
		header  string
		wantErr bool
	}{
		{name: "valid", secret: "s3cret", header: Sign("s3cret", body)},
		{name: "no secret configured", secret: "", header: ""},
		{name: "wrong secret", secret: "s3cret", header: Sign("other", body), wantErr: true},
		{name: "missing prefix", secret: "s3cret", header: "deadbeef", wantErr: true},
		{name: "not hex", secret: "s3cret", header: "sha256=zz", wantErr: true},
		{name: "missing header", secret: "s3cret", header: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifySignature(tt.secret, body, tt.header)
			if tt.wantErr != (err != nil) {
				t.Fatalf("VerifySignature() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrBadSignature) {
				t.Errorf("error = %v, want ErrBadSignature", err)
			}
		})
	}
}

func TestWorkflowRunEvent_IsFailure(t *testing.T) {
	payload := `{
		"action": "completed",
		"workflow_run": {"id": 99, "name": "CI", "conclusion": "failure"},
		"repository": {"name": "web", "owner": {"login": "acme"}}
	}`

	var ev WorkflowRunEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		t.Fatal(err)
	}
	if !ev.IsFailure() {
		t.Error("expected failure event")
	}
	if ev.Repository.Owner.Login != "acme" || ev.WorkflowRun.ID != 99 {
		t.Errorf("unexpected decode %+v", ev)
	}

	ev.WorkflowRun.Conclusion = "success"
	if ev.IsFailure() {
		t.Error("successful run is not a failure")
	}
}
