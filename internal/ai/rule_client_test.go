package ai

import (
	"context"
	"testing"

	"github.com/cicd-fixer/internal/domain"
	"github.com/cicd-fixer/internal/rules"
	"go.uber.org/zap"
)

func newRuleClient() *RuleClient {
	engine := rules.NewEngine(rules.DefaultRules(), 0.6, zap.NewNop())
	return NewRuleClient(engine, zap.NewNop())
}

func TestRuleClient_Analyze(t *testing.T) {
	client := newRuleClient()
	log := "npm ERR! enoent ENOENT: no such file or directory, open 'package.json'"

	tests := []struct {
		name     string
		approach string
		wantType string
		wantConf float64
	}{
		{
			name:     "best match capped",
			wantType: "npm_missing_manifest",
			wantConf: 0.6,
		},
		{
			name:     "alternative uses next match",
			approach: ApproachAlternative,
			wantType: "npm_install_failure",
			wantConf: 0.6,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := client.Analyze(context.Background(), log, domain.RepoContext{Approach: tt.approach})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.ErrorAnalysis.ErrorType != tt.wantType {
				t.Errorf("error_type = %s, want %s", got.ErrorAnalysis.ErrorType, tt.wantType)
			}
			if got.FixSuggestion.Confidence != tt.wantConf {
				t.Errorf("confidence = %v, want %v", got.FixSuggestion.Confidence, tt.wantConf)
			}
			if err := NewDefaultValidator().Validate(got); err != nil {
				t.Errorf("rule answer should validate: %v", err)
			}
		})
	}
}

func TestRuleClient_NoMatch(t *testing.T) {
	client := newRuleClient()

	for _, approach := range []string{"", ApproachAlternative} {
		got, err := client.Analyze(context.Background(), "exit code 1", domain.RepoContext{Approach: approach})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.FixSuggestion.Description != "Manual investigation required" {
			t.Errorf("description = %q", got.FixSuggestion.Description)
		}
		if got.FixSuggestion.Confidence != 0.3 {
			t.Errorf("confidence = %v, want 0.3", got.FixSuggestion.Confidence)
		}
	}
}

func TestRuleClient_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := newRuleClient().Analyze(ctx, "npm ERR!", domain.RepoContext{}); err == nil {
		t.Error("expected error for cancelled context")
	}
}
