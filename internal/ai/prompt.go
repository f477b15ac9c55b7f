package ai

import (
	"bytes"
	"text/template"

	"github.com/cicd-fixer/internal/domain"
)

// DefaultPromptBuilder implements PromptBuilder with templated prompts.
type DefaultPromptBuilder struct {
	systemPrompt string
	userTemplate *template.Template
}

// systemPromptText defines the backend's role and behavior.
const systemPromptText = `You are a senior DevOps engineer fixing failed CI/CD pipeline runs.

Your responsibilities:
1. Identify what failed and why
2. Propose a concrete fix the developer can apply right away
3. List the exact steps and shell commands for the fix
4. Estimate how confident you are that the fix resolves the failure
5. Recommend prevention strategies for the future

Guidelines:
- Be specific to the repository's language, framework and build system
- Prefer the smallest change that makes the pipeline green
- Never suggest disabling tests or checks as a fix
- Confidence is a number between 0.0 and 1.0
- Severity levels: low, medium, high, critical

CRITICAL: You MUST respond with ONLY valid JSON matching the exact schema provided. No markdown, no explanations, just the JSON object.`

const userPromptTemplate = `Analyze the following CI/CD failure and return valid JSON exactly matching this schema:

{
  "error_analysis": {
    "error_type": "string - category of the failure (e.g. 'dependency_error', 'test_failure')",
    "error_severity": "low|medium|high|critical",
    "root_cause": "string - concise explanation of why the run failed",
    "affected_components": ["string array - files, packages or jobs involved"]
  },
  "fix_suggestion": {
    "description": "string - one sentence summary of the fix",
    "steps": ["string array - ordered steps to apply the fix"],
    "commands": ["string array - shell commands to run"],
    "confidence": 0.0,
    "estimated_time": "string - e.g. '10-15 minutes'"
  },
  "prevention": {
    "recommendations": ["string array"],
    "best_practices": ["string array"]
  }
}

Repository context:
- Language: {{or .Repo.Language "unknown"}}
- Framework: {{or .Repo.Framework "unknown"}}
- Build system: {{or .Repo.BuildSystem "unknown"}}
{{- if .Alternative}}

Propose a DIFFERENT approach from the most common fix for this failure.
{{- end}}

Failure log:
---
{{.Log}}
---

Respond with ONLY the JSON object, no additional text.`

// NewDefaultPromptBuilder creates a new prompt builder with default templates.
func NewDefaultPromptBuilder() (*DefaultPromptBuilder, error) {
	tmpl, err := template.New("user_prompt").Parse(userPromptTemplate)
	if err != nil {
		return nil, err
	}

	return &DefaultPromptBuilder{
		systemPrompt: systemPromptText,
		userTemplate: tmpl,
	}, nil
}

// BuildSystemPrompt returns the system prompt.
func (p *DefaultPromptBuilder) BuildSystemPrompt() string {
	return p.systemPrompt
}

// BuildUserPrompt constructs the user prompt with the log and repository context.
func (p *DefaultPromptBuilder) BuildUserPrompt(log string, repo domain.RepoContext) string {
	var buf bytes.Buffer
	data := struct {
		Log         string
		Repo        domain.RepoContext
		Alternative bool
	}{
		Log:         log,
		Repo:        repo,
		Alternative: repo.Approach == ApproachAlternative,
	}

	if err := p.userTemplate.Execute(&buf, data); err != nil {
		// Fallback to simple format if template fails
		return "Analyze this CI failure log and return JSON:\n\n" + log
	}

	return buf.String()
}
