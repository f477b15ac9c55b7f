package scm

import (
	"context"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/cicd-fixer/internal/domain"
	"go.uber.org/zap"
)

const fixPlanDir = ".github/cicd-fixes"

// FixRequest carries an approved suggestion and the failure it fixes.
type FixRequest struct {
	Owner      string
	Repo       string
	Logs       string
	Context    domain.RepoContext
	Suggestion *domain.FixSuggestion
}

// File is one file written to the fix branch.
type File struct {
	Path    string
	Content string
}

var prBodyTmpl = template.Must(template.New("pr").Funcs(tmplFuncs).Parse(`## Automated CI/CD fix

**Error type:** {{.Suggestion.Category}}
**Severity:** {{.Suggestion.Severity}}
**Confidence:** {{printf "%.0f" (pct .Suggestion.Confidence)}}%
**Risk level:** {{.Suggestion.RiskLevel}}
**Estimated time:** {{.Suggestion.EstimatedTime}}

### Description
{{.Suggestion.Description}}

### Steps
{{range $i, $s := .Suggestion.Steps}}{{inc $i}}. {{$s}}
{{end}}{{if .Suggestion.Commands}}
### Commands
` + "```sh" + `
{{range .Suggestion.Commands}}{{.}}
{{end}}` + "```" + `
{{end}}{{if .Suggestion.Alternatives}}
### Alternatives
{{range .Suggestion.Alternatives}}- {{.}}
{{end}}{{end}}
### Files
{{range .Files}}- ` + "`{{.Path}}`" + `
{{end}}
Fix ID: ` + "`{{.Suggestion.ID}}`" + `. Review carefully before merging.
`))

var planTmpl = template.Must(template.New("plan").Parse(`# Fix plan {{.ID}}

{{.Description}}

## Reasoning
{{.Reasoning}}

## Steps
{{range .Steps}}- [ ] {{.}}
{{end}}{{if .Commands}}
## Commands
{{range .Commands}}    {{.}}
{{end}}{{end}}`))

var tmplFuncs = template.FuncMap{
	"pct": func(f float64) float64 { return f * 100 },
	"inc": func(i int) int { return i + 1 },
}

const packageJSONScaffold = `{
  "name": "%s",
  "version": "1.0.0",
  "private": true,
  "scripts": {
    "build": "echo \"no build configured\"",
    "test": "echo \"no tests configured\""
  },
  "dependencies": {},
  "devDependencies": {}
}
`

// BranchName returns the fix branch for a suggestion.
func BranchName(category domain.ErrorCategory, now time.Time) string {
	return fmt.Sprintf("cicd-fix-%s-%d", strings.ReplaceAll(string(category), "_", "-"), now.Unix())
}

// FixFiles returns the files committed for a fix.
func FixFiles(req FixRequest) ([]File, error) {
	var plan strings.Builder
	if err := planTmpl.Execute(&plan, req.Suggestion); err != nil {
		return nil, err
	}
	files := []File{{
		Path:    fmt.Sprintf("%s/%s.md", fixPlanDir, req.Suggestion.ID),
		Content: plan.String(),
	}}

	if missingManifest(req) {
		files = append(files, File{
			Path:    "package.json",
			Content: fmt.Sprintf(packageJSONScaffold, req.Repo),
		})
	}
	return files, nil
}

func missingManifest(req FixRequest) bool {
	if req.Suggestion.Category != domain.CategoryDependency {
		return false
	}
	lang := strings.ToLower(req.Context.Language)
	if lang != "javascript" && lang != "typescript" {
		return false
	}
	log := strings.ToLower(req.Logs)
	return strings.Contains(log, "package.json") &&
		(strings.Contains(log, "enoent") || strings.Contains(log, "could not read"))
}

// PRBody renders the pull request description.
func PRBody(req FixRequest, files []File) (string, error) {
	var b strings.Builder
	err := prBodyTmpl.Execute(&b, struct {
		Suggestion *domain.FixSuggestion
		Files      []File
	}{req.Suggestion, files})
	return b.String(), err
}

// CreateFixPR branches from the default branch tip, commits the fix files and
// opens a pull request.
func (c *Client) CreateFixPR(ctx context.Context, req FixRequest) (*PullRequest, error) {
	if req.Suggestion == nil {
		return nil, domain.NewValidationError("create_fix_pr", fmt.Errorf("suggestion is required"))
	}

	base, err := c.DefaultBranch(ctx, req.Owner, req.Repo)
	if err != nil {
		return nil, err
	}
	sha, err := c.BranchSHA(ctx, req.Owner, req.Repo, base)
	if err != nil {
		return nil, err
	}

	branch := BranchName(req.Suggestion.Category, time.Now())
	if err := c.CreateBranch(ctx, req.Owner, req.Repo, branch, sha); err != nil {
		return nil, err
	}

	files, err := FixFiles(req)
	if err != nil {
		return nil, domain.WrapError("render_fix_files", err, false)
	}
	for _, f := range files {
		msg := fmt.Sprintf("fix(ci): %s", f.Path)
		if err := c.PutFile(ctx, req.Owner, req.Repo, branch, f.Path, f.Content, msg); err != nil {
			return nil, err
		}
	}

	body, err := PRBody(req, files)
	if err != nil {
		return nil, domain.WrapError("render_pr_body", err, false)
	}
	title := fmt.Sprintf("Fix CI failure: %s", req.Suggestion.Category)
	pr, err := c.OpenPullRequest(ctx, req.Owner, req.Repo, title, branch, base, body)
	if err != nil {
		return nil, err
	}

	c.logger.Info("fix pull request opened",
		zap.String("repo", req.Owner+"/"+req.Repo),
		zap.String("fix_id", req.Suggestion.ID),
		zap.Int("number", pr.Number),
		zap.String("url", pr.HTMLURL),
	)
	return pr, nil
}
