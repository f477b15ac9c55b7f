// Package scm integrates with GitHub: it fetches workflow run logs and
// turns approved fixes into pull requests.
package scm

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/cicd-fixer/internal/config"
	"github.com/cicd-fixer/internal/domain"
	"go.uber.org/zap"
)

const maxArchiveBytes = 64 << 20

// WorkflowRun is the subset of a GitHub Actions run the pipeline uses.
type WorkflowRun struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	HeadBranch string `json:"head_branch"`
	HeadSHA    string `json:"head_sha"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion"`
	HTMLURL    string `json:"html_url"`
}

// PullRequest identifies an opened pull request.
type PullRequest struct {
	Number  int    `json:"number"`
	HTMLURL string `json:"html_url"`
	Branch  string `json:"branch"`
}

// Client talks to the GitHub REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a GitHub client.
func NewClient(cfg *config.GitHubConfig, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		token:   cfg.Token,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger.Named("github_client"),
	}
}

// Run fetches a workflow run.
func (c *Client) Run(ctx context.Context, owner, repo string, runID int64) (*WorkflowRun, error) {
	var run WorkflowRun
	path := fmt.Sprintf("/repos/%s/%s/actions/runs/%d", owner, repo, runID)
	if err := c.do(ctx, "get_run", http.MethodGet, path, nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// RunLogs downloads a run's log archive and returns the job logs
// concatenated in file name order.
func (c *Client) RunLogs(ctx context.Context, owner, repo string, runID int64) (string, error) {
	path := fmt.Sprintf("/repos/%s/%s/actions/runs/%d/logs", owner, repo, runID)
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return "", domain.WrapError("get_run_logs", err, false)
	}

	// The API redirects to a short-lived archive URL; the client follows it.
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", domain.WrapError("get_run_logs", err, true)
	}
	defer resp.Body.Close()

	if err := checkStatus("get_run_logs", resp); err != nil {
		return "", err
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxArchiveBytes))
	if err != nil {
		return "", domain.WrapError("get_run_logs", err, true)
	}

	logs, err := unzipLogs(data)
	if err != nil {
		return "", domain.WrapError("unzip_run_logs", err, false)
	}

	c.logger.Debug("run logs downloaded",
		zap.String("repo", owner+"/"+repo),
		zap.Int64("run_id", runID),
		zap.Int("bytes", len(logs)),
	)
	return logs, nil
}

func unzipLogs(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	files := make([]*zip.File, 0, len(zr.File))
	for _, f := range zr.File {
		if !f.FileInfo().IsDir() && strings.HasSuffix(f.Name, ".txt") {
			files = append(files, f)
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	var b strings.Builder
	for _, f := range files {
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("open %s: %w", f.Name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", fmt.Errorf("read %s: %w", f.Name, err)
		}
		fmt.Fprintf(&b, "=== %s ===\n", f.Name)
		b.Write(content)
		if len(content) > 0 && content[len(content)-1] != '\n' {
			b.WriteByte('\n')
		}
	}
	return b.String(), nil
}

// DefaultBranch returns the repository's default branch.
func (c *Client) DefaultBranch(ctx context.Context, owner, repo string) (string, error) {
	var out struct {
		DefaultBranch string `json:"default_branch"`
	}
	if err := c.do(ctx, "get_repository", http.MethodGet, fmt.Sprintf("/repos/%s/%s", owner, repo), nil, &out); err != nil {
		return "", err
	}
	return out.DefaultBranch, nil
}

// BranchSHA returns the commit at the tip of branch.
func (c *Client) BranchSHA(ctx context.Context, owner, repo, branch string) (string, error) {
	var out struct {
		Object struct {
			SHA string `json:"sha"`
		} `json:"object"`
	}
	path := fmt.Sprintf("/repos/%s/%s/git/ref/heads/%s", owner, repo, branch)
	if err := c.do(ctx, "get_ref", http.MethodGet, path, nil, &out); err != nil {
		return "", err
	}
	return out.Object.SHA, nil
}

// CreateBranch creates branch at sha.
func (c *Client) CreateBranch(ctx context.Context, owner, repo, branch, sha string) error {
	body := map[string]string{
		"ref": "refs/heads/" + branch,
		"sha": sha,
	}
	return c.do(ctx, "create_ref", http.MethodPost, fmt.Sprintf("/repos/%s/%s/git/refs", owner, repo), body, nil)
}

// PutFile creates or updates a file on branch.
func (c *Client) PutFile(ctx context.Context, owner, repo, branch, path, content, message string) error {
	body := map[string]string{
		"message": message,
		"content": base64.StdEncoding.EncodeToString([]byte(content)),
		"branch":  branch,
	}
	return c.do(ctx, "put_contents", http.MethodPut, fmt.Sprintf("/repos/%s/%s/contents/%s", owner, repo, path), body, nil)
}

// OpenPullRequest opens a pull request from head into base.
func (c *Client) OpenPullRequest(ctx context.Context, owner, repo, title, head, base, body string) (*PullRequest, error) {
	req := map[string]string{
		"title": title,
		"head":  head,
		"base":  base,
		"body":  body,
	}
	var pr PullRequest
	if err := c.do(ctx, "create_pull", http.MethodPost, fmt.Sprintf("/repos/%s/%s/pulls", owner, repo), req, &pr); err != nil {
		return nil, err
	}
	pr.Branch = head
	return &pr, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	start := time.Now()
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return domain.WrapError(op, err, false)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.WrapError(op, err, true)
	}
	defer resp.Body.Close()

	c.logger.Debug("github request",
		zap.String("op", op),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if err := checkStatus(op, resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.WrapError(op, fmt.Errorf("decode response: %w", err), false)
	}
	return nil
}

func checkStatus(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.WrapError(op, domain.ErrNotFound, false)
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return domain.WrapError(op, fmt.Errorf("github returned status %d", resp.StatusCode), true)
	default:
		return domain.WrapError(op,
			fmt.Errorf("github returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), false)
	}
}
