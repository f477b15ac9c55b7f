package scm

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cicd-fixer/internal/config"
	"github.com/cicd-fixer/internal/domain"
	"go.uber.org/zap"
)

func newTestClient(url string) *Client {
	return NewClient(&config.GitHubConfig{
		Token:   "ghp_test",
		BaseURL: url,
		Timeout: 5 * time.Second,
	}, zap.NewNop())
}

func zipArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestClient_RunLogs(t *testing.T) {
	archive := zipArchive(t, map[string]string{
		"2_test.txt":  "npm ERR! missing package.json",
		"1_setup.txt": "Setting up node\n",
		"meta.json":   "{}",
	})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/acme/web/actions/runs/42/logs" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer ghp_test" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/zip")
		w.Write(archive)
	}))
	defer server.Close()

	logs, err := newTestClient(server.URL).RunLogs(context.Background(), "acme", "web", 42)
	if err != nil {
		t.Fatalf("RunLogs() error = %v", err)
	}

	want := "=== 1_setup.txt ===\nSetting up node\n=== 2_test.txt ===\nnpm ERR! missing package.json\n"
	if logs != want {
		t.Errorf("RunLogs() = %q, want %q", logs, want)
	}
}

func TestClient_StatusMapping(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		wantNotFound  bool
		wantRetryable bool
	}{
		{name: "not found", status: http.StatusNotFound, wantNotFound: true},
		{name: "server error", status: http.StatusBadGateway, wantRetryable: true},
		{name: "rate limited", status: http.StatusTooManyRequests, wantRetryable: true},
		{name: "forbidden", status: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"message":"nope"}`))
			}))
			defer server.Close()

			_, err := newTestClient(server.URL).Run(context.Background(), "acme", "web", 1)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, domain.ErrNotFound); got != tt.wantNotFound {
				t.Errorf("errors.Is(ErrNotFound) = %v, want %v", got, tt.wantNotFound)
			}
			if got := domain.IsRetryable(err); got != tt.wantRetryable {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.wantRetryable)
			}
		})
	}
}

func TestClient_CreateFixPR(t *testing.T) {
	var (
		mu    sync.Mutex
		calls []string
		files = map[string]string{}
		ref   map[string]string
		pull  map[string]string
	)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/web", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"default_branch":"main"}`))
	})
	mux.HandleFunc("GET /repos/acme/web/git/ref/heads/main", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"object":{"sha":"abc123"}}`))
	})
	mux.HandleFunc("POST /repos/acme/web/git/refs", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&ref)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{}`))
	})
	mux.HandleFunc("PUT /repos/acme/web/contents/", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		content, _ := base64.StdEncoding.DecodeString(body["content"])
		mu.Lock()
		files[strings.TrimPrefix(r.URL.Path, "/repos/acme/web/contents/")] = string(content)
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{}`))
	})
	mux.HandleFunc("POST /repos/acme/web/pulls", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&pull)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"number":7,"html_url":"https://github.com/acme/web/pull/7"}`))
	})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls = append(calls, r.Method+" "+r.URL.Path)
		mu.Unlock()
		mux.ServeHTTP(w, r)
	}))
	defer server.Close()

	req := FixRequest{
		Owner:   "acme",
		Repo:    "web",
		Logs:    "npm ERR! enoent ENOENT: no such file or directory, open 'package.json'",
		Context: domain.RepoContext{Language: "javascript"},
		Suggestion: &domain.FixSuggestion{
			ID:          "fix-1",
			Description: "Restore package.json",
			Steps:       []string{"Add package.json", "Run npm install"},
			Commands:    []string{"npm init -y"},
			Confidence:  0.84,
			Category:    domain.CategoryDependency,
			Severity:    domain.SeverityHigh,
			RiskLevel:   domain.RiskLow,
		},
	}

	pr, err := newTestClient(server.URL).CreateFixPR(context.Background(), req)
	if err != nil {
		t.Fatalf("CreateFixPR() error = %v", err)
	}
	if pr.Number != 7 || pr.HTMLURL != "https://github.com/acme/web/pull/7" {
		t.Errorf("unexpected PR %+v", pr)
	}
	if !strings.HasPrefix(pr.Branch, "cicd-fix-dependency-error-") {
		t.Errorf("branch = %q", pr.Branch)
	}

	if ref["ref"] != "refs/heads/"+pr.Branch || ref["sha"] != "abc123" {
		t.Errorf("unexpected ref body %v", ref)
	}
	if pull["base"] != "main" || pull["head"] != pr.Branch {
		t.Errorf("unexpected pull body %v", pull)
	}
	if !strings.Contains(pull["body"], "**Confidence:** 84%") {
		t.Errorf("PR body missing confidence:\n%s", pull["body"])
	}
	if !strings.Contains(pull["body"], "1. Add package.json\n2. Run npm install") {
		t.Errorf("PR body missing steps:\n%s", pull["body"])
	}

	if _, ok := files[".github/cicd-fixes/fix-1.md"]; !ok {
		t.Errorf("fix plan not written, files = %v", files)
	}
	if !strings.Contains(files["package.json"], `"name": "web"`) {
		t.Errorf("package.json scaffold = %q", files["package.json"])
	}
	if len(calls) != 6 {
		t.Errorf("expected 6 API calls, got %d: %v", len(calls), calls)
	}
}

func TestFixFiles_NoScaffold(t *testing.T) {
	tests := []struct {
		name string
		req  FixRequest
	}{
		{
			name: "python project",
			req: FixRequest{
				Logs:       "could not read package.json",
				Context:    domain.RepoContext{Language: "python"},
				Suggestion: &domain.FixSuggestion{ID: "a", Category: domain.CategoryDependency},
			},
		},
		{
			name: "test failure",
			req: FixRequest{
				Logs:       "ENOENT package.json",
				Context:    domain.RepoContext{Language: "javascript"},
				Suggestion: &domain.FixSuggestion{ID: "b", Category: domain.CategoryTest},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			files, err := FixFiles(tt.req)
			if err != nil {
				t.Fatal(err)
			}
			if len(files) != 1 {
				t.Errorf("expected only the fix plan, got %d files", len(files))
			}
		})
	}
}
