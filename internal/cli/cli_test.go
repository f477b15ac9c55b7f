package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cicd-fixer/internal/domain"
	"github.com/cicd-fixer/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupEnv(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("STORE_PATH", filepath.Join(dir, "cli.db"))
	t.Setenv("PREDICTOR_MODEL_PATH", filepath.Join(dir, "model.json"))
	t.Setenv("AI_PROVIDER", "")
	t.Setenv("AI_API_KEY", "")
	t.Setenv("AI_MOCK_MODE", "")
	t.Setenv("GITHUB_TOKEN", "")
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd("test")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestNewRootCmd(t *testing.T) {
	cmd := NewRootCmd("test")

	want := []string{"analyze", "feedback", "fixes", "patterns", "model", "retrain"}
	for _, name := range want {
		sub, _, err := cmd.Find([]string{name})
		if err != nil || sub.Name() != name {
			t.Errorf("subcommand %q not registered", name)
		}
	}
	if cmd.PersistentFlags().Lookup("verbose") == nil {
		t.Error("flag 'verbose' not registered")
	}
}

func TestAnalyzeAndFeedback(t *testing.T) {
	setupEnv(t)

	out, err := run(t,
		"npm ERR! enoent ENOENT: no such file or directory, open 'package.json'",
		"analyze", "--owner", "acme", "--repo", "web", "--language", "javascript")
	require.NoError(t, err)

	var result service.AnalyzeResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	require.NotNil(t, result.Suggestion)
	assert.Equal(t, domain.CategoryDependency, result.Suggestion.Category)
	assert.True(t, result.Persisted)

	out, err = run(t, "", "fixes")
	require.NoError(t, err)
	assert.Contains(t, out, result.Suggestion.ID)

	out, err = run(t, "", "feedback", result.Suggestion.ID, "--outcome", "reject", "--comment", "not it")
	require.NoError(t, err)
	assert.Contains(t, out, `"outcome": "reject"`)

	out, err = run(t, "", "patterns", "--days", "7")
	require.NoError(t, err)
	assert.Contains(t, out, `"total_analyzed": 1`)
}

func TestAnalyze_EmptyInput(t *testing.T) {
	setupEnv(t)

	_, err := run(t, "", "analyze", "--owner", "acme", "--repo", "web")
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
}

func TestRetrain_NothingNew(t *testing.T) {
	setupEnv(t)

	_, err := run(t, "", "retrain")
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))

	out, err := run(t, "", "model")
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}
