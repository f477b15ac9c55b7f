package classifier

import (
	"strings"

	"github.com/cicd-fixer/internal/domain"
)

const unknown = "unknown"

type detector struct {
	value   string
	phrases []string
}

var languages = []detector{
	{"javascript", []string{"npm ", "npm err", "node_modules", "node:", "yarn", "package.json"}},
	{"python", []string{"python", "pip ", "pytest", "traceback (most recent call last)", "requirements.txt"}},
	{"java", []string{"maven", "gradle", "mvn ", "java.lang.", ".java:"}},
	{"csharp", []string{"dotnet", "msbuild", ".csproj", "nuget"}},
	{"go", []string{"go: ", "go build", "go test", "go.mod", ".go:"}},
}

var frameworks = []detector{
	{"react", []string{"react"}},
	{"vue", []string{"vue"}},
	{"angular", []string{"angular", "@angular", "ng build"}},
	{"django", []string{"django"}},
	{"flask", []string{"flask"}},
}

var buildSystems = []detector{
	{"yarn", []string{"yarn"}},
	{"npm", []string{"npm"}},
	{"maven", []string{"maven", "mvn "}},
	{"gradle", []string{"gradle"}},
	{"dotnet", []string{"dotnet", "msbuild"}},
	{"go", []string{"go build", "go test", "go mod"}},
}

func detect(lower string, table []detector) string {
	for _, d := range table {
		if containsAny(lower, d.phrases) {
			return d.value
		}
	}
	return unknown
}

// DetectContext fills the empty fields of ctx from markers in the log.
// Caller-supplied values are never overwritten.
func DetectContext(log string, ctx domain.RepoContext) domain.RepoContext {
	lower := strings.ToLower(log)
	if ctx.Language == "" {
		ctx.Language = detect(lower, languages)
	}
	if ctx.Framework == "" {
		ctx.Framework = detect(lower, frameworks)
	}
	if ctx.BuildSystem == "" {
		ctx.BuildSystem = detect(lower, buildSystems)
	}
	return ctx
}
