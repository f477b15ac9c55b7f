// Package rules provides the CI failure knowledge base used by the local
// reasoner and by fallback suggestions. Each rule recognizes one well-known
// failure and carries a vetted remedy for it.
package rules

import (
	"regexp"
	"strings"

	"github.com/cicd-fixer/internal/domain"
)

// Remedy is the fix a rule proposes.
type Remedy struct {
	Description   string
	RootCause     string
	Steps         []string
	Commands      []string
	EstimatedTime string
	Prevention    []string
}

// Rule represents a single knowledge-base entry.
type Rule struct {
	// ID is the unique identifier for this rule.
	ID string

	// Name is a human-readable name for the rule.
	Name string

	// Category is the failure class the rule belongs to.
	Category domain.ErrorCategory

	// Patterns are regex patterns to match against log content.
	Patterns []*regexp.Regexp

	// Keywords are simple string matches (case-insensitive).
	Keywords []string

	// Confidence is the confidence level when this rule matches (0.0-1.0).
	Confidence float64

	Remedy Remedy
}

// Match checks if the log content matches this rule.
func (r *Rule) Match(log string) bool {
	logLower := strings.ToLower(log)

	// Check keywords first (faster)
	for _, kw := range r.Keywords {
		if strings.Contains(logLower, strings.ToLower(kw)) {
			return true
		}
	}

	// Check regex patterns
	for _, pattern := range r.Patterns {
		if pattern.MatchString(log) {
			return true
		}
	}

	return false
}

// DefaultRules returns the built-in rules.
func DefaultRules() []*Rule {
	return []*Rule{
		npmMissingManifest(),
		npmInstallFailure(),
		pythonModuleNotFound(),
		goModuleMissing(),
		testAssertionFailure(),
		compilationError(),
		permissionDenied(),
		jobTimeout(),
		outOfMemory(),
		diskSpaceFull(),
		dockerDaemonNotRunning(),
	}
}

func npmMissingManifest() *Rule {
	return &Rule{
		ID:       "npm_missing_manifest",
		Name:     "Missing package.json",
		Category: domain.CategoryDependency,
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)enoent.*package\.json`),
			regexp.MustCompile(`(?i)could not read package\.json`),
		},
		Confidence: 0.95,
		Remedy: Remedy{
			Description: "Restore the missing package.json so npm can resolve project dependencies",
			RootCause:   "npm could not open package.json. The manifest is missing from the checkout or the job runs in the wrong working directory.",
			Steps: []string{
				"Confirm package.json is committed at the repository root",
				"Check the workflow working-directory points at the project root",
				"If the manifest was deleted, restore it from history or recreate it with npm init",
				"Re-run npm install and commit the generated package-lock.json",
			},
			Commands: []string{
				"git ls-files package.json",
				"npm init -y",
				"npm install",
			},
			EstimatedTime: "5-15 minutes",
			Prevention: []string{
				"Protect package.json with CODEOWNERS review",
				"Set an explicit working-directory in workflow steps",
			},
		},
	}
}

func npmInstallFailure() *Rule {
	return &Rule{
		ID:       "npm_install_failure",
		Name:     "NPM Install Failure",
		Category: domain.CategoryDependency,
		Keywords: []string{"npm err!"},
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)npm ERR!.*code\s+E[A-Z]+`),
			regexp.MustCompile(`(?i)npm ERR!.*peer dep`),
			regexp.MustCompile(`(?i)ERESOLVE unable to resolve dependency tree`),
		},
		Confidence: 0.85,
		Remedy: Remedy{
			Description: "Clear the npm cache and reinstall dependencies from the lockfile",
			RootCause:   "NPM package installation failed. This could be due to missing packages, version conflicts, network issues, or a corrupted cache.",
			Steps: []string{
				"Clear npm cache",
				"Delete node_modules and reinstall from package-lock.json",
				"Check that every package and version in package.json exists",
				"Resolve peer dependency conflicts",
			},
			Commands: []string{
				"npm cache clean --force",
				"rm -rf node_modules",
				"npm ci",
			},
			EstimatedTime: "10-20 minutes",
			Prevention: []string{
				"Lock dependency versions in package-lock.json",
				"Use npm ci in CI/CD for reproducible builds",
			},
		},
	}
}

func pythonModuleNotFound() *Rule {
	return &Rule{
		ID:       "python_module_not_found",
		Name:     "Python Module Not Found",
		Category: domain.CategoryDependency,
		Keywords: []string{"modulenotfounderror", "no matching distribution found"},
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)ImportError: No module named`),
			regexp.MustCompile(`(?i)Could not find a version that satisfies the requirement`),
		},
		Confidence: 0.9,
		Remedy: Remedy{
			Description: "Add the missing module to requirements.txt and reinstall dependencies",
			RootCause:   "A Python import failed because the package is not installed in the job environment or its pinned version does not exist.",
			Steps: []string{
				"Identify the missing module from the traceback",
				"Add or fix the pin in requirements.txt",
				"Reinstall dependencies in a clean virtual environment",
			},
			Commands: []string{
				"pip install -r requirements.txt",
				"pip freeze > requirements.txt",
			},
			EstimatedTime: "10-20 minutes",
			Prevention: []string{
				"Pin dependencies with a lock file",
				"Run the test suite in a fresh environment locally before pushing",
			},
		},
	}
}

func goModuleMissing() *Rule {
	return &Rule{
		ID:       "go_module_missing",
		Name:     "Go Module Missing",
		Category: domain.CategoryDependency,
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)no required module provides package`),
			regexp.MustCompile(`(?i)missing go\.sum entry`),
		},
		Confidence: 0.9,
		Remedy: Remedy{
			Description: "Run go mod tidy and commit the updated go.mod and go.sum",
			RootCause:   "The module graph in go.mod or go.sum does not cover an imported package.",
			Steps: []string{
				"Run go mod tidy locally",
				"Commit go.mod and go.sum together",
			},
			Commands: []string{
				"go mod tidy",
				"go build ./...",
			},
			EstimatedTime: "5-10 minutes",
			Prevention: []string{
				"Check go mod tidy produces no diff in CI",
			},
		},
	}
}

func testAssertionFailure() *Rule {
	return &Rule{
		ID:       "test_assertion_failure",
		Name:     "Test Assertion Failure",
		Category: domain.CategoryTest,
		Keywords: []string{"assertionerror", "tests failed"},
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)expected.*(received|got|but was)`),
			regexp.MustCompile(`(?m)^--- FAIL: `),
			regexp.MustCompile(`(?i)\d+ (failed|failing)`),
		},
		Confidence: 0.75,
		Remedy: Remedy{
			Description: "Reproduce the failing tests locally and fix the assertion or the code under test",
			RootCause:   "One or more test assertions failed. Recent changes altered behavior the tests depend on, or the tests are unstable.",
			Steps: []string{
				"Run the failing tests in isolation",
				"Compare expected and actual values in the assertion output",
				"Review recent changes to the code under test",
				"Quarantine the test if it fails intermittently",
			},
			EstimatedTime: "20-40 minutes",
			Prevention: []string{
				"Track flaky tests and fix them promptly",
				"Run tests locally before pushing",
			},
		},
	}
}

func compilationError() *Rule {
	return &Rule{
		ID:       "compilation_error",
		Name:     "Compilation Error",
		Category: domain.CategoryBuild,
		Keywords: []string{"compilation failed", "could not compile"},
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`error TS\d+:`),
			regexp.MustCompile(`(?i)\[ERROR\] COMPILATION ERROR`),
			regexp.MustCompile(`(?i)error CS\d+:`),
			regexp.MustCompile(`\.go:\d+:\d+: `),
		},
		Confidence: 0.85,
		Remedy: Remedy{
			Description: "Fix the compiler errors reported in the build output",
			RootCause:   "The source does not compile with the toolchain used in CI.",
			Steps: []string{
				"Open the first reported error location",
				"Build locally with the same toolchain version as CI",
				"Fix type or syntax errors and rebuild",
			},
			EstimatedTime: "15-30 minutes",
			Prevention: []string{
				"Pin the toolchain version in the workflow",
				"Run the build in a pre-commit hook",
			},
		},
	}
}

func permissionDenied() *Rule {
	return &Rule{
		ID:       "permission_denied",
		Name:     "Permission Denied",
		Category: domain.CategoryPermission,
		Keywords: []string{"resource not accessible by integration"},
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)permission to .* denied`),
			regexp.MustCompile(`(?i)returned error: 403`),
			regexp.MustCompile(`(?i)\b401 unauthorized\b`),
		},
		Confidence: 0.85,
		Remedy: Remedy{
			Description: "Grant the workflow token the permissions the job needs",
			RootCause:   "The job's token or credentials lack permission for the requested operation.",
			Steps: []string{
				"Identify the operation that was denied",
				"Add the required scope to the workflow permissions block",
				"Rotate or re-create the secret if the credentials expired",
			},
			EstimatedTime: "10-20 minutes",
			Prevention: []string{
				"Declare least-privilege permissions explicitly in every workflow",
			},
		},
	}
}

func jobTimeout() *Rule {
	return &Rule{
		ID:       "job_timeout",
		Name:     "Job Timeout",
		Category: domain.CategoryTimeout,
		Keywords: []string{"exceeded the maximum execution time", "the operation was canceled"},
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)dial tcp .*: i/o timeout`),
			regexp.MustCompile(`(?i)ETIMEDOUT`),
		},
		Confidence: 0.8,
		Remedy: Remedy{
			Description: "Find the slow step and raise its timeout or cache its inputs",
			RootCause:   "A step ran longer than its time limit or waited on an unreachable network service.",
			Steps: []string{
				"Find the step that hit the limit in the job timeline",
				"Cache dependencies between runs",
				"Raise timeout-minutes only if the step is legitimately slow",
			},
			EstimatedTime: "15-30 minutes",
			Prevention: []string{
				"Cache package manager downloads",
				"Split long jobs into parallel jobs",
			},
		},
	}
}

func outOfMemory() *Rule {
	return &Rule{
		ID:       "out_of_memory",
		Name:     "Out of Memory",
		Category: domain.CategoryResource,
		Keywords: []string{"out of memory", "oomkilled", "heap out of memory"},
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)Cannot allocate memory`),
			regexp.MustCompile(`(?i)java\.lang\.OutOfMemoryError`),
		},
		Confidence: 0.95,
		Remedy: Remedy{
			Description: "Raise the memory limit for the build process or reduce its footprint",
			RootCause:   "The process exhausted available memory and was terminated.",
			Steps: []string{
				"Increase the heap limit for the failing tool",
				"Use a larger runner if the job needs more memory",
				"Reduce build parallelism",
			},
			Commands: []string{
				`export NODE_OPTIONS="--max-old-space-size=4096"`,
			},
			EstimatedTime: "10-20 minutes",
			Prevention: []string{
				"Monitor build memory usage over time",
			},
		},
	}
}

func diskSpaceFull() *Rule {
	return &Rule{
		ID:       "disk_space_full",
		Name:     "Disk Space Full",
		Category: domain.CategoryResource,
		Keywords: []string{"no space left on device"},
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)ENOSPC`),
		},
		Confidence: 0.95,
		Remedy: Remedy{
			Description: "Free disk space on the runner before the failing step",
			RootCause:   "The runner's disk filled up during the job.",
			Steps: []string{
				"Remove unused toolchains and caches before the build",
				"Prune Docker images and build cache",
			},
			Commands: []string{
				"df -h",
				"docker system prune -af",
			},
			EstimatedTime: "10-15 minutes",
			Prevention: []string{
				"Clean build artifacts between steps",
			},
		},
	}
}

func dockerDaemonNotRunning() *Rule {
	return &Rule{
		ID:       "docker_daemon_not_running",
		Name:     "Docker Daemon Not Running",
		Category: domain.CategoryBuild,
		Keywords: []string{"cannot connect to the docker daemon", "docker daemon is not running"},
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)is the docker daemon running`),
		},
		Confidence: 0.95,
		Remedy: Remedy{
			Description: "Use a runner with a running Docker daemon or start the docker service",
			RootCause:   "The Docker daemon is not running or not accessible from the job.",
			Steps: []string{
				"Check the runner image provides Docker",
				"Add a docker service container or setup step to the workflow",
			},
			Commands: []string{
				"docker info",
			},
			EstimatedTime: "10-20 minutes",
			Prevention: []string{
				"Pin runner images known to ship Docker",
			},
		},
	}
}
