package generator

import "github.com/cicd-fixer/internal/domain"

var investigationSteps = []string{
	"Review the complete error log for the first failing step",
	"Check recent changes to the repository",
	"Verify environment configuration and dependency versions",
	"Reproduce the failure locally with the same toolchain",
}

var fallbackAlternatives = []string{
	"Re-run the failed job to rule out a transient failure",
	"Compare with the last successful run of the workflow",
	"Ask a maintainer for a manual review of the failure",
}

var fallbackDescriptions = map[domain.ErrorCategory]string{
	domain.CategoryDependency: "Manual investigation required: dependency installation failed",
	domain.CategoryTest:       "Manual investigation required: tests failed",
	domain.CategoryBuild:      "Manual investigation required: build failed",
	domain.CategoryPermission: "Manual investigation required: permission denied",
	domain.CategoryTimeout:    "Manual investigation required: job timed out",
	domain.CategoryResource:   "Manual investigation required: runner resources exhausted",
	domain.CategoryUnknown:    "Manual investigation required",
}

var cannedAlternatives = map[domain.ErrorCategory][]string{
	domain.CategoryDependency: {
		"Clear the package manager cache and reinstall dependencies",
		"Pin dependency versions in the lock file",
		"Check for version conflicts between direct dependencies",
	},
	domain.CategoryTest: {
		"Run the failing tests locally to reproduce the failure",
		"Check for flaky tests and quarantine them",
		"Review recent changes to the code under test",
	},
	domain.CategoryBuild: {
		"Clean the build output and rebuild from scratch",
		"Align the CI toolchain version with local development",
		"Review recent changes to build configuration files",
	},
}
