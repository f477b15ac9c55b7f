// Package sanitizer cleans CI logs and masks secrets before they are stored
// or sent to a reasoning backend.
package sanitizer

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/cicd-fixer/internal/domain"
)

// Sanitizer handles log preprocessing and secret masking.
type Sanitizer struct {
	patterns []*regexp.Regexp
	maxSize  int
}

// Pattern definitions for common secrets and sensitive data.
var defaultPatterns = []*regexp.Regexp{
	// API Keys (generic patterns)
	regexp.MustCompile(`(?i)(api[_-]?key|apikey)\s*[:=]\s*['"]?([a-zA-Z0-9_\-]{20,})['"]?`),
	regexp.MustCompile(`(?i)(secret[_-]?key|secretkey)\s*[:=]\s*['"]?([a-zA-Z0-9_\-]{20,})['"]?`),
	regexp.MustCompile(`(?i)(access[_-]?key|accesskey)\s*[:=]\s*['"]?([a-zA-Z0-9_\-]{16,})['"]?`),

	// Authentication tokens
	regexp.MustCompile(`(?i)(bearer\s+)[a-zA-Z0-9_\-\.]+`),
	regexp.MustCompile(`(?i)(authorization:\s*)[a-zA-Z0-9_\-\.\s]+`),
	regexp.MustCompile(`(?i)(token|auth[_-]?token)\s*[:=]\s*['"]?([a-zA-Z0-9_\-\.]{20,})['"]?`),

	// Passwords
	regexp.MustCompile(`(?i)(password|passwd|pwd)\s*[:=]\s*['"]?([^\s'"]{4,})['"]?`),

	// AWS credentials
	regexp.MustCompile(`(?i)AKIA[0-9A-Z]{16}`),
	regexp.MustCompile(`(?i)(aws[_-]?secret[_-]?access[_-]?key)\s*[:=]\s*['"]?([a-zA-Z0-9/+=]{40})['"]?`),

	// Private keys
	regexp.MustCompile(`-----BEGIN\s+(RSA|DSA|EC|OPENSSH)?\s*PRIVATE KEY-----`),
	regexp.MustCompile(`-----BEGIN\s+PGP\s+PRIVATE\s+KEY\s+BLOCK-----`),

	// Database connection strings
	regexp.MustCompile(`(?i)(mongodb|mysql|postgres|postgresql|redis):\/\/[^@]+@[^\s]+`),
	regexp.MustCompile(`(?i)(connection[_-]?string)\s*[:=]\s*['"]?([^\s'"]+)['"]?`),

	// GitHub tokens
	regexp.MustCompile(`ghp_[a-zA-Z0-9]{36}`),
	regexp.MustCompile(`gho_[a-zA-Z0-9]{36}`),
	regexp.MustCompile(`ghu_[a-zA-Z0-9]{36}`),
	regexp.MustCompile(`ghs_[a-zA-Z0-9]{36}`),
	regexp.MustCompile(`ghr_[a-zA-Z0-9]{36}`),

	// JWT tokens
	regexp.MustCompile(`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`),

	// Slack tokens
	regexp.MustCompile(`xox[baprs]-[0-9a-zA-Z-]+`),

	// Generic high-entropy strings that look like secrets
	regexp.MustCompile(`(?i)(secret|private|credential)\s*[:=]\s*['"]?([a-zA-Z0-9_\-]{16,})['"]?`),

	// GitHub Actions masks registered secrets as ***; npm tokens are not registered
	regexp.MustCompile(`npm_[a-zA-Z0-9]{36}`),
	regexp.MustCompile(`(?i)(_authToken)\s*=\s*\S+`),

	// IP addresses with ports (might be internal infrastructure)
	regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}:\d{4,5}\b`),

	// Email addresses (PII)
	regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`),
}

var (
	ansiEscape = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)

	// 2024-05-01T12:00:00.1234567Z at the start of each Actions log line
	runnerTimestamp = regexp.MustCompile(`(?m)^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:\.\d+)?Z ?`)
)

// New creates a new Sanitizer with default patterns.
func New(maxSize int) *Sanitizer {
	return &Sanitizer{
		patterns: defaultPatterns,
		maxSize:  maxSize,
	}
}

// NewWithPatterns creates a Sanitizer with custom patterns.
func NewWithPatterns(maxSize int, patterns []*regexp.Regexp) *Sanitizer {
	return &Sanitizer{
		patterns: patterns,
		maxSize:  maxSize,
	}
}

// Sanitize strips terminal noise, masks secrets and trims the log to the
// size limit. When the log is too large the tail is kept, since CI failures
// are reported at the end of a run. An empty log is rejected.
func (s *Sanitizer) Sanitize(log string) (string, error) {
	out, _, err := s.SanitizeWithStats(log)
	return out, err
}

// Clean removes ANSI escapes and runner timestamps without masking.
func Clean(log string) string {
	log = ansiEscape.ReplaceAllString(log, "")
	log = runnerTimestamp.ReplaceAllString(log, "")
	log = strings.ReplaceAll(log, "\r\n", "\n")
	return strings.TrimSpace(log)
}

// maskSecrets replaces sensitive patterns with masked versions and reports
// how many were found.
func (s *Sanitizer) maskSecrets(log string) (string, int) {
	found := 0
	for _, pattern := range s.patterns {
		log = pattern.ReplaceAllStringFunc(log, func(match string) string {
			found++
			return maskValue(match)
		})
	}
	return log, found
}

// maskValue creates a masked version of a matched secret.
func maskValue(match string) string {
	if len(match) <= 8 {
		return "[REDACTED]"
	}

	// key=value: keep the key
	if idx := strings.IndexAny(match, ":="); idx != -1 {
		return match[:idx+1] + "[REDACTED]"
	}

	if len(match) > 10 {
		return match[:4] + "****" + match[len(match)-4:]
	}

	return "[REDACTED]"
}

// IsEmpty checks if the log is empty or whitespace only.
func (s *Sanitizer) IsEmpty(log string) bool {
	return strings.TrimSpace(log) == ""
}

// IsTooLarge checks if the log exceeds the maximum size.
func (s *Sanitizer) IsTooLarge(log string) bool {
	return len(log) > s.maxSize
}

// Stats describes what sanitization changed.
type Stats struct {
	OriginalSize  int
	SanitizedSize int
	Truncated     bool
	SecretsFound  int
}

// SanitizeWithStats performs sanitization and returns statistics.
func (s *Sanitizer) SanitizeWithStats(log string) (string, Stats, error) {
	stats := Stats{OriginalSize: len(log)}

	cleaned := Clean(log)
	if cleaned == "" {
		return "", stats, domain.NewValidationError("sanitize", domain.ErrEmptyLog)
	}

	if s.maxSize > 0 && len(cleaned) > s.maxSize {
		cleaned = tail(cleaned, s.maxSize)
		stats.Truncated = true
	}

	masked, found := s.maskSecrets(cleaned)
	stats.SecretsFound = found
	stats.SanitizedSize = len(masked)
	return masked, stats, nil
}

// tail returns the last n bytes of s without splitting a rune.
func tail(s string, n int) string {
	cut := len(s) - n
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	return s[cut:]
}
