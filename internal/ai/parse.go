package ai

import (
	"encoding/json"
	"strings"

	"github.com/cicd-fixer/internal/domain"
	"go.uber.org/zap"
)

// UnparsedAnalysis is the analysis returned when the backend answered but
// its content could not be parsed or validated.
func UnparsedAnalysis(raw string) *domain.BackendAnalysis {
	return &domain.BackendAnalysis{
		ErrorAnalysis: domain.ErrorAnalysis{
			ErrorType:     "unknown",
			ErrorSeverity: string(domain.SeverityMedium),
			RootCause:     "Unable to parse AI response",
		},
		FixSuggestion: domain.FixProposal{
			Description: "Manual analysis required",
			Confidence:  0.0,
		},
		RawResponse: raw,
	}
}

// parseAnalysis decodes and validates backend content. It never fails;
// unusable content yields UnparsedAnalysis.
func parseAnalysis(content string, validator ResponseValidator, logger *zap.Logger) *domain.BackendAnalysis {
	jsonContent := extractJSON(content)
	if jsonContent == "" {
		logger.Warn("could not extract JSON from backend response",
			zap.String("content_preview", truncate(content, 200)),
		)
		return UnparsedAnalysis(content)
	}

	var result domain.BackendAnalysis
	if err := json.Unmarshal([]byte(jsonContent), &result); err != nil {
		logger.Warn("failed to unmarshal backend response",
			zap.Error(err),
			zap.String("json_content", truncate(jsonContent, 200)),
		)
		return UnparsedAnalysis(content)
	}

	if err := validator.Validate(&result); err != nil {
		logger.Warn("backend response failed validation", zap.Error(err))
		return UnparsedAnalysis(content)
	}

	return &result
}

// extractJSON attempts to extract a JSON object from content that might
// include markdown fences or prose around it.
func extractJSON(content string) string {
	content = strings.TrimSpace(content)
	if isValidJSON(content) && strings.HasPrefix(content, "{") {
		return content
	}

	for start := strings.IndexByte(content, '{'); start != -1; {
		if end := matchBrace(content, start); end != -1 {
			if extracted := content[start:end]; isValidJSON(extracted) {
				return extracted
			}
		}
		next := strings.IndexByte(content[start+1:], '{')
		if next == -1 {
			break
		}
		start += next + 1
	}

	return ""
}

// matchBrace returns the index just past the brace closing the one at
// start, skipping braces inside string literals. It returns -1 if the
// object is unterminated.
func matchBrace(s string, start int) int {
	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}

func isValidJSON(s string) bool {
	var js json.RawMessage
	return json.Unmarshal([]byte(s), &js) == nil
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
