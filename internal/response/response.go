// Package response turns raw model text into usable results. Anything that
// does not fit the expected shape is reported as absent, never half-used.
package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/swapisticated/Astro-Repo/internal/llm"
	"github.com/swapisticated/Astro-Repo/internal/metrics"
	"github.com/swapisticated/Astro-Repo/pkg/models"
)

var (
	// ErrNotStructured is matched by every ParseStructured failure.
	ErrNotStructured = errors.New("response is not a structured analysis")
	// ErrPlaceholder means the text was a failure placeholder.
	ErrPlaceholder = errors.New("response is a placeholder")
)

// ParseStructured extracts an analysis from text that may be wrapped in a
// markdown code fence.
func ParseStructured(text string) (*models.AnalysisResult, error) {
	result, err := parseStructured(text)
	if err != nil {
		metrics.RecordParseFailure("structured")
		return nil, err
	}
	return result, nil
}

func parseStructured(text string) (*models.AnalysisResult, error) {
	if llm.IsPlaceholder(text) {
		return nil, fmt.Errorf("%w: %w", ErrNotStructured, ErrPlaceholder)
	}

	body := StripFence(text)
	if !strings.HasPrefix(body, "{") {
		return nil, fmt.Errorf("%w: does not start with an object", ErrNotStructured)
	}

	var result models.AnalysisResult
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotStructured, err)
	}
	for i := range result.Items {
		result.Items[i].Type = models.SymbolType(strings.ToUpper(strings.TrimSpace(string(result.Items[i].Type))))
	}
	if err := result.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotStructured, err)
	}
	return &result, nil
}

// StripFence removes a leading ```json or ``` fence line and a trailing ```
// fence, then trims whitespace. Unfenced text is only trimmed.
func StripFence(text string) string {
	s := strings.TrimSpace(text)
	if rest, ok := strings.CutPrefix(s, "```"); ok {
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			lang := strings.TrimSpace(rest[:nl])
			if lang == "" || strings.EqualFold(lang, "json") {
				rest = rest[nl+1:]
			}
		} else {
			rest = strings.TrimPrefix(rest, "json")
		}
		s = strings.TrimSpace(rest)
	}
	if rest, ok := strings.CutSuffix(s, "```"); ok {
		s = strings.TrimSpace(rest)
	}
	return s
}

// ParsePathAnswer reads a single file path from a find-file answer. It
// reports false for empty answers, error text, the literal "null" and
// placeholders.
func ParsePathAnswer(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || strings.HasPrefix(trimmed, "Error") || trimmed == "null" || llm.IsPlaceholder(trimmed) {
		metrics.RecordParseFailure("path")
		return "", false
	}
	path := strings.NewReplacer("`", "", "'", "", `"`, "").Replace(trimmed)
	path = strings.TrimSpace(path)
	if path == "" {
		metrics.RecordParseFailure("path")
		return "", false
	}
	return path, true
}
