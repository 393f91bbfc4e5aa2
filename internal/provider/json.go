package provider

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// LLMs wrap JSON in code fences, leave trailing commas, or prepend
// prose more often than they return clean payloads, so parsing walks a
// sequence of cleanup strategies before giving up. Regexes are compiled
// once; per-parse compilation is measurably slower.
var (
	codeFenceRegex     = regexp.MustCompile("(?s)```(?:json|javascript|js)?\\s*\\n?([\\s\\S]*?)\\n?```")
	trailingCommaRegex = regexp.MustCompile(`,(\s*[}\]])`)
	lineCommentRegex   = regexp.MustCompile(`(?m)^\s*//.*$`)
	objectRegex        = regexp.MustCompile(`(?s)\{[\s\S]*\}`)
	arrayRegex         = regexp.MustCompile(`(?s)\[[\s\S]*\]`)
)

// parseJSON parses an LLM response into T, trying in order:
//  1. direct parse
//  2. code fence removal
//  3. trailing-comma and comment cleanup
//  4. extraction of the first JSON object/array from mixed content
func parseJSON[T any](text, context string) (T, error) {
	var zero T
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return zero, fmt.Errorf("%s: empty response", context)
	}

	if v, err := tryParse[T](trimmed); err == nil {
		return v, nil
	} else {
		slog.Debug("direct JSON parse failed, trying cleanup strategies",
			"context", context, "error", err)
	}

	if m := codeFenceRegex.FindStringSubmatch(trimmed); m != nil {
		if v, err := tryParse[T](strings.TrimSpace(m[1])); err == nil {
			return v, nil
		}
	}

	cleaned := trailingCommaRegex.ReplaceAllString(trimmed, "$1")
	cleaned = lineCommentRegex.ReplaceAllString(cleaned, "")
	if v, err := tryParse[T](cleaned); err == nil {
		return v, nil
	}

	if extracted := extractJSON(trimmed); extracted != "" {
		if v, err := tryParse[T](extracted); err == nil {
			return v, nil
		}
	}

	preview := trimmed
	if len(preview) > 300 {
		preview = preview[:300] + "... (truncated)"
	}
	return zero, fmt.Errorf("%s: no parse strategy succeeded, response: %s", context, preview)
}

func tryParse[T any](text string) (T, error) {
	var v T
	dec := json.NewDecoder(strings.NewReader(text))
	if err := dec.Decode(&v); err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}

// extractJSON pulls the outermost JSON object or array out of mixed
// prose-and-payload content.
func extractJSON(text string) string {
	// Prefer whichever structure appears first.
	objIdx := strings.IndexByte(text, '{')
	arrIdx := strings.IndexByte(text, '[')
	if arrIdx >= 0 && (objIdx < 0 || arrIdx < objIdx) {
		return arrayRegex.FindString(text)
	}
	if objIdx >= 0 {
		return objectRegex.FindString(text)
	}
	return ""
}
