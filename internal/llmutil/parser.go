// Package llmutil pulls structured data out of free-form model output.
package llmutil

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	json "github.com/json-iterator/go"
)

// ErrNoJSON is returned when a response contains no JSON value at all.
var ErrNoJSON = errors.New("no JSON value found in LLM response")

var (
	// Backticks are written as \x60 because raw strings cannot contain them.

	// fencedRegex captures the body of the first fenced block, with any language tag.
	fencedRegex = regexp.MustCompile("(?s)\x60\x60\x60[a-zA-Z0-9_+-]*[ \t]*\n?(.*?)\\s*\x60\x60\x60")
)

// ParseJSONResponse parses an LLM response into T. The model may wrap the JSON
// in a markdown fence or surround it with prose; the first balanced object or
// array is used.
func ParseJSONResponse[T any](response string) (*T, error) {
	raw, err := ExtractJSON(response)
	if err != nil {
		return nil, err
	}

	var result T
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal LLM JSON response: %w. Extracted JSON (truncated): %s", err, truncateString(raw, 500))
	}
	return &result, nil
}

// ExtractJSON returns the first balanced JSON object or array in response.
// Fenced blocks are searched before the surrounding text.
func ExtractJSON(response string) (string, error) {
	response = strings.TrimSpace(response)
	if m := fencedRegex.FindStringSubmatch(response); len(m) > 1 {
		if raw, ok := balancedJSON(m[1]); ok {
			return raw, nil
		}
	}
	if raw, ok := balancedJSON(response); ok {
		return raw, nil
	}
	return "", ErrNoJSON
}

// balancedJSON scans from the first '{' or '[' to its matching close,
// skipping brackets inside string literals.
func balancedJSON(s string) (string, bool) {
	start := strings.IndexAny(s, "{[")
	for start >= 0 {
		if end, ok := matchClose(s, start); ok {
			return s[start : end+1], true
		}
		next := strings.IndexAny(s[start+1:], "{[")
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

func matchClose(s string, start int) (int, bool) {
	var stack []byte
	inString, escaped := false, false
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
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return 0, false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// CleanCodeOutput strips a markdown fence (```js, ```javascript, ...) from a
// script the model produced.
func CleanCodeOutput(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		if m := fencedRegex.FindStringSubmatch(content); len(m) > 1 {
			return strings.TrimSpace(m[1])
		}
	}
	return content
}

// truncateString shortens s to at most maxLen bytes without splitting a rune.
func truncateString(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
