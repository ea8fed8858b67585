// Package llm adapts model backends (OpenAI-compatible, Gemini, and a
// deterministic mock) behind a single completion interface and cleans
// model responses into code payloads.
package llm

import (
	"regexp"
	"strings"
)

// Generation is a cleaned model response split into its thought trace
// and the code payload.
type Generation struct {
	ThoughtTrace string
	CodePayload  string
}

var (
	thinkBlock = regexp.MustCompile(`(?s)<think>(.*?)</think>`)
	codeFence  = regexp.MustCompile("(?s)```(?:go|golang)?\\s*\n(.*?)```")
)

// CleanProtocol extracts the thought trace and the fenced code block
// from a raw model response. When no fence is present the whole
// remaining text is treated as code.
func CleanProtocol(raw string) Generation {
	var gen Generation

	if m := thinkBlock.FindStringSubmatch(raw); m != nil {
		gen.ThoughtTrace = strings.TrimSpace(m[1])
		raw = thinkBlock.ReplaceAllString(raw, "")
	}

	if m := codeFence.FindStringSubmatch(raw); m != nil {
		gen.CodePayload = strings.TrimSpace(m[1])
		return gen
	}
	gen.CodePayload = strings.TrimSpace(raw)
	return gen
}

// IsAPIError reports whether a generation result is an upstream API
// failure rather than code. These are propagated, never masked.
func IsAPIError(payload string) bool {
	return strings.HasPrefix(payload, "LLM API Error:")
}
