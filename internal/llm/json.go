package llm

import "strings"

// ExtractJSONBlock returns the JSON payload of a model reply, tolerating a
// Markdown code fence (with or without a language tag) around it. Replies
// without a fence come back trimmed and otherwise untouched.
func ExtractJSONBlock(s string) string {
	s = strings.TrimSpace(s)
	after, ok := strings.CutPrefix(s, "```")
	if !ok {
		return s
	}
	if nl := strings.IndexByte(after, '\n'); nl >= 0 {
		after = after[nl+1:]
	} else {
		after = strings.TrimPrefix(after, "json")
	}
	if i := strings.LastIndex(after, "```"); i >= 0 {
		after = after[:i]
	}
	return strings.TrimSpace(after)
}
