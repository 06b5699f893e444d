package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractJSONBlock(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"bare object", `{"title":"x"}`, `{"title":"x"}`},
		{"padded", "  {\"title\":\"x\"}\n", `{"title":"x"}`},
		{"fenced", "```\n{\"title\":\"x\"}\n```", `{"title":"x"}`},
		{"fenced with tag", "```json\n{\"title\":\"x\"}\n```", `{"title":"x"}`},
		{"single line fence", "```json{\"title\":\"x\"}```", `{"title":"x"}`},
		{"missing closing fence", "```json\n{\"title\":\"x\"}", `{"title":"x"}`},
		{"plain prose untouched", "not json at all", "not json at all"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ExtractJSONBlock(tc.in))
		})
	}
}
