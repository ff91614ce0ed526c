package jsonutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractObject(t *testing.T) {
	tests := []struct {
		name string
		text string
		want map[string]any
	}{
		{
			name: "fenced json block",
			text: "Here is the fix:\n```json\n{\"flow\": {\"a\": 1}}\n```\nDone.",
			want: map[string]any{"flow": map[string]any{"a": 1.0}},
		},
		{
			name: "untagged fence",
			text: "```\n{\"errors\": []}\n```",
			want: map[string]any{"errors": []any{}},
		},
		{
			name: "second fence when first is broken",
			text: "```json\n{broken\n```\nand\n```json\n{\"ok\": true}\n```",
			want: map[string]any{"ok": true},
		},
		{
			name: "whole text",
			text: "  {\"name\": \"E2E x\"}  \n",
			want: map[string]any{"name": "E2E x"},
		},
		{
			name: "embedded object",
			text: `Sure! {"generator_prompt": "use {{{v1}}} tokens", "changes": ["a"]} hope that helps`,
			want: map[string]any{"generator_prompt": "use {{{v1}}} tokens", "changes": []any{"a"}},
		},
		{
			name: "braces inside strings",
			text: `result: {"message": "close } early", "n": 1} trailing }`,
			want: map[string]any{"message": "close } early", "n": 1.0},
		},
		{
			name: "skips unparseable first object",
			text: `{not: json} then {"x": 2}`,
			want: map[string]any{"x": 2.0},
		},
		{
			name: "stray quote in prose braces",
			text: "Sure {see \"docs} below. {\"flow\":{}}",
			want: map[string]any{"flow": map[string]any{}},
		},
		{
			name: "quoted document",
			text: `"{\"flow\":{\"a\":{}},\"name\":\"E2E x\"}"`,
			want: map[string]any{"flow": map[string]any{"a": map[string]any{}}, "name": "E2E x"},
		},
		{
			name: "stray closing brace before object",
			text: `} {"x": 3}`,
			want: map[string]any{"x": 3.0},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractObject(tt.text)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractObject_NoObject(t *testing.T) {
	for _, text := range []string{
		"",
		"I could not produce a flow, sorry.",
		"[1, 2, 3]",
		"```json\n[\"not an object\"]\n```",
		`{"unterminated": `,
		"null",
		`"just a sentence"`,
	} {
		got, ok := ExtractObject(text)
		assert.False(t, ok, text)
		assert.Nil(t, got, text)
	}
}

func TestMarshalNoEscape(t *testing.T) {
	b, err := MarshalNoEscape(map[string]string{"expr": "a < b && {{{v1}}}"})
	require.NoError(t, err)
	assert.Equal(t, `{"expr":"a < b && {{{v1}}}"}`, string(b))
}

func TestPretty(t *testing.T) {
	assert.Equal(t, "{\n  \"a\": 1\n}", Pretty(map[string]int{"a": 1}))
	assert.Equal(t, "null", Pretty(func() {}))
}

func TestUnmarshalFlex_QuotedDocument(t *testing.T) {
	var v map[string]any
	require.NoError(t, UnmarshalFlex([]byte(`"{\"a\":\"\\u003e\"}"`), &v))
	assert.Equal(t, ">", v["a"])
}
