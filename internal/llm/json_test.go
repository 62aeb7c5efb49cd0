package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONPlain(t *testing.T) {
	out, err := ExtractJSON(`{"a": 1}`)
	require.NoError(t, err)
	assert.Equal(t, `{"a": 1}`, out)
}

func TestExtractJSONWithSurroundingText(t *testing.T) {
	out, err := ExtractJSON("Here is the result:\n{\"topical\": \"coffee\", \"nested\": {\"x\": 1}}\nHope that helps!")
	require.NoError(t, err)

	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &parsed))
	assert.Equal(t, "coffee", parsed["topical"])
}

func TestExtractJSONCodeFence(t *testing.T) {
	out, err := ExtractJSON("```json\n{\"ok\": true}\n```")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok": true}`, out)
}

func TestExtractJSONBracesInsideStrings(t *testing.T) {
	out, err := ExtractJSON(`{"notes": "contains } and { inside"}`)
	require.NoError(t, err)

	var parsed map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &parsed))
	assert.Equal(t, "contains } and { inside", parsed["notes"])
}

func TestExtractJSONErrors(t *testing.T) {
	_, err := ExtractJSON("no json here")
	assert.Error(t, err)

	_, err = ExtractJSON(`{"unbalanced": true`)
	assert.Error(t, err)
}
