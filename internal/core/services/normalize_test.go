package services

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manthysbr/librarian/internal/core/domain"
	"github.com/manthysbr/librarian/internal/core/ports"
)

func TestNormalizeStructuredToolCalls(t *testing.T) {
	out := &ports.ModelOutput{
		Content: "searching now",
		ToolCalls: []ports.RawToolCall{
			{ID: "call-1", Name: "search_keywords", Args: json.RawMessage(`{"keywords":"project,create"}`)},
		},
	}

	content, invs, err := NormalizeResponse(out)
	require.NoError(t, err)
	assert.Equal(t, "searching now", content)
	require.Len(t, invs, 1)
	assert.Equal(t, "call-1", invs[0].ID)
	assert.Equal(t, "search_keywords", invs[0].Tool)
	assert.Equal(t, "project,create", invs[0].Args["keywords"])
}

func TestNormalizeDoubleEncodedArguments(t *testing.T) {
	// some providers serialize the arguments object, then serialize the string again
	out := &ports.ModelOutput{
		ToolCalls: []ports.RawToolCall{
			{Name: "find_aw_files", Args: json.RawMessage(`"{\"name_contains\":\"project\"}"`)},
		},
	}

	_, invs, err := NormalizeResponse(out)
	require.NoError(t, err)
	require.Len(t, invs, 1)
	assert.Equal(t, "project", invs[0].Args["name_contains"])
}

func TestNormalizeSideChannelToolCalls(t *testing.T) {
	out := &ports.ModelOutput{
		Content: "",
		Extra: map[string]any{
			"tool_calls": []any{
				map[string]any{
					"id": "call-7",
					"function": map[string]any{
						"name":      "find_aw_files",
						"arguments": `{}`,
					},
				},
			},
		},
	}

	_, invs, err := NormalizeResponse(out)
	require.NoError(t, err)
	require.Len(t, invs, 1)
	assert.Equal(t, "call-7", invs[0].ID)
	assert.Equal(t, "find_aw_files", invs[0].Tool)
	assert.Empty(t, invs[0].Args)
}

func TestNormalizeFencedJSONFallback(t *testing.T) {
	out := &ports.ModelOutput{
		Content: "I will search the corpus.\n```json\n[{\"tool_name\": \"search_keywords\", \"arguments\": {\"keywords\": \"branch\"}}]\n```",
	}

	_, invs, err := NormalizeResponse(out)
	require.NoError(t, err)
	require.Len(t, invs, 1)
	assert.Equal(t, "search_keywords", invs[0].Tool)
	assert.Equal(t, "branch", invs[0].Args["keywords"])
	assert.NotEmpty(t, invs[0].ID, "scraped invocations get a generated id")
}

func TestNormalizeMarkerFallback(t *testing.T) {
	out := &ports.ModelOutput{
		Content: "function<tool>read_aw_file\n```json\n{\"file_path\": \"aw_createProject.md\"}\n```",
	}

	_, invs, err := NormalizeResponse(out)
	require.NoError(t, err)
	require.Len(t, invs, 1)
	assert.Equal(t, "read_aw_file", invs[0].Tool)
	assert.Equal(t, "aw_createProject.md", invs[0].Args["file_path"])
}

func TestNormalizeFirstBalancedArrayFallback(t *testing.T) {
	out := &ports.ModelOutput{
		Content: `Let me call: [{"name": "grep_pattern", "arguments": {"pattern": "aw_id: .*project"}}] and wait.`,
	}

	_, invs, err := NormalizeResponse(out)
	require.NoError(t, err)
	require.Len(t, invs, 1)
	assert.Equal(t, "grep_pattern", invs[0].Tool)
	assert.Equal(t, "aw_id: .*project", invs[0].Args["pattern"])
}

func TestNormalizeStructuredWinsOverScraping(t *testing.T) {
	out := &ports.ModelOutput{
		Content: "```json\n[{\"tool_name\": \"grep_pattern\", \"arguments\": {}}]\n```",
		ToolCalls: []ports.RawToolCall{
			{ID: "call-1", Name: "find_aw_files", Args: json.RawMessage(`{}`)},
		},
	}

	_, invs, err := NormalizeResponse(out)
	require.NoError(t, err)
	require.Len(t, invs, 1)
	assert.Equal(t, "find_aw_files", invs[0].Tool)
}

func TestNormalizePlainAnswerHasNoInvocations(t *testing.T) {
	out := &ports.ModelOutput{Content: "here are the final candidates"}

	content, invs, err := NormalizeResponse(out)
	require.NoError(t, err)
	assert.Equal(t, "here are the final candidates", content)
	assert.Empty(t, invs)
}

func TestNormalizeEmptyOutputIsUnparseable(t *testing.T) {
	_, invs, err := NormalizeResponse(&ports.ModelOutput{Content: "   "})
	assert.ErrorIs(t, err, domain.ErrUnparseableResponse)
	assert.Empty(t, invs)

	_, _, err = NormalizeResponse(nil)
	assert.ErrorIs(t, err, domain.ErrUnparseableResponse)
}

func TestNormalizeUndecodableArgsCollapseToEmpty(t *testing.T) {
	out := &ports.ModelOutput{
		ToolCalls: []ports.RawToolCall{
			{Name: "search_keywords", Args: json.RawMessage(`"not json at all`)},
		},
	}

	_, invs, err := NormalizeResponse(out)
	require.NoError(t, err)
	require.Len(t, invs, 1)
	assert.Empty(t, invs[0].Args)
}

func TestFirstBalancedBlockHonorsStrings(t *testing.T) {
	blob, ok := firstBalancedBlock(`prefix [{"name": "x", "note": "contains ] bracket"}] suffix`, '[', ']')
	require.True(t, ok)
	assert.Equal(t, `[{"name": "x", "note": "contains ] bracket"}]`, blob)
}
