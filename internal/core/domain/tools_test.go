package domain

import (
	"context"
	"strings"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keywordTool() *Tool {
	return &Tool{
		Name:        "search_keywords",
		Description: "search the corpus",
		Parameters: &openapi3.Schema{
			Type: &openapi3.Types{openapi3.TypeObject},
			Properties: openapi3.Schemas{
				"keywords": openapi3.NewSchemaRef("", &openapi3.Schema{
					Type: &openapi3.Types{openapi3.TypeString},
				}),
			},
			Required: []string{"keywords"},
		},
		Execute: func(_ context.Context, _ map[string]any) (string, error) {
			return "", nil
		},
	}
}

func TestToolRegistryRejectsDuplicates(t *testing.T) {
	registry := NewToolRegistry()
	require.NoError(t, registry.Register(keywordTool()))
	assert.Error(t, registry.Register(keywordTool()))
}

func TestToolRegistryPreservesRegistrationOrder(t *testing.T) {
	registry := NewToolRegistry()
	require.NoError(t, registry.Register(&Tool{Name: "b_tool", Description: "b"}))
	require.NoError(t, registry.Register(&Tool{Name: "a_tool", Description: "a"}))

	catalogue := registry.SchemaCatalogue()
	require.Len(t, catalogue, 2)
	assert.Equal(t, "b_tool", catalogue[0].Name)
	assert.Equal(t, "a_tool", catalogue[1].Name)
}

func TestValidateArgsRequiresKeywords(t *testing.T) {
	tool := keywordTool()

	assert.NoError(t, tool.ValidateArgs(map[string]any{"keywords": "project"}))
	assert.Error(t, tool.ValidateArgs(map[string]any{}))
	assert.Error(t, tool.ValidateArgs(map[string]any{"keywords": 42}))
}

func TestValidateArgsNilSchemaAcceptsAnything(t *testing.T) {
	tool := &Tool{Name: "anything"}
	assert.NoError(t, tool.ValidateArgs(map[string]any{"whatever": true}))
}

func TestFormatToolsForPromptListsParams(t *testing.T) {
	registry := NewToolRegistry()
	require.NoError(t, registry.Register(keywordTool()))

	prompt := registry.FormatToolsForPrompt()
	assert.Contains(t, prompt, "search_keywords")
	assert.Contains(t, prompt, "keywords:string")
	assert.Contains(t, prompt, "required: keywords")
}

func TestNewInvocationIDShape(t *testing.T) {
	id := NewInvocationID()
	assert.True(t, strings.HasPrefix(id, "call-"))
	assert.Len(t, id, len("call-")+12)
	assert.NotEqual(t, id, NewInvocationID())
}

func TestDeclaresInvocation(t *testing.T) {
	turn := ModelTurn("", []ToolInvocation{{ID: "call-1", Tool: "search_keywords"}})
	assert.True(t, turn.DeclaresInvocation("call-1"))
	assert.False(t, turn.DeclaresInvocation("call-2"))
	assert.False(t, UserTurn("hi").DeclaresInvocation("call-1"))
}

func TestIntentDocumentStepsFlattensInPhaseOrder(t *testing.T) {
	doc := IntentDocument{
		BDDFlow: map[BDDPhase][]Step{
			PhaseThen:  {{StepID: "t-1"}},
			PhaseGiven: {{StepID: "g-1"}, {StepID: "g-2"}},
			PhaseWhen:  {{StepID: "w-1"}},
		},
	}

	steps := doc.Steps()
	require.Len(t, steps, 4)
	assert.Equal(t, StepID("g-1"), steps[0].StepID)
	assert.Equal(t, StepID("g-2"), steps[1].StepID)
	assert.Equal(t, StepID("w-1"), steps[2].StepID)
	assert.Equal(t, StepID("t-1"), steps[3].StepID)
	assert.Equal(t, PhaseThen, steps[3].Phase)
}

func TestStepTypeTag(t *testing.T) {
	assert.Equal(t, "API_CALL", Step{ActionType: "API_CALL"}.TypeTag())
	assert.Equal(t, "API_CHECK", Step{CheckType: "API_CHECK"}.TypeTag())
	assert.Equal(t, "", Step{}.TypeTag())
}
