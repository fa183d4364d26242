package domain

import (
	"context"
	"fmt"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// Tool represents one registered corpus operation available to the model.
// Parameters is the argument schema advertised in the tool catalogue and
// used to validate decoded argument maps before execution.
type Tool struct {
	Name        string
	Description string
	Parameters  *openapi3.Schema
	Execute     ToolExecutor
}

// ToolExecutor is the function signature for tool execution. Expected
// conditions (document not found, malformed metadata, zero hits) are
// reported inside the returned text so the model can self-correct; an error
// return is reserved for filesystem-access failures unrelated to content.
type ToolExecutor func(ctx context.Context, args map[string]any) (string, error)

// ToolSchema is one entry of the catalogue sent to the model.
type ToolSchema struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Parameters  *openapi3.Schema `json:"parameters"`
}

// ToolRegistry manages the fixed set of corpus tools. Registration order is
// preserved so the catalogue and the prompt listing are deterministic.
type ToolRegistry struct {
	tools map[string]*Tool
	order []string
}

// NewToolRegistry creates a new empty registry
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]*Tool)}
}

// Register adds a tool to the registry
func (r *ToolRegistry) Register(tool *Tool) error {
	if tool.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("tool already registered: %s", tool.Name)
	}
	r.tools[tool.Name] = tool
	r.order = append(r.order, tool.Name)
	return nil
}

// Get returns a tool by exact name.
func (r *ToolRegistry) Get(name string) (*Tool, bool) {
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns all registered tools in registration order.
func (r *ToolRegistry) List() []*Tool {
	tools := make([]*Tool, 0, len(r.order))
	for _, name := range r.order {
		tools = append(tools, r.tools[name])
	}
	return tools
}

// SchemaCatalogue returns the tool schemas in registration order, ready to
// be attached to a chat request.
func (r *ToolRegistry) SchemaCatalogue() []ToolSchema {
	schemas := make([]ToolSchema, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		schemas = append(schemas, ToolSchema{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return schemas
}

// ValidateArgs checks a decoded argument map against the tool's schema.
// A validation failure is recoverable: callers turn it into a diagnostic
// tool result rather than aborting the run.
func (t *Tool) ValidateArgs(args map[string]any) error {
	if t.Parameters == nil {
		return nil
	}
	value := make(map[string]any, len(args))
	for k, v := range args {
		value[k] = v
	}
	if err := t.Parameters.VisitJSON(value); err != nil {
		return fmt.Errorf("arguments for %s failed schema validation: %w", t.Name, err)
	}
	return nil
}

// FormatToolsForPrompt generates a concise description of available tools
// for the system prompt. Compact format to reduce token usage.
func (r *ToolRegistry) FormatToolsForPrompt() string {
	var b strings.Builder
	b.WriteString("Available Tools:\n")
	for _, name := range r.order {
		tool := r.tools[name]
		var parts []string
		if tool.Parameters != nil {
			for pName, pRef := range tool.Parameters.Properties {
				pType := "any"
				if pRef.Value != nil && pRef.Value.Type != nil && len(pRef.Value.Type.Slice()) > 0 {
					pType = pRef.Value.Type.Slice()[0]
				}
				parts = append(parts, pName+":"+pType)
			}
		}
		paramsList := ""
		if len(parts) > 0 {
			paramsList = " | params: {" + strings.Join(parts, ", ") + "}"
		}
		reqParams := ""
		if tool.Parameters != nil && len(tool.Parameters.Required) > 0 {
			reqParams = " | required: " + strings.Join(tool.Parameters.Required, ", ")
		}
		fmt.Fprintf(&b, "- %s: %s%s%s\n", tool.Name, tool.Description, paramsList, reqParams)
	}
	return b.String()
}
