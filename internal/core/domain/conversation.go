package domain

import (
	"crypto/rand"
	"encoding/hex"
)

// TurnRole defines who authored a turn in the matching conversation
type TurnRole string

const (
	RoleSystem TurnRole = "system"
	RoleUser   TurnRole = "user"
	RoleModel  TurnRole = "model"
	RoleTool   TurnRole = "tool"
)

// ToolInvocation is a structured request, emitted by the model, to execute
// one registered corpus tool. Args is the decoded argument mapping.
type ToolInvocation struct {
	ID   string         `json:"id"`
	Tool string         `json:"tool"`
	Args map[string]any `json:"args,omitempty"`
}

// Turn is a single entry in the conversation history. Exactly one variant:
//   - RoleSystem / RoleUser: Content only
//   - RoleModel: Content plus zero or more requested Invocations
//   - RoleTool: Content (the tool's textual result) plus the InvocationID it answers
//
// Turns are immutable once appended; the history is append-only and owned
// by a single loop run.
type Turn struct {
	Role         TurnRole         `json:"role"`
	Content      string           `json:"content"`
	Invocations  []ToolInvocation `json:"invocations,omitempty"`
	InvocationID string           `json:"invocation_id,omitempty"`
	ToolName     string           `json:"tool_name,omitempty"`
}

// SystemTurn builds a system turn.
func SystemTurn(content string) Turn {
	return Turn{Role: RoleSystem, Content: content}
}

// UserTurn builds a user turn.
func UserTurn(content string) Turn {
	return Turn{Role: RoleUser, Content: content}
}

// ModelTurn builds a model turn carrying the requested invocations.
func ModelTurn(content string, invocations []ToolInvocation) Turn {
	return Turn{Role: RoleModel, Content: content, Invocations: invocations}
}

// ToolResultTurn builds a tool-result turn answering the given invocation.
func ToolResultTurn(invocationID, toolName, content string) Turn {
	return Turn{Role: RoleTool, Content: content, InvocationID: invocationID, ToolName: toolName}
}

// RequestsTools reports whether a model turn asked for at least one tool.
func (t Turn) RequestsTools() bool {
	return t.Role == RoleModel && len(t.Invocations) > 0
}

// DeclaresInvocation reports whether a model turn requested the given invocation id.
func (t Turn) DeclaresInvocation(id string) bool {
	if t.Role != RoleModel {
		return false
	}
	for _, inv := range t.Invocations {
		if inv.ID == id {
			return true
		}
	}
	return false
}

// NewInvocationID generates a compact random invocation ID (call-<12 hex>).
// Used when the model's response did not carry an id of its own.
func NewInvocationID() string {
	b := make([]byte, 6)
	_, _ = rand.Read(b)
	return "call-" + hex.EncodeToString(b)
}
