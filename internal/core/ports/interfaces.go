package ports

import (
	"context"
	"encoding/json"

	"github.com/manthysbr/librarian/internal/core/domain"
)

// ChatRequest is a provider-agnostic chat-with-tools request: the ordered
// conversation history plus the tool schema catalogue.
type ChatRequest struct {
	Model string
	Turns []domain.Turn
	Tools []domain.ToolSchema
}

// RawToolCall is a tool call as the provider returned it, before
// normalization. Args stays raw because providers disagree on whether it is
// a JSON object or a JSON-encoded string of one.
type RawToolCall struct {
	ID   string
	Name string
	Args json.RawMessage
}

// ModelOutput is one model turn as returned by a provider: assistant text,
// the structured tool calls (if the provider filled the primary field), and
// the raw message fields for side-channel decoding.
type ModelOutput struct {
	Content   string
	ToolCalls []RawToolCall
	Extra     map[string]any
}

// ChatModel abstracts the "chat completion with tool calling" capability.
//
// Chat is the strict path: the adapter decodes the payload into its typed
// shape and fails with domain.ErrResponseSchema when the provider violates
// it (a known incompatibility of some OpenAI-compatible backends).
// ChatRaw bypasses the typed decode entirely and recovers whatever it can
// from the raw payload; the loop uses it as a one-shot fallback.
type ChatModel interface {
	Chat(ctx context.Context, req ChatRequest) (*ModelOutput, error)
	ChatRaw(ctx context.Context, req ChatRequest) (*ModelOutput, error)

	// ModelID returns the model identifier used for the run envelope.
	ModelID() string
}

// Repository abstracts the persistent storage (DuckDB)
type Repository interface {
	// Runs
	SaveRun(ctx context.Context, run *domain.MatchRun) error
	GetRun(ctx context.Context, id domain.RunID) (*domain.MatchRun, error)
	ListRuns(ctx context.Context, limit int) ([]*domain.MatchRun, error)

	// Settings
	GetSetting(ctx context.Context, key string) (string, error)
	SaveSetting(ctx context.Context, key string, value string) error
}
