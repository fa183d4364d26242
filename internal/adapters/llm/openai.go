package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/manthysbr/librarian/internal/core/domain"
	"github.com/manthysbr/librarian/internal/core/ports"
)

// OpenAIModel implements the chat port against an OpenAI-compatible API.
// Works with: OpenAI, Azure OpenAI, DashScope compatible-mode, local
// Ollama /v1, etc.
type OpenAIModel struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
}

// NewOpenAIModel creates a new OpenAI-compatible chat model.
func NewOpenAIModel(baseURL, apiKey, model string) *OpenAIModel {
	if model == "" {
		model = "gpt-4o-mini"
	}

	return &OpenAIModel{
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
	}
}

func (m *OpenAIModel) ModelID() string { return m.model }

// wireMessages converts conversation turns to the chat completions shape.
func wireMessages(turns []domain.Turn) []map[string]any {
	messages := make([]map[string]any, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case domain.RoleSystem:
			messages = append(messages, map[string]any{"role": "system", "content": t.Content})
		case domain.RoleUser:
			messages = append(messages, map[string]any{"role": "user", "content": t.Content})
		case domain.RoleModel:
			msg := map[string]any{"role": "assistant", "content": t.Content}
			if len(t.Invocations) > 0 {
				calls := make([]map[string]any, 0, len(t.Invocations))
				for _, inv := range t.Invocations {
					args, err := json.Marshal(inv.Args)
					if err != nil {
						args = []byte("{}")
					}
					calls = append(calls, map[string]any{
						"id":   inv.ID,
						"type": "function",
						"function": map[string]any{
							"name":      inv.Tool,
							"arguments": string(args),
						},
					})
				}
				msg["tool_calls"] = calls
			}
			messages = append(messages, msg)
		case domain.RoleTool:
			messages = append(messages, map[string]any{
				"role":         "tool",
				"tool_call_id": t.InvocationID,
				"name":         t.ToolName,
				"content":      t.Content,
			})
		}
	}
	return messages
}

func wireTools(tools []domain.ToolSchema) []map[string]any {
	out := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		out = append(out, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return out
}

func (m *OpenAIModel) post(ctx context.Context, req ports.ChatRequest) ([]byte, error) {
	model := req.Model
	if model == "" {
		model = m.model
	}
	payload := map[string]any{
		"model":    model,
		"messages": wireMessages(req.Turns),
		"stream":   false,
	}
	if len(req.Tools) > 0 {
		payload["tools"] = wireTools(req.Tools)
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", m.baseURL+"/chat/completions", bytes.NewReader(payloadBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if m.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+m.apiKey)
	}

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// Chat calls the completions endpoint and decodes the response against
// the documented wire shape. Providers that bend the shape (arguments as
// an object instead of a string, exotic content types) fail with
// domain.ErrResponseSchema so the caller can retry through ChatRaw.
func (m *OpenAIModel) Chat(ctx context.Context, req ports.ChatRequest) (*ports.ModelOutput, error) {
	body, err := m.post(ctx, req)
	if err != nil {
		return nil, err
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content   string `json:"content"`
				ToolCalls []struct {
					ID       string `json:"id"`
					Function struct {
						Name      string `json:"name"`
						Arguments string `json:"arguments"`
					} `json:"function"`
				} `json:"tool_calls"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrResponseSchema, err)
	}
	if len(result.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices in response", domain.ErrResponseSchema)
	}

	msg := result.Choices[0].Message
	out := &ports.ModelOutput{Content: msg.Content}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ports.RawToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: json.RawMessage(tc.Function.Arguments),
		})
	}
	return out, nil
}

// ChatRaw repeats the call but decodes the body as loose maps, keeping
// whatever the provider actually sent in the output extras. Some
// reasoning models return tool-call shapes the strict decoder refuses;
// the normalizer sorts them out downstream.
func (m *OpenAIModel) ChatRaw(ctx context.Context, req ports.ChatRequest) (*ports.ModelOutput, error) {
	body, err := m.post(ctx, req)
	if err != nil {
		return nil, err
	}

	var result map[string]any
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	choices, _ := result["choices"].([]any)
	if len(choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}
	choice, _ := choices[0].(map[string]any)
	message, _ := choice["message"].(map[string]any)
	if message == nil {
		return nil, fmt.Errorf("no message in response")
	}

	content, _ := message["content"].(string)
	return &ports.ModelOutput{Content: content, Extra: message}, nil
}
