package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/manthysbr/librarian/internal/core/domain"
	"github.com/manthysbr/librarian/internal/core/ports"
)

// OllamaModel implements the chat port for a local Ollama instance using
// its native /api/chat endpoint. Ollama sends tool-call arguments as JSON
// objects, not strings.
type OllamaModel struct {
	baseURL string
	client  *http.Client
	model   string
}

func NewOllamaModel(baseURL, model string) *OllamaModel {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "qwen3:8b"
	}
	return &OllamaModel{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 120 * time.Second},
		model:   model,
	}
}

func (m *OllamaModel) ModelID() string { return m.model }

type ollamaChatRequest struct {
	Model    string           `json:"model"`
	Messages []map[string]any `json:"messages"`
	Tools    []map[string]any `json:"tools,omitempty"`
	Stream   bool             `json:"stream"`
}

type ollamaChatResponse struct {
	Message struct {
		Content   string `json:"content"`
		ToolCalls []struct {
			Function struct {
				Name      string          `json:"name"`
				Arguments json.RawMessage `json:"arguments"`
			} `json:"function"`
		} `json:"tool_calls"`
	} `json:"message"`
	Done bool `json:"done"`
}

func (m *OllamaModel) post(ctx context.Context, req ports.ChatRequest) ([]byte, error) {
	model := req.Model
	if model == "" {
		model = m.model
	}
	reqBody := ollamaChatRequest{
		Model:    model,
		Messages: wireMessages(req.Turns),
		Stream:   false,
	}
	if len(req.Tools) > 0 {
		reqBody.Tools = wireTools(req.Tools)
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", m.baseURL+"/api/chat", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama connection failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama returned status: %d", resp.StatusCode)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return buf.Bytes(), nil
}

func (m *OllamaModel) Chat(ctx context.Context, req ports.ChatRequest) (*ports.ModelOutput, error) {
	body, err := m.post(ctx, req)
	if err != nil {
		return nil, err
	}

	var chatResp ollamaChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrResponseSchema, err)
	}

	out := &ports.ModelOutput{Content: chatResp.Message.Content}
	for _, tc := range chatResp.Message.ToolCalls {
		if tc.Function.Name == "" {
			continue
		}
		out.ToolCalls = append(out.ToolCalls, ports.RawToolCall{
			Name: tc.Function.Name,
			Args: tc.Function.Arguments,
		})
	}
	return out, nil
}

func (m *OllamaModel) ChatRaw(ctx context.Context, req ports.ChatRequest) (*ports.ModelOutput, error) {
	body, err := m.post(ctx, req)
	if err != nil {
		return nil, err
	}

	var result map[string]any
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	message, _ := result["message"].(map[string]any)
	if message == nil {
		return nil, fmt.Errorf("no message in response")
	}
	content, _ := message["content"].(string)
	return &ports.ModelOutput{Content: content, Extra: message}, nil
}
