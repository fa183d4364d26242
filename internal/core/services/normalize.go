package services

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/manthysbr/librarian/internal/core/domain"
	"github.com/manthysbr/librarian/internal/core/ports"
)

// Response normalization: converts a raw provider output (well-formed,
// partially malformed, or plain text) into a canonical set of tool
// invocations. Strategies are tried in a fixed order and the first one
// that yields at least one invocation wins; the text-scraping fallbacks
// are never reached when the structured fields decode.

// normalizeStrategy is one pure decoding attempt over the provider output.
type normalizeStrategy func(out *ports.ModelOutput) []domain.ToolInvocation

var normalizeStrategies = []normalizeStrategy{
	invocationsFromStructured,
	invocationsFromSideChannel,
	invocationsFromFencedJSON,
	invocationsFromMarker,
	invocationsFromFirstArray,
}

// NormalizeResponse produces the canonical (text, invocations) pair for a
// model output. Every discovered invocation gets an id when the source did
// not supply one. Returns domain.ErrUnparseableResponse only when the
// output carries neither text nor any decodable invocation; callers treat
// that as zero invocations.
func NormalizeResponse(out *ports.ModelOutput) (string, []domain.ToolInvocation, error) {
	if out == nil {
		return "", nil, domain.ErrUnparseableResponse
	}
	for _, strategy := range normalizeStrategies {
		if invs := strategy(out); len(invs) > 0 {
			return out.Content, assignInvocationIDs(invs), nil
		}
	}
	if strings.TrimSpace(out.Content) == "" {
		return "", nil, domain.ErrUnparseableResponse
	}
	return out.Content, nil, nil
}

func assignInvocationIDs(invs []domain.ToolInvocation) []domain.ToolInvocation {
	for i := range invs {
		if invs[i].ID == "" {
			invs[i].ID = domain.NewInvocationID()
		}
	}
	return invs
}

// decodeArgMap turns whatever the provider put in an arguments field into a
// decoded mapping. A JSON-encoded string of an object is decoded a second
// time: one upstream provider is known to double-encode arguments, so this
// is a required normalization step, not cleanup. Undecodable payloads
// collapse to an empty mapping (recoverable; schema validation reports the
// miss back to the model).
func decodeArgMap(v any) map[string]any {
	switch args := v.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		return args
	case string:
		var m map[string]any
		if err := json.Unmarshal([]byte(args), &m); err == nil && m != nil {
			return m
		}
		return map[string]any{}
	default:
		return map[string]any{}
	}
}

// decodeRawArgs decodes a raw JSON arguments payload, including the
// double-encoded string case.
func decodeRawArgs(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return map[string]any{}
	}
	return decodeArgMap(v)
}

// Strategy 1: the provider filled the primary structured tool-call field.
func invocationsFromStructured(out *ports.ModelOutput) []domain.ToolInvocation {
	var invs []domain.ToolInvocation
	for _, tc := range out.ToolCalls {
		if tc.Name == "" {
			continue
		}
		invs = append(invs, domain.ToolInvocation{
			ID:   tc.ID,
			Tool: tc.Name,
			Args: decodeRawArgs(tc.Args),
		})
	}
	return invs
}

// Strategy 2: some API formats carry tool calls in the raw message extras
// instead of the primary field (OpenAI wire shape under "tool_calls").
func invocationsFromSideChannel(out *ports.ModelOutput) []domain.ToolInvocation {
	rawCalls, ok := out.Extra["tool_calls"].([]any)
	if !ok {
		return nil
	}
	var invs []domain.ToolInvocation
	for _, rc := range rawCalls {
		item, ok := rc.(map[string]any)
		if !ok {
			continue
		}
		if inv, ok := invocationFromItem(item); ok {
			invs = append(invs, inv)
		}
	}
	return invs
}

// invocationFromItem accepts both tool-call object shapes:
// {function: {name, arguments}} and flat {name|tool_name, arguments|args}.
func invocationFromItem(item map[string]any) (domain.ToolInvocation, bool) {
	name := ""
	var args any
	if fn, ok := item["function"].(map[string]any); ok {
		name, _ = fn["name"].(string)
		args = fn["arguments"]
	} else {
		if n, ok := item["name"].(string); ok {
			name = n
		} else if n, ok := item["tool_name"].(string); ok {
			name = n
		}
		args = item["arguments"]
		if args == nil {
			args = item["args"]
		}
	}
	if name == "" {
		return domain.ToolInvocation{}, false
	}
	id, _ := item["id"].(string)
	return domain.ToolInvocation{ID: id, Tool: name, Args: decodeArgMap(args)}, true
}

var fencedJSONRe = regexp.MustCompile("```json\\s*\\n?([\\s\\S]*?)\\n?```")

// Strategy 3a: a fenced ```json block containing an array of tool-call objects.
func invocationsFromFencedJSON(out *ports.ModelOutput) []domain.ToolInvocation {
	var invs []domain.ToolInvocation
	for _, m := range fencedJSONRe.FindAllStringSubmatch(out.Content, -1) {
		var parsed []any
		if err := json.Unmarshal([]byte(strings.TrimSpace(m[1])), &parsed); err != nil {
			continue
		}
		for _, p := range parsed {
			item, ok := p.(map[string]any)
			if !ok {
				continue
			}
			if inv, ok := invocationFromItem(item); ok {
				invs = append(invs, inv)
			}
		}
	}
	return invs
}

var markerCallRe = regexp.MustCompile("function<[^>]*>\\s*(\\w+)\\s*```(?:json)?\\s*([\\s\\S]*?)```")

// Strategy 3b: the marker shape `function<sep>tool_name` followed by a
// fenced argument blob, emitted by some reasoning models instead of a
// structured call.
func invocationsFromMarker(out *ports.ModelOutput) []domain.ToolInvocation {
	var invs []domain.ToolInvocation
	for _, m := range markerCallRe.FindAllStringSubmatch(out.Content, -1) {
		var args map[string]any
		if err := json.Unmarshal([]byte(strings.TrimSpace(m[2])), &args); err != nil {
			continue
		}
		invs = append(invs, domain.ToolInvocation{Tool: m[1], Args: args})
	}
	return invs
}

// Strategy 3c: the first balanced top-level JSON array anywhere in the
// text. Broad last-resort heuristic, kept at the lowest priority so
// bracketed prose cannot outrank the structured strategies.
func invocationsFromFirstArray(out *ports.ModelOutput) []domain.ToolInvocation {
	blob, ok := firstBalancedBlock(out.Content, '[', ']')
	if !ok {
		return nil
	}
	var parsed []any
	if err := json.Unmarshal([]byte(blob), &parsed); err != nil {
		return nil
	}
	var invs []domain.ToolInvocation
	for _, p := range parsed {
		item, ok := p.(map[string]any)
		if !ok {
			continue
		}
		name, _ := item["name"].(string)
		if name == "" {
			continue
		}
		args := item["arguments"]
		if args == nil {
			args = item["args"]
		}
		invs = append(invs, domain.ToolInvocation{Tool: name, Args: decodeArgMap(args)})
	}
	return invs
}

// firstBalancedBlock returns the first balanced open..close block in s,
// counting depth outside of string literals and honoring escapes.
func firstBalancedBlock(s string, open, close byte) (string, bool) {
	start := strings.IndexByte(s, open)
	if start < 0 {
		return "", false
	}
	depth := 0
	inStr := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case ch == '\\' && inStr:
			escaped = true
		case ch == '"':
			inStr = !inStr
		case inStr:
		case ch == open:
			depth++
		case ch == close:
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
