package services

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/manthysbr/librarian/internal/core/domain"
)

// Candidate extraction: pulls the final ranked action-word candidates out
// of the model's closing answer. Mirrors the normalizer's posture: try
// the well-formed shape first, then progressively looser scrapes, and
// treat total failure as an empty result rather than an error.

// ExtractCandidates parses the model's extraction answer into candidates,
// filters out entries without a usable action-word id, and truncates to
// the top n. An answer with no parseable candidates yields an empty
// slice, not an error.
func ExtractCandidates(answer string, topN int) []domain.Candidate {
	raw := parseCandidateList(answer)
	candidates := make([]domain.Candidate, 0, len(raw))
	for _, item := range raw {
		c, ok := candidateFromItem(item)
		if !ok {
			continue
		}
		candidates = append(candidates, c)
	}
	if topN > 0 && len(candidates) > topN {
		candidates = candidates[:topN]
	}
	return candidates
}

// parseCandidateList locates the JSON payload in the answer: a fenced
// ```json block, then any fenced block opening with [ or {, then the
// first balanced array, then a bare top-level array.
func parseCandidateList(answer string) []map[string]any {
	for _, m := range fencedJSONRe.FindAllStringSubmatch(answer, -1) {
		if list := decodeCandidateJSON(strings.TrimSpace(m[1])); list != nil {
			return list
		}
	}
	for _, m := range anyFencedRe.FindAllStringSubmatch(answer, -1) {
		body := strings.TrimSpace(m[1])
		if strings.HasPrefix(body, "[") || strings.HasPrefix(body, "{") {
			if list := decodeCandidateJSON(body); list != nil {
				return list
			}
		}
	}
	if blob, ok := firstBalancedBlock(answer, '[', ']'); ok {
		if list := decodeCandidateJSON(blob); list != nil {
			return list
		}
	}
	if body := strings.TrimSpace(answer); strings.HasPrefix(body, "[") {
		if list := decodeCandidateJSON(body); list != nil {
			return list
		}
	}
	return nil
}

var anyFencedRe = regexp.MustCompile("```[a-zA-Z]*\\s*\\n?([\\s\\S]*?)\\n?```")

func decodeCandidateJSON(body string) []map[string]any {
	var arr []map[string]any
	if err := json.Unmarshal([]byte(body), &arr); err == nil {
		return arr
	}
	var single map[string]any
	if err := json.Unmarshal([]byte(body), &single); err == nil && single != nil {
		// Some models wrap the list in an envelope object.
		for _, key := range []string{"candidates", "results", "matches"} {
			wrapped, ok := single[key].([]any)
			if !ok {
				continue
			}
			list := make([]map[string]any, 0, len(wrapped))
			for _, item := range wrapped {
				if m, ok := item.(map[string]any); ok {
					list = append(list, m)
				}
			}
			if len(list) > 0 {
				return list
			}
		}
		return []map[string]any{single}
	}
	return nil
}

// candidateFromItem maps one parsed object onto a Candidate. An entry
// needs either an action-word id or a name (the id is backfilled from
// the name when missing); "unknown" placeholders are discarded.
func candidateFromItem(item map[string]any) (domain.Candidate, bool) {
	awID := stringField(item, "aw_id", "id")
	awName := stringField(item, "aw_name", "name")
	if awID == "" {
		awID = awName
	}
	if awID == "" || strings.EqualFold(awID, "unknown") {
		return domain.Candidate{}, false
	}
	c := domain.Candidate{
		AWID:   awID,
		AWName: awName,
		Reason: stringField(item, "reason", "rationale"),
	}
	if conf, ok := item["confidence"].(float64); ok {
		c.Confidence = conf
	}
	if params, ok := item["parameters"].([]any); ok {
		for _, p := range params {
			pm, ok := p.(map[string]any)
			if !ok {
				continue
			}
			name := stringField(pm, "name")
			if name == "" {
				continue
			}
			c.Parameters = append(c.Parameters, domain.CandidateParam{
				Name:   name,
				Type:   stringField(pm, "type"),
				Reason: stringField(pm, "reason"),
			})
		}
	}
	return c, true
}

func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}
