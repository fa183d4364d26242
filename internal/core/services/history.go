package services

import (
	"github.com/manthysbr/librarian/internal/core/domain"
)

// History maintenance. Two concerns live here: keeping the conversation
// inside the provider's context budget, and repairing the structural
// invariant that every tool-result turn answers a tool request declared by
// the immediately preceding model turn. Trimming can orphan results, so
// RepairHistory runs after every trim and before every model call.

// approximate chars-per-token ratio used for budgeting without a tokenizer
const charsPerToken = 4

// estimateTokens gives a cheap upper-ish bound on the token footprint of a
// turn, counting serialized invocations alongside the content.
func estimateTokens(t domain.Turn) int {
	n := len(t.Content)
	for _, inv := range t.Invocations {
		n += len(inv.Tool) + 32
		for k, v := range inv.Args {
			n += len(k) + 8
			if s, ok := v.(string); ok {
				n += len(s)
			} else {
				n += 16
			}
		}
	}
	return n/charsPerToken + 4
}

// TrimHistory drops the oldest turns until the estimated token footprint
// fits maxTokens, then repairs whatever the cut orphaned. System turns,
// the first user turn (the task prompt) and the most recent turn always
// survive.
func TrimHistory(history []domain.Turn, maxTokens int) []domain.Turn {
	if maxTokens <= 0 {
		return RepairHistory(history)
	}
	total := 0
	for _, t := range history {
		total += estimateTokens(t)
	}
	if total <= maxTokens {
		return RepairHistory(history)
	}

	var pinned []domain.Turn
	var rest []domain.Turn
	seenUser := false
	for _, t := range history {
		switch {
		case t.Role == domain.RoleSystem:
			pinned = append(pinned, t)
		case t.Role == domain.RoleUser && !seenUser:
			seenUser = true
			pinned = append(pinned, t)
		default:
			rest = append(rest, t)
		}
	}
	budget := maxTokens
	for _, t := range pinned {
		budget -= estimateTokens(t)
	}

	// walk backwards keeping the newest turns that fit
	kept := 0
	used := 0
	for i := len(rest) - 1; i >= 0; i-- {
		cost := estimateTokens(rest[i])
		if used+cost > budget && kept > 0 {
			break
		}
		used += cost
		kept++
	}
	trimmed := make([]domain.Turn, 0, len(pinned)+kept)
	trimmed = append(trimmed, pinned...)
	trimmed = append(trimmed, rest[len(rest)-kept:]...)
	return RepairHistory(trimmed)
}

// RepairHistory removes tool-result turns whose invocation id is not
// declared by the closest preceding model turn. Orphans appear when
// trimming cuts a model turn away from its results, or when a provider
// round-trip drops the request side. Idempotent: repairing a repaired
// history changes nothing.
func RepairHistory(history []domain.Turn) []domain.Turn {
	repaired := make([]domain.Turn, 0, len(history))
	var lastModel *domain.Turn
	for _, t := range history {
		switch t.Role {
		case domain.RoleModel:
			tt := t
			lastModel = &tt
			repaired = append(repaired, t)
		case domain.RoleTool:
			if lastModel != nil && lastModel.DeclaresInvocation(t.InvocationID) {
				repaired = append(repaired, t)
			}
		default:
			lastModel = nil
			repaired = append(repaired, t)
		}
	}
	return repaired
}
