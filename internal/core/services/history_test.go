package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manthysbr/librarian/internal/core/domain"
)

func modelTurnWithCall(id, tool string) domain.Turn {
	return domain.ModelTurn("", []domain.ToolInvocation{{ID: id, Tool: tool, Args: map[string]any{}}})
}

func TestRepairHistoryKeepsMatchedPairs(t *testing.T) {
	history := []domain.Turn{
		domain.SystemTurn("sys"),
		domain.UserTurn("task"),
		modelTurnWithCall("call-1", "find_aw_files"),
		domain.ToolResultTurn("call-1", "find_aw_files", "listing"),
	}

	repaired := RepairHistory(history)
	require.Len(t, repaired, 4)
	assert.Equal(t, domain.RoleTool, repaired[3].Role)
}

func TestRepairHistoryDropsOrphanedResults(t *testing.T) {
	history := []domain.Turn{
		domain.UserTurn("task"),
		modelTurnWithCall("call-1", "find_aw_files"),
		domain.ToolResultTurn("call-1", "find_aw_files", "listing"),
		// answers a call the preceding model turn never declared
		domain.ToolResultTurn("call-9", "search_keywords", "hits"),
	}

	repaired := RepairHistory(history)
	require.Len(t, repaired, 3)
	for _, turn := range repaired {
		assert.NotEqual(t, "call-9", turn.InvocationID)
	}
}

func TestRepairHistoryDropsResultAfterUserTurn(t *testing.T) {
	history := []domain.Turn{
		modelTurnWithCall("call-1", "find_aw_files"),
		domain.UserTurn("interruption"),
		domain.ToolResultTurn("call-1", "find_aw_files", "listing"),
	}

	repaired := RepairHistory(history)
	require.Len(t, repaired, 2)
	assert.Equal(t, domain.RoleUser, repaired[1].Role)
}

func TestRepairHistoryIdempotent(t *testing.T) {
	history := []domain.Turn{
		domain.SystemTurn("sys"),
		modelTurnWithCall("call-1", "find_aw_files"),
		domain.ToolResultTurn("call-2", "read_aw_file", "orphan"),
		domain.ToolResultTurn("call-1", "find_aw_files", "listing"),
	}

	once := RepairHistory(history)
	twice := RepairHistory(once)
	assert.Equal(t, once, twice)
}

func TestTrimHistoryUnderBudgetIsUntouched(t *testing.T) {
	history := []domain.Turn{
		domain.SystemTurn("sys"),
		domain.UserTurn("short task"),
	}

	trimmed := TrimHistory(history, 8000)
	assert.Equal(t, history, trimmed)
}

func TestTrimHistoryDropsOldestAndRepairs(t *testing.T) {
	big := strings.Repeat("x", 2000)
	history := []domain.Turn{
		domain.SystemTurn("sys"),
		domain.UserTurn(big),
		modelTurnWithCall("call-1", "find_aw_files"),
		domain.ToolResultTurn("call-1", "find_aw_files", big),
		modelTurnWithCall("call-2", "read_aw_file"),
		domain.ToolResultTurn("call-2", "read_aw_file", big),
	}

	trimmed := TrimHistory(history, 600)

	// system turn always survives
	require.NotEmpty(t, trimmed)
	assert.Equal(t, domain.RoleSystem, trimmed[0].Role)

	// no tool result without its requesting model turn
	for i, turn := range trimmed {
		if turn.Role != domain.RoleTool {
			continue
		}
		found := false
		for j := i - 1; j >= 0; j-- {
			if trimmed[j].Role == domain.RoleModel {
				found = trimmed[j].DeclaresInvocation(turn.InvocationID)
				break
			}
			if trimmed[j].Role != domain.RoleTool {
				break
			}
		}
		assert.True(t, found, "tool result %s lost its model turn", turn.InvocationID)
	}
}

func TestTrimHistoryKeepsTaskPrompt(t *testing.T) {
	big := strings.Repeat("z", 4000)
	history := []domain.Turn{
		domain.SystemTurn("sys"),
		domain.UserTurn("match this step against the corpus"),
		modelTurnWithCall("call-1", "search_keywords"),
		domain.ToolResultTurn("call-1", "search_keywords", big),
		modelTurnWithCall("call-2", "read_aw_file"),
		domain.ToolResultTurn("call-2", "read_aw_file", big),
	}

	trimmed := TrimHistory(history, 300)

	require.GreaterOrEqual(t, len(trimmed), 2)
	assert.Equal(t, domain.RoleSystem, trimmed[0].Role)
	assert.Equal(t, domain.RoleUser, trimmed[1].Role)
	assert.Equal(t, "match this step against the corpus", trimmed[1].Content)
}

func TestTrimHistoryAlwaysKeepsNewestTurn(t *testing.T) {
	big := strings.Repeat("y", 10000)
	history := []domain.Turn{
		domain.UserTurn(big),
		domain.UserTurn("the newest turn"),
	}

	trimmed := TrimHistory(history, 50)
	require.NotEmpty(t, trimmed)
	assert.Equal(t, "the newest turn", trimmed[len(trimmed)-1].Content)
}
