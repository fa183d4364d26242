package services

import (
	"encoding/json"
	"fmt"

	"github.com/manthysbr/librarian/internal/core/domain"
)

// Prompt construction for the matcher loop. The system prompt sets up the
// ReAct-style search discipline and the final JSON contract; the task
// prompt carries one BDD step.

const librarianSystemTemplate = `You are the Librarian, a senior test automation specialist. Your job is to find the action word (AW) definitions in a local markdown knowledge base that best match a given BDD test step.

## Corpus root
%s

## Available tools
%s

## How to work (ReAct)

Round 1, explore: analyse the step's action_type and the key entities in its description, then call find_aw_files to learn the corpus layout and search_keywords to search for those entities.
Round 2, verify: read the most promising files with read_aw_file or extract_aw_metadata and check that their parameters and purpose fit the step.
Round 3, decide: either output the candidate list, or keep searching if the evidence is still thin.

## Rules

1. Always verify through tools. Never guess an AW id from memory.
2. Analyse each tool result before deciding the next move.
3. Do not repeat a search that already returned nothing. Switch strategy instead: different keywords, synonyms, broader terms, or reading the file listing directly.
4. Multiple keywords may be searched at once, comma separated, e.g. "project,branch,create".
5. If no precise match exists after several attempts, a generic rawApiCall AW may serve as the fallback for API steps.

## Final output

When the search is done, output the candidates as a JSON array:

` + "```json\n" + `[
  {
    "aw_id": "aw_createProject",
    "aw_name": "Create project",
    "parameters": [{"name": "projectName", "type": "string"}],
    "reason": "the step creates a project and this AW does exactly that",
    "confidence": 0.9
  }
]
` + "```" + `

If nothing matches, return an empty array [] and say why.`

// BuildSystemPrompt renders the librarian system prompt for a corpus root
// and the registered tool catalogue.
func BuildSystemPrompt(corpusRoot string, registry *domain.ToolRegistry) string {
	return fmt.Sprintf(librarianSystemTemplate, corpusRoot, registry.FormatToolsForPrompt())
}

// BuildTaskPrompt renders the opening user turn for one BDD step.
func BuildTaskPrompt(step domain.Step) string {
	payload, _ := json.MarshalIndent(step, "", "  ")
	return fmt.Sprintf(`## Task: find candidate AWs for this BDD test step

`+"```json\n%s\n```"+`

### Proceed like this:
1. Analyse the step: identify the action_type and the key entities (project, branch, API, ...).
2. Search the corpus with the tools.
3. Verify the matches: read candidate AW details and confirm parameters and purpose.
4. Output the result as a JSON candidate array.

Start by analysing the step, then call a search tool.`, payload)
}

// exhaustedAnswer is the synthetic closing turn used when the iteration
// bound stops the search before the model volunteered an answer.
const exhaustedAnswer = "Search budget exhausted without a confirmed match.\n```json\n[]\n```"
