package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manthysbr/librarian/internal/core/domain"
)

// memoryRepo is an in-memory ports.Repository for runner tests.
type memoryRepo struct {
	mu   sync.Mutex
	runs map[domain.RunID]*domain.MatchRun
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{runs: make(map[domain.RunID]*domain.MatchRun)}
}

func (r *memoryRepo) SaveRun(_ context.Context, run *domain.MatchRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *run
	r.runs[run.ID] = &clone
	return nil
}

func (r *memoryRepo) GetRun(_ context.Context, id domain.RunID) (*domain.MatchRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}
	return run, nil
}

func (r *memoryRepo) ListRuns(_ context.Context, limit int) ([]*domain.MatchRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.MatchRun
	for _, run := range r.runs {
		out = append(out, run)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *memoryRepo) GetSetting(_ context.Context, _ string) (string, error) { return "", nil }
func (r *memoryRepo) SaveSetting(_ context.Context, _, _ string) error      { return nil }

func testDocument() domain.IntentDocument {
	return domain.IntentDocument{
		BDDFlow: map[domain.BDDPhase][]domain.Step{
			domain.PhaseGiven: {
				{StepID: "g-1", Description: "a project named demo exists", ActionType: "API_CALL"},
			},
			domain.PhaseWhen: {
				{StepID: "w-1", Description: "the user deletes branch dev", ActionType: "API_CALL"},
			},
			domain.PhaseThen: {
				{StepID: "t-1", Description: "the branch list no longer contains dev", CheckType: "API_CHECK"},
			},
		},
	}
}

func answerOnlyModel() *scriptedModel {
	return &scriptedModel{} // falls through to the default empty-array answer
}

func TestRunnerMatchesAllStepsInDocumentOrder(t *testing.T) {
	model := answerOnlyModel()
	matcher := newTestMatcher(model, echoRegistry(t), domain.DefaultLoopConfig())
	repo := newMemoryRepo()
	runner := NewRunner(matcher, repo, "/corpus", 2, testLogger())

	run, err := runner.Run(context.Background(), testDocument())
	require.NoError(t, err)

	assert.Equal(t, domain.RunStatusOK, run.Status)
	require.NotNil(t, run.FinishedAt)
	require.Len(t, run.Results, 3)
	assert.Equal(t, domain.StepID("g-1"), run.Results[0].StepID)
	assert.Equal(t, domain.StepID("w-1"), run.Results[1].StepID)
	assert.Equal(t, domain.StepID("t-1"), run.Results[2].StepID)
	assert.Equal(t, domain.PhaseGiven, run.Results[0].Phase)
	assert.Equal(t, "API_CHECK", run.Results[2].ActionType)
}

func TestRunnerPersistsRun(t *testing.T) {
	matcher := newTestMatcher(answerOnlyModel(), echoRegistry(t), domain.DefaultLoopConfig())
	repo := newMemoryRepo()
	runner := NewRunner(matcher, repo, "/corpus", 2, testLogger())

	run, err := runner.Run(context.Background(), testDocument())
	require.NoError(t, err)

	stored, err := repo.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusOK, stored.Status)
	assert.Len(t, stored.Results, 3)
}

func TestRunnerIsolatesFailingSteps(t *testing.T) {
	// every model call fails, so every step fails, but each failure stays
	// inside its own result
	model := &scriptedModel{errs: make([]error, 8)}
	for i := range model.errs {
		model.errs[i] = assert.AnError
	}
	matcher := newTestMatcher(model, echoRegistry(t), domain.DefaultLoopConfig())
	runner := NewRunner(matcher, nil, "/corpus", 1, testLogger())

	run, err := runner.Run(context.Background(), testDocument())
	require.NoError(t, err)

	assert.Equal(t, domain.RunStatusError, run.Status)
	require.Len(t, run.Results, 3)
	for _, res := range run.Results {
		assert.NotEmpty(t, res.Err)
	}
}

func TestRunnerCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	matcher := newTestMatcher(answerOnlyModel(), echoRegistry(t), domain.DefaultLoopConfig())
	runner := NewRunner(matcher, nil, "/corpus", 2, testLogger())

	run, err := runner.Run(ctx, testDocument())
	assert.ErrorIs(t, err, domain.ErrCancelled)
	require.NotNil(t, run)
	assert.Equal(t, domain.RunStatusError, run.Status)
}

func TestRunnerEmptyDocument(t *testing.T) {
	matcher := newTestMatcher(answerOnlyModel(), echoRegistry(t), domain.DefaultLoopConfig())
	runner := NewRunner(matcher, nil, "/corpus", 2, testLogger())

	run, err := runner.Run(context.Background(), domain.IntentDocument{})
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusOK, run.Status)
	assert.Empty(t, run.Results)
}
