package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/manthysbr/librarian/internal/core/domain"
	"github.com/manthysbr/librarian/internal/core/ports"
)

// Runner executes a whole intent document: every step of every BDD phase
// gets its own matcher loop, fanned out under a concurrency cap. Steps
// are isolated; one failing step never aborts its siblings.
type Runner struct {
	matcher *Matcher
	repo    ports.Repository
	logger  *slog.Logger
	sem     *semaphore.Weighted
	modelID string
	corpus  string
}

// NewRunner builds a runner. repo may be nil; runs are then not persisted.
func NewRunner(matcher *Matcher, repo ports.Repository, corpusPath string, maxConcurrent int, logger *slog.Logger) *Runner {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Runner{
		matcher: matcher,
		repo:    repo,
		logger:  logger,
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		modelID: matcher.model.ModelID(),
		corpus:  corpusPath,
	}
}

// Run matches all steps of the document and returns the finished run
// envelope. The returned error is reserved for whole-run faults such as
// cancellation; per-step failures land in the step results.
func (r *Runner) Run(ctx context.Context, doc domain.IntentDocument) (*domain.MatchRun, error) {
	run := &domain.MatchRun{
		ID:         domain.RunID("run-" + uuid.NewString()),
		Model:      r.modelID,
		CorpusPath: r.corpus,
		Status:     domain.RunStatusRunning,
		CreatedAt:  time.Now().UTC(),
	}
	steps := doc.Steps()
	r.logger.Info("starting match run", "run_id", run.ID, "steps", len(steps), "model", run.Model)
	r.saveRun(ctx, run)

	results := make([]domain.StepResult, len(steps))
	var wg sync.WaitGroup
	for i, step := range steps {
		wg.Add(1)
		go func(i int, step domain.Step) {
			defer wg.Done()
			if err := r.sem.Acquire(ctx, 1); err != nil {
				results[i] = domain.StepResult{
					StepID:      step.StepID,
					Description: step.Description,
					ActionType:  step.TypeTag(),
					Phase:       step.Phase,
					Err:         fmt.Sprintf("%v: %v", domain.ErrCancelled, err),
				}
				return
			}
			defer r.sem.Release(1)

			res, err := r.matcher.MatchStep(ctx, step)
			if err != nil {
				r.logger.Error("step failed", "run_id", run.ID, "step_id", step.StepID, "error", err)
				results[i] = domain.StepResult{
					StepID:      step.StepID,
					Description: step.Description,
					ActionType:  step.TypeTag(),
					Phase:       step.Phase,
					Err:         err.Error(),
				}
				return
			}
			results[i] = *res
		}(i, step)
	}
	wg.Wait()

	run.Results = results
	now := time.Now().UTC()
	run.FinishedAt = &now
	run.Status = runStatus(ctx, results)
	r.logger.Info("match run finished", "run_id", run.ID, "status", run.Status)
	r.saveRun(ctx, run)

	if err := ctx.Err(); err != nil {
		return run, fmt.Errorf("%w: %v", domain.ErrCancelled, err)
	}
	return run, nil
}

// runStatus marks the run as failed only when cancellation hit or no step
// produced a usable result.
func runStatus(ctx context.Context, results []domain.StepResult) domain.RunStatus {
	if ctx.Err() != nil {
		return domain.RunStatusError
	}
	if len(results) == 0 {
		return domain.RunStatusOK
	}
	for _, res := range results {
		if res.Err == "" {
			return domain.RunStatusOK
		}
	}
	return domain.RunStatusError
}

func (r *Runner) saveRun(ctx context.Context, run *domain.MatchRun) {
	if r.repo == nil {
		return
	}
	// persistence uses its own short deadline so a cancelled run still lands
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.repo.SaveRun(saveCtx, run); err != nil {
		r.logger.Error("failed to persist run", "run_id", run.ID, "error", err)
	}
}
