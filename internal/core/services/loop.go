package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/manthysbr/librarian/internal/core/domain"
	"github.com/manthysbr/librarian/internal/core/ports"
)

// Matcher runs the reason-act loop for one BDD step: ask the model, run
// whatever tools it requested, feed the results back, and repeat until it
// answers without tool requests or the iteration bound forces extraction.
type Matcher struct {
	model    ports.ChatModel
	registry *domain.ToolRegistry
	cfg      domain.LoopConfig
	logger   *slog.Logger
	bus      *EventBus
	sysOnce  string
}

type matchPhase int

const (
	phaseReasoning matchPhase = iota
	phaseActing
	phaseExtracting
	phaseDone
)

func (p matchPhase) String() string {
	switch p {
	case phaseReasoning:
		return "reasoning"
	case phaseActing:
		return "acting"
	case phaseExtracting:
		return "extracting"
	case phaseDone:
		return "done"
	default:
		return "unknown"
	}
}

// NewMatcher wires a matcher over a chat model and a corpus tool registry.
// corpusRoot only feeds the system prompt; the tools already carry it.
func NewMatcher(model ports.ChatModel, registry *domain.ToolRegistry, corpusRoot string, cfg domain.LoopConfig, logger *slog.Logger, bus *EventBus) *Matcher {
	return &Matcher{
		model:    model,
		registry: registry,
		cfg:      cfg,
		logger:   logger,
		bus:      bus,
		sysOnce:  BuildSystemPrompt(corpusRoot, registry),
	}
}

// MatchStep drives the loop for one step and returns its ranked
// candidates. Infrastructure failures (model unreachable, cancellation)
// return an error; an empty candidate list is a valid outcome.
func (m *Matcher) MatchStep(ctx context.Context, step domain.Step) (*domain.StepResult, error) {
	result := &domain.StepResult{
		StepID:      step.StepID,
		Description: step.Description,
		ActionType:  step.TypeTag(),
		Phase:       step.Phase,
	}
	log := m.logger.With("step_id", step.StepID)
	log.Info("matching step", "description", step.Description, "action_type", result.ActionType)
	m.publish(EventStepStarted, step.StepID, result.ActionType)

	history := []domain.Turn{
		domain.SystemTurn(m.sysOnce),
		domain.UserTurn(BuildTaskPrompt(step)),
	}

	phase := phaseReasoning
	finalAnswer := ""
	iteration := 0
	for phase != phaseExtracting {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrCancelled, err)
		}
		if iteration >= m.cfg.MaxToolIterations {
			log.Warn("iteration bound reached, forcing extraction", "iterations", iteration)
			history = append(history, domain.ModelTurn(exhaustedAnswer, nil))
			finalAnswer = exhaustedAnswer
			phase = phaseExtracting
			break
		}
		iteration++

		history = TrimHistory(history, m.cfg.MaxContextTokens)
		if m.cfg.Debug {
			log.Debug("loop iteration", "iteration", iteration, "phase", phase.String(), "turns", len(history))
		}

		out, err := m.chat(ctx, history)
		if err != nil {
			result.Err = err.Error()
			return result, err
		}

		content, invocations, nerr := NormalizeResponse(out)
		if nerr != nil {
			log.Warn("response yielded no text and no tool calls, treating as empty answer")
		}
		// exactly one model turn per iteration, whatever the decode path was
		history = append(history, domain.ModelTurn(content, invocations))

		if len(invocations) == 0 {
			finalAnswer = content
			phase = phaseExtracting
			break
		}

		phase = phaseActing
		for _, inv := range invocations {
			history = append(history, m.runInvocation(ctx, log, step.StepID, inv))
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("%w: %v", domain.ErrCancelled, err)
			}
		}
		phase = phaseReasoning
	}

	result.Iterations = iteration
	result.Candidates = ExtractCandidates(finalAnswer, m.cfg.TopCandidates)
	phase = phaseDone
	if m.cfg.Debug {
		log.Debug("loop finished", "phase", phase.String(), "iterations", iteration)
	}
	if len(result.Candidates) == 0 {
		log.Warn("step finished without candidates", "cause", domain.ErrExtractionEmpty, "iterations", iteration)
	} else {
		log.Info("step matched", "candidates", len(result.Candidates), "iterations", iteration)
	}
	m.publish(EventStepFinished, step.StepID, fmt.Sprintf("%d candidates", len(result.Candidates)))
	return result, nil
}

// chat calls the strict endpoint and retries exactly once on the raw
// endpoint when strict decoding rejects the provider payload. Some
// reasoning models emit argument shapes the typed decoder refuses.
func (m *Matcher) chat(ctx context.Context, history []domain.Turn) (*ports.ModelOutput, error) {
	req := ports.ChatRequest{
		Model: m.model.ModelID(),
		Turns: history,
		Tools: m.registry.SchemaCatalogue(),
	}
	out, err := m.model.Chat(ctx, req)
	if errors.Is(err, domain.ErrResponseSchema) {
		m.logger.Warn("strict decode rejected the response, retrying raw", "error", err)
		out, err = m.model.ChatRaw(ctx, req)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrCancelled, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrModelCallFailed, err)
	}
	return out, nil
}

// runInvocation executes one tool request and always produces a
// tool-result turn for it. Unknown tools, bad arguments and tool faults
// come back as diagnostic text so the model can correct course.
func (m *Matcher) runInvocation(ctx context.Context, log *slog.Logger, stepID domain.StepID, inv domain.ToolInvocation) domain.Turn {
	tool, ok := m.registry.Get(inv.Tool)
	if !ok {
		known := make([]string, 0, len(m.registry.List()))
		for _, t := range m.registry.List() {
			known = append(known, t.Name)
		}
		log.Warn("model requested unknown tool", "tool", inv.Tool)
		return domain.ToolResultTurn(inv.ID, inv.Tool,
			fmt.Sprintf("%v %q; available tools: %v", domain.ErrUnknownTool, inv.Tool, known))
	}
	if err := tool.ValidateArgs(inv.Args); err != nil {
		log.Warn("tool arguments rejected", "tool", inv.Tool, "error", err)
		return domain.ToolResultTurn(inv.ID, inv.Tool,
			fmt.Sprintf("invalid arguments for %s: %v", inv.Tool, err))
	}
	m.publish(EventToolCalled, stepID, inv.Tool)
	output, err := tool.Execute(ctx, inv.Args)
	if err != nil {
		log.Error("tool execution failed", "tool", inv.Tool, "error", err)
		return domain.ToolResultTurn(inv.ID, inv.Tool,
			fmt.Sprintf("tool %s failed: %v", inv.Tool, err))
	}
	if m.cfg.Debug {
		log.Debug("tool executed", "tool", inv.Tool, "output_bytes", len(output))
	}
	return domain.ToolResultTurn(inv.ID, inv.Tool, output)
}

func (m *Matcher) publish(kind EventKind, stepID domain.StepID, detail string) {
	if m.bus != nil {
		m.bus.Publish(Event{Kind: kind, StepID: stepID, Detail: detail})
	}
}
