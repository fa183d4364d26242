package domain

import "time"

// StepID uniquely identifies one step of a parsed intent document
type StepID string

// BDDPhase tags a step with the phase it belongs to
type BDDPhase string

const (
	PhaseGiven   BDDPhase = "given"
	PhaseWhen    BDDPhase = "when"
	PhaseThen    BDDPhase = "then"
	PhaseCleanup BDDPhase = "cleanup"
)

// BDDPhases lists the phases in execution order.
var BDDPhases = []BDDPhase{PhaseGiven, PhaseWhen, PhaseThen, PhaseCleanup}

// Step is one natural-language test step produced by the upstream parser.
// ActionType and CheckType are mutually exclusive type tags.
type Step struct {
	StepID      StepID   `json:"step_id"`
	Description string   `json:"description"`
	ActionType  string   `json:"action_type,omitempty"`
	CheckType   string   `json:"check_type,omitempty"`
	Phase       BDDPhase `json:"phase,omitempty"`
}

// TypeTag returns whichever of action_type/check_type is set.
func (s Step) TypeTag() string {
	if s.ActionType != "" {
		return s.ActionType
	}
	return s.CheckType
}

// IntentDocument is the upstream parser's output: ordered steps per BDD phase.
type IntentDocument struct {
	BDDFlow map[BDDPhase][]Step `json:"bdd_flow"`
}

// Steps flattens the document into a single ordered list
// (given → when → then → cleanup), tagging each step with its phase.
func (d IntentDocument) Steps() []Step {
	var steps []Step
	for _, phase := range BDDPhases {
		for _, s := range d.BDDFlow[phase] {
			s.Phase = phase
			steps = append(steps, s)
		}
	}
	return steps
}

// CandidateParam is one inferred parameter binding for a candidate AW.
// Reason is optional and defaults to empty.
type CandidateParam struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Reason string `json:"reason,omitempty"`
}

// Candidate is a proposed AW match for one test step, produced only by the
// candidate extractor and immutable afterwards.
type Candidate struct {
	AWID       string           `json:"aw_id"`
	AWName     string           `json:"aw_name,omitempty"`
	Parameters []CandidateParam `json:"parameters,omitempty"`
	Reason     string           `json:"reason,omitempty"`
	Confidence float64          `json:"confidence,omitempty"`
}

// StepResult is the terminal output unit of one loop run: the step echoed
// back plus up to top-N candidates. Err records a step-level failure
// (ModelCallFailed, Cancelled) without affecting sibling steps.
type StepResult struct {
	StepID      StepID      `json:"step_id"`
	Description string      `json:"description"`
	ActionType  string      `json:"action_type,omitempty"`
	Phase       BDDPhase    `json:"phase,omitempty"`
	Candidates  []Candidate `json:"candidates"`
	Iterations  int         `json:"iterations"`
	Err         string      `json:"error,omitempty"`
}

// RunID uniquely identifies one matching run over an intent document
type RunID string

// RunStatus indicates completion state of a run.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusOK      RunStatus = "ok"
	RunStatusError   RunStatus = "error"
)

// MatchRun is the run-level envelope: metadata plus per-step results keyed
// by step id. Results preserve document order regardless of completion order.
type MatchRun struct {
	ID         RunID        `json:"id"`
	Model      string       `json:"model"`
	CorpusPath string       `json:"corpus_path"`
	Status     RunStatus    `json:"status"`
	CreatedAt  time.Time    `json:"created_at"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
	Results    []StepResult `json:"results"`
}
