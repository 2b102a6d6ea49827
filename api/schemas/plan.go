package schemas

import "time"

// -- Plan Schemas --

// PlanStatus tracks the lifecycle of a multi-step plan.
type PlanStatus string

const (
	PlanStatusPending    PlanStatus = "pending"
	PlanStatusInProgress PlanStatus = "in_progress"
	PlanStatusCompleted  PlanStatus = "completed"
	PlanStatusFailed     PlanStatus = "failed"
)

// StepStatus tracks a single plan step.
type StepStatus string

const (
	StepStatusPending    StepStatus = "pending"
	StepStatusInProgress StepStatus = "in_progress"
	StepStatusCompleted  StepStatus = "completed"
	StepStatusFailed     StepStatus = "failed"
	StepStatusSkipped    StepStatus = "skipped"
)

// PlanStep is one sub-goal handed to the controller.
type PlanStep struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Status      StepStatus `json:"status"`
	Result      string     `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Plan is an ordered decomposition of a goal. CurrentStepIndex is the next
// step to run, so a resumed plan continues from it.
type Plan struct {
	ID               string     `json:"id"`
	Goal             string     `json:"goal"`
	Steps            []PlanStep `json:"steps"`
	CurrentStepIndex int        `json:"currentStepIndex"`
	Status           PlanStatus `json:"status"`
	Reasoning        string     `json:"reasoning,omitempty"`
	Revision         int        `json:"revision"`
	CreatedAt        time.Time  `json:"createdAt"`
}

// Clone returns a deep copy of the plan.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	c := *p
	if p.Steps != nil {
		c.Steps = make([]PlanStep, len(p.Steps))
		copy(c.Steps, p.Steps)
	}
	return &c
}

// CurrentStep returns the step at CurrentStepIndex, or nil when the plan is exhausted.
func (p *Plan) CurrentStep() *PlanStep {
	if p == nil || p.CurrentStepIndex < 0 || p.CurrentStepIndex >= len(p.Steps) {
		return nil
	}
	return &p.Steps[p.CurrentStepIndex]
}

// CompletedSteps returns the steps that finished successfully.
func (p *Plan) CompletedSteps() []PlanStep {
	var done []PlanStep
	for _, s := range p.Steps {
		if s.Status == StepStatusCompleted {
			done = append(done, s)
		}
	}
	return done
}
