package schemas

import (
	"sort"
	"time"
)

// -- Controller State Schemas --

// ControllerStatus is the state machine position of the ReAct controller.
type ControllerStatus string

const (
	StatusIdle               ControllerStatus = "idle"
	StatusObserving          ControllerStatus = "observing"
	StatusThinking           ControllerStatus = "thinking"
	StatusActing             ControllerStatus = "acting"
	StatusExecutingSandboxed ControllerStatus = "executing_sandboxed"
	StatusVerifying          ControllerStatus = "verifying"
	StatusPaused             ControllerStatus = "paused"
	StatusComplete           ControllerStatus = "complete"
	StatusError              ControllerStatus = "error"
)

// IsTerminal reports whether the status ends a run.
func (s ControllerStatus) IsTerminal() bool {
	return s == StatusComplete || s == StatusError
}

// ControllerState is owned by exactly one controller run. ActionHistory is
// append-only within a run.
type ControllerState struct {
	Status                 ControllerStatus       `json:"status"`
	Goal                   string                 `json:"goal"`
	CurrentObservation     *Observation           `json:"currentObservation,omitempty"`
	PreviousObservation    *Observation           `json:"previousObservation,omitempty"`
	ActionHistory          []*Action              `json:"actionHistory"`
	IterationCount         int                    `json:"iterationCount"`
	ConsecutiveFailures    int                    `json:"consecutiveFailures"`
	MaxIterations          int                    `json:"maxIterations"`
	MaxConsecutiveFailures int                    `json:"maxConsecutiveFailures"`
	StartTime              time.Time              `json:"startTime"`
	Context                map[string]interface{} `json:"context"`
	Plan                   *Plan                  `json:"plan,omitempty"`
	Result                 string                 `json:"result,omitempty"`
	Error                  string                 `json:"error,omitempty"`
}

// StepIndex is the position a checkpoint of this state is filed under: the
// plan's current step when a plan is active, otherwise the iteration count.
func (s *ControllerState) StepIndex() int {
	if s.Plan != nil {
		return s.Plan.CurrentStepIndex
	}
	return s.IterationCount
}

// LastActions returns up to n of the most recent actions, oldest first.
func (s *ControllerState) LastActions(n int) []*Action {
	if n <= 0 || len(s.ActionHistory) == 0 {
		return nil
	}
	if n > len(s.ActionHistory) {
		n = len(s.ActionHistory)
	}
	return s.ActionHistory[len(s.ActionHistory)-n:]
}

// ContextString returns a string value from the task context.
func (s *ControllerState) ContextString(key string) string {
	if s.Context == nil {
		return ""
	}
	if v, ok := s.Context[key].(string); ok {
		return v
	}
	return ""
}

// Clone returns a deep copy suitable for handing to another goroutine.
func (s *ControllerState) Clone() *ControllerState {
	if s == nil {
		return nil
	}
	c := *s
	c.CurrentObservation = s.CurrentObservation.Clone()
	c.PreviousObservation = s.PreviousObservation.Clone()
	if s.ActionHistory != nil {
		c.ActionHistory = make([]*Action, len(s.ActionHistory))
		for i, a := range s.ActionHistory {
			c.ActionHistory[i] = a.Clone()
		}
	}
	if s.Context != nil {
		c.Context = make(map[string]interface{}, len(s.Context))
		for k, v := range s.Context {
			c.Context[k] = v
		}
	}
	c.Plan = s.Plan.Clone()
	return &c
}

// Recognised task context keys.
const (
	ContextKeyInstruction = "instruction"
	ContextKeySessionName = "session_name"
	ContextKeyStartURL    = "start_url"
	ContextKeyGuidance    = "guidance"
	ContextKeyPlanGoal    = "plan_goal"
)

// -- Serialized Form --

// ContextEntry is one flattened key/value record of the controller context.
type ContextEntry struct {
	Key   string      `json:"key"`
	Value interface{} `json:"value"`
}

// SerializedState is the JSON-safe form of ControllerState stored in sessions
// and checkpoints. Maps are flattened to sorted key/value records.
type SerializedState struct {
	Status                 ControllerStatus `json:"status"`
	Goal                   string           `json:"goal"`
	CurrentObservation     *Observation     `json:"currentObservation,omitempty"`
	PreviousObservation    *Observation     `json:"previousObservation,omitempty"`
	ActionHistory          []*Action        `json:"actionHistory"`
	IterationCount         int              `json:"iterationCount"`
	ConsecutiveFailures    int              `json:"consecutiveFailures"`
	MaxIterations          int              `json:"maxIterations"`
	MaxConsecutiveFailures int              `json:"maxConsecutiveFailures"`
	StartTime              time.Time        `json:"startTime"`
	Context                []ContextEntry   `json:"context"`
	Plan                   *Plan            `json:"plan,omitempty"`
	Result                 string           `json:"result,omitempty"`
	Error                  string           `json:"error,omitempty"`
}

// Serialize flattens the state into its persisted form.
func (s *ControllerState) Serialize() *SerializedState {
	c := s.Clone()
	out := &SerializedState{
		Status:                 c.Status,
		Goal:                   c.Goal,
		CurrentObservation:     c.CurrentObservation,
		PreviousObservation:    c.PreviousObservation,
		ActionHistory:          c.ActionHistory,
		IterationCount:         c.IterationCount,
		ConsecutiveFailures:    c.ConsecutiveFailures,
		MaxIterations:          c.MaxIterations,
		MaxConsecutiveFailures: c.MaxConsecutiveFailures,
		StartTime:              c.StartTime,
		Plan:                   c.Plan,
		Result:                 c.Result,
		Error:                  c.Error,
	}
	if len(c.Context) > 0 {
		out.Context = make([]ContextEntry, 0, len(c.Context))
		for k, v := range c.Context {
			out.Context = append(out.Context, ContextEntry{Key: k, Value: v})
		}
		sort.Slice(out.Context, func(i, j int) bool { return out.Context[i].Key < out.Context[j].Key })
	}
	return out
}

// Deserialize rebuilds a live ControllerState.
func (s *SerializedState) Deserialize() *ControllerState {
	if s == nil {
		return nil
	}
	out := &ControllerState{
		Status:                 s.Status,
		Goal:                   s.Goal,
		CurrentObservation:     s.CurrentObservation.Clone(),
		PreviousObservation:    s.PreviousObservation.Clone(),
		IterationCount:         s.IterationCount,
		ConsecutiveFailures:    s.ConsecutiveFailures,
		MaxIterations:          s.MaxIterations,
		MaxConsecutiveFailures: s.MaxConsecutiveFailures,
		StartTime:              s.StartTime,
		Context:                make(map[string]interface{}, len(s.Context)),
		Plan:                   s.Plan.Clone(),
		Result:                 s.Result,
		Error:                  s.Error,
	}
	if s.ActionHistory != nil {
		out.ActionHistory = make([]*Action, len(s.ActionHistory))
		for i, a := range s.ActionHistory {
			out.ActionHistory[i] = a.Clone()
		}
	}
	for _, e := range s.Context {
		out.Context[e.Key] = e.Value
	}
	return out
}
