// Package events defines the closed set of lifecycle events emitted while a
// task runs, and a channel-based bus to deliver them.
package events

import (
	"context"
	"time"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// Type is the kind of an event. The set is closed: consumers may switch over
// AllTypes exhaustively.
type Type string

const (
	IterationStarted      Type = "iteration_started"      // A new observe/think/act/verify cycle began.
	Thinking              Type = "thinking"               // The think step produced a decision.
	ActionStarted         Type = "action_started"         // A tool call is about to run.
	ActionCompleted       Type = "action_completed"       // A tool call finished and verified.
	ActionFailed          Type = "action_failed"          // A tool call failed after recovery attempts.
	ActionRecovered       Type = "action_recovered"       // A recovery strategy rescued a failed tool call.
	CodeActTriggered      Type = "codeact_triggered"      // Gating routed the action to the sandbox path.
	CodeActExecuting      Type = "codeact_executing"      // The sandbox started running the script.
	CodeActCompleted      Type = "codeact_completed"      // The sandbox script succeeded.
	CodeActFailed         Type = "codeact_failed"         // The sandbox script failed or timed out.
	ConfirmationRequested Type = "confirmation_requested" // A dangerous action awaits a human decision.
	ConfirmationReceived  Type = "confirmation_received"  // The human confirmed or rejected.
	ConfirmationTimeout   Type = "confirmation_timeout"   // Nobody answered in time; treated as rejection.
	ConfirmationCancelled Type = "confirmation_cancelled" // The request was withdrawn.
	CheckpointCreated     Type = "checkpoint_created"     // A checkpoint was persisted.
	CheckpointRestored    Type = "checkpoint_restored"    // State was restored from a checkpoint.
	TaskCompleted         Type = "task_completed"         // The run ended successfully.
	TaskFailed            Type = "task_failed"            // The run ended without success.
)

// AllTypes lists every event type in emission order of a typical run.
var AllTypes = []Type{
	IterationStarted, Thinking,
	ActionStarted, ActionCompleted, ActionFailed, ActionRecovered,
	CodeActTriggered, CodeActExecuting, CodeActCompleted, CodeActFailed,
	ConfirmationRequested, ConfirmationReceived, ConfirmationTimeout, ConfirmationCancelled,
	CheckpointCreated, CheckpointRestored,
	TaskCompleted, TaskFailed,
}

// Valid reports whether t is a member of the closed set.
func (t Type) Valid() bool {
	for _, known := range AllTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Event is the envelope delivered to subscribers. Payload holds one of the
// *Payload structs below, chosen by Type.
type Event struct {
	ID        string
	Type      Type
	Timestamp time.Time
	Iteration int
	Payload   interface{}
}

// IterationPayload accompanies IterationStarted.
type IterationPayload struct {
	Goal          string
	Iteration     int
	MaxIterations int
}

// ThinkingPayload accompanies Thinking.
type ThinkingPayload struct {
	Thought    string
	Tool       string
	Confidence float64
	IsComplete bool
	Fallback   bool // The rule-based reasoner produced the decision.
}

// ActionPayload accompanies the Action* events.
type ActionPayload struct {
	Action   *schemas.Action
	Strategy string // Recovery strategy for ActionRecovered.
	Error    string
}

// CodeActPayload accompanies the CodeAct* events.
type CodeActPayload struct {
	ActionID      string
	Rules         []string
	SuggestedTask string
	Confidence    float64
	Result        *schemas.SandboxResult
}

// ConfirmationPayload accompanies the Confirmation* events.
type ConfirmationPayload struct {
	RequestID string
	Tool      string
	RiskLevel string
	Score     int
	Preview   string
	Status    string
	Confirmed bool
	Comment   string
	Timeout   time.Duration
}

// CheckpointPayload accompanies CheckpointCreated and CheckpointRestored.
type CheckpointPayload struct {
	SessionID    string
	CheckpointID string
	Name         string
	StepIndex    int
	IsAutoSave   bool
}

// TaskPayload accompanies TaskCompleted and TaskFailed.
type TaskPayload struct {
	Goal       string
	Result     string
	Error      string
	Iterations int
	Actions    int
	Duration   time.Duration
}

// Emitter is the narrow publishing side used by the controller, the
// confirmation workflow and the checkpoint manager. Emitting never fails the
// caller; delivery problems are the emitter's to log.
type Emitter interface {
	Emit(ctx context.Context, ev Event)
}

// Nop discards every event.
type Nop struct{}

// Emit implements Emitter.
func (Nop) Emit(context.Context, Event) {}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(ctx context.Context, ev Event)

// Emit implements Emitter.
func (f EmitterFunc) Emit(ctx context.Context, ev Event) { f(ctx, ev) }
