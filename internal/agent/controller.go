// Package agent implements the ReAct iteration controller: an observe, think,
// act and verify loop with recovery, loop detection, a danger gate in front of
// every side-effecting tool call, and a plan runner that drives the controller
// one step at a time with checkpoints and resume.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/confirmation"
	"github.com/xkilldash9x/webpilot/internal/config"
	"github.com/xkilldash9x/webpilot/internal/events"
	"github.com/xkilldash9x/webpilot/internal/gating"
	"github.com/xkilldash9x/webpilot/internal/safety"
	"github.com/xkilldash9x/webpilot/internal/store"
)

// -- Collaborator Interfaces --

// Router decides whether an iteration runs on the sandbox path.
// Implemented by *gating.Engine.
type Router interface {
	ShouldTriggerCodeAct(c gating.Context) gating.Decision
}

// DangerDetector scores an action before it runs.
// Implemented by *safety.Detector.
type DangerDetector interface {
	Detect(action *schemas.Action, pc *safety.PageContext) safety.Result
}

// Confirmer blocks until a human answers a request or it times out.
// Implemented by *confirmation.Manager.
type Confirmer interface {
	RequestConfirmation(ctx context.Context, req *confirmation.Request) bool
}

// Checkpointer persists controller progress. Implemented by *checkpoint.Manager.
type Checkpointer interface {
	Bound() bool
	AutoSave(ctx context.Context, state *schemas.ControllerState) *store.CheckpointInfo
	CreateCheckpoint(ctx context.Context, state *schemas.ControllerState, name, description string) *store.CheckpointInfo
	SaveState(ctx context.Context, state *schemas.ControllerState) bool
	CleanupAutoSaves(ctx context.Context, keep int) int
	RestoreCheckpoint(ctx context.Context, id string) *schemas.ControllerState
	RestoreLatest(ctx context.Context) *schemas.ControllerState
}

// Dependencies are the collaborators injected into a Controller. Tools and
// Reasoner are required; the rest switch their feature off when nil.
type Dependencies struct {
	Tools        schemas.ToolAdapter
	Sandbox      schemas.SandboxAdapter
	Reasoner     schemas.LLMAdapter
	Router       Router
	Detector     DangerDetector
	Confirmer    Confirmer
	Checkpointer Checkpointer
	Emitter      events.Emitter
}

// Options tunes a Controller.
type Options struct {
	Agent               config.AgentConfig
	BlockCritical       bool
	ConfirmationTimeout time.Duration
	SandboxTimeout      time.Duration
	CleanupKeep         int
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		Agent: config.AgentConfig{
			MaxIterations:          20,
			MaxConsecutiveFailures: 3,
			ActionTimeout:          30 * time.Second,
			ObserveTimeout:         15 * time.Second,
			SummaryActions:         5,
			Recovery: config.RecoveryConfig{
				Enabled:        true,
				Wait:           time.Second,
				ScrollAmount:   600,
				FuzzyThreshold: 0.45,
			},
			Loop: config.LoopConfig{Window: 3, RepeatThreshold: 2},
		},
		ConfirmationTimeout: 60 * time.Second,
		SandboxTimeout:      10 * time.Second,
		CleanupKeep:         5,
	}
}

// OptionsFromConfig collects the controller settings from the application config.
func OptionsFromConfig(cfg config.Interface) Options {
	return Options{
		Agent:               cfg.Agent(),
		BlockCritical:       cfg.Safety().BlockCritical,
		ConfirmationTimeout: cfg.Safety().ConfirmationTimeout,
		SandboxTimeout:      cfg.Sandbox().Timeout,
		CleanupKeep:         cfg.Checkpoint().CleanupKeep,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Agent.MaxIterations <= 0 {
		o.Agent.MaxIterations = d.Agent.MaxIterations
	}
	if o.Agent.MaxConsecutiveFailures <= 0 {
		o.Agent.MaxConsecutiveFailures = d.Agent.MaxConsecutiveFailures
	}
	if o.Agent.ActionTimeout <= 0 {
		o.Agent.ActionTimeout = d.Agent.ActionTimeout
	}
	if o.Agent.ObserveTimeout <= 0 {
		o.Agent.ObserveTimeout = d.Agent.ObserveTimeout
	}
	if o.Agent.SummaryActions <= 0 {
		o.Agent.SummaryActions = d.Agent.SummaryActions
	}
	if o.Agent.Recovery.FuzzyThreshold <= 0 {
		o.Agent.Recovery.FuzzyThreshold = d.Agent.Recovery.FuzzyThreshold
	}
	if o.Agent.Recovery.ScrollAmount <= 0 {
		o.Agent.Recovery.ScrollAmount = d.Agent.Recovery.ScrollAmount
	}
	if o.Agent.Loop.Window <= 0 {
		o.Agent.Loop.Window = d.Agent.Loop.Window
	}
	if o.Agent.Loop.RepeatThreshold <= 0 {
		o.Agent.Loop.RepeatThreshold = d.Agent.Loop.RepeatThreshold
	}
	if o.ConfirmationTimeout <= 0 {
		o.ConfirmationTimeout = d.ConfirmationTimeout
	}
	if o.SandboxTimeout <= 0 {
		o.SandboxTimeout = d.SandboxTimeout
	}
	if o.CleanupKeep <= 0 {
		o.CleanupKeep = d.CleanupKeep
	}
	return o
}

// -- Controller --

// Controller runs one task at a time. The state of a run is owned by the
// goroutine inside Execute; other goroutines only see published copies.
type Controller struct {
	logger *zap.Logger
	opts   Options

	tools        schemas.ToolAdapter
	sandbox      schemas.SandboxAdapter
	reasoner     schemas.LLMAdapter
	router       Router
	detector     DangerDetector
	confirmer    Confirmer
	checkpointer Checkpointer
	emitter      events.Emitter

	loops *loopDetector

	running  atomic.Bool
	stopping atomic.Bool
	snapshot atomic.Pointer[schemas.ControllerState]

	pauseMu sync.Mutex
	resume  chan struct{} // Non-nil while paused; closed by Unpause.
}

// NewController validates the dependencies and builds a controller.
func NewController(logger *zap.Logger, deps Dependencies, opts Options) (*Controller, error) {
	if deps.Tools == nil {
		return nil, errors.New("controller requires a tool adapter")
	}
	if deps.Reasoner == nil {
		return nil, errors.New("controller requires a reasoner")
	}
	if deps.Emitter == nil {
		deps.Emitter = events.Nop{}
	}
	opts = opts.withDefaults()
	return &Controller{
		logger:       logger.Named("controller"),
		opts:         opts,
		tools:        deps.Tools,
		sandbox:      deps.Sandbox,
		reasoner:     deps.Reasoner,
		router:       deps.Router,
		detector:     deps.Detector,
		confirmer:    deps.Confirmer,
		checkpointer: deps.Checkpointer,
		emitter:      deps.Emitter,
		loops:        newLoopDetector(opts.Agent.Loop.Window, opts.Agent.Loop.RepeatThreshold),
	}, nil
}

// Execute runs goal to completion, failure or budget exhaustion. A call made
// while another is in flight returns immediately with ErrAlreadyRunning.
func (c *Controller) Execute(ctx context.Context, goal string, taskCtx map[string]interface{}) *schemas.ExecuteResult {
	return c.execute(ctx, goal, taskCtx, nil)
}

// execute runs goal with an optional plan riding along in the state.
func (c *Controller) execute(ctx context.Context, goal string, taskCtx map[string]interface{}, plan *schemas.Plan) *schemas.ExecuteResult {
	if !c.running.CompareAndSwap(false, true) {
		return &schemas.ExecuteResult{Error: ErrAlreadyRunning.Error()}
	}
	defer c.running.Store(false)
	c.stopping.Store(false)

	state := c.newState(goal, taskCtx)
	state.Plan = plan.Clone()
	return c.run(ctx, state)
}

// Resume continues a restored run from where its state left off. Counters
// and history carry over.
func (c *Controller) Resume(ctx context.Context, state *schemas.ControllerState) *schemas.ExecuteResult {
	if state == nil {
		return &schemas.ExecuteResult{Error: ErrNoCheckpoint.Error()}
	}
	if !c.running.CompareAndSwap(false, true) {
		return &schemas.ExecuteResult{Error: ErrAlreadyRunning.Error()}
	}
	defer c.running.Store(false)
	c.stopping.Store(false)

	st := state.Clone()
	st.Status = schemas.StatusIdle
	st.Result = ""
	st.Error = ""
	st.ConsecutiveFailures = 0
	if st.MaxIterations <= st.IterationCount {
		st.MaxIterations = st.IterationCount + c.opts.Agent.MaxIterations
	}
	if st.MaxConsecutiveFailures <= 0 {
		st.MaxConsecutiveFailures = c.opts.Agent.MaxConsecutiveFailures
	}
	if st.Context == nil {
		st.Context = map[string]interface{}{}
	}
	c.logger.Info("Resuming run.",
		zap.String("goal", st.Goal),
		zap.Int("iteration", st.IterationCount),
		zap.Int("actions", len(st.ActionHistory)))
	return c.run(ctx, st)
}

// Stop asks the running loop to end at the next iteration boundary. In-flight
// tool calls are not interrupted.
func (c *Controller) Stop() {
	c.stopping.Store(true)
	c.Unpause()
}

// Pause holds the loop at the next iteration boundary. It reports whether the
// controller was not already paused.
func (c *Controller) Pause() bool {
	c.pauseMu.Lock()
	defer c.pauseMu.Unlock()
	if c.resume != nil {
		return false
	}
	c.resume = make(chan struct{})
	return true
}

// Unpause releases a paused loop. It reports whether the controller was paused.
func (c *Controller) Unpause() bool {
	c.pauseMu.Lock()
	defer c.pauseMu.Unlock()
	if c.resume == nil {
		return false
	}
	close(c.resume)
	c.resume = nil
	return true
}

// IsExecuting reports whether a run is in flight.
func (c *Controller) IsExecuting() bool {
	return c.running.Load()
}

// GetState returns a copy of the latest published state, or nil before the
// first run.
func (c *Controller) GetState() *schemas.ControllerState {
	return c.snapshot.Load().Clone()
}

func (c *Controller) newState(goal string, taskCtx map[string]interface{}) *schemas.ControllerState {
	ctxMap := make(map[string]interface{}, len(taskCtx)+1)
	for k, v := range taskCtx {
		ctxMap[k] = v
	}
	if s, _ := ctxMap[schemas.ContextKeyInstruction].(string); s == "" {
		ctxMap[schemas.ContextKeyInstruction] = goal
	}
	return &schemas.ControllerState{
		Status:                 schemas.StatusIdle,
		Goal:                   goal,
		ActionHistory:          []*schemas.Action{},
		MaxIterations:          c.opts.Agent.MaxIterations,
		MaxConsecutiveFailures: c.opts.Agent.MaxConsecutiveFailures,
		StartTime:              time.Now().UTC(),
		Context:                ctxMap,
	}
}

// setStatus moves the state machine and publishes the change.
func (c *Controller) setStatus(st *schemas.ControllerState, status schemas.ControllerStatus) {
	st.Status = status
	c.publish(st)
}

func (c *Controller) publish(st *schemas.ControllerState) {
	c.snapshot.Store(st.Clone())
}

func (c *Controller) emit(ctx context.Context, st *schemas.ControllerState, typ events.Type, payload interface{}) {
	c.emitter.Emit(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      typ,
		Timestamp: time.Now().UTC(),
		Iteration: st.IterationCount,
		Payload:   payload,
	})
}

// finish finalizes the state, persists it and builds the caller's result.
func (c *Controller) finish(ctx context.Context, st *schemas.ControllerState, success bool, result, errMsg string) *schemas.ExecuteResult {
	st.Result = result
	st.Error = errMsg
	if success {
		st.Status = schemas.StatusComplete
	} else {
		st.Status = schemas.StatusError
	}
	c.publish(st)

	// Persist even when the run was cancelled.
	persistCtx := context.WithoutCancel(ctx)
	if c.checkpointer != nil && c.checkpointer.Bound() {
		c.checkpointer.SaveState(persistCtx, st)
		c.checkpointer.CleanupAutoSaves(persistCtx, c.opts.CleanupKeep)
	}

	payload := events.TaskPayload{
		Goal:       st.Goal,
		Result:     result,
		Error:      errMsg,
		Iterations: st.IterationCount,
		Actions:    len(st.ActionHistory),
		Duration:   time.Since(st.StartTime),
	}
	if success {
		c.logger.Info("Task completed.", zap.String("result", result), zap.Int("iterations", st.IterationCount))
		c.emit(persistCtx, st, events.TaskCompleted, payload)
	} else {
		c.logger.Warn("Task failed.", zap.String("reason", errMsg), zap.Int("iterations", st.IterationCount))
		c.emit(persistCtx, st, events.TaskFailed, payload)
	}

	actions := make([]*schemas.Action, len(st.ActionHistory))
	for i, a := range st.ActionHistory {
		actions[i] = a.Clone()
	}
	return &schemas.ExecuteResult{
		Success: success,
		Result:  result,
		Error:   errMsg,
		Actions: actions,
	}
}

// fail ends the run unsuccessfully with a generated summary as its result.
func (c *Controller) fail(ctx context.Context, st *schemas.ControllerState, reason string) *schemas.ExecuteResult {
	return c.finish(ctx, st, false, summarize(st, reason, c.opts.Agent.SummaryActions), reason)
}

func panicMessage(r interface{}) string {
	return fmt.Sprintf("%s: %v", reasonControllerPanics, r)
}
