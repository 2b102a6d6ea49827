package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

const defaultMaxReplans = 3

// PlanRunner decomposes a goal into steps and drives the controller through
// them one at a time. A checkpoint is taken before every step, so a resumed
// plan restarts at the step that was in progress.
type PlanRunner struct {
	logger       *zap.Logger
	controller   *Controller
	reasoner     schemas.LLMAdapter
	checkpointer Checkpointer
	maxReplans   int
}

// NewPlanRunner builds a runner over controller. checkpointer may be nil, in
// which case nothing is persisted and resume is unavailable.
func NewPlanRunner(logger *zap.Logger, controller *Controller, reasoner schemas.LLMAdapter, checkpointer Checkpointer) *PlanRunner {
	return &PlanRunner{
		logger:       logger.Named("plan_runner"),
		controller:   controller,
		reasoner:     reasoner,
		checkpointer: checkpointer,
		maxReplans:   defaultMaxReplans,
	}
}

// Run plans goal and executes every step.
func (p *PlanRunner) Run(ctx context.Context, goal string, taskCtx map[string]interface{}) *schemas.ExecuteResult {
	if p.controller.IsExecuting() {
		return &schemas.ExecuteResult{Error: ErrAlreadyRunning.Error()}
	}

	obs := p.firstObservation(ctx)
	planning, err := p.reasoner.GeneratePlan(ctx, schemas.PlanContext{
		Goal:        goal,
		Observation: obs,
		TaskContext: taskCtx,
	})
	if err != nil {
		return &schemas.ExecuteResult{Error: fmt.Sprintf("planning failed: %v", err)}
	}
	if planning == nil || planning.Plan == nil || len(planning.Plan.Steps) == 0 {
		return &schemas.ExecuteResult{Error: "planning produced no steps"}
	}

	plan := planning.Plan
	plan.Goal = goal
	p.logger.Info("Plan generated.",
		zap.String("plan_id", plan.ID),
		zap.Int("steps", len(plan.Steps)),
		zap.String("reasoning", plan.Reasoning))
	return p.execute(ctx, goal, taskCtx, plan, nil)
}

// ResumeFromCheckpoint restores a checkpoint and continues from the step it
// recorded. A checkpoint without a plan resumes the controller directly.
func (p *PlanRunner) ResumeFromCheckpoint(ctx context.Context, checkpointID string) *schemas.ExecuteResult {
	if p.checkpointer == nil {
		return &schemas.ExecuteResult{Error: ErrNoCheckpoint.Error()}
	}
	return p.resume(ctx, p.checkpointer.RestoreCheckpoint(ctx, checkpointID))
}

// ResumeLatest continues from the most recent checkpoint of the bound session.
func (p *PlanRunner) ResumeLatest(ctx context.Context) *schemas.ExecuteResult {
	if p.checkpointer == nil {
		return &schemas.ExecuteResult{Error: ErrNoCheckpoint.Error()}
	}
	return p.resume(ctx, p.checkpointer.RestoreLatest(ctx))
}

// ResumeState continues from an already restored state.
func (p *PlanRunner) ResumeState(ctx context.Context, state *schemas.ControllerState) *schemas.ExecuteResult {
	return p.resume(ctx, state)
}

func (p *PlanRunner) resume(ctx context.Context, state *schemas.ControllerState) *schemas.ExecuteResult {
	if state == nil {
		return &schemas.ExecuteResult{Error: ErrNoCheckpoint.Error()}
	}
	if state.Plan == nil {
		return p.controller.Resume(ctx, state)
	}

	plan := state.Plan.Clone()
	goal := plan.Goal
	if g := state.ContextString(schemas.ContextKeyPlanGoal); g != "" {
		goal = g
	}
	taskCtx := make(map[string]interface{}, len(state.Context))
	for k, v := range state.Context {
		switch k {
		case schemas.ContextKeyInstruction, schemas.ContextKeyGuidance, schemas.ContextKeyPlanGoal:
			continue
		}
		taskCtx[k] = v
	}
	// A fresh browser starts blank; return to where the run left off.
	if obs := state.CurrentObservation; !obs.IsDegraded() {
		taskCtx[schemas.ContextKeyStartURL] = obs.URL
	}

	p.logger.Info("Resuming plan.",
		zap.String("plan_id", plan.ID),
		zap.Int("step", plan.CurrentStepIndex),
		zap.Int("steps", len(plan.Steps)))
	return p.execute(ctx, goal, taskCtx, plan, state.ActionHistory)
}

// execute runs the plan from its CurrentStepIndex.
func (p *PlanRunner) execute(ctx context.Context, goal string, taskCtx map[string]interface{}, plan *schemas.Plan, prior []*schemas.Action) *schemas.ExecuteResult {
	actions := append([]*schemas.Action(nil), prior...)
	plan.Status = schemas.PlanStatusInProgress
	replans := 0
	first := true

	for plan.CurrentStepIndex < len(plan.Steps) {
		idx := plan.CurrentStepIndex
		step := &plan.Steps[idx]
		step.Status = schemas.StepStatusInProgress
		step.Error = ""

		stepCtx := p.stepContext(goal, taskCtx, step, first)
		first = false
		p.checkpointStep(ctx, goal, stepCtx, plan, actions)

		p.logger.Info("Running plan step.",
			zap.Int("step", idx+1),
			zap.Int("steps", len(plan.Steps)),
			zap.String("description", step.Description))
		res := p.controller.execute(ctx, step.Description, stepCtx, plan)
		actions = append(actions, res.Actions...)

		if res.Success {
			step.Status = schemas.StepStatusCompleted
			step.Result = res.Result
			plan.CurrentStepIndex++
			continue
		}

		step.Status = schemas.StepStatusFailed
		step.Error = res.Error
		if res.Error == ErrAlreadyRunning.Error() || res.Error == reasonStopped || ctx.Err() != nil {
			plan.Status = schemas.PlanStatusFailed
			return p.result(plan, actions, false, res.Error)
		}
		if replans >= p.maxReplans {
			plan.Status = schemas.PlanStatusFailed
			return p.result(plan, actions, false, fmt.Sprintf("step %d failed after %d replans: %s", idx+1, replans, res.Error))
		}

		revised, err := p.reasoner.Replan(ctx, schemas.ReplanContext{
			Goal:        goal,
			Plan:        plan,
			FailedStep:  step,
			Failure:     res.Error,
			Observation: p.lastObservation(),
		})
		if err != nil || revised == nil || revised.Plan == nil {
			plan.Status = schemas.PlanStatusFailed
			return p.result(plan, actions, false, fmt.Sprintf("step %d failed: %s", idx+1, res.Error))
		}
		replans++
		plan = revised.Plan
		if plan.Goal == "" {
			plan.Goal = goal
		}
		if plan.Status == schemas.PlanStatusFailed {
			return p.result(plan, actions, false, fmt.Sprintf("step %d failed and the plan was abandoned: %s", idx+1, res.Error))
		}
		p.logger.Info("Plan revised.",
			zap.Int("revision", plan.Revision),
			zap.Int("steps", len(plan.Steps)),
			zap.String("reasoning", revised.Reasoning))
	}

	plan.Status = schemas.PlanStatusCompleted
	p.checkpointDone(ctx, goal, taskCtx, plan, actions)
	return p.result(plan, actions, true, "")
}

func (p *PlanRunner) stepContext(goal string, taskCtx map[string]interface{}, step *schemas.PlanStep, first bool) map[string]interface{} {
	out := make(map[string]interface{}, len(taskCtx)+2)
	for k, v := range taskCtx {
		out[k] = v
	}
	out[schemas.ContextKeyPlanGoal] = goal
	out[schemas.ContextKeyInstruction] = step.Description
	if !first {
		delete(out, schemas.ContextKeyStartURL)
	}
	return out
}

// checkpointStep records the position before a step runs.
func (p *PlanRunner) checkpointStep(ctx context.Context, goal string, stepCtx map[string]interface{}, plan *schemas.Plan, actions []*schemas.Action) {
	if p.checkpointer == nil || !p.checkpointer.Bound() {
		return
	}
	st := p.planState(goal, stepCtx, plan, actions)
	step := plan.Steps[plan.CurrentStepIndex]
	name := fmt.Sprintf("step-%d", plan.CurrentStepIndex+1)
	desc := fmt.Sprintf("Before step %d of %d: %s", plan.CurrentStepIndex+1, len(plan.Steps), step.Description)
	p.checkpointer.CreateCheckpoint(ctx, st, name, desc)
	p.checkpointer.SaveState(ctx, st)
}

func (p *PlanRunner) checkpointDone(ctx context.Context, goal string, taskCtx map[string]interface{}, plan *schemas.Plan, actions []*schemas.Action) {
	if p.checkpointer == nil || !p.checkpointer.Bound() {
		return
	}
	st := p.planState(goal, taskCtx, plan, actions)
	st.Status = schemas.StatusComplete
	p.checkpointer.SaveState(context.WithoutCancel(ctx), st)
}

// planState is the state persisted at plan boundaries. The observation is
// carried over from the controller so a resume knows the last page.
func (p *PlanRunner) planState(goal string, taskCtx map[string]interface{}, plan *schemas.Plan, actions []*schemas.Action) *schemas.ControllerState {
	ctxMap := make(map[string]interface{}, len(taskCtx)+1)
	for k, v := range taskCtx {
		ctxMap[k] = v
	}
	ctxMap[schemas.ContextKeyPlanGoal] = goal
	st := &schemas.ControllerState{
		Status:                 schemas.StatusIdle,
		Goal:                   goal,
		ActionHistory:          actions,
		IterationCount:         len(actions),
		MaxIterations:          p.controller.opts.Agent.MaxIterations,
		MaxConsecutiveFailures: p.controller.opts.Agent.MaxConsecutiveFailures,
		StartTime:              time.Now().UTC(),
		Context:                ctxMap,
		Plan:                   plan,
	}
	if last := p.controller.GetState(); last != nil {
		st.CurrentObservation = last.CurrentObservation
	}
	return st
}

func (p *PlanRunner) firstObservation(ctx context.Context) *schemas.Observation {
	res := p.controller.callTool(ctx, schemas.ToolObserve, map[string]interface{}{}, p.controller.opts.Agent.ObserveTimeout)
	if obs := observationFrom(res.Data); res.Success && obs != nil {
		return obs
	}
	return nil
}

func (p *PlanRunner) lastObservation() *schemas.Observation {
	if st := p.controller.GetState(); st != nil {
		return st.CurrentObservation
	}
	return nil
}

func (p *PlanRunner) result(plan *schemas.Plan, actions []*schemas.Action, success bool, errMsg string) *schemas.ExecuteResult {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Plan %q: %d of %d step(s) completed.", plan.Goal, len(plan.CompletedSteps()), len(plan.Steps))
	for i, s := range plan.Steps {
		fmt.Fprintf(&sb, "\n  %d. [%s] %s", i+1, s.Status, s.Description)
		if s.Error != "" {
			fmt.Fprintf(&sb, " (%s)", firstLine(s.Error))
		}
	}
	if success {
		p.logger.Info("Plan completed.", zap.String("plan_id", plan.ID))
	} else {
		p.logger.Warn("Plan failed.", zap.String("plan_id", plan.ID), zap.String("error", errMsg))
	}
	return &schemas.ExecuteResult{
		Success: success,
		Result:  sb.String(),
		Error:   errMsg,
		Actions: actions,
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
