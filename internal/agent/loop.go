package agent

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/events"
	"github.com/xkilldash9x/webpilot/internal/gating"
)

// run is the iteration loop. It always returns a structured result; panics
// are converted rather than propagated.
func (c *Controller) run(ctx context.Context, st *schemas.ControllerState) (result *schemas.ExecuteResult) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Panic in controller loop.",
				zap.Any("panic_value", r),
				zap.Stack("stack"))
			result = c.fail(ctx, st, panicMessage(r))
		}
	}()

	c.publish(st)
	c.logger.Info("Starting run.",
		zap.String("goal", st.Goal),
		zap.Int("max_iterations", st.MaxIterations),
		zap.Int("max_consecutive_failures", st.MaxConsecutiveFailures))

	for {
		if reason, stop := c.terminationReason(st); stop {
			return c.fail(ctx, st, reason)
		}
		if err := c.waitIfPaused(ctx, st); err != nil {
			return c.fail(ctx, st, reasonCancelled+": "+err.Error())
		}
		if c.stopping.Load() {
			return c.fail(ctx, st, reasonStopped)
		}
		if err := ctx.Err(); err != nil {
			return c.fail(ctx, st, reasonCancelled+": "+err.Error())
		}

		st.IterationCount++
		c.emit(ctx, st, events.IterationStarted, events.IterationPayload{
			Goal:          st.Goal,
			Iteration:     st.IterationCount,
			MaxIterations: st.MaxIterations,
		})

		c.observe(ctx, st)
		c.updateGuidance(st)

		thinking, err := c.think(ctx, st)
		if err != nil {
			if ctx.Err() != nil {
				return c.fail(ctx, st, reasonCancelled+": "+ctx.Err().Error())
			}
			c.logger.Warn("Think step failed.", zap.Error(err))
			st.ConsecutiveFailures++
			if st.ConsecutiveFailures >= st.MaxConsecutiveFailures {
				return c.fail(ctx, st, reasonReasonerFailed+": "+err.Error())
			}
			c.persist(ctx, st)
			continue
		}
		if thinking.IsComplete {
			msg := thinking.CompletionMessage
			if msg == "" {
				msg = thinking.Thought
			}
			return c.finish(ctx, st, true, msg, "")
		}

		action := newAction(thinking)
		decision := c.route(st)
		if c.sandbox != nil && (action.Code != "" || (decision.ShouldUseCodeAct && sandboxable(action.Tool))) {
			c.actSandboxed(ctx, st, action, decision)
		} else {
			c.actDirect(ctx, st, action)
		}

		c.persist(ctx, st)
	}
}

// terminationReason applies the stop conditions in priority order. Completion
// is decided by the think step.
func (c *Controller) terminationReason(st *schemas.ControllerState) (string, bool) {
	switch {
	case c.stopping.Load():
		return reasonStopped, true
	case st.ConsecutiveFailures >= st.MaxConsecutiveFailures:
		return reasonTooManyFailures, true
	case st.IterationCount >= st.MaxIterations:
		return reasonMaxIterations, true
	}
	if sig, repeated := c.loops.Repeated(st.ActionHistory); repeated {
		c.logger.Warn("Repeated action detected, stopping.", zap.String("signature", sig))
		return reasonLoopDetected, true
	}
	return "", false
}

func (c *Controller) waitIfPaused(ctx context.Context, st *schemas.ControllerState) error {
	c.pauseMu.Lock()
	ch := c.resume
	c.pauseMu.Unlock()
	if ch == nil {
		return nil
	}

	prev := st.Status
	c.setStatus(st, schemas.StatusPaused)
	c.logger.Info("Run paused.")
	select {
	case <-ch:
	case <-ctx.Done():
		return ctx.Err()
	}
	c.logger.Info("Run resumed.")
	c.setStatus(st, prev)
	return nil
}

// observe refreshes the current observation. A failed observation degrades
// instead of aborting the run.
func (c *Controller) observe(ctx context.Context, st *schemas.ControllerState) {
	c.setStatus(st, schemas.StatusObserving)
	res := c.callTool(ctx, schemas.ToolObserve, map[string]interface{}{}, c.opts.Agent.ObserveTimeout)

	obs := observationFrom(res.Data)
	if !res.Success || obs == nil {
		reason := res.Error
		if reason == "" {
			reason = "observation returned no page data"
		}
		c.logger.Warn("Observation failed, continuing with a degraded view.", zap.String("error", reason))
		obs = schemas.DegradedObservation(reason)
	}
	st.PreviousObservation = st.CurrentObservation
	st.CurrentObservation = obs
}

// updateGuidance records a hint for the think step when the same tool keeps
// running without changing the page.
func (c *Controller) updateGuidance(st *schemas.ControllerState) {
	guidance := c.loops.Stalled(st.ActionHistory, st.PreviousObservation, st.CurrentObservation)
	if guidance == "" {
		delete(st.Context, schemas.ContextKeyGuidance)
		return
	}
	c.logger.Info("Injecting guidance after a stalled tool.", zap.String("guidance", guidance))
	st.Context[schemas.ContextKeyGuidance] = guidance
}

func (c *Controller) think(ctx context.Context, st *schemas.ControllerState) (*schemas.ThinkingResult, error) {
	c.setStatus(st, schemas.StatusThinking)
	tc := schemas.ThinkContext{
		Goal:                st.Goal,
		Instruction:         st.ContextString(schemas.ContextKeyInstruction),
		Observation:         st.CurrentObservation,
		PreviousObservation: st.PreviousObservation,
		History:             st.ActionHistory,
		Iteration:           st.IterationCount,
		MaxIterations:       st.MaxIterations,
		Guidance:            st.ContextString(schemas.ContextKeyGuidance),
		TaskContext:         st.Context,
	}
	result, err := c.reasoner.Think(ctx, tc)
	if err != nil {
		return nil, err
	}
	if result == nil || (!result.IsComplete && result.Tool == "" && result.Code == "") {
		return nil, errEmptyDecision
	}
	if result.Args == nil {
		result.Args = map[string]interface{}{}
	}

	c.logger.Debug("Decision made.",
		zap.String("tool", result.Tool),
		zap.Float64("confidence", result.Confidence),
		zap.Bool("complete", result.IsComplete),
		zap.Bool("fallback", result.Fallback))
	c.emit(ctx, st, events.Thinking, events.ThinkingPayload{
		Thought:    result.Thought,
		Tool:       result.Tool,
		Confidence: result.Confidence,
		IsComplete: result.IsComplete,
		Fallback:   result.Fallback,
	})
	return result, nil
}

func newAction(t *schemas.ThinkingResult) *schemas.Action {
	args := make(map[string]interface{}, len(t.Args))
	for k, v := range t.Args {
		args[k] = v
	}
	return &schemas.Action{
		ID:         uuid.NewString(),
		Thought:    t.Thought,
		Tool:       t.Tool,
		Args:       args,
		Reasoning:  t.Reasoning,
		Confidence: t.Confidence,
		Code:       t.Code,
		Timestamp:  time.Now().UTC(),
	}
}

// route asks the gating engine whether this iteration belongs on the sandbox path.
func (c *Controller) route(st *schemas.ControllerState) gating.Decision {
	if c.router == nil {
		return gating.Decision{}
	}
	gctx := gating.BuildContext(st.CurrentObservation, st.ActionHistory, st.Goal, st.ContextString(schemas.ContextKeyInstruction))
	return c.router.ShouldTriggerCodeAct(gctx)
}

// sandboxable tools are the ones a script can stand in for. Navigation and
// input still go straight to the browser when gating fires.
func sandboxable(tool string) bool {
	switch tool {
	case "", schemas.ToolClick, schemas.ToolExtract:
		return true
	}
	return false
}

// record appends a finished action and updates the failure counter.
func (c *Controller) record(st *schemas.ControllerState, action *schemas.Action) {
	st.ActionHistory = append(st.ActionHistory, action)
	switch {
	case action.Succeeded():
		st.ConsecutiveFailures = 0
	case action.Failed():
		st.ConsecutiveFailures++
	}
	c.publish(st)
}

// persist writes the live state and an auto-save for the finished iteration.
func (c *Controller) persist(ctx context.Context, st *schemas.ControllerState) {
	if c.checkpointer == nil || !c.checkpointer.Bound() {
		return
	}
	c.checkpointer.SaveState(ctx, st)
	c.checkpointer.AutoSave(ctx, st)
}
