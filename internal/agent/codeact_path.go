package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/codeact"
	"github.com/xkilldash9x/webpilot/internal/events"
	"github.com/xkilldash9x/webpilot/internal/gating"
)

// actSandboxed runs the iteration as a script. The script itself has no
// access to the browser; tool calls it asks for run afterwards as ordinary
// actions, each through the danger gate.
func (c *Controller) actSandboxed(ctx context.Context, st *schemas.ControllerState, action *schemas.Action, decision gating.Decision) {
	c.setStatus(st, schemas.StatusExecutingSandboxed)
	action.RequiresSandbox = true
	if action.Tool == "" {
		action.Tool = decision.SuggestedTask
	}
	if action.Tool == "" {
		action.Tool = gating.TaskRunScript
	}

	c.emit(ctx, st, events.CodeActTriggered, events.CodeActPayload{
		ActionID:      action.ID,
		Rules:         decision.RuleNames(),
		SuggestedTask: decision.SuggestedTask,
		Confidence:    decision.Confidence,
	})

	in := codeact.Input{
		Task:        decision.SuggestedTask,
		Goal:        st.Goal,
		Instruction: st.ContextString(schemas.ContextKeyInstruction),
		Observation: st.CurrentObservation,
		Failed:      lastFailedSelectorAction(st.ActionHistory),
		MaxActions:  codeact.DefaultMaxActions,
	}
	code := action.Code
	sctx := codeact.BuildContext(in)
	if code == "" {
		script, err := codeact.Generate(in)
		if err != nil {
			c.finishSandboxed(ctx, st, action, &schemas.SandboxResult{Error: err.Error()}, nil)
			return
		}
		code, sctx = script.Code, script.Context
	}
	action.Code = code

	c.emit(ctx, st, events.CodeActExecuting, events.CodeActPayload{
		ActionID:      action.ID,
		SuggestedTask: decision.SuggestedTask,
	})
	res := c.callSandbox(ctx, code, sctx)
	if !res.Success {
		c.finishSandboxed(ctx, st, action, &res, nil)
		return
	}

	outcome := codeact.ParseOutcome(res.Result, codeact.DefaultMaxActions)
	c.finishSandboxed(ctx, st, action, &res, &outcome)

	for i, f := range outcome.Actions {
		if c.stopping.Load() || ctx.Err() != nil {
			c.logger.Info("Skipping remaining script actions.", zap.Int("remaining", len(outcome.Actions)-i))
			return
		}
		if st.ConsecutiveFailures >= st.MaxConsecutiveFailures {
			c.logger.Info("Failure budget spent, skipping remaining script actions.",
				zap.Int("remaining", len(outcome.Actions)-i),
				zap.Int("consecutive_failures", st.ConsecutiveFailures))
			return
		}
		thought := f.Thought
		if thought == "" {
			thought = fmt.Sprintf("Script requested %s (%d of %d)", f.Tool, i+1, len(outcome.Actions))
		}
		c.actDirect(ctx, st, &schemas.Action{
			ID:         uuid.NewString(),
			Thought:    thought,
			Tool:       f.Tool,
			Args:       f.Args,
			Reasoning:  "Requested by sandbox script " + action.ID,
			Confidence: action.Confidence,
			Timestamp:  time.Now().UTC(),
		})
	}
}

// finishSandboxed records the script action and emits its outcome.
func (c *Controller) finishSandboxed(ctx context.Context, st *schemas.ControllerState, action *schemas.Action, res *schemas.SandboxResult, outcome *codeact.Outcome) {
	result := &schemas.ActionResult{
		Success:  res.Success,
		Error:    res.Error,
		Duration: res.Duration,
	}
	if !res.Success {
		result.ErrorCode = schemas.ErrCodeSandboxError
	}
	if outcome != nil {
		data := map[string]interface{}{"data": outcome.Data}
		if outcome.Summary != "" {
			data["summary"] = outcome.Summary
		}
		if res.Stdout != "" {
			data["stdout"] = res.Stdout
		}
		if len(outcome.Actions) > 0 {
			data["requestedActions"] = len(outcome.Actions)
		}
		result.Data = data
	}
	result.Verified = boolPtr(res.Success)
	action.Result = result
	c.record(st, action)

	payload := events.CodeActPayload{ActionID: action.ID, Result: res}
	if res.Success {
		c.logger.Info("Sandbox script completed.", zap.Duration("duration", res.Duration))
		c.emit(ctx, st, events.CodeActCompleted, payload)
		return
	}
	c.logger.Warn("Sandbox script failed.", zap.String("error", res.Error), zap.String("stderr", res.Stderr))
	c.emit(ctx, st, events.CodeActFailed, payload)
}

func (c *Controller) callSandbox(ctx context.Context, code string, sctx map[string]interface{}) (res schemas.SandboxResult) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Sandbox adapter panicked.", zap.Any("panic_value", r), zap.Stack("stack"))
			res = schemas.SandboxResult{Error: fmt.Sprintf("sandbox panicked: %v", r)}
		}
	}()
	return c.sandbox.Execute(ctx, code, sctx, c.opts.SandboxTimeout)
}

func lastFailedSelectorAction(history []*schemas.Action) *schemas.Action {
	for i := len(history) - 1; i >= 0; i-- {
		a := history[i]
		if a.Failed() && schemas.IsSelectorTool(a.Tool) {
			return a
		}
		if a.Succeeded() {
			return nil
		}
	}
	return nil
}
