package agent

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/confirmation"
	"github.com/xkilldash9x/webpilot/internal/events"
	"github.com/xkilldash9x/webpilot/internal/safety"
)

// callTool invokes the tool adapter with a bounded timeout. A panicking
// adapter is reported as a failed result.
func (c *Controller) callTool(ctx context.Context, tool string, args map[string]interface{}, timeout time.Duration) (res schemas.ToolResult) {
	opCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		opCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Tool adapter panicked.",
				zap.String("tool", tool),
				zap.Any("panic_value", r),
				zap.Stack("stack"))
			res = schemas.ToolResult{
				Error:     fmt.Sprintf("tool %s panicked: %v", tool, r),
				ErrorCode: schemas.ErrCodeAdapterPanic,
			}
		}
		if res.Duration == 0 {
			res.Duration = time.Since(start)
		}
	}()

	res = c.tools.Execute(opCtx, tool, args)
	if !res.Success && res.ErrorCode == "" {
		if errors.Is(opCtx.Err(), context.DeadlineExceeded) {
			res.ErrorCode = schemas.ErrCodeTimeoutError
		} else {
			res.ErrorCode = schemas.ErrCodeExecutionFailure
		}
	}
	return res
}

func toActionResult(res schemas.ToolResult) *schemas.ActionResult {
	return &schemas.ActionResult{
		Success:   res.Success,
		Data:      res.Data,
		Error:     res.Error,
		ErrorCode: res.ErrorCode,
		Duration:  res.Duration,
	}
}

// actDirect runs one tool call through the danger gate, the adapter,
// verification and recovery, then records it.
func (c *Controller) actDirect(ctx context.Context, st *schemas.ControllerState, action *schemas.Action) {
	if !c.guard(ctx, st, action) {
		return
	}

	c.setStatus(st, schemas.StatusActing)
	c.emit(ctx, st, events.ActionStarted, events.ActionPayload{Action: action.Clone()})
	result := toActionResult(c.callTool(ctx, action.Tool, action.Args, c.opts.Agent.ActionTimeout))

	c.setStatus(st, schemas.StatusVerifying)
	if result.Success {
		c.verify(ctx, st, action, result)
	}
	if !result.Success && c.opts.Agent.Recovery.Enabled && ctx.Err() == nil {
		if recovered := c.attemptRecovery(ctx, st, action, result); recovered != nil {
			result = recovered
		}
	}

	action.Result = result
	c.record(st, action)
	if result.Success {
		c.emit(ctx, st, events.ActionCompleted, events.ActionPayload{Action: action.Clone()})
		return
	}
	c.logger.Info("Action failed.",
		zap.String("tool", action.Tool),
		zap.String("error_code", string(result.ErrorCode)),
		zap.String("error", result.Error),
		zap.Int("consecutive_failures", st.ConsecutiveFailures))
	c.emit(ctx, st, events.ActionFailed, events.ActionPayload{Action: action.Clone(), Error: result.Error})
}

// guard runs the danger detector and, when needed, the confirmation
// workflow. A declined or blocked action is recorded as skipped and guard
// reports false.
func (c *Controller) guard(ctx context.Context, st *schemas.ControllerState, action *schemas.Action) bool {
	if c.detector == nil {
		return true
	}
	det := c.detector.Detect(action, pageContext(st.CurrentObservation, action))
	if !det.NeedsConfirmation() {
		return true
	}

	c.logger.Info("Dangerous action detected.",
		zap.String("tool", action.Tool),
		zap.String("level", string(det.Risk.Level)),
		zap.Int("score", det.Risk.Score),
		zap.String("category", string(det.Risk.Category)))

	if det.Risk.Level == safety.RiskCritical && c.opts.BlockCritical {
		c.skip(ctx, st, action, schemas.ErrCodeBlockedByPolicy,
			fmt.Sprintf("Blocked by policy: %s risk (score %d)", det.Risk.Level, det.Risk.Score))
		return false
	}
	if c.confirmer == nil {
		c.skip(ctx, st, action, schemas.ErrCodeRejectedByUser,
			"Rejected: action needs confirmation but no confirmation channel is configured")
		return false
	}

	req := confirmation.NewRequest(action, det, c.opts.ConfirmationTimeout, st.CurrentObservation)
	if c.confirmer.RequestConfirmation(ctx, req) {
		return true
	}
	msg := "Rejected by user"
	switch {
	case req.Status == confirmation.StatusTimeout:
		msg = "Rejected: confirmation timed out"
	case req.Status == confirmation.StatusCancelled:
		msg = "Rejected: confirmation cancelled"
	case req.Comment != "":
		msg += ": " + req.Comment
	}
	c.skip(ctx, st, action, schemas.ErrCodeRejectedByUser, msg)
	return false
}

// risky reports whether the detector would hold action for confirmation.
func (c *Controller) risky(st *schemas.ControllerState, action *schemas.Action) bool {
	if c.detector == nil {
		return false
	}
	return c.detector.Detect(action, pageContext(st.CurrentObservation, action)).NeedsConfirmation()
}

// skip records a zero-duration pseudo-action that never reached the adapter.
// It does not count as a failure.
func (c *Controller) skip(ctx context.Context, st *schemas.ControllerState, action *schemas.Action, code schemas.ErrorCode, msg string) {
	action.Result = &schemas.ActionResult{
		Success:   false,
		Error:     msg,
		ErrorCode: code,
		Skipped:   true,
	}
	c.record(st, action)
	c.logger.Info("Action skipped.", zap.String("tool", action.Tool), zap.String("reason", msg))
	c.emit(ctx, st, events.ActionFailed, events.ActionPayload{Action: action.Clone(), Error: msg})
}

func pageContext(obs *schemas.Observation, action *schemas.Action) *safety.PageContext {
	if obs == nil {
		return &safety.PageContext{}
	}
	return &safety.PageContext{
		URL:               obs.URL,
		Title:             obs.Title,
		HTML:              obs.DOMSnapshot,
		VisibleElements:   obs.VisibleElements,
		TargetElementText: safety.TargetText(action, obs.VisibleElements),
	}
}

// -- Verification --

// verify layers an outcome check over a raw success. It may turn the result
// into a failure when the page contradicts the action.
func (c *Controller) verify(ctx context.Context, st *schemas.ControllerState, action *schemas.Action, result *schemas.ActionResult) {
	if schemas.IsReadOnlyTool(action.Tool) {
		result.Verified = boolPtr(result.Success)
		return
	}

	if action.Tool == schemas.ToolNavigate {
		c.verifyNavigation(ctx, action, result)
		return
	}

	res := c.callTool(ctx, schemas.ToolObserve, map[string]interface{}{}, c.opts.Agent.ObserveTimeout)
	after := observationFrom(res.Data)
	if !res.Success || after == nil {
		return
	}
	result.Observation = lightObservation(after)
	result.Verified = boolPtr(fingerprint(st.CurrentObservation) != fingerprint(after))
}

func (c *Controller) verifyNavigation(ctx context.Context, action *schemas.Action, result *schemas.ActionResult) {
	res := c.callTool(ctx, schemas.ToolGetPageInfo, map[string]interface{}{}, c.opts.Agent.ObserveTimeout)
	info := pageInfoFrom(res.Data)
	if !res.Success || info == nil {
		return
	}
	result.Observation = &schemas.Observation{
		Timestamp: time.Now().UTC(),
		URL:       info.URL,
		Title:     info.Title,
		LoadState: info.LoadState,
	}

	want := hostOf(action.StringArg("url"))
	got := hostOf(info.URL)
	if want == "" || got == "" {
		return
	}
	if !strings.Contains(got, want) {
		result.Success = false
		result.Verified = boolPtr(false)
		result.ErrorCode = schemas.ErrCodeVerification
		result.Error = fmt.Sprintf("navigation landed on %s instead of %s", got, want)
		return
	}
	result.Verified = boolPtr(true)
}

func hostOf(raw string) string {
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

func boolPtr(b bool) *bool { return &b }

// lightObservation keeps the page identity without the heavy DOM fields.
func lightObservation(o *schemas.Observation) *schemas.Observation {
	return &schemas.Observation{
		Timestamp: o.Timestamp,
		URL:       o.URL,
		Title:     o.Title,
		LoadState: o.LoadState,
		Error:     o.Error,
	}
}

func observationFrom(data interface{}) *schemas.Observation {
	switch v := data.(type) {
	case *schemas.Observation:
		return v
	case schemas.Observation:
		return &v
	}
	return nil
}

func pageInfoFrom(data interface{}) *schemas.PageInfo {
	switch v := data.(type) {
	case *schemas.PageInfo:
		return v
	case schemas.PageInfo:
		return &v
	case *schemas.Observation:
		return &schemas.PageInfo{URL: v.URL, Title: v.Title, LoadState: v.LoadState}
	}
	return nil
}
