package agent

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sahilm/fuzzy"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/events"
)

// Recovery strategy names, in the order they are tried.
const (
	StrategyFuzzySelector = "fuzzy_selector"
	StrategyWaitRetry     = "wait_retry"
	StrategyScrollRetry   = "scroll_retry"
)

// unrecoverable failures are not retried; repeating them cannot help.
var unrecoverable = map[schemas.ErrorCode]bool{
	schemas.ErrCodeInvalidArguments: true,
	schemas.ErrCodeUnknownTool:      true,
	schemas.ErrCodeAdapterPanic:     true,
	schemas.ErrCodeVerification:     true,
}

// attemptRecovery tries the bounded strategies in order and returns the first
// successful result, or nil when every strategy failed.
func (c *Controller) attemptRecovery(ctx context.Context, st *schemas.ControllerState, action *schemas.Action, failed *schemas.ActionResult) *schemas.ActionResult {
	if unrecoverable[failed.ErrorCode] || action.Tool == schemas.ToolWait || action.Tool == schemas.ToolObserve {
		return nil
	}
	rc := c.opts.Agent.Recovery
	selectorTool := schemas.IsSelectorTool(action.Tool)

	if selectorTool {
		if alt := fuzzySelector(st.CurrentObservation, action, rc.FuzzyThreshold); alt != "" {
			args := cloneArgs(action.Args)
			args["selector"] = alt
			candidate := action.Clone()
			candidate.Args = args
			if c.risky(st, candidate) {
				// A different element was never shown to the user.
				c.logger.Info("Skipping alternate selector that needs confirmation.",
					zap.String("tool", action.Tool),
					zap.String("selector", alt))
			} else if r := c.retry(ctx, st, action, args, StrategyFuzzySelector); r != nil {
				action.Args = args
				return r
			}
		}
	}

	if rc.Wait > 0 {
		if !sleepCtx(ctx, rc.Wait) {
			return nil
		}
		if r := c.retry(ctx, st, action, action.Args, StrategyWaitRetry); r != nil {
			return r
		}
	}

	if selectorTool {
		scroll := c.callTool(ctx, schemas.ToolScroll, map[string]interface{}{
			"direction": "down",
			"amount":    rc.ScrollAmount,
		}, c.opts.Agent.ActionTimeout)
		if scroll.Success {
			if r := c.retry(ctx, st, action, action.Args, StrategyScrollRetry); r != nil {
				return r
			}
		}
	}
	return nil
}

func (c *Controller) retry(ctx context.Context, st *schemas.ControllerState, action *schemas.Action, args map[string]interface{}, strategy string) *schemas.ActionResult {
	if ctx.Err() != nil {
		return nil
	}
	c.logger.Debug("Attempting recovery.", zap.String("tool", action.Tool), zap.String("strategy", strategy))
	result := toActionResult(c.callTool(ctx, action.Tool, args, c.opts.Agent.ActionTimeout))
	if !result.Success {
		return nil
	}
	attempt := action.Clone()
	attempt.Args = args
	c.verify(ctx, st, attempt, result)
	if !result.Success {
		return nil
	}

	result.Recovered = true
	result.RecoveryStrategy = strategy
	c.logger.Info("Action recovered.", zap.String("tool", action.Tool), zap.String("strategy", strategy))
	c.emit(ctx, st, events.ActionRecovered, events.ActionPayload{Action: attempt, Strategy: strategy})
	return result
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func cloneArgs(args map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out
}

// -- Fuzzy Selector Matching --

var (
	quotedValueRegex  = regexp.MustCompile(`["']([^"']+)["']`)
	selectorWordRegex = regexp.MustCompile(`[\p{L}\p{N}]+`)

	// selectorNoise are selector tokens that say nothing about the element.
	selectorNoise = map[string]bool{
		"a": true, "btn": true, "button": true, "input": true, "div": true, "span": true,
		"li": true, "ul": true, "nth": true, "child": true, "of": true, "type": true,
		"form": true, "container": true, "wrapper": true, "id": true, "class": true,
		"name": true, "aria": true, "label": true, "data": true, "testid": true,
	}
)

// fuzzyPattern derives the human-readable target of an action: its text
// argument, a quoted attribute value in its selector, or the selector's
// meaningful words.
func fuzzyPattern(action *schemas.Action) string {
	if text := action.StringArg("text"); text != "" && action.Tool != schemas.ToolType {
		return strings.ToLower(strings.TrimSpace(text))
	}
	selector := action.StringArg("selector")
	if selector == "" {
		return ""
	}
	if m := quotedValueRegex.FindStringSubmatch(selector); len(m) > 1 {
		return strings.ToLower(strings.TrimSpace(m[1]))
	}
	var words []string
	for _, w := range selectorWordRegex.FindAllString(strings.ToLower(selector), -1) {
		if !selectorNoise[w] {
			words = append(words, w)
		}
	}
	return strings.Join(words, " ")
}

func elementLabel(el schemas.ElementInfo) string {
	for _, v := range []string{
		el.Text,
		el.Attributes["aria-label"],
		el.Attributes["placeholder"],
		el.Attributes["name"],
		el.Attributes["title"],
		el.Attributes["id"],
		el.Attributes["value"],
	} {
		if v = strings.TrimSpace(v); v != "" {
			return strings.ToLower(v)
		}
	}
	return ""
}

func compatible(tool string, el schemas.ElementInfo) bool {
	switch tool {
	case schemas.ToolType:
		return el.Tag == "input" || el.Tag == "textarea" || el.Attributes["contenteditable"] == "true"
	case schemas.ToolSelect:
		return el.Tag == "select"
	case schemas.ToolClick:
		return el.IsInteractable
	}
	return true
}

// fuzzySelector finds a visible element whose label fuzzily matches the
// action's target well enough to stand in for the failed selector. The
// similarity is the share of the label covered by the pattern.
func fuzzySelector(obs *schemas.Observation, action *schemas.Action, threshold float64) string {
	if obs == nil {
		return ""
	}
	pattern := fuzzyPattern(action)
	if pattern == "" {
		return ""
	}
	original := action.StringArg("selector")

	var candidates []schemas.ElementInfo
	var labels []string
	for _, el := range obs.VisibleElements {
		if !el.IsVisible || el.Selector == "" || el.Selector == original || !compatible(action.Tool, el) {
			continue
		}
		label := elementLabel(el)
		if label == "" {
			continue
		}
		candidates = append(candidates, el)
		labels = append(labels, label)
	}
	if len(labels) == 0 {
		return ""
	}

	for _, m := range fuzzy.Find(pattern, labels) {
		if similarity(pattern, m.Str) >= threshold {
			return candidates[m.Index].Selector
		}
	}
	return ""
}

func similarity(pattern, label string) float64 {
	p, l := utf8.RuneCountInString(pattern), utf8.RuneCountInString(label)
	if l == 0 {
		return 0
	}
	if p >= l {
		return 1
	}
	return float64(p) / float64(l)
}
