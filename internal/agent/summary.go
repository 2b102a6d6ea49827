package agent

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// summaryHint is a goal or history heuristic that adds a suggestion.
type summaryHint struct {
	applies func(st *schemas.ControllerState, recent []*schemas.Action) bool
	text    string
}

var summaryHints = []summaryHint{
	{
		applies: func(st *schemas.ControllerState, _ []*schemas.Action) bool {
			return containsAnyFold(st.Goal, "switch", "tab", "window", "切换", "标签页")
		},
		text: "The target may have opened in another browser tab; check the other tabs.",
	},
	{
		applies: func(st *schemas.ControllerState, _ []*schemas.Action) bool {
			url := ""
			if st.CurrentObservation != nil {
				url = st.CurrentObservation.URL
			}
			return containsAnyFold(st.Goal, "log in", "login", "sign in", "登录") || containsAnyFold(url, "login", "signin")
		},
		text: "The page may require signing in first.",
	},
	{
		applies: func(_ *schemas.ControllerState, recent []*schemas.Action) bool {
			return countCode(recent, schemas.ErrCodeElementNotFound) > 0
		},
		text: "Some elements could not be found; the page layout may differ from what was expected.",
	},
	{
		applies: func(_ *schemas.ControllerState, recent []*schemas.Action) bool {
			return countCode(recent, schemas.ErrCodeTimeoutError) > 0
		},
		text: "The page responded slowly; retrying later may help.",
	},
	{
		applies: func(_ *schemas.ControllerState, recent []*schemas.Action) bool {
			return countCode(recent, schemas.ErrCodeNavigationError)+countCode(recent, schemas.ErrCodeVerification) > 0
		},
		text: "Check that the URL is correct and reachable.",
	},
	{
		applies: func(_ *schemas.ControllerState, recent []*schemas.Action) bool {
			return countCode(recent, schemas.ErrCodeRejectedByUser)+countCode(recent, schemas.ErrCodeBlockedByPolicy) > 0
		},
		text: "A dangerous action was declined or blocked, so the goal could not be finished automatically.",
	},
	{
		applies: func(st *schemas.ControllerState, _ []*schemas.Action) bool {
			return st.CurrentObservation.IsDegraded()
		},
		text: "The page could not be observed; the browser may have closed or crashed.",
	},
}

// summarize builds the human-readable account of a run that ended without
// success: the reason, the most recent actions and any suggestions.
func summarize(st *schemas.ControllerState, reason string, n int) string {
	recent := st.LastActions(n)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Task %q ended after %d iteration(s): %s.", st.Goal, st.IterationCount, lowerFirst(reason))
	if reason == reasonLoopDetected {
		sb.WriteString(" The same action was repeated without progress.")
	}

	succeeded, failed, skipped := 0, 0, 0
	for _, a := range st.ActionHistory {
		switch {
		case a.Succeeded():
			succeeded++
		case a.Failed():
			failed++
		case a.Result != nil && a.Result.Skipped:
			skipped++
		}
	}
	fmt.Fprintf(&sb, " %d action(s) succeeded, %d failed, %d skipped.", succeeded, failed, skipped)

	if len(recent) > 0 {
		sb.WriteString("\nRecent actions:")
		for i, a := range recent {
			fmt.Fprintf(&sb, "\n  %d. %s", i+1, describeAction(a))
		}
	}

	var hints []string
	for _, h := range summaryHints {
		if h.applies(st, recent) {
			hints = append(hints, h.text)
		}
	}
	if len(hints) > 0 {
		sb.WriteString("\nSuggestions:")
		for _, h := range hints {
			sb.WriteString("\n  - " + h)
		}
	}
	return sb.String()
}

func describeAction(a *schemas.Action) string {
	var sb strings.Builder
	sb.WriteString(a.Tool)
	if len(a.Args) > 0 {
		keys := a.ArgKeys()
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, clipText(fmt.Sprint(a.Args[k]), 60)))
		}
		sb.WriteString("(" + strings.Join(parts, ", ") + ")")
	}
	if a.RequiresSandbox {
		sb.WriteString(" [sandbox]")
	}
	switch {
	case a.Result == nil:
		sb.WriteString(": no result")
	case a.Result.Skipped:
		sb.WriteString(": skipped, " + a.Result.Error)
	case a.Result.Success && a.Result.Recovered:
		sb.WriteString(": succeeded after " + a.Result.RecoveryStrategy)
	case a.Result.Success:
		sb.WriteString(": succeeded")
	default:
		fmt.Fprintf(&sb, ": failed (%s) %s", a.Result.ErrorCode, clipText(a.Result.Error, 120))
	}
	return sb.String()
}

func countCode(actions []*schemas.Action, code schemas.ErrorCode) int {
	n := 0
	for _, a := range actions {
		if a.Result != nil && a.Result.ErrorCode == code {
			n++
		}
	}
	return n
}

func containsAnyFold(s string, words ...string) bool {
	lower := strings.ToLower(s)
	for _, w := range words {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

func clipText(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
