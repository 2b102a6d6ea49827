package reasoner

import (
	"fmt"
	"strings"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

const (
	promptElementLimit = 40
	promptHistoryLimit = 8
	promptTextLimit    = 120
)

// thinkSystemPrompt is the instruction set for choosing the next action.
func thinkSystemPrompt() string {
	return `You are the decision core of 'webpilot', an autonomous browser agent.
You operate in an observe, think, act, verify loop. Each turn you receive the goal, the current page and
the recent action history, and you respond with a single JSON object describing the next action.` +
		toolListPrompt() + errorHandlingPrompt() + `

Response format:
{"thought": "...", "tool": "<tool name>", "args": {...}, "reasoning": "...", "confidence": 0.0-1.0,
 "isComplete": false, "completionMessage": "", "code": ""}

- When the goal is achieved, set "isComplete": true, leave "tool" empty and explain the outcome in "completionMessage".
- "code" is optional JavaScript for bulk data processing over the page elements, run in an isolated sandbox
  with a read-only "context" object. Only use it when a single tool call cannot do the job.
- Never repeat an action that already failed with the same arguments.
Your response must be only the JSON for your chosen action.`
}

func toolListPrompt() string {
	return `

Available tools:
- navigate: Go to a URL. (args: url)
- click: Click an element. (args: selector, or text to match visible text)
- type: Type into a field. (args: selector, text, optional submit=true, append=true)
- select: Choose an option in a <select>. (args: selector, value)
- pressKey: Press a key such as Enter, Tab, Escape, ArrowDown. (args: key, optional selector)
- scroll: Scroll the page. (args: direction "up" or "down", optional amount in pixels, or selector)
- wait: Pause. (args: ms)
- waitForSelector: Wait for an element to become visible. (args: selector, optional timeout)
- observe: Re-read the page elements.
- getPageInfo: Read URL, title and load state.
- extract: Read text or an attribute from every match. (args: selector, optional attribute)
- screenshot: Capture the viewport.
- goBack: Return to the previous page.`
}

func errorHandlingPrompt() string {
	return `

Error handling, by the "errorCode" of a failed action:
- ` + "`ELEMENT_NOT_FOUND`" + `: The selector matched nothing visible. Pick a different element from the page list, or scroll first.
- ` + "`TIMEOUT_ERROR`" + `: The page was slow. Consider wait or waitForSelector before retrying.
- ` + "`NAVIGATION_ERROR`" + `: The URL could not be reached. Check the URL or go back.
- ` + "`INVALID_ARGUMENTS`" + `: Required arguments were missing. Correct them.
- ` + "`REJECTED_BY_USER`" + `: The user declined the action. Do not propose it again; find another way or finish.
- ` + "`BLOCKED_BY_POLICY`" + `: The action is too dangerous to run. Do not retry it.
- ` + "`EXECUTION_FAILURE`" + `: A generic failure occurred. Read the error and try an alternative approach.`
}

func planSystemPrompt() string {
	return `You are the planner of 'webpilot', an autonomous browser agent.
Break the user's goal into a short ordered list of concrete browser sub-goals. Each step must be achievable
by a few tool calls (navigate, click, type, extract, ...) and must be phrased as an instruction.

Respond with a single JSON object:
{"reasoning": "...", "steps": [{"description": "..."}, ...]}
Use between 1 and 8 steps. Your response must be only the JSON.`
}

func replanSystemPrompt() string {
	return `You are the planner of 'webpilot', an autonomous browser agent.
A step of the current plan failed. Produce the revised list of remaining steps, starting with the step that
replaces the failed one. Keep steps that still make sense, drop those that no longer do, and return an
empty list if the goal cannot be achieved.

Respond with a single JSON object:
{"reasoning": "...", "steps": [{"description": "..."}, ...]}
Your response must be only the JSON.`
}

// promptElement is the compact element view sent to the model.
type promptElement struct {
	Selector string            `json:"selector"`
	Tag      string            `json:"tag"`
	Text     string            `json:"text,omitempty"`
	Attrs    map[string]string `json:"attrs,omitempty"`
}

type promptAction struct {
	Tool      string                 `json:"tool"`
	Args      map[string]interface{} `json:"args,omitempty"`
	Success   bool                   `json:"success"`
	Error     string                 `json:"error,omitempty"`
	ErrorCode schemas.ErrorCode      `json:"errorCode,omitempty"`
	Skipped   bool                   `json:"skipped,omitempty"`
}

type promptPage struct {
	URL       string          `json:"url"`
	Title     string          `json:"title"`
	LoadState string          `json:"loadState,omitempty"`
	Error     string          `json:"error,omitempty"`
	Elements  []promptElement `json:"elements"`
}

func pageView(obs *schemas.Observation) *promptPage {
	if obs == nil {
		return nil
	}
	page := &promptPage{URL: obs.URL, Title: obs.Title, LoadState: string(obs.LoadState), Error: obs.Error}
	for _, el := range obs.VisibleElements {
		if len(page.Elements) >= promptElementLimit {
			break
		}
		if !el.IsVisible {
			continue
		}
		page.Elements = append(page.Elements, promptElement{
			Selector: el.Selector,
			Tag:      el.Tag,
			Text:     clip(el.Text, promptTextLimit),
			Attrs:    el.Attributes,
		})
	}
	return page
}

func historyView(history []*schemas.Action) []promptAction {
	if len(history) > promptHistoryLimit {
		history = history[len(history)-promptHistoryLimit:]
	}
	out := make([]promptAction, 0, len(history))
	for _, a := range history {
		pa := promptAction{Tool: a.Tool, Args: a.Args}
		if a.Result != nil {
			pa.Success = a.Result.Success
			pa.Error = clip(a.Result.Error, promptTextLimit)
			pa.ErrorCode = a.Result.ErrorCode
			pa.Skipped = a.Result.Skipped
		}
		out = append(out, pa)
	}
	return out
}

func thinkUserPrompt(tc schemas.ThinkContext) (string, error) {
	page, err := json.Marshal(pageView(tc.Observation))
	if err != nil {
		return "", fmt.Errorf("failed to marshal page view: %w", err)
	}
	history, err := json.Marshal(historyView(tc.History))
	if err != nil {
		return "", fmt.Errorf("failed to marshal action history: %w", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Goal: %s\n", tc.Goal)
	if tc.Instruction != "" && tc.Instruction != tc.Goal {
		fmt.Fprintf(&sb, "User instruction: %s\n", tc.Instruction)
	}
	fmt.Fprintf(&sb, "Iteration: %d of %d\n", tc.Iteration, tc.MaxIterations)
	if tc.Guidance != "" {
		fmt.Fprintf(&sb, "Guidance: %s\n", tc.Guidance)
	}
	fmt.Fprintf(&sb, "\nCurrent page (JSON):\n%s\n", page)
	fmt.Fprintf(&sb, "\nRecent actions, oldest first (JSON):\n%s\n", history)
	sb.WriteString("\nDetermine the next action. Respond with a single JSON object.")
	return sb.String(), nil
}

func planUserPrompt(pc schemas.PlanContext) (string, error) {
	page, err := json.Marshal(pageView(pc.Observation))
	if err != nil {
		return "", fmt.Errorf("failed to marshal page view: %w", err)
	}
	return fmt.Sprintf("Goal: %s\n\nCurrent page (JSON):\n%s\n\nProduce the plan.", pc.Goal, page), nil
}

func replanUserPrompt(rc schemas.ReplanContext) (string, error) {
	plan, err := json.Marshal(rc.Plan)
	if err != nil {
		return "", fmt.Errorf("failed to marshal plan: %w", err)
	}
	page, err := json.Marshal(pageView(rc.Observation))
	if err != nil {
		return "", fmt.Errorf("failed to marshal page view: %w", err)
	}
	failed := ""
	if rc.FailedStep != nil {
		failed = rc.FailedStep.Description
	}
	return fmt.Sprintf("Goal: %s\n\nPlan (JSON):\n%s\n\nFailed step: %s\nFailure: %s\n\nCurrent page (JSON):\n%s\n\nProduce the revised remaining steps.",
		rc.Goal, plan, failed, rc.Failure, page), nil
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
