package reasoner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// RuleBased is the deterministic reasoner used when no model is configured
// and whenever model output cannot be used. It works from keyword and regex
// heuristics over the goal string.
type RuleBased struct {
	logger *zap.Logger
}

// NewRuleBased creates the rule-based reasoner.
func NewRuleBased(logger *zap.Logger) *RuleBased {
	return &RuleBased{logger: logger.Named("rule_reasoner")}
}

// Think proposes the first goal step that has not yet succeeded, or signals
// completion once every recognised step has.
func (r *RuleBased) Think(_ context.Context, tc schemas.ThinkContext) (*schemas.ThinkingResult, error) {
	result := r.think(tc)
	result.Fallback = true
	return result, nil
}

func (r *RuleBased) think(tc schemas.ThinkContext) *schemas.ThinkingResult {
	intents := parseIntents(tc.Goal)
	if startURL, _ := tc.TaskContext[schemas.ContextKeyStartURL].(string); startURL != "" {
		if len(intents) == 0 || intents[0].Tool != schemas.ToolNavigate {
			intents = append([]intent{{
				Tool:    schemas.ToolNavigate,
				Args:    map[string]interface{}{"url": startURL},
				Thought: "Navigate to the start page " + startURL,
				Target:  startURL,
			}}, intents...)
		}
	}

	if len(intents) == 0 {
		return r.observeOrFinish(tc)
	}

	done := satisfied(intents, tc.History)
	if done >= len(intents) {
		return &schemas.ThinkingResult{
			Thought:           "Every step of the goal has succeeded.",
			Reasoning:         describeDone(intents),
			Confidence:        0.9,
			IsComplete:        true,
			CompletionMessage: "Completed: " + describeDone(intents),
		}
	}

	if tc.Guidance != "" {
		if last := lastAction(tc.History); last != nil && last.Tool != schemas.ToolObserve {
			return &schemas.ThinkingResult{
				Thought:    "Re-reading the page before trying again.",
				Tool:       schemas.ToolObserve,
				Args:       map[string]interface{}{},
				Reasoning:  tc.Guidance,
				Confidence: 0.5,
			}
		}
	}

	next := intents[done]
	args := cloneArgs(next.Args)
	confidence := 0.6
	if el := resolveElement(tc.Observation, next); el != nil {
		args["selector"] = el.Selector
		confidence = 0.8
	}

	r.logger.Debug("Rule-based decision",
		zap.String("tool", next.Tool),
		zap.Int("step", done+1),
		zap.Int("steps", len(intents)),
	)
	return &schemas.ThinkingResult{
		Thought:    next.Thought,
		Tool:       next.Tool,
		Args:       args,
		Reasoning:  fmt.Sprintf("Step %d of %d recognised in the goal.", done+1, len(intents)),
		Confidence: confidence,
	}
}

func (r *RuleBased) observeOrFinish(tc schemas.ThinkContext) *schemas.ThinkingResult {
	for _, a := range tc.History {
		if a.Succeeded() && (a.Tool == schemas.ToolObserve || a.Tool == schemas.ToolGetPageInfo) {
			where := "the current page"
			if tc.Observation != nil && tc.Observation.URL != "" {
				where = tc.Observation.URL
			}
			return &schemas.ThinkingResult{
				Thought:           "No concrete browser step is recognisable in the goal.",
				Confidence:        0.3,
				IsComplete:        true,
				CompletionMessage: "No actionable browser steps recognised; observed " + where,
			}
		}
	}
	return &schemas.ThinkingResult{
		Thought:    "No concrete browser step is recognisable in the goal; reading the page first.",
		Tool:       schemas.ToolGetPageInfo,
		Args:       map[string]interface{}{},
		Reasoning:  "Rule-based fallback",
		Confidence: 0.3,
	}
}

// satisfied counts how many leading intents have a later successful action
// with the same tool, consuming history in order.
func satisfied(intents []intent, history []*schemas.Action) int {
	i := 0
	for _, a := range history {
		if i >= len(intents) {
			break
		}
		if a.Succeeded() && a.Tool == intents[i].Tool {
			i++
		}
	}
	return i
}

func describeDone(intents []intent) string {
	parts := make([]string, 0, len(intents))
	for _, in := range intents {
		parts = append(parts, in.Thought)
	}
	return strings.Join(parts, "; ")
}

func lastAction(history []*schemas.Action) *schemas.Action {
	if len(history) == 0 {
		return nil
	}
	return history[len(history)-1]
}

func cloneArgs(args map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out
}

// resolveElement finds the visible element an intent refers to.
func resolveElement(obs *schemas.Observation, in intent) *schemas.ElementInfo {
	if obs == nil || in.Target == "" {
		return nil
	}
	switch in.Tool {
	case schemas.ToolClick:
		return bestElement(obs.VisibleElements, in.Target, isClickable)
	case schemas.ToolType:
		return bestElement(obs.VisibleElements, in.Target, isTextInput)
	}
	return nil
}

func isClickable(el schemas.ElementInfo) bool {
	return (el.IsInteractable && el.Tag != "input" && el.Tag != "textarea") || el.Attributes["type"] == "submit"
}

func isTextInput(el schemas.ElementInfo) bool {
	if el.Tag == "textarea" {
		return true
	}
	if el.Tag != "input" {
		return false
	}
	switch el.Attributes["type"] {
	case "", "text", "search", "email", "url", "tel", "password", "number":
		return true
	}
	return false
}

// bestElement scores candidates by how closely their text or labelling
// attributes match target. Ties go to the earlier element.
func bestElement(elements []schemas.ElementInfo, target string, accept func(schemas.ElementInfo) bool) *schemas.ElementInfo {
	target = strings.ToLower(strings.TrimSpace(target))
	var best *schemas.ElementInfo
	bestScore := 0.0
	for i := range elements {
		el := elements[i]
		if !el.IsVisible || !accept(el) || el.Selector == "" {
			continue
		}
		score := matchScore(el, target)
		if score > bestScore {
			bestScore = score
			best = &elements[i]
		}
	}
	return best
}

func matchScore(el schemas.ElementInfo, target string) float64 {
	text := strings.ToLower(strings.TrimSpace(el.Text))
	switch {
	case text != "" && text == target:
		return 1.0
	case text != "" && strings.Contains(text, target):
		return 0.8
	case text != "" && len(text) >= 2 && strings.Contains(target, text):
		return 0.7
	}
	for _, attr := range []string{"aria-label", "placeholder", "name", "title", "value"} {
		v := strings.ToLower(el.Attributes[attr])
		if v != "" && (strings.Contains(v, target) || strings.Contains(target, v)) {
			return 0.6
		}
	}
	return 0
}

// GeneratePlan splits the goal into one step per clause.
func (r *RuleBased) GeneratePlan(_ context.Context, pc schemas.PlanContext) (*schemas.PlanningResult, error) {
	clauses := splitClauses(pc.Goal)
	if len(clauses) == 0 {
		clauses = []string{strings.TrimSpace(pc.Goal)}
	}
	plan := &schemas.Plan{
		ID:        uuid.NewString(),
		Goal:      pc.Goal,
		Status:    schemas.PlanStatusPending,
		Reasoning: fmt.Sprintf("Goal split into %d step(s) at clause boundaries.", len(clauses)),
		CreatedAt: time.Now().UTC(),
	}
	for i, c := range clauses {
		plan.Steps = append(plan.Steps, schemas.PlanStep{
			ID:          fmt.Sprintf("step-%d", i+1),
			Description: c,
			Status:      schemas.StepStatusPending,
		})
	}
	return &schemas.PlanningResult{Plan: plan, Reasoning: plan.Reasoning}, nil
}

const retryPrefix = "Retry: "

// Replan retries a failed step once. A step that already failed on retry
// ends the plan.
func (r *RuleBased) Replan(_ context.Context, rc schemas.ReplanContext) (*schemas.PlanningResult, error) {
	if rc.Plan == nil || rc.FailedStep == nil {
		return nil, fmt.Errorf("replan requires a plan and the failed step")
	}
	plan := rc.Plan.Clone()
	plan.Revision++
	idx := plan.CurrentStepIndex
	if idx < 0 || idx >= len(plan.Steps) {
		return nil, fmt.Errorf("plan has no current step to revise (index %d)", idx)
	}

	if strings.HasPrefix(rc.FailedStep.Description, retryPrefix) {
		plan.Steps[idx].Status = schemas.StepStatusFailed
		plan.Steps[idx].Error = rc.Failure
		plan.Status = schemas.PlanStatusFailed
		plan.Reasoning = "Step failed again after a retry; giving up."
		return &schemas.PlanningResult{Plan: plan, Reasoning: plan.Reasoning}, nil
	}

	plan.Steps[idx] = schemas.PlanStep{
		ID:          rc.FailedStep.ID + "-retry",
		Description: retryPrefix + rc.FailedStep.Description,
		Status:      schemas.StepStatusPending,
	}
	plan.Status = schemas.PlanStatusInProgress
	plan.Reasoning = "Retrying the failed step once: " + rc.Failure
	return &schemas.PlanningResult{Plan: plan, Reasoning: plan.Reasoning}, nil
}
