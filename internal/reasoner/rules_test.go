package reasoner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

func succeeded(tool string, args map[string]interface{}) *schemas.Action {
	return &schemas.Action{Tool: tool, Args: args, Result: &schemas.ActionResult{Success: true}}
}

func failed(tool string, args map[string]interface{}) *schemas.Action {
	return &schemas.Action{Tool: tool, Args: args, Result: &schemas.ActionResult{Success: false, Error: "boom"}}
}

func TestParseIntents(t *testing.T) {
	tests := []struct {
		goal  string
		tools []string
		check func(t *testing.T, in []intent)
	}{
		{
			goal:  "Navigate to https://example.com",
			tools: []string{schemas.ToolNavigate},
			check: func(t *testing.T, in []intent) { assert.Equal(t, "https://example.com", in[0].Args["url"]) },
		},
		{
			goal:  "open github.com and search for chromedp",
			tools: []string{schemas.ToolNavigate, schemas.ToolType},
			check: func(t *testing.T, in []intent) {
				assert.Equal(t, "https://github.com", in[0].Args["url"])
				assert.Equal(t, "chromedp", in[1].Args["text"])
				assert.Equal(t, true, in[1].Args["submit"])
			},
		},
		{
			goal:  `Go to https://shop.example/cart, then click "Checkout"`,
			tools: []string{schemas.ToolNavigate, schemas.ToolClick},
			check: func(t *testing.T, in []intent) { assert.Equal(t, "Checkout", in[1].Args["text"]) },
		},
		{
			goal:  "删除账号",
			tools: []string{schemas.ToolClick},
			check: func(t *testing.T, in []intent) { assert.Equal(t, "删除账号", in[0].Args["text"]) },
		},
		{
			goal:  "提取所有链接",
			tools: []string{schemas.ToolExtract},
			check: func(t *testing.T, in []intent) {
				assert.Equal(t, "a[href]", in[0].Args["selector"])
				assert.Equal(t, "href", in[0].Args["attribute"])
			},
		},
		{
			goal:  "type 'hello world' into the message box then press Enter",
			tools: []string{schemas.ToolType, schemas.ToolPressKey},
			check: func(t *testing.T, in []intent) {
				assert.Equal(t, "hello world", in[0].Args["text"])
				assert.Equal(t, "Enter", in[1].Args["key"])
			},
		},
		{
			goal:  "wait 2 seconds; scroll down; go back",
			tools: []string{schemas.ToolWait, schemas.ToolScroll, schemas.ToolGoBack},
			check: func(t *testing.T, in []intent) {
				assert.Equal(t, 2000, in[0].Args["ms"])
				assert.Equal(t, "down", in[1].Args["direction"])
			},
		},
		{goal: "think about life", tools: nil},
	}
	for _, tt := range tests {
		t.Run(tt.goal, func(t *testing.T) {
			got := parseIntents(tt.goal)
			var tools []string
			for _, in := range got {
				tools = append(tools, in.Tool)
			}
			assert.Equal(t, tt.tools, tools)
			if tt.check != nil && len(got) == len(tt.tools) {
				tt.check(t, got)
			}
		})
	}
}

func TestRuleBased_NavigateThenComplete(t *testing.T) {
	r := NewRuleBased(zaptest.NewLogger(t))
	tc := schemas.ThinkContext{Goal: "Navigate to https://example.com"}

	res, err := r.Think(context.Background(), tc)
	require.NoError(t, err)
	assert.False(t, res.IsComplete)
	assert.Equal(t, schemas.ToolNavigate, res.Tool)
	assert.Equal(t, "https://example.com", res.Args["url"])

	tc.History = []*schemas.Action{succeeded(schemas.ToolNavigate, res.Args)}
	res, err = r.Think(context.Background(), tc)
	require.NoError(t, err)
	assert.True(t, res.IsComplete)
	assert.Contains(t, res.CompletionMessage, "https://example.com")
}

func TestRuleBased_FailedStepIsRetried(t *testing.T) {
	r := NewRuleBased(zaptest.NewLogger(t))
	tc := schemas.ThinkContext{
		Goal:    "click Buy",
		History: []*schemas.Action{failed(schemas.ToolClick, map[string]interface{}{"text": "Buy"})},
	}
	res, err := r.Think(context.Background(), tc)
	require.NoError(t, err)
	assert.Equal(t, schemas.ToolClick, res.Tool)
}

func TestRuleBased_ResolvesSelectorFromObservation(t *testing.T) {
	r := NewRuleBased(zaptest.NewLogger(t))
	obs := &schemas.Observation{
		URL: "https://example.com/settings",
		VisibleElements: []schemas.ElementInfo{
			{Selector: "#nav", Tag: "a", Text: "Home", IsVisible: true, IsInteractable: true},
			{Selector: "#danger", Tag: "button", Text: "删除账号", IsVisible: true, IsInteractable: true},
			{Selector: "#q", Tag: "input", Attributes: map[string]string{"placeholder": "删除账号"}, IsVisible: true, IsInteractable: true},
		},
	}
	res, err := r.Think(context.Background(), schemas.ThinkContext{Goal: "删除账号", Observation: obs})
	require.NoError(t, err)
	assert.Equal(t, schemas.ToolClick, res.Tool)
	assert.Equal(t, "#danger", res.Args["selector"])
	assert.Equal(t, "删除账号", res.Args["text"])
	assert.Contains(t, res.Thought, "删除账号")
	assert.InDelta(t, 0.8, res.Confidence, 1e-9)
}

func TestRuleBased_StartURLIsVisitedFirst(t *testing.T) {
	r := NewRuleBased(zaptest.NewLogger(t))
	res, err := r.Think(context.Background(), schemas.ThinkContext{
		Goal:        "click Sign in",
		TaskContext: map[string]interface{}{schemas.ContextKeyStartURL: "https://app.example"},
	})
	require.NoError(t, err)
	assert.Equal(t, schemas.ToolNavigate, res.Tool)
	assert.Equal(t, "https://app.example", res.Args["url"])
}

func TestRuleBased_GuidanceTriggersObserve(t *testing.T) {
	r := NewRuleBased(zaptest.NewLogger(t))
	res, err := r.Think(context.Background(), schemas.ThinkContext{
		Goal:     "click Buy",
		Guidance: "The click tool keeps running without changing the page.",
		History:  []*schemas.Action{failed(schemas.ToolClick, map[string]interface{}{"text": "Buy"})},
	})
	require.NoError(t, err)
	assert.Equal(t, schemas.ToolObserve, res.Tool)
	assert.Contains(t, res.Reasoning, "keeps running")
}

func TestRuleBased_UnrecognisedGoal(t *testing.T) {
	r := NewRuleBased(zaptest.NewLogger(t))
	tc := schemas.ThinkContext{Goal: "ponder"}

	res, err := r.Think(context.Background(), tc)
	require.NoError(t, err)
	assert.Equal(t, schemas.ToolGetPageInfo, res.Tool)

	tc.History = []*schemas.Action{succeeded(schemas.ToolGetPageInfo, nil)}
	res, err = r.Think(context.Background(), tc)
	require.NoError(t, err)
	assert.True(t, res.IsComplete)
}

func TestRuleBased_GeneratePlan(t *testing.T) {
	r := NewRuleBased(zaptest.NewLogger(t))
	res, err := r.GeneratePlan(context.Background(), schemas.PlanContext{
		Goal: "open example.com, then click Login; type alice into the user field 然后 press Enter",
	})
	require.NoError(t, err)
	require.Len(t, res.Plan.Steps, 4)
	assert.Equal(t, "open example.com", res.Plan.Steps[0].Description)
	assert.Equal(t, "step-4", res.Plan.Steps[3].ID)
	assert.Equal(t, schemas.PlanStatusPending, res.Plan.Status)
	for _, s := range res.Plan.Steps {
		assert.Equal(t, schemas.StepStatusPending, s.Status)
	}
}

func TestRuleBased_ReplanRetriesOnce(t *testing.T) {
	r := NewRuleBased(zaptest.NewLogger(t))
	plan := &schemas.Plan{
		Goal: "g",
		Steps: []schemas.PlanStep{
			{ID: "step-1", Description: "open example.com", Status: schemas.StepStatusCompleted},
			{ID: "step-2", Description: "click Buy", Status: schemas.StepStatusFailed},
		},
		CurrentStepIndex: 1,
	}

	res, err := r.Replan(context.Background(), schemas.ReplanContext{Plan: plan, FailedStep: &plan.Steps[1], Failure: "not found"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Plan.Revision)
	assert.Equal(t, "Retry: click Buy", res.Plan.Steps[1].Description)
	assert.Equal(t, schemas.StepStatusPending, res.Plan.Steps[1].Status)
	assert.Equal(t, schemas.StepStatusFailed, plan.Steps[1].Status, "input plan is not mutated")

	again, err := r.Replan(context.Background(), schemas.ReplanContext{Plan: res.Plan, FailedStep: &res.Plan.Steps[1], Failure: "still not found"})
	require.NoError(t, err)
	assert.Equal(t, schemas.PlanStatusFailed, again.Plan.Status)

	_, err = r.Replan(context.Background(), schemas.ReplanContext{})
	assert.Error(t, err)
}
