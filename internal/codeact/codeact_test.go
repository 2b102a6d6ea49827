package codeact

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/gating"
	"github.com/xkilldash9x/webpilot/internal/sandbox"
)

func el(selector, tag, text string, attrs map[string]string) schemas.ElementInfo {
	return schemas.ElementInfo{Selector: selector, Tag: tag, Text: text, Attributes: attrs, IsVisible: true, IsInteractable: true}
}

// run generates the script for in and executes it in a real sandbox.
func run(t *testing.T, in Input) Outcome {
	t.Helper()
	script, err := Generate(in)
	require.NoError(t, err)

	exec := sandbox.NewExecutor(zaptest.NewLogger(t), sandbox.Config{Timeout: 5 * time.Second})
	res := exec.Execute(context.Background(), script.Code, script.Context, 0)
	require.True(t, res.Success, "script failed: %s\nstderr: %s", res.Error, res.Stderr)
	return ParseOutcome(res.Result, in.MaxActions)
}

func TestTerms(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"english drops stop words", "Click the Login button", []string{"click", "login", "button"}},
		{"han runs become bigrams", "删除账号", []string{"删除", "除账", "账号"}},
		{"mixed", "点击 Submit 按钮", []string{"点击", "submit", "按钮"}},
		{"deduplicated", "buy buy BUY", []string{"buy"}},
		{"single letters dropped", "a b c", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Terms(tt.in))
		})
	}
}

func TestExtractionMode(t *testing.T) {
	assert.Equal(t, ModeLinks, ExtractionMode("提取所有链接"))
	assert.Equal(t, ModeLinks, ExtractionMode("Extract all links"))
	assert.Equal(t, ModeInputs, ExtractionMode("list the form fields"))
	assert.Equal(t, ModeHeadings, ExtractionMode("get every heading"))
	assert.Equal(t, ModePrices, ExtractionMode("collect the prices"))
	assert.Equal(t, ModeText, ExtractionMode("scrape the page"))
}

func TestGenerate_UnknownTaskFallsBack(t *testing.T) {
	script, err := Generate(Input{Task: "does_not_exist", Goal: "inspect"})
	require.NoError(t, err)
	assert.Equal(t, gating.TaskRunScript, script.Task)
	assert.Contains(t, script.Code, "function ranked")
}

func TestExtractLinks(t *testing.T) {
	out := run(t, Input{
		Task:        gating.TaskExtractData,
		Instruction: "提取所有链接",
		Observation: &schemas.Observation{
			URL: "https://news.example",
			VisibleElements: []schemas.ElementInfo{
				el("a.one", "a", "First", map[string]string{"href": "https://news.example/1"}),
				el("a.two", "A", "Second", map[string]string{"href": "https://news.example/2"}),
				el("a.dup", "a", "First", map[string]string{"href": "https://news.example/1"}),
				el("a.nohref", "a", "Anchor", nil),
				el("button", "button", "Subscribe", nil),
			},
		},
	})

	assert.Contains(t, out.Summary, "Extracted 2 links")
	data := out.Data.(map[string]interface{})
	assert.Equal(t, "links", data["mode"])
	assert.Equal(t, []interface{}{
		map[string]interface{}{"text": "First", "href": "https://news.example/1"},
		map[string]interface{}{"text": "Second", "href": "https://news.example/2"},
	}, data["items"])
	assert.Empty(t, out.Actions)
}

func TestRetryWithScript(t *testing.T) {
	failed := &schemas.Action{Tool: schemas.ToolClick, Args: map[string]interface{}{"selector": "#buy-now", "text": "Buy now"}}
	out := run(t, Input{
		Task:   gating.TaskRetryWithScript,
		Goal:   "buy the book",
		Failed: failed,
		Observation: &schemas.Observation{VisibleElements: []schemas.ElementInfo{
			el("#buy-now", "button", "Buy now", nil),
			el("#wishlist", "button", "Add to wishlist", nil),
			el("button.purchase", "button", "Buy now", nil),
		}},
	})

	require.Len(t, out.Actions, 1)
	assert.Equal(t, schemas.ToolClick, out.Actions[0].Tool)
	assert.Equal(t, "button.purchase", out.Actions[0].Args["selector"])
}

func TestRetryWithScript_TypeKeepsValue(t *testing.T) {
	failed := &schemas.Action{Tool: schemas.ToolType, Args: map[string]interface{}{"selector": "#q", "text": "golang"}}
	out := run(t, Input{
		Task:        gating.TaskRetryWithScript,
		Instruction: "search box",
		Failed:      failed,
		Observation: &schemas.Observation{VisibleElements: []schemas.ElementInfo{
			el("input[name=search]", "input", "", map[string]string{"placeholder": "Search box"}),
		}},
	})

	require.Len(t, out.Actions, 1)
	assert.Equal(t, schemas.ToolType, out.Actions[0].Tool)
	assert.Equal(t, "golang", out.Actions[0].Args["text"])
}

func TestBatchOperation(t *testing.T) {
	out := run(t, Input{
		Task:        gating.TaskBatchOperation,
		Instruction: "click every delete button",
		MaxActions:  2,
		Observation: &schemas.Observation{VisibleElements: []schemas.ElementInfo{
			el("#d1", "button", "Delete", nil),
			el("#s1", "button", "Save", nil),
			el("#d2", "button", "Delete", nil),
			el("#d3", "button", "Delete", nil),
		}},
	})

	require.Len(t, out.Actions, 2, "follow-ups are capped")
	assert.Equal(t, "#d1", out.Actions[0].Args["selector"])
	assert.Equal(t, "#d2", out.Actions[1].Args["selector"])
}

func TestComplexLogic_PicksCheapest(t *testing.T) {
	out := run(t, Input{
		Task: gating.TaskComplexLogic,
		Goal: "choose the cheapest flight",
		Observation: &schemas.Observation{VisibleElements: []schemas.ElementInfo{
			el("#f1", "button", "$1,200 Direct", nil),
			el("#f2", "button", "$450 One stop", nil),
			el("#f3", "button", "$980 Direct", nil),
		}},
	})

	data := out.Data.(map[string]interface{})
	assert.Equal(t, float64(450), data["value"])
	require.Len(t, out.Actions, 1)
	assert.Equal(t, "#f2", out.Actions[0].Args["selector"])
}

func TestProcessLargeDOM(t *testing.T) {
	elements := []schemas.ElementInfo{el("#login", "button", "Log in", nil)}
	for i := 0; i < 50; i++ {
		elements = append(elements, el("p", "p", "filler", nil))
	}
	out := run(t, Input{
		Task:        gating.TaskProcessLargeDOM,
		Instruction: "login",
		Observation: &schemas.Observation{DOMSnapshot: string(make([]byte, 12000)), VisibleElements: elements},
	})

	data := out.Data.(map[string]interface{})
	assert.Equal(t, float64(51), data["total"])
	assert.Equal(t, map[string]interface{}{"button": float64(1), "p": float64(50)}, data["byTag"])
	assert.Empty(t, out.Actions, "no click verb, no follow-up")
}

func TestParseOutcome(t *testing.T) {
	t.Run("bare values become data", func(t *testing.T) {
		assert.Equal(t, Outcome{Data: float64(3)}, ParseOutcome(float64(3), 0))
		assert.Equal(t, Outcome{Data: map[string]interface{}{"x": 1}}, ParseOutcome(map[string]interface{}{"x": 1}, 0))
	})

	t.Run("malformed actions are skipped", func(t *testing.T) {
		out := ParseOutcome(map[string]interface{}{
			"summary": "s",
			"actions": []interface{}{
				"nope",
				map[string]interface{}{"args": map[string]interface{}{}},
				map[string]interface{}{"tool": "click"},
				map[string]interface{}{"tool": "type", "args": map[string]interface{}{"text": "x"}, "thought": "t"},
			},
		}, 0)
		assert.Equal(t, "s", out.Summary)
		require.Len(t, out.Actions, 2)
		assert.Equal(t, map[string]interface{}{}, out.Actions[0].Args)
		assert.Equal(t, "t", out.Actions[1].Thought)
	})
}
