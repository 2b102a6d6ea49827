// Package codeact turns a gating suggestion into a sandbox script and its
// input context, and interprets what the script returns.
package codeact

import (
	"embed"
	"fmt"
	"strings"
	"unicode"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/gating"
)

//go:embed scripts/*.js
var scripts embed.FS

const (
	// DefaultMaxActions bounds the follow-up tool calls a script may request.
	DefaultMaxActions = 10
	// maxDOMContext is how much of the DOM snapshot is copied into the context.
	maxDOMContext = 50000
)

// Extraction modes understood by the extract_data script.
const (
	ModeText     = "text"
	ModeLinks    = "links"
	ModeInputs   = "inputs"
	ModeHeadings = "headings"
	ModePrices   = "prices"
)

var modeKeywords = []struct {
	mode  string
	words []string
}{
	{ModeLinks, []string{"link", "url", "href", "链接", "网址"}},
	{ModeInputs, []string{"input", "field", "form", "表单", "输入框"}},
	{ModeHeadings, []string{"heading", "headline", "标题"}},
	{ModePrices, []string{"price", "cost", "价格", "价钱"}},
}

var (
	clickWords = []string{"click", "press", "open", "select", "choose", "点击", "打开", "选择"}
	maxWords   = []string{"most expensive", "largest", "highest", "max", "最贵", "最大", "最高"}
	stopWords  = map[string]bool{
		"the": true, "a": true, "an": true, "and": true, "or": true, "of": true, "to": true, "on": true,
		"in": true, "for": true, "all": true, "every": true, "each": true, "with": true, "from": true,
		"page": true, "please": true, "then": true, "this": true, "that": true, "it": true,
	}
)

// Input is what the generator knows about the current iteration.
type Input struct {
	Task        string
	Goal        string
	Instruction string
	Observation *schemas.Observation
	// Failed is the most recent failed selector action, used by retry_with_script.
	Failed     *schemas.Action
	MaxActions int
}

// Script is a generated program plus the context it expects.
type Script struct {
	Task    string
	Code    string
	Context map[string]interface{}
}

// FollowUp is a tool call requested by a script.
type FollowUp struct {
	Tool    string
	Args    map[string]interface{}
	Thought string
}

// Outcome is the interpreted return value of a script.
type Outcome struct {
	Summary string
	Data    interface{}
	Actions []FollowUp
}

// Generate returns the script for in.Task. Unknown tasks fall back to run_script.
func Generate(in Input) (Script, error) {
	task := in.Task
	if !knownTask(task) {
		task = gating.TaskRunScript
	}
	prelude, err := scripts.ReadFile("scripts/prelude.js")
	if err != nil {
		return Script{}, fmt.Errorf("failed to load script prelude: %w", err)
	}
	body, err := scripts.ReadFile("scripts/" + task + ".js")
	if err != nil {
		return Script{}, fmt.Errorf("failed to load script for task %s: %w", task, err)
	}
	return Script{
		Task:    task,
		Code:    string(prelude) + "\n" + string(body),
		Context: BuildContext(in),
	}, nil
}

func knownTask(task string) bool {
	switch task {
	case gating.TaskProcessLargeDOM, gating.TaskRetryWithScript, gating.TaskComplexLogic,
		gating.TaskExtractData, gating.TaskBatchOperation, gating.TaskRunScript:
		return true
	}
	return false
}

// BuildContext derives the plain-data context handed to the sandbox. Field
// names are lower camel case because scripts read them directly.
func BuildContext(in Input) map[string]interface{} {
	text := in.Instruction
	if strings.TrimSpace(text) == "" {
		text = in.Goal
	}
	maxActions := in.MaxActions
	if maxActions <= 0 {
		maxActions = DefaultMaxActions
	}

	ctx := map[string]interface{}{
		"task":        in.Task,
		"goal":        in.Goal,
		"instruction": text,
		"terms":       toInterfaces(Terms(text)),
		"mode":        ExtractionMode(text),
		"pick":        pickDirection(text),
		"wantsClick":  containsAny(strings.ToLower(text), clickWords),
		"maxActions":  maxActions,
		"elements":    []interface{}{},
		"domSize":     0,
	}

	if obs := in.Observation; obs != nil {
		ctx["url"] = obs.URL
		ctx["title"] = obs.Title
		ctx["domSize"] = len([]rune(obs.DOMSnapshot))
		dom := obs.DOMSnapshot
		if len(dom) > maxDOMContext {
			dom = dom[:maxDOMContext]
		}
		ctx["dom"] = dom
		elements := make([]interface{}, 0, len(obs.VisibleElements))
		for _, el := range obs.VisibleElements {
			attrs := make(map[string]interface{}, len(el.Attributes))
			for k, v := range el.Attributes {
				attrs[k] = v
			}
			elements = append(elements, map[string]interface{}{
				"selector":     el.Selector,
				"tag":          strings.ToLower(el.Tag),
				"text":         el.Text,
				"attributes":   attrs,
				"visible":      el.IsVisible,
				"interactable": el.IsInteractable,
			})
		}
		ctx["elements"] = elements
	}

	if f := in.Failed; f != nil {
		failed := map[string]interface{}{
			"tool":     f.Tool,
			"selector": f.StringArg("selector"),
			"text":     f.StringArg("text"),
		}
		if f.Tool == schemas.ToolType {
			failed["text"] = ""
			failed["value"] = f.StringArg("text")
		}
		ctx["failed"] = failed
	}
	return ctx
}

// Terms splits text into lower-case match terms. Latin words shorter than two
// letters and stop words are dropped; runs of Han characters become bigrams.
func Terms(text string) []string {
	var terms []string
	seen := map[string]bool{}
	add := func(t string) {
		if t != "" && !seen[t] {
			seen[t] = true
			terms = append(terms, t)
		}
	}

	var word []rune
	var han []rune
	flushWord := func() {
		w := strings.ToLower(string(word))
		word = word[:0]
		if len([]rune(w)) >= 2 && !stopWords[w] {
			add(w)
		}
	}
	flushHan := func() {
		switch {
		case len(han) == 1:
			add(string(han))
		case len(han) > 1:
			for i := 0; i+1 < len(han); i++ {
				add(string(han[i : i+2]))
			}
		}
		han = han[:0]
	}

	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			flushWord()
			han = append(han, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			flushHan()
			word = append(word, r)
		default:
			flushWord()
			flushHan()
		}
	}
	flushWord()
	flushHan()
	return terms
}

// ExtractionMode picks what extract_data should collect.
func ExtractionMode(text string) string {
	lower := strings.ToLower(text)
	for _, mk := range modeKeywords {
		if containsAny(lower, mk.words) {
			return mk.mode
		}
	}
	return ModeText
}

func pickDirection(text string) string {
	if containsAny(strings.ToLower(text), maxWords) {
		return "max"
	}
	return "min"
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

func toInterfaces(in []string) []interface{} {
	out := make([]interface{}, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

// ParseOutcome interprets a script's normalized return value. A script that
// returns something other than an object yields that value as Data.
func ParseOutcome(result interface{}, maxActions int) Outcome {
	if maxActions <= 0 {
		maxActions = DefaultMaxActions
	}
	obj, ok := result.(map[string]interface{})
	if !ok {
		return Outcome{Data: result}
	}
	if _, shaped := obj["summary"]; !shaped {
		if _, hasActions := obj["actions"]; !hasActions {
			return Outcome{Data: result}
		}
	}

	out := Outcome{Data: obj["data"]}
	if s, ok := obj["summary"].(string); ok {
		out.Summary = s
	}
	list, _ := obj["actions"].([]interface{})
	for _, item := range list {
		if len(out.Actions) >= maxActions {
			break
		}
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		tool, _ := m["tool"].(string)
		if tool == "" {
			continue
		}
		args, _ := m["args"].(map[string]interface{})
		if args == nil {
			args = map[string]interface{}{}
		}
		thought, _ := m["thought"].(string)
		out.Actions = append(out.Actions, FollowUp{Tool: tool, Args: args, Thought: thought})
	}
	return out
}
