package gating

import (
	"strings"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// RuleType names the family a rule belongs to. Several rules may share a type.
type RuleType string

const (
	RuleDOMSize          RuleType = "dom_size"
	RuleSelectorFailures RuleType = "selector_failures"
	RuleComplexLogic     RuleType = "complex_logic"
	RuleDataExtraction   RuleType = "data_extraction"
	RuleUserInstruction  RuleType = "user_instruction"
)

// Suggested sandbox tasks, handed to the script generator.
const (
	TaskProcessLargeDOM = "process_large_dom"
	TaskRetryWithScript = "retry_with_script"
	TaskComplexLogic    = "complex_logic"
	TaskExtractData     = "extract_data"
	TaskBatchOperation  = "batch_operation"
	TaskRunScript       = "run_script"
)

// Context is everything the rules look at. It is derived per iteration and never persisted.
type Context struct {
	DOMSize                     int
	ConsecutiveSelectorFailures int
	UserInstruction             string
	Goal                        string
	ActionHistory               []*schemas.Action
}

// instructionText is what keyword rules match against: the explicit
// instruction when present, otherwise the goal.
func (c Context) instructionText() string {
	if strings.TrimSpace(c.UserInstruction) != "" {
		return c.UserInstruction
	}
	return c.Goal
}

// Rule is one routing heuristic. Higher Priority runs first.
type Rule struct {
	Name          string
	Type          RuleType
	Priority      int
	SuggestedTask string
	Condition     func(Context) bool
	Confidence    func(Context) float64
	Reason        func(Context) string
}

// Keyword sets. Matching is case-insensitive substring matching, which works
// for both the English and the Chinese phrases.
var (
	complexLogicKeywords = []string{
		"for each", "foreach", "iterate", "loop", "calculate", "compute", "compare", "sort", "filter",
		"sum of", "average", "count the", "if there", "otherwise",
		"循环", "遍历", "计算", "比较", "排序", "筛选", "过滤", "统计", "求和", "平均", "如果",
	}
	dataExtractionKeywords = []string{
		"extract", "scrape", "collect", "gather", "harvest", "list all", "get all", "all links",
		"all the links", "table data", "export",
		"提取", "抓取", "采集", "收集", "爬取", "获取所有", "所有链接", "导出", "表格数据",
	}
	batchKeywords = []string{
		"batch", "bulk", "in bulk", "all of the", "every ", "each of", "multiple", "one by one",
		"批量", "全部", "每一个", "每个", "多个", "逐个", "依次",
	}
	scriptKeywords = []string{
		"script", "javascript", "js code", "run code", "execute code", "write code", "```",
		"脚本", "代码", "执行js", "运行代码",
	}
)

// matchKeywords returns the keywords from set found in text.
func matchKeywords(text string, set []string) []string {
	lower := strings.ToLower(text)
	var hits []string
	for _, kw := range set {
		if strings.Contains(lower, kw) {
			hits = append(hits, kw)
		}
	}
	return hits
}

func keywordRule(name string, typ RuleType, priority int, task string, set []string, confidence float64, label string) Rule {
	return Rule{
		Name:          name,
		Type:          typ,
		Priority:      priority,
		SuggestedTask: task,
		Condition: func(c Context) bool {
			return len(matchKeywords(c.instructionText(), set)) > 0
		},
		Confidence: func(Context) float64 { return confidence },
		Reason: func(c Context) string {
			return label + ": " + strings.Join(matchKeywords(c.instructionText(), set), ", ")
		},
	}
}

// DefaultRules returns the built-in rules for the given thresholds.
func DefaultRules(domThreshold, failureThreshold int) []Rule {
	if domThreshold <= 0 {
		domThreshold = DefaultDOMSizeThreshold
	}
	if failureThreshold <= 0 {
		failureThreshold = DefaultSelectorFailureThreshold
	}

	return []Rule{
		{
			Name:          "dom_size",
			Type:          RuleDOMSize,
			Priority:      100,
			SuggestedTask: TaskProcessLargeDOM,
			Condition:     func(c Context) bool { return c.DOMSize > domThreshold },
			Confidence: func(c Context) float64 {
				over := float64(c.DOMSize-domThreshold) / float64(domThreshold)
				return capConfidence(0.6 + 0.35*over)
			},
			Reason: func(c Context) string {
				return "page is large: " + itoa(c.DOMSize) + " characters of DOM"
			},
		},
		{
			Name:          "selector_failures",
			Type:          RuleSelectorFailures,
			Priority:      90,
			SuggestedTask: TaskRetryWithScript,
			Condition:     func(c Context) bool { return selectorFailures(c) >= failureThreshold },
			Confidence: func(c Context) float64 {
				return capConfidence(0.5 + 0.15*float64(selectorFailures(c)))
			},
			Reason: func(c Context) string {
				return itoa(selectorFailures(c)) + " consecutive selector failures"
			},
		},
		keywordRule("user_instruction_script", RuleUserInstruction, 80, TaskRunScript, scriptKeywords, 0.9, "script requested"),
		keywordRule("data_extraction", RuleDataExtraction, 70, TaskExtractData, dataExtractionKeywords, 0.85, "data extraction"),
		keywordRule("user_instruction_batch", RuleUserInstruction, 60, TaskBatchOperation, batchKeywords, 0.8, "batch operation"),
		keywordRule("complex_logic", RuleComplexLogic, 50, TaskComplexLogic, complexLogicKeywords, 0.7, "complex logic"),
	}
}

// selectorFailures takes the larger of the reported count and the trailing
// failures visible in history.
func selectorFailures(c Context) int {
	n := CountTrailingSelectorFailures(c.ActionHistory)
	if c.ConsecutiveSelectorFailures > n {
		return c.ConsecutiveSelectorFailures
	}
	return n
}

// CountTrailingSelectorFailures counts failed click/type/waitForSelector
// actions at the end of history. Any other action ends the run.
func CountTrailingSelectorFailures(history []*schemas.Action) int {
	count := 0
	for i := len(history) - 1; i >= 0; i-- {
		a := history[i]
		switch a.Tool {
		case schemas.ToolClick, schemas.ToolType, schemas.ToolWaitForSelector:
		default:
			return count
		}
		if !a.Failed() {
			return count
		}
		count++
	}
	return count
}

func capConfidence(c float64) float64 {
	if c > maxConfidence {
		return maxConfidence
	}
	if c < 0 {
		return 0
	}
	return c
}
