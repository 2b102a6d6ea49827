package reasoner

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/codeact"
)

// intent is one concrete browser step recognised in a goal.
type intent struct {
	Tool    string
	Args    map[string]interface{}
	Thought string
	// Target is the human-readable thing acted on, matched against page elements.
	Target string
}

var (
	urlRegex    = regexp.MustCompile(`(?i)\bhttps?://[^\s"'<>，。]+`)
	domainRegex = regexp.MustCompile(`(?i)\b(?:www\.)?[a-z0-9][a-z0-9-]*(?:\.[a-z0-9-]+)*\.(?:com|org|net|io|dev|edu|gov|co|cn|uk|de|jp|app)\b(?:/[^\s"'<>，。]*)?`)
	quoteRegex  = regexp.MustCompile(`["“'‘「]([^"”'’」]+)["”'’」]`)

	clickRegex         = regexp.MustCompile(`(?i)\b(?:click|press|tap|hit)\s+(?:on\s+)?(?:the\s+)?(.+?)(?:\s+(?:button|link|tab|icon))?$`)
	clickZHRegex       = regexp.MustCompile(`(?:点击|单击|按下)(.+?)(?:按钮|链接)?$`)
	typeRegex          = regexp.MustCompile(`(?i)\b(?:type|enter|fill in|input)\s+(.+?)\s+(?:into|in)\s+(?:the\s+)?(.+?)(?:\s+(?:field|box|input))?$`)
	typeZHRegex        = regexp.MustCompile(`在(.+?)(?:中|里)?输入(.+)$`)
	searchRegex        = regexp.MustCompile(`(?i)\bsearch\s+(?:for\s+)?(.+)$`)
	searchZHRegex      = regexp.MustCompile(`搜索(.+)$`)
	pressKeyRegex      = regexp.MustCompile(`(?i)\bpress\s+(?:the\s+)?(enter|return|tab|escape|esc|backspace|space|arrow\s*(?:up|down|left|right))(?:\s+key)?\b`)
	waitRegex          = regexp.MustCompile(`(?i)\bwait\s+(?:for\s+)?(\d+)\s*(ms|milliseconds?|s|secs?|seconds?)?\b|等待\s*(\d+)\s*秒`)
	deleteAccountRegex = regexp.MustCompile(`(?i)(delete|close|deactivate)\s+(my\s+|the\s+)?account|删除账号|删除帐号|注销账号|注销账户`)

	extractWords = []string{"extract", "scrape", "collect", "list all", "get all", "find all", "提取", "抓取", "获取", "收集"}
	scrollWords  = []string{"scroll", "滚动", "下拉"}
	backWords    = []string{"go back", "navigate back", "返回上一页", "后退"}
	shotWords    = []string{"screenshot", "截图", "截屏"}

	// Clause separators used to split a goal into ordered steps.
	clauseSplitRegex = regexp.MustCompile(`(?i)\s*(?:;|，|。|；|\bthen\b|\band then\b|\bafter that\b|然后|接着|之后|并且)\s*`)
)

// splitClauses breaks a goal into ordered clauses.
func splitClauses(goal string) []string {
	var out []string
	for _, part := range clauseSplitRegex.Split(goal, -1) {
		part = strings.Trim(strings.TrimSpace(part), ",.")
		part = strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(part, "and "), "And "))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseIntents derives the ordered browser steps a goal asks for.
func parseIntents(goal string) []intent {
	var intents []intent
	for _, clause := range splitClauses(goal) {
		intents = append(intents, clauseIntents(clause)...)
	}
	return intents
}

func clauseIntents(clause string) []intent {
	lower := strings.ToLower(clause)
	var out []intent

	if u, raw := findURL(clause); u != "" {
		out = append(out, intent{
			Tool:    schemas.ToolNavigate,
			Args:    map[string]interface{}{"url": u},
			Thought: "Navigate to " + u,
			Target:  u,
		})
		// "open example.com" is fully described by the navigation.
		rest := strings.TrimSpace(strings.Replace(clause, raw, "", 1))
		if len(strings.Fields(rest)) <= 3 {
			return out
		}
	}

	switch {
	case deleteAccountRegex.MatchString(clause):
		target := deleteAccountRegex.FindString(clause)
		out = append(out, intent{
			Tool:    schemas.ToolClick,
			Args:    map[string]interface{}{"text": target},
			Thought: "Click " + target + " to " + clause,
			Target:  target,
		})
	case pressKeyRegex.MatchString(clause):
		key := pressKeyRegex.FindStringSubmatch(clause)[1]
		out = append(out, intent{Tool: schemas.ToolPressKey, Args: map[string]interface{}{"key": key}, Thought: "Press " + key})
	case waitRegex.MatchString(clause):
		ms := waitMillis(waitRegex.FindStringSubmatch(clause))
		out = append(out, intent{Tool: schemas.ToolWait, Args: map[string]interface{}{"ms": ms}, Thought: fmt.Sprintf("Wait %dms", ms)})
	case containsAny(lower, backWords):
		out = append(out, intent{Tool: schemas.ToolGoBack, Args: map[string]interface{}{}, Thought: "Go back to the previous page"})
	case containsAny(lower, shotWords):
		out = append(out, intent{Tool: schemas.ToolScreenshot, Args: map[string]interface{}{}, Thought: "Capture a screenshot"})
	case containsAny(lower, extractWords):
		out = append(out, extractIntent(clause))
	case typeRegex.MatchString(clause) || typeZHRegex.MatchString(clause):
		out = append(out, typeIntent(clause))
	case searchRegex.MatchString(clause) || searchZHRegex.MatchString(clause):
		out = append(out, searchIntent(clause))
	case clickRegex.MatchString(clause) || clickZHRegex.MatchString(clause):
		target := clickTarget(clause)
		out = append(out, intent{
			Tool:    schemas.ToolClick,
			Args:    map[string]interface{}{"text": target},
			Thought: "Click " + target,
			Target:  target,
		})
	case containsAny(lower, scrollWords):
		dir := "down"
		if strings.Contains(lower, "up") || strings.Contains(clause, "向上") {
			dir = "up"
		}
		out = append(out, intent{Tool: schemas.ToolScroll, Args: map[string]interface{}{"direction": dir}, Thought: "Scroll " + dir})
	}
	return out
}

func waitMillis(m []string) int {
	if m[3] != "" {
		n, _ := strconv.Atoi(m[3])
		return n * 1000
	}
	n, _ := strconv.Atoi(m[1])
	if strings.HasPrefix(strings.ToLower(m[2]), "m") {
		return n
	}
	return n * 1000
}

// findURL returns the normalised URL in clause and the text it was read from.
func findURL(clause string) (string, string) {
	if u := urlRegex.FindString(clause); u != "" {
		u = strings.TrimRight(u, ".,;)")
		return u, u
	}
	if d := domainRegex.FindString(clause); d != "" {
		d = strings.TrimRight(d, ".,;)")
		return "https://" + d, d
	}
	return "", ""
}

func quoted(clause string) string {
	if m := quoteRegex.FindStringSubmatch(clause); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return ""
}

func clickTarget(clause string) string {
	if q := quoted(clause); q != "" {
		return q
	}
	if m := clickRegex.FindStringSubmatch(clause); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	if m := clickZHRegex.FindStringSubmatch(clause); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return clause
}

func typeIntent(clause string) intent {
	var text, field string
	if m := typeRegex.FindStringSubmatch(clause); len(m) > 2 {
		text, field = m[1], m[2]
	} else if m := typeZHRegex.FindStringSubmatch(clause); len(m) > 2 {
		field, text = m[1], m[2]
	}
	if q := quoted(text); q != "" {
		text = q
	}
	text = strings.Trim(strings.TrimSpace(text), `"'“”`)
	field = strings.TrimSpace(field)
	return intent{
		Tool:    schemas.ToolType,
		Args:    map[string]interface{}{"text": text, "selector": fallbackInputSelector},
		Thought: "Type " + text + " into " + field,
		Target:  field,
	}
}

func searchIntent(clause string) intent {
	var query string
	if m := searchRegex.FindStringSubmatch(clause); len(m) > 1 {
		query = m[1]
	} else if m := searchZHRegex.FindStringSubmatch(clause); len(m) > 1 {
		query = m[1]
	}
	if q := quoted(query); q != "" {
		query = q
	}
	query = strings.Trim(strings.TrimSpace(query), `"'“”`)
	return intent{
		Tool:    schemas.ToolType,
		Args:    map[string]interface{}{"text": query, "selector": fallbackInputSelector, "submit": true},
		Thought: "Search for " + query,
		Target:  "search",
	}
}

// extractSelectors maps an extraction mode to the selector and attribute read.
var extractSelectors = map[string][2]string{
	codeact.ModeLinks:    {"a[href]", "href"},
	codeact.ModeInputs:   {"input, textarea, select", "name"},
	codeact.ModeHeadings: {"h1, h2, h3", ""},
	codeact.ModePrices:   {"[class*=price], [itemprop=price]", ""},
	codeact.ModeText:     {"body", ""},
}

func extractIntent(clause string) intent {
	mode := codeact.ExtractionMode(clause)
	sel := extractSelectors[mode]
	args := map[string]interface{}{"selector": sel[0]}
	if sel[1] != "" {
		args["attribute"] = sel[1]
	}
	return intent{
		Tool:    schemas.ToolExtract,
		Args:    args,
		Thought: "Extract " + mode + " from the page",
		Target:  mode,
	}
}

const fallbackInputSelector = `input[type="search"], input[name="q"], input[type="text"], textarea`

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
