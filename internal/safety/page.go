package safety

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// indicatorAttributes are the attributes whose values are scanned alongside text.
var indicatorAttributes = map[string]bool{
	"id": true, "class": true, "name": true, "value": true, "placeholder": true,
	"aria-label": true, "title": true, "autocomplete": true, "type": true, "action": true,
}

// maxScanBytes bounds how much markup is tokenized per detection.
const maxScanBytes = 512 * 1024

// AnalyzePage classifies the page and looks for risk indicators.
func AnalyzePage(pc *PageContext) *PageAnalysis {
	if pc == nil {
		return nil
	}
	pa := &PageAnalysis{PageType: ClassifyPage(pc.URL, pc.Title)}

	corpus := pageCorpus(pc.HTML)
	pa.HasPaymentIndicators = containsAny(corpus, paymentIndicators)
	pa.HasDeleteIndicators = containsAny(corpus, deleteIndicators)
	pa.HasAccountIndicators = containsAny(corpus, accountIndicators) || strings.Contains(corpus, "type=password")

	for _, el := range pc.VisibleElements {
		if el.Text == "" || !el.IsVisible {
			continue
		}
		if containsAny(strings.ToLower(el.Text), warningPhrases) {
			pa.WarningElements = append(pa.WarningElements, el.Clone())
		}
	}
	return pa
}

// ClassifyPage derives the page type from URL and title keywords.
func ClassifyPage(url, title string) PageType {
	lower := strings.ToLower(url + " " + title)
	for _, pk := range pageTypeKeywords {
		if containsAny(lower, pk.words) {
			return pk.pageType
		}
	}
	return PageGeneral
}

// pageCorpus flattens text nodes and selected attribute values of the markup
// into one lowercase string. Script and style bodies are skipped.
func pageCorpus(markup string) string {
	if markup == "" {
		return ""
	}
	if len(markup) > maxScanBytes {
		markup = markup[:maxScanBytes]
	}

	var sb strings.Builder
	z := html.NewTokenizer(strings.NewReader(markup))
	skip := 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			// io.EOF or malformed input; either way the corpus is complete.
			return strings.ToLower(sb.String())
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			tag := string(name)
			if tt == html.StartTagToken && (tag == "script" || tag == "style") {
				skip++
			}
			for hasAttr {
				var key, val []byte
				key, val, hasAttr = z.TagAttr()
				k := string(key)
				if !indicatorAttributes[k] {
					continue
				}
				if k == "type" {
					sb.WriteString(" type=")
				} else {
					sb.WriteByte(' ')
				}
				sb.Write(val)
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if tag := string(name); (tag == "script" || tag == "style") && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				sb.WriteByte(' ')
				sb.Write(z.Text())
			}
		}
	}
}

// TargetText finds the visible text of the element an action targets.
func TargetText(action *schemas.Action, elements []schemas.ElementInfo) string {
	if action == nil {
		return ""
	}
	if text := action.StringArg("text"); text != "" && action.Tool != schemas.ToolType {
		return text
	}
	selector := action.StringArg("selector")
	if selector == "" {
		return ""
	}
	for _, el := range elements {
		if el.Selector == selector {
			if el.Text != "" {
				return el.Text
			}
			if v := el.Attributes["aria-label"]; v != "" {
				return v
			}
			return el.Attributes["value"]
		}
	}
	return ""
}
