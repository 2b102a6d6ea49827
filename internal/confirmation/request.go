// Package confirmation implements the human-in-the-loop gate in front of
// dangerous actions: one outstanding request at a time, always bounded by a
// timer.
package confirmation

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/safety"
)

// Status is the lifecycle state of a Request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusRejected  Status = "rejected"
	StatusTimeout   Status = "timeout"
	StatusCancelled Status = "cancelled"
)

// ElementHighlight tells a UI which element to outline while asking.
type ElementHighlight struct {
	Selector    string               `json:"selector,omitempty"`
	Text        string               `json:"text,omitempty"`
	BoundingBox *schemas.BoundingBox `json:"boundingBox,omitempty"`
	Color       string               `json:"color"`
}

// Request is a single confirmation prompt.
type Request struct {
	ID           string                `json:"id"`
	Timestamp    time.Time             `json:"timestamp"`
	Action       *schemas.Action       `json:"action"`
	Risk         safety.RiskAssessment `json:"risk"`
	Consequences []string              `json:"consequences,omitempty"`
	Preview      string                `json:"preview"`
	Highlight    *ElementHighlight     `json:"highlight,omitempty"`
	Timeout      time.Duration         `json:"timeout"`
	Status       Status                `json:"status"`
	Comment      string                `json:"comment,omitempty"`
	ResolvedAt   time.Time             `json:"resolvedAt,omitempty"`
}

// NewRequest builds a pending request for action from its detection result.
// obs is optional and only used to locate the element to highlight.
func NewRequest(action *schemas.Action, det safety.Result, timeout time.Duration, obs *schemas.Observation) *Request {
	return &Request{
		ID:           uuid.New().String(),
		Timestamp:    time.Now(),
		Action:       action.Clone(),
		Risk:         det.Risk,
		Consequences: append([]string(nil), det.Consequences...),
		Preview:      buildPreview(action, det),
		Highlight:    buildHighlight(action, det.Risk.Level, obs),
		Timeout:      timeout,
		Status:       StatusPending,
	}
}

// clone returns a copy that callers may hold without racing the manager.
func (r *Request) clone() *Request {
	if r == nil {
		return nil
	}
	c := *r
	c.Action = r.Action.Clone()
	c.Consequences = append([]string(nil), r.Consequences...)
	c.Risk.Reasons = append([]string(nil), r.Risk.Reasons...)
	if r.Highlight != nil {
		h := *r.Highlight
		if h.BoundingBox != nil {
			bb := *h.BoundingBox
			h.BoundingBox = &bb
		}
		c.Highlight = &h
	}
	return &c
}

func buildPreview(action *schemas.Action, det safety.Result) string {
	var sb strings.Builder
	if action != nil {
		fmt.Fprintf(&sb, "Action: %s", action.Tool)
		for _, k := range action.ArgKeys() {
			fmt.Fprintf(&sb, " %s=%v", k, action.Args[k])
		}
		sb.WriteByte('\n')
		if action.Thought != "" {
			fmt.Fprintf(&sb, "Intent: %s\n", action.Thought)
		}
	}
	fmt.Fprintf(&sb, "Risk: %s (score %d, category %s)\n",
		strings.ToUpper(string(det.Risk.Level)), det.Risk.Score, det.Risk.Category)
	if len(det.Consequences) > 0 {
		sb.WriteString("Possible consequences:\n")
		for _, c := range det.Consequences {
			fmt.Fprintf(&sb, "  - %s\n", c)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

var highlightColors = map[safety.RiskLevel]string{
	safety.RiskCritical: "#d32f2f",
	safety.RiskHigh:     "#f57c00",
	safety.RiskMedium:   "#fbc02d",
}

func buildHighlight(action *schemas.Action, level safety.RiskLevel, obs *schemas.Observation) *ElementHighlight {
	if action == nil {
		return nil
	}
	selector := action.StringArg("selector")
	text := ""
	if action.Tool != schemas.ToolType {
		text = action.StringArg("text")
	}
	if selector == "" && text == "" {
		return nil
	}

	color, ok := highlightColors[level]
	if !ok {
		color = "#1976d2"
	}
	h := &ElementHighlight{Selector: selector, Text: text, Color: color}
	if obs == nil {
		return h
	}
	for _, el := range obs.VisibleElements {
		if (selector != "" && el.Selector == selector) || (selector == "" && strings.TrimSpace(el.Text) == text) {
			if el.BoundingBox != nil {
				bb := *el.BoundingBox
				h.BoundingBox = &bb
			}
			if h.Selector == "" {
				h.Selector = el.Selector
			}
			break
		}
	}
	return h
}
