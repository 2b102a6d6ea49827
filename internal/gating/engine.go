// Package gating decides whether an action should run as sandboxed code
// instead of a single direct tool call.
package gating

import (
	"sort"
	"strconv"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

const (
	DefaultDOMSizeThreshold         = 10000
	DefaultSelectorFailureThreshold = 2

	maxConfidence = 0.95
)

// Decision is the routing verdict for one iteration.
type Decision struct {
	ShouldUseCodeAct bool
	TriggeredRules   []RuleType // Deduplicated, in evaluation order.
	SuggestedTask    string     // From the first matching rule.
	Confidence       float64    // Max over matching rules.
	Reasons          []string
}

// HasRule reports whether a rule of the given type fired.
func (d Decision) HasRule(t RuleType) bool {
	for _, r := range d.TriggeredRules {
		if r == t {
			return true
		}
	}
	return false
}

// RuleNames renders the triggered rule types as strings.
func (d Decision) RuleNames() []string {
	out := make([]string, len(d.TriggeredRules))
	for i, r := range d.TriggeredRules {
		out[i] = string(r)
	}
	return out
}

// Engine evaluates an ordered rule list. Evaluation itself is a pure function
// of the Context; the mutex only guards rule-set edits and the enabled flag.
type Engine struct {
	logger  *zap.Logger
	mu      sync.RWMutex
	rules   []Rule
	enabled bool
}

// NewEngine creates an engine loaded with the default rules.
func NewEngine(logger *zap.Logger, domThreshold, failureThreshold int) *Engine {
	e := &Engine{
		logger:  logger.Named("gating"),
		enabled: true,
	}
	for _, r := range DefaultRules(domThreshold, failureThreshold) {
		e.AddRule(r)
	}
	return e
}

// SetEnabled toggles the engine. A disabled engine never triggers.
func (e *Engine) SetEnabled(enabled bool) {
	e.mu.Lock()
	e.enabled = enabled
	e.mu.Unlock()
}

// IsEnabled reports whether the engine is active.
func (e *Engine) IsEnabled() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.enabled
}

// AddRule inserts a rule, replacing any existing rule with the same name.
func (e *Engine) AddRule(r Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, existing := range e.rules {
		if existing.Name == r.Name {
			e.rules = append(e.rules[:i], e.rules[i+1:]...)
			break
		}
	}
	e.rules = append(e.rules, r)
	sort.SliceStable(e.rules, func(i, j int) bool { return e.rules[i].Priority > e.rules[j].Priority })
}

// RemoveRule deletes a rule by name and reports whether it existed.
func (e *Engine) RemoveRule(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, r := range e.rules {
		if r.Name == name {
			e.rules = append(e.rules[:i], e.rules[i+1:]...)
			return true
		}
	}
	return false
}

// Rules returns a copy of the current rule list in priority order.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// ShouldTriggerCodeAct evaluates every rule in priority order.
func (e *Engine) ShouldTriggerCodeAct(c Context) Decision {
	e.mu.RLock()
	enabled := e.enabled
	rules := make([]Rule, len(e.rules))
	copy(rules, e.rules)
	e.mu.RUnlock()

	var d Decision
	if !enabled {
		return d
	}

	seen := make(map[RuleType]bool)
	for _, r := range rules {
		if r.Condition == nil || !r.Condition(c) {
			continue
		}
		conf := 0.0
		if r.Confidence != nil {
			conf = capConfidence(r.Confidence(c))
		}
		if !d.ShouldUseCodeAct {
			d.ShouldUseCodeAct = true
			d.SuggestedTask = r.SuggestedTask
		}
		if conf > d.Confidence {
			d.Confidence = conf
		}
		if !seen[r.Type] {
			seen[r.Type] = true
			d.TriggeredRules = append(d.TriggeredRules, r.Type)
		}
		if r.Reason != nil {
			d.Reasons = append(d.Reasons, r.Reason(c))
		} else {
			d.Reasons = append(d.Reasons, r.Name)
		}
	}

	if d.ShouldUseCodeAct {
		e.logger.Debug("Sandbox path triggered.",
			zap.Strings("rules", d.RuleNames()),
			zap.String("task", d.SuggestedTask),
			zap.Float64("confidence", d.Confidence))
	}
	return d
}

// BuildContext derives a gating Context from the current observation and history.
func BuildContext(obs *schemas.Observation, history []*schemas.Action, goal, instruction string) Context {
	c := Context{
		UserInstruction: instruction,
		Goal:            goal,
		ActionHistory:   history,
	}
	if obs != nil {
		c.DOMSize = utf8.RuneCountInString(obs.DOMSnapshot)
	}
	c.ConsecutiveSelectorFailures = CountTrailingSelectorFailures(history)
	return c
}

func itoa(n int) string { return strconv.Itoa(n) }
