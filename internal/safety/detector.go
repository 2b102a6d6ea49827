package safety

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/gobwas/glob"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// Page context boosts.
const (
	boostCheckoutPage  = 20
	boostPaymentSigns  = 15
	boostDeleteSigns   = 15
	boostWarningOnPage = 10
)

// Config configures a Detector.
type Config struct {
	Enabled           bool
	AlwaysConfirm     []Category
	NeverConfirmTools []string // Glob patterns over tool names.
}

// Detector runs the detection pipeline. It is safe for concurrent use.
type Detector struct {
	logger *zap.Logger

	mu            sync.RWMutex
	enabled       bool
	alwaysConfirm map[Category]bool
	neverConfirm  []glob.Glob
}

// NewDetector compiles the allow-list and returns a ready detector.
func NewDetector(logger *zap.Logger, cfg Config) (*Detector, error) {
	d := &Detector{
		logger:        logger.Named("danger_detector"),
		enabled:       cfg.Enabled,
		alwaysConfirm: make(map[Category]bool, len(cfg.AlwaysConfirm)),
	}
	for _, c := range cfg.AlwaysConfirm {
		d.alwaysConfirm[c] = true
	}
	for _, p := range cfg.NeverConfirmTools {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid never-confirm tool pattern %q: %w", p, err)
		}
		d.neverConfirm = append(d.neverConfirm, g)
	}
	return d, nil
}

// SetEnabled toggles the detector. A disabled detector reports everything as safe.
func (d *Detector) SetEnabled(enabled bool) {
	d.mu.Lock()
	d.enabled = enabled
	d.mu.Unlock()
}

func (d *Detector) allowListed(tool string) bool {
	for _, g := range d.neverConfirm {
		if g.Match(tool) {
			return true
		}
	}
	return false
}

// Detect scores an action. pc may be nil when no page information is available.
func (d *Detector) Detect(action *schemas.Action, pc *PageContext) Result {
	d.mu.RLock()
	enabled := d.enabled
	d.mu.RUnlock()

	if !enabled {
		return safeResult("detector disabled")
	}
	if action == nil {
		return safeResult("no action")
	}
	if d.allowListed(action.Tool) {
		return safeResult("tool " + action.Tool + " is never confirmed")
	}

	text := actionText(action, pc)
	lower := strings.ToLower(text)

	var patterns []MatchedPattern
	patterns = append(patterns, scanTerms(keywordTerms, PatternKeyword, keywordConfidence, text, lower)...)
	patterns = append(patterns, scanButtons(text)...)

	var analysis *PageAnalysis
	if pc != nil {
		analysis = AnalyzePage(pc)
	}

	patterns = append(patterns, scanTerms(semanticTerms, PatternSemantic, semanticConfidence, text, lower)...)

	page := pagePatterns(analysis)
	res := Result{MatchedPatterns: append(patterns, page...), PageAnalysis: analysis}
	// Per-category base weights extend the confidence sum so that a single
	// delete or payment keyword lands above low.
	res.Risk = d.assess(patterns, page, analysis)
	res.IsDangerous = res.Risk.Level != RiskSafe && res.Risk.Level != RiskLow
	if res.IsDangerous {
		res.Consequences = consequences(res.MatchedPatterns, analysis)
	}

	if res.NeedsConfirmation() {
		d.logger.Info("Risky action detected.",
			zap.String("tool", action.Tool),
			zap.String("level", string(res.Risk.Level)),
			zap.Int("score", res.Risk.Score),
			zap.String("category", string(res.Risk.Category)),
			zap.String("recommendation", string(res.Risk.Recommendation)))
	}
	return res
}

// actionText concatenates thought, reasoning, args and the target element text.
func actionText(action *schemas.Action, pc *PageContext) string {
	parts := []string{action.Thought, action.Reasoning}
	for _, k := range action.ArgKeys() {
		parts = append(parts, fmt.Sprint(action.Args[k]))
	}
	if pc != nil {
		target := pc.TargetElementText
		if target == "" {
			target = TargetText(action, pc.VisibleElements)
		}
		parts = append(parts, target)
	}
	return strings.Join(parts, " \n ")
}

func scanTerms(terms []term, typ PatternType, confidence float64, text, lower string) []MatchedPattern {
	var out []MatchedPattern
	for _, t := range terms {
		if m := t.find(text, lower); m != "" {
			out = append(out, MatchedPattern{Type: typ, Category: t.category, Pattern: t.phrase, Matched: m, Confidence: confidence})
		}
	}
	return out
}

func scanButtons(text string) []MatchedPattern {
	var out []MatchedPattern
	for _, bp := range buttonPatterns {
		if m := bp.re.FindString(text); m != "" {
			out = append(out, MatchedPattern{Type: PatternButtonText, Category: bp.category, Pattern: bp.re.String(), Matched: m, Confidence: buttonConfidence})
		}
	}
	return out
}

// pagePatterns records the page indicators that contribute boosts.
func pagePatterns(pa *PageAnalysis) []MatchedPattern {
	if pa == nil {
		return nil
	}
	var out []MatchedPattern
	add := func(cat Category, pattern, matched string) {
		out = append(out, MatchedPattern{Type: PatternPageContext, Category: cat, Pattern: pattern, Matched: matched, Confidence: 1})
	}
	if pa.PageType == PageCheckout {
		add(CategoryPayment, "page_type", string(pa.PageType))
	}
	if pa.HasPaymentIndicators {
		add(CategoryPayment, "payment_indicators", "payment form")
	}
	if pa.HasDeleteIndicators {
		add(CategoryDelete, "delete_indicators", "delete controls")
	}
	for _, el := range pa.WarningElements {
		add(CategoryNone, "warning_element", el.Text)
	}
	return out
}

// assess scores action-level matches, adds the page boosts, and picks the
// most frequent category across both.
func (d *Detector) assess(patterns, page []MatchedPattern, pa *PageAnalysis) RiskAssessment {
	ra := RiskAssessment{Category: CategoryNone}

	total := 0.0
	counts := make(map[Category]int)
	for _, p := range patterns {
		total += p.Confidence * 20
		counts[p.Category]++
		ra.Reasons = append(ra.Reasons, fmt.Sprintf("%s match %q (%s)", p.Type, p.Matched, p.Category))
	}
	for cat := range counts {
		total += float64(categoryWeight[cat])
	}
	for _, p := range page {
		counts[p.Category]++
	}

	if pa != nil {
		if pa.PageType == PageCheckout {
			total += boostCheckoutPage
			ra.Reasons = append(ra.Reasons, "checkout page")
		}
		if pa.HasPaymentIndicators {
			total += boostPaymentSigns
			ra.Reasons = append(ra.Reasons, "payment indicators on page")
		}
		if pa.HasDeleteIndicators {
			total += boostDeleteSigns
			ra.Reasons = append(ra.Reasons, "delete indicators on page")
		}
		if len(pa.WarningElements) > 0 {
			total += boostWarningOnPage
			ra.Reasons = append(ra.Reasons, "warning shown on page")
		}
	}

	score := int(total + 0.5)
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	ra.Score = score
	ra.Level = LevelForScore(score)
	ra.Category = primaryCategory(counts)
	ra.Recommendation = recommendationFor(ra.Level)
	if ra.Recommendation == RecommendProceed && d.alwaysConfirm[ra.Category] {
		ra.Recommendation = RecommendConfirm
		ra.Reasons = append(ra.Reasons, fmt.Sprintf("category %s always requires confirmation", ra.Category))
	}
	return ra
}

// primaryCategory is the most frequent category, ties broken by severity.
func primaryCategory(counts map[Category]int) Category {
	best := CategoryNone
	bestCount := 0
	for _, cat := range severityOrder {
		if counts[cat] > bestCount {
			best = cat
			bestCount = counts[cat]
		}
	}
	return best
}

var consequenceText = map[Category]string{
	CategoryDelete:  "Data will be permanently deleted and may not be recoverable.",
	CategoryPayment: "Money may be charged to a payment method on file.",
	CategorySubmit:  "Information will be submitted and may not be editable afterwards.",
	CategoryAccount: "The account state may change (sign-out, deactivation or credential change).",
	CategoryPrivacy: "Personal information may be shared or new permissions granted.",
}

// consequences produces deterministic warning text, most frequent category first.
func consequences(patterns []MatchedPattern, pa *PageAnalysis) []string {
	counts := make(map[Category]int)
	for _, p := range patterns {
		counts[p.Category]++
	}
	cats := make([]Category, 0, len(counts))
	for _, c := range severityOrder {
		if counts[c] > 0 {
			cats = append(cats, c)
		}
	}
	sort.SliceStable(cats, func(i, j int) bool { return counts[cats[i]] > counts[cats[j]] })

	var out []string
	for _, c := range cats {
		out = append(out, consequenceText[c])
	}
	if pa != nil {
		if pa.PageType == PageCheckout {
			out = append(out, "The current page is a checkout page.")
		}
		for _, el := range pa.WarningElements {
			out = append(out, "The page shows a warning: "+truncate(el.Text, 120))
		}
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "..."
}
