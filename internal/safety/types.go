// Package safety scores proposed browser actions for irreversible or costly
// side effects so the controller can ask a human first.
package safety

import (
	"github.com/xkilldash9x/webpilot/api/schemas"
)

// RiskLevel is the coarse severity bucket of a score.
type RiskLevel string

const (
	RiskSafe     RiskLevel = "safe"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Recommendation is what the detector advises the controller to do.
type Recommendation string

const (
	RecommendProceed Recommendation = "proceed"
	RecommendConfirm Recommendation = "confirm"
	RecommendBlock   Recommendation = "block"
)

// Category is the kind of harm an action risks.
type Category string

const (
	CategoryNone    Category = "none"
	CategoryDelete  Category = "delete"
	CategoryPayment Category = "payment"
	CategorySubmit  Category = "submit"
	CategoryAccount Category = "account"
	CategoryPrivacy Category = "privacy"
)

// severityOrder breaks ties between equally frequent categories.
var severityOrder = []Category{CategoryDelete, CategoryPayment, CategoryAccount, CategoryPrivacy, CategorySubmit}

// categoryWeight is added once per distinct category matched by the action itself.
var categoryWeight = map[Category]int{
	CategoryDelete:  25,
	CategoryPayment: 25,
	CategoryAccount: 15,
	CategoryPrivacy: 15,
	CategorySubmit:  5,
}

// PatternType names the detection pass that produced a match.
type PatternType string

const (
	PatternKeyword     PatternType = "keyword"
	PatternButtonText  PatternType = "button_text"
	PatternPageContext PatternType = "page_context"
	PatternSemantic    PatternType = "semantic"
)

// MatchedPattern records a single hit.
type MatchedPattern struct {
	Type       PatternType `json:"type"`
	Category   Category    `json:"category"`
	Pattern    string      `json:"pattern"`
	Matched    string      `json:"matched"`
	Confidence float64     `json:"confidence"`
}

// RiskAssessment is the scored verdict.
type RiskAssessment struct {
	Level          RiskLevel      `json:"level"`
	Score          int            `json:"score"`
	Category       Category       `json:"category"`
	Reasons        []string       `json:"reasons"`
	Recommendation Recommendation `json:"recommendation"`
}

// PageType classifies the current page from its URL and title.
type PageType string

const (
	PageGeneral  PageType = "general"
	PageCheckout PageType = "checkout"
	PageSettings PageType = "settings"
	PageProfile  PageType = "profile"
	PageAdmin    PageType = "admin"
	PageLogin    PageType = "login"
	PageSignup   PageType = "signup"
)

// PageContext is the page information available to the detector.
type PageContext struct {
	URL               string
	Title             string
	HTML              string
	VisibleElements   []schemas.ElementInfo
	TargetElementText string
}

// PageAnalysis is the outcome of the page-context pass.
type PageAnalysis struct {
	PageType             PageType              `json:"pageType"`
	HasPaymentIndicators bool                  `json:"hasPaymentIndicators"`
	HasDeleteIndicators  bool                  `json:"hasDeleteIndicators"`
	HasAccountIndicators bool                  `json:"hasAccountIndicators"`
	WarningElements      []schemas.ElementInfo `json:"warningElements,omitempty"`
}

// Result is the full output of Detect.
type Result struct {
	IsDangerous     bool             `json:"isDangerous"`
	Risk            RiskAssessment   `json:"risk"`
	MatchedPatterns []MatchedPattern `json:"matchedPatterns"`
	PageAnalysis    *PageAnalysis    `json:"pageAnalysis,omitempty"`
	Consequences    []string         `json:"consequences,omitempty"`
	SkippedReason   string           `json:"skippedReason,omitempty"` // Set when the detector short-circuited.
}

// NeedsConfirmation reports whether the controller must ask before acting.
func (r Result) NeedsConfirmation() bool {
	return r.IsDangerous || r.Risk.Recommendation != RecommendProceed
}

// safeResult is returned by the short-circuit paths.
func safeResult(reason string) Result {
	return Result{
		Risk: RiskAssessment{
			Level:          RiskSafe,
			Category:       CategoryNone,
			Recommendation: RecommendProceed,
		},
		SkippedReason: reason,
	}
}

// LevelForScore maps a 0-100 score onto a level.
func LevelForScore(score int) RiskLevel {
	switch {
	case score < 20:
		return RiskSafe
	case score < 40:
		return RiskLow
	case score < 60:
		return RiskMedium
	case score < 80:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// recommendationFor maps a level onto a recommendation before overrides.
func recommendationFor(level RiskLevel) Recommendation {
	switch level {
	case RiskCritical:
		return RecommendBlock
	case RiskHigh, RiskMedium:
		return RecommendConfirm
	default:
		return RecommendProceed
	}
}

// ParseCategories converts configured names, ignoring unknown ones.
func ParseCategories(names []string) []Category {
	var out []Category
	for _, n := range names {
		c := Category(n)
		if _, ok := categoryWeight[c]; ok {
			out = append(out, c)
		}
	}
	return out
}
