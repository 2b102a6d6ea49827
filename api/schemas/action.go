package schemas

import (
	"encoding/json"
	"sort"
	"time"
)

// -- Tool Vocabulary --

// Tool names understood by the browser tool adapter.
const (
	ToolNavigate        = "navigate"
	ToolClick           = "click"
	ToolType            = "type"
	ToolScroll          = "scroll"
	ToolWait            = "wait"
	ToolWaitForSelector = "waitForSelector"
	ToolObserve         = "observe"
	ToolGetPageInfo     = "getPageInfo"
	ToolExtract         = "extract"
	ToolScreenshot      = "screenshot"
	ToolGoBack          = "goBack"
	ToolPressKey        = "pressKey"
	ToolSelect          = "select"
)

// AllTools lists every tool in the order they are documented to the model.
var AllTools = []string{
	ToolNavigate, ToolClick, ToolType, ToolSelect, ToolPressKey, ToolScroll, ToolWait,
	ToolWaitForSelector, ToolObserve, ToolGetPageInfo, ToolExtract, ToolScreenshot, ToolGoBack,
}

// IsKnownTool reports whether tool is part of the adapter vocabulary.
func IsKnownTool(tool string) bool {
	for _, t := range AllTools {
		if t == tool {
			return true
		}
	}
	return false
}

var readOnlyTools = map[string]bool{
	ToolObserve:         true,
	ToolGetPageInfo:     true,
	ToolExtract:         true,
	ToolScreenshot:      true,
	ToolWait:            true,
	ToolWaitForSelector: true,
}

// IsReadOnlyTool reports whether a tool only reads page state.
// Read-only tools are verified on raw success alone.
func IsReadOnlyTool(tool string) bool {
	return readOnlyTools[tool]
}

var selectorTools = map[string]bool{
	ToolClick:           true,
	ToolType:            true,
	ToolWaitForSelector: true,
	ToolSelect:          true,
}

// IsSelectorTool reports whether a tool targets an element by selector.
func IsSelectorTool(tool string) bool {
	return selectorTools[tool]
}

// ErrorCode classifies an action failure.
type ErrorCode string

const (
	ErrCodeElementNotFound  ErrorCode = "ELEMENT_NOT_FOUND"
	ErrCodeTimeoutError     ErrorCode = "TIMEOUT_ERROR"
	ErrCodeNavigationError  ErrorCode = "NAVIGATION_ERROR"
	ErrCodeInvalidArguments ErrorCode = "INVALID_ARGUMENTS"
	ErrCodeUnknownTool      ErrorCode = "UNKNOWN_TOOL"
	ErrCodeAdapterPanic     ErrorCode = "ADAPTER_PANIC"
	ErrCodeSandboxError     ErrorCode = "SANDBOX_ERROR"
	ErrCodeVerification     ErrorCode = "VERIFICATION_FAILED"
	ErrCodeRejectedByUser   ErrorCode = "REJECTED_BY_USER"
	ErrCodeBlockedByPolicy  ErrorCode = "BLOCKED_BY_POLICY"
	ErrCodeExecutionFailure ErrorCode = "EXECUTION_FAILURE"
)

// -- Action Schemas --

// Action is a single decision made by the think step. It is immutable once
// appended to history, except for Result which is set exactly once.
type Action struct {
	ID              string                 `json:"id"`
	Thought         string                 `json:"thought"`
	Tool            string                 `json:"tool"`
	Args            map[string]interface{} `json:"args"`
	Reasoning       string                 `json:"reasoning,omitempty"`
	Confidence      float64                `json:"confidence"`
	RequiresSandbox bool                   `json:"requiresSandbox"`
	Code            string                 `json:"code,omitempty"` // Script run on the sandbox path.
	Timestamp       time.Time              `json:"timestamp"`
	Result          *ActionResult          `json:"result,omitempty"`
}

// ActionResult is the outcome of acting and verifying.
type ActionResult struct {
	Success          bool          `json:"success"`
	Data             interface{}   `json:"data,omitempty"`
	Error            string        `json:"error,omitempty"`
	ErrorCode        ErrorCode     `json:"errorCode,omitempty"`
	Observation      *Observation  `json:"observation,omitempty"`
	Duration         time.Duration `json:"duration"`
	Verified         *bool         `json:"verified,omitempty"`
	Recovered        bool          `json:"recovered,omitempty"`
	RecoveryStrategy string        `json:"recoveryStrategy,omitempty"`
	Skipped          bool          `json:"skipped,omitempty"` // Declined at the confirmation gate.
}

// Signature identifies an action by tool and arguments for repetition checks.
// Map keys are ordered by encoding/json so equal args give equal signatures.
func (a *Action) Signature() string {
	args, err := json.Marshal(a.Args)
	if err != nil {
		args = []byte("{}")
	}
	return a.Tool + ":" + string(args)
}

// Succeeded reports whether the action has a successful result.
func (a *Action) Succeeded() bool {
	return a.Result != nil && a.Result.Success
}

// Failed reports whether the action ran and failed. Skipped actions do not count.
func (a *Action) Failed() bool {
	return a.Result != nil && !a.Result.Success && !a.Result.Skipped
}

// StringArg returns a string argument, or "" when absent or not a string.
func (a *Action) StringArg(key string) string {
	if a.Args == nil {
		return ""
	}
	if s, ok := a.Args[key].(string); ok {
		return s
	}
	return ""
}

// Clone returns a deep copy of the action. Args values are copied one level deep.
func (a *Action) Clone() *Action {
	if a == nil {
		return nil
	}
	c := *a
	if a.Args != nil {
		c.Args = make(map[string]interface{}, len(a.Args))
		for k, v := range a.Args {
			c.Args[k] = v
		}
	}
	if a.Result != nil {
		r := *a.Result
		r.Observation = a.Result.Observation.Clone()
		if a.Result.Verified != nil {
			v := *a.Result.Verified
			r.Verified = &v
		}
		c.Result = &r
	}
	return &c
}

// ArgKeys returns the argument names in sorted order.
func (a *Action) ArgKeys() []string {
	keys := make([]string, 0, len(a.Args))
	for k := range a.Args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// -- Adapter Result Schemas --

// ToolResult is what the tool adapter returns. Failures are reported through
// Success=false and never as a Go error.
type ToolResult struct {
	Success   bool          `json:"success"`
	Data      interface{}   `json:"data,omitempty"`
	Error     string        `json:"error,omitempty"`
	ErrorCode ErrorCode     `json:"errorCode,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// SandboxResult is what the sandbox adapter returns.
type SandboxResult struct {
	Success  bool          `json:"success"`
	Result   interface{}   `json:"result,omitempty"`
	Stdout   string        `json:"stdout,omitempty"`
	Stderr   string        `json:"stderr,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// ExecuteResult is the structured outcome of a controller run.
type ExecuteResult struct {
	Success bool      `json:"success"`
	Result  string    `json:"result,omitempty"`
	Error   string    `json:"error,omitempty"`
	Actions []*Action `json:"actions"`
}
