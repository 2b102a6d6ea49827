package schemas

// -- LLM Schemas --

// ModelTier allows for selecting a large language model based on a preference
// for speed versus advanced capabilities.
type ModelTier string

const (
	TierFast     ModelTier = "fast"     // Prefers a faster, potentially less capable model.
	TierPowerful ModelTier = "powerful" // Prefers a more capable, potentially slower model.
)

// GenerationOptions controls the text generation process of the LLM.
type GenerationOptions struct {
	Temperature     float64 `json:"temperature"`       // Controls randomness. Lower is more deterministic.
	ForceJSONFormat bool    `json:"force_json_format"` // If true, forces the model to output valid JSON.
	MaxTokens       int     `json:"max_tokens"`        // Zero means the client default.
}

// GenerationRequest encapsulates a complete request to the LLM.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"`
	UserPrompt   string            `json:"user_prompt"`
	Tier         ModelTier         `json:"tier"`
	Options      GenerationOptions `json:"options"`
}

// ThinkContext is everything the think step gets to decide the next action.
type ThinkContext struct {
	Goal                string                 `json:"goal"`
	Instruction         string                 `json:"instruction,omitempty"`
	Observation         *Observation           `json:"observation,omitempty"`
	PreviousObservation *Observation           `json:"previousObservation,omitempty"`
	History             []*Action              `json:"history"`
	Iteration           int                    `json:"iteration"`
	MaxIterations       int                    `json:"maxIterations"`
	Guidance            string                 `json:"guidance,omitempty"` // Set when the loop detector sees a stalled tool.
	TaskContext         map[string]interface{} `json:"taskContext,omitempty"`
}

// ThinkingResult is a proposed next action, or a completion signal.
type ThinkingResult struct {
	Thought           string                 `json:"thought"`
	Tool              string                 `json:"tool"`
	Args              map[string]interface{} `json:"args"`
	Reasoning         string                 `json:"reasoning"`
	Confidence        float64                `json:"confidence"`
	IsComplete        bool                   `json:"isComplete"`
	CompletionMessage string                 `json:"completionMessage,omitempty"`
	Code              string                 `json:"code,omitempty"` // Optional script for the sandbox path.
	// Fallback is set when the rule-based reasoner produced the result.
	Fallback bool `json:"-"`
}

// PlanContext is the input to initial plan generation.
type PlanContext struct {
	Goal        string                 `json:"goal"`
	Observation *Observation           `json:"observation,omitempty"`
	TaskContext map[string]interface{} `json:"taskContext,omitempty"`
}

// ReplanContext is the input to plan revision after a step failed.
type ReplanContext struct {
	Goal        string       `json:"goal"`
	Plan        *Plan        `json:"plan"`
	FailedStep  *PlanStep    `json:"failedStep"`
	Failure     string       `json:"failure"`
	Observation *Observation `json:"observation,omitempty"`
}

// PlanningResult is a generated or revised plan.
type PlanningResult struct {
	Plan      *Plan  `json:"plan"`
	Reasoning string `json:"reasoning"`
}
