package schemas

import (
	"context"
	"time"
)

// -- Adapter Interfaces --

// ToolAdapter drives the browser. Implementations report failures through
// ToolResult.Success and must not panic across this boundary.
type ToolAdapter interface {
	// Execute runs a single named tool with its arguments.
	Execute(ctx context.Context, tool string, args map[string]interface{}) ToolResult
}

// SandboxAdapter runs untrusted code in isolation. It enforces the timeout
// itself and never exposes host state to the script.
type SandboxAdapter interface {
	Execute(ctx context.Context, code string, sctx map[string]interface{}, timeout time.Duration) SandboxResult
}

// LLMAdapter turns model output into structured decisions. When none is
// configured the deterministic rule-based adapter takes its place.
type LLMAdapter interface {
	Think(ctx context.Context, tc ThinkContext) (*ThinkingResult, error)
	GeneratePlan(ctx context.Context, pc PlanContext) (*PlanningResult, error)
	Replan(ctx context.Context, rc ReplanContext) (*PlanningResult, error)
}

// LLMClient defines a standard interface for interacting with a Large Language
// Model, abstracting the specifics of the underlying provider (e.g., Gemini).
type LLMClient interface {
	// Generate produces a text completion based on the provided request.
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	// Close cleans up any resources held by the client.
	Close() error
}
