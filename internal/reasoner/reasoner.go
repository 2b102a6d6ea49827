// Package reasoner implements the think and planning steps: a model-backed
// adapter over an LLM client, and the deterministic rule-based adapter it
// falls back to.
package reasoner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/llmutil"
)

const maxPlanSteps = 8

// New returns the reasoner for the given client. A nil client selects the
// rule-based reasoner alone.
func New(logger *zap.Logger, client schemas.LLMClient, timeout time.Duration) schemas.LLMAdapter {
	rules := NewRuleBased(logger)
	if client == nil {
		return rules
	}
	return NewLLMReasoner(logger, client, rules, timeout)
}

// LLMReasoner asks a model for decisions. Unusable model output never reaches
// the caller; the fallback adapter answers instead.
type LLMReasoner struct {
	client   schemas.LLMClient
	fallback schemas.LLMAdapter
	logger   *zap.Logger
	timeout  time.Duration
}

// NewLLMReasoner creates a model-backed reasoner.
func NewLLMReasoner(logger *zap.Logger, client schemas.LLMClient, fallback schemas.LLMAdapter, timeout time.Duration) *LLMReasoner {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &LLMReasoner{
		client:   client,
		fallback: fallback,
		logger:   logger.Named("llm_reasoner"),
		timeout:  timeout,
	}
}

// Think asks the fast tier for the next action.
func (r *LLMReasoner) Think(ctx context.Context, tc schemas.ThinkContext) (*schemas.ThinkingResult, error) {
	result, err := r.think(ctx, tc)
	if err == nil {
		return result, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	r.logger.Warn("Model decision unusable, falling back to rules.", zap.Error(err))
	return r.fallback.Think(ctx, tc)
}

func (r *LLMReasoner) think(ctx context.Context, tc schemas.ThinkContext) (*schemas.ThinkingResult, error) {
	userPrompt, err := thinkUserPrompt(tc)
	if err != nil {
		return nil, err
	}
	response, err := r.generate(ctx, schemas.GenerationRequest{
		SystemPrompt: thinkSystemPrompt(),
		UserPrompt:   userPrompt,
		Tier:         schemas.TierFast,
		Options:      schemas.GenerationOptions{ForceJSONFormat: true, Temperature: 0.2},
	})
	if err != nil {
		return nil, err
	}

	result, err := llmutil.ParseJSONResponse[schemas.ThinkingResult](response)
	if err != nil {
		return nil, fmt.Errorf("failed to parse llm response: %w", err)
	}
	if err := validateThinking(result); err != nil {
		return nil, err
	}
	if result.Args == nil {
		result.Args = map[string]interface{}{}
	}
	result.Code = llmutil.CleanCodeOutput(result.Code)
	return result, nil
}

func validateThinking(t *schemas.ThinkingResult) error {
	if t.IsComplete {
		return nil
	}
	if t.Tool == "" && t.Code == "" {
		return errors.New("LLM response has neither a tool nor code and is not complete")
	}
	if t.Tool != "" && !schemas.IsKnownTool(t.Tool) {
		return fmt.Errorf("LLM response names unknown tool %q", t.Tool)
	}
	if t.Confidence < 0 || t.Confidence > 1 {
		t.Confidence = clampUnit(t.Confidence)
	}
	return nil
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

type planResponse struct {
	Reasoning string `json:"reasoning"`
	Steps     []struct {
		Description string `json:"description"`
	} `json:"steps"`
}

// GeneratePlan asks the powerful tier to decompose the goal.
func (r *LLMReasoner) GeneratePlan(ctx context.Context, pc schemas.PlanContext) (*schemas.PlanningResult, error) {
	result, err := r.generatePlan(ctx, pc)
	if err == nil {
		return result, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	r.logger.Warn("Model plan unusable, falling back to rules.", zap.Error(err))
	return r.fallback.GeneratePlan(ctx, pc)
}

func (r *LLMReasoner) generatePlan(ctx context.Context, pc schemas.PlanContext) (*schemas.PlanningResult, error) {
	userPrompt, err := planUserPrompt(pc)
	if err != nil {
		return nil, err
	}
	resp, err := r.planRequest(ctx, planSystemPrompt(), userPrompt)
	if err != nil {
		return nil, err
	}
	steps := stepsFrom(resp, 1)
	if len(steps) == 0 {
		return nil, errors.New("LLM plan has no steps")
	}

	plan := &schemas.Plan{
		ID:        uuid.NewString(),
		Goal:      pc.Goal,
		Status:    schemas.PlanStatusPending,
		Reasoning: resp.Reasoning,
		CreatedAt: time.Now().UTC(),
	}
	plan.Steps = steps
	return &schemas.PlanningResult{Plan: plan, Reasoning: resp.Reasoning}, nil
}

// Replan asks the powerful tier for the remaining steps after a failure.
// Completed steps are kept as they were.
func (r *LLMReasoner) Replan(ctx context.Context, rc schemas.ReplanContext) (*schemas.PlanningResult, error) {
	result, err := r.replan(ctx, rc)
	if err == nil {
		return result, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	r.logger.Warn("Model replan unusable, falling back to rules.", zap.Error(err))
	return r.fallback.Replan(ctx, rc)
}

func (r *LLMReasoner) replan(ctx context.Context, rc schemas.ReplanContext) (*schemas.PlanningResult, error) {
	if rc.Plan == nil {
		return nil, errors.New("replan requires a plan")
	}
	userPrompt, err := replanUserPrompt(rc)
	if err != nil {
		return nil, err
	}
	resp, err := r.planRequest(ctx, replanSystemPrompt(), userPrompt)
	if err != nil {
		return nil, err
	}

	plan := rc.Plan.Clone()
	plan.Revision++
	plan.Reasoning = resp.Reasoning
	idx := plan.CurrentStepIndex
	if idx > len(plan.Steps) {
		idx = len(plan.Steps)
	}
	revised := stepsFrom(resp, plan.Revision*100+1)
	plan.Steps = append(plan.Steps[:idx], revised...)
	if len(revised) == 0 {
		plan.Status = schemas.PlanStatusFailed
	} else {
		plan.Status = schemas.PlanStatusInProgress
	}
	return &schemas.PlanningResult{Plan: plan, Reasoning: resp.Reasoning}, nil
}

func (r *LLMReasoner) planRequest(ctx context.Context, system, user string) (*planResponse, error) {
	response, err := r.generate(ctx, schemas.GenerationRequest{
		SystemPrompt: system,
		UserPrompt:   user,
		Tier:         schemas.TierPowerful,
		Options:      schemas.GenerationOptions{ForceJSONFormat: true, Temperature: 0.2},
	})
	if err != nil {
		return nil, err
	}
	resp, err := llmutil.ParseJSONResponse[planResponse](response)
	if err != nil {
		return nil, fmt.Errorf("failed to parse llm plan: %w", err)
	}
	return resp, nil
}

func (r *LLMReasoner) generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	apiCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	response, err := r.client.Generate(apiCtx, req)
	if err != nil {
		return "", fmt.Errorf("llm generation failed: %w", err)
	}
	return response, nil
}

// stepsFrom converts model steps, dropping blanks and capping the count.
// Step IDs are numbered from first.
func stepsFrom(resp *planResponse, first int) []schemas.PlanStep {
	var steps []schemas.PlanStep
	for _, s := range resp.Steps {
		desc := strings.TrimSpace(s.Description)
		if desc == "" {
			continue
		}
		if len(steps) >= maxPlanSteps {
			break
		}
		steps = append(steps, schemas.PlanStep{
			ID:          fmt.Sprintf("step-%d", first+len(steps)),
			Description: desc,
			Status:      schemas.StepStatusPending,
		})
	}
	return steps
}
