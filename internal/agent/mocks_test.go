package agent

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/events"
	"github.com/xkilldash9x/webpilot/internal/safety"
)

// -- Tool Adapter Mock --

// MockToolAdapter mocks schemas.ToolAdapter. A return value may be a
// func(args) schemas.ToolResult to compute the result per call.
type MockToolAdapter struct {
	mock.Mock
}

func (m *MockToolAdapter) Execute(ctx context.Context, tool string, args map[string]interface{}) schemas.ToolResult {
	ret := m.Called(ctx, tool, args)
	if fn, ok := ret.Get(0).(func(map[string]interface{}) schemas.ToolResult); ok {
		return fn(args)
	}
	return ret.Get(0).(schemas.ToolResult)
}

// toolFunc adapts a function to schemas.ToolAdapter for tests that need to
// block or coordinate inside a call.
type toolFunc func(ctx context.Context, tool string, args map[string]interface{}) schemas.ToolResult

func (f toolFunc) Execute(ctx context.Context, tool string, args map[string]interface{}) schemas.ToolResult {
	return f(ctx, tool, args)
}

// -- Sandbox Adapter Mock --

type MockSandboxAdapter struct {
	mock.Mock
}

func (m *MockSandboxAdapter) Execute(ctx context.Context, code string, sctx map[string]interface{}, timeout time.Duration) schemas.SandboxResult {
	ret := m.Called(ctx, code, sctx, timeout)
	return ret.Get(0).(schemas.SandboxResult)
}

// -- LLM Adapter Mock --

// MockLLMAdapter mocks schemas.LLMAdapter. Think accepts either a fixed
// *schemas.ThinkingResult or a func(schemas.ThinkContext) *schemas.ThinkingResult.
type MockLLMAdapter struct {
	mock.Mock
}

func (m *MockLLMAdapter) Think(ctx context.Context, tc schemas.ThinkContext) (*schemas.ThinkingResult, error) {
	ret := m.Called(ctx, tc)
	if fn, ok := ret.Get(0).(func(schemas.ThinkContext) *schemas.ThinkingResult); ok {
		return fn(tc), ret.Error(1)
	}
	if ret.Get(0) == nil {
		return nil, ret.Error(1)
	}
	return ret.Get(0).(*schemas.ThinkingResult), ret.Error(1)
}

func (m *MockLLMAdapter) GeneratePlan(ctx context.Context, pc schemas.PlanContext) (*schemas.PlanningResult, error) {
	ret := m.Called(ctx, pc)
	if ret.Get(0) == nil {
		return nil, ret.Error(1)
	}
	return ret.Get(0).(*schemas.PlanningResult), ret.Error(1)
}

func (m *MockLLMAdapter) Replan(ctx context.Context, rc schemas.ReplanContext) (*schemas.PlanningResult, error) {
	ret := m.Called(ctx, rc)
	if ret.Get(0) == nil {
		return nil, ret.Error(1)
	}
	return ret.Get(0).(*schemas.PlanningResult), ret.Error(1)
}

// -- Detector Stub --

type detectorFunc func(action *schemas.Action, pc *safety.PageContext) safety.Result

func (f detectorFunc) Detect(action *schemas.Action, pc *safety.PageContext) safety.Result {
	return f(action, pc)
}

// -- Event Recorder --

type recorder struct {
	mu  sync.Mutex
	evs []events.Event
}

func (r *recorder) Emit(_ context.Context, ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evs = append(r.evs, ev)
}

func (r *recorder) count(typ events.Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.evs {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func (r *recorder) types() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Type, len(r.evs))
	for i, ev := range r.evs {
		out[i] = ev.Type
	}
	return out
}
