// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/config"
	"github.com/xkilldash9x/webpilot/internal/service"
)

// -- Component Factory Mock --

// MockComponentFactory mocks service.ComponentFactory.
type MockComponentFactory struct {
	mock.Mock
}

func (m *MockComponentFactory) Create(ctx context.Context, cfg config.Interface, params service.Params, logger *zap.Logger) (*service.Components, error) {
	args := m.Called(ctx, cfg, params, logger)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.Components), args.Error(1)
}

// -- LLM Client Mock --

// MockLLMClient mocks the schemas.LLMClient interface.
type MockLLMClient struct {
	mock.Mock
}

// Generate provides a mock function for LLM calls.
func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockLLMClient) Close() error {
	return m.Called().Error(0)
}

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

// -- Confirmation Responder Mock --

// MockResponder records answers given to a pending confirmation.
type MockResponder struct {
	mock.Mock
}

func (m *MockResponder) ConfirmAction(confirmed bool, comment string) error {
	return m.Called(confirmed, comment).Error(0)
}
