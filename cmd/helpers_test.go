// File: cmd/helpers_test.go
package cmd

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/agent"
	"github.com/xkilldash9x/webpilot/internal/checkpoint"
	"github.com/xkilldash9x/webpilot/internal/confirmation"
	"github.com/xkilldash9x/webpilot/internal/config"
	"github.com/xkilldash9x/webpilot/internal/events"
	"github.com/xkilldash9x/webpilot/internal/mocks"
	"github.com/xkilldash9x/webpilot/internal/reasoner"
	"github.com/xkilldash9x/webpilot/internal/service"
	"github.com/xkilldash9x/webpilot/internal/store"
)

// newTestConfig returns the defaults with an in-memory store so nothing
// touches the disk.
func newTestConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.SetStoreType(config.StoreTypeMemory)
	return cfg
}

// testStreams captures command output. in feeds confirmation prompts.
func testStreams(in string) (streams, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	return streams{in: strings.NewReader(in), out: &out, err: &errOut}, &out, &errOut
}

// navigatingTools serves a blank page, accepts one navigation and reports the
// example.com page afterwards.
func navigatingTools() *mocks.MockToolAdapter {
	tools := new(mocks.MockToolAdapter)
	tools.On("Execute", mock.Anything, schemas.ToolObserve, mock.Anything).
		Return(schemas.ToolResult{Success: true, Data: &schemas.Observation{Timestamp: time.Now(), URL: "about:blank"}})
	tools.On("Execute", mock.Anything, schemas.ToolNavigate, mock.Anything).
		Return(schemas.ToolResult{Success: true})
	tools.On("Execute", mock.Anything, schemas.ToolGetPageInfo, mock.Anything).
		Return(schemas.ToolResult{Success: true, Data: &schemas.PageInfo{URL: "https://www.example.com/", Title: "Example"}})
	return tools
}

// newTestComponents wires real components around tools and a memory store,
// bound to sessionID. The browser is left out.
func newTestComponents(t *testing.T, st store.Store, sessionID string, tools schemas.ToolAdapter) *service.Components {
	t.Helper()
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	bus := events.NewBus(logger, 64)
	checkpoints := checkpoint.NewManager(logger, st, bus, checkpoint.DefaultConfig())
	require.NoError(t, checkpoints.BindSession(ctx, sessionID, "demo"))
	confirmations := confirmation.NewManager(logger, bus, time.Second)
	rules := reasoner.NewRuleBased(logger)

	controller, err := agent.NewController(logger, agent.Dependencies{
		Tools:        tools,
		Reasoner:     rules,
		Confirmer:    confirmations,
		Checkpointer: checkpoints,
		Emitter:      bus,
	}, agent.DefaultOptions())
	require.NoError(t, err)

	return &service.Components{
		Bus:           bus,
		Store:         st,
		Checkpoints:   checkpoints,
		Confirmations: confirmations,
		Reasoner:      rules,
		Controller:    controller,
		Planner:       agent.NewPlanRunner(logger, controller, rules, checkpoints),
	}
}

// factoryReturning is a mock factory handing out c once.
func factoryReturning(c *service.Components, err error) *mocks.MockComponentFactory {
	f := new(mocks.MockComponentFactory)
	if c == nil {
		f.On("Create", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, err).Once()
	} else {
		f.On("Create", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(c, err).Once()
	}
	return f
}
