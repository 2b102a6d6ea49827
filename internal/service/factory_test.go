package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/webpilot/internal/config"
)

func TestCreate_WiresComponents(t *testing.T) {
	session := new(MockBrowserSession)
	session.On("NewTab", mock.Anything).Return(fakeTab(t), nil).Once()
	session.On("Shutdown", mock.Anything).Return(nil).Once()

	factory := NewComponentFactoryWithLauncher(launcherFor(session))
	comps, err := factory.Create(context.Background(), memoryConfig(), Params{SessionID: "task-1", SessionName: "demo"}, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.NotNil(t, comps.Bus)
	assert.NotNil(t, comps.Detector)
	assert.NotNil(t, comps.Confirmations)
	assert.NotNil(t, comps.Sandbox)
	assert.NotNil(t, comps.Reasoner)
	assert.Nil(t, comps.LLMClient)
	assert.NotNil(t, comps.Controller)
	assert.NotNil(t, comps.Planner)
	assert.True(t, comps.Gating.IsEnabled())

	require.True(t, comps.Checkpoints.Bound())
	assert.Equal(t, "task-1", comps.Checkpoints.SessionID())
	assert.Equal(t, "demo", comps.Checkpoints.SessionName())

	sess, err := comps.Store.Load(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, "demo", sess.Name)

	comps.Shutdown()
	session.AssertExpectations(t)
}

func TestCreate_GeneratesSessionID(t *testing.T) {
	session := new(MockBrowserSession)
	session.On("NewTab", mock.Anything).Return(fakeTab(t), nil)
	session.On("Shutdown", mock.Anything).Return(nil)

	comps, err := NewComponentFactoryWithLauncher(launcherFor(session)).
		Create(context.Background(), memoryConfig(), Params{}, zap.NewNop())
	require.NoError(t, err)
	defer comps.Shutdown()

	assert.NotEmpty(t, comps.Checkpoints.SessionID())
}

func TestCreate_GatingDisabled(t *testing.T) {
	session := new(MockBrowserSession)
	session.On("NewTab", mock.Anything).Return(fakeTab(t), nil)
	session.On("Shutdown", mock.Anything).Return(nil)

	cfg := memoryConfig()
	cfg.GatingCfg.Enabled = false
	comps, err := NewComponentFactoryWithLauncher(launcherFor(session)).
		Create(context.Background(), cfg, Params{SessionID: "no-gating"}, zap.NewNop())
	require.NoError(t, err)
	defer comps.Shutdown()

	assert.False(t, comps.Gating.IsEnabled())
}

func TestCreate_ValidationErrors(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	t.Run("UnknownStore", func(t *testing.T) {
		cfg := memoryConfig()
		cfg.SetStoreType("s3")
		factory := NewComponentFactoryWithLauncher(func(context.Context, *zap.Logger, config.BrowserConfig) (BrowserSession, error) {
			t.Fatal("browser must not launch when the store fails")
			return nil, nil
		})

		_, err := factory.Create(ctx, cfg, Params{SessionID: "x"}, logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported store type")
	})

	t.Run("InvalidSessionID", func(t *testing.T) {
		_, err := NewComponentFactoryWithLauncher(launcherFor(new(MockBrowserSession))).
			Create(ctx, memoryConfig(), Params{SessionID: "../escape"}, logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to bind session")
	})

	t.Run("BadNeverConfirmPattern", func(t *testing.T) {
		cfg := memoryConfig()
		cfg.SafetyCfg.NeverConfirmTools = []string{"[observe"}
		_, err := NewComponentFactoryWithLauncher(launcherFor(new(MockBrowserSession))).
			Create(ctx, cfg, Params{SessionID: "x"}, logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "danger detector")
	})

	t.Run("UnsupportedProvider", func(t *testing.T) {
		cfg := memoryConfig()
		cfg.LLMCfg.Provider = "openai"
		_, err := NewComponentFactoryWithLauncher(launcherFor(new(MockBrowserSession))).
			Create(ctx, cfg, Params{SessionID: "x"}, logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to initialize LLM client")
	})
}

func TestCreate_BrowserFailures(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	t.Run("LaunchFails", func(t *testing.T) {
		factory := NewComponentFactoryWithLauncher(func(context.Context, *zap.Logger, config.BrowserConfig) (BrowserSession, error) {
			return nil, errors.New("chrome not found")
		})
		_, err := factory.Create(ctx, memoryConfig(), Params{SessionID: "x"}, logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "chrome not found")
	})

	t.Run("TabFailsShutsBrowserDown", func(t *testing.T) {
		session := new(MockBrowserSession)
		session.On("NewTab", mock.Anything).Return(nil, errors.New("target closed"))
		session.On("Shutdown", mock.Anything).Return(nil).Once()

		_, err := NewComponentFactoryWithLauncher(launcherFor(session)).
			Create(ctx, memoryConfig(), Params{SessionID: "x"}, logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to open browser tab")
		session.AssertExpectations(t)
	})
}
