// File: internal/service/factory.go
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/internal/agent"
	"github.com/xkilldash9x/webpilot/internal/browser"
	"github.com/xkilldash9x/webpilot/internal/checkpoint"
	"github.com/xkilldash9x/webpilot/internal/config"
	"github.com/xkilldash9x/webpilot/internal/confirmation"
	"github.com/xkilldash9x/webpilot/internal/events"
	"github.com/xkilldash9x/webpilot/internal/gating"
	"github.com/xkilldash9x/webpilot/internal/reasoner"
	"github.com/xkilldash9x/webpilot/internal/safety"
	"github.com/xkilldash9x/webpilot/internal/sandbox"
)

const eventBufferSize = 256

// Params identifies the session a task runs under. An empty SessionID starts
// a new session.
type Params struct {
	SessionID   string
	SessionName string
}

// ComponentFactory creates the set of components needed to run a task.
// Commands depend on this interface so they can be tested without a browser.
type ComponentFactory interface {
	Create(ctx context.Context, cfg config.Interface, params Params, logger *zap.Logger) (*Components, error)
}

// BrowserLauncher starts a browser for the components.
type BrowserLauncher func(ctx context.Context, logger *zap.Logger, cfg config.BrowserConfig) (BrowserSession, error)

// concreteFactory is the production implementation of the ComponentFactory.
type concreteFactory struct {
	launchBrowser BrowserLauncher
}

// NewComponentFactory creates a factory that launches a real browser.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{launchBrowser: launchChrome}
}

// NewComponentFactoryWithLauncher creates a factory that obtains its browser
// from launch.
func NewComponentFactoryWithLauncher(launch BrowserLauncher) ComponentFactory {
	return &concreteFactory{launchBrowser: launch}
}

func launchChrome(ctx context.Context, logger *zap.Logger, cfg config.BrowserConfig) (BrowserSession, error) {
	m, err := browser.NewManager(ctx, logger, cfg)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Create handles the full dependency injection and initialization of the task components.
func (f *concreteFactory) Create(ctx context.Context, cfg config.Interface, params Params, logger *zap.Logger) (*Components, error) {
	components := &Components{}

	// Ensure cleanup happens if initialization fails midway.
	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initializationErr))
			components.Shutdown()
		}
	}()

	// 1. Event bus
	components.Bus = events.NewBus(logger, eventBufferSize)
	logger.Debug("Event bus initialized.")

	// 2. Session store and checkpoints
	st, err := InitializeStore(ctx, cfg.Store(), logger)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}
	components.Store = st

	checkpoints := checkpoint.NewManager(logger, st, components.Bus, CheckpointConfig(cfg.Checkpoint()))
	if err := checkpoints.BindSession(ctx, params.SessionID, params.SessionName); err != nil {
		initializationErr = fmt.Errorf("failed to bind session %q: %w", params.SessionID, err)
		return nil, initializationErr
	}
	components.Checkpoints = checkpoints
	logger.Debug("Checkpoint manager bound.", zap.String("session_id", checkpoints.SessionID()))

	// 3. Safety gate
	detector, err := safety.NewDetector(logger, safetyConfig(cfg.Safety(), logger))
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize danger detector: %w", err)
		return nil, initializationErr
	}
	components.Detector = detector
	components.Confirmations = confirmation.NewManager(logger, components.Bus, cfg.Safety().ConfirmationTimeout)
	logger.Debug("Danger detector and confirmation manager initialized.")

	// 4. Gating and sandbox
	engine := gating.NewEngine(logger, cfg.Gating().DOMSizeThreshold, cfg.Gating().SelectorFailureThreshold)
	engine.SetEnabled(cfg.Gating().Enabled)
	components.Gating = engine
	components.Sandbox = sandbox.NewExecutor(logger, sandbox.Config{
		Timeout:        cfg.Sandbox().Timeout,
		MaxOutputBytes: cfg.Sandbox().MaxOutputBytes,
	})
	logger.Debug("Gating engine and sandbox initialized.", zap.Bool("gating_enabled", cfg.Gating().Enabled))

	// 5. Reasoner
	client, err := InitializeLLMClient(ctx, cfg.LLM(), logger)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}
	components.LLMClient = client
	components.Reasoner = reasoner.New(logger, client, cfg.LLM().APITimeout)

	// 6. Browser
	b, err := f.launchBrowser(ctx, logger, cfg.Browser())
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize browser: %w", err)
		return nil, initializationErr
	}
	components.Browser = b

	tab, err := b.NewTab(ctx)
	if err != nil {
		initializationErr = fmt.Errorf("failed to open browser tab: %w", err)
		return nil, initializationErr
	}
	components.Tab = tab
	logger.Debug("Browser tab ready.")

	// 7. Controller and plan runner
	controller, err := agent.NewController(logger, agent.Dependencies{
		Tools:        tab,
		Sandbox:      components.Sandbox,
		Reasoner:     components.Reasoner,
		Router:       engine,
		Detector:     detector,
		Confirmer:    components.Confirmations,
		Checkpointer: checkpoints,
		Emitter:      components.Bus,
	}, agent.OptionsFromConfig(cfg))
	if err != nil {
		initializationErr = fmt.Errorf("failed to create controller: %w", err)
		return nil, initializationErr
	}
	components.Controller = controller
	components.Planner = agent.NewPlanRunner(logger, controller, components.Reasoner, checkpoints)

	logger.Info("All components initialized successfully.", zap.String("session_id", checkpoints.SessionID()))
	return components, nil
}
