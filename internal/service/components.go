// File: internal/service/components.go
package service

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/agent"
	"github.com/xkilldash9x/webpilot/internal/browser"
	"github.com/xkilldash9x/webpilot/internal/checkpoint"
	"github.com/xkilldash9x/webpilot/internal/confirmation"
	"github.com/xkilldash9x/webpilot/internal/events"
	"github.com/xkilldash9x/webpilot/internal/gating"
	"github.com/xkilldash9x/webpilot/internal/observability"
	"github.com/xkilldash9x/webpilot/internal/safety"
	"github.com/xkilldash9x/webpilot/internal/sandbox"
	"github.com/xkilldash9x/webpilot/internal/store"
)

const shutdownTimeout = 30 * time.Second

// BrowserSession is the slice of *browser.Manager the components depend on.
type BrowserSession interface {
	NewTab(ctx context.Context) (*browser.Adapter, error)
	Shutdown(ctx context.Context) error
}

// Components holds everything one agent task needs and owns their lifecycle.
type Components struct {
	Bus           *events.Bus
	Store         store.Store
	Checkpoints   *checkpoint.Manager
	Detector      *safety.Detector
	Confirmations *confirmation.Manager
	Gating        *gating.Engine
	Sandbox       *sandbox.Executor
	Browser       BrowserSession
	Tab           *browser.Adapter
	LLMClient     schemas.LLMClient
	Reasoner      schemas.LLMAdapter
	Controller    *agent.Controller
	Planner       *agent.PlanRunner
}

// Shutdown releases the components in reverse dependency order. It is safe to
// call on a partially initialized struct.
func (c *Components) Shutdown() {
	logger := observability.GetLogger()
	logger.Debug("Beginning components shutdown sequence.")

	// 1. Stop the controller so no new tool calls start.
	if c.Controller != nil && c.Controller.IsExecuting() {
		c.Controller.Stop()
		logger.Debug("Controller stopped.")
	}

	// 2. Withdraw any confirmation still waiting on a human.
	if c.Confirmations != nil && c.Confirmations.Cancel() {
		logger.Debug("Pending confirmation cancelled.")
	}

	// 3. Close the tab before the browser goes away.
	if c.Tab != nil {
		c.Tab.Close()
		logger.Debug("Browser tab closed.")
	}

	// 4. The browser and the store are independent; release them together.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var g errgroup.Group
	if c.Browser != nil {
		g.Go(func() error {
			if err := c.Browser.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Error during browser shutdown.", zap.Error(err))
				return err
			}
			logger.Debug("Browser shut down.")
			return nil
		})
	}
	if c.Store != nil {
		g.Go(func() error {
			if err := c.Store.Close(); err != nil {
				logger.Warn("Error closing session store.", zap.Error(err))
				return err
			}
			logger.Debug("Session store closed.")
			return nil
		})
	}
	err := g.Wait()

	// 5. The bus goes last so shutdown events above still reach subscribers.
	if c.Bus != nil {
		c.Bus.Shutdown()
		logger.Debug("Event bus shut down.")
	}

	if err != nil {
		logger.Warn("Components shut down with errors.", zap.Error(err))
		return
	}
	logger.Info("All components shut down successfully.")
}
