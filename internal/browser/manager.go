// Package browser drives a Chrome tab through chromedp and exposes it as the
// tool adapter the controller calls.
package browser

import (
	"context"
	"fmt"
	goruntime "runtime"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/internal/config"
)

const startupProbeTimeout = 30 * time.Second

// Manager owns the browser process. Tabs are derived from its allocator.
type Manager struct {
	logger *zap.Logger
	cfg    config.BrowserConfig

	// allocatorCtx manages the entire browser process.
	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc

	// wg tracks open tabs for a graceful shutdown.
	wg sync.WaitGroup
}

// NewManager launches the browser and checks that it responds.
func NewManager(ctx context.Context, logger *zap.Logger, cfg config.BrowserConfig) (*Manager, error) {
	m := &Manager{
		logger: logger.Named("browser_manager"),
		cfg:    cfg,
	}
	if err := m.launchBrowser(ctx); err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	return m, nil
}

func (m *Manager) launchBrowser(ctx context.Context) error {
	m.logger.Info("Initializing browser allocator...", zap.Bool("headless", m.cfg.Headless))

	allocCtx, cancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), BuildAllocatorOptions(m.cfg)...)
	m.allocatorCtx = allocCtx
	m.allocatorCancel = cancel

	// Run a trivial task to confirm the browser is alive.
	probeCtx, cancelProbe := context.WithTimeout(allocCtx, startupProbeTimeout)
	defer cancelProbe()
	probeCtx, cancelTab := chromedp.NewContext(probeCtx)
	defer cancelTab()
	if err := chromedp.Run(probeCtx, chromedp.Navigate("about:blank")); err != nil {
		m.allocatorCancel()
		return fmt.Errorf("browser failed to start or respond: %w", err)
	}

	m.logger.Info("Browser launched successfully and is responsive.")
	return nil
}

// BuildAllocatorOptions assembles the launch flags from configuration.
func BuildAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	var opts []chromedp.ExecAllocatorOption
	for _, opt := range chromedp.DefaultExecAllocatorOptions {
		opts = append(opts, opt)
	}

	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", cfg.DisableGPU),
		chromedp.Flag("disable-extensions", true),
	)
	if w, h := viewport(cfg); w > 0 && h > 0 {
		opts = append(opts, chromedp.WindowSize(w, h))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}

	for _, arg := range cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if name == "" {
			continue
		}
		if len(parts) == 2 {
			opts = append(opts, chromedp.Flag(name, parts[1]))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}

	// Flags required for running inside containers.
	if goruntime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)
	}
	return opts
}

func viewport(cfg config.BrowserConfig) (int, int) {
	return cfg.Viewport["width"], cfg.Viewport["height"]
}

// NewTab opens a tab and returns a tool adapter bound to it. Closing the
// adapter closes the tab.
func (m *Manager) NewTab(ctx context.Context) (*Adapter, error) {
	tabCtx, cancel := chromedp.NewContext(m.allocatorCtx,
		chromedp.WithLogf(m.logger.Sugar().Debugf),
		chromedp.WithErrorf(m.logger.Sugar().Debugf),
	)

	var init []chromedp.Action
	if w, h := viewport(m.cfg); w > 0 && h > 0 {
		init = append(init, chromedp.EmulateViewport(int64(w), int64(h)))
	}
	init = append(init, chromedp.Navigate("about:blank"))
	if err := chromedp.Run(tabCtx, init...); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open browser tab: %w", err)
	}

	m.wg.Add(1)
	var once sync.Once
	closeTab := func() {
		once.Do(func() {
			cancel()
			m.wg.Done()
		})
	}

	run := func(opCtx context.Context, actions ...chromedp.Action) error {
		// chromedp resolves the target from the context, so the tab context
		// must be the parent. The operation context only contributes its
		// deadline and cancellation.
		runCtx, stop := context.WithCancel(tabCtx)
		defer stop()
		if deadline, ok := opCtx.Deadline(); ok {
			var cancelDeadline context.CancelFunc
			runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
			defer cancelDeadline()
		}
		go func() {
			select {
			case <-opCtx.Done():
				stop()
			case <-runCtx.Done():
			}
		}()
		return chromedp.Run(runCtx, actions...)
	}

	m.logger.Debug("Opened browser tab.")
	return NewAdapter(m.logger, m.cfg, run, closeTab), nil
}

// Shutdown waits for open tabs to close, up to ctx's deadline, then
// terminates the browser process.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Browser manager shutdown initiated.")

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("Shutdown deadline exceeded. Forcing browser termination.", zap.Error(ctx.Err()))
	}

	if m.allocatorCancel != nil {
		m.allocatorCancel()
		<-m.allocatorCtx.Done()
	}
	return nil
}
