// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/config"
	"github.com/xkilldash9x/webpilot/internal/observability"
	"github.com/xkilldash9x/webpilot/internal/service"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// errTaskFailed marks a run that ended without success. The summary has
// already been printed.
var errTaskFailed = errors.New("task did not complete")

// consoleDrainTimeout bounds the wait for the console after a task ends. The
// console may be blocked on a prompt nobody will answer.
const consoleDrainTimeout = 2 * time.Second

// streams are the terminal handles of a command. In JSON mode progress and
// prompts go to err so out carries only the result.
type streams struct {
	in  io.Reader
	out io.Writer
	err io.Writer
}

func cmdStreams(cmd *cobra.Command) streams {
	return streams{in: cmd.InOrStdin(), out: cmd.OutOrStdout(), err: cmd.ErrOrStderr()}
}

// taskOptions are the per-invocation settings of run and resume.
type taskOptions struct {
	Params      service.Params
	Plan        bool
	StartURL    string
	AutoConfirm bool
	JSON        bool
}

// newRunCmd creates and configures the `run` command.
func newRunCmd() *cobra.Command {
	var (
		opts          taskOptions
		maxIterations int
	)
	runCmd := &cobra.Command{
		Use:   "run <goal>",
		Short: "Runs a task in the browser until the goal is reached",
		Long: `Runs the observe, think, act, verify loop against a browser tab until the goal
is reached or the run gives up. Dangerous actions stop and ask on the terminal.
Progress is checkpointed under the session so the task can be resumed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			if maxIterations > 0 {
				cfg.SetAgentMaxIterations(maxIterations)
			}

			goal := strings.Join(args, " ")
			return runTask(ctx, logger, cfg, goal, opts, service.NewComponentFactory(), cmdStreams(cmd))
		},
	}

	runCmd.Flags().StringVarP(&opts.Params.SessionID, "session", "s", "", "Session id to record under (default: a new id)")
	runCmd.Flags().StringVar(&opts.Params.SessionName, "name", "", "Human readable session name")
	runCmd.Flags().BoolVarP(&opts.Plan, "plan", "p", false, "Break the goal into steps first and run them one by one")
	runCmd.Flags().StringVarP(&opts.StartURL, "url", "u", "", "Page to open before the first step")
	runCmd.Flags().BoolVarP(&opts.AutoConfirm, "yes", "y", false, "Confirm every dangerous action without asking")
	runCmd.Flags().BoolVar(&opts.JSON, "json", false, "Print the result as JSON")
	runCmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "Override agent.max_iterations")
	return runCmd
}

// runTask contains the core logic for running a goal, decoupled from cobra.
func runTask(
	ctx context.Context,
	logger *zap.Logger,
	cfg config.Interface,
	goal string,
	opts taskOptions,
	factory service.ComponentFactory,
	term streams,
) error {
	logger.Info("Starting task", zap.String("goal", goal), zap.Bool("plan", opts.Plan))

	components, err := factory.Create(ctx, cfg, opts.Params, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}
	defer components.Shutdown()

	stopWatching := attachConsole(ctx, components, opts, term, logger)
	defer stopWatching()

	taskCtx := map[string]interface{}{}
	if opts.StartURL != "" {
		taskCtx[schemas.ContextKeyStartURL] = normalizeURL(opts.StartURL)
	}
	if name := components.Checkpoints.SessionName(); name != "" {
		taskCtx[schemas.ContextKeySessionName] = name
	}

	var res *schemas.ExecuteResult
	if opts.Plan {
		res = components.Planner.Run(ctx, goal, taskCtx)
	} else {
		res = components.Controller.Execute(ctx, goal, taskCtx)
	}
	stopWatching()
	return report(ctx, res, components.Checkpoints.SessionID(), opts.JSON, term.out)
}

// attachConsole subscribes the terminal to the bus. The returned func
// detaches it.
func attachConsole(ctx context.Context, components *service.Components, opts taskOptions, term streams, logger *zap.Logger) func() {
	if components.Bus == nil || components.Confirmations == nil {
		return func() {}
	}
	out := term.out
	if opts.JSON {
		out = term.err
	}
	ch, unsubscribe := components.Bus.Subscribe()
	c := newConsole(out, term.in, components.Confirmations, opts.AutoConfirm, logger)

	watchCtx, cancel := context.WithCancel(ctx)
	done := c.watch(watchCtx, ch)
	var once sync.Once
	return func() {
		once.Do(func() {
			// Closing the channel lets the console print what is still buffered.
			unsubscribe()
			select {
			case <-done:
			case <-time.After(consoleDrainTimeout):
				logger.Debug("Console did not drain in time.")
			}
			cancel()
		})
	}
}

// taskReport is the JSON form of a finished run.
type taskReport struct {
	SessionID string            `json:"sessionId"`
	Success   bool              `json:"success"`
	Result    string            `json:"result,omitempty"`
	Error     string            `json:"error,omitempty"`
	Actions   []*schemas.Action `json:"actions"`
}

func report(ctx context.Context, res *schemas.ExecuteResult, sessionID string, asJSON bool, out io.Writer) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(taskReport{
			SessionID: sessionID,
			Success:   res.Success,
			Result:    res.Result,
			Error:     res.Error,
			Actions:   res.Actions,
		}); err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
	} else {
		fmt.Fprintf(out, "\n%s\n", res.Result)
		if !res.Success && res.Error != "" {
			fmt.Fprintf(out, "Error: %s\n", res.Error)
		}
		fmt.Fprintf(out, "Session: %s (resume with `webpilot resume %s`)\n", sessionID, sessionID)
	}

	if res.Success {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return errTaskFailed
}

// normalizeURL defaults a bare host to https.
func normalizeURL(u string) string {
	if strings.Contains(u, "://") || strings.HasPrefix(u, "about:") {
		return u
	}
	return "https://" + u
}
