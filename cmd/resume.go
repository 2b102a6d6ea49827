// File: cmd/resume.go
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/config"
	"github.com/xkilldash9x/webpilot/internal/observability"
	"github.com/xkilldash9x/webpilot/internal/service"
)

// resumeTarget selects which checkpoint a resume starts from. At most one
// field is set; none means the latest checkpoint.
type resumeTarget struct {
	CheckpointID string
	Step         int
	LatestManual bool
}

func (t resumeTarget) validate() error {
	set := 0
	if t.CheckpointID != "" {
		set++
	}
	if t.Step >= 0 {
		set++
	}
	if t.LatestManual {
		set++
	}
	if set > 1 {
		return errors.New("--checkpoint, --step and --manual are mutually exclusive")
	}
	return nil
}

// newResumeCmd creates and configures the `resume` command.
func newResumeCmd() *cobra.Command {
	var (
		opts   taskOptions
		target resumeTarget
	)
	resumeCmd := &cobra.Command{
		Use:   "resume <session-id>",
		Short: "Continues a task from one of its checkpoints",
		Long: `Restores a checkpoint of the session and continues the task from there.
By default the most recent checkpoint is used. A task that was running a plan
continues at the step that was in progress.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := target.validate(); err != nil {
				return err
			}
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			opts.Params.SessionID = args[0]
			return resumeTask(ctx, observability.GetLogger(), cfg, target, opts, service.NewComponentFactory(), cmdStreams(cmd))
		},
	}

	resumeCmd.Flags().StringVar(&target.CheckpointID, "checkpoint", "", "Checkpoint id to restore")
	resumeCmd.Flags().IntVar(&target.Step, "step", -1, "Restore the closest checkpoint at or before this iteration")
	resumeCmd.Flags().BoolVar(&target.LatestManual, "manual", false, "Restore the most recent named checkpoint, skipping auto-saves")
	resumeCmd.Flags().BoolVarP(&opts.AutoConfirm, "yes", "y", false, "Confirm every dangerous action without asking")
	resumeCmd.Flags().BoolVar(&opts.JSON, "json", false, "Print the result as JSON")
	return resumeCmd
}

// resumeTask restores the selected checkpoint and continues the task.
func resumeTask(
	ctx context.Context,
	logger *zap.Logger,
	cfg config.Interface,
	target resumeTarget,
	opts taskOptions,
	factory service.ComponentFactory,
	term streams,
) error {
	logger.Info("Resuming task", zap.String("session_id", opts.Params.SessionID))

	components, err := factory.Create(ctx, cfg, opts.Params, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}
	defer components.Shutdown()

	cp := components.Checkpoints
	if len(cp.ListCheckpoints(ctx)) == 0 {
		if cp.LoadState(ctx) == nil {
			// Binding created the session; do not leave an empty one behind.
			if err := components.Store.Delete(ctx, cp.SessionID()); err != nil {
				logger.Debug("Failed to remove empty session.", zap.Error(err))
			}
		}
		return fmt.Errorf("session %s has no checkpoints", opts.Params.SessionID)
	}

	stopWatching := attachConsole(ctx, components, opts, term, logger)
	defer stopWatching()

	var state *schemas.ControllerState
	switch {
	case target.CheckpointID != "":
		state = cp.RestoreCheckpoint(ctx, target.CheckpointID)
	case target.Step >= 0:
		state = cp.RestoreToStep(ctx, target.Step)
	case target.LatestManual:
		state = cp.RestoreLatestManual(ctx)
	default:
		state = cp.RestoreLatest(ctx)
	}
	if state == nil {
		return errors.New("no matching checkpoint")
	}

	res := components.Planner.ResumeState(ctx, state)
	stopWatching()
	return report(ctx, res, cp.SessionID(), opts.JSON, term.out)
}
